package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrNotWav is returned when the input does not start with a RIFF/WAVE header
	ErrNotWav = errors.New("audio: not a RIFF/WAVE stream")

	// ErrUnsupportedWav is returned for WAV encodings other than 16-bit PCM
	ErrUnsupportedWav = errors.New("audio: only 16-bit PCM wav is supported")
)

// NewWavBuffer wraps mono 16-bit little-endian PCM in a canonical 44-byte WAV header.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))            // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1))            // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWav parses a 16-bit PCM WAV file and returns its samples as a Frame.
// Multi-channel input is downmixed to mono by averaging channels.
func DecodeWav(data []byte) (Frame, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Frame{}, ErrNotWav
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		pcm           []byte
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Frame{}, fmt.Errorf("%w: short fmt chunk", ErrNotWav)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format != 1 || bitsPerSample != 16 {
				return Frame{}, ErrUnsupportedWav
			}
		case "data":
			pcm = data[body:end]
		}

		// chunks are word aligned
		off = body + size + size%2
	}

	if sampleRate == 0 || channels == 0 {
		return Frame{}, fmt.Errorf("%w: missing fmt chunk", ErrNotWav)
	}

	samples := BytesToSamples(pcm)
	if channels > 1 {
		mono := make([]float64, len(samples)/channels)
		for i := range mono {
			sum := 0.0
			for c := 0; c < channels; c++ {
				sum += samples[i*channels+c]
			}
			mono[i] = sum / float64(channels)
		}
		samples = mono
	}

	return Frame{Samples: samples, SampleRate: sampleRate}, nil
}
