package features

import (
	"time"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
)

type VADEventType string

const (
	VADSpeechStart VADEventType = "SPEECH_START"
	VADSpeechEnd   VADEventType = "SPEECH_END"
	VADSilence     VADEventType = "SILENCE"
)

type VADEvent struct {
	Type      VADEventType
	Timestamp time.Time
}

// VAD tracks speech onsets and offsets across consecutive frames.
// A frame is active when its RMS exceeds the threshold or the per-window
// gate reported it voiced.
type VAD struct {
	threshold    float64
	silenceLimit time.Duration
	isSpeaking   bool
	silenceStart time.Time

	// Hysteresis: frames above threshold needed before speech starts
	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64
}

// NewVAD creates a new VAD
func NewVAD(threshold float64, silenceLimit time.Duration) *VAD {
	return &VAD{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 2,
	}
}

// SetMinConfirmed sets the number of consecutive frames needed to confirm speech start
func (v *VAD) SetMinConfirmed(count int) {
	v.minConfirmed = count
}

// Threshold returns the current RMS threshold
func (v *VAD) Threshold() float64 {
	return v.threshold
}

// LastRMS returns the RMS of the last processed frame
func (v *VAD) LastRMS() float64 {
	return v.lastRMS
}

// IsSpeaking returns true if speech is currently detected
func (v *VAD) IsSpeaking() bool {
	return v.isSpeaking
}

// Process feeds one frame. voiced is the gate verdict for the frame, if known.
func (v *VAD) Process(frame audio.Frame, voiced bool) *VADEvent {
	rms := audio.RMS(frame.Samples)
	v.lastRMS = rms
	now := frame.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	if voiced || rms > v.threshold {
		v.consecutiveFrames++
		if !v.isSpeaking {
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				v.silenceStart = time.Time{}
				return &VADEvent{Type: VADSpeechStart, Timestamp: now}
			}
			return nil
		}
		v.silenceStart = time.Time{}
		return nil
	}

	v.consecutiveFrames = 0

	if v.isSpeaking {
		if v.silenceStart.IsZero() {
			v.silenceStart = now
		}
		if now.Sub(v.silenceStart) >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceStart = time.Time{}
			return &VADEvent{Type: VADSpeechEnd, Timestamp: now}
		}
		return nil
	}

	return &VADEvent{Type: VADSilence, Timestamp: now}
}

func (v *VAD) Reset() {
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	v.consecutiveFrames = 0
}

// Clone returns a fresh VAD with the same settings.
func (v *VAD) Clone() *VAD {
	return &VAD{
		threshold:    v.threshold,
		silenceLimit: v.silenceLimit,
		minConfirmed: v.minConfirmed,
	}
}
