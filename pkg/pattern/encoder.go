package pattern

import (
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	"gonum.org/v1/gonum/floats"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

const (
	textDims     = 32
	temporalDims = 4
	historyTurns = 4
	historyDims  = historyTurns * 2
)

// BlockWeights sets the share of each block in the cosine between two
// pattern embeddings. Each block is unit-normalized and scaled by the square
// root of its weight, so block similarities add up weighted.
type BlockWeights struct {
	Acoustic float64
	Text     float64
	Temporal float64
	History  float64
}

func DefaultBlockWeights() BlockWeights {
	return BlockWeights{Acoustic: 0.6, Text: 0.2, Temporal: 0.1, History: 0.1}
}

// Encoder builds the semantic embedding of a frame in its conversational
// context.
type Encoder struct {
	weights BlockWeights
}

func NewEncoder(w BlockWeights) *Encoder {
	return &Encoder{weights: w}
}

// Dimension is the length of encoded vectors.
func (e *Encoder) Dimension() int {
	return features.ArrayLen + textDims + temporalDims + historyDims
}

func (e *Encoder) Encode(in speaker.Input) []float64 {
	out := make([]float64, 0, e.Dimension())

	var acoustic []float64
	if in.Features != nil {
		acoustic = in.Features.Centered()
	} else {
		acoustic = make([]float64, features.ArrayLen)
	}
	out = appendBlock(out, acoustic, e.weights.Acoustic)
	out = appendBlock(out, encodeText(in.Context), e.weights.Text)
	out = appendBlock(out, encodeTime(in.At), e.weights.Temporal)
	out = appendBlock(out, encodeTurns(in.Turns), e.weights.History)
	return out
}

func appendBlock(dst, block []float64, weight float64) []float64 {
	norm := 0.0
	for _, v := range block {
		norm += v * v
	}
	scale := 0.0
	if norm > 0 && weight > 0 {
		scale = math.Sqrt(weight) / math.Sqrt(norm)
	}
	for _, v := range block {
		dst = append(dst, v*scale)
	}
	return dst
}

// Tokens splits text into lowercase words.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func encodeText(text string) []float64 {
	block := make([]float64, textDims)
	for _, tok := range Tokens(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		block[h.Sum32()%textDims]++
	}
	return block
}

func encodeTime(at time.Time) []float64 {
	if at.IsZero() {
		return make([]float64, temporalDims)
	}
	hour := float64(at.Hour()) + float64(at.Minute())/60
	day := float64(at.Weekday())
	return []float64{
		math.Sin(2 * math.Pi * hour / 24),
		math.Cos(2 * math.Pi * hour / 24),
		math.Sin(2 * math.Pi * day / 7),
		math.Cos(2 * math.Pi * day / 7),
	}
}

// encodeTurns one-hot encodes the last turns, newest in the first slot.
func encodeTurns(turns []speaker.Turn) []float64 {
	block := make([]float64, historyDims)
	for i := 0; i < historyTurns && i < len(turns); i++ {
		t := turns[len(turns)-1-i]
		if idx := t.Speaker.Index(); idx >= 0 {
			block[i*2+idx] = 1
		}
	}
	return block
}

// Jaccard is the token-set overlap of two texts.
func Jaccard(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	union := len(set)
	inter := 0
	seen := make(map[string]bool, len(tb))
	for _, t := range tb {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
