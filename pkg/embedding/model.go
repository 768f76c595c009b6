// Package embedding scores frames against learned speaker embeddings and
// enrolled biometric profiles.
package embedding

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
)

// DefaultDimension is the embedding size produced by ProjectionModel.
const DefaultDimension = 256

// ErrNilFeatures is returned when a model is asked to embed nothing.
var ErrNilFeatures = errors.New("embedding: nil feature vector")

// Model maps a feature vector to an L2-normalized embedding.
//
// The shipped ProjectionModel has no trained parameters; a learned speaker
// encoder can replace it without touching fusion logic.
type Model interface {
	Name() string
	Dimension() int
	Embed(v *features.Vector) ([]float32, error)
}

// ProjectionModel is a deterministic Gaussian random projection of the
// centred feature array followed by L2 normalization.
type ProjectionModel struct {
	dim  int
	rows [][]float32 // dim × features.ArrayLen
}

// NewProjectionModel builds a projection with the given output dimension.
// The seed fixes the projection so embeddings stay comparable across
// restarts; profiles enrolled under one seed only match the same seed.
func NewProjectionModel(dim int, seed uint64) *ProjectionModel {
	if dim <= 0 {
		dim = DefaultDimension
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	scale := 1 / math.Sqrt(float64(dim))
	rows := make([][]float32, dim)
	for i := range rows {
		row := make([]float32, features.ArrayLen)
		for j := range row {
			row[j] = float32(rng.NormFloat64() * scale)
		}
		rows[i] = row
	}
	return &ProjectionModel{dim: dim, rows: rows}
}

func (m *ProjectionModel) Name() string {
	return "projection"
}

func (m *ProjectionModel) Dimension() int {
	return m.dim
}

func (m *ProjectionModel) Embed(v *features.Vector) ([]float32, error) {
	if v == nil {
		return nil, ErrNilFeatures
	}
	x := v.Centered()

	out := make([]float32, m.dim)
	for i, row := range m.rows {
		sum := 0.0
		for j, w := range row {
			sum += float64(w) * x[j]
		}
		out[i] = float32(sum)
	}
	Normalize(out)
	return out, nil
}
