package diarization

import (
	"fmt"
	"time"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/embedding"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/enrollment"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/heuristic"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/pattern"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// Method identifies one estimator in the ensemble.
type Method int

const (
	MethodHeuristic Method = iota
	MethodEmbedding
	MethodPattern

	NumMethods
)

var methodNames = [NumMethods]string{"heuristic", "embedding", "pattern"}

func (m Method) String() string {
	if m < 0 || m >= NumMethods {
		return fmt.Sprintf("method(%d)", int(m))
	}
	return methodNames[m]
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(b []byte) error {
	v, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMethod resolves a method by name.
func ParseMethod(name string) (Method, error) {
	for i, n := range methodNames {
		if n == name {
			return Method(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}

// Weights holds one fusion weight per method and always sums to 1.
type Weights [NumMethods]float64

func DefaultWeights() Weights {
	return Weights{0.3, 0.4, 0.3}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// Normalized rescales the weights to sum to 1 with none below floor. Weights
// that would land under the floor are pinned to it and the rest share the
// remainder in proportion. NaN counts as zero.
func (w Weights) Normalized(floor float64) Weights {
	uniform := Weights{1.0 / 3, 1.0 / 3, 1.0 / 3}
	if floor < 0 {
		floor = 0
	}
	if floor*float64(NumMethods) >= 1 {
		return uniform
	}
	for i := range w {
		if w[i] < 0 || w[i] != w[i] {
			w[i] = 0
		}
	}
	if w.Sum() <= 0 {
		return uniform
	}

	var pinned [NumMethods]bool
	for {
		free, rest := 0.0, 1.0
		for i := range w {
			if pinned[i] {
				rest -= floor
			} else {
				free += w[i]
			}
		}
		changed := false
		for i := range w {
			if pinned[i] {
				continue
			}
			if free <= 0 || w[i]*rest/free < floor {
				pinned[i] = true
				changed = true
			}
		}
		if !changed {
			var out Weights
			for i := range w {
				out[i] = floor
				if !pinned[i] {
					out[i] = w[i] * rest / free
				}
			}
			return out
		}
	}
}

type ContributionStatus string

const (
	StatusOK       ContributionStatus = "ok"
	StatusAbstain  ContributionStatus = "abstain"
	StatusTimeout  ContributionStatus = "timeout"
	StatusFailed   ContributionStatus = "failed"
	StatusDisabled ContributionStatus = "disabled"
)

// Contribution is what one method added to a detection.
type Contribution struct {
	Method     Method             `json:"method"`
	Status     ContributionStatus `json:"status"`
	Speaker    speaker.Speaker    `json:"speaker"`
	Confidence float64            `json:"confidence"`
	Weight     float64            `json:"weight"`
	Reasoning  string             `json:"reasoning,omitempty"`
	Latency    time.Duration      `json:"latency"`
}

// Voted reports whether the contribution took part in fusion.
func (c Contribution) Voted() bool {
	return c.Status == StatusOK
}

// DetectionResult is the fused verdict for one frame.
type DetectionResult struct {
	Speaker       speaker.Speaker `json:"speaker"`
	Confidence    float64         `json:"confidence"`
	Contributions []Contribution  `json:"contributions"`
	Reasoning     string          `json:"reasoning"`
	Timestamp     time.Time       `json:"timestamp"`
	Voiced        bool            `json:"voiced"`

	Features *features.Vector `json:"-"`
}

// Contribution returns the entry for one method, if present.
func (r DetectionResult) Contribution(m Method) (Contribution, bool) {
	for _, c := range r.Contributions {
		if c.Method == m {
			return c, true
		}
	}
	return Contribution{}, false
}

type State string

const (
	StateIdle            State = "idle"
	StateDetecting       State = "detecting"
	StateFeedbackApplied State = "feedback_applied"
)

type Config struct {
	// EstimatorBudget bounds each estimator call.
	EstimatorBudget time.Duration

	// MinMethodConfidence drops votes below it from fusion.
	MinMethodConfidence float64

	// MinEnsembleConfidence is the fused confidence below which the frame
	// is reported undetermined.
	MinEnsembleConfidence float64

	// TurnGap is the pause that ends a turn.
	TurnGap      time.Duration
	TurnBonus    float64
	RecencyBonus float64
	MaxTurns     int

	InitialWeights Weights
	LearningRate   float64
	WeightFloor    float64

	// AccuracyWindow is how many recent feedback outcomes count toward a
	// method's accuracy.
	AccuracyWindow  int
	MinObservations int
	DisableBelow    float64
	ReenableAbove   float64

	// RecordCacheSize is how many recent detections are kept for feedback.
	RecordCacheSize int

	Policy     speaker.RecalibrationPolicy
	Features   features.Config
	Enrollment enrollment.Config
	Heuristic  heuristic.Config
	Embedding  embedding.Config
	Pattern    pattern.Config

	// EmbeddingSeed seeds the default projection model.
	EmbeddingSeed uint64

	// Stream settings used by NewManagedStream.
	CycleBudget     time.Duration
	VADThreshold    float64
	VADSilenceLimit time.Duration
}

func DefaultConfig() Config {
	return Config{
		EstimatorBudget:       150 * time.Millisecond,
		MinMethodConfidence:   0.2,
		MinEnsembleConfidence: 0.35,
		TurnGap:               700 * time.Millisecond,
		TurnBonus:             0.05,
		RecencyBonus:          0.05,
		MaxTurns:              8,
		InitialWeights:        DefaultWeights(),
		LearningRate:          0.1,
		WeightFloor:           0.05,
		AccuracyWindow:        20,
		MinObservations:       10,
		DisableBelow:          0.3,
		ReenableAbove:         0.5,
		RecordCacheSize:       32,
		Policy:                speaker.DefaultRecalibrationPolicy(),
		Features:              features.DefaultConfig(),
		Enrollment:            enrollment.DefaultConfig(),
		Heuristic:             heuristic.DefaultConfig(),
		Embedding:             embedding.DefaultConfig(),
		Pattern:               pattern.DefaultConfig(),
		CycleBudget:           300 * time.Millisecond,
		VADThreshold:          0.02,
		VADSilenceLimit:       500 * time.Millisecond,
	}
}

// SpeakerStatus is the calibration state of one participant.
type SpeakerStatus struct {
	IsCalibrated       bool      `json:"is_calibrated"`
	NeedsRecalibration bool      `json:"needs_recalibration"`
	SampleCount        int       `json:"sample_count"`
	Quality            float64   `json:"quality"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}

// CalibrationStatus reports whether both participants are enrolled.
type CalibrationStatus struct {
	Speakers      speaker.Pair[SpeakerStatus] `json:"speakers"`
	IsReady       bool                        `json:"is_ready"`
	ActiveSession string                      `json:"active_session,omitempty"`
}

// MethodStats is the learning state of one method.
type MethodStats struct {
	Method       Method  `json:"method"`
	Weight       float64 `json:"weight"`
	Enabled      bool    `json:"enabled"`
	Accuracy     float64 `json:"accuracy"`
	Observations int     `json:"observations"`
}

// Stats summarizes the engine since construction or the last Reset.
type Stats struct {
	State        State                   `json:"state"`
	Methods      [NumMethods]MethodStats `json:"methods"`
	Detections   int                     `json:"detections"`
	Undetermined int                     `json:"undetermined"`
	Feedback     int                     `json:"feedback"`
	Corrections  int                     `json:"corrections"`
}
