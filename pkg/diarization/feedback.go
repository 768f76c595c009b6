package diarization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

// outcomeWindow keeps the most recent right/wrong outcomes of one method.
type outcomeWindow struct {
	hits []bool
	next int
	full bool
}

func newOutcomeWindow(size int) *outcomeWindow {
	return &outcomeWindow{hits: make([]bool, max(size, 1))}
}

func (w *outcomeWindow) add(hit bool) {
	w.hits[w.next] = hit
	w.next = (w.next + 1) % len(w.hits)
	if w.next == 0 {
		w.full = true
	}
}

func (w *outcomeWindow) len() int {
	if w.full {
		return len(w.hits)
	}
	return w.next
}

func (w *outcomeWindow) accuracy() float64 {
	n := w.len()
	if n == 0 {
		return 0
	}
	right := 0
	for _, h := range w.hits[:n] {
		if h {
			right++
		}
	}
	return float64(right) / float64(n)
}

// ProvideFeedback tells the engine who actually spoke in a frame. The
// frame is matched to a recent detection by its timestamp; methods that did
// not vote then are evaluated now so their accuracy keeps being tracked.
// Weights, enabled methods and every estimator learn from the correction.
func (e *Engine) ProvideFeedback(ctx context.Context, frame audio.Frame, predicted, actual speaker.Speaker, text string) error {
	if !actual.IsParty() {
		return ErrInvalidLabel
	}
	if !frame.Valid() {
		return ErrInvalidFrame
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.cycle.Lock()
	defer e.cycle.Unlock()

	at := e.frameTime(frame)

	e.mu.RLock()
	rec, cached := e.records[at.UnixNano()]
	e.mu.RUnlock()

	var shadow [NumMethods]bool
	if cached {
		for m, st := range rec.status {
			shadow[m] = st == StatusDisabled
		}
	} else {
		fv, err := e.extractor.Extract(frame)
		if err != nil {
			if errors.Is(err, features.ErrNoVoice) {
				return fmt.Errorf("feedback frame: %w", err)
			}
			return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		rec = &record{input: e.input(fv, text, at)}
		for m := range shadow {
			shadow[m] = true
		}
	}

	if anySet(shadow) {
		var fresh record
		e.runEstimators(ctx, rec.input, shadow, &fresh)
		if err := ctx.Err(); err != nil {
			return err
		}
		for m, on := range shadow {
			if on {
				rec.votes[m] = fresh.votes[m]
				rec.status[m] = fresh.status[m]
			}
		}
	}

	e.mu.Lock()
	for m, st := range rec.status {
		if st == StatusOK {
			e.outcomes[m].add(rec.votes[m].Speaker == actual)
		}
	}
	e.adaptWeights()
	e.updateEnabled()
	e.relabelTurn(at, actual)
	e.count.feedback++
	if predicted != actual {
		e.count.corrections++
	}
	e.state = StateFeedbackApplied
	weights := e.weights
	e.mu.Unlock()

	for m, est := range e.estimators {
		if l, ok := est.(speaker.FeedbackLearner); ok {
			l.Learn(rec.input, rec.votes[m], actual)
			continue
		}
		est.Observe(rec.input, actual, 1)
	}

	e.logger.Info("feedback applied",
		"predicted", predicted,
		"actual", actual,
		"heuristic", weights[MethodHeuristic],
		"embedding", weights[MethodEmbedding],
		"pattern", weights[MethodPattern])
	return nil
}

func anySet(flags [NumMethods]bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

// adaptWeights moves each observed method's weight toward its accuracy
// relative to the mean, then floors and renormalizes. Caller holds mu.
func (e *Engine) adaptWeights() {
	var (
		sum      float64
		observed int
		acc      [NumMethods]float64
		have     [NumMethods]bool
	)
	for m, w := range e.outcomes {
		if w.len() == 0 {
			continue
		}
		acc[m] = w.accuracy()
		have[m] = true
		sum += acc[m]
		observed++
	}
	if observed == 0 {
		return
	}
	mean := sum / float64(observed)
	next := e.weights
	for m := range next {
		if have[m] {
			next[m] += e.cfg.LearningRate * (acc[m] - mean)
		}
	}
	e.weights = next.Normalized(e.cfg.WeightFloor)
}

// updateEnabled disables methods that keep being wrong and brings them back
// once their shadow accuracy recovers. The last enabled method is never
// disabled. Caller holds mu.
func (e *Engine) updateEnabled() {
	enabled := 0
	for _, on := range e.enabled {
		if on {
			enabled++
		}
	}
	for i, w := range e.outcomes {
		m := Method(i)
		if w.len() < e.cfg.MinObservations {
			continue
		}
		acc := w.accuracy()
		switch {
		case e.enabled[m] && acc < e.cfg.DisableBelow && enabled > 1:
			e.enabled[m] = false
			enabled--
			e.logger.Warn("method disabled", "method", m, "accuracy", acc)
		case !e.enabled[m] && acc > e.cfg.ReenableAbove:
			e.enabled[m] = true
			enabled++
			e.logger.Info("method re-enabled", "method", m, "accuracy", acc)
		}
	}
}

// relabelTurn corrects the turn that started at the feedback frame.
// Caller holds mu.
func (e *Engine) relabelTurn(at time.Time, actual speaker.Speaker) {
	for i := len(e.turns) - 1; i >= 0; i-- {
		if e.turns[i].Start.Equal(at) {
			e.turns[i].Speaker = actual
			return
		}
	}
}

// Enabled reports whether a method currently takes part in fusion.
func (e *Engine) Enabled(m Method) bool {
	if m < 0 || m >= NumMethods {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled[m]
}
