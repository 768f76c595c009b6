// Package diarization decides which of two participants is speaking by
// fusing the heuristic, embedding and pattern estimators, and adapts the
// fusion weights from corrective feedback.
package diarization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/embedding"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/enrollment"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/heuristic"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/pattern"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/profilestore"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

// Option customizes an Engine at construction.
type Option func(*Engine)

func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces the time source used for frames without timestamps,
// profile ages and enrollment sessions.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithProfileStore loads the owner's profiles at construction and saves
// profiles produced by enrollment.
func WithProfileStore(store profilestore.Store, owner string) Option {
	return func(e *Engine) {
		e.store = store
		e.owner = owner
	}
}

// WithEmbeddingModel replaces the default projection model.
func WithEmbeddingModel(model embedding.Model) Option {
	return func(e *Engine) {
		if model != nil {
			e.model = model
		}
	}
}

// WithEstimator replaces one of the built-in estimators.
func WithEstimator(m Method, est speaker.Estimator) Option {
	return func(e *Engine) {
		if m < 0 || m >= NumMethods || est == nil {
			return
		}
		e.estimators[m] = est
	}
}

// record is what the engine remembers about a recent detection so that
// feedback can be attributed to the methods that voted.
type record struct {
	input  speaker.Input
	votes  [NumMethods]speaker.Vote
	status [NumMethods]ContributionStatus
}

type counters struct {
	detections, undetermined, feedback, corrections int
}

// Engine is one conversation's diarization state. It owns the estimators,
// the enrollment workflow and the adaptive fusion weights.
type Engine struct {
	cfg        Config
	logger     Logger
	clock      func() time.Time
	extractor  *features.Extractor
	model      embedding.Model
	estimators [NumMethods]speaker.Estimator
	enroll     *enrollment.Manager
	store      profilestore.Store
	owner      string

	// cycle serializes detection and feedback, the only writers of
	// learned state.
	cycle sync.Mutex

	mu         sync.RWMutex
	state      State
	weights    Weights
	enabled    [NumMethods]bool
	outcomes   [NumMethods]*outcomeWindow
	profiles   speaker.Pair[*speaker.Profile]
	turns      []speaker.Turn
	lastVoiced time.Time
	records    map[int64]*record
	order      []int64
	count      counters
}

// New creates an engine with the default logger.
func New(cfg Config, opts ...Option) *Engine {
	return NewWithLogger(cfg, &NoOpLogger{}, opts...)
}

// NewWithLogger creates an engine with a custom logger.
// If logger is nil, a no-op logger is used.
func NewWithLogger(cfg Config, logger Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		clock:     time.Now,
		extractor: features.NewExtractor(cfg.Features),
		state:     StateIdle,
		weights:   cfg.InitialWeights.Normalized(0),
		records:   make(map[int64]*record),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.model == nil {
		e.model = embedding.NewProjectionModel(embedding.DefaultDimension, cfg.EmbeddingSeed)
	}
	if e.estimators[MethodHeuristic] == nil {
		e.estimators[MethodHeuristic] = heuristic.New(cfg.Heuristic)
	}
	if e.estimators[MethodEmbedding] == nil {
		est := embedding.New(cfg.Embedding, e.model)
		est.SetClock(e.clock)
		e.estimators[MethodEmbedding] = est
	}
	if e.estimators[MethodPattern] == nil {
		est := pattern.New(cfg.Pattern)
		est.SetClock(e.clock)
		e.estimators[MethodPattern] = est
	}
	for m := range e.enabled {
		e.enabled[m] = true
		e.outcomes[m] = newOutcomeWindow(cfg.AccuracyWindow)
	}
	e.enroll = enrollment.NewManager(cfg.Enrollment, e.extractor, e.model)
	e.enroll.SetClock(e.clock)

	if e.store != nil {
		if err := e.LoadProfiles(context.Background()); err != nil {
			e.logger.Warn("failed to load stored profiles", "owner", e.owner, "error", err)
		}
	}
	return e
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Weights returns the current fusion weights.
func (e *Engine) Weights() Weights {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weights
}

// Estimator returns the estimator behind a method.
func (e *Engine) Estimator(m Method) (speaker.Estimator, error) {
	if m < 0 || m >= NumMethods {
		return nil, ErrUnknownMethod
	}
	return e.estimators[m], nil
}

// Turns returns the recent turn history, oldest first.
func (e *Engine) Turns() []speaker.Turn {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]speaker.Turn(nil), e.turns...)
}

func (e *Engine) frameTime(frame audio.Frame) time.Time {
	if !frame.Timestamp.IsZero() {
		return frame.Timestamp
	}
	return e.clock()
}

func (e *Engine) input(fv *features.Vector, text string, at time.Time) speaker.Input {
	e.mu.RLock()
	defer e.mu.RUnlock()
	in := speaker.Input{
		Features: fv,
		Context:  text,
		At:       at,
		Turns:    append([]speaker.Turn(nil), e.turns...),
	}
	if !e.lastVoiced.IsZero() && at.After(e.lastVoiced) {
		in.SinceLast = at.Sub(e.lastVoiced)
	}
	return in
}

// Detect decides who is speaking in one frame. Errors are returned only for
// invalid frames or a cancelled context; estimator failures and missing
// consensus produce an undetermined result instead. Learned state (estimator
// observations, turns, the feedback cache) changes only when a result is
// returned.
func (e *Engine) Detect(ctx context.Context, frame audio.Frame, text string) (DetectionResult, error) {
	if !frame.Valid() {
		return DetectionResult{}, ErrInvalidFrame
	}
	if err := ctx.Err(); err != nil {
		return DetectionResult{}, err
	}

	e.cycle.Lock()
	defer e.cycle.Unlock()

	at := e.frameTime(frame)
	e.setState(StateDetecting)

	fv, err := e.extractor.Extract(frame)
	if errors.Is(err, features.ErrNoVoice) {
		e.mu.Lock()
		e.count.detections++
		e.count.undetermined++
		e.mu.Unlock()
		return DetectionResult{
			Speaker:   speaker.Undetermined,
			Reasoning: "no voice activity",
			Timestamp: at,
		}, nil
	}
	if err != nil {
		return DetectionResult{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	in := e.input(fv, text, at)

	e.mu.RLock()
	include := e.enabled
	weights := e.weights
	e.mu.RUnlock()

	rec := &record{input: in}
	latencies := e.runEstimators(ctx, in, include, rec)
	if err := ctx.Err(); err != nil {
		return DetectionResult{}, err
	}

	res := e.fuse(in, rec, weights, latencies)
	res.Features = fv

	// a result past the caller's deadline is not committed
	if err := ctx.Err(); err != nil {
		return DetectionResult{}, err
	}
	for _, est := range e.estimators {
		est.Observe(in, res.Speaker, res.Confidence)
	}

	end := at.Add(frame.Duration())
	e.mu.Lock()
	e.count.detections++
	if !res.Speaker.IsParty() {
		e.count.undetermined++
	}
	e.trackTurn(res.Speaker, at, end)
	e.remember(at, rec)
	e.mu.Unlock()

	e.logger.Debug("frame classified", "speaker", res.Speaker, "confidence", res.Confidence)
	return res, nil
}

type outcome struct {
	method  Method
	vote    speaker.Vote
	err     error
	latency time.Duration
}

// runEstimators runs the included estimators concurrently, each under its
// own deadline, and fills rec with their votes and statuses. Estimators
// that miss the budget are marked timed out and left running; their result
// lands in a buffered channel nobody reads.
func (e *Engine) runEstimators(ctx context.Context, in speaker.Input, include [NumMethods]bool, rec *record) [NumMethods]time.Duration {
	var latencies [NumMethods]time.Duration
	results := make(chan outcome, NumMethods)
	pending := make(map[Method]bool, NumMethods)

	for i, est := range e.estimators {
		m := Method(i)
		if !include[m] {
			rec.status[m] = StatusDisabled
			continue
		}
		pending[m] = true
		go func(m Method, est speaker.Estimator) {
			tctx, cancel := context.WithTimeout(ctx, e.cfg.EstimatorBudget)
			defer cancel()
			start := time.Now()
			vote, err := est.Estimate(tctx, in)
			if err == nil && tctx.Err() != nil {
				err = tctx.Err()
			}
			results <- outcome{method: m, vote: vote, err: err, latency: time.Since(start)}
		}(m, est)
	}

	timer := time.NewTimer(e.cfg.EstimatorBudget)
	defer timer.Stop()

wait:
	for len(pending) > 0 {
		select {
		case o := <-results:
			delete(pending, o.method)
			latencies[o.method] = o.latency
			rec.votes[o.method] = o.vote
			rec.status[o.method] = e.classify(o)
		case <-timer.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}
	for m := range pending {
		rec.status[m] = StatusTimeout
		latencies[m] = e.cfg.EstimatorBudget
		e.logger.Warn("estimator missed its budget", "method", m, "budget", e.cfg.EstimatorBudget)
	}
	return latencies
}

func (e *Engine) classify(o outcome) ContributionStatus {
	switch {
	case errors.Is(o.err, context.DeadlineExceeded), errors.Is(o.err, context.Canceled):
		e.logger.Warn("estimator timed out", "method", o.method, "latency", o.latency)
		return StatusTimeout
	case o.err != nil:
		e.logger.Warn("estimator failed", "method", o.method, "error", o.err)
		return StatusFailed
	case !o.vote.Speaker.IsParty() || o.vote.Confidence < e.cfg.MinMethodConfidence:
		return StatusAbstain
	}
	return StatusOK
}

// fuse combines the votes: each speaker scores the weighted mean confidence
// of its voters over the total weight of all voters.
func (e *Engine) fuse(in speaker.Input, rec *record, weights Weights, latencies [NumMethods]time.Duration) DetectionResult {
	res := DetectionResult{Timestamp: in.At, Voiced: true}

	var (
		scores speaker.Pair[float64]
		total  float64
		notes  []string
	)
	for i := range rec.votes {
		m := Method(i)
		v := rec.votes[m]
		c := Contribution{
			Method:    m,
			Status:    rec.status[m],
			Weight:    weights[m],
			Latency:   latencies[m],
			Reasoning: v.Reasoning,
		}
		if c.Status == StatusOK || c.Status == StatusAbstain {
			c.Speaker = v.Speaker
			c.Confidence = speaker.Clamp01(v.Confidence)
		}
		res.Contributions = append(res.Contributions, c)

		if c.Voted() {
			scores.Set(c.Speaker, scores.Get(c.Speaker)+c.Weight*c.Confidence)
			total += c.Weight
			notes = append(notes, fmt.Sprintf("%s=%s(%.2f)", m, c.Speaker, c.Confidence))
		} else {
			notes = append(notes, fmt.Sprintf("%s=%s", m, c.Status))
		}
	}

	if total <= 0 {
		res.Speaker = speaker.Undetermined
		res.Reasoning = "no estimator reached a decision: " + strings.Join(notes, ", ")
		return res
	}
	for i := range scores {
		scores[i] /= total
	}

	if last, ok := in.LastTurn(); ok && last.Speaker.IsParty() {
		if in.SinceLast >= e.cfg.TurnGap {
			scores.Set(last.Speaker.Other(), scores.Get(last.Speaker.Other())+e.cfg.TurnBonus)
			notes = append(notes, "turn boundary")
		} else {
			scores.Set(last.Speaker, scores.Get(last.Speaker)+e.cfg.RecencyBonus)
			notes = append(notes, "same turn")
		}
	}

	if scores[0] == scores[1] {
		res.Speaker = speaker.Undetermined
		res.Reasoning = "no consensus, tied scores: " + strings.Join(notes, ", ")
		return res
	}
	winner := speaker.A
	if scores[1] > scores[0] {
		winner = speaker.B
	}
	conf := speaker.Clamp01(scores.Get(winner))
	if conf < e.cfg.MinEnsembleConfidence {
		res.Speaker = speaker.Undetermined
		res.Reasoning = fmt.Sprintf("no consensus, best %s at %.2f: %s", winner, conf, strings.Join(notes, ", "))
		return res
	}
	res.Speaker = winner
	res.Confidence = conf
	res.Reasoning = strings.Join(notes, ", ")
	return res
}

// trackTurn extends the current turn or opens a new one. Caller holds mu.
func (e *Engine) trackTurn(s speaker.Speaker, at, end time.Time) {
	e.lastVoiced = end
	if !s.IsParty() {
		return
	}
	if n := len(e.turns); n > 0 {
		last := &e.turns[n-1]
		if last.Speaker == s && at.Sub(last.End) < e.cfg.TurnGap {
			last.End = end
			return
		}
	}
	e.turns = append(e.turns, speaker.Turn{Speaker: s, Start: at, End: end})
	if over := len(e.turns) - max(e.cfg.MaxTurns, 1); over > 0 {
		e.turns = append([]speaker.Turn(nil), e.turns[over:]...)
	}
}

// remember caches a detection record keyed by frame time. Caller holds mu.
func (e *Engine) remember(at time.Time, rec *record) {
	key := at.UnixNano()
	if _, ok := e.records[key]; !ok {
		e.order = append(e.order, key)
	}
	e.records[key] = rec
	for len(e.order) > max(e.cfg.RecordCacheSize, 1) {
		delete(e.records, e.order[0])
		e.order = e.order[1:]
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Stats returns per-method learning state and detection counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Stats{
		State:        e.state,
		Detections:   e.count.detections,
		Undetermined: e.count.undetermined,
		Feedback:     e.count.feedback,
		Corrections:  e.count.corrections,
	}
	for i := range st.Methods {
		st.Methods[i] = MethodStats{
			Method:       Method(i),
			Weight:       e.weights[i],
			Enabled:      e.enabled[i],
			Accuracy:     e.outcomes[i].accuracy(),
			Observations: e.outcomes[i].len(),
		}
	}
	return st
}

// Reset returns the engine to Idle and forgets everything learned in the
// conversation. Enrolled profiles are kept.
func (e *Engine) Reset() {
	e.cycle.Lock()
	defer e.cycle.Unlock()

	for _, est := range e.estimators {
		est.Reset()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateIdle
	e.weights = e.cfg.InitialWeights.Normalized(0)
	for m := range e.enabled {
		e.enabled[m] = true
		e.outcomes[m] = newOutcomeWindow(e.cfg.AccuracyWindow)
	}
	e.turns = nil
	e.lastVoiced = time.Time{}
	e.records = make(map[int64]*record)
	e.order = nil
	e.count = counters{}
	e.logger.Info("engine reset")
}
