package diarization

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/features"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

type EventType string

const (
	SpeakerDetected EventType = "speaker_detected"
	SpeakerChanged  EventType = "speaker_changed"
	SpeechStarted   EventType = "speech_started"
	SilenceDetected EventType = "silence"
	ErrorEvent      EventType = "error"
)

// StreamEvent is emitted by a ManagedStream.
type StreamEvent struct {
	Type      EventType        `json:"type"`
	Result    *DetectionResult `json:"result,omitempty"`
	Previous  speaker.Speaker  `json:"previous,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// StreamStats counts what happened to written frames.
type StreamStats struct {
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
	Discarded uint64 `json:"discarded"`
}

// ManagedStream runs detection asynchronously on written frames. Write never
// blocks the capture path: a frame arriving while a cycle is in flight is
// dropped, and a cycle that overruns its budget is discarded without
// touching learned state. Speech start and end come from a VAD driven by
// frame level and the voice-activity gate.
type ManagedStream struct {
	engine *Engine
	ctx    context.Context
	cancel context.CancelFunc
	events chan StreamEvent
	vad    *features.VAD
	wg     sync.WaitGroup

	mu   sync.Mutex
	text string
	last speaker.Speaker

	closeMu sync.RWMutex
	closed  bool

	inFlight  atomic.Bool
	processed atomic.Uint64
	dropped   atomic.Uint64
	discarded atomic.Uint64
}

// NewManagedStream creates a stream bound to the engine.
func (e *Engine) NewManagedStream(ctx context.Context) *ManagedStream {
	sCtx, cancel := context.WithCancel(ctx)
	vad := features.NewVAD(e.cfg.VADThreshold, e.cfg.VADSilenceLimit)
	vad.SetMinConfirmed(1)
	return &ManagedStream{
		engine: e,
		ctx:    sCtx,
		cancel: cancel,
		events: make(chan StreamEvent, 1024),
		vad:    vad,
	}
}

// SetContext sets the transcript text attached to subsequent frames.
func (ms *ManagedStream) SetContext(text string) {
	ms.mu.Lock()
	ms.text = text
	ms.mu.Unlock()
}

// Write hands a frame to the stream.
func (ms *ManagedStream) Write(frame audio.Frame) error {
	ms.closeMu.RLock()
	defer ms.closeMu.RUnlock()
	if ms.closed {
		return ErrStreamClosed
	}
	if !frame.Valid() {
		return ErrInvalidFrame
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = ms.engine.clock()
	}

	voiced := ms.engine.extractor.Voiced(frame)
	ms.mu.Lock()
	ev := ms.vad.Process(frame, voiced)
	text := ms.text
	ms.mu.Unlock()

	if ev != nil {
		switch ev.Type {
		case features.VADSpeechStart:
			ms.emit(StreamEvent{Type: SpeechStarted, Timestamp: ev.Timestamp})
		case features.VADSpeechEnd:
			ms.emit(StreamEvent{Type: SilenceDetected, Timestamp: ev.Timestamp})
		}
	}

	if !ms.inFlight.CompareAndSwap(false, true) {
		ms.dropped.Add(1)
		return nil
	}
	ms.wg.Add(1)
	go ms.cycle(frame, text)
	return nil
}

func (ms *ManagedStream) cycle(frame audio.Frame, text string) {
	defer ms.wg.Done()
	defer ms.inFlight.Store(false)

	budget := ms.engine.cfg.CycleBudget
	ctx, cancel := context.WithTimeout(ms.ctx, budget)
	defer cancel()

	start := time.Now()
	res, err := ms.engine.Detect(ctx, frame, text)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		// Detect commits nothing past the deadline, so a discarded cycle
		// leaves the engine untouched
		ms.discarded.Add(1)
		ms.engine.logger.Warn("detection cycle discarded", "budget", budget, "elapsed", time.Since(start))
		return
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		ms.emit(StreamEvent{Type: ErrorEvent, Error: err.Error(), Timestamp: frame.Timestamp})
		return
	}
	ms.processed.Add(1)

	if !res.Speaker.IsParty() {
		return
	}
	ms.mu.Lock()
	prev := ms.last
	ms.last = res.Speaker
	ms.mu.Unlock()

	ms.emit(StreamEvent{Type: SpeakerDetected, Result: &res, Timestamp: res.Timestamp})
	if prev.IsParty() && prev != res.Speaker {
		ms.emit(StreamEvent{Type: SpeakerChanged, Result: &res, Previous: prev, Timestamp: res.Timestamp})
	}
}

// Events returns the event channel. It is closed by Close.
func (ms *ManagedStream) Events() <-chan StreamEvent {
	return ms.events
}

// Stats returns frame counters.
func (ms *ManagedStream) Stats() StreamStats {
	return StreamStats{
		Processed: ms.processed.Load(),
		Dropped:   ms.dropped.Load(),
		Discarded: ms.discarded.Load(),
	}
}

// Close stops the stream, waits for the in-flight cycle and closes Events.
func (ms *ManagedStream) Close() {
	ms.cancel()
	ms.closeMu.Lock()
	if ms.closed {
		ms.closeMu.Unlock()
		return
	}
	ms.closed = true
	ms.closeMu.Unlock()
	ms.wg.Wait()
	close(ms.events)
}

func (ms *ManagedStream) emit(ev StreamEvent) {
	select {
	case ms.events <- ev:
	case <-ms.ctx.Done():
	}
}
