// Package transport exposes a diarization engine over a websocket. Every
// connection gets its own engine, so one connection is one conversation.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/diarization"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/enrollment"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

// Message types accepted from clients.
const (
	TypeDetect              = "detect"
	TypeFeedback            = "feedback"
	TypeCalibrationStart    = "calibration.start"
	TypeCalibrationRecord   = "calibration.record"
	TypeCalibrationComplete = "calibration.complete"
	TypeCalibrationAbandon  = "calibration.abandon"
	TypeCalibrationStatus   = "calibration.status"
	TypeStats               = "stats"
	TypeReset               = "reset"

	TypeError = "error"
	TypeReady = "ready"
)

// Request is one client message. Audio is 16-bit little-endian mono PCM.
type Request struct {
	ID         string                `json:"id,omitempty"`
	Type       string                `json:"type"`
	Audio      []byte                `json:"audio,omitempty"`
	SampleRate int                   `json:"sample_rate,omitempty"`
	Timestamp  time.Time             `json:"timestamp,omitempty"`
	Context    string                `json:"context,omitempty"`
	Predicted  speaker.Speaker       `json:"predicted,omitempty"`
	Actual     speaker.Speaker       `json:"actual,omitempty"`
	SessionID  string                `json:"session_id,omitempty"`
	Prompt     enrollment.PromptType `json:"prompt,omitempty"`
	Speaker    speaker.Speaker       `json:"speaker,omitempty"`
}

func (r Request) frame() audio.Frame {
	return audio.FrameFromPCM16(r.Audio, r.SampleRate, r.Timestamp)
}

// Response answers one Request; ID echoes the request.
type Response struct {
	ID             string                         `json:"id,omitempty"`
	Type           string                         `json:"type"`
	Error          string                         `json:"error,omitempty"`
	ConversationID string                         `json:"conversation_id,omitempty"`
	Detection      *diarization.DetectionResult   `json:"detection,omitempty"`
	SessionID      string                         `json:"session_id,omitempty"`
	Prompt         *enrollment.Prompt             `json:"prompt,omitempty"`
	Sample         *enrollment.SampleResult       `json:"sample,omitempty"`
	Completion     *enrollment.CompletionResult   `json:"completion,omitempty"`
	Status         *diarization.CalibrationStatus `json:"status,omitempty"`
	Stats          *diarization.Stats             `json:"stats,omitempty"`
}

type Config struct {
	// ReadLimit bounds the size of one client message.
	ReadLimit int64

	// RequestTimeout bounds the handling of one message.
	RequestTimeout time.Duration

	// OriginPatterns are passed to websocket.Accept.
	OriginPatterns []string
}

func DefaultConfig() Config {
	return Config{
		ReadLimit:      4 * 1024 * 1024,
		RequestTimeout: 5 * time.Second,
	}
}

// EngineFactory builds the engine for a new connection.
type EngineFactory func(conversationID string) *diarization.Engine

// Handler serves the websocket protocol.
type Handler struct {
	cfg       Config
	newEngine EngineFactory
	logger    diarization.Logger
}

func NewHandler(cfg Config, newEngine EngineFactory, logger diarization.Logger) *Handler {
	if logger == nil {
		logger = &diarization.NoOpLogger{}
	}
	return &Handler{cfg: cfg, newEngine: newEngine, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}

	id := uuid.NewString()
	engine := h.newEngine(id)
	h.logger.Info("conversation opened", "conversationID", id, "remote", r.RemoteAddr)

	ctx := r.Context()
	if err := wsjson.Write(ctx, conn, Response{Type: TypeReady, ConversationID: id}); err != nil {
		return
	}

	for {
		var req Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				h.logger.Info("conversation closed", "conversationID", id)
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			h.logger.Warn("failed to read message", "conversationID", id, "error", err)
			return
		}

		resp := h.handle(ctx, engine, req)
		if err := wsjson.Write(ctx, conn, resp); err != nil {
			h.logger.Warn("failed to write response", "conversationID", id, "error", err)
			return
		}
	}
}

func (h *Handler) handle(ctx context.Context, e *diarization.Engine, req Request) Response {
	if h.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := h.dispatch(ctx, e, req)
	if err != nil {
		h.logger.Debug("request failed", "type", req.Type, "error", err)
		return Response{ID: req.ID, Type: TypeError, Error: err.Error()}
	}
	resp.ID = req.ID
	resp.Type = req.Type
	return resp
}

// ErrUnknownType is returned for messages with an unrecognized type.
var ErrUnknownType = errors.New("unknown message type")

func (h *Handler) dispatch(ctx context.Context, e *diarization.Engine, req Request) (Response, error) {
	switch req.Type {
	case TypeDetect:
		res, err := e.Detect(ctx, req.frame(), req.Context)
		if err != nil {
			return Response{}, err
		}
		return Response{Detection: &res}, nil

	case TypeFeedback:
		if err := e.ProvideFeedback(ctx, req.frame(), req.Predicted, req.Actual, req.Context); err != nil {
			return Response{}, err
		}
		return Response{}, nil

	case TypeCalibrationStart:
		sess, err := e.StartCalibrationSession(req.SessionID)
		if err != nil {
			return Response{}, err
		}
		prompt := e.CalibrationPrompt(sess.PromptIndex)
		return Response{SessionID: sess.ID, Prompt: &prompt}, nil

	case TypeCalibrationRecord:
		res, err := e.RecordCalibrationSample(req.SessionID, req.frame(), req.Prompt, req.Speaker)
		if err != nil {
			return Response{}, err
		}
		return Response{SessionID: req.SessionID, Sample: &res}, nil

	case TypeCalibrationComplete:
		res, err := e.CompleteCalibrationSession(ctx, req.SessionID)
		if err != nil {
			return Response{}, err
		}
		st := e.CalibrationStatus()
		return Response{SessionID: req.SessionID, Completion: &res, Status: &st}, nil

	case TypeCalibrationAbandon:
		if err := e.AbandonCalibrationSession(req.SessionID); err != nil {
			return Response{}, err
		}
		return Response{SessionID: req.SessionID}, nil

	case TypeCalibrationStatus:
		st := e.CalibrationStatus()
		return Response{Status: &st}, nil

	case TypeStats:
		st := e.Stats()
		return Response{Stats: &st}, nil

	case TypeReset:
		e.Reset()
		return Response{}, nil
	}
	return Response{}, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
}
