package transport

import (
	"context"
	"math"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/diarization"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/enrollment"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

const testRate = 16000

func generateVoice(f0 float64, d time.Duration) []byte {
	n := int(d.Seconds() * testRate)
	samples := make([]float64, n)
	maxHarmonic := int(3800 / f0)
	for i := range samples {
		t := float64(i) / testRate
		env := 0.1 + 0.9*(0.5-0.5*math.Cos(2*math.Pi*3*t))
		s := 0.0
		for k := 1; k <= maxHarmonic; k++ {
			s += math.Sin(2*math.Pi*f0*float64(k)*t) / float64(k)
		}
		samples[i] = 0.12 * env * s
	}
	return audio.SamplesToBytes(samples)
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	ctx  context.Context
}

func (c *client) roundTrip(req Request) Response {
	c.t.Helper()
	require.NoError(c.t, wsjson.Write(c.ctx, c.conn, req))
	var resp Response
	require.NoError(c.t, wsjson.Read(c.ctx, c.conn, &resp))
	assert.Equal(c.t, req.ID, resp.ID)
	return resp
}

func dial(t *testing.T, h *Handler) *client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	conn.SetReadLimit(4 * 1024 * 1024)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	var ready Response
	require.NoError(t, wsjson.Read(ctx, conn, &ready))
	require.Equal(t, TypeReady, ready.Type)
	require.NotEmpty(t, ready.ConversationID)
	return &client{t: t, conn: conn, ctx: ctx}
}

func newHandler(engines *atomic.Int32) *Handler {
	return NewHandler(DefaultConfig(), func(string) *diarization.Engine {
		engines.Add(1)
		return diarization.New(diarization.DefaultConfig())
	}, nil)
}

func TestHandler_Detect(t *testing.T) {
	var engines atomic.Int32
	c := dial(t, newHandler(&engines))

	resp := c.roundTrip(Request{ID: "1", Type: TypeDetect, Audio: generateVoice(120, 500*time.Millisecond), SampleRate: testRate})
	require.Equal(t, TypeDetect, resp.Type, resp.Error)
	require.NotNil(t, resp.Detection)
	assert.Equal(t, speaker.A, resp.Detection.Speaker)
	assert.Len(t, resp.Detection.Contributions, int(diarization.NumMethods))

	resp = c.roundTrip(Request{ID: "2", Type: TypeDetect, SampleRate: testRate})
	assert.Equal(t, TypeError, resp.Type)
	assert.Contains(t, resp.Error, diarization.ErrInvalidFrame.Error())

	resp = c.roundTrip(Request{ID: "3", Type: TypeFeedback, Audio: generateVoice(120, 500*time.Millisecond), SampleRate: testRate, Predicted: speaker.A, Actual: speaker.Silence})
	assert.Equal(t, TypeError, resp.Type)

	resp = c.roundTrip(Request{ID: "4", Type: TypeStats})
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 1, resp.Stats.Detections)

	resp = c.roundTrip(Request{ID: "5", Type: "oracle"})
	assert.Equal(t, TypeError, resp.Type)
	assert.Contains(t, resp.Error, ErrUnknownType.Error())

	assert.Equal(t, int32(1), engines.Load())
}

func TestHandler_Calibration(t *testing.T) {
	var engines atomic.Int32
	c := dial(t, newHandler(&engines))

	resp := c.roundTrip(Request{ID: "status", Type: TypeCalibrationStatus})
	require.NotNil(t, resp.Status)
	assert.False(t, resp.Status.IsReady)

	resp = c.roundTrip(Request{ID: "start", Type: TypeCalibrationStart, SessionID: "s1"})
	require.Equal(t, TypeCalibrationStart, resp.Type, resp.Error)
	assert.Equal(t, "s1", resp.SessionID)
	require.NotNil(t, resp.Prompt)
	assert.Equal(t, enrollment.PromptSustainedVowel, resp.Prompt.Type)

	resp = c.roundTrip(Request{
		ID:         "rec",
		Type:       TypeCalibrationRecord,
		SessionID:  "s1",
		Audio:      generateVoice(120, 3*time.Second),
		SampleRate: testRate,
		Prompt:     enrollment.PromptSustainedVowel,
		Speaker:    speaker.A,
	})
	require.Equal(t, TypeCalibrationRecord, resp.Type, resp.Error)
	require.NotNil(t, resp.Sample)
	assert.True(t, resp.Sample.Accepted, resp.Sample.Recommendation)
	assert.Equal(t, 1, resp.Sample.Progress.Accepted.Get(speaker.A))

	resp = c.roundTrip(Request{ID: "dup", Type: TypeCalibrationStart, SessionID: "s2"})
	assert.Equal(t, TypeError, resp.Type)
	assert.Contains(t, resp.Error, enrollment.ErrSessionActive.Error())

	resp = c.roundTrip(Request{ID: "abandon", Type: TypeCalibrationAbandon, SessionID: "s1"})
	assert.Equal(t, TypeCalibrationAbandon, resp.Type, resp.Error)

	resp = c.roundTrip(Request{ID: "complete", Type: TypeCalibrationComplete, SessionID: "s1"})
	assert.Equal(t, TypeError, resp.Type)
	assert.Contains(t, resp.Error, enrollment.ErrSessionNotFound.Error())
}

func TestHandler_EnginePerConnection(t *testing.T) {
	var engines atomic.Int32
	h := newHandler(&engines)
	a := dial(t, h)
	b := dial(t, h)

	a.roundTrip(Request{ID: "1", Type: TypeDetect, Audio: generateVoice(120, 500*time.Millisecond), SampleRate: testRate})

	resp := b.roundTrip(Request{ID: "1", Type: TypeStats})
	require.NotNil(t, resp.Stats)
	assert.Zero(t, resp.Stats.Detections)
	assert.Equal(t, int32(2), engines.Load())
}
