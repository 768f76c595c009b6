package diarization

import (
	"context"
	"errors"
	"fmt"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/audio"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/enrollment"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

// StartCalibrationSession opens the enrollment workflow. An empty id gets
// a generated one.
func (e *Engine) StartCalibrationSession(id string) (*enrollment.Session, error) {
	sess, err := e.enroll.Start(id)
	if err != nil {
		return nil, err
	}
	e.logger.Info("calibration session started", "sessionID", sess.ID)
	return sess, nil
}

// CalibrationPrompt returns the prompt to show for a prompt index.
func (e *Engine) CalibrationPrompt(index int) enrollment.Prompt {
	return e.enroll.Prompt(index)
}

// CalibrationSession returns a snapshot of the active session.
func (e *Engine) CalibrationSession(id string) (*enrollment.Session, error) {
	return e.enroll.Session(id)
}

func (e *Engine) RecordCalibrationSample(id string, frame audio.Frame, prompt enrollment.PromptType, s speaker.Speaker) (enrollment.SampleResult, error) {
	res, err := e.enroll.Record(id, frame, prompt, s)
	if err != nil {
		return res, err
	}
	if res.Accepted {
		e.logger.Info("calibration sample accepted", "sessionID", id, "speaker", s, "score", res.Quality.Score)
	} else {
		e.logger.Info("calibration sample rejected", "sessionID", id, "speaker", s, "reasons", res.Quality.Reasons)
	}
	return res, nil
}

// CompleteCalibrationSession builds profiles from the session. Every
// profile that qualified is installed into the estimators and saved to the
// profile store, even when the other speaker still needs samples.
func (e *Engine) CompleteCalibrationSession(ctx context.Context, id string) (enrollment.CompletionResult, error) {
	res, err := e.enroll.Complete(id)
	if err != nil {
		return res, err
	}

	built := res.Profiles()
	e.mu.Lock()
	for _, s := range speaker.Parties {
		if p := built.Get(s); p != nil {
			e.profiles.Set(s, p)
		}
	}
	profiles := e.profiles
	e.mu.Unlock()
	e.installProfiles(profiles)

	var saveErr error
	if e.store != nil {
		for _, s := range speaker.Parties {
			if p := built.Get(s); p != nil {
				if err := e.store.Save(ctx, e.owner, p); err != nil {
					saveErr = errors.Join(saveErr, err)
				}
			}
		}
	}

	e.logger.Info("calibration session completed", "sessionID", id, "success", res.Success)
	if saveErr != nil {
		e.logger.Error("failed to save profiles", "owner", e.owner, "error", saveErr)
		return res, fmt.Errorf("save profiles: %w", saveErr)
	}
	return res, nil
}

// AbandonCalibrationSession discards the session; nothing is committed.
func (e *Engine) AbandonCalibrationSession(id string) error {
	if err := e.enroll.Abandon(id); err != nil {
		return err
	}
	e.logger.Info("calibration session abandoned", "sessionID", id)
	return nil
}

// CalibrationStatus reports per-speaker enrollment state. It has no side
// effects.
func (e *Engine) CalibrationStatus() CalibrationStatus {
	now := e.clock()
	e.mu.RLock()
	profiles := e.profiles
	e.mu.RUnlock()

	st := CalibrationStatus{IsReady: true}
	for _, s := range speaker.Parties {
		p := profiles.Get(s)
		ss := SpeakerStatus{
			IsCalibrated:       p.Authoritative(now, e.cfg.Policy),
			NeedsRecalibration: p.Usable() && p.NeedsRecalibration(now, e.cfg.Policy),
		}
		if p != nil {
			ss.SampleCount = p.SampleCount
			ss.Quality = p.Quality
			ss.UpdatedAt = p.UpdatedAt
		}
		st.Speakers.Set(s, ss)
		st.IsReady = st.IsReady && ss.IsCalibrated
	}
	if id, ok := e.enroll.Active(); ok {
		st.ActiveSession = id
	}
	return st
}

// Profiles returns copies of the installed profiles.
func (e *Engine) Profiles() speaker.Pair[*speaker.Profile] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out speaker.Pair[*speaker.Profile]
	for i, p := range e.profiles {
		out[i] = p.Clone()
	}
	return out
}

// SetProfiles installs profiles directly, bypassing enrollment.
func (e *Engine) SetProfiles(profiles speaker.Pair[*speaker.Profile]) {
	e.mu.Lock()
	for i, p := range profiles {
		e.profiles[i] = p.Clone()
	}
	installed := e.profiles
	e.mu.Unlock()
	e.installProfiles(installed)
}

// LoadProfiles reads the owner's profiles from the store and installs them.
func (e *Engine) LoadProfiles(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	loaded, err := e.store.Load(ctx, e.owner)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	e.mu.Lock()
	for _, s := range speaker.Parties {
		if p := loaded.Get(s); p != nil {
			e.profiles.Set(s, p)
		}
	}
	profiles := e.profiles
	e.mu.Unlock()
	e.installProfiles(profiles)
	e.logger.Info("profiles loaded", "owner", e.owner,
		"speakerA", profiles.Get(speaker.A) != nil,
		"speakerB", profiles.Get(speaker.B) != nil)
	return nil
}

func (e *Engine) installProfiles(profiles speaker.Pair[*speaker.Profile]) {
	for _, est := range e.estimators {
		var own speaker.Pair[*speaker.Profile]
		for i, p := range profiles {
			own[i] = p.Clone()
		}
		est.SetProfiles(own)
	}
}
