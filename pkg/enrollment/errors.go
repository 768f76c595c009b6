package enrollment

import "errors"

var (
	// ErrSessionNotFound is returned when no session with the given id is active
	ErrSessionNotFound = errors.New("calibration session not found")

	// ErrSessionExpired is returned when the session outlived its TTL
	ErrSessionExpired = errors.New("calibration session expired")

	// ErrSessionActive is returned when starting a session while another is open
	ErrSessionActive = errors.New("another calibration session is already active")

	// ErrSessionClosed is returned when recording into a completed or abandoned session
	ErrSessionClosed = errors.New("calibration session is closed")

	// ErrNoSamples is returned when completing a session with no accepted samples
	ErrNoSamples = errors.New("calibration session has no accepted samples")

	// ErrInvalidSpeaker is returned when a sample is labeled with a non-participant
	ErrInvalidSpeaker = errors.New("sample speaker must be speaker A or B")
)
