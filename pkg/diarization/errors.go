package diarization

import "errors"

var (
	// ErrInvalidFrame is returned when a frame has no samples or no sample rate
	ErrInvalidFrame = errors.New("invalid audio frame")

	// ErrInvalidLabel is returned when feedback names a non-participant as the actual speaker
	ErrInvalidLabel = errors.New("feedback speaker must be speaker A or B")

	// ErrUnknownMethod is returned when a method name or index is not part of the ensemble
	ErrUnknownMethod = errors.New("unknown estimation method")

	// ErrStreamClosed is returned when writing to a closed stream
	ErrStreamClosed = errors.New("stream is closed")
)
