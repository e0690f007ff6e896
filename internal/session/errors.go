package session

import (
	"errors"

	"github.com/rbright/murmur/internal/output"
	"github.com/rbright/murmur/internal/transcribe"
)

var (
	// ErrMicrophoneUnavailable marks a capture stream that could not be opened.
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	// ErrModelInit marks an engine that could not be loaded or warmed.
	ErrModelInit = transcribe.ErrModelInit
	// ErrTranscription marks an engine call that failed after loading.
	ErrTranscription = errors.New("transcription failed")
	// ErrInjection marks text that reached neither keystrokes nor the clipboard.
	ErrInjection = output.ErrInjection
)

// Error tags a session failure with one of the package sentinels.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Message returns the short reason shown to the user for err.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrMicrophoneUnavailable):
		return "Mic Error"
	case errors.Is(err, ErrModelInit):
		return "Model Init Failed"
	case errors.Is(err, ErrInjection):
		return "Injection Failed"
	default:
		return "Processing Failed"
	}
}
