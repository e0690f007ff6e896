package audio

import (
	"context"
	"errors"
)

// SampleRate is the capture rate expected by transcription engines.
const SampleRate = 16000

// ErrBackendUnavailable is returned when a capture backend is not compiled in.
var ErrBackendUnavailable = errors.New("audio backend unavailable in this build")

// Callback receives each captured mono chunk. It runs on the capture
// goroutine and must not block.
type Callback func(samples []float32)

// Stream is an open capture stream.
type Stream interface {
	Close() error
}

// Source opens capture streams.
type Source interface {
	Open(ctx context.Context, onChunk Callback) (Stream, error)
}
