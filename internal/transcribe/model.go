// Package transcribe owns the speech-to-text engine: backend adapters and
// the process-wide model handle that loads, warms, serializes, and unloads
// them.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// ErrModelInit marks failures to construct or warm the engine.
var ErrModelInit = errors.New("model init failed")

// Model converts mono float32 audio to text.
type Model interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
	Close() error
}

// Loader constructs a ready-to-use Model.
type Loader func(ctx context.Context) (Model, error)

const warmupSampleRate = 16000

// Handle is the lazily loaded, mutex-guarded model shared by all sessions.
// Only one engine call runs at a time.
type Handle struct {
	logger *slog.Logger
	load   Loader
	warmup bool

	mu       sync.Mutex
	model    Model
	loads    int
	lastUsed time.Time
}

// NewHandle builds an unloaded handle. When warmup is true each load runs
// one second of silence through the engine before first use.
func NewHandle(logger *slog.Logger, load Loader, warmup bool) *Handle {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handle{logger: logger, load: load, warmup: warmup}
}

// Ensure loads the model if needed.
func (h *Handle) Ensure(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.ensureLocked(ctx)
	return err
}

func (h *Handle) ensureLocked(ctx context.Context) (Model, error) {
	if h.model != nil {
		return h.model, nil
	}

	started := time.Now()
	model, err := h.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelInit, err)
	}

	if h.warmup {
		if _, err := model.Transcribe(ctx, make([]float32, warmupSampleRate), warmupSampleRate); err != nil {
			_ = model.Close()
			return nil, fmt.Errorf("%w: warm-up: %w", ErrModelInit, err)
		}
	}

	h.model = model
	h.loads++
	h.lastUsed = time.Now()
	h.logger.Info("model loaded", "warmup", h.warmup, "elapsed_ms", time.Since(started).Milliseconds(), "loads", h.loads)
	return model, nil
}

// Transcribe runs samples through the model, loading it first if needed.
func (h *Handle) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	model, err := h.ensureLocked(ctx)
	if err != nil {
		return "", err
	}
	defer func() { h.lastUsed = time.Now() }()
	return model.Transcribe(ctx, samples, sampleRate)
}

// Unload releases the model and returns freed memory to the OS. It waits
// for any in-flight transcription and reports whether a model was loaded.
func (h *Handle) Unload() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.model == nil {
		return false
	}
	if err := h.model.Close(); err != nil {
		h.logger.Warn("model close failed", "error", err)
	}
	h.model = nil

	runtime.GC()
	debug.FreeOSMemory()
	h.logger.Info("model unloaded", "idle_ms", time.Since(h.lastUsed).Milliseconds())
	return true
}

// Loaded reports whether a model is resident.
func (h *Handle) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model != nil
}

// Loads reports how many times the model has been loaded.
func (h *Handle) Loads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loads
}
