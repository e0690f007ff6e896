// Package hotkey turns a held primary key into recording sessions.
package hotkey

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbright/murmur/internal/fsm"
)

const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultMaxRecording = 120 * time.Second
)

// Key is a backend-specific key identifier.
type Key string

// KeyState reports whether a key is currently held.
type KeyState interface {
	Down(key Key) bool
}

// Machine is the state machine surface the watcher drives.
type Machine interface {
	Current() fsm.State
	SetState(next fsm.State, data fsm.Data) error
	CompareAndSet(expected fsm.State, next fsm.State, data fsm.Data) (bool, error)
	LatchRefine() bool
	Refine() bool
}

// Config names the keys and timing of the watcher.
type Config struct {
	Primary      Key
	Refine       Key
	PollInterval time.Duration
	MaxRecording time.Duration
}

// Watcher polls key state and maps press/release to transitions.
type Watcher struct {
	logger  *slog.Logger
	keys    KeyState
	machine Machine
	cfg     Config

	primaryDown bool
	recording   bool
	startedAt   time.Time
	stopLatch   atomic.Bool
}

// NewWatcher builds a watcher with defaults for unset timings.
func NewWatcher(logger *slog.Logger, keys KeyState, machine Machine, cfg Config) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxRecording <= 0 {
		cfg.MaxRecording = DefaultMaxRecording
	}
	return &Watcher{logger: logger, keys: keys, machine: machine, cfg: cfg}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			w.Step(now)
		}
	}
}

// Step runs one polling cycle at the given time.
func (w *Watcher) Step(now time.Time) {
	down := w.keys.Down(w.cfg.Primary)
	pressed := down && !w.primaryDown
	released := !down && w.primaryDown
	w.primaryDown = down

	state := w.machine.Current()

	if pressed && startable(state) {
		w.start(now)
		return
	}

	if !w.recording {
		return
	}

	if state != fsm.StateRecording {
		// the session was stopped elsewhere (silence, failure)
		w.recording = false
		return
	}

	if down && w.cfg.Refine != "" && w.keys.Down(w.cfg.Refine) {
		if w.machine.LatchRefine() {
			w.logger.Info("refine mode latched")
		}
	}

	switch {
	case released:
		w.stop("release")
	case now.Sub(w.startedAt) > w.cfg.MaxRecording:
		w.logger.Warn("recording watchdog fired", "elapsed", now.Sub(w.startedAt).String())
		w.stop("timeout")
	}
}

func (w *Watcher) start(now time.Time) {
	if err := w.machine.SetState(fsm.StateRecording, fsm.Data{}); err != nil {
		w.logger.Error("start recording", "error", err)
		return
	}
	w.recording = true
	w.startedAt = now
	w.stopLatch.Store(false)
}

func (w *Watcher) stop(reason string) {
	w.recording = false
	if !w.stopLatch.CompareAndSwap(false, true) {
		return
	}

	ok, err := w.machine.CompareAndSet(fsm.StateRecording, fsm.StateProcessing, fsm.Data{Refine: w.machine.Refine()})
	switch {
	case err != nil:
		w.logger.Error("stop recording", "reason", reason, "error", err)
	case !ok:
		w.logger.Debug("stop skipped; session already advanced", "reason", reason)
	default:
		w.logger.Info("recording stopped", "reason", reason)
	}
}

func startable(state fsm.State) bool {
	switch state {
	case fsm.StateIdle, fsm.StateSuccess, fsm.StateError:
		return true
	default:
		return false
	}
}
