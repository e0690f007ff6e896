// Package output delivers final text to the focused application, either as
// synthetic keystrokes or through a clipboard paste with restore.
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/rbright/murmur/internal/worker"
)

// ErrInjection marks text that could not be delivered at all.
var ErrInjection = errors.New("injection failed")

// Keystroker types text into the focused window.
type Keystroker interface {
	Type(ctx context.Context, text string) error
}

// Paster triggers the platform paste shortcut.
type Paster interface {
	Paste(ctx context.Context) error
}

// Options tunes injection strategy.
type Options struct {
	// Threshold is the rune count at which typing gives way to pasting.
	Threshold    int
	ChunkSize    int
	ChunkDelay   time.Duration
	SettleDelay  time.Duration
	RestoreDelay time.Duration
}

// DefaultOptions returns the stock injection tuning.
func DefaultOptions() Options {
	return Options{
		Threshold:    1000,
		ChunkSize:    20,
		ChunkDelay:   2 * time.Millisecond,
		SettleDelay:  50 * time.Millisecond,
		RestoreDelay: 800 * time.Millisecond,
	}
}

// Injector picks the keystroke fast path for short text and the clipboard
// path for long text or when typing fails.
type Injector struct {
	logger    *slog.Logger
	keys      Keystroker
	clipboard *ClipboardManager
	paster    Paster
	scheduler *worker.Scheduler
	opts      Options
}

// NewInjector wires an injector. keys and paster may be nil; scheduler nil
// runs restores on a timer goroutine.
func NewInjector(logger *slog.Logger, keys Keystroker, clipboard Clipboard, paster Paster, scheduler *worker.Scheduler, opts Options) *Injector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	defaults := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = defaults.Threshold
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaults.ChunkSize
	}
	if scheduler == nil {
		scheduler = worker.NewScheduler(nil)
	}
	return &Injector{
		logger:    logger,
		keys:      keys,
		clipboard: NewClipboardManager(clipboard),
		paster:    paster,
		scheduler: scheduler,
		opts:      opts,
	}
}

// Inject delivers text. Empty text is a no-op. It returns an ErrInjection
// error only when the text reached neither keystrokes nor the clipboard.
func (i *Injector) Inject(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	remaining := text
	if i.keys != nil && utf8.RuneCountInString(text) < i.opts.Threshold {
		typed, err := i.typeChunks(ctx, text)
		if err == nil {
			i.logger.Debug("text typed", "chars", len(text))
			return nil
		}
		i.logger.Warn("keystroke injection failed; falling back to clipboard", "error", err, "typed_bytes", typed)
		remaining = text[typed:]
	}

	return i.paste(ctx, remaining)
}

// typeChunks returns the number of bytes delivered before any failure.
func (i *Injector) typeChunks(ctx context.Context, text string) (int, error) {
	chunks := chunkRunes(text, i.opts.ChunkSize)
	typed := 0
	for n, chunk := range chunks {
		if n > 0 && i.opts.ChunkDelay > 0 {
			if err := sleep(ctx, i.opts.ChunkDelay); err != nil {
				return typed, err
			}
		}
		if err := i.keys.Type(ctx, chunk); err != nil {
			return typed, err
		}
		typed += len(chunk)
	}
	return typed, nil
}

func (i *Injector) paste(ctx context.Context, text string) error {
	snapshot, snapErr := i.clipboard.Snapshot()
	if snapErr != nil {
		i.logger.Warn("clipboard snapshot failed; previous contents will not be restored", "error", snapErr)
	}

	if err := i.clipboard.Write(text); err != nil {
		return fmt.Errorf("%w: set clipboard: %w", ErrInjection, err)
	}

	if i.paster == nil {
		i.logger.Info("text left on clipboard; paste disabled", "chars", len(text))
		return nil
	}

	if i.opts.SettleDelay > 0 {
		if err := sleep(ctx, i.opts.SettleDelay); err != nil {
			i.logger.Warn("paste cancelled; clipboard remains set", "error", err)
			return nil
		}
	}

	if err := i.paster.Paste(ctx); err != nil {
		i.logger.Error("paste dispatch failed; clipboard remains set", "error", err)
		return nil
	}

	if snapErr == nil {
		i.scheduler.After(i.opts.RestoreDelay, func() {
			restored, err := i.clipboard.Restore(snapshot, text)
			switch {
			case err != nil:
				i.logger.Warn("clipboard restore failed", "error", err)
			case !restored:
				i.logger.Debug("clipboard changed since paste; restore skipped")
			}
		})
	}
	return nil
}

func chunkRunes(text string, size int) []string {
	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, count := 0, 0
	for idx := range text {
		if count == size {
			chunks = append(chunks, text[start:idx])
			start, count = idx, 0
		}
		count++
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
