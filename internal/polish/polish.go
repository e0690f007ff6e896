// Package polish refines raw transcripts through an optional language
// model. Polishing never fails: any problem yields the input text.
package polish

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// DefaultInstruction is used when no prompt file is configured or readable.
const DefaultInstruction = `You clean up dictated text. Fix punctuation, capitalization, and obvious
speech-recognition mistakes. Remove filler words and false starts. Keep the
speaker's wording and meaning. Do not add content, commentary, or quotes.
Return only the corrected text.`

// Polisher refines text and always returns something usable.
type Polisher interface {
	Polish(ctx context.Context, text string) string
}

// Backend is a fallible refinement service.
type Backend interface {
	Polish(ctx context.Context, instruction string, text string) (string, error)
}

// Instruction supplies the current system instruction.
type Instruction interface {
	Text() string
}

// StaticInstruction is a fixed instruction.
type StaticInstruction string

func (s StaticInstruction) Text() string {
	return string(s)
}

// Noop returns text unchanged.
type Noop struct{}

func (Noop) Polish(_ context.Context, text string) string {
	return text
}

// Safe wraps a Backend with a timeout and falls back to the input text on
// error, empty output, or empty input.
type Safe struct {
	logger      *slog.Logger
	backend     Backend
	instruction Instruction
	timeout     time.Duration
}

// NewSafe builds a never-failing Polisher around backend.
func NewSafe(logger *slog.Logger, backend Backend, instruction Instruction, timeout time.Duration) *Safe {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if instruction == nil {
		instruction = StaticInstruction(DefaultInstruction)
	}
	return &Safe{logger: logger, backend: backend, instruction: instruction, timeout: timeout}
}

func (s *Safe) Polish(ctx context.Context, text string) (out string) {
	if strings.TrimSpace(text) == "" || s.backend == nil {
		return text
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("polisher panicked", "panic", r)
			out = text
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	polished, err := s.backend.Polish(ctx, s.instruction.Text(), text)
	if err != nil {
		s.logger.Warn("polish failed; using raw transcript", "error", err, "elapsed_ms", time.Since(started).Milliseconds())
		return text
	}
	polished = strings.TrimSpace(polished)
	if polished == "" {
		s.logger.Warn("polish returned empty text; using raw transcript")
		return text
	}
	s.logger.Info("transcript polished", "elapsed_ms", time.Since(started).Milliseconds(), "in_chars", len(text), "out_chars", len(polished))
	return polished
}
