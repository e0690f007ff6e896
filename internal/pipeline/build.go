// Package pipeline assembles the capture, engine, polish, and injection
// components described by a config.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/logging"
	"github.com/rbright/murmur/internal/output"
	"github.com/rbright/murmur/internal/polish"
	"github.com/rbright/murmur/internal/session"
	"github.com/rbright/murmur/internal/transcribe"
	"github.com/rbright/murmur/internal/transcript"
	"github.com/rbright/murmur/internal/worker"
)

// Components are the runtime collaborators of a session controller.
type Components struct {
	Source   audio.Source
	Engine   *transcribe.Handle
	Polisher polish.Polisher
	// Prompt is non-nil when a polish prompt file should be watched.
	Prompt   *polish.PromptFile
	Injector *output.Injector
	Session  session.Config

	closers []func() error
}

// Close releases backend clients.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build constructs every component from cfg. Restores and other delayed
// work run on scheduler.
func Build(ctx context.Context, logger *slog.Logger, cfg config.Config, scheduler *worker.Scheduler) (*Components, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Components{}

	source, err := buildSource(logger, cfg.Audio)
	if err != nil {
		return nil, err
	}
	c.Source = source

	loader, err := buildLoader(cfg.Engine)
	if err != nil {
		return nil, err
	}
	c.Engine = transcribe.NewHandle(logger.With("component", "engine"), loader, cfg.Engine.Warmup)

	if err := c.buildPolisher(ctx, logger.With("component", "polish"), cfg.Polish); err != nil {
		_ = c.Close()
		return nil, err
	}

	paster, err := buildPaster(cfg.Inject)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	keys := output.CommandTyper{Argv: cfg.Inject.TypeCmd.Argv, Timeout: 2 * time.Second}
	c.Injector = output.NewInjector(logger.With("component", "inject"), keys, output.SystemClipboard{}, paster, scheduler, output.Options{
		Threshold:    cfg.Inject.Threshold,
		ChunkSize:    cfg.Inject.ChunkSize,
		ChunkDelay:   time.Duration(cfg.Inject.ChunkDelayMS) * time.Millisecond,
		SettleDelay:  output.DefaultOptions().SettleDelay,
		RestoreDelay: time.Duration(cfg.Inject.RestoreDelayMS) * time.Millisecond,
	})

	c.Session, err = sessionConfig(cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func buildSource(logger *slog.Logger, cfg config.AudioConfig) (audio.Source, error) {
	switch cfg.Backend {
	case "pulse":
		return audio.PulseSource{Logger: logger, Input: cfg.Input, Fallback: cfg.Fallback}, nil
	case "portaudio":
		return audio.NewPortAudioSource()
	default:
		return nil, fmt.Errorf("unsupported audio backend %q", cfg.Backend)
	}
}

func buildLoader(cfg config.EngineConfig) (transcribe.Loader, error) {
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	switch cfg.Backend {
	case "openai":
		return transcribe.NewOpenAILoader(transcribe.OpenAIConfig{
			APIKey:   os.Getenv(cfg.APIKeyEnv),
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Language: cfg.Language,
			Prompt:   cfg.Prompt,
			Timeout:  timeout,
		}), nil
	case "command":
		return transcribe.NewCommandLoader(cfg.Command.Argv, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported engine backend %q", cfg.Backend)
	}
}

// buildPolisher never fails on missing credentials: polishing degrades to a
// pass-through with a warning.
func (c *Components) buildPolisher(ctx context.Context, logger *slog.Logger, cfg config.PolishConfig) error {
	c.Polisher = polish.Noop{}
	if cfg.Backend == "none" {
		return nil
	}

	apiKey := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	if apiKey == "" && cfg.BaseURL == "" {
		logger.Warn("polish disabled: api key not set", "backend", cfg.Backend, "env", cfg.APIKeyEnv)
		return nil
	}

	var backend polish.Backend
	switch cfg.Backend {
	case "gemini":
		gemini, err := polish.NewGemini(ctx, apiKey, cfg.Model)
		if err != nil {
			logger.Warn("polish disabled", "backend", cfg.Backend, "error", err)
			return nil
		}
		c.closers = append(c.closers, gemini.Close)
		backend = gemini
	case "openai":
		client, err := polish.NewOpenAI(apiKey, cfg.BaseURL, cfg.Model)
		if err != nil {
			logger.Warn("polish disabled", "backend", cfg.Backend, "error", err)
			return nil
		}
		backend = client
	default:
		return fmt.Errorf("unsupported polish backend %q", cfg.Backend)
	}

	var instruction polish.Instruction = polish.StaticInstruction(polish.DefaultInstruction)
	if path := expandUserPath(cfg.PromptFile); path != "" {
		c.Prompt = polish.NewPromptFile(logger, path, polish.DefaultInstruction)
		instruction = c.Prompt
	}
	c.Polisher = polish.NewSafe(logger, backend, instruction, time.Duration(cfg.TimeoutSec)*time.Second)
	return nil
}

func buildPaster(cfg config.InjectConfig) (output.Paster, error) {
	switch cfg.Paste {
	case "hypr":
		return output.HyprPaster{Shortcut: cfg.Shortcut}, nil
	case "keybd":
		return output.NewKeybdPaster()
	case "command":
		return output.CommandPaster{Argv: cfg.PasteCmd.Argv}, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported paste backend %q", cfg.Paste)
	}
}

func sessionConfig(cfg config.Config) (session.Config, error) {
	sc := session.Config{
		SilenceThreshold: cfg.Audio.SilenceThreshold,
		SilenceDuration:  time.Duration(cfg.Audio.SilenceSec * float64(time.Second)),
		SuccessReset:     time.Duration(cfg.Session.SuccessResetMS) * time.Millisecond,
		ErrorReset:       time.Duration(cfg.Session.ErrorResetMS) * time.Millisecond,
		IdleUnload:       time.Duration(cfg.Engine.IdleUnloadSec) * time.Second,
		Warmup:           cfg.Engine.Warmup,
		Transcript: transcript.Options{
			TrailingSpace: cfg.Transcript.TrailingSpace,
			Capitalize:    cfg.Transcript.Capitalize,
		},
	}
	if cfg.Debug.EnableAudioDump {
		stateDir, err := logging.StateDir()
		if err != nil {
			return session.Config{}, fmt.Errorf("resolve audio dump dir: %w", err)
		}
		sc.AudioDumpDir = filepath.Join(stateDir, "audio")
	}
	return sc, nil
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "~") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	if raw == "~" {
		return home
	}
	if strings.HasPrefix(raw, "~/") {
		return filepath.Join(home, raw[2:])
	}
	return raw
}
