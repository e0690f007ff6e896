package config

import (
	"fmt"
	"slices"
	"strings"
)

var (
	audioBackends  = []string{"pulse", "portaudio"}
	engineBackends = []string{"openai", "command"}
	polishBackends = []string{"none", "gemini", "openai"}
	pasteBackends  = []string{"hypr", "keybd", "command", "none"}
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Hotkey.Primary) == "" {
		return nil, fmt.Errorf("hotkey.primary must not be empty")
	}
	if strings.EqualFold(cfg.Hotkey.Primary, cfg.Hotkey.Refine) {
		return nil, fmt.Errorf("hotkey.refine must differ from hotkey.primary")
	}
	if cfg.Hotkey.PollMS <= 0 {
		return nil, fmt.Errorf("hotkey.poll_ms must be > 0")
	}
	if cfg.Hotkey.MaxRecordingSec <= 0 {
		return nil, fmt.Errorf("hotkey.max_recording_s must be > 0")
	}

	if err := oneOf("audio.backend", cfg.Audio.Backend, audioBackends); err != nil {
		return nil, err
	}
	if cfg.Audio.SilenceThreshold < 0 || cfg.Audio.SilenceThreshold >= 1 {
		return nil, fmt.Errorf("audio.silence_threshold must be in [0, 1)")
	}
	if cfg.Audio.SilenceSec < 0 {
		return nil, fmt.Errorf("audio.silence_s must be >= 0")
	}
	if cfg.Audio.SilenceSec == 0 {
		warnings = append(warnings, Warning{Message: "audio.silence_s=0 disables silence auto-stop"})
	}

	if err := oneOf("engine.backend", cfg.Engine.Backend, engineBackends); err != nil {
		return nil, err
	}
	switch cfg.Engine.Backend {
	case "openai":
		if strings.TrimSpace(cfg.Engine.Model) == "" {
			return nil, fmt.Errorf("engine.model must not be empty when engine.backend=openai")
		}
		if strings.TrimSpace(cfg.Engine.APIKeyEnv) == "" {
			return nil, fmt.Errorf("engine.api_key_env must not be empty when engine.backend=openai")
		}
	case "command":
		if len(cfg.Engine.Command.Argv) == 0 {
			return nil, fmt.Errorf("engine.command must not be empty when engine.backend=command")
		}
		if !strings.Contains(cfg.Engine.Command.Raw, "{wav}") {
			warnings = append(warnings, Warning{Message: "engine.command has no {wav} placeholder; audio path is appended as last argument"})
		}
	}
	if cfg.Engine.IdleUnloadSec < 0 {
		return nil, fmt.Errorf("engine.idle_unload_s must be >= 0")
	}
	if cfg.Engine.RequestTimeoutSec <= 0 {
		return nil, fmt.Errorf("engine.request_timeout_s must be > 0")
	}

	if err := oneOf("polish.backend", cfg.Polish.Backend, polishBackends); err != nil {
		return nil, err
	}
	if cfg.Polish.Backend != "none" {
		if strings.TrimSpace(cfg.Polish.Model) == "" {
			return nil, fmt.Errorf("polish.model must not be empty when polish.backend=%s", cfg.Polish.Backend)
		}
		if strings.TrimSpace(cfg.Polish.APIKeyEnv) == "" {
			return nil, fmt.Errorf("polish.api_key_env must not be empty when polish.backend=%s", cfg.Polish.Backend)
		}
	}
	if cfg.Polish.TimeoutSec <= 0 {
		return nil, fmt.Errorf("polish.timeout_s must be > 0")
	}

	if cfg.Inject.Threshold <= 0 {
		return nil, fmt.Errorf("inject.threshold must be > 0")
	}
	if cfg.Inject.ChunkSize <= 0 {
		return nil, fmt.Errorf("inject.chunk_size must be > 0")
	}
	if cfg.Inject.ChunkDelayMS < 0 || cfg.Inject.RestoreDelayMS < 0 {
		return nil, fmt.Errorf("inject delays must be >= 0")
	}
	if len(cfg.Inject.TypeCmd.Argv) == 0 {
		return nil, fmt.Errorf("inject.type_cmd must not be empty")
	}
	if err := oneOf("inject.paste", cfg.Inject.Paste, pasteBackends); err != nil {
		return nil, err
	}
	if cfg.Inject.Paste == "command" && len(cfg.Inject.PasteCmd.Argv) == 0 {
		return nil, fmt.Errorf("inject.paste_cmd must not be empty when inject.paste=command")
	}
	if cfg.Inject.Paste == "hypr" && strings.TrimSpace(cfg.Inject.Shortcut) == "" {
		return nil, fmt.Errorf("inject.shortcut must not be empty when inject.paste=hypr")
	}

	if cfg.Session.SuccessResetMS < 0 || cfg.Session.ErrorResetMS < 0 {
		return nil, fmt.Errorf("session reset delays must be >= 0")
	}

	if cfg.Indicator.NotifyEnable && strings.TrimSpace(cfg.Indicator.AppName) == "" {
		return nil, fmt.Errorf("indicator.app_name must not be empty when indicator.notify_enable=true")
	}

	return warnings, nil
}

func oneOf(field string, value string, allowed []string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if !slices.Contains(allowed, value) {
		return fmt.Errorf("%s must be one of: %s", field, strings.Join(allowed, ", "))
	}
	return nil
}
