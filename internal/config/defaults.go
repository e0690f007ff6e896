package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	typeCmd := "wtype -"

	return Config{
		Hotkey: HotkeyConfig{
			Primary:         "ctrl",
			Refine:          "q",
			PollMS:          50,
			MaxRecordingSec: 120,
		},
		Audio: AudioConfig{
			Backend:          "pulse",
			Input:            "default",
			Fallback:         "default",
			SilenceThreshold: 0.015,
			SilenceSec:       5,
		},
		Engine: EngineConfig{
			Backend:           "openai",
			Model:             "whisper-1",
			Language:          "en",
			APIKeyEnv:         "OPENAI_API_KEY",
			Warmup:            true,
			IdleUnloadSec:     300,
			RequestTimeoutSec: 60,
		},
		Polish: PolishConfig{
			Backend:    "none",
			Model:      "gemini-1.5-flash",
			APIKeyEnv:  "GOOGLE_API_KEY",
			TimeoutSec: 15,
		},
		Inject: InjectConfig{
			Threshold:      1000,
			ChunkSize:      20,
			ChunkDelayMS:   2,
			RestoreDelayMS: 800,
			TypeCmd:        CommandConfig{Raw: typeCmd, Argv: mustParseArgv(typeCmd)},
			Paste:          "hypr",
			Shortcut:       "CTRL,V",
		},
		Session: SessionConfig{
			SuccessResetMS: 2000,
			ErrorResetMS:   3000,
		},
		Transcript: TranscriptConfig{
			TrailingSpace: true,
			Capitalize:    true,
		},
		Indicator: IndicatorConfig{
			SoundEnable:  true,
			NotifyEnable: true,
			AppName:      "murmur",
		},
		Debug: DebugConfig{},
	}
}
