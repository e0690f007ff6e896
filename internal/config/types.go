// Package config resolves, parses, validates, and defaults murmur configuration.
package config

// Config is the fully materialized runtime configuration used by murmur.
type Config struct {
	Hotkey     HotkeyConfig
	Audio      AudioConfig
	Engine     EngineConfig
	Polish     PolishConfig
	Inject     InjectConfig
	Session    SessionConfig
	Transcript TranscriptConfig
	Indicator  IndicatorConfig
	Debug      DebugConfig
}

// HotkeyConfig names the hold-to-talk keys and the recording watchdog.
type HotkeyConfig struct {
	Primary         string
	Refine          string
	PollMS          int
	MaxRecordingSec int
}

// AudioConfig controls capture backend, device selection, and silence auto-stop.
type AudioConfig struct {
	Backend          string
	Input            string
	Fallback         string
	SilenceThreshold float64
	SilenceSec       float64
}

// EngineConfig selects and tunes the transcription engine.
type EngineConfig struct {
	Backend           string
	Model             string
	Language          string
	Prompt            string
	APIKeyEnv         string
	BaseURL           string
	Command           CommandConfig
	Warmup            bool
	IdleUnloadSec     int
	RequestTimeoutSec int
}

// PolishConfig selects the optional refine-mode text polisher.
type PolishConfig struct {
	Backend    string
	Model      string
	APIKeyEnv  string
	BaseURL    string
	PromptFile string
	TimeoutSec int
}

// InjectConfig controls how final text reaches the focused application.
type InjectConfig struct {
	Threshold      int
	ChunkSize      int
	ChunkDelayMS   int
	RestoreDelayMS int
	TypeCmd        CommandConfig
	Paste          string
	PasteCmd       CommandConfig
	Shortcut       string
}

// SessionConfig controls post-session auto-reset delays.
type SessionConfig struct {
	SuccessResetMS int
	ErrorResetMS   int
}

// TranscriptConfig controls transcript normalization.
type TranscriptConfig struct {
	TrailingSpace bool
	Capitalize    bool
}

// IndicatorConfig controls audio cue and desktop notification behavior.
type IndicatorConfig struct {
	SoundEnable  bool
	NotifyEnable bool
	AppName      string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
