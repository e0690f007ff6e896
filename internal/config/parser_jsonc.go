package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Hotkey     *jsoncHotkey     `json:"hotkey"`
	Audio      *jsoncAudio      `json:"audio"`
	Engine     *jsoncEngine     `json:"engine"`
	Polish     *jsoncPolish     `json:"polish"`
	Inject     *jsoncInject     `json:"inject"`
	Session    *jsoncSession    `json:"session"`
	Transcript *jsoncTranscript `json:"transcript"`
	Indicator  *jsoncIndicator  `json:"indicator"`
	Debug      *jsoncDebug      `json:"debug"`
}

type jsoncHotkey struct {
	Primary         *string `json:"primary"`
	Refine          *string `json:"refine"`
	PollMS          *int    `json:"poll_ms"`
	MaxRecordingSec *int    `json:"max_recording_s"`
}

type jsoncAudio struct {
	Backend          *string  `json:"backend"`
	Input            *string  `json:"input"`
	Fallback         *string  `json:"fallback"`
	SilenceThreshold *float64 `json:"silence_threshold"`
	SilenceSec       *float64 `json:"silence_s"`
}

type jsoncEngine struct {
	Backend           *string `json:"backend"`
	Model             *string `json:"model"`
	Language          *string `json:"language"`
	Prompt            *string `json:"prompt"`
	APIKeyEnv         *string `json:"api_key_env"`
	BaseURL           *string `json:"base_url"`
	Command           *string `json:"command"`
	Warmup            *bool   `json:"warmup"`
	IdleUnloadSec     *int    `json:"idle_unload_s"`
	RequestTimeoutSec *int    `json:"request_timeout_s"`
}

type jsoncPolish struct {
	Backend    *string `json:"backend"`
	Model      *string `json:"model"`
	APIKeyEnv  *string `json:"api_key_env"`
	BaseURL    *string `json:"base_url"`
	PromptFile *string `json:"prompt_file"`
	TimeoutSec *int    `json:"timeout_s"`
}

type jsoncInject struct {
	Threshold      *int    `json:"threshold"`
	ChunkSize      *int    `json:"chunk_size"`
	ChunkDelayMS   *int    `json:"chunk_delay_ms"`
	RestoreDelayMS *int    `json:"restore_delay_ms"`
	TypeCmd        *string `json:"type_cmd"`
	Paste          *string `json:"paste"`
	PasteCmd       *string `json:"paste_cmd"`
	Shortcut       *string `json:"shortcut"`
}

type jsoncSession struct {
	SuccessResetMS *int `json:"success_reset_ms"`
	ErrorResetMS   *int `json:"error_reset_ms"`
}

type jsoncTranscript struct {
	TrailingSpace *bool `json:"trailing_space"`
	Capitalize    *bool `json:"capitalize"`
}

type jsoncIndicator struct {
	SoundEnable  *bool   `json:"sound_enable"`
	NotifyEnable *bool   `json:"notify_enable"`
	AppName      *string `json:"app_name"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setCommand(dst *CommandConfig, src *string, field string) error {
	if src == nil {
		return nil
	}
	argv, err := parseArgv(*src)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dst = CommandConfig{Raw: *src, Argv: argv}
	return nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if h := payload.Hotkey; h != nil {
		setString(&cfg.Hotkey.Primary, h.Primary)
		setString(&cfg.Hotkey.Refine, h.Refine)
		setValue(&cfg.Hotkey.PollMS, h.PollMS)
		setValue(&cfg.Hotkey.MaxRecordingSec, h.MaxRecordingSec)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Backend, a.Backend)
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setValue(&cfg.Audio.SilenceThreshold, a.SilenceThreshold)
		setValue(&cfg.Audio.SilenceSec, a.SilenceSec)
	}

	if e := payload.Engine; e != nil {
		setString(&cfg.Engine.Backend, e.Backend)
		setString(&cfg.Engine.Model, e.Model)
		setString(&cfg.Engine.Language, e.Language)
		setValue(&cfg.Engine.Prompt, e.Prompt)
		setString(&cfg.Engine.APIKeyEnv, e.APIKeyEnv)
		setString(&cfg.Engine.BaseURL, e.BaseURL)
		if err := setCommand(&cfg.Engine.Command, e.Command, "engine.command"); err != nil {
			return nil, err
		}
		setValue(&cfg.Engine.Warmup, e.Warmup)
		setValue(&cfg.Engine.IdleUnloadSec, e.IdleUnloadSec)
		setValue(&cfg.Engine.RequestTimeoutSec, e.RequestTimeoutSec)
	}

	if p := payload.Polish; p != nil {
		setString(&cfg.Polish.Backend, p.Backend)
		setString(&cfg.Polish.Model, p.Model)
		setString(&cfg.Polish.APIKeyEnv, p.APIKeyEnv)
		setString(&cfg.Polish.BaseURL, p.BaseURL)
		setString(&cfg.Polish.PromptFile, p.PromptFile)
		setValue(&cfg.Polish.TimeoutSec, p.TimeoutSec)
	}

	if i := payload.Inject; i != nil {
		setValue(&cfg.Inject.Threshold, i.Threshold)
		setValue(&cfg.Inject.ChunkSize, i.ChunkSize)
		setValue(&cfg.Inject.ChunkDelayMS, i.ChunkDelayMS)
		setValue(&cfg.Inject.RestoreDelayMS, i.RestoreDelayMS)
		if err := setCommand(&cfg.Inject.TypeCmd, i.TypeCmd, "inject.type_cmd"); err != nil {
			return nil, err
		}
		setString(&cfg.Inject.Paste, i.Paste)
		if err := setCommand(&cfg.Inject.PasteCmd, i.PasteCmd, "inject.paste_cmd"); err != nil {
			return nil, err
		}
		setString(&cfg.Inject.Shortcut, i.Shortcut)
		if i.PasteCmd != nil && i.Paste == nil && len(cfg.Inject.PasteCmd.Argv) > 0 {
			cfg.Inject.Paste = "command"
			warnings = append(warnings, Warning{Message: "inject.paste_cmd set without inject.paste; using paste=command"})
		}
	}

	if s := payload.Session; s != nil {
		setValue(&cfg.Session.SuccessResetMS, s.SuccessResetMS)
		setValue(&cfg.Session.ErrorResetMS, s.ErrorResetMS)
	}

	if t := payload.Transcript; t != nil {
		setValue(&cfg.Transcript.TrailingSpace, t.TrailingSpace)
		setValue(&cfg.Transcript.Capitalize, t.Capitalize)
	}

	if ind := payload.Indicator; ind != nil {
		setValue(&cfg.Indicator.SoundEnable, ind.SoundEnable)
		setValue(&cfg.Indicator.NotifyEnable, ind.NotifyEnable)
		setString(&cfg.Indicator.AppName, ind.AppName)
	}

	if payload.Debug != nil {
		setValue(&cfg.Debug.EnableAudioDump, payload.Debug.AudioDump)
	}

	return warnings, nil
}

// normalizeJSONC blanks out comments and drops trailing commas so the result
// decodes as strict JSON while byte offsets still map to the original lines.
func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

type jsonStringTracker struct {
	inString bool
	escape   bool
}

// step reports whether ch is part of a string literal (including its quotes).
func (s *jsonStringTracker) step(ch byte) bool {
	if s.inString {
		switch {
		case s.escape:
			s.escape = false
		case ch == '\\':
			s.escape = true
		case ch == '"':
			s.inString = false
		}
		return true
	}
	if ch == '"' {
		s.inString = true
		return true
	}
	return false
}

func stripJSONCComments(content string) (string, error) {
	out := []byte(content)
	var str jsonStringTracker

	for i := 0; i < len(out); i++ {
		if str.step(out[i]) {
			continue
		}
		if out[i] != '/' || i+1 >= len(out) {
			continue
		}

		switch out[i+1] {
		case '/':
			for i < len(out) && out[i] != '\n' && out[i] != '\r' {
				out[i] = ' '
				i++
			}
		case '*':
			out[i], out[i+1] = ' ', ' '
			i += 2
			closed := false
			for ; i < len(out); i++ {
				if out[i] == '*' && i+1 < len(out) && out[i+1] == '/' {
					out[i], out[i+1] = ' ', ' '
					i++
					closed = true
					break
				}
				if out[i] != '\n' && out[i] != '\r' && out[i] != '\t' {
					out[i] = ' '
				}
			}
			if !closed {
				return "", fmt.Errorf("unterminated block comment in JSONC")
			}
		}
	}

	return string(out), nil
}

func stripJSONCTrailingCommas(content string) string {
	out := []byte(content)
	var str jsonStringTracker

	for i := 0; i < len(out); i++ {
		if str.step(out[i]) || out[i] != ',' {
			continue
		}
		j := i + 1
		for j < len(out) && isJSONWhitespace(out[j]) {
			j++
		}
		if j < len(out) && (out[j] == '}' || out[j] == ']') {
			out[i] = ' '
		}
	}

	return string(out)
}

func isJSONWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var offset int64 = -1

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	}
	if offset < 0 {
		return err
	}

	line, col := offsetToLineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := min(int(offset), len(content))
	prefix := content[:max(limit-1, 0)]
	line := strings.Count(prefix, "\n") + 1
	col := len(prefix) - strings.LastIndex(prefix, "\n")
	return line, col
}
