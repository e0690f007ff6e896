package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIConfig configures the OpenAI-compatible transcription backend.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Prompt   string
	Timeout  time.Duration
}

// NewOpenAILoader returns a Loader for an OpenAI-compatible
// /audio/transcriptions endpoint.
func NewOpenAILoader(cfg OpenAIConfig) Loader {
	return func(context.Context) (Model, error) {
		if strings.TrimSpace(cfg.APIKey) == "" && strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("openai api key is not set")
		}

		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(1)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
		}
		return &openAIModel{client: openai.NewClient(opts...), cfg: cfg}, nil
	}
}

type openAIModel struct {
	client openai.Client
	cfg    OpenAIConfig
}

func (m *openAIModel) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	f, err := tempWAV(samples, sampleRate)
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(f, "audio.wav", "audio/wav"),
		Model: openai.AudioModel(m.cfg.Model),
	}
	if m.cfg.Language != "" {
		params.Language = openai.String(m.cfg.Language)
	}
	if m.cfg.Prompt != "" {
		params.Prompt = openai.String(m.cfg.Prompt)
	}

	resp, err := m.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return resp.Text, nil
}

func (m *openAIModel) Close() error {
	return nil
}
