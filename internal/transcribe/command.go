package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// WAVPlaceholder is replaced by the captured audio path in engine commands.
const WAVPlaceholder = "{wav}"

// NewCommandLoader returns a Loader for a local CLI engine such as
// whisper.cpp. The transcript is read from stdout.
func NewCommandLoader(argv []string, timeout time.Duration) Loader {
	return func(context.Context) (Model, error) {
		if len(argv) == 0 {
			return nil, errors.New("engine command is empty")
		}
		if _, err := exec.LookPath(argv[0]); err != nil {
			return nil, fmt.Errorf("engine command %q: %w", argv[0], err)
		}
		return &commandModel{argv: argv, timeout: timeout}, nil
	}
}

type commandModel struct {
	argv    []string
	timeout time.Duration
}

func (m *commandModel) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	f, err := tempWAV(samples, sampleRate)
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if err := f.Close(); err != nil {
		return "", err
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	args := expandArgs(m.argv[1:], f.Name())
	cmd := exec.CommandContext(ctx, m.argv[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("engine command %q: %w (%s)", m.argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (m *commandModel) Close() error {
	return nil
}

func expandArgs(args []string, wavPath string) []string {
	out := make([]string, 0, len(args)+1)
	replaced := false
	for _, arg := range args {
		if strings.Contains(arg, WAVPlaceholder) {
			arg = strings.ReplaceAll(arg, WAVPlaceholder, wavPath)
			replaced = true
		}
		out = append(out, arg)
	}
	if !replaced {
		out = append(out, wavPath)
	}
	return out
}
