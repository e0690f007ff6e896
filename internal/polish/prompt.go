package polish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// PromptFile serves an instruction loaded from disk and reloads it when the
// file changes. A missing or empty file yields the fallback.
type PromptFile struct {
	logger   *slog.Logger
	path     string
	fallback string

	mu   sync.RWMutex
	text string
}

// NewPromptFile reads path once. A missing file is not an error.
func NewPromptFile(logger *slog.Logger, path string, fallback string) *PromptFile {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &PromptFile{logger: logger, path: path, fallback: fallback}
	p.reload()
	return p
}

// Text returns the current instruction.
func (p *PromptFile) Text() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.text == "" {
		return p.fallback
	}
	return p.text
}

// Watch reloads the prompt on writes until ctx is cancelled. The parent
// directory is watched so editors that replace the file are handled.
func (p *PromptFile) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch prompt dir %q: %w", dir, err)
	}

	target := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				p.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("prompt watcher error", "error", err)
		}
	}
}

func (p *PromptFile) reload() {
	content, err := os.ReadFile(p.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("read prompt file", "path", p.path, "error", err)
		return
	}

	text := strings.TrimSpace(string(content))
	p.mu.Lock()
	changed := text != p.text
	p.text = text
	p.mu.Unlock()

	if changed {
		p.logger.Info("polish prompt loaded", "path", p.path, "chars", len(text), "fallback", text == "")
	}
}
