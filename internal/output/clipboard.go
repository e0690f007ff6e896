package output

import (
	"fmt"

	"github.com/atotto/clipboard"
)

// Clipboard reads and writes the system clipboard as text.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

// SystemClipboard uses the desktop clipboard through wl-clipboard, xclip,
// or xsel, whichever is installed.
type SystemClipboard struct{}

func (SystemClipboard) Read() (string, error) {
	if clipboard.Unsupported {
		return "", fmt.Errorf("no clipboard utility found")
	}
	return clipboard.ReadAll()
}

func (SystemClipboard) Write(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("no clipboard utility found")
	}
	return clipboard.WriteAll(text)
}

// Snapshot is clipboard content captured before a fallback paste.
type Snapshot struct {
	text string
}

// ClipboardManager snapshots, overwrites, and restores the clipboard.
type ClipboardManager struct {
	clipboard Clipboard
}

// NewClipboardManager wraps c.
func NewClipboardManager(c Clipboard) *ClipboardManager {
	return &ClipboardManager{clipboard: c}
}

// Snapshot captures the current clipboard.
func (m *ClipboardManager) Snapshot() (Snapshot, error) {
	if m.clipboard == nil {
		return Snapshot{}, fmt.Errorf("clipboard unavailable")
	}
	text, err := m.clipboard.Read()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read clipboard: %w", err)
	}
	return Snapshot{text: text}, nil
}

// Write replaces the clipboard with text.
func (m *ClipboardManager) Write(text string) error {
	if m.clipboard == nil {
		return fmt.Errorf("clipboard unavailable")
	}
	return m.clipboard.Write(text)
}

// Restore puts snap back while the clipboard still holds pasted. It reports
// whether a restore happened.
func (m *ClipboardManager) Restore(snap Snapshot, pasted string) (bool, error) {
	current, err := m.clipboard.Read()
	if err != nil {
		return false, fmt.Errorf("read clipboard: %w", err)
	}
	if current != pasted {
		return false, nil
	}
	if err := m.clipboard.Write(snap.text); err != nil {
		return false, fmt.Errorf("restore clipboard: %w", err)
	}
	return true, nil
}
