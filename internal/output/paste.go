package output

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"

	"github.com/rbright/murmur/internal/hypr"
)

// HyprPaster sends the paste shortcut to the active Hyprland window.
type HyprPaster struct {
	Shortcut string
}

func (p HyprPaster) Paste(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1200*time.Millisecond)
	defer cancel()

	window, err := activeWindowWithRetry(ctx, 5, 10*time.Millisecond)
	if err != nil {
		return err
	}
	payload, err := buildPasteShortcut(p.Shortcut, window.Address)
	if err != nil {
		return err
	}
	return hypr.SendShortcut(ctx, payload)
}

// CommandPaster runs a configured paste command.
type CommandPaster struct {
	Argv []string
}

func (p CommandPaster) Paste(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return runCommandWithInput(ctx, p.Argv, "")
}

// KeybdPaster emits Ctrl+V through a virtual keyboard device.
type KeybdPaster struct {
	mu sync.Mutex
	kb keybd_event.KeyBonding
}

// NewKeybdPaster creates the virtual keyboard. On Linux this requires write
// access to /dev/uinput.
func NewKeybdPaster() (*KeybdPaster, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("create virtual keyboard: %w", err)
	}
	return &KeybdPaster{kb: kb}, nil
}

func (p *KeybdPaster) Paste(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.kb.Clear()
	p.kb.SetKeys(keybd_event.VK_V)
	p.kb.HasCTRL(true)
	if err := p.kb.Launching(); err != nil {
		return fmt.Errorf("send ctrl+v: %w", err)
	}
	return nil
}

func buildPasteShortcut(shortcut string, windowAddress string) (string, error) {
	shortcut = strings.TrimSpace(shortcut)
	if shortcut == "" {
		return "", fmt.Errorf("paste shortcut cannot be empty")
	}
	address := strings.TrimSpace(windowAddress)
	if address == "" {
		return "", fmt.Errorf("active window address is required")
	}
	return fmt.Sprintf("%s,address:%s", shortcut, address), nil
}

func activeWindowWithRetry(ctx context.Context, attempts int, delay time.Duration) (hypr.ActiveWindow, error) {
	attempts = max(attempts, 1)

	var lastErr error
	for i := range attempts {
		window, err := hypr.QueryActiveWindow(ctx)
		if err == nil {
			return window, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return hypr.ActiveWindow{}, err
		}
	}
	return hypr.ActiveWindow{}, fmt.Errorf("resolve active window: %w", lastErr)
}
