package hotkey

import (
	"context"
	"fmt"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// HookSource tracks global key state from gohook keyboard events.
type HookSource struct {
	codes map[Key][]uint16

	mu      sync.Mutex
	pressed map[uint16]bool
}

// NewHookSource resolves the watched key names up front so a typo fails at
// startup instead of silently never firing.
func NewHookSource(keys ...Key) (*HookSource, error) {
	codes := make(map[Key][]uint16, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		resolved, err := ResolveKey(key)
		if err != nil {
			return nil, err
		}
		codes[key] = resolved
	}
	return &HookSource{codes: codes, pressed: make(map[uint16]bool)}, nil
}

// ResolveKey maps a key name to its keycodes. Modifier names also match
// their right-hand variant.
func ResolveKey(key Key) ([]uint16, error) {
	name := strings.ToLower(strings.TrimSpace(string(key)))
	code, ok := hook.Keycode[name]
	if !ok {
		return nil, fmt.Errorf("unknown key %q", key)
	}
	codes := []uint16{code}
	if right, ok := hook.Keycode["r"+name]; ok && len(name) > 1 && right != code {
		codes = append(codes, right)
	}
	return codes, nil
}

// Run consumes global keyboard events until ctx is cancelled.
func (s *HookSource) Run(ctx context.Context) error {
	events := hook.Start()
	defer hook.End()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("keyboard hook closed")
			}
			s.apply(ev)
		}
	}
}

// Down reports whether any keycode bound to key is held.
func (s *HookSource) Down(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, code := range s.codes[key] {
		if s.pressed[code] {
			return true
		}
	}
	return false
}

func (s *HookSource) apply(ev hook.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case hook.KeyDown, hook.KeyHold:
		s.pressed[ev.Keycode] = true
	case hook.KeyUp:
		delete(s.pressed, ev.Keycode)
	}
}
