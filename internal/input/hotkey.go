// Package input registers the global push-to-talk hotkey.
package input

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.design/x/hotkey"
)

// HotkeyManager turns presses of one global hotkey into recording toggles.
type HotkeyManager struct {
	mu        sync.Mutex
	hk        *hotkey.Hotkey
	recording bool
	onToggle  func(recording bool)
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewHotkeyManager creates a manager that calls onToggle with the new
// recording state on every keydown.
func NewHotkeyManager(onToggle func(recording bool)) *HotkeyManager {
	return &HotkeyManager{onToggle: onToggle}
}

// Start registers combo (e.g. "ctrl+shift+space") and begins delivering
// toggles until ctx is done or Stop is called.
func (h *HotkeyManager) Start(ctx context.Context, combo string) error {
	mods, key, err := ParseHotkey(combo)
	if err != nil {
		return fmt.Errorf("invalid hotkey %q: %w", combo, err)
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey %q: %w", combo, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.mu.Lock()
	h.hk, h.cancel, h.done = hk, cancel, done
	h.mu.Unlock()

	go h.loop(ctx, hk, done)
	return nil
}

func (h *HotkeyManager) loop(ctx context.Context, hk *hotkey.Hotkey, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-hk.Keydown():
			if !ok {
				return
			}
			h.mu.Lock()
			h.recording = !h.recording
			recording := h.recording
			h.mu.Unlock()

			if h.onToggle != nil {
				h.onToggle(recording)
			}
		}
	}
}

// Stop unregisters the hotkey and waits briefly for the event loop to exit.
func (h *HotkeyManager) Stop() {
	h.mu.Lock()
	hk, cancel, done := h.hk, h.cancel, h.done
	h.hk, h.cancel, h.done = nil, nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if hk != nil {
		_ = hk.Unregister()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// IsRecording returns the toggle state
func (h *HotkeyManager) IsRecording() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recording
}

// SetRecording resynchronizes the toggle state, e.g. after a start that
// failed so the next press starts again instead of stopping.
func (h *HotkeyManager) SetRecording(recording bool) {
	h.mu.Lock()
	h.recording = recording
	h.mu.Unlock()
}

var namedKeys = map[string]hotkey.Key{
	"space":  hotkey.KeySpace,
	"return": hotkey.KeyReturn,
	"enter":  hotkey.KeyReturn,
	"tab":    hotkey.KeyTab,
	"escape": hotkey.KeyEscape,
	"esc":    hotkey.KeyEscape,
	"f1":     hotkey.KeyF1,
	"f2":     hotkey.KeyF2,
	"f3":     hotkey.KeyF3,
	"f4":     hotkey.KeyF4,
	"f5":     hotkey.KeyF5,
	"f6":     hotkey.KeyF6,
	"f7":     hotkey.KeyF7,
	"f8":     hotkey.KeyF8,
	"f9":     hotkey.KeyF9,
	"f10":    hotkey.KeyF10,
	"f11":    hotkey.KeyF11,
	"f12":    hotkey.KeyF12,
}

var letterKeys = [26]hotkey.Key{
	hotkey.KeyA, hotkey.KeyB, hotkey.KeyC, hotkey.KeyD, hotkey.KeyE, hotkey.KeyF,
	hotkey.KeyG, hotkey.KeyH, hotkey.KeyI, hotkey.KeyJ, hotkey.KeyK, hotkey.KeyL,
	hotkey.KeyM, hotkey.KeyN, hotkey.KeyO, hotkey.KeyP, hotkey.KeyQ, hotkey.KeyR,
	hotkey.KeyS, hotkey.KeyT, hotkey.KeyU, hotkey.KeyV, hotkey.KeyW, hotkey.KeyX,
	hotkey.KeyY, hotkey.KeyZ,
}

var digitKeys = [10]hotkey.Key{
	hotkey.Key0, hotkey.Key1, hotkey.Key2, hotkey.Key3, hotkey.Key4,
	hotkey.Key5, hotkey.Key6, hotkey.Key7, hotkey.Key8, hotkey.Key9,
}

// ParseHotkey parses a combination like "ctrl+shift+space" into modifiers
// and exactly one key.
func ParseHotkey(s string) ([]hotkey.Modifier, hotkey.Key, error) {
	if strings.TrimSpace(s) == "" {
		return nil, 0, fmt.Errorf("empty hotkey string")
	}

	var mods []hotkey.Modifier
	var key hotkey.Key
	var keyFound bool

	for _, part := range strings.Split(strings.ToLower(s), "+") {
		part = strings.TrimSpace(part)
		switch part {
		case "ctrl", "control":
			mods = append(mods, hotkey.ModCtrl)
		case "shift":
			mods = append(mods, hotkey.ModShift)
		case "alt", "option":
			mods = append(mods, modAlt())
		case "cmd", "command", "super", "win":
			mods = append(mods, modSuper())
		default:
			if keyFound {
				return nil, 0, fmt.Errorf("multiple keys specified")
			}
			k, err := parseKey(part)
			if err != nil {
				return nil, 0, err
			}
			key = k
			keyFound = true
		}
	}

	if !keyFound {
		return nil, 0, fmt.Errorf("no key specified")
	}
	return mods, key, nil
}

func parseKey(s string) (hotkey.Key, error) {
	if k, ok := namedKeys[s]; ok {
		return k, nil
	}
	if len(s) == 1 {
		switch c := s[0]; {
		case c >= 'a' && c <= 'z':
			return letterKeys[c-'a'], nil
		case c >= '0' && c <= '9':
			return digitKeys[c-'0'], nil
		}
	}
	return 0, fmt.Errorf("unknown key: %s", s)
}
