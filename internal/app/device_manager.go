package app

import (
	"log/slog"
	"sync"

	"github.com/emmett/voxcmd/internal/audio"
)

// DeviceManager handles audio device listing and tracks the selected input.
// The selection is not validated; the capturer resolves it at open time.
type DeviceManager struct {
	mu       sync.RWMutex
	selected string
	list     func() ([]audio.DeviceInfo, error)
	logger   *slog.Logger
}

// NewDeviceManager creates a new DeviceManager instance using the system
// audio backend.
func NewDeviceManager(logger *slog.Logger) *DeviceManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceManager{
		list:   audio.ListDevices,
		logger: logger.With("component", "devices"),
	}
}

// ListDevices lists all available audio input devices. Enumeration failures
// are logged and reported as no devices.
func (dm *DeviceManager) ListDevices() []audio.DeviceInfo {
	devices, err := dm.list()
	if err != nil {
		dm.logger.Warn("failed to list devices", "error", err)
		return []audio.DeviceInfo{}
	}
	if devices == nil {
		devices = []audio.DeviceInfo{}
	}
	return devices
}

// SelectDevice stores the preferred device name. Empty means system default.
// It affects the next recording, never one in progress.
func (dm *DeviceManager) SelectDevice(name string) {
	dm.mu.Lock()
	dm.selected = name
	dm.mu.Unlock()

	dm.logger.Info("input device selected", "device", dm.label(name))
}

// SelectedDevice returns the selected device name, "" for the default
func (dm *DeviceManager) SelectedDevice() string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.selected
}

// Lookup finds a currently connected device matching name.
func (dm *DeviceManager) Lookup(name string) (audio.DeviceInfo, bool) {
	devices := dm.ListDevices()
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	idx := audio.MatchDevice(names, name)
	if idx < 0 {
		return audio.DeviceInfo{}, false
	}
	return devices[idx], true
}

func (dm *DeviceManager) label(name string) string {
	if name == "" {
		return "default"
	}
	return name
}
