package audio

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// DeviceInfo contains information about an audio input device
type DeviceInfo struct {
	ID        string `json:"id"`         // Position in the backend's enumeration, e.g. "capture-0"
	Name      string `json:"name"`       // Human-readable device name
	IsDefault bool   `json:"is_default"` // Whether this is the system default input
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	defaultMarker := ""
	if d.IsDefault {
		defaultMarker = " [DEFAULT]"
	}
	return fmt.Sprintf("%s: %s%s", d.ID, d.Name, defaultMarker)
}

// ListDevices returns all available capture devices
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, DeviceInfo{
			ID:        fmt.Sprintf("capture-%d", i),
			Name:      info.Name(),
			IsDefault: info.IsDefault > 0,
		})
	}

	return devices, nil
}

// findCaptureDevice resolves a device name against the backend's current
// capture devices.
func findCaptureDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("%w: enumerate devices: %v", ErrDeviceUnavailable, err)
	}

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}

	idx := MatchDevice(names, name)
	if idx < 0 {
		return malgo.DeviceInfo{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	return infos[idx], nil
}

// MatchDevice returns the index of the device that best matches query, or -1.
// An exact case-insensitive name match wins over a partial one.
func MatchDevice(names []string, query string) int {
	search := strings.ToLower(strings.TrimSpace(query))
	if search == "" {
		return -1
	}

	for i, name := range names {
		if strings.ToLower(name) == search {
			return i
		}
	}
	for i, name := range names {
		if strings.Contains(strings.ToLower(name), search) {
			return i
		}
	}
	return -1
}
