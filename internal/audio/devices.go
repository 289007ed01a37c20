// Package audio handles input-device discovery, capture, and PCM conversion.
package audio

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// Device describes one selectable input source.
type Device struct {
	ID         string
	Name       string
	State      string
	Alive      bool
	Muted      bool
	Default    bool
	SampleRate int
	Channels   int
}

// External reports whether the device looks like a pluggable (USB/Bluetooth)
// source rather than a built-in input. External routes stabilize more slowly
// after a hot-swap, which the health monitor accounts for.
func (d Device) External() bool {
	id := strings.ToLower(d.ID)
	return strings.Contains(id, "usb") || strings.Contains(id, "bluez") || strings.Contains(id, "bluetooth")
}

// ListInputDevices enumerates live, selectable input sources sorted
// case-insensitively by display name. Monitor sources and dead devices are
// filtered out.
func ListInputDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return listInputDevices(client)
}

func listInputDevices(client *pulse.Client) ([]Device, error) {
	defaultID := ""
	if defaultSource, err := client.DefaultSource(); err == nil {
		defaultID = defaultSource.ID()
	}

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		device := Device{
			ID:         source.SourceName,
			Name:       source.Device,
			State:      sourceStateString(source.State),
			Alive:      sourceAlive(source),
			Muted:      source.Mute,
			Default:    source.SourceName == defaultID,
			SampleRate: int(source.SampleSpec.Rate),
			Channels:   int(source.SampleSpec.Channels),
		}
		if !selectableInput(device) {
			continue
		}
		devices = append(devices, device)
	}

	sort.Slice(devices, func(i, j int) bool {
		return strings.ToLower(displayName(devices[i])) < strings.ToLower(displayName(devices[j]))
	})
	return devices, nil
}

// selectableInput filters to devices with input channels that are alive and
// not hidden monitor taps.
func selectableInput(device Device) bool {
	if device.Channels <= 0 {
		return false
	}
	if !device.Alive {
		return false
	}
	if strings.HasSuffix(device.ID, ".monitor") {
		return false
	}
	return true
}

func displayName(device Device) string {
	if strings.TrimSpace(device.Name) != "" {
		return device.Name
	}
	return device.ID
}

// FindDevice resolves a device ID against the live device list.
func FindDevice(devices []Device, id string) (Device, bool) {
	for _, device := range devices {
		if device.ID == id {
			return device, true
		}
	}
	return Device{}, false
}

// DefaultInputDeviceID returns the current system default input source ID.
func DefaultInputDeviceID(_ context.Context) (string, error) {
	client, err := newPulseClient()
	if err != nil {
		return "", err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return "", fmt.Errorf("read default source: %w", err)
	}
	return defaultSource.ID(), nil
}

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("mutter"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAlive maps Pulse port availability to a simple liveness boolean.
func sourceAlive(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
