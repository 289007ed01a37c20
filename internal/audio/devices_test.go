package audio

import (
	"context"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestSelectableInputFilters(t *testing.T) {
	require.True(t, selectableInput(Device{ID: "mic", Channels: 1, Alive: true}))
	require.False(t, selectableInput(Device{ID: "mic", Channels: 0, Alive: true}))
	require.False(t, selectableInput(Device{ID: "mic", Channels: 1, Alive: false}))
	require.False(t, selectableInput(Device{ID: "sink.monitor", Channels: 2, Alive: true}))
}

func TestDeviceExternal(t *testing.T) {
	require.True(t, Device{ID: "alsa_input.usb-Elgato_Wave_3"}.External())
	require.True(t, Device{ID: "bluez_input.F8:4D:89"}.External())
	require.False(t, Device{ID: "alsa_input.pci-0000_00_1f.3"}.External())
}

func TestDisplayNameFallsBackToID(t *testing.T) {
	require.Equal(t, "Elgato Wave 3", displayName(Device{ID: "elgato", Name: "Elgato Wave 3"}))
	require.Equal(t, "elgato", displayName(Device{ID: "elgato", Name: "  "}))
}

func TestFindDevice(t *testing.T) {
	devices := []Device{{ID: "a"}, {ID: "b"}}

	device, ok := FindDevice(devices, "b")
	require.True(t, ok)
	require.Equal(t, "b", device.ID)

	_, ok = FindDevice(devices, "missing")
	require.False(t, ok)
}

func TestListInputDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListInputDevices(context.Background())
	require.Error(t, err)
}

func TestDefaultInputDeviceIDFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := DefaultInputDeviceID(context.Background())
	require.Error(t, err)
}

func TestSourceStateString(t *testing.T) {
	require.Equal(t, "running", sourceStateString(0))
	require.Equal(t, "idle", sourceStateString(1))
	require.Equal(t, "suspended", sourceStateString(2))
	require.Equal(t, "unknown(99)", sourceStateString(99))
}

func TestSourceAlive(t *testing.T) {
	require.False(t, sourceAlive(nil))
	require.True(t, sourceAlive(&pulseproto.GetSourceInfoReply{})) // no ports => alive

	alive := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, alive, []sourcePort{{name: "mic", available: 2}})
	require.True(t, sourceAlive(alive))

	dead := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, dead, []sourcePort{{name: "mic", available: 1}})
	require.False(t, sourceAlive(dead))
}

type sourcePort struct {
	name      string
	available uint
}

// setSourcePorts populates the reply's anonymous port struct slice via
// reflection so availability logic is testable without a Pulse server.
func setSourcePorts(t *testing.T, reply *pulseproto.GetSourceInfoReply, ports []sourcePort) {
	t.Helper()

	sliceType := reflect.TypeOf(reply.Ports)
	sliceValue := reflect.MakeSlice(sliceType, len(ports), len(ports))

	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}

	replyValue := reflect.ValueOf(reply).Elem().FieldByName("Ports")
	replyValue.Set(sliceValue)
}
