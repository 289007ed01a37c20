// Package doctor runs runtime readiness diagnostics for config, output
// tools, audio devices, and the transcription backend.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/ewilde/mutter/internal/audio"
	"github.com/ewilde/mutter/internal/config"
)

const endpointProbeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	configMessage := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		configMessage = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: configMessage})

	checks = append(checks, checkAPIKey(cfg.Config.Backend))
	checks = append(checks, checkOutputTools(cfg.Config.Output)...)
	checks = append(checks, checkAudioDevice(cfg.Config.Audio))
	checks = append(checks, checkBackendReachable(cfg.Config.Backend))

	return Report{Checks: checks}
}

// checkAPIKey requires an API key only for the realtime backend; the
// streaming backend is typically a local unauthenticated server.
func checkAPIKey(backend config.BackendConfig) Check {
	if backend.Variant != config.VariantRealtime {
		return Check{Name: "backend.api_key", Pass: true, Message: "not required for " + backend.Variant + " backend"}
	}
	if strings.TrimSpace(backend.APIKey) == "" {
		return Check{Name: "backend.api_key", Pass: false, Message: "realtime backend requires backend.api_key or MUTTER_API_KEY"}
	}
	return Check{Name: "backend.api_key", Pass: true, Message: "api key is set"}
}

// checkOutputTools verifies the configured insertion tool binaries exist.
func checkOutputTools(out config.OutputConfig) []Check {
	checks := []Check{}

	if len(out.Type.Argv) == 0 && len(out.Clipboard.Argv) == 0 {
		checks = append(checks, Check{
			Name:    "output.tools",
			Pass:    false,
			Message: "neither type_cmd nor clipboard_cmd is configured",
		})
		return checks
	}

	if len(out.Type.Argv) > 0 {
		checks = append(checks, checkCommand(out.Type.Argv, "type_cmd"))
	}
	if len(out.Clipboard.Argv) > 0 {
		checks = append(checks, checkCommand(out.Clipboard.Argv, "clipboard_cmd"))
	}
	if len(out.Paste.Argv) > 0 {
		checks = append(checks, checkCommand(out.Paste.Argv, "paste_cmd"))
	}

	return checks
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioDevice enumerates live input sources and resolves the configured
// selection against them.
func checkAudioDevice(cfg config.AudioConfig) Check {
	devices, err := audio.ListInputDevices(context.Background())
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	if len(devices) == 0 {
		return Check{Name: "audio.device", Pass: false, Message: "no live input devices found"}
	}

	wanted := cfg.InputDeviceID()
	if wanted == "" {
		for _, device := range devices {
			if device.Default {
				return Check{Name: "audio.device", Pass: true, Message: fmt.Sprintf("system default %q", device.ID)}
			}
		}
		return Check{Name: "audio.device", Pass: true, Message: fmt.Sprintf("%d input devices, no default marked", len(devices))}
	}

	device, found := audio.FindDevice(devices, wanted)
	if !found {
		return Check{Name: "audio.device", Pass: false, Message: fmt.Sprintf("configured device %q is not available", wanted)}
	}
	message := fmt.Sprintf("selected %q", device.ID)
	if device.Muted {
		message += " (muted)"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkBackendReachable probes the configured endpoint with a TCP dial. A
// full websocket handshake is deliberately out of scope here; the goal is to
// catch wrong hosts and down servers before a dictation session starts.
func checkBackendReachable(backend config.BackendConfig) Check {
	hostport, err := endpointHostPort(backend.Endpoint)
	if err != nil {
		return Check{Name: "backend.endpoint", Pass: false, Message: err.Error()}
	}

	conn, err := net.DialTimeout("tcp", hostport, endpointProbeTimeout)
	if err != nil {
		return Check{Name: "backend.endpoint", Pass: false, Message: fmt.Sprintf("dial %s: %v", hostport, err)}
	}
	_ = conn.Close()
	return Check{Name: "backend.endpoint", Pass: true, Message: fmt.Sprintf("reachable at %s", hostport)}
}

// endpointHostPort extracts a dialable host:port from the endpoint, applying
// the scheme's default port when none is given.
func endpointHostPort(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("backend.endpoint is empty")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "ws://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}

	port := parsed.Port()
	if port == "" {
		switch parsed.Scheme {
		case "wss", "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(parsed.Hostname(), port), nil
}
