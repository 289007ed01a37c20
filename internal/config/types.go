// Package config resolves, parses, validates, and defaults mutter
// configuration.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend variant names.
const (
	VariantRealtime  = "realtime"
	VariantStreaming = "streaming"
)

// Output mode names.
const (
	OutputRealtime  = "realtime"
	OutputFinalized = "finalized"
)

// Config is the fully materialized runtime configuration used by mutter.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Audio   AudioConfig   `yaml:"audio"`
	Output  OutputConfig  `yaml:"output"`
	Debug   DebugConfig   `yaml:"debug"`
}

// BackendConfig selects and parameterizes the transcription backend.
type BackendConfig struct {
	Variant              string `yaml:"variant"`
	Endpoint             string `yaml:"endpoint"`
	Model                string `yaml:"model"`
	APIKey               string `yaml:"api_key"`
	CommitIntervalMS     int    `yaml:"commit_interval_ms"`
	TranscriptionDelayMS int    `yaml:"transcription_delay_ms"`
}

// CommitInterval returns the periodic commit cadence. Load clamps the raw
// value, so the result is always within the supported range.
func (b BackendConfig) CommitInterval() time.Duration {
	return time.Duration(b.CommitIntervalMS) * time.Millisecond
}

// TranscriptionDelay returns the optional delay hint for the streaming
// backend; zero means unset.
func (b BackendConfig) TranscriptionDelay() time.Duration {
	return time.Duration(b.TranscriptionDelayMS) * time.Millisecond
}

// AudioConfig controls input-device selection and the trailing silence
// streamed before finalization on the streaming backend.
type AudioConfig struct {
	Input          string `yaml:"input"`
	SilenceTailMS  int    `yaml:"silence_tail_ms"`
	SilenceChunkMS int    `yaml:"silence_chunk_ms"`
}

// InputDeviceID returns the preferred device ID, empty for system default.
func (a AudioConfig) InputDeviceID() string {
	if a.Input == "default" {
		return ""
	}
	return a.Input
}

// SilenceTail returns the trailing silence duration.
func (a AudioConfig) SilenceTail() time.Duration {
	return time.Duration(a.SilenceTailMS) * time.Millisecond
}

// SilenceChunk returns the silence frame granularity.
func (a AudioConfig) SilenceChunk() time.Duration {
	return time.Duration(a.SilenceChunkMS) * time.Millisecond
}

// OutputConfig controls how transcript text reaches the focused app.
type OutputConfig struct {
	Mode      string        `yaml:"mode"`
	Type      CommandConfig `yaml:"type_cmd"`
	Clipboard CommandConfig `yaml:"clipboard_cmd"`
	Paste     CommandConfig `yaml:"paste_cmd"`
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	AudioDump bool `yaml:"audio_dump"`
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// UnmarshalYAML parses a command string into argv form at load time.
func (c *CommandConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	argv, err := parseArgv(raw)
	if err != nil {
		return fmt.Errorf("parse command %q: %w", raw, err)
	}
	c.Raw = raw
	c.Argv = argv
	return nil
}

// Warning is a non-fatal load/validation message.
type Warning struct {
	Message string
}
