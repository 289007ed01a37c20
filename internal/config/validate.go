package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	variant := strings.ToLower(strings.TrimSpace(cfg.Backend.Variant))
	if variant != VariantRealtime && variant != VariantStreaming {
		return nil, fmt.Errorf("backend.variant must be one of: %s, %s", VariantRealtime, VariantStreaming)
	}
	if strings.TrimSpace(cfg.Backend.Endpoint) == "" {
		return nil, fmt.Errorf("backend.endpoint must not be empty")
	}
	if variant == VariantRealtime && strings.TrimSpace(cfg.Backend.APIKey) == "" {
		warnings = append(warnings, Warning{Message: "backend.api_key is empty; most realtime backends reject unauthenticated connections"})
	}
	if cfg.Backend.TranscriptionDelayMS < 0 {
		return nil, fmt.Errorf("backend.transcription_delay_ms must be >= 0")
	}

	if strings.TrimSpace(cfg.Audio.Input) == "" {
		return nil, fmt.Errorf("audio.input must not be empty; use \"default\" for the system default")
	}
	if variant == VariantStreaming {
		if cfg.Audio.SilenceTailMS < 0 {
			return nil, fmt.Errorf("audio.silence_tail_ms must be >= 0")
		}
		if cfg.Audio.SilenceTailMS > 0 && cfg.Audio.SilenceChunkMS <= 0 {
			return nil, fmt.Errorf("audio.silence_chunk_ms must be > 0 when a silence tail is configured")
		}
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Output.Mode))
	if mode != OutputRealtime && mode != OutputFinalized {
		return nil, fmt.Errorf("output.mode must be one of: %s, %s", OutputRealtime, OutputFinalized)
	}
	if len(cfg.Output.Type.Argv) == 0 && len(cfg.Output.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("at least one of output.type_cmd and output.clipboard_cmd must be set")
	}
	if cfg.Output.Paste.Raw != "" && len(cfg.Output.Paste.Argv) == 0 {
		return nil, fmt.Errorf("output.paste_cmd is configured but empty")
	}

	return warnings, nil
}
