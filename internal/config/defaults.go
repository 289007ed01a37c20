package config

// Default returns the canonical runtime configuration used when no file is
// present.
func Default() Config {
	typeCmd := "wtype -"
	clipboardCmd := "wl-copy --trim-newline"

	return Config{
		Backend: BackendConfig{
			Variant:          VariantStreaming,
			Endpoint:         "ws://127.0.0.1:8090",
			CommitIntervalMS: 250,
		},
		Audio: AudioConfig{
			Input:          "default",
			SilenceTailMS:  1000,
			SilenceChunkMS: 100,
		},
		Output: OutputConfig{
			Mode:      OutputRealtime,
			Type:      CommandConfig{Raw: typeCmd, Argv: mustParseArgv(typeCmd)},
			Clipboard: CommandConfig{Raw: clipboardCmd, Argv: mustParseArgv(clipboardCmd)},
		},
		Debug: DebugConfig{},
	}
}
