package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, resolves
// environment references once, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	cfg.Model.DirectMLDevice = -1

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	resolveEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveEnv reads referenced environment variables exactly once, at load.
// Later changes to the process environment have no effect on a loaded
// config.
func resolveEnv(cfg *Config) {
	if cfg.Recovery.APIKeyEnv != "" {
		cfg.Recovery.APIKey = os.Getenv(cfg.Recovery.APIKeyEnv)
		if cfg.Recovery.APIKey == "" {
			slog.Warn("recovery api_key_env is set but the variable is empty; cloud recovery disabled",
				"env", cfg.Recovery.APIKeyEnv)
		}
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Model.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("model.backend %q is invalid; valid values: onnx, ggml, stub", cfg.Model.Backend))
	}
	if cfg.Model.Backend != BackendStub && cfg.Model.Path == "" {
		errs = append(errs, fmt.Errorf("model.path is required for backend %q", cfg.Model.Backend))
	}
	if cfg.Model.Threads < 0 {
		errs = append(errs, fmt.Errorf("model.threads %d must not be negative", cfg.Model.Threads))
	}

	if cfg.Audio.TargetSampleRate < 8000 || cfg.Audio.TargetSampleRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.target_sample_rate %d is out of range [8000, 48000]", cfg.Audio.TargetSampleRate))
	}
	if cfg.Audio.MinSpeechSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.min_speech_samples must be positive"))
	}
	if cfg.Audio.MaxSpeechSamples <= cfg.Audio.MinSpeechSamples {
		errs = append(errs, fmt.Errorf("audio.max_speech_samples %d must exceed min_speech_samples %d",
			cfg.Audio.MaxSpeechSamples, cfg.Audio.MinSpeechSamples))
	}
	if cfg.Audio.InputGainBoost < 0.1 || cfg.Audio.InputGainBoost > 10 {
		errs = append(errs, fmt.Errorf("audio.input_gain_boost %.2f is out of range [0.1, 10]", cfg.Audio.InputGainBoost))
	}

	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.4f is out of range (0, 1)", cfg.VAD.Threshold))
	}
	if cfg.VAD.HangoverFrames < 0 {
		errs = append(errs, fmt.Errorf("vad.hangover_frames must not be negative"))
	}
	if cfg.VAD.SileroThreshold <= 0 || cfg.VAD.SileroThreshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.silero_threshold %.4f is out of range (0, 1)", cfg.VAD.SileroThreshold))
	}
	if cfg.VAD.SileroModelPath != "" {
		if _, err := os.Stat(cfg.VAD.SileroModelPath); err != nil {
			slog.Warn("silero model path does not exist; the engine will fall back to the energy gate",
				"path", cfg.VAD.SileroModelPath)
		}
	}

	if cfg.Recovery.Model != "" && cfg.Recovery.APIKeyEnv == "" {
		slog.Warn("recovery.model is set but recovery.api_key_env is not; cloud recovery stays disabled")
	}

	return errors.Join(errs...)
}
