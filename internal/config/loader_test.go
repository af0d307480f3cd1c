package config_test

import (
	"strings"
	"testing"

	"github.com/lattice-labs/dictum/internal/config"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
model:
  backend: stub
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.TargetSampleRate != 16000 {
		t.Errorf("target sample rate = %d", cfg.Audio.TargetSampleRate)
	}
	if cfg.Audio.MinSpeechSamples != 4000 || cfg.Audio.MaxSpeechSamples != 480000 {
		t.Errorf("speech bounds = %d..%d", cfg.Audio.MinSpeechSamples, cfg.Audio.MaxSpeechSamples)
	}
	if cfg.Audio.InputGainBoost != 1.0 {
		t.Errorf("gain boost = %f", cfg.Audio.InputGainBoost)
	}
	if cfg.VAD.Threshold != 0.01 || cfg.VAD.HangoverFrames != 8 {
		t.Errorf("vad defaults = %f / %d", cfg.VAD.Threshold, cfg.VAD.HangoverFrames)
	}
	if cfg.VAD.SileroThreshold != 0.20 {
		t.Errorf("silero threshold = %f", cfg.VAD.SileroThreshold)
	}
	if cfg.Decode.EnablePartials == nil || !*cfg.Decode.EnablePartials {
		t.Error("partials must default to enabled")
	}
	if cfg.Model.DirectMLDevice != -1 {
		t.Errorf("directml device = %d, want -1 (disabled)", cfg.Model.DirectMLDevice)
	}
}

func TestLoadFromReader_ExplicitDirectMLDeviceZero(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
model:
  backend: stub
  directml_device: 0
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.DirectMLDevice != 0 {
		t.Errorf("directml device = %d, want explicit 0", cfg.Model.DirectMLDevice)
	}
}

func TestLoadFromReader_EmptyDocument(t *testing.T) {
	t.Parallel()
	// An empty config only fails validation where no default applies:
	// the onnx backend needs a model path.
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "model.path") {
		t.Errorf("err = %v, want model.path complaint", err)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
model:
  backend: stub
  turbo_mode: true
`))
	if err == nil {
		t.Fatal("unknown fields must be rejected")
	}
	if !strings.Contains(err.Error(), "turbo_mode") {
		t.Errorf("err = %v, want mention of the unknown field", err)
	}
}

func TestValidate_JoinsAllFailures(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: loud
model:
  backend: cuda
  threads: -2
audio:
  target_sample_rate: 4000
  min_speech_samples: 10000
  max_speech_samples: 5000
  input_gain_boost: 50
vad:
  threshold: 1.5
`))
	if err == nil {
		t.Fatal("invalid config must fail validation")
	}
	for _, want := range []string{
		"server.log_level",
		"model.backend",
		"model.threads",
		"audio.target_sample_rate",
		"audio.max_speech_samples",
		"audio.input_gain_boost",
		"vad.threshold",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q:\n%v", want, err)
		}
	}
}

func TestLoadFromReader_ResolvesAPIKeyAtLoad(t *testing.T) {
	t.Setenv("DICTUM_TEST_RECOVERY_KEY", "sk-test-123")

	cfg, err := config.LoadFromReader(strings.NewReader(`
model:
  backend: stub
recovery:
  api_key_env: DICTUM_TEST_RECOVERY_KEY
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Recovery.APIKey != "sk-test-123" {
		t.Errorf("resolved key = %q", cfg.Recovery.APIKey)
	}
}

func TestLoadFromReader_APIKeyNotSettableFromYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
model:
  backend: stub
recovery:
  api_key: sk-should-not-work
`))
	if err == nil {
		t.Error("api_key must not be accepted from YAML")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/dictum.yaml"); err == nil {
		t.Error("missing file must error")
	}
}
