// Package config defines the YAML configuration surface of the dictum CLI
// and engine, plus loading and validation.
package config

// LogLevel is a typed slog level name.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a known log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ModelBackend selects the inference backend.
type ModelBackend string

const (
	// BackendONNX runs encoder/decoder ONNX graphs via ONNX Runtime.
	BackendONNX ModelBackend = "onnx"
	// BackendGGML runs single-file GGML models via whisper.cpp.
	BackendGGML ModelBackend = "ggml"
	// BackendStub is a no-op model for development without weights.
	BackendStub ModelBackend = "stub"
)

// IsValid reports whether b is a known backend.
func (b ModelBackend) IsValid() bool {
	switch b {
	case BackendONNX, BackendGGML, BackendStub:
		return true
	}
	return false
}

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Audio    AudioConfig    `yaml:"audio"`
	VAD      VADConfig      `yaml:"vad"`
	Decode   DecodeConfig   `yaml:"decode"`
	Recovery RecoveryConfig `yaml:"recovery"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel defaults to info.
	LogLevel LogLevel `yaml:"log_level"`
	// MetricsAddr exposes Prometheus metrics when non-empty, e.g.
	// "127.0.0.1:9091".
	MetricsAddr string `yaml:"metrics_addr"`
}

// ModelConfig locates the speech model.
type ModelConfig struct {
	// Backend defaults to onnx.
	Backend ModelBackend `yaml:"backend"`
	// Path is the profile directory (onnx) or model file (ggml).
	Path string `yaml:"path"`
	// RuntimeLibrary overrides the onnxruntime shared library location.
	RuntimeLibrary string `yaml:"runtime_library"`
	// Threads caps intra-op parallelism. 0 lets the runtime decide.
	Threads int `yaml:"threads"`
	// DirectMLDevice enables the DirectML execution provider when >= 0.
	// Defaults to -1 (disabled).
	DirectMLDevice int `yaml:"directml_device"`
}

// AudioConfig tunes capture and segmentation.
type AudioConfig struct {
	// PreferredDevice names the input device. Empty selects automatically.
	PreferredDevice string `yaml:"preferred_device"`
	// TargetSampleRate is the model input rate. Defaults to 16000.
	TargetSampleRate int `yaml:"target_sample_rate"`
	// MinSpeechSamples is the shortest decodable utterance. Defaults to 4000.
	MinSpeechSamples int `yaml:"min_speech_samples"`
	// MaxSpeechSamples caps accumulation. Defaults to 480000.
	MaxSpeechSamples int `yaml:"max_speech_samples"`
	// InputGainBoost scales the adaptive pre-decode gain. Defaults to 1.0.
	InputGainBoost float64 `yaml:"input_gain_boost"`
}

// VADConfig tunes voice activity detection.
type VADConfig struct {
	// Threshold is the energy gate RMS threshold. Defaults to 0.01.
	Threshold float64 `yaml:"threshold"`
	// HangoverFrames bridges intra-word pauses. Defaults to 8.
	HangoverFrames int `yaml:"hangover_frames"`
	// SileroModelPath enables the neural VAD when set.
	SileroModelPath string `yaml:"silero_model_path"`
	// SileroThreshold is the speech probability gate. Defaults to 0.20.
	SileroThreshold float64 `yaml:"silero_threshold"`
}

// DecodeConfig tunes transcription behaviour.
type DecodeConfig struct {
	// EnablePartials turns on live preview decodes. Defaults to true.
	EnablePartials *bool `yaml:"enable_partials"`
	// LanguageHint is a two-letter code tried first, e.g. "en".
	LanguageHint string `yaml:"language_hint"`
	// BiasPhrases get a logit boost so domain vocabulary survives greedy
	// decoding.
	BiasPhrases []string `yaml:"bias_phrases"`
}

// RecoveryConfig controls the cloud escalation hook. Disabled unless an
// API key resolves.
type RecoveryConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	// Resolved once at load time.
	APIKeyEnv string `yaml:"api_key_env"`
	// Model overrides the hosted transcription model.
	Model string `yaml:"model"`

	// APIKey is the resolved key. Never set this in YAML; it is populated
	// from APIKeyEnv during Load.
	APIKey string `yaml:"-"`
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Model.Backend == "" {
		c.Model.Backend = BackendONNX
	}
	if c.Audio.TargetSampleRate == 0 {
		c.Audio.TargetSampleRate = 16000
	}
	if c.Audio.MinSpeechSamples == 0 {
		c.Audio.MinSpeechSamples = 4000
	}
	if c.Audio.MaxSpeechSamples == 0 {
		c.Audio.MaxSpeechSamples = 480000
	}
	if c.Audio.InputGainBoost == 0 {
		c.Audio.InputGainBoost = 1.0
	}
	if c.VAD.Threshold == 0 {
		c.VAD.Threshold = 0.01
	}
	if c.VAD.HangoverFrames == 0 {
		c.VAD.HangoverFrames = 8
	}
	if c.VAD.SileroThreshold == 0 {
		c.VAD.SileroThreshold = 0.20
	}
	if c.Decode.EnablePartials == nil {
		t := true
		c.Decode.EnablePartials = &t
	}
}
