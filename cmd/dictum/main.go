// Command dictum runs the dictation engine from a terminal: it warms up the
// configured speech model, starts microphone capture, and prints transcript
// events until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lattice-labs/dictum/internal/asr"
	"github.com/lattice-labs/dictum/internal/audio"
	"github.com/lattice-labs/dictum/internal/config"
	"github.com/lattice-labs/dictum/internal/engine"
	"github.com/lattice-labs/dictum/internal/events"
	"github.com/lattice-labs/dictum/internal/observe"
	"github.com/lattice-labs/dictum/internal/onnx"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "dictum.yaml", "path to the YAML configuration file")
	device := flag.String("device", "", "preferred input device name (overrides config)")
	modelPath := flag.String("model", "", "model path (overrides config)")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until Ctrl+C)")
	flag.Parse()

	if *listDevices {
		return printDevices()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dictum: config file %q not found — see configs/example.yaml\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dictum: %v\n", err)
		}
		return 1
	}
	if *device != "" {
		cfg.Audio.PreferredDevice = *device
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("dictum starting",
		"config", *configPath,
		"backend", cfg.Model.Backend,
		"model", cfg.Model.Path,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "dictum"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(cfg.Server.MetricsAddr)
	}

	// ── Model ─────────────────────────────────────────────────────────────────
	model, err := buildModel(cfg)
	if err != nil {
		slog.Error("failed to open model", "err", err)
		return 1
	}
	handle := asr.NewHandle(model)
	defer func() {
		if err := handle.Close(); err != nil {
			slog.Warn("model close error", "err", err)
		}
	}()

	// ── Engine ────────────────────────────────────────────────────────────────
	eng := engine.New(engineConfig(cfg), handle)

	transcripts, cancelTranscripts := eng.SubscribeTranscripts()
	defer cancelTranscripts()

	if err := eng.WarmUp(ctx); err != nil {
		slog.Error("warm up failed", "err", err)
		return 1
	}
	if err := eng.StartWithDevice(ctx, cfg.Audio.PreferredDevice); err != nil {
		slog.Error("start failed", "err", err)
		return 1
	}

	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	slog.Info("listening — press Ctrl+C to stop")

	// ── Event loop ────────────────────────────────────────────────────────────
	for {
		select {
		case ev := <-transcripts:
			printTranscript(ev)
		case <-ctx.Done():
			if err := eng.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
				slog.Warn("stop error", "err", err)
			}
			eng.Wait()
			drainTranscripts(transcripts)
			printDiagnostics(eng)
			slog.Info("goodbye")
			return 0
		}
	}
}

// buildModel constructs the configured speech model backend.
func buildModel(cfg *config.Config) (asr.Model, error) {
	switch cfg.Model.Backend {
	case config.BackendONNX:
		if cfg.Model.RuntimeLibrary != "" {
			onnx.SetLibraryPath(cfg.Model.RuntimeLibrary)
		}
		opts := []asr.ONNXOption{
			asr.WithThreads(cfg.Model.Threads),
			asr.WithBiasPhrases(cfg.Decode.BiasPhrases),
		}
		if cfg.Model.DirectMLDevice >= 0 {
			opts = append(opts, asr.WithDirectML(cfg.Model.DirectMLDevice))
		}
		if cfg.Recovery.APIKey != "" {
			var recOpts []asr.RecovererOption
			if cfg.Recovery.Model != "" {
				recOpts = append(recOpts, asr.WithRecoveryModel(cfg.Recovery.Model))
			}
			recoverer, err := asr.NewCloudRecoverer(cfg.Recovery.APIKey, recOpts...)
			if err != nil {
				return nil, err
			}
			opts = append(opts, asr.WithRecoverer(recoverer))
		}
		return asr.OpenONNX(cfg.Model.Path, opts...)
	case config.BackendGGML:
		var opts []asr.NativeOption
		if cfg.Decode.LanguageHint != "" {
			opts = append(opts, asr.WithNativeLanguage(cfg.Decode.LanguageHint))
		}
		return asr.OpenNative(cfg.Model.Path, opts...)
	case config.BackendStub:
		return &asr.Stub{}, nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Model.Backend)
	}
}

// engineConfig maps the YAML config onto the engine tuning struct.
func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		TargetSampleRate:  cfg.Audio.TargetSampleRate,
		VADThreshold:      cfg.VAD.Threshold,
		VADHangoverFrames: cfg.VAD.HangoverFrames,
		SileroThreshold:   cfg.VAD.SileroThreshold,
		SileroModelPath:   cfg.VAD.SileroModelPath,
		MinSpeechSamples:  cfg.Audio.MinSpeechSamples,
		MaxSpeechSamples:  cfg.Audio.MaxSpeechSamples,
		EnablePartials:    *cfg.Decode.EnablePartials,
		LanguageHint:      cfg.Decode.LanguageHint,
		BiasPhrases:       cfg.Decode.BiasPhrases,
		InputGainBoost:    cfg.Audio.InputGainBoost,
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func printDevices() int {
	devices, err := audio.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dictum: %v\n", err)
		return 1
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		note := ""
		if audio.IsLoopbackName(d.Name) {
			note = " (loopback)"
		}
		fmt.Printf("%s %s%s\n", marker, d.Name, note)
	}
	return 0
}

func printTranscript(ev events.TranscriptEvent) {
	kind := "partial"
	if ev.IsFinal {
		kind = "final"
	}
	conf := ""
	if ev.Confidence != nil {
		conf = fmt.Sprintf(" (%.2f)", *ev.Confidence)
	}
	fmt.Printf("[%s]%s %s\n", kind, conf, ev.Text)
}

func drainTranscripts(ch <-chan events.TranscriptEvent) {
	for {
		select {
		case ev := <-ch:
			if ev.IsFinal {
				printTranscript(ev)
			}
		default:
			return
		}
	}
}

func printDiagnostics(eng *engine.Engine) {
	snap := eng.Diagnostics()
	slog.Info("session diagnostics",
		"chunks_drained", snap.ChunksDrained,
		"samples_dropped", snap.SamplesDropped,
		"partials", snap.Partials,
		"finals", snap.Finals,
		"empty_finals", snap.EmptyFinals,
		"discarded_too_short", snap.DiscardedTooShort,
		"max_flushes", snap.MaxFlushes,
		"stop_flushes", snap.StopFlushes,
		"rescues", snap.Rescues,
		"placeholder_finals", snap.PlaceholderFinals,
		"decode_errors", snap.DecodeErrors,
	)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("metrics endpoint error", "err", err)
	}
}
