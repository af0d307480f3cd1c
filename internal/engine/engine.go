// Package engine exposes the top-level dictation engine: lifecycle control,
// event subscriptions, and diagnostics.
//
// Lifecycle:
//
//	New() → WarmUp() → Start() ⇄ Stop()
//
// Start blocks until the capture device is confirmed open (or fails) and
// then returns while the pipeline keeps running on a background thread.
// Broadcast subscriptions survive Stop/Start cycles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/lattice-labs/dictum/internal/asr"
	"github.com/lattice-labs/dictum/internal/audio"
	"github.com/lattice-labs/dictum/internal/events"
	"github.com/lattice-labs/dictum/internal/observe"
	"github.com/lattice-labs/dictum/internal/pipeline"
	"github.com/lattice-labs/dictum/internal/vad"
)

// Lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrNotRunning     = errors.New("engine: not running")
)

// Config tunes one engine instance. Zero values select the defaults from
// [DefaultConfig].
type Config struct {
	// TargetSampleRate is the model input rate in Hz.
	TargetSampleRate int
	// VADThreshold is the energy gate RMS threshold.
	VADThreshold float64
	// VADHangoverFrames bridges intra-word pauses.
	VADHangoverFrames int
	// SileroThreshold is the neural VAD speech probability threshold.
	SileroThreshold float64
	// SileroModelPath points at the Silero ONNX file. Empty disables the
	// neural VAD and uses the energy gate.
	SileroModelPath string
	// MinSpeechSamples is the shortest utterance worth decoding.
	MinSpeechSamples int
	// MaxSpeechSamples caps accumulation before a forced flush.
	MaxSpeechSamples int
	// EnablePartials turns on live preview decodes.
	EnablePartials bool
	// LanguageHint seeds decoding with a language, e.g. "en".
	LanguageHint string
	// BiasPhrases get a logit boost during decoding.
	BiasPhrases []string
	// InputGainBoost scales the adaptive pre-decode gain. 1.0 is neutral.
	InputGainBoost float64
	// RingCapacity overrides the capture ring size in samples.
	RingCapacity int
}

// DefaultConfig returns the tuning that works for typical laptop
// microphones.
func DefaultConfig() Config {
	return Config{
		TargetSampleRate:  16000,
		VADThreshold:      0.01,
		VADHangoverFrames: 8,
		SileroThreshold:   0.20,
		MinSpeechSamples:  4000,
		MaxSpeechSamples:  480000,
		EnablePartials:    true,
		InputGainBoost:    1.0,
	}
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithMetrics overrides the metrics instance (tests).
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the top-level handle. Safe for concurrent use.
type Engine struct {
	cfg     Config
	model   *asr.Handle
	metrics *observe.Metrics

	running atomic.Bool
	// Each event stream numbers its events independently, so a subscriber
	// can detect gaps on the stream it watches.
	transcriptSeq atomic.Uint64
	statusSeq     atomic.Uint64
	activitySeq   atomic.Uint64

	mu     sync.Mutex
	status events.EngineStatus

	transcripts *events.Broadcaster[events.TranscriptEvent]
	statusCh    *events.Broadcaster[events.StatusEvent]
	activity    *events.Broadcaster[events.ActivityEvent]

	diag *pipeline.Diagnostics
	wg   sync.WaitGroup
}

// New creates an engine. Nothing is captured until [Engine.Start]; call
// [Engine.WarmUp] first so the first utterance decodes promptly.
func New(cfg Config, model *asr.Handle, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = def.TargetSampleRate
	}
	if cfg.VADThreshold <= 0 {
		cfg.VADThreshold = def.VADThreshold
	}
	if cfg.VADHangoverFrames <= 0 {
		cfg.VADHangoverFrames = def.VADHangoverFrames
	}
	if cfg.SileroThreshold <= 0 {
		cfg.SileroThreshold = def.SileroThreshold
	}
	if cfg.MinSpeechSamples <= 0 {
		cfg.MinSpeechSamples = def.MinSpeechSamples
	}
	if cfg.MaxSpeechSamples <= 0 {
		cfg.MaxSpeechSamples = def.MaxSpeechSamples
	}
	if cfg.InputGainBoost <= 0 {
		cfg.InputGainBoost = def.InputGainBoost
	}

	e := &Engine{
		cfg:         cfg,
		model:       model,
		status:      events.StatusIdle,
		transcripts: events.NewBroadcaster[events.TranscriptEvent](0),
		statusCh:    events.NewBroadcaster[events.StatusEvent](0),
		activity:    events.NewBroadcaster[events.ActivityEvent](0),
		diag:        &pipeline.Diagnostics{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// WarmUp loads model weights and runs a dummy inference. Call once at
// startup, before [Engine.Start].
func (e *Engine) WarmUp(ctx context.Context) error {
	e.setStatus(events.StatusWarmingUp, "")
	slog.Info("warming up speech model")
	if err := e.model.WarmUp(ctx); err != nil {
		e.setStatus(events.StatusError, err.Error())
		return fmt.Errorf("engine: warm up: %w", err)
	}
	e.setStatus(events.StatusIdle, "")
	slog.Info("speech model ready")
	return nil
}

// Start begins capture with automatic device selection. See
// [Engine.StartWithDevice].
func (e *Engine) Start(ctx context.Context) error {
	return e.StartWithDevice(ctx, "")
}

// StartWithDevice begins capture on the named device (empty selects
// automatically). It blocks until the device is confirmed open, then
// returns while the pipeline keeps running.
//
// Returns [ErrAlreadyRunning] when already started, or the device open
// error on failure.
func (e *Engine) StartWithDevice(ctx context.Context, preferredDevice string) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	e.diag.Reset()
	e.setStatus(events.StatusListening, "")

	ring := audio.NewRing(e.cfg.RingCapacity)

	// One-shot handoff: the pipeline thread reports the device open result
	// (actual sample rate on success) back to this caller.
	opened := make(chan openResult, 1)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// The capture device must be created, used, and released on one
		// thread.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		capture, err := audio.OpenCapture(ring, preferredDevice)
		if err != nil {
			opened <- openResult{err: err}
			e.running.Store(false)
			return
		}
		opened <- openResult{sampleRate: capture.SampleRate}

		e.metrics.ActiveSessions.Add(ctx, 1)
		defer e.metrics.ActiveSessions.Add(ctx, -1)

		pipeline.Run(ctx, pipeline.Session{
			Config: pipeline.Config{
				TargetSampleRate: e.cfg.TargetSampleRate,
				VADThreshold:     e.cfg.VADThreshold,
				MinSpeechSamples: e.cfg.MinSpeechSamples,
				MaxSpeechSamples: e.cfg.MaxSpeechSamples,
				EnablePartials:   e.cfg.EnablePartials,
				LanguageHint:     e.cfg.LanguageHint,
				BiasPhrases:      e.cfg.BiasPhrases,
				InputGainBoost:   e.cfg.InputGainBoost,
			},
			Model:       e.model,
			VAD:         e.selectVAD(),
			Ring:        ring,
			Running:     &e.running,
			CaptureRate: capture.SampleRate,
			Transcripts:   e.transcripts,
			Status:        e.statusCh,
			Activity:      e.activity,
			TranscriptSeq: &e.transcriptSeq,
			StatusSeq:     &e.statusSeq,
			ActivitySeq:   &e.activitySeq,
			Diag:          e.diag,
			Metrics:       e.metrics,
		})

		capture.Close()
	}()

	res := <-opened
	if res.err != nil {
		e.setStatus(events.StatusError, res.err.Error())
		return fmt.Errorf("engine: start: %w", res.err)
	}
	slog.Info("engine started", "capture_rate", res.sampleRate)
	return nil
}

type openResult struct {
	sampleRate int
	err        error
}

// selectVAD prefers the Silero model when it loads and falls back to the
// energy gate with a warning.
func (e *Engine) selectVAD() vad.Detector {
	if e.cfg.SileroModelPath != "" {
		silero, err := vad.NewSilero(e.cfg.SileroModelPath, e.cfg.SileroThreshold)
		if err == nil {
			return silero
		}
		slog.Warn("silero vad unavailable, using energy gate", "err", err)
	}
	return vad.NewEnergy(e.cfg.VADThreshold, e.cfg.VADHangoverFrames)
}

// Stop requests shutdown. The pipeline performs its stop flush and releases
// the device asynchronously; Stop itself returns immediately.
//
// Returns [ErrNotRunning] when the engine is not started.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	e.setStatus(events.StatusStopped, "")
	slog.Info("engine stop requested")
	return nil
}

// Wait blocks until the pipeline thread has fully exited. Useful in tests
// and during process shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Status returns the current lifecycle state.
func (e *Engine) Status() events.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Diagnostics returns a snapshot of the pipeline counters.
func (e *Engine) Diagnostics() pipeline.Snapshot {
	return e.diag.Snapshot()
}

// SubscribeTranscripts attaches a transcript event subscriber.
func (e *Engine) SubscribeTranscripts() (<-chan events.TranscriptEvent, func()) {
	return e.transcripts.Subscribe()
}

// SubscribeStatus attaches a status event subscriber.
func (e *Engine) SubscribeStatus() (<-chan events.StatusEvent, func()) {
	return e.statusCh.Subscribe()
}

// SubscribeActivity attaches a live activity (level meter) subscriber.
func (e *Engine) SubscribeActivity() (<-chan events.ActivityEvent, func()) {
	return e.activity.Subscribe()
}

func (e *Engine) setStatus(status events.EngineStatus, detail string) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
	e.statusCh.Publish(events.StatusEvent{
		Seq:    e.statusSeq.Add(1),
		Status: status,
		Detail: detail,
	})
}
