// Package pipeline turns the raw capture stream into transcript events.
//
// The worker drains the capture ring in small chunks, resamples to the
// model rate, classifies voice activity, and accumulates speech into
// utterances. Utterances flush to the speech model on trailing silence, on
// hitting the accumulation cap, or on engine stop, and the results go out
// on the engine's broadcast channels.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/lattice-labs/dictum/internal/asr"
	"github.com/lattice-labs/dictum/internal/audio"
	"github.com/lattice-labs/dictum/internal/events"
	"github.com/lattice-labs/dictum/internal/observe"
	"github.com/lattice-labs/dictum/internal/vad"
)

// Drain cadence. 960 samples is 60 ms at 16 kHz, small enough to keep the
// activity meter lively and large enough to keep the VAD stable.
const (
	drainChunk = 960
	idleSleep  = 5 * time.Millisecond
)

// Partial decode cadence.
const (
	partialMinInterval   = 900 * time.Millisecond
	partialMinNewSamples = 12000
)

// Forced-flush tail handling: after a successful max flush the last 1.6 s
// seeds the next utterance so a word spanning the boundary is not cut; after
// a failed one we retain up to 12 s to retry.
const (
	maxFlushOverlapMillis   = 1600
	maxFlushRetryTailSecond = 12
)

// Placeholder emitted after repeated empty finals over clearly active audio.
const (
	emptyFinalStreakForFallback = 2
	fallbackText                = "[speech captured]"
	stopRescueRMSFactor         = 2.0
	// stopFallbackActivityDivisor sets how many elevated-RMS samples count
	// as meaningful activity: MinSpeechSamples / 2.
	stopFallbackActivityDivisor = 2
)

// rollingTailSamples is how much recent audio is kept for the stop-rescue
// path (1.5 s at 16 kHz).
const rollingTailSamples = 24000

// Adaptive input gain bounds applied before decoding.
const (
	gainTargetFactor = 3.4
	gainTargetMin    = 0.012
	gainTargetMax    = 0.08
	gainMax          = 9.0
	gainSkipBelow    = 1.03
	gainSilenceRMS   = 3e-5
)

// activityInterval throttles level-meter events.
const activityInterval = 50 * time.Millisecond

// Config is the tuning surface of one pipeline session.
type Config struct {
	TargetSampleRate int
	VADThreshold     float64
	MinSpeechSamples int
	MaxSpeechSamples int
	EnablePartials   bool
	LanguageHint     string
	BiasPhrases      []string
	// InputGainBoost scales the adaptive gain target. 1.0 is neutral.
	InputGainBoost float64

	// PartialMinInterval and PartialMinNewSamples override the partial
	// decode cadence. Zero selects the package defaults.
	PartialMinInterval   time.Duration
	PartialMinNewSamples int
}

// Session wires one pipeline run. All fields are required unless noted.
type Session struct {
	Config Config
	Model  *asr.Handle
	VAD    vad.Detector
	Ring   *audio.Ring
	// Running is the engine's run flag; the worker exits when it clears.
	Running *atomic.Bool
	// CaptureRate is the device's actual sample rate.
	CaptureRate int

	Transcripts *events.Broadcaster[events.TranscriptEvent]
	Status      *events.Broadcaster[events.StatusEvent]
	Activity    *events.Broadcaster[events.ActivityEvent]
	// TranscriptSeq, StatusSeq, and ActivitySeq number the events on their
	// respective streams. Each stream counts independently so a subscriber
	// can detect gaps on the stream it watches.
	TranscriptSeq *atomic.Uint64
	StatusSeq     *atomic.Uint64
	ActivitySeq   *atomic.Uint64
	Diag          *Diagnostics
	// Metrics is optional; nil selects the package default.
	Metrics *observe.Metrics
}

// flushReason tags why an utterance was sent to the model.
type flushReason int

const (
	flushSilence flushReason = iota
	flushMax
	flushStop
	flushRescue
)

func (r flushReason) String() string {
	switch r {
	case flushMax:
		return "max"
	case flushStop:
		return "stop"
	case flushRescue:
		return "rescue"
	default:
		return "silence"
	}
}

// flushOutcome is the uniform result of one final flush.
type flushOutcome int

const (
	flushEmitted flushOutcome = iota
	flushEmpty
	flushError
)

// worker is the single-goroutine state of a running pipeline.
type worker struct {
	s         Session
	metrics   *observe.Metrics
	resampler *audio.Resampler

	utterance   []float32
	utteranceID string
	inSpeech    bool

	rolling []float32

	lastPartialAt       time.Time
	samplesSincePartial int

	emptyFinalStreak int
	// rmsActiveSamples counts samples from frames with elevated RMS,
	// independent of the VAD. It gates the stop-time safety net.
	rmsActiveSamples int
	// finalOutputs counts final events emitted this session, placeholders
	// included.
	finalOutputs int

	lastActivityAt time.Time
}

// Run executes the pipeline until Running clears. It owns the calling
// goroutine; the engine invokes it from a dedicated locked thread that also
// owns the capture device.
func Run(ctx context.Context, s Session) {
	w := &worker{
		s:       s,
		metrics: s.Metrics,
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	w.resampler = audio.NewResampler(s.CaptureRate, s.Config.TargetSampleRate)

	chunk := make([]float32, drainChunk)
	for s.Running.Load() {
		n := s.Ring.Read(chunk)
		if n == 0 {
			time.Sleep(idleSleep)
			continue
		}
		s.Diag.ChunksDrained.Add(1)
		w.step(ctx, w.resampler.Process(chunk[:n]))
	}

	// Stream end: convert whatever the resampler still holds, then flush.
	if tail := w.resampler.Flush(); len(tail) > 0 {
		w.step(ctx, tail)
	}
	w.stopFlush(ctx)

	if dropped := s.Ring.Dropped(); dropped > 0 {
		s.Diag.SamplesDropped.Store(dropped)
		w.metrics.SamplesDropped.Add(ctx, int64(dropped))
		slog.Warn("capture ring overflowed during session", "samples_dropped", dropped)
	}
}

// step processes one resampled frame. Adaptive gain runs first so the VAD,
// the activity meter, and the accumulated audio all see the same signal.
func (w *worker) step(ctx context.Context, frame []float32) {
	if len(frame) == 0 {
		return
	}
	frame = w.applyGain(frame)
	activity, _ := w.s.VAD.Classify(frame)
	rms := audio.RMS(frame)
	w.publishActivity(rms, activity == vad.Speech)

	if rms >= w.s.Config.VADThreshold {
		w.rmsActiveSamples += len(frame)
	}
	w.appendRolling(frame)

	switch activity {
	case vad.Speech:
		w.onSpeech(ctx, frame)
	case vad.Silence:
		w.onSilence(ctx)
	}
}

func (w *worker) onSpeech(ctx context.Context, frame []float32) {
	if !w.inSpeech {
		w.inSpeech = true
		w.utteranceID = xid.New().String()
		// Zero time means no partial has run yet; the first one fires as
		// soon as the sample floors allow, without waiting a full interval.
		w.lastPartialAt = time.Time{}
		w.samplesSincePartial = 0
	}
	w.utterance = append(w.utterance, frame...)
	w.samplesSincePartial += len(frame)

	if len(w.utterance) >= w.s.Config.MaxSpeechSamples {
		w.maxFlush(ctx)
		return
	}
	w.maybePartial(ctx)
}

func (w *worker) onSilence(ctx context.Context) {
	if !w.inSpeech {
		return
	}
	w.inSpeech = false

	if len(w.utterance) < w.s.Config.MinSpeechSamples {
		w.s.Diag.DiscardedTooShort.Add(1)
		w.utterance = w.utterance[:0]
	} else {
		w.finalFlush(ctx, flushSilence)
	}
	// The next utterance starts from clean detector and decoder state.
	w.s.VAD.Reset()
	w.s.Model.Reset()
}

// maybePartial emits a live preview when partials are enabled and both the
// interval and the new-samples floor have been reached.
func (w *worker) maybePartial(ctx context.Context) {
	if !w.s.Config.EnablePartials {
		return
	}
	if len(w.utterance) < w.s.Config.MinSpeechSamples {
		return
	}
	interval := w.s.Config.PartialMinInterval
	if interval <= 0 {
		interval = partialMinInterval
	}
	minNew := w.s.Config.PartialMinNewSamples
	if minNew <= 0 {
		minNew = partialMinNewSamples
	}
	if !w.lastPartialAt.IsZero() && time.Since(w.lastPartialAt) < interval {
		return
	}
	if w.samplesSincePartial < minNew {
		return
	}
	w.lastPartialAt = time.Now()
	w.samplesSincePartial = 0

	samples := w.utterance
	res, err := w.s.Model.Transcribe(ctx, asr.Request{
		Samples:      samples,
		Partial:      true,
		LanguageHint: w.s.Config.LanguageHint,
		BiasPhrases:  w.s.Config.BiasPhrases,
	})
	if err != nil {
		w.s.Diag.DecodeErrors.Add(1)
		slog.Warn("partial decode failed", "err", err)
		return
	}
	if res.Text == "" {
		return
	}
	w.s.Diag.Partials.Add(1)
	w.metrics.RecordTranscript(ctx, "partial", "ok")
	chunk := audio.Chunk{Samples: samples, SampleRate: w.s.Config.TargetSampleRate}
	w.publishTranscript(res.Text, false, nil, chunk.Duration().Seconds())
}

// maxFlush force-decodes a full buffer. When the flush emitted real text,
// the tail overlap seeds the next utterance under the same speech run; an
// empty or failed flush keeps a longer retry tail so long-utterance context
// is not lost.
func (w *worker) maxFlush(ctx context.Context) {
	w.s.Diag.MaxFlushes.Add(1)
	w.metrics.RecordFlush(ctx, flushMax.String())
	outcome := w.finalFlushBuffer(ctx, w.utterance, flushMax)

	rate := w.s.Config.TargetSampleRate
	if outcome == flushEmitted {
		keep := maxFlushOverlapMillis * rate / 1000
		w.utterance = retainTail(w.utterance, keep)
		// The same physical speech run continues under a fresh ID.
		w.utteranceID = xid.New().String()
	} else {
		keep := maxFlushRetryTailSecond * rate
		if keep < w.s.Config.MinSpeechSamples {
			keep = w.s.Config.MinSpeechSamples
		}
		w.utterance = retainTail(w.utterance, keep)
		slog.Warn("max-length flush produced no text, retaining tail for retry",
			"retained_samples", len(w.utterance))
	}
	w.lastPartialAt = time.Now()
	w.samplesSincePartial = 0
	w.rolling = w.rolling[:0]
}

// finalFlush decodes the accumulated utterance and resets it.
func (w *worker) finalFlush(ctx context.Context, reason flushReason) {
	w.metrics.RecordFlush(ctx, reason.String())
	w.finalFlushBuffer(ctx, w.utterance, reason)
	w.utterance = w.utterance[:0]
	// Flushed audio no longer needs the stop rescue.
	w.rolling = w.rolling[:0]
}

// finalFlushBuffer runs one final decode and handles the outcome. A decode
// error or a persistent empty streak still yields a terminal placeholder
// event, so audible speech is never silently dropped, plus a degraded-state
// status detail. flushEmitted is returned only for real text.
func (w *worker) finalFlushBuffer(ctx context.Context, samples []float32, reason flushReason) flushOutcome {
	chunk := audio.Chunk{Samples: samples, SampleRate: w.s.Config.TargetSampleRate}
	audioSeconds := chunk.Duration().Seconds()

	res, err := w.s.Model.Transcribe(ctx, asr.Request{
		Samples:      samples,
		LanguageHint: w.s.Config.LanguageHint,
		BiasPhrases:  w.s.Config.BiasPhrases,
	})
	if err != nil {
		w.s.Diag.DecodeErrors.Add(1)
		w.metrics.RecordTranscript(ctx, "final", "error")
		slog.Error("final decode failed", "reason", reason.String(), "err", err)
		w.emitFallback(audioSeconds)
		w.publishStatus("transcription error: decode failed during finalization")
		return flushError
	}

	if res.Text == "" {
		w.s.Diag.EmptyFinals.Add(1)
		w.emptyFinalStreak++
		w.metrics.RecordTranscript(ctx, "final", "empty")
		slog.Warn("final decode produced empty output",
			"reason", reason.String(),
			"empty_final_streak", w.emptyFinalStreak)
		if w.emptyFinalStreak >= emptyFinalStreakForFallback {
			w.emptyFinalStreak = 0
			w.emitFallback(audioSeconds)
			w.publishStatus("transcription degraded: speech detected but the model returned no text")
		}
		return flushEmpty
	}

	if w.emptyFinalStreak > 0 {
		w.emptyFinalStreak = 0
		w.publishStatus("")
	}
	w.s.Diag.Finals.Add(1)
	w.metrics.RecordTranscript(ctx, "final", "ok")
	w.publishTranscript(res.Text, true, res.Confidence, audioSeconds)
	return flushEmitted
}

// emitFallback publishes the placeholder final for the current utterance.
func (w *worker) emitFallback(audioSeconds float64) {
	w.s.Diag.PlaceholderFinals.Add(1)
	w.publishTranscript(fallbackText, true, nil, audioSeconds)
}

// stopFlush handles the pending utterance when the session ends, then runs
// the safety net: a session with sustained RMS activity but no final output
// gets one rescue decode over the rolling tail, and a terminal placeholder
// if even that produces nothing.
func (w *worker) stopFlush(ctx context.Context) {
	if len(w.utterance) >= w.s.Config.MinSpeechSamples {
		w.s.Diag.StopFlushes.Add(1)
		w.finalFlush(ctx, flushStop)
		w.s.VAD.Reset()
		w.s.Model.Reset()
	} else if len(w.utterance) > 0 {
		w.s.Diag.DiscardedTooShort.Add(1)
		w.utterance = w.utterance[:0]
	}

	if w.finalOutputs > 0 || !w.meaningfulActivity() {
		return
	}

	// The VAD likely missed a quiet or whispered voice.
	tailRMS := audio.RMS(w.rolling)
	if len(w.rolling) >= w.s.Config.MinSpeechSamples &&
		tailRMS >= w.s.Config.VADThreshold*stopRescueRMSFactor {
		w.s.Diag.Rescues.Add(1)
		w.metrics.RecordFlush(ctx, flushRescue.String())
		w.utteranceID = xid.New().String()
		w.finalFlushBuffer(ctx, w.rolling, flushRescue)
		w.rolling = w.rolling[:0]
	}
	if w.finalOutputs == 0 {
		slog.Warn("session had activity but no final output, forcing placeholder",
			"rms_active_samples", w.rmsActiveSamples)
		if w.utteranceID == "" {
			w.utteranceID = xid.New().String()
		}
		chunk := audio.Chunk{Samples: w.rolling, SampleRate: w.s.Config.TargetSampleRate}
		w.emitFallback(chunk.Duration().Seconds())
	}
}

// meaningfulActivity reports whether enough elevated-RMS audio was seen this
// session that ending with zero final outputs would starve the host.
func (w *worker) meaningfulActivity() bool {
	return w.rmsActiveSamples >= w.s.Config.MinSpeechSamples/stopFallbackActivityDivisor
}

// applyGain boosts quiet audio toward the target level in place. It runs on
// every frame before the VAD so classification, activity metering, and the
// decoded audio all agree on levels.
func (w *worker) applyGain(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}
	rms := audio.RMS(samples)
	if rms <= gainSilenceRMS {
		return samples
	}
	boost := w.s.Config.InputGainBoost
	if boost <= 0 {
		boost = 1
	}
	target := w.s.Config.VADThreshold * gainTargetFactor * boost
	if target < gainTargetMin {
		target = gainTargetMin
	}
	if target > gainTargetMax {
		target = gainTargetMax
	}
	gain := target / rms
	if gain > gainMax {
		gain = gainMax
	}
	if gain <= gainSkipBelow {
		return samples
	}
	for i, s := range samples {
		v := float64(s) * gain
		samples[i] = float32(math.Max(-1, math.Min(1, v)))
	}
	return samples
}

// appendRolling keeps the recent-audio tail for the stop rescue.
func (w *worker) appendRolling(frame []float32) {
	w.rolling = append(w.rolling, frame...)
	w.rolling = retainTail(w.rolling, rollingTailSamples)
}

// retainTail truncates buf to its last keep samples, in place.
func retainTail(buf []float32, keep int) []float32 {
	if keep <= 0 {
		return buf[:0]
	}
	if len(buf) <= keep {
		return buf
	}
	copy(buf, buf[len(buf)-keep:])
	return buf[:keep]
}

func (w *worker) publishActivity(rms float64, speaking bool) {
	if time.Since(w.lastActivityAt) < activityInterval {
		return
	}
	w.lastActivityAt = time.Now()
	w.s.Activity.Publish(events.ActivityEvent{
		Seq:      w.s.ActivitySeq.Add(1),
		RMS:      rms,
		Speaking: speaking,
	})
}

func (w *worker) publishTranscript(text string, isFinal bool, confidence *float64, audioSeconds float64) {
	if isFinal {
		w.finalOutputs++
	}
	w.s.Transcripts.Publish(events.TranscriptEvent{
		Seq:          w.s.TranscriptSeq.Add(1),
		UtteranceID:  w.utteranceID,
		Text:         text,
		IsFinal:      isFinal,
		Confidence:   confidence,
		AudioSeconds: audioSeconds,
		Timestamp:    time.Now(),
	})
}

// publishStatus reports a listening-state detail change, e.g. entering or
// leaving degraded transcription.
func (w *worker) publishStatus(detail string) {
	w.s.Status.Publish(events.StatusEvent{
		Seq:    w.s.StatusSeq.Add(1),
		Status: events.StatusListening,
		Detail: detail,
	})
}
