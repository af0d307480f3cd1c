package asr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-labs/dictum/internal/observe"
	"github.com/lattice-labs/dictum/internal/onnx"
)

// Model profile file names inside a model directory.
const (
	encoderFile       = "encoder.onnx"
	decoderFile       = "decoder.onnx"
	tokenizerJSONFile = "tokenizer.json"
)

// Recoverer is the escalation hook invoked when local decoding keeps
// producing degenerate output. See [CloudRecoverer].
type Recoverer interface {
	Recover(ctx context.Context, samples []float32) (string, error)
}

// ONNXOption configures [OpenONNX].
type ONNXOption func(*onnxConfig)

type onnxConfig struct {
	threads     int
	dmlDevice   int
	recoverer   Recoverer
	biasPhrases []string
	metrics     *observe.Metrics
}

// WithThreads sets the intra-op thread count for both sessions.
func WithThreads(n int) ONNXOption {
	return func(c *onnxConfig) { c.threads = n }
}

// WithDirectML enables the DirectML execution provider on the given GPU
// device. Only meaningful on Windows builds of onnxruntime.
func WithDirectML(deviceID int) ONNXOption {
	return func(c *onnxConfig) { c.dmlDevice = deviceID }
}

// WithRecoverer installs the cloud escalation hook.
func WithRecoverer(r Recoverer) ONNXOption {
	return func(c *onnxConfig) { c.recoverer = r }
}

// WithBiasPhrases boosts the logits of the given phrases' tokens so domain
// vocabulary survives greedy decoding.
func WithBiasPhrases(phrases []string) ONNXOption {
	return func(c *onnxConfig) { c.biasPhrases = phrases }
}

// WithMetrics overrides the metrics instance (tests).
func WithMetrics(m *observe.Metrics) ONNXOption {
	return func(c *onnxConfig) { c.metrics = m }
}

// ONNXModel runs whisper encoder/decoder graphs through ONNX Runtime.
type ONNXModel struct {
	dir string
	cfg onnxConfig

	mel *melFrontend
	tok *Tokenizer

	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession

	encInputName  string
	encOutputName string

	// Decoder IO layout, discovered from the graph.
	decInputNames  []string
	decOutputNames []string
	// pastToPresent maps a past_key_values input name to the index of the
	// matching present output. Empty when the export has no KV cache.
	pastToPresent map[string]int
	pastDims      map[string][]int64

	biasTokens map[int]struct{}
	loaded     bool
}

var _ Model = (*ONNXModel)(nil)

// OpenONNX prepares a model from a profile directory holding encoder.onnx,
// decoder.onnx, and tokenizer.json. Sessions are not created until
// [ONNXModel.WarmUp].
func OpenONNX(dir string, opts ...ONNXOption) (*ONNXModel, error) {
	cfg := onnxConfig{threads: 0, dmlDevice: -1}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}

	for _, f := range []string{encoderFile, decoderFile, tokenizerJSONFile} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			return nil, fmt.Errorf("asr: model profile %q: %w", dir, err)
		}
	}

	tok, err := LoadTokenizer(filepath.Join(dir, tokenizerJSONFile))
	if err != nil {
		return nil, err
	}

	m := &ONNXModel{
		dir: dir,
		cfg: cfg,
		mel: newMelFrontend(),
		tok: tok,
	}
	m.biasTokens = make(map[int]struct{})
	for _, phrase := range cfg.biasPhrases {
		for _, id := range tok.Encode(" " + strings.TrimSpace(phrase)) {
			m.biasTokens[id] = struct{}{}
		}
	}
	return m, nil
}

// WarmUp implements [Model]. Encoder and decoder sessions load in parallel,
// then a short silent clip runs end to end so first-utterance latency is
// paid here instead of mid-dictation.
func (m *ONNXModel) WarmUp(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	if err := onnx.EnsureRuntime(); err != nil {
		return err
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(m.openEncoder)
	g.Go(m.openDecoder)
	if err := g.Wait(); err != nil {
		m.closeSessions()
		return err
	}
	m.loaded = true

	warm := make([]float32, melSampleRate/2)
	if _, err := m.Transcribe(ctx, Request{Samples: warm, Partial: true}); err != nil {
		slog.Warn("warm-up inference failed", "err", err)
	}
	slog.Info("speech model ready", "dir", m.dir, "kv_cache", len(m.pastToPresent) > 0)
	return nil
}

func (m *ONNXModel) sessionOptions() (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("asr: session options: %w", err)
	}
	if m.cfg.threads > 0 {
		if err := opts.SetIntraOpNumThreads(m.cfg.threads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("asr: session options: %w", err)
		}
		if err := opts.SetInterOpNumThreads(m.cfg.threads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("asr: session options: %w", err)
		}
	}
	if m.cfg.dmlDevice >= 0 {
		if err := opts.AppendExecutionProviderDirectML(m.cfg.dmlDevice); err != nil {
			slog.Warn("directml unavailable, using cpu", "err", err)
		}
	}
	return opts, nil
}

func (m *ONNXModel) openEncoder() error {
	path := filepath.Join(m.dir, encoderFile)
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return fmt.Errorf("asr: inspect encoder: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("asr: encoder graph has no IO")
	}
	m.encInputName = inputs[0].Name
	m.encOutputName = outputs[0].Name

	opts, err := m.sessionOptions()
	if err != nil {
		return err
	}
	defer opts.Destroy()
	m.encoder, err = ort.NewDynamicAdvancedSession(path, []string{m.encInputName}, []string{m.encOutputName}, opts)
	if err != nil {
		return fmt.Errorf("asr: open encoder: %w", err)
	}
	return nil
}

func (m *ONNXModel) openDecoder() error {
	path := filepath.Join(m.dir, decoderFile)
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return fmt.Errorf("asr: inspect decoder: %w", err)
	}

	m.decInputNames = m.decInputNames[:0]
	m.decOutputNames = m.decOutputNames[:0]
	m.pastToPresent = map[string]int{}
	m.pastDims = map[string][]int64{}

	for _, in := range inputs {
		m.decInputNames = append(m.decInputNames, in.Name)
		if strings.HasPrefix(in.Name, "past_key_values.") {
			dims := make([]int64, len(in.Dimensions))
			copy(dims, in.Dimensions)
			m.pastDims[in.Name] = dims
		}
	}
	for i, out := range outputs {
		m.decOutputNames = append(m.decOutputNames, out.Name)
		if strings.HasPrefix(out.Name, "present.") {
			pastName := "past_key_values." + strings.TrimPrefix(out.Name, "present.")
			if _, ok := m.pastDims[pastName]; ok {
				m.pastToPresent[pastName] = i
			}
		}
	}
	// A cache input without a matching present output cannot be fed on
	// later steps; disable the cache path entirely.
	if len(m.pastToPresent) != len(m.pastDims) {
		m.pastToPresent = map[string]int{}
	}

	opts, err := m.sessionOptions()
	if err != nil {
		return err
	}
	defer opts.Destroy()
	m.decoder, err = ort.NewDynamicAdvancedSession(path, m.decInputNames, m.decOutputNames, opts)
	if err != nil {
		return fmt.Errorf("asr: open decoder: %w", err)
	}
	return nil
}

// Transcribe implements [Model].
func (m *ONNXModel) Transcribe(ctx context.Context, req Request) (Result, error) {
	if !m.loaded {
		return Result{}, ErrModelNotLoaded
	}
	kind := "final"
	if req.Partial {
		kind = "partial"
	}
	ctx, span := observe.StartSpan(ctx, "asr.transcribe")
	span.SetAttributes(attribute.String("kind", kind))
	defer span.End()

	start := time.Now()
	melStart := start
	features, activeFrames := m.mel.Features(req.Samples)
	m.cfg.metrics.MelDuration.Record(ctx, time.Since(melStart).Seconds())
	span.SetAttributes(attribute.Int("active_frames", activeFrames))

	encOut, err := m.encode(features)
	if err != nil {
		m.cfg.metrics.DecodeErrors.Add(ctx, 1)
		return Result{}, err
	}
	defer encOut.Destroy()

	audioSeconds := float64(len(req.Samples)) / melSampleRate

	var text string
	if req.Partial {
		text, err = m.decodePass(ctx, encOut, m.partialPrefix(req.LanguageHint), stepBudget(audioSeconds, true), minStepsBeforeEOT(true))
		if err != nil {
			m.cfg.metrics.DecodeErrors.Add(ctx, 1)
			return Result{}, err
		}
		m.cfg.metrics.DecodeDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("kind", kind)))
		return Result{Text: Postprocess(text)}, nil
	}

	text, err = m.decodeFinal(ctx, encOut, req, audioSeconds)
	if err != nil {
		m.cfg.metrics.DecodeErrors.Add(ctx, 1)
		return Result{}, err
	}
	m.cfg.metrics.DecodeDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", kind)))

	text = trimDoubledText(text, audioSeconds)
	text = Postprocess(text)

	// Local decode kept producing babble: hand the raw audio to the cloud
	// recovery hook as a last resort.
	if (text == "" || IsDegenerate(text)) && m.cfg.recoverer != nil {
		recStart := time.Now()
		recovered, recErr := m.cfg.recoverer.Recover(ctx, req.Samples)
		m.cfg.metrics.RecoveryDuration.Record(ctx, time.Since(recStart).Seconds())
		switch {
		case recErr != nil:
			m.cfg.metrics.RecoveryRequests.Add(ctx, 1, recoveryStatus("error"))
			slog.Warn("cloud recovery failed", "err", recErr)
		case strings.TrimSpace(recovered) == "":
			m.cfg.metrics.RecoveryRequests.Add(ctx, 1, recoveryStatus("empty"))
		default:
			m.cfg.metrics.RecoveryRequests.Add(ctx, 1, recoveryStatus("ok"))
			text = Postprocess(recovered)
			return Result{Text: text, Confidence: Confidence(text, audioSeconds), Recovered: true}, nil
		}
	}

	return Result{Text: text, Confidence: Confidence(text, audioSeconds)}, nil
}

// decodeFinal runs the candidate-prefix loop with quality-gated retry.
func (m *ONNXModel) decodeFinal(ctx context.Context, encOut *ort.Tensor[float32], req Request, audioSeconds float64) (string, error) {
	budget := stepBudget(audioSeconds, false)
	minSteps := minStepsBeforeEOT(false)

	var bestText string
	bestScore := -1e9
	var bestPrefix []int
	var lastErr error

	for _, prefix := range promptCandidates(req.LanguageHint) {
		raw, err := m.decodePass(ctx, encOut, prefix, budget, minSteps)
		if err != nil {
			lastErr = err
			continue
		}
		text := Postprocess(raw)
		score := QualityScore(text, audioSeconds)
		if score > bestScore {
			bestText, bestScore, bestPrefix = text, score, prefix
		}
		if text != "" && !IsLowQuality(text, audioSeconds) {
			break
		}
	}
	if bestPrefix == nil {
		if lastErr != nil {
			return "", lastErr
		}
		return "", nil
	}

	// One more attempt with extra headroom when the result looks thin. The
	// retry must beat the original by a clear margin to be kept.
	if audioSeconds >= refineMinSeconds && IsLowQuality(bestText, audioSeconds) {
		raw, err := m.decodePass(ctx, encOut, bestPrefix, budget+retryExtraSteps, minSteps)
		if err == nil {
			retry := Postprocess(raw)
			if QualityScore(retry, audioSeconds) > bestScore+retryScoreMargin {
				bestText = retry
			}
		}
	}
	return bestText, nil
}

func (m *ONNXModel) partialPrefix(hint string) []int {
	if tok, ok := languageToken(hint); ok {
		return []int{tokSOT, tok, tokTranscribe, tokNoTimestamps}
	}
	return []int{tokSOT, tokLangBase, tokTranscribe, tokNoTimestamps}
}

// encode runs the mel features through the encoder and returns the hidden
// states tensor. Caller destroys it.
func (m *ONNXModel) encode(features []float32) (*ort.Tensor[float32], error) {
	input, err := ort.NewTensor(ort.NewShape(1, melBands, melFrames), features)
	if err != nil {
		return nil, fmt.Errorf("asr: mel tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.Value, 1)
	if err := m.encoder.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("asr: encoder run: %w", err)
	}
	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		outputs[0].Destroy()
		return nil, fmt.Errorf("asr: unexpected encoder output type")
	}
	return hidden, nil
}

// recoveryStatus builds the status attribute for recovery counters.
func recoveryStatus(status string) metric.AddOption {
	return metric.WithAttributes(attribute.String("status", status))
}
