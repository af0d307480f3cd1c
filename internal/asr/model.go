// Package asr implements speech-to-text decoding.
//
// The primary backend runs whisper-style encoder/decoder ONNX graphs through
// ONNX Runtime with greedy decoding, KV-cache reuse, token suppression, and
// a transcript quality gate with retry and cloud recovery escalation. A
// whisper.cpp backend ([OpenNative]) covers single-file GGML models, and
// [Stub] provides a deterministic in-memory model for pipeline tests.
package asr

import (
	"context"
	"errors"
	"sync"
)

// ErrModelNotLoaded is returned when Transcribe runs before WarmUp.
var ErrModelNotLoaded = errors.New("asr: model not loaded")

// Request describes one decode invocation.
type Request struct {
	// Samples is mono float32 PCM at 16 kHz.
	Samples []float32
	// Partial selects the cheap preview path: single prompt candidate and a
	// very small token budget.
	Partial bool
	// LanguageHint is a two-letter code tried as the first prompt
	// candidate. Empty means start with auto-detection.
	LanguageHint string
	// BiasPhrases receive a logit boost so domain vocabulary survives
	// greedy decoding.
	BiasPhrases []string
}

// Result is the outcome of a decode invocation.
type Result struct {
	// Text is the postprocessed transcript. Empty when nothing usable was
	// decoded.
	Text string
	// Confidence is a heuristic in [0.05, 0.98]; nil for partials and for
	// empty text.
	Confidence *float64
	// Recovered marks text obtained through the cloud recovery hook rather
	// than the local model.
	Recovered bool
}

// Model is a loaded speech-to-text model.
//
// WarmUp loads weights and runs a dummy inference so the first real
// utterance does not pay the cold-start cost. Reset clears any decode state
// carried between utterances; the pipeline calls it after each silence or
// stop flush. Implementations are not required to be safe for concurrent
// Transcribe calls; see [Handle].
type Model interface {
	WarmUp(ctx context.Context) error
	Transcribe(ctx context.Context, req Request) (Result, error)
	Reset()
	Close() error
}

// Handle wraps a [Model] with a mutex so the engine facade and the pipeline
// can share it. Decodes serialise; whisper-class models saturate the
// hardware with a single inference anyway.
type Handle struct {
	mu    sync.Mutex
	model Model
}

// NewHandle wraps model.
func NewHandle(model Model) *Handle {
	return &Handle{model: model}
}

// WarmUp locks the model and warms it up.
func (h *Handle) WarmUp(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model.WarmUp(ctx)
}

// Transcribe locks the model and decodes.
func (h *Handle) Transcribe(ctx context.Context, req Request) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model.Transcribe(ctx, req)
}

// Reset locks the model and clears its inter-utterance decode state.
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.model.Reset()
}

// Close releases the underlying model.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model.Close()
}
