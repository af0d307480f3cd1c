// This file contains the GGML backend built on the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// NativeModel implements [Model] for single-file GGML models. It trades the
// ONNX backend's KV-cache control and quality-gate candidates for a much
// simpler integration; the text-quality pipeline downstream is identical.
type NativeModel struct {
	path     string
	language string
	model    whisperlib.Model
}

var _ Model = (*NativeModel)(nil)

// NativeOption configures [OpenNative].
type NativeOption func(*NativeModel)

// WithNativeLanguage sets the transcription language code. Defaults to
// auto-detection.
func WithNativeLanguage(lang string) NativeOption {
	return func(m *NativeModel) { m.language = lang }
}

// OpenNative prepares a GGML model at path. The weights load during
// [NativeModel.WarmUp].
func OpenNative(path string, opts ...NativeOption) (*NativeModel, error) {
	if path == "" {
		return nil, errors.New("asr: ggml model path must not be empty")
	}
	m := &NativeModel{path: path, language: "auto"}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// WarmUp implements [Model].
func (m *NativeModel) WarmUp(_ context.Context) error {
	if m.model != nil {
		return nil
	}
	model, err := whisperlib.New(m.path)
	if err != nil {
		return fmt.Errorf("asr: load ggml model %q: %w", m.path, err)
	}
	m.model = model
	return nil
}

// Transcribe implements [Model].
func (m *NativeModel) Transcribe(ctx context.Context, req Request) (Result, error) {
	if m.model == nil {
		return Result{}, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	wctx, err := m.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("asr: whisper context: %w", err)
	}
	lang := m.language
	if req.LanguageHint != "" {
		lang = req.LanguageHint
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return Result{}, fmt.Errorf("asr: set language %q: %w", lang, err)
	}
	if err := wctx.Process(req.Samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("asr: ggml decode: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Result{}, fmt.Errorf("asr: read segment: %w", err)
			}
			break
		}
		sb.WriteString(segment.Text)
		sb.WriteString(" ")
	}

	audioSeconds := float64(len(req.Samples)) / melSampleRate
	text := Postprocess(sb.String())
	text = trimDoubledText(text, audioSeconds)
	if req.Partial {
		return Result{Text: text}, nil
	}
	return Result{Text: text, Confidence: Confidence(text, audioSeconds)}, nil
}

// Reset implements [Model]. Each Transcribe uses a fresh whisper context,
// so nothing persists between utterances.
func (m *NativeModel) Reset() {}

// Close implements [Model].
func (m *NativeModel) Close() error {
	if m.model != nil {
		err := m.model.Close()
		m.model = nil
		return err
	}
	return nil
}
