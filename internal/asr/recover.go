package asr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Recovery tuning. The activity gate trims leading and trailing silence so
// the upload stays small; padding keeps word onsets intact.
const (
	recoveryActivityGate = 0.0025
	recoveryPadding      = 250 * time.Millisecond
	recoveryTargetRMS    = 0.12
	recoveryTimeout      = 20 * time.Second
)

// CloudRecoverer sends an utterance to a hosted transcription model when
// local decoding keeps producing degenerate output.
type CloudRecoverer struct {
	client  oai.Client
	model   oai.AudioModel
	timeout time.Duration
}

var _ Recoverer = (*CloudRecoverer)(nil)

// RecovererOption configures [NewCloudRecoverer].
type RecovererOption func(*CloudRecoverer)

// WithRecoveryModel overrides the hosted model.
func WithRecoveryModel(model string) RecovererOption {
	return func(r *CloudRecoverer) { r.model = oai.AudioModel(model) }
}

// WithRecoveryTimeout overrides the per-request timeout.
func WithRecoveryTimeout(d time.Duration) RecovererOption {
	return func(r *CloudRecoverer) { r.timeout = d }
}

// NewCloudRecoverer builds a recoverer using the given API key.
func NewCloudRecoverer(apiKey string, opts ...RecovererOption) (*CloudRecoverer, error) {
	if apiKey == "" {
		return nil, errors.New("asr: recovery apiKey must not be empty")
	}
	r := &CloudRecoverer{
		model:   oai.AudioModelGPT4oMiniTranscribe,
		timeout: recoveryTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	r.client = oai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: r.timeout}),
	)
	return r, nil
}

// Recover implements [Recoverer].
func (r *CloudRecoverer) Recover(ctx context.Context, samples []float32) (string, error) {
	trimmed := trimSilence(samples, recoveryActivityGate, int(recoveryPadding.Seconds()*melSampleRate))
	if len(trimmed) == 0 {
		return "", nil
	}
	normalized := normalizeForUpload(trimmed, recoveryTargetRMS)

	wavBytes, err := encodeWAV(normalized, melSampleRate)
	if err != nil {
		return "", fmt.Errorf("asr: encode recovery wav: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wavBytes), "utterance.wav", "audio/wav"),
		Model: r.model,
	})
	if err != nil {
		return "", fmt.Errorf("asr: cloud transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// trimSilence cuts samples down to the region where activity crosses gate,
// padded on both sides.
func trimSilence(samples []float32, gate float64, pad int) []float32 {
	first, last := -1, -1
	for i, s := range samples {
		if math.Abs(float64(s)) >= gate {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	start := first - pad
	if start < 0 {
		start = 0
	}
	end := last + pad
	if end >= len(samples) {
		end = len(samples) - 1
	}
	return samples[start : end+1]
}

// normalizeForUpload returns a gained copy of samples targeting the given
// RMS, clipped to [-1, 1].
func normalizeForUpload(samples []float32, target float64) []float32 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	gain := 1.0
	if rms > 1e-6 {
		gain = target / rms
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		v := float64(s) * gain
		if v > 1 {
			v = 1
		}
		if v < -1 {
			v = -1
		}
		out[i] = float32(v)
	}
	return out
}

// encodeWAV renders mono float32 samples as a 16-bit PCM WAV file.
func encodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	var buf seekableBuffer
	enc := wav.NewEncoder(&buf, sampleRate, 16, 1, 1)

	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = int(s * 32767)
	}
	ab := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ab); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// seekableBuffer is the minimal in-memory io.WriteSeeker the WAV encoder
// needs to backfill the header length fields.
type seekableBuffer struct {
	data []byte
	pos  int
}

var _ io.WriteSeeker = (*seekableBuffer)(nil)

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.data) + int(offset)
	default:
		return 0, errors.New("asr: invalid seek whence")
	}
	if next < 0 {
		return 0, errors.New("asr: negative seek position")
	}
	b.pos = next
	return int64(next), nil
}
