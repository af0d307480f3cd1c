package asr

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// decodePass runs one greedy decode over the encoded audio and returns the
// raw (un-postprocessed) text.
//
// With a KV-cache export, the first step feeds the whole prompt and later
// steps feed a single token plus the carried present.* tensors. Without a
// cache (or when the export's cache dims cannot be satisfied) every step
// re-runs the full sequence, which is slower but bit-identical in output.
func (m *ONNXModel) decodePass(ctx context.Context, encOut *ort.Tensor[float32], prefix []int, budget, minSteps int) (string, error) {
	tokens := make([]int64, len(prefix))
	for i, t := range prefix {
		tokens[i] = int64(t)
	}

	useCache := len(m.pastToPresent) > 0 && m.cacheDimsUsable()
	past := map[string]*ort.Tensor[float32]{}
	defer func() {
		for _, t := range past {
			t.Destroy()
		}
	}()

	proc := newLogitProcessor(m.biasTokens)
	var emitted []int

	for step := 0; step < budget; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		next, err := m.decodeStep(tokens, encOut, past, useCache, step, proc, minSteps)
		if err != nil {
			return "", err
		}
		if next == tokEOT {
			break
		}
		tokens = append(tokens, int64(next))
		proc.record(next)
		emitted = append(emitted, next)
		if hasRepeatingTail(emitted) {
			break
		}
	}
	return m.tok.Decode(emitted), nil
}

// cacheDimsUsable reports whether every dynamic past dimension can be
// satisfied: batch (dim 0) becomes 1 and the sequence axis becomes 0 on the
// first step. Any other unknown dimension disables the cache path.
func (m *ONNXModel) cacheDimsUsable() bool {
	for _, dims := range m.pastDims {
		for i, d := range dims {
			if d > 0 {
				continue
			}
			if i != 0 && i != 2 {
				return false
			}
		}
	}
	return true
}

// decodeStep runs the decoder once and returns the chosen next token. It
// takes ownership of updating past in cache mode.
func (m *ONNXModel) decodeStep(tokens []int64, encOut *ort.Tensor[float32], past map[string]*ort.Tensor[float32], useCache bool, step int, proc *logitProcessor, minSteps int) (int, error) {
	cached := useCache && len(past) > 0

	feed := tokens
	if cached {
		feed = tokens[len(tokens)-1:]
	}
	idsData := make([]int64, len(feed))
	copy(idsData, feed)
	ids, err := ort.NewTensor(ort.NewShape(1, int64(len(idsData))), idsData)
	if err != nil {
		return 0, fmt.Errorf("asr: input_ids tensor: %w", err)
	}
	defer ids.Destroy()

	var scratch []ort.Value
	defer func() {
		for _, t := range scratch {
			t.Destroy()
		}
	}()

	inputs := make([]ort.Value, 0, len(m.decInputNames))
	for _, name := range m.decInputNames {
		switch {
		case name == "input_ids" || name == "tokens":
			inputs = append(inputs, ids)
		case name == "encoder_hidden_states" || name == "audio_features" || name == "encoder_output":
			inputs = append(inputs, encOut)
		case name == "use_cache_branch":
			flag, err := ort.NewTensor(ort.NewShape(1), []bool{cached})
			if err != nil {
				return 0, fmt.Errorf("asr: cache flag tensor: %w", err)
			}
			scratch = append(scratch, flag)
			inputs = append(inputs, flag)
		default:
			if dims, ok := m.pastDims[name]; ok {
				if t, ok := past[name]; ok {
					inputs = append(inputs, t)
					continue
				}
				empty, err := m.emptyPast(dims)
				if err != nil {
					return 0, err
				}
				scratch = append(scratch, empty)
				inputs = append(inputs, empty)
				continue
			}
			return 0, fmt.Errorf("asr: unsupported decoder input %q", name)
		}
	}

	outputs := make([]ort.Value, len(m.decOutputNames))
	if err := m.decoder.Run(inputs, outputs); err != nil {
		return 0, fmt.Errorf("asr: decoder run: %w", err)
	}

	// Adopt present.* tensors as next-step past; everything else is
	// destroyed here.
	adopted := map[int]bool{}
	if useCache {
		for pastName, outIdx := range m.pastToPresent {
			t, ok := outputs[outIdx].(*ort.Tensor[float32])
			if !ok {
				continue
			}
			if old, ok := past[pastName]; ok {
				old.Destroy()
			}
			past[pastName] = t
			adopted[outIdx] = true
		}
	}
	defer func() {
		for i, o := range outputs {
			if o != nil && !adopted[i] {
				o.Destroy()
			}
		}
	}()

	logitsIdx := 0
	for i, name := range m.decOutputNames {
		if name == "logits" {
			logitsIdx = i
			break
		}
	}
	logitsTensor, ok := outputs[logitsIdx].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("asr: unexpected logits tensor type")
	}
	shape := logitsTensor.GetShape()
	if len(shape) != 3 {
		return 0, fmt.Errorf("asr: unexpected logits shape %v", shape)
	}
	vocab := int(shape[2])
	data := logitsTensor.GetData()
	last := data[len(data)-vocab:]

	row := make([]float32, vocab)
	copy(row, last)
	return proc.next(row, step, minSteps), nil
}

// emptyPast builds a zero-length cache tensor for the first step.
func (m *ONNXModel) emptyPast(dims []int64) (*ort.Tensor[float32], error) {
	shape := make([]int64, len(dims))
	for i, d := range dims {
		switch {
		case d > 0:
			shape[i] = d
		case i == 0:
			shape[i] = 1
		default:
			shape[i] = 0
		}
	}
	t, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
	if err != nil {
		return nil, fmt.Errorf("asr: empty cache tensor: %w", err)
	}
	return t, nil
}

// closeSessions destroys whatever sessions were created.
func (m *ONNXModel) closeSessions() {
	if m.encoder != nil {
		_ = m.encoder.Destroy()
		m.encoder = nil
	}
	if m.decoder != nil {
		_ = m.decoder.Destroy()
		m.decoder = nil
	}
}

// Reset implements [Model]. The KV cache and token history live only for
// the duration of one decode pass, so there is no inter-utterance state to
// clear.
func (m *ONNXModel) Reset() {}

// Close implements [Model].
func (m *ONNXModel) Close() error {
	m.closeSessions()
	m.loaded = false
	return nil
}
