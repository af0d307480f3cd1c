package vad

import (
	"fmt"
	"log/slog"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lattice-labs/dictum/internal/onnx"
)

// sileroWindow is the model's fixed analysis window at 16 kHz.
const sileroWindow = 512

// DefaultSileroThreshold is the default speech probability threshold.
const DefaultSileroThreshold = 0.20

// Silero threshold clamp bounds. Values outside this range make the
// detector either never or always fire.
const (
	minSileroThreshold = 0.03
	maxSileroThreshold = 0.95
)

// sileroIOMode distinguishes the two published model layouts.
type sileroIOMode int

const (
	// ioSplitState: inputs input/sr/h/c, outputs output/hn/cn.
	ioSplitState sileroIOMode = iota
	// ioCombinedState: inputs input/state/sr, outputs output/stateN.
	ioCombinedState
)

// Silero runs the Silero voice activity model on ONNX Runtime.
//
// Frames of arbitrary size are buffered into 512-sample windows; recurrent
// state carries across windows so the model sees one continuous stream. A
// frame is Speech when any of its windows crosses the threshold.
type Silero struct {
	session   *ort.DynamicAdvancedSession
	mode      sileroIOMode
	threshold float32

	pending []float32
	// Recurrent state. Split mode uses h and c (2x1x64 each); combined mode
	// uses state (2x1x128).
	h     []float32
	c     []float32
	state []float32
}

var _ Detector = (*Silero)(nil)

// NewSilero loads the model at path. The threshold is clamped to
// [0.03, 0.95]; non-positive values select [DefaultSileroThreshold].
func NewSilero(path string, threshold float64) (*Silero, error) {
	if threshold <= 0 {
		threshold = DefaultSileroThreshold
	}
	if threshold < minSileroThreshold {
		threshold = minSileroThreshold
	}
	if threshold > maxSileroThreshold {
		threshold = maxSileroThreshold
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("vad: silero model: %w", err)
	}
	if err := onnx.EnsureRuntime(); err != nil {
		return nil, err
	}

	inputs, _, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("vad: inspect silero model: %w", err)
	}
	mode := ioSplitState
	inputNames := []string{"input", "sr", "h", "c"}
	outputNames := []string{"output", "hn", "cn"}
	for _, in := range inputs {
		if in.Name == "state" {
			mode = ioCombinedState
			inputNames = []string{"input", "state", "sr"}
			outputNames = []string{"output", "stateN"}
			break
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("vad: session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("vad: session options: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(path, inputNames, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("vad: open silero session: %w", err)
	}

	s := &Silero{
		session:   session,
		mode:      mode,
		threshold: float32(threshold),
	}
	s.Reset()
	slog.Info("silero vad loaded", "path", path, "threshold", threshold, "combined_state", mode == ioCombinedState)
	return s, nil
}

// Classify implements [Detector]. The returned level is the maximum window
// speech probability observed in the frame.
func (s *Silero) Classify(frame []float32) (Activity, float64) {
	s.pending = append(s.pending, frame...)

	activity := Silence
	var maxProb float64
	for len(s.pending) >= sileroWindow {
		window := s.pending[:sileroWindow]
		prob, err := s.runWindow(window)
		s.pending = append(s.pending[:0], s.pending[sileroWindow:]...)
		if err != nil {
			slog.Warn("silero inference failed, treating window as silence", "err", err)
			continue
		}
		if prob > maxProb {
			maxProb = prob
		}
		if prob >= float64(s.threshold) {
			activity = Speech
		}
	}
	return activity, maxProb
}

// runWindow runs one 512-sample window and updates the recurrent state.
func (s *Silero) runWindow(window []float32) (float64, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, sileroWindow), window)
	if err != nil {
		return 0, err
	}
	defer inputTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{16000})
	if err != nil {
		return 0, err
	}
	defer srTensor.Destroy()

	var inputs []ort.Value
	switch s.mode {
	case ioSplitState:
		hTensor, err := ort.NewTensor(ort.NewShape(2, 1, 64), s.h)
		if err != nil {
			return 0, err
		}
		defer hTensor.Destroy()
		cTensor, err := ort.NewTensor(ort.NewShape(2, 1, 64), s.c)
		if err != nil {
			return 0, err
		}
		defer cTensor.Destroy()
		inputs = []ort.Value{inputTensor, srTensor, hTensor, cTensor}
	case ioCombinedState:
		stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), s.state)
		if err != nil {
			return 0, err
		}
		defer stateTensor.Destroy()
		inputs = []ort.Value{inputTensor, stateTensor, srTensor}
	}

	outputCount := 3
	if s.mode == ioCombinedState {
		outputCount = 2
	}
	outputs := make([]ort.Value, outputCount)
	if err := s.session.Run(inputs, outputs); err != nil {
		return 0, err
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	probTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("vad: unexpected output tensor type")
	}
	data := probTensor.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("vad: empty probability output")
	}
	prob := float64(data[0])

	// Carry recurrent state into the next window.
	switch s.mode {
	case ioSplitState:
		if hn, ok := outputs[1].(*ort.Tensor[float32]); ok {
			copy(s.h, hn.GetData())
		}
		if cn, ok := outputs[2].(*ort.Tensor[float32]); ok {
			copy(s.c, cn.GetData())
		}
	case ioCombinedState:
		if sn, ok := outputs[1].(*ort.Tensor[float32]); ok {
			copy(s.state, sn.GetData())
		}
	}
	return prob, nil
}

// Reset implements [Detector]. Clears window buffering and recurrent state.
func (s *Silero) Reset() {
	s.pending = s.pending[:0]
	switch s.mode {
	case ioSplitState:
		s.h = make([]float32, 2*1*64)
		s.c = make([]float32, 2*1*64)
	case ioCombinedState:
		s.state = make([]float32, 2*1*128)
	}
}

// Close releases the ONNX session.
func (s *Silero) Close() error {
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		return err
	}
	return nil
}
