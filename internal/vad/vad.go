// Package vad classifies audio frames as speech or silence.
//
// Two detectors are provided: [Energy], a zero-dependency RMS gate with
// hangover, and [Silero], a recurrent neural detector running on ONNX
// Runtime. The pipeline prefers Silero when its model file loads and falls
// back to Energy otherwise.
package vad

// Activity is the classification of one audio frame.
type Activity int

const (
	Silence Activity = iota
	Speech
)

func (a Activity) String() string {
	if a == Speech {
		return "speech"
	}
	return "silence"
}

// Detector classifies mono 16 kHz float32 frames.
//
// Classify returns the activity for the frame plus a detector-specific
// level: RMS for [Energy], max window speech probability for [Silero].
// Detectors keep state across calls (hangover counters, recurrent state);
// Reset clears it between utterance streams.
type Detector interface {
	Classify(frame []float32) (Activity, float64)
	Reset()
}
