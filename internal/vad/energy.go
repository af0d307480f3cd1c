package vad

import "github.com/lattice-labs/dictum/internal/audio"

// Default tuning for the energy gate. The threshold is deliberately low so
// quiet microphones still trigger; the hangover keeps short intra-word
// pauses inside one utterance.
const (
	DefaultEnergyThreshold = 0.01
	DefaultHangoverFrames  = 8
)

// Energy is an RMS threshold detector with hangover.
//
// A frame whose RMS reaches the threshold is Speech and re-arms the
// hangover. Below-threshold frames keep reporting Speech until the hangover
// counter runs out, which bridges the gaps between words.
type Energy struct {
	threshold float64
	hangover  int
	remaining int
}

var _ Detector = (*Energy)(nil)

// NewEnergy creates an energy detector. Non-positive arguments select the
// package defaults.
func NewEnergy(threshold float64, hangoverFrames int) *Energy {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	if hangoverFrames <= 0 {
		hangoverFrames = DefaultHangoverFrames
	}
	return &Energy{threshold: threshold, hangover: hangoverFrames}
}

// Classify implements [Detector]. The returned level is the frame RMS.
func (e *Energy) Classify(frame []float32) (Activity, float64) {
	rms := audio.RMS(frame)
	if rms >= e.threshold {
		e.remaining = e.hangover
		return Speech, rms
	}
	if e.remaining > 0 {
		e.remaining--
		return Speech, rms
	}
	return Silence, rms
}

// Reset implements [Detector].
func (e *Energy) Reset() {
	e.remaining = 0
}
