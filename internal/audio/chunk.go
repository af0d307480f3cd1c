// Package audio provides the capture side of the engine: mono float32 audio
// chunks, a single-producer single-consumer ring buffer that links the
// real-time device callback to the pipeline, input device selection, and
// sample rate conversion.
package audio

import (
	"math"
	"time"
)

// Chunk is a block of mono float32 PCM samples at a known sample rate.
type Chunk struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the play time of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// RMS computes the root-mean-square level of samples. Returns 0 for an
// empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
