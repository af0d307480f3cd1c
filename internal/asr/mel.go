package asr

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Mel frontend geometry. The encoder expects exactly 80 mel bands over 3000
// frames, which corresponds to 30 seconds of 16 kHz audio.
const (
	melFFTSize    = 400
	melHop        = 160
	melBands      = 80
	melFrames     = 3000
	melSamples    = 480000
	melSampleRate = 16000
)

// Input level normalisation before the spectrogram. Quiet microphones land
// far below the level the model was trained on.
const (
	melTargetRMS = 0.10
	melMinGain   = 0.8
	melMaxGain   = 15.0
)

// melFrontend converts PCM to the log-mel features the encoder consumes.
// Reused across utterances; not safe for concurrent use.
type melFrontend struct {
	fft     *fourier.FFT
	window  []float64
	filters [][]melFilterEntry
	padded  []float64
	coeffs  []complex128
	power   []float64
}

// melFilterEntry is one non-zero weight of a triangular mel filter.
type melFilterEntry struct {
	bin    int
	weight float64
}

func newMelFrontend() *melFrontend {
	m := &melFrontend{
		fft:    fourier.NewFFT(melFFTSize),
		window: make([]float64, melFFTSize),
		coeffs: make([]complex128, melFFTSize/2+1),
		power:  make([]float64, melFFTSize/2+1),
	}
	for i := range m.window {
		m.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(melFFTSize)))
	}
	m.filters = slaneyFilterbank(melBands, melFFTSize, melSampleRate)
	return m
}

// Features computes the log-mel spectrogram of samples, laid out band-major
// as [melBands * melFrames] float32. It also returns the number of frames
// covering actual (non-padding) audio.
func (m *melFrontend) Features(samples []float32) ([]float32, int) {
	active := len(samples)
	if active > melSamples {
		samples = samples[:melSamples]
		active = melSamples
	}

	// Reflect-pad half a window on each side so frame 0 is centred on
	// sample 0, then zero-pad out to the full 30 s context.
	pad := melFFTSize / 2
	total := melSamples + 2*pad
	if cap(m.padded) < total {
		m.padded = make([]float64, total)
	}
	padded := m.padded[:total]
	for i := range padded {
		padded[i] = 0
	}
	for i, s := range samples {
		padded[pad+i] = float64(s)
	}
	for i := 1; i <= pad && i < len(samples); i++ {
		padded[pad-i] = float64(samples[i])
	}
	if n := len(samples); n > 1 {
		for i := 1; i <= pad && i < n; i++ {
			padded[pad+n-1+i] = float64(samples[n-1-i])
		}
	}

	normalizeRMS(padded[pad : pad+active])

	activeFrames := (active + melFFTSize + melHop - 1) / melHop
	if activeFrames < 1 {
		activeFrames = 1
	}
	if activeFrames > melFrames {
		activeFrames = melFrames
	}

	out := make([]float32, melBands*melFrames)
	frame := make([]float64, melFFTSize)
	maxLog := -1e30

	// Frames past the active region are guaranteed zero padding; skip their
	// FFTs entirely.
	for t := 0; t < activeFrames; t++ {
		start := t * melHop
		for i := 0; i < melFFTSize; i++ {
			frame[i] = padded[start+i] * m.window[i]
		}
		m.fft.Coefficients(m.coeffs, frame)
		for i := range m.coeffs {
			re := real(m.coeffs[i])
			im := imag(m.coeffs[i])
			m.power[i] = re*re + im*im
		}
		for b, filter := range m.filters {
			var sum float64
			for _, e := range filter {
				sum += m.power[e.bin] * e.weight
			}
			lg := math.Log10(math.Max(sum, 1e-10))
			out[b*melFrames+t] = float32(lg)
			if lg > maxLog {
				maxLog = lg
			}
		}
	}

	// Skipped frames take the same log floor a zero-energy FFT would yield.
	const padLog = float32(-10)
	for b := 0; b < melBands; b++ {
		row := out[b*melFrames : (b+1)*melFrames]
		for t := activeFrames; t < melFrames; t++ {
			row[t] = padLog
		}
	}

	// Dynamic range compression: clamp to 8 dB below the peak, then rescale
	// into the range the encoder was trained on.
	floor := float32(maxLog - 8)
	for i, v := range out {
		if v < floor {
			v = floor
		}
		out[i] = (v + 4) / 4
	}
	return out, activeFrames
}

// normalizeRMS scales samples toward [melTargetRMS] in place. Near-silent
// input is left alone so noise is not amplified into phantom speech.
func normalizeRMS(samples []float64) {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	if len(samples) == 0 {
		return
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-5 {
		return
	}
	gain := melTargetRMS / rms
	if gain < melMinGain {
		gain = melMinGain
	}
	if gain > melMaxGain {
		gain = melMaxGain
	}
	if math.Abs(gain-1) < 1e-3 {
		return
	}
	for i := range samples {
		samples[i] *= gain
	}
}

// hzToMel converts Hz to mels on the Slaney scale: linear below 1 kHz,
// logarithmic above.
func hzToMel(hz float64) float64 {
	const (
		fSp      = 200.0 / 3.0
		minLogHz = 1000.0
	)
	logStep := math.Log(6.4) / 27.0
	if hz < minLogHz {
		return hz / fSp
	}
	return minLogHz/fSp + math.Log(hz/minLogHz)/logStep
}

// melToHz is the inverse of [hzToMel].
func melToHz(mel float64) float64 {
	const (
		fSp      = 200.0 / 3.0
		minLogHz = 1000.0
	)
	logStep := math.Log(6.4) / 27.0
	minLogMel := minLogHz / fSp
	if mel < minLogMel {
		return mel * fSp
	}
	return minLogHz * math.Exp(logStep*(mel-minLogMel))
}

// slaneyFilterbank builds area-normalised triangular mel filters, stored
// sparsely as (bin, weight) pairs.
func slaneyFilterbank(bands, fftSize, sampleRate int) [][]melFilterEntry {
	bins := fftSize/2 + 1
	maxMel := hzToMel(float64(sampleRate) / 2)

	centers := make([]float64, bands+2)
	for i := range centers {
		centers[i] = melToHz(maxMel * float64(i) / float64(bands+1))
	}

	binHz := make([]float64, bins)
	for i := range binHz {
		binHz[i] = float64(i) * float64(sampleRate) / float64(fftSize)
	}

	filters := make([][]melFilterEntry, bands)
	for b := 0; b < bands; b++ {
		lower, center, upper := centers[b], centers[b+1], centers[b+2]
		norm := 2.0 / (upper - lower)
		var entries []melFilterEntry
		for i, hz := range binHz {
			var w float64
			switch {
			case hz <= lower || hz >= upper:
				continue
			case hz <= center:
				w = (hz - lower) / (center - lower)
			default:
				w = (upper - hz) / (upper - center)
			}
			if w > 0 {
				entries = append(entries, melFilterEntry{bin: i, weight: w * norm})
			}
		}
		filters[b] = entries
	}
	return filters
}
