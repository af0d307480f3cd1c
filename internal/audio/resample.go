package audio

// resampleBlock is the number of input samples accumulated before a
// conversion pass runs. Small enough to keep partial-transcript latency low,
// large enough to amortise per-block overhead.
const resampleBlock = 1024

// Resampler converts mono audio from one sample rate to another.
//
// When input and output rates are equal the resampler is a strict
// passthrough: [Resampler.Process] returns its argument unchanged with no
// copy and no buffering. Otherwise input is accumulated into fixed blocks
// and converted with linear interpolation; [Resampler.Flush] drains whatever
// is left of the final partial block.
type Resampler struct {
	inRate  int
	outRate int
	pending []float32
	out     []float32
}

// NewResampler creates a converter from inRate to outRate (both Hz).
func NewResampler(inRate, outRate int) *Resampler {
	r := &Resampler{inRate: inRate, outRate: outRate}
	if inRate != outRate {
		r.pending = make([]float32, 0, resampleBlock*2)
	}
	return r
}

// Passthrough reports whether the resampler forwards input unchanged.
func (r *Resampler) Passthrough() bool { return r.inRate == r.outRate }

// Process accepts input samples and returns whatever converted output is
// ready. In passthrough mode the input slice itself is returned. Otherwise
// the returned slice is owned by the resampler and valid until the next
// Process or Flush call.
func (r *Resampler) Process(in []float32) []float32 {
	if r.Passthrough() {
		return in
	}
	r.pending = append(r.pending, in...)
	r.out = r.out[:0]
	for len(r.pending) >= resampleBlock {
		r.out = r.convert(r.pending[:resampleBlock], r.out)
		r.pending = append(r.pending[:0], r.pending[resampleBlock:]...)
	}
	return r.out
}

// Flush converts and returns any buffered partial block. Call when the
// stream ends so the utterance tail is not lost.
func (r *Resampler) Flush() []float32 {
	if r.Passthrough() || len(r.pending) == 0 {
		return nil
	}
	r.out = r.convert(r.pending, r.out[:0])
	r.pending = r.pending[:0]
	return r.out
}

// convert appends the linear interpolation of block at the output rate to
// dst and returns the extended slice.
func (r *Resampler) convert(block []float32, dst []float32) []float32 {
	outLen := len(block) * r.outRate / r.inRate
	if outLen == 0 {
		return dst
	}
	step := float64(len(block)-1) / float64(outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s := block[idx]
		if idx+1 < len(block) {
			s += (block[idx+1] - block[idx]) * frac
		}
		dst = append(dst, s)
	}
	return dst
}
