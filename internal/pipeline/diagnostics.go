package pipeline

import "sync/atomic"

// Diagnostics holds the pipeline's observability counters. All fields are
// updated atomically from the pipeline goroutine and snapshotted from
// anywhere.
type Diagnostics struct {
	ChunksDrained     atomic.Uint64
	SamplesDropped    atomic.Uint64
	Partials          atomic.Uint64
	Finals            atomic.Uint64
	EmptyFinals       atomic.Uint64
	DiscardedTooShort atomic.Uint64
	MaxFlushes        atomic.Uint64
	StopFlushes       atomic.Uint64
	Rescues           atomic.Uint64
	PlaceholderFinals atomic.Uint64
	DecodeErrors      atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	ChunksDrained     uint64 `json:"chunksDrained"`
	SamplesDropped    uint64 `json:"samplesDropped"`
	Partials          uint64 `json:"partials"`
	Finals            uint64 `json:"finals"`
	EmptyFinals       uint64 `json:"emptyFinals"`
	DiscardedTooShort uint64 `json:"discardedTooShort"`
	MaxFlushes        uint64 `json:"maxFlushes"`
	StopFlushes       uint64 `json:"stopFlushes"`
	Rescues           uint64 `json:"rescues"`
	PlaceholderFinals uint64 `json:"placeholderFinals"`
	DecodeErrors      uint64 `json:"decodeErrors"`
}

// Snapshot copies the current counter values.
func (d *Diagnostics) Snapshot() Snapshot {
	return Snapshot{
		ChunksDrained:     d.ChunksDrained.Load(),
		SamplesDropped:    d.SamplesDropped.Load(),
		Partials:          d.Partials.Load(),
		Finals:            d.Finals.Load(),
		EmptyFinals:       d.EmptyFinals.Load(),
		DiscardedTooShort: d.DiscardedTooShort.Load(),
		MaxFlushes:        d.MaxFlushes.Load(),
		StopFlushes:       d.StopFlushes.Load(),
		Rescues:           d.Rescues.Load(),
		PlaceholderFinals: d.PlaceholderFinals.Load(),
		DecodeErrors:      d.DecodeErrors.Load(),
	}
}

// Reset zeroes every counter. Called at session start so numbers describe
// one capture session.
func (d *Diagnostics) Reset() {
	d.ChunksDrained.Store(0)
	d.SamplesDropped.Store(0)
	d.Partials.Store(0)
	d.Finals.Store(0)
	d.EmptyFinals.Store(0)
	d.DiscardedTooShort.Store(0)
	d.MaxFlushes.Store(0)
	d.StopFlushes.Store(0)
	d.Rescues.Store(0)
	d.PlaceholderFinals.Store(0)
	d.DecodeErrors.Store(0)
}
