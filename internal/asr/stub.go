package asr

import (
	"context"
	"sync"
)

// Stub is a deterministic in-memory [Model] for tests and for running the
// engine without model files. Responses are served from a script; when the
// script runs out, Empty-equivalent results are returned.
type Stub struct {
	mu sync.Mutex

	// Script entries are consumed one per Transcribe call. A nil Err and
	// empty Text yields an empty decode.
	Script []StubResponse

	// Calls records every request received, in order.
	Calls []Request

	// WarmUpErr is returned by WarmUp when non-nil.
	WarmUpErr error

	// Resets counts Reset calls.
	Resets int

	warmedUp bool
	closed   bool
}

// StubResponse is one scripted Transcribe outcome.
type StubResponse struct {
	Text string
	Err  error
}

var _ Model = (*Stub)(nil)

// WarmUp implements [Model].
func (s *Stub) WarmUp(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WarmUpErr != nil {
		return s.WarmUpErr
	}
	s.warmedUp = true
	return nil
}

// Transcribe implements [Model].
func (s *Stub) Transcribe(_ context.Context, req Request) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.warmedUp {
		return Result{}, ErrModelNotLoaded
	}
	// Requests are copied so callers can reuse sample buffers.
	stored := req
	stored.Samples = append([]float32(nil), req.Samples...)
	s.Calls = append(s.Calls, stored)

	if len(s.Script) == 0 {
		return Result{}, nil
	}
	next := s.Script[0]
	s.Script = s.Script[1:]
	if next.Err != nil {
		return Result{}, next.Err
	}
	res := Result{Text: next.Text}
	if !req.Partial && next.Text != "" {
		audioSeconds := float64(len(req.Samples)) / melSampleRate
		res.Confidence = Confidence(next.Text, audioSeconds)
	}
	return res, nil
}

// CallCount returns the number of Transcribe calls so far.
func (s *Stub) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Reset implements [Model].
func (s *Stub) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Resets++
}

// ResetCount returns the number of Reset calls so far.
func (s *Stub) ResetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Resets
}

// Close implements [Model].
func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
