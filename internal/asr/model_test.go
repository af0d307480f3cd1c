package asr_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lattice-labs/dictum/internal/asr"
)

func TestStub_RequiresWarmUp(t *testing.T) {
	t.Parallel()
	s := &asr.Stub{Script: []asr.StubResponse{{Text: "hi"}}}

	_, err := s.Transcribe(context.Background(), asr.Request{})
	if !errors.Is(err, asr.ErrModelNotLoaded) {
		t.Fatalf("err = %v, want ErrModelNotLoaded", err)
	}

	if err := s.WarmUp(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := s.Transcribe(context.Background(), asr.Request{})
	if err != nil || res.Text != "hi" {
		t.Errorf("after warm up: %+v, %v", res, err)
	}
}

func TestStub_ScriptExhaustionYieldsEmpty(t *testing.T) {
	t.Parallel()
	s := &asr.Stub{Script: []asr.StubResponse{{Text: "only one"}}}
	ctx := context.Background()
	if err := s.WarmUp(ctx); err != nil {
		t.Fatal(err)
	}

	if res, _ := s.Transcribe(ctx, asr.Request{}); res.Text != "only one" {
		t.Errorf("first = %q", res.Text)
	}
	res, err := s.Transcribe(ctx, asr.Request{})
	if err != nil || res.Text != "" {
		t.Errorf("exhausted script: %+v, %v", res, err)
	}
	if s.CallCount() != 2 {
		t.Errorf("CallCount = %d, want 2", s.CallCount())
	}
}

func TestStub_CopiesRequestSamples(t *testing.T) {
	t.Parallel()
	s := &asr.Stub{}
	ctx := context.Background()
	if err := s.WarmUp(ctx); err != nil {
		t.Fatal(err)
	}

	buf := []float32{1, 2, 3}
	if _, err := s.Transcribe(ctx, asr.Request{Samples: buf}); err != nil {
		t.Fatal(err)
	}
	buf[0] = 99
	if s.Calls[0].Samples[0] != 1 {
		t.Error("recorded request must not alias the caller's buffer")
	}
}

func TestHandle_ResetForwardsToModel(t *testing.T) {
	t.Parallel()
	s := &asr.Stub{}
	h := asr.NewHandle(s)

	h.Reset()
	h.Reset()
	if s.ResetCount() != 2 {
		t.Errorf("ResetCount = %d, want 2", s.ResetCount())
	}
}

func TestHandle_SerializesConcurrentCalls(t *testing.T) {
	t.Parallel()
	s := &asr.Stub{}
	h := asr.NewHandle(s)
	ctx := context.Background()
	if err := h.WarmUp(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Transcribe(ctx, asr.Request{}); err != nil {
				t.Errorf("Transcribe: %v", err)
			}
		}()
	}
	wg.Wait()
	if s.CallCount() != 16 {
		t.Errorf("CallCount = %d, want 16", s.CallCount())
	}
}
