package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lattice-labs/dictum/internal/asr"
	"github.com/lattice-labs/dictum/internal/engine"
	"github.com/lattice-labs/dictum/internal/events"
)

func newTestEngine(stub *asr.Stub) *engine.Engine {
	return engine.New(engine.Config{}, asr.NewHandle(stub))
}

func TestEngine_WarmUpStatusTransitions(t *testing.T) {
	t.Parallel()
	e := newTestEngine(&asr.Stub{})

	ch, cancel := e.SubscribeStatus()
	defer cancel()

	if got := e.Status(); got != events.StatusIdle {
		t.Fatalf("initial status = %q, want idle", got)
	}
	if err := e.WarmUp(context.Background()); err != nil {
		t.Fatal(err)
	}

	first := <-ch
	if first.Status != events.StatusWarmingUp {
		t.Errorf("first event = %q, want warmingUp", first.Status)
	}
	second := <-ch
	if second.Status != events.StatusIdle {
		t.Errorf("second event = %q, want idle", second.Status)
	}
	if second.Seq <= first.Seq {
		t.Errorf("sequence must increase: %d then %d", first.Seq, second.Seq)
	}
}

func TestEngine_WarmUpFailureReportsError(t *testing.T) {
	t.Parallel()
	warmErr := errors.New("model file corrupt")
	e := newTestEngine(&asr.Stub{WarmUpErr: warmErr})

	err := e.WarmUp(context.Background())
	if !errors.Is(err, warmErr) {
		t.Fatalf("WarmUp error = %v, want wrapped %v", err, warmErr)
	}
	if got := e.Status(); got != events.StatusError {
		t.Errorf("status = %q, want error", got)
	}
}

func TestEngine_StopWithoutStart(t *testing.T) {
	t.Parallel()
	e := newTestEngine(&asr.Stub{})
	if err := e.Stop(); !errors.Is(err, engine.ErrNotRunning) {
		t.Errorf("Stop = %v, want ErrNotRunning", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := engine.DefaultConfig()
	if cfg.TargetSampleRate != 16000 {
		t.Errorf("TargetSampleRate = %d", cfg.TargetSampleRate)
	}
	if cfg.MinSpeechSamples <= 0 || cfg.MaxSpeechSamples <= cfg.MinSpeechSamples {
		t.Errorf("speech bounds = %d..%d", cfg.MinSpeechSamples, cfg.MaxSpeechSamples)
	}
	if !cfg.EnablePartials {
		t.Error("partials must default to on")
	}
	if cfg.VADThreshold <= 0 || cfg.VADThreshold >= 1 {
		t.Errorf("VADThreshold = %f", cfg.VADThreshold)
	}
}

func TestEngine_DiagnosticsStartEmpty(t *testing.T) {
	t.Parallel()
	e := newTestEngine(&asr.Stub{})
	snap := e.Diagnostics()
	if snap.Finals != 0 || snap.Partials != 0 || snap.ChunksDrained != 0 {
		t.Errorf("fresh engine diagnostics = %+v", snap)
	}
}

func TestEngine_SubscriptionsAreIndependent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(&asr.Stub{})

	ch1, cancel1 := e.SubscribeStatus()
	ch2, cancel2 := e.SubscribeStatus()
	defer cancel2()

	cancel1()
	if _, open := <-ch1; open {
		t.Error("cancelled subscription must close its channel")
	}

	// The remaining subscriber still receives.
	if err := e.WarmUp(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := <-ch2; got.Status != events.StatusWarmingUp {
		t.Errorf("surviving subscriber got %q", got.Status)
	}

	tch, tcancel := e.SubscribeTranscripts()
	defer tcancel()
	ach, acancel := e.SubscribeActivity()
	defer acancel()
	if len(tch) != 0 || len(ach) != 0 {
		t.Error("transcript and activity streams must start empty")
	}
}
