package audio_test

import (
	"testing"

	"github.com/lattice-labs/dictum/internal/audio"
)

func TestSelectDevice_PrefersMicOverLoopback(t *testing.T) {
	t.Parallel()
	devices := []audio.Device{
		{Name: "Stereo Mix (Realtek Audio)"},
		{Name: "Microphone Array (Intel Smart Sound)"},
		{Name: "CABLE Output (VB-Audio Virtual Cable)"},
	}
	got, ok := audio.SelectDevice(devices, "")
	if !ok {
		t.Fatal("expected a device to be selected")
	}
	if got.Name != "Microphone Array (Intel Smart Sound)" {
		t.Errorf("selected %q, want the microphone array", got.Name)
	}
}

func TestSelectDevice_NeverAutoSelectsLoopback(t *testing.T) {
	t.Parallel()
	devices := []audio.Device{
		{Name: "Stereo Mix (Realtek Audio)", IsDefault: true},
		{Name: "Monitor of Built-in Audio"},
		{Name: "BlackHole 2ch"},
	}
	if _, ok := audio.SelectDevice(devices, ""); ok {
		t.Error("only loopback devices available: selection must fail rather than echo system audio")
	}
}

func TestSelectDevice_PreferredLoopbackIsRefused(t *testing.T) {
	t.Parallel()
	devices := []audio.Device{
		{Name: "Stereo Mix (Realtek(R) Audio)"},
		{Name: "Microphone Array (Intel Smart Sound)"},
	}
	got, ok := audio.SelectDevice(devices, "Stereo Mix (Realtek(R) Audio)")
	if !ok {
		t.Fatal("expected a device to be selected")
	}
	if got.Name != "Microphone Array (Intel Smart Sound)" {
		t.Errorf("selected %q, want the loopback preference replaced by the microphone", got.Name)
	}
}

func TestSelectDevice_PreferredLoopbackKeptWhenNothingElseExists(t *testing.T) {
	t.Parallel()
	devices := []audio.Device{
		{Name: "Stereo Mix (Realtek Audio)"},
		{Name: "Monitor of Built-in Audio"},
	}
	got, ok := audio.SelectDevice(devices, "stereo mix")
	if !ok {
		t.Fatal("a named device with no alternative must still be selectable")
	}
	if got.Name != "Stereo Mix (Realtek Audio)" {
		t.Errorf("selected %q, want the named loopback as last resort", got.Name)
	}
}

func TestSelectDevice_SubstringMatch(t *testing.T) {
	t.Parallel()
	devices := []audio.Device{
		{Name: "Microphone (USB Audio)"},
		{Name: "Headset Microphone (Jabra Evolve2)"},
	}
	got, ok := audio.SelectDevice(devices, "jabra")
	if !ok || got.Name != "Headset Microphone (Jabra Evolve2)" {
		t.Errorf("substring preference: got %v %v", got, ok)
	}
}

func TestSelectDevice_DefaultBreaksTies(t *testing.T) {
	t.Parallel()
	devices := []audio.Device{
		{Name: "Microphone (USB Audio)"},
		{Name: "Microphone (USB Audio) #2", IsDefault: true},
	}
	got, ok := audio.SelectDevice(devices, "")
	if !ok || !got.IsDefault {
		t.Errorf("tie must go to the default device, got %v", got)
	}
}

func TestIsLoopbackName(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		want bool
	}{
		{"Stereo Mix (Realtek Audio)", true},
		{"Monitor of Built-in Audio", true},
		{"What U Hear (Sound Blaster)", true},
		{"Soundflower (2ch)", true},
		{"VB-Audio Point", true},
		{"Microphone Array", false},
		{"Headset (Jabra)", false},
	}
	for _, tc := range cases {
		if got := audio.IsLoopbackName(tc.name); got != tc.want {
			t.Errorf("IsLoopbackName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %f, want 0", got)
	}
	if got := audio.RMS([]float32{0.5, -0.5, 0.5, -0.5}); got < 0.499 || got > 0.501 {
		t.Errorf("RMS of constant-magnitude signal = %f, want 0.5", got)
	}
}

func TestChunkDuration(t *testing.T) {
	t.Parallel()
	c := audio.Chunk{Samples: make([]float32, 16000), SampleRate: 16000}
	if got := c.Duration().Seconds(); got < 0.999 || got > 1.001 {
		t.Errorf("Duration = %fs, want 1s", got)
	}
	if got := (audio.Chunk{Samples: make([]float32, 100)}).Duration(); got != 0 {
		t.Errorf("Duration without sample rate = %v, want 0", got)
	}
}
