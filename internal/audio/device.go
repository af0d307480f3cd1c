package audio

import (
	"log/slog"
	"strings"
)

// loopbackKeywords mark devices that replay system output. Auto-selecting
// one of these turns the engine into an echo transcriber, so they are never
// chosen unless the user names them explicitly.
var loopbackKeywords = []string{
	"stereo mix",
	"loopback",
	"monitor",
	"wave out",
	"what u hear",
	"what you hear",
	"cable output",
	"virtual",
	"vb-audio",
	"blackhole",
	"soundflower",
}

// micKeywords suggest a real microphone-class input.
var micKeywords = []string{
	"microphone",
	"mic",
	"headset",
	"head set",
	"webcam",
	"usb audio",
	"realtek",
	"array",
}

// Device describes one capture device as reported by the backend.
type Device struct {
	Name      string
	IsDefault bool
}

// IsLoopbackName reports whether a device name matches a known loopback or
// virtual-output pattern.
func IsLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range loopbackKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// micPreferenceScore ranks a device for automatic selection. Higher is
// better. Loopback devices score far below everything else.
func micPreferenceScore(name string) int {
	lower := strings.ToLower(name)
	score := 0
	if IsLoopbackName(name) {
		score -= 16
	} else {
		score += 8
	}
	for _, kw := range micKeywords {
		if strings.Contains(lower, kw) {
			score += 6
			break
		}
	}
	if strings.Contains(lower, "default") {
		score++
	}
	return score
}

// SelectDevice picks the capture device to open.
//
// With a preferred name, an exact case-insensitive match wins, then a
// substring match — but a preferred loopback device is refused whenever a
// genuine microphone exists, substituting the best-scoring non-loopback
// input instead (an echo transcriber is never what the user meant, even by
// name). Without a preference, devices are ranked by [micPreferenceScore]
// with loopback devices excluded outright; ties go to the default device,
// then to enumeration order. Returns ok=false when no acceptable device
// exists.
func SelectDevice(devices []Device, preferred string) (Device, bool) {
	if preferred != "" {
		if d, ok := matchPreferred(devices, preferred); ok {
			if !IsLoopbackName(d.Name) {
				return d, true
			}
			if safe, ok := bestNonLoopback(devices); ok {
				slog.Warn("preferred device looks like a loopback source, using recommended microphone instead",
					"preferred", d.Name,
					"selected", safe.Name)
				return safe, true
			}
			// Nothing better exists; honour the explicit name.
			return d, true
		}
	}
	return bestNonLoopback(devices)
}

// matchPreferred resolves a preferred device name, exact match first.
func matchPreferred(devices []Device, preferred string) (Device, bool) {
	for _, d := range devices {
		if strings.EqualFold(d.Name, preferred) {
			return d, true
		}
	}
	lowPref := strings.ToLower(preferred)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), lowPref) {
			return d, true
		}
	}
	return Device{}, false
}

// bestNonLoopback ranks the non-loopback devices by [micPreferenceScore].
func bestNonLoopback(devices []Device) (Device, bool) {
	best := Device{}
	bestScore := 0
	found := false
	for _, d := range devices {
		if IsLoopbackName(d.Name) {
			continue
		}
		score := micPreferenceScore(d.Name)
		if d.IsDefault {
			score++
		}
		if !found || score > bestScore {
			best = d
			bestScore = score
			found = true
		}
	}
	return best, found
}
