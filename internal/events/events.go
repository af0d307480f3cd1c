// Package events defines the engine's outbound event types and a broadcast
// fan-out for delivering them to any number of subscribers.
//
// All event payloads serialise to camelCase JSON so that UI frontends can
// consume them without field mapping. Every event carries a monotonically
// increasing sequence number counted independently per stream; gaps in the
// sequence tell a subscriber that it fell behind and events on that stream
// were dropped.
package events

import "time"

// EngineStatus is the lifecycle state of the engine.
type EngineStatus string

const (
	StatusIdle      EngineStatus = "idle"
	StatusWarmingUp EngineStatus = "warmingUp"
	StatusListening EngineStatus = "listening"
	StatusStopped   EngineStatus = "stopped"
	StatusError     EngineStatus = "error"
)

// IsValid reports whether s is a known engine status.
func (s EngineStatus) IsValid() bool {
	switch s {
	case StatusIdle, StatusWarmingUp, StatusListening, StatusStopped, StatusError:
		return true
	}
	return false
}

// TranscriptEvent is emitted for every partial or final decode result.
type TranscriptEvent struct {
	// Seq is the transcript-stream sequence number.
	Seq uint64 `json:"seq"`
	// UtteranceID groups partials with the final of the same utterance.
	UtteranceID string `json:"utteranceId"`
	// Text is the decoded transcript after postprocessing.
	Text string `json:"text"`
	// IsFinal distinguishes finals from live partial previews.
	IsFinal bool `json:"isFinal"`
	// Confidence is a heuristic in [0.05, 0.98]. Nil for partials and for
	// empty or placeholder finals.
	Confidence *float64 `json:"confidence,omitempty"`
	// AudioSeconds is the duration of the decoded audio.
	AudioSeconds float64 `json:"audioSeconds"`
	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`
}

// StatusEvent is emitted whenever the engine changes lifecycle state.
type StatusEvent struct {
	Seq    uint64       `json:"seq"`
	Status EngineStatus `json:"status"`
	// Detail carries an error message when Status is [StatusError].
	Detail string `json:"detail,omitempty"`
}

// ActivityEvent is a live level meter sample with the VAD classification.
type ActivityEvent struct {
	Seq      uint64  `json:"seq"`
	RMS      float64 `json:"rms"`
	Speaking bool    `json:"speaking"`
}
