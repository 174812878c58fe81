// Package livecaption coordinates live transcription and translation: it
// turns a capture stream into bounded inference requests, keeps at most one
// request per kind in flight, and reports transcripts and translations.
package livecaption

import (
	"go.aimuz.me/transcast/inference"
	"go.aimuz.me/transcast/internal/types"
)

// Phase is the transcription pipeline state.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseUnsupported   Phase = "unsupported"
	PhaseLoading       Phase = "loading"
	PhaseReady         Phase = "ready"
	PhaseRecording     Phase = "recording"
	PhaseProcessing    Phase = "processing"
	PhaseFailed        Phase = "failed"
)

// RecorderState is the capture device state as seen by the coordinator.
type RecorderState string

const (
	RecorderIdle      RecorderState = "idle"
	RecorderRecording RecorderState = "recording"
	RecorderStopped   RecorderState = "stopped"
)

// FailureKind classifies pipeline failures.
type FailureKind string

const (
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureModelLoad        FailureKind = "model_load"
	FailureDecode           FailureKind = "decode"
	FailureInference        FailureKind = "inference"
	FailureUnsupported      FailureKind = "unsupported"
	FailureCapture          FailureKind = "capture"
)

// Fatal reports whether a failure of kind ends the session.
func (k FailureKind) Fatal() bool {
	switch k {
	case FailurePermissionDenied, FailureModelLoad, FailureUnsupported:
		return true
	}
	return false
}

// Engine is the inference worker a coordinator drives. *inference.Worker
// implements it.
type Engine interface {
	Check() error
	Submit(req inference.Request) error
	Events() <-chan inference.Event
}

// Event is a discriminated union of coordinator output.
// Check the concrete type via type switch.
type Event interface {
	isEvent()
}

// TranscriptEvent is emitted once per completed transcription.
type TranscriptEvent struct {
	types.TranscriptEvent
}

// TranslationEvent carries translated text. Partial events stream while a
// request is running; the final one has Partial unset.
type TranslationEvent struct {
	Text           string
	SourceText     string
	TargetLanguage string
	Partial        bool

	// Stale is set when newer source text was dropped while this
	// translation was running.
	Stale bool
}

// StateEvent carries a fresh snapshot after a state change.
type StateEvent struct {
	Snapshot types.Snapshot
}

// Notice reports a failure. Fatal notices end the pipeline; the others are
// transient.
type Notice struct {
	Kind FailureKind
	Err  error
}

func (TranscriptEvent) isEvent()  {}
func (TranslationEvent) isEvent() {}
func (StateEvent) isEvent()       {}
func (Notice) isEvent()           {}

const (
	eventQueue  = 128
	actionQueue = 16
)
