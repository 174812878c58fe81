// Package inference defines the boundary between the capture and translation
// pipelines and the model that serves them: the request and event unions,
// the per-kind single-flight gate, and the worker that runs a backend off the
// coordinator goroutine.
package inference

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by Backend.Check when the environment cannot run
// the backend at all.
var ErrUnsupported = errors.New("inference: unsupported environment")

// Kind identifies a class of inference work.
type Kind int

const (
	KindLoad Kind = iota
	KindTranscribe
	KindTranslate

	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindTranscribe:
		return "transcribe"
	case KindTranslate:
		return "translate"
	default:
		return "unknown"
	}
}

// Request is a discriminated union of work items. Check the concrete type
// via type switch.
type Request interface {
	Kind() Kind
}

// LoadRequest asks the backend to prepare its model.
type LoadRequest struct{}

// TranscribeRequest carries mono float32 samples at 16 kHz.
type TranscribeRequest struct {
	Audio    []float32
	Language string
}

// TranslateRequest carries one piece of source text.
type TranslateRequest struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
}

func (LoadRequest) Kind() Kind       { return KindLoad }
func (TranscribeRequest) Kind() Kind { return KindTranscribe }
func (TranslateRequest) Kind() Kind  { return KindTranslate }

// Backend runs requests. Implementations may block for as long as the model
// takes; report may be called any number of times before returning.
type Backend interface {
	// Check reports whether the backend can run here. It returns an error
	// wrapping ErrUnsupported when it never can.
	Check() error
	Load(ctx context.Context, report func(Event)) error
	Generate(ctx context.Context, req Request, report func(Event)) (string, error)
}
