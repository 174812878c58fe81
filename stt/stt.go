// Package stt provides speech-to-text provider interface and implementations.
package stt

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.aimuz.me/transcast/inference"
)

// SampleRate is the rate every provider expects its input at.
const SampleRate = 16000

// ErrNotReady is returned by Transcribe before Setup has succeeded.
var ErrNotReady = errors.New("stt: provider not ready")

// TranscribeResult represents the result of a transcription.
type TranscribeResult struct {
	Text     string    `json:"text"`
	Language string    `json:"language"` // detected, ISO 639-1
	Segments []Segment `json:"segments"`
}

// Segment represents a time-stamped audio segment.
type Segment struct {
	Text  string        `json:"text"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Provider defines the interface for speech-to-text providers.
// Both local (whisper.cpp) and remote (OpenAI API) implementations
// must satisfy this interface.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// DisplayName returns the human-readable provider name.
	DisplayName() string

	// IsLocal returns true if the provider runs locally without API calls.
	IsLocal() bool

	// Check returns an error wrapping inference.ErrUnsupported when the
	// provider can never run in this environment.
	Check() error

	// Setup prepares the provider, downloading the model if needed.
	// Download progress is reported as inference load events.
	Setup(ctx context.Context, progress func(inference.Event)) error

	// Transcribe converts mono samples at SampleRate to text.
	// language is an ISO 639-1 code, empty for auto-detect.
	Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error)

	// Close releases resources held by the provider.
	Close() error
}

// Registry holds registered STT providers.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// List returns all registered providers sorted by name.
func (r *Registry) List() []Provider {
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Close releases all providers.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
