package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.aimuz.me/transcast/inference"
	"go.aimuz.me/transcast/lang"
)

// Backend runs a Provider behind an inference.Worker.
type Backend struct {
	provider Provider
	now      func() time.Time
}

// NewBackend wraps p.
func NewBackend(p Provider) *Backend {
	return &Backend{provider: p, now: time.Now}
}

// Check forwards to the provider.
func (b *Backend) Check() error {
	return b.provider.Check()
}

// Load runs the provider setup.
func (b *Backend) Load(ctx context.Context, report func(inference.Event)) error {
	return b.provider.Setup(ctx, report)
}

// Generate transcribes a TranscribeRequest and reports the output rate.
func (b *Backend) Generate(ctx context.Context, req inference.Request, report func(inference.Event)) (string, error) {
	r, ok := req.(inference.TranscribeRequest)
	if !ok {
		return "", fmt.Errorf("stt backend cannot serve %s requests", req.Kind())
	}

	start := b.now()
	result, err := b.provider.Transcribe(ctx, r.Audio, lang.Whisper(r.Language))
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	text := CleanText(result.Text)
	if elapsed := b.now().Sub(start).Seconds(); elapsed > 0 {
		report(inference.UpdateEvent{
			Kind:            inference.KindTranscribe,
			TokensPerSecond: float64(len(strings.Fields(text))) / elapsed,
		})
	}
	return text, nil
}
