package translate

import (
	"context"
	"fmt"

	"go.aimuz.me/transcast/inference"
	"go.aimuz.me/transcast/internal/types"
)

// Backend runs a Translator behind an inference.Worker. It passes the
// previous source sentence along as context.
type Backend struct {
	translator *Translator
	previous   string
}

// NewBackend wraps t.
func NewBackend(t *Translator) *Backend {
	return &Backend{translator: t}
}

// Check fails when no LLM is configured.
func (b *Backend) Check() error {
	if b.translator == nil || b.translator.completer == nil {
		return fmt.Errorf("%w: %v", inference.ErrUnsupported, ErrNoCompleter)
	}
	return nil
}

// Load has nothing to prepare for a remote model.
func (b *Backend) Load(context.Context, func(inference.Event)) error {
	return b.Check()
}

// Generate translates a TranslateRequest, reporting partial output.
func (b *Backend) Generate(ctx context.Context, req inference.Request, report func(inference.Event)) (string, error) {
	r, ok := req.(inference.TranslateRequest)
	if !ok {
		return "", fmt.Errorf("translate backend cannot serve %s requests", req.Kind())
	}
	if err := b.Check(); err != nil {
		return "", err
	}

	result, err := b.translator.Translate(ctx, types.TranslateRequest{
		Text:       r.Text,
		SourceLang: r.SourceLanguage,
		TargetLang: r.TargetLanguage,
		Context:    b.previous,
	}, func(partial string) {
		report(inference.UpdateEvent{Kind: inference.KindTranslate, PartialText: partial})
	})
	if err != nil {
		return "", err
	}

	b.previous = r.Text
	return result.Text, nil
}
