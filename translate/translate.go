// Package translate turns transcript text into another language with an LLM,
// caching results on disk.
package translate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.aimuz.me/transcast/cache"
	"go.aimuz.me/transcast/internal/types"
	"go.aimuz.me/transcast/lang"
	"go.aimuz.me/transcast/llm"
)

// DefaultSystemPrompt is used when the profile sets none.
const DefaultSystemPrompt = "You are a professional live-caption translator. " +
	"Translate the user's text faithfully and output only the translation, without notes or quotes."

// ErrNoCompleter is returned when no LLM is configured.
var ErrNoCompleter = errors.New("translate: no completer configured")

// Profile holds the minimal config needed for translation.
type Profile struct {
	Name         string
	Model        string
	SystemPrompt string
}

// Translator encapsulates translation logic with caching.
// Zero value is not useful; create via New.
type Translator struct {
	completer llm.Completer
	cache     *cache.Cache
	profile   Profile
}

// New creates a Translator. c may be nil to disable caching.
func New(completer llm.Completer, c *cache.Cache, profile Profile) *Translator {
	if profile.SystemPrompt == "" {
		profile.SystemPrompt = DefaultSystemPrompt
	}
	return &Translator{completer: completer, cache: c, profile: profile}
}

// Translate performs translation with cache lookup. onPartial, when non-nil,
// receives the accumulated output as it streams.
func (t *Translator) Translate(ctx context.Context, req types.TranslateRequest, onPartial func(string)) (types.TranslateResult, error) {
	if t.completer == nil {
		return types.TranslateResult{}, ErrNoCompleter
	}

	key := t.cacheKey(req)
	if result, ok := t.getCached(key); ok {
		return result, nil
	}

	msgs := buildTranslateMessages(t.profile.SystemPrompt, req)

	var partial string
	onDelta := func(delta string) {
		partial += delta
		if onPartial != nil {
			onPartial(partial)
		}
	}

	text, usage, err := t.completer.Complete(ctx, msgs, onDelta)
	if err != nil {
		return types.TranslateResult{}, fmt.Errorf("translate: %w", err)
	}

	if text != "" {
		t.setCache(key, text, usage)
	}

	return types.TranslateResult{Text: text, Usage: usage}, nil
}

func buildTranslateMessages(systemPrompt string, req types.TranslateRequest) []llm.Message {
	content := fmt.Sprintf(
		"please translate the following text from %s to %s:\n\n%s",
		lang.Name(req.SourceLang), lang.Name(req.TargetLang), req.Text,
	)

	if req.Context != "" {
		content = fmt.Sprintf(
			"Context (previous sentences): %s\n\n%s",
			req.Context, content,
		)
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: content},
	}
}

func (t *Translator) cacheKey(req types.TranslateRequest) string {
	return cache.GenerateKey(t.profile.Name, t.profile.Model,
		lang.Normalize(req.SourceLang), lang.Normalize(req.TargetLang), req.Text)
}

func (t *Translator) getCached(key string) (types.TranslateResult, bool) {
	if t.cache == nil {
		return types.TranslateResult{}, false
	}

	entry, found := t.cache.Get(key)
	if !found {
		return types.TranslateResult{}, false
	}
	if entry.Text == "" {
		// Blank entries would be served forever in place of a translation.
		_ = t.cache.Delete(key)
		return types.TranslateResult{}, false
	}

	return types.TranslateResult{
		Text: entry.Text,
		Usage: types.Usage{
			PromptTokens:     entry.Usage.PromptTokens,
			CompletionTokens: entry.Usage.CompletionTokens,
			TotalTokens:      entry.Usage.TotalTokens,
			CacheHit:         true,
		},
	}, true
}

func (t *Translator) setCache(key, text string, usage types.Usage) {
	if t.cache == nil {
		return
	}

	entry := &cache.Entry{
		Text: text,
		Usage: cache.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
		CreatedAt: time.Now(),
	}

	// Ignore error - caching is best effort
	_ = t.cache.Set(key, entry, cache.DefaultTTL)
}
