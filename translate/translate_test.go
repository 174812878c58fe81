package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.aimuz.me/transcast/cache"
	"go.aimuz.me/transcast/inference"
	"go.aimuz.me/transcast/internal/types"
	"go.aimuz.me/transcast/llm"
)

// mockCompleter implements llm.Completer for testing.
type mockCompleter struct {
	deltas []string
	usage  types.Usage
	err    error
	calls  int
	last   []llm.Message
}

func (m *mockCompleter) Complete(_ context.Context, msgs []llm.Message, onDelta func(string)) (string, types.Usage, error) {
	m.calls++
	m.last = msgs
	if m.err != nil {
		return "", types.Usage{}, m.err
	}
	for _, d := range m.deltas {
		if onDelta != nil {
			onDelta(d)
		}
	}
	return strings.Join(m.deltas, ""), m.usage, nil
}

func TestBuildTranslateMessages(t *testing.T) {
	tests := []struct {
		name         string
		systemPrompt string
		req          types.TranslateRequest
		wantSystem   string
		wantContains string
	}{
		{
			name:         "basic translation",
			systemPrompt: "You are a translator.",
			req:          types.TranslateRequest{Text: "Hallo", SourceLang: "deu_Latn", TargetLang: "eng_Latn"},
			wantSystem:   "You are a translator.",
			wantContains: "translate the following text from German to English",
		},
		{
			name:         "translation with context",
			systemPrompt: "Translate accurately.",
			req:          types.TranslateRequest{Text: "Welt", SourceLang: "de", TargetLang: "en", Context: "Hallo,"},
			wantSystem:   "Translate accurately.",
			wantContains: "Context (previous sentences): Hallo,",
		},
		{
			name:         "unknown source",
			systemPrompt: "",
			req:          types.TranslateRequest{Text: "Test", SourceLang: "", TargetLang: "fra_Latn"},
			wantSystem:   "",
			wantContains: "from auto-detected language to French",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := buildTranslateMessages(tt.systemPrompt, tt.req)

			if len(msgs) != 2 {
				t.Fatalf("got %d messages, want 2", len(msgs))
			}
			if msgs[0].Role != llm.RoleSystem || msgs[0].Content != tt.wantSystem {
				t.Errorf("system message = %+v, want %q", msgs[0], tt.wantSystem)
			}
			if msgs[1].Role != llm.RoleUser {
				t.Errorf("second message role = %q, want %q", msgs[1].Role, llm.RoleUser)
			}
			if !strings.Contains(msgs[1].Content, tt.wantContains) {
				t.Errorf("user message does not contain %q, got %q", tt.wantContains, msgs[1].Content)
			}
			if !strings.HasSuffix(msgs[1].Content, tt.req.Text) {
				t.Errorf("user message does not end with the source text: %q", msgs[1].Content)
			}
		})
	}
}

func TestTranslator_Translate(t *testing.T) {
	tests := []struct {
		name      string
		completer *mockCompleter
		req       types.TranslateRequest
		wantText  string
		wantErr   bool
	}{
		{
			name: "successful translation",
			completer: &mockCompleter{
				deltas: []string{"Hel", "lo."},
				usage:  types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			},
			req:      types.TranslateRequest{Text: "Hallo.", SourceLang: "deu_Latn", TargetLang: "eng_Latn"},
			wantText: "Hello.",
		},
		{
			name:      "completer error",
			completer: &mockCompleter{err: context.DeadlineExceeded},
			req:       types.TranslateRequest{Text: "Hallo.", SourceLang: "deu_Latn", TargetLang: "eng_Latn"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(tt.completer, nil, Profile{Name: "test", Model: "gpt-4o-mini"})

			var partials []string
			result, err := tr.Translate(context.Background(), tt.req, func(p string) { partials = append(partials, p) })

			if (err != nil) != tt.wantErr {
				t.Fatalf("Translate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if result.Text != tt.wantText {
				t.Errorf("Translate() text = %q, want %q", result.Text, tt.wantText)
			}
			if !tt.wantErr && partials[len(partials)-1] != tt.wantText {
				t.Errorf("last partial = %q, want %q", partials[len(partials)-1], tt.wantText)
			}
		})
	}
}

func TestTranslator_DefaultSystemPrompt(t *testing.T) {
	m := &mockCompleter{deltas: []string{"x"}}
	tr := New(m, nil, Profile{})
	if _, err := tr.Translate(context.Background(), types.TranslateRequest{Text: "a", TargetLang: "en"}, nil); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if m.last[0].Content != DefaultSystemPrompt {
		t.Errorf("system prompt = %q", m.last[0].Content)
	}
}

func TestTranslator_Cache(t *testing.T) {
	c, err := cache.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	defer c.Close()

	m := &mockCompleter{deltas: []string{"Hello."}, usage: types.Usage{TotalTokens: 3}}
	tr := New(m, c, Profile{Name: "p", Model: "m"})
	req := types.TranslateRequest{Text: "Hallo.", SourceLang: "de", TargetLang: "eng_Latn"}

	first, err := tr.Translate(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("first Translate: %v", err)
	}
	if first.Usage.CacheHit {
		t.Fatal("first call reported a cache hit")
	}

	// Same languages in another code form hit the same entry.
	req.SourceLang = "deu_Latn"
	second, err := tr.Translate(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("second Translate: %v", err)
	}
	if !second.Usage.CacheHit || second.Text != "Hello." {
		t.Errorf("second result = %+v, want cache hit", second)
	}
	if m.calls != 1 {
		t.Errorf("completer called %d times, want 1", m.calls)
	}
}

func TestTranslator_BlankCacheEntry(t *testing.T) {
	c, err := cache.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	defer c.Close()

	m := &mockCompleter{deltas: []string{"Hello."}}
	tr := New(m, c, Profile{Name: "p", Model: "m"})
	req := types.TranslateRequest{Text: "Hallo.", SourceLang: "de", TargetLang: "en"}
	key := tr.cacheKey(req)
	if err := c.Set(key, &cache.Entry{}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := tr.Translate(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got.Usage.CacheHit || got.Text != "Hello." || m.calls != 1 {
		t.Fatalf("result = %+v after %d calls, want a fresh translation", got, m.calls)
	}
	if entry, ok := c.Get(key); !ok || entry.Text != "Hello." {
		t.Errorf("cache entry = %+v, %t, want the fresh translation", entry, ok)
	}
}

func TestTranslator_EmptyResultNotCached(t *testing.T) {
	c, err := cache.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	defer c.Close()

	m := &mockCompleter{}
	tr := New(m, c, Profile{})
	req := types.TranslateRequest{Text: "...", SourceLang: "de", TargetLang: "en"}
	if _, err := tr.Translate(context.Background(), req, nil); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if _, ok := c.Get(tr.cacheKey(req)); ok {
		t.Error("empty translation was cached")
	}
}

func TestTranslator_NoCompleter(t *testing.T) {
	tr := New(nil, nil, Profile{})
	if _, err := tr.Translate(context.Background(), types.TranslateRequest{Text: "a"}, nil); !errors.Is(err, ErrNoCompleter) {
		t.Fatalf("Translate() error = %v, want ErrNoCompleter", err)
	}
}

func TestBackend_Generate(t *testing.T) {
	m := &mockCompleter{deltas: []string{"Hel", "lo."}}
	b := NewBackend(New(m, nil, Profile{}))

	var updates []string
	report := func(ev inference.Event) {
		if u, ok := ev.(inference.UpdateEvent); ok {
			updates = append(updates, u.PartialText)
		}
	}

	text, err := b.Generate(context.Background(), inference.TranslateRequest{
		Text: "Hallo.", SourceLanguage: "deu_Latn", TargetLanguage: "eng_Latn",
	}, report)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Hello." {
		t.Errorf("text = %q", text)
	}
	if strings.Join(updates, "|") != "Hel|Hello." {
		t.Errorf("partial updates = %v", updates)
	}

	// The previous sentence is sent as context with the next one.
	if _, err := b.Generate(context.Background(), inference.TranslateRequest{Text: "Wie geht's?", TargetLanguage: "eng_Latn"}, report); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(m.last[1].Content, "Context (previous sentences): Hallo.") {
		t.Errorf("second prompt lacks context: %q", m.last[1].Content)
	}
}

func TestBackend_Check(t *testing.T) {
	b := NewBackend(New(nil, nil, Profile{}))
	if err := b.Check(); !errors.Is(err, inference.ErrUnsupported) {
		t.Fatalf("Check() = %v, want ErrUnsupported", err)
	}
	if _, err := b.Generate(context.Background(), inference.TranscribeRequest{}, func(inference.Event) {}); err == nil {
		t.Fatal("expected error for transcribe request")
	}
}
