package livecaption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.aimuz.me/transcast/inference"
	"go.aimuz.me/transcast/internal/metrics"
	"go.aimuz.me/transcast/internal/types"
	"go.aimuz.me/transcast/lang"
)

// Translate returns text unchanged when source and target name the same
// language. ok is false when a translation is needed.
func Translate(text, sourceLanguage, targetLanguage string) (out string, ok bool) {
	if lang.Same(sourceLanguage, targetLanguage) {
		return text, true
	}
	return "", false
}

type (
	translationRequest struct {
		text, source, target string
		keepTarget           bool
	}
	setTarget struct{ language string }
)

// Translator turns transcripts into translated text, one request at a time.
// Requests that arrive while one is running are dropped; only the newest
// source text is remembered.
type Translator struct {
	engine   Engine
	detector *lang.Detector
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	gate     inference.Gate
	actions  chan any
	events   chan Event
	done     chan struct{}
	snapshot atomic.Pointer[types.Snapshot]

	// Owned by Run.
	target      string
	text        string
	source      string
	translated  string
	inflight    *inference.TranslateRequest
	submitted   time.Time
	stale       bool
	unsupported error
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithDetector fills in the source language of transcripts that carry none.
func WithDetector(d *lang.Detector) TranslatorOption {
	return func(t *Translator) { t.detector = d }
}

// WithTranslatorLogger sets the logger.
func WithTranslatorLogger(l *slog.Logger) TranslatorOption {
	return func(t *Translator) { t.logger = l }
}

// WithTranslatorMetrics sets the metrics.
func WithTranslatorMetrics(m *metrics.Metrics) TranslatorOption {
	return func(t *Translator) { t.metrics = m }
}

// NewTranslator creates a translator into targetLanguage.
func NewTranslator(engine Engine, targetLanguage string, opts ...TranslatorOption) *Translator {
	t := &Translator{
		engine:  engine,
		logger:  slog.Default(),
		now:     time.Now,
		actions: make(chan any, actionQueue),
		events:  make(chan Event, eventQueue),
		done:    make(chan struct{}),
		target:  targetLanguage,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "translator")
	t.storeSnapshot()
	return t
}

// Events returns the output stream.
func (t *Translator) Events() <-chan Event {
	return t.events
}

// Snapshot returns the latest state projection.
func (t *Translator) Snapshot() types.Snapshot {
	return *t.snapshot.Load()
}

// RequestTranslation translates text into targetLanguage, which becomes
// the current target.
func (t *Translator) RequestTranslation(text, sourceLanguage, targetLanguage string) {
	t.send(translationRequest{text: text, source: sourceLanguage, target: targetLanguage})
}

// HandleTranscript translates ev into the current target language.
func (t *Translator) HandleTranscript(ev types.TranscriptEvent) {
	t.send(translationRequest{text: ev.Text, source: ev.SourceLanguage, keepTarget: true})
}

// SetTargetLanguage changes the target language. The current text is
// translated again, after the running request if there is one.
func (t *Translator) SetTargetLanguage(language string) {
	t.send(setTarget{language})
}

func (t *Translator) send(a any) {
	select {
	case t.actions <- a:
	case <-t.done:
	}
}

// Run processes requests and results until ctx is done.
func (t *Translator) Run(ctx context.Context) error {
	defer close(t.done)

	if err := t.engine.Check(); err != nil {
		t.unsupported = err
		t.logger.Warn("translation unavailable", "error", err)
		kind := FailureInference
		if errors.Is(err, inference.ErrUnsupported) {
			kind = FailureUnsupported
		}
		t.emit(Notice{Kind: kind, Err: err})
	}

	engineEvents := t.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case a := <-t.actions:
			switch a := a.(type) {
			case translationRequest:
				if !a.keepTarget {
					t.target = a.target
				}
				t.request(a.text, a.source)
			case setTarget:
				t.setTarget(a.language)
			}

		case ev, ok := <-engineEvents:
			if !ok {
				engineEvents = nil
				continue
			}
			t.handleInference(ev)
		}
	}
}

func (t *Translator) setTarget(language string) {
	if language == t.target {
		return
	}
	t.logger.Info("target language changed", "from", t.target, "to", language)
	t.target = language
	t.publishState()

	if t.inflight == nil && t.text != "" {
		t.request(t.text, t.source)
	}
}

func (t *Translator) request(text, source string) {
	if source == "" && t.detector != nil {
		if code, ok := t.detector.Detect(text); ok {
			source = code
		}
	}
	t.text, t.source = text, source

	if out, ok := Translate(text, source, t.target); ok {
		t.translated = out
		t.emit(TranslationEvent{Text: out, SourceText: text, TargetLanguage: t.target})
		t.publishState()
		return
	}
	if t.unsupported != nil {
		t.logger.Debug("skip translation", "error", t.unsupported)
		t.publishState()
		return
	}

	if !t.gate.TryAcquire(inference.KindTranslate) {
		t.stale = true
		t.metrics.RecordGateDenied(inference.KindTranslate.String())
		t.logger.Debug("translation in flight, dropping request")
		t.publishState()
		return
	}

	req := inference.TranslateRequest{Text: text, SourceLanguage: source, TargetLanguage: t.target}
	if err := t.engine.Submit(req); err != nil {
		t.gate.Release(inference.KindTranslate)
		t.logger.Warn("submit translation failed", "error", err)
		t.emit(Notice{Kind: FailureInference, Err: err})
		return
	}
	t.inflight = &req
	t.submitted = t.now()
	t.stale = false
	t.publishState()
}

func (t *Translator) handleInference(ev inference.Event) {
	switch ev := ev.(type) {
	case inference.UpdateEvent:
		if t.inflight == nil || ev.PartialText == "" {
			return
		}
		t.emit(TranslationEvent{
			Text:           ev.PartialText,
			SourceText:     t.inflight.Text,
			TargetLanguage: t.inflight.TargetLanguage,
			Partial:        true,
		})

	case inference.CompleteEvent:
		if ev.Kind != inference.KindTranslate {
			return
		}
		req := t.finish(nil)
		// A stale result is still applied; it is the best text available.
		t.translated = ev.Text
		t.emit(TranslationEvent{
			Text:           ev.Text,
			SourceText:     req.Text,
			TargetLanguage: req.TargetLanguage,
			Stale:          t.stale,
		})
		t.publishState()
		t.retarget(req)

	case inference.ErrorEvent:
		if ev.Kind != inference.KindTranslate {
			return
		}
		req := t.finish(ev.Err)
		t.logger.Warn("translation failed", "error", ev.Err)
		t.emit(Notice{Kind: FailureInference, Err: ev.Err})
		t.retarget(req)
	}
}

// finish releases the gate and returns the request that just ended.
func (t *Translator) finish(err error) inference.TranslateRequest {
	t.gate.Release(inference.KindTranslate)
	t.metrics.RecordInference(inference.KindTranslate.String(), err, t.now().Sub(t.submitted))

	var req inference.TranslateRequest
	if t.inflight != nil {
		req = *t.inflight
	}
	t.inflight = nil
	return req
}

// retarget translates the current text again when the target changed while
// req was running.
func (t *Translator) retarget(req inference.TranslateRequest) {
	if req.TargetLanguage == t.target || t.text == "" {
		return
	}
	t.logger.Debug("target changed during translation, retranslating", "target", t.target)
	t.request(t.text, t.source)
}

func (t *Translator) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Debug("event queue full, dropping", "event", fmt.Sprintf("%T", ev))
	}
}

func (t *Translator) storeSnapshot() types.Snapshot {
	s := types.Snapshot{
		TranscriptText: t.text,
		TranslatedText: t.translated,
		SourceLanguage: t.source,
		TargetLanguage: t.target,
	}
	t.snapshot.Store(&s)
	return s
}

func (t *Translator) publishState() {
	t.emit(StateEvent{Snapshot: t.storeSnapshot()})
}
