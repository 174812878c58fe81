package livecaption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"go.aimuz.me/transcast/audio"
	"go.aimuz.me/transcast/capture"
	"go.aimuz.me/transcast/inference"
	"go.aimuz.me/transcast/internal/metrics"
	"go.aimuz.me/transcast/internal/types"
)

// TranscriberConfig holds the transcription pipeline settings.
type TranscriberConfig struct {
	SampleRate int           // window sample rate
	MaxSeconds int           // longest window submitted
	RetryDelay time.Duration // wait before re-requesting after an empty chunk
	Language   string        // source language, empty or "auto" to detect

	// SilenceThreshold skips windows whose RMS is below it. Zero disables
	// the check.
	SilenceThreshold float32
}

// DefaultTranscriberConfig returns the default settings.
func DefaultTranscriberConfig() TranscriberConfig {
	return TranscriberConfig{
		SampleRate: 16000,
		MaxSeconds: 30,
		RetryDelay: 25 * time.Millisecond,
	}
}

type (
	startLoading struct{}
	setLanguage  struct{ language string }
	resetCapture struct{}
)

// Transcriber owns the capture, decode and transcribe loop. All state is
// mutated on the Run goroutine; other goroutines only send actions and read
// snapshots.
type Transcriber struct {
	device  capture.Device
	engine  Engine
	decoder audio.Decoder
	cfg     TranscriberConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	gate   inference.Gate
	buffer *audio.ChunkBuffer
	window *audio.Window

	actions  chan any
	events   chan Event
	done     chan struct{}
	snapshot atomic.Pointer[types.Snapshot]

	// Owned by Run.
	phase      Phase
	recorder   RecorderState
	language   string
	progress   map[string]types.ProgressItem
	transcript string
	tps        float64
	restarting bool
	submitted  time.Time
	submitLang string // language of the window in flight
	retry      *time.Timer
	retryC     <-chan time.Time
}

// NewTranscriber creates a transcriber. logger and m may be nil.
func NewTranscriber(device capture.Device, engine Engine, decoder audio.Decoder, cfg TranscriberConfig, logger *slog.Logger, m *metrics.Metrics) *Transcriber {
	def := DefaultTranscriberConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.MaxSeconds <= 0 {
		cfg.MaxSeconds = def.MaxSeconds
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Transcriber{
		device:   device,
		engine:   engine,
		decoder:  decoder,
		cfg:      cfg,
		logger:   logger.With("component", "transcriber"),
		metrics:  m,
		now:      time.Now,
		buffer:   audio.NewChunkBuffer(),
		window:   audio.NewWindow(cfg.SampleRate, cfg.MaxSeconds),
		actions:  make(chan any, actionQueue),
		events:   make(chan Event, eventQueue),
		done:     make(chan struct{}),
		phase:    PhaseUninitialized,
		recorder: RecorderIdle,
		language: cfg.Language,
		progress: make(map[string]types.ProgressItem),
	}
	t.storeSnapshot()
	return t
}

// Events returns the output stream. Events are dropped when the consumer
// falls behind.
func (t *Transcriber) Events() <-chan Event {
	return t.events
}

// Snapshot returns the latest state projection.
func (t *Transcriber) Snapshot() types.Snapshot {
	return *t.snapshot.Load()
}

// StartLoading checks the engine and loads the model.
func (t *Transcriber) StartLoading() { t.send(startLoading{}) }

// SetLanguage changes the source language. A running capture is restarted
// so one window never mixes two languages.
func (t *Transcriber) SetLanguage(language string) { t.send(setLanguage{language}) }

// ResetCapture stops and restarts the capture device.
func (t *Transcriber) ResetCapture() { t.send(resetCapture{}) }

func (t *Transcriber) send(a any) {
	select {
	case t.actions <- a:
	case <-t.done:
	}
}

// Run drives the pipeline until ctx is done.
func (t *Transcriber) Run(ctx context.Context) error {
	defer close(t.done)
	defer t.stopRetry()

	deviceEvents := t.device.Events()
	engineEvents := t.engine.Events()

	for {
		select {
		case <-ctx.Done():
			if t.recorder == RecorderRecording {
				if err := t.device.Stop(); err != nil {
					t.logger.Warn("stop capture failed", "error", err)
				}
			}
			return ctx.Err()

		case a := <-t.actions:
			t.handleAction(a)

		case ev, ok := <-deviceEvents:
			if !ok {
				deviceEvents = nil
				continue
			}
			t.handleCapture(ev)

		case ev, ok := <-engineEvents:
			if !ok {
				engineEvents = nil
				continue
			}
			t.handleInference(ev)

		case <-t.retryC:
			t.retry, t.retryC = nil, nil
			t.requestData()
		}
	}
}

func (t *Transcriber) handleAction(a any) {
	switch a := a.(type) {
	case startLoading:
		t.startLoading()
	case setLanguage:
		if a.language == t.language {
			return
		}
		t.logger.Info("language changed", "from", t.language, "to", a.language)
		t.language = a.language
		t.restartCapture()
		t.publishState()
	case resetCapture:
		t.restartCapture()
	}
}

func (t *Transcriber) startLoading() {
	if t.phase != PhaseUninitialized {
		return
	}

	if err := t.engine.Check(); err != nil {
		if errors.Is(err, inference.ErrUnsupported) {
			t.fail(PhaseUnsupported, FailureUnsupported, err)
			return
		}
		t.fail(PhaseFailed, FailureModelLoad, err)
		return
	}
	if err := t.engine.Submit(inference.LoadRequest{}); err != nil {
		t.fail(PhaseFailed, FailureModelLoad, fmt.Errorf("submit load: %w", err))
		return
	}

	t.logger.Info("loading model")
	t.phase = PhaseLoading
	t.publishState()
}

// restartCapture stops a running device; the StopEvent starts it again.
func (t *Transcriber) restartCapture() {
	switch t.recorder {
	case RecorderRecording:
		if t.restarting {
			return
		}
		t.restarting = true
		if err := t.device.Stop(); err != nil {
			t.restarting = false
			t.logger.Warn("stop capture failed", "error", err)
		}
	case RecorderStopped:
		if t.active() {
			t.startCapture()
		}
	}
}

func (t *Transcriber) startCapture() {
	err := t.device.Start()
	switch {
	case err == nil, errors.Is(err, capture.ErrRunning):
	case errors.Is(err, capture.ErrPermissionDenied):
		t.fail(PhaseFailed, FailurePermissionDenied, err)
	case errors.Is(err, capture.ErrUnsupported):
		t.fail(PhaseUnsupported, FailureUnsupported, err)
	default:
		t.fail(PhaseFailed, FailureCapture, err)
	}
}

func (t *Transcriber) handleCapture(ev capture.Event) {
	switch ev := ev.(type) {
	case capture.StartEvent:
		// New segment.
		t.buffer.Reset()
		t.decoder.Reset()
		t.window.Reset()
		t.recorder = RecorderRecording
		if t.phase == PhaseReady {
			t.phase = PhaseRecording
		}
		t.logger.Debug("capture started")
		t.publishState()
		t.requestData()

	case capture.DataEvent:
		if len(ev.Chunk) == 0 {
			t.scheduleRetry()
			return
		}
		t.buffer.Append(ev.Chunk)
		t.process()

	case capture.StopEvent:
		t.recorder = RecorderStopped
		t.stopRetry()

		if t.restarting {
			// Audio of the old segment never reaches the new one.
			t.buffer.Reset()
			t.restarting = false
			t.publishState()
			if t.active() {
				t.startCapture()
			}
			return
		}

		switch {
		case errors.Is(ev.Err, capture.ErrPermissionDenied):
			t.fail(PhaseFailed, FailurePermissionDenied, ev.Err)
		case ev.Err != nil:
			t.logger.Warn("capture stopped", "error", ev.Err)
			t.notify(FailureCapture, ev.Err)
			t.publishState()
		default:
			t.logger.Info("capture stopped")
			t.publishState()
		}
	}
}

// process drains the buffer into the window and submits it, when the
// pipeline is recording and no transcription is in flight.
func (t *Transcriber) process() {
	if t.phase != PhaseRecording {
		return
	}
	if t.buffer.IsEmpty() {
		t.requestData()
		return
	}
	if !t.gate.TryAcquire(inference.KindTranscribe) {
		t.metrics.RecordGateDenied(inference.KindTranscribe.String())
		return
	}

	samples, err := t.decoder.Decode(audio.Concat(t.buffer.Drain()))
	if err != nil {
		t.gate.Release(inference.KindTranscribe)
		t.metrics.RecordDecodeFailure()
		t.logger.Debug("drop undecodable window", "error", err)
		t.notify(FailureDecode, err)
		t.requestData()
		return
	}
	t.window.Push(samples)

	if t.window.Len() == 0 || (t.cfg.SilenceThreshold > 0 && t.window.RMS() < t.cfg.SilenceThreshold) {
		t.gate.Release(inference.KindTranscribe)
		t.requestData()
		return
	}

	req := inference.TranscribeRequest{Audio: t.window.Samples(), Language: t.language}
	if err := t.engine.Submit(req); err != nil {
		t.gate.Release(inference.KindTranscribe)
		t.logger.Warn("submit transcription failed", "error", err)
		t.notify(FailureInference, err)
		t.requestData()
		return
	}

	t.metrics.RecordWindow(t.window.Duration())
	t.submitted = t.now()
	t.submitLang = req.Language
	t.phase = PhaseProcessing
	t.publishState()
}

func (t *Transcriber) handleInference(ev inference.Event) {
	switch ev := ev.(type) {
	case inference.InitiateEvent:
		t.progress[ev.File] = types.ProgressItem{File: ev.File}
		t.publishState()

	case inference.ProgressEvent:
		t.progress[ev.File] = types.ProgressItem{
			File:     ev.File,
			Progress: ev.Progress,
			Loaded:   ev.Loaded,
			Total:    ev.Total,
		}
		t.publishState()

	case inference.DoneEvent:
		delete(t.progress, ev.File)
		t.publishState()

	case inference.ReadyEvent:
		if t.phase != PhaseLoading {
			return
		}
		t.logger.Info("model ready")
		t.phase = PhaseReady
		t.publishState()
		t.startCapture()

	case inference.StartEvent:

	case inference.UpdateEvent:
		if ev.TokensPerSecond > 0 {
			t.tps = ev.TokensPerSecond
			t.publishState()
		}

	case inference.CompleteEvent:
		if ev.Kind != inference.KindTranscribe {
			return
		}
		language := t.submitLang
		t.finish(nil)
		t.transcript = ev.Text
		t.emit(TranscriptEvent{types.TranscriptEvent{
			Text:           ev.Text,
			SourceLanguage: language,
			Timestamp:      t.now().UnixMilli(),
		}})
		t.publishState()
		t.resume()

	case inference.ErrorEvent:
		if ev.Kind == inference.KindLoad {
			t.fail(PhaseFailed, FailureModelLoad, ev.Err)
			return
		}
		t.finish(ev.Err)
		t.notify(FailureInference, ev.Err)
		t.publishState()
		t.resume()
	}
}

// finish releases the gate after a transcription result.
func (t *Transcriber) finish(err error) {
	t.gate.Release(inference.KindTranscribe)
	t.metrics.RecordInference(inference.KindTranscribe.String(), err, t.now().Sub(t.submitted))
	t.submitLang = ""
	if t.phase == PhaseProcessing {
		t.phase = PhaseRecording
	}
}

// resume asks for the next chunk. Once the device has stopped, audio it
// flushed while a window was in flight is transcribed instead.
func (t *Transcriber) resume() {
	if t.recorder == RecorderStopped && !t.restarting && !t.buffer.IsEmpty() {
		t.process()
		return
	}
	t.requestData()
}

func (t *Transcriber) requestData() {
	if t.recorder == RecorderRecording && !t.restarting {
		t.device.RequestData()
	}
}

func (t *Transcriber) scheduleRetry() {
	if t.retry != nil {
		return
	}
	t.metrics.RecordRetry()
	t.retry = time.NewTimer(t.cfg.RetryDelay)
	t.retryC = t.retry.C
}

func (t *Transcriber) stopRetry() {
	if t.retry != nil {
		t.retry.Stop()
		t.retry, t.retryC = nil, nil
	}
}

// active reports whether the model is loaded and the pipeline has not failed.
func (t *Transcriber) active() bool {
	switch t.phase {
	case PhaseReady, PhaseRecording, PhaseProcessing:
		return true
	}
	return false
}

func (t *Transcriber) fail(phase Phase, kind FailureKind, err error) {
	t.logger.Error("transcription pipeline failed", "kind", kind, "error", err)
	t.phase = phase
	if t.recorder == RecorderRecording {
		if serr := t.device.Stop(); serr != nil {
			t.logger.Warn("stop capture failed", "error", serr)
		}
	}
	t.notify(kind, err)
	t.publishState()
}

func (t *Transcriber) notify(kind FailureKind, err error) {
	t.emit(Notice{Kind: kind, Err: err})
}

func (t *Transcriber) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Debug("event queue full, dropping", "event", fmt.Sprintf("%T", ev))
	}
}

func (t *Transcriber) storeSnapshot() types.Snapshot {
	s := types.Snapshot{
		RecorderState:   string(t.recorder),
		Phase:           string(t.phase),
		ProgressItems:   maps.Clone(t.progress),
		TranscriptText:  t.transcript,
		TokensPerSecond: t.tps,
		SourceLanguage:  t.language,
	}
	t.snapshot.Store(&s)
	return s
}

func (t *Transcriber) publishState() {
	t.emit(StateEvent{Snapshot: t.storeSnapshot()})
}
