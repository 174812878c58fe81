package livecaption

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/transcast/audio"
	"go.aimuz.me/transcast/capture"
	"go.aimuz.me/transcast/inference"
)

// fakeDevice implements capture.Device. Tests push data events by hand.
type fakeDevice struct {
	events   chan capture.Event
	startErr error

	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	requests []time.Time
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{events: make(chan capture.Event, 64)}
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	if d.running {
		return capture.ErrRunning
	}
	d.running = true
	d.starts++
	d.events <- capture.StartEvent{}
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false
	d.stops++
	d.events <- capture.StopEvent{}
	return nil
}

func (d *fakeDevice) RequestData() {
	d.mu.Lock()
	d.requests = append(d.requests, time.Now())
	d.mu.Unlock()
}

func (d *fakeDevice) Events() <-chan capture.Event { return d.events }

func (d *fakeDevice) counts() (starts, stops, requests int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, len(d.requests)
}

func (d *fakeDevice) requestTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.requests...)
}

// fakeEngine implements Engine. Submitted requests are recorded; tests
// answer with events by hand.
type fakeEngine struct {
	checkErr  error
	submitErr error
	submitted chan inference.Request
	events    chan inference.Event
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		submitted: make(chan inference.Request, 16),
		events:    make(chan inference.Event, 64),
	}
}

func (e *fakeEngine) Check() error { return e.checkErr }

func (e *fakeEngine) Submit(req inference.Request) error {
	if e.submitErr != nil {
		return e.submitErr
	}
	e.submitted <- req
	return nil
}

func (e *fakeEngine) Events() <-chan inference.Event { return e.events }

func (e *fakeEngine) next(t *testing.T) inference.Request {
	t.Helper()
	select {
	case req := <-e.submitted:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a request")
		return nil
	}
}

func (e *fakeEngine) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case req := <-e.submitted:
		t.Fatalf("unexpected request %T", req)
	case <-time.After(wait):
	}
}

type failingDecoder struct{}

func (failingDecoder) Decode([]byte) ([]float32, error) {
	return nil, fmt.Errorf("%w: bad blob", audio.ErrDecode)
}
func (failingDecoder) Reset() {}

func pcm(value int16, n int) []byte {
	b := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(value))
	}
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func nextEvent[T Event](t *testing.T, events <-chan Event) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if v, ok := ev.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

type harness struct {
	tr     *Transcriber
	device *fakeDevice
	engine *fakeEngine
}

func newHarness(t *testing.T, cfg TranscriberConfig, decoder audio.Decoder) *harness {
	t.Helper()
	if decoder == nil {
		decoder = audio.NewPCM16Decoder(16000, 1, 16000)
	}
	h := &harness{device: newFakeDevice(), engine: newFakeEngine()}
	h.tr = NewTranscriber(h.device, h.engine, decoder, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.tr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) phase() Phase { return Phase(h.tr.Snapshot().Phase) }

// record loads the model and waits until capture is running.
func (h *harness) record(t *testing.T) {
	t.Helper()
	h.tr.StartLoading()
	if _, ok := h.engine.next(t).(inference.LoadRequest); !ok {
		t.Fatal("first request is not a load request")
	}
	h.engine.events <- inference.ReadyEvent{}
	waitFor(t, "recording", func() bool { return h.phase() == PhaseRecording })
	waitFor(t, "first data request", func() bool { _, _, n := h.device.counts(); return n >= 1 })
}

func TestTranscriber_Lifecycle(t *testing.T) {
	h := newHarness(t, TranscriberConfig{Language: "deu_Latn"}, nil)

	h.tr.StartLoading()
	if _, ok := h.engine.next(t).(inference.LoadRequest); !ok {
		t.Fatal("expected load request")
	}
	waitFor(t, "loading", func() bool { return h.phase() == PhaseLoading })

	h.engine.events <- inference.InitiateEvent{File: "model.bin"}
	h.engine.events <- inference.ProgressEvent{File: "model.bin", Progress: 50, Loaded: 5, Total: 10}
	waitFor(t, "progress item", func() bool {
		return h.tr.Snapshot().ProgressItems["model.bin"].Progress == 50
	})
	h.engine.events <- inference.DoneEvent{File: "model.bin"}
	waitFor(t, "progress item removed", func() bool {
		_, ok := h.tr.Snapshot().ProgressItems["model.bin"]
		return !ok
	})

	h.engine.events <- inference.ReadyEvent{}
	waitFor(t, "recording", func() bool { return h.phase() == PhaseRecording })
	if s := h.tr.Snapshot(); s.RecorderState != string(RecorderRecording) {
		t.Errorf("recorder = %q, want recording", s.RecorderState)
	}
	waitFor(t, "first data request", func() bool { _, _, n := h.device.counts(); return n == 1 })

	h.device.events <- capture.DataEvent{Chunk: pcm(1000, 16000)}
	req, ok := h.engine.next(t).(inference.TranscribeRequest)
	if !ok {
		t.Fatal("expected transcribe request")
	}
	if len(req.Audio) != 16000 || req.Language != "deu_Latn" {
		t.Fatalf("request audio=%d language=%q", len(req.Audio), req.Language)
	}
	waitFor(t, "processing", func() bool { return h.phase() == PhaseProcessing })

	// Audio captured while processing stays buffered.
	h.device.events <- capture.DataEvent{Chunk: pcm(1000, 8000)}
	h.engine.expectNone(t, 50*time.Millisecond)

	h.engine.events <- inference.StartEvent{Kind: inference.KindTranscribe}
	h.engine.events <- inference.UpdateEvent{Kind: inference.KindTranscribe, TokensPerSecond: 12}
	h.engine.events <- inference.CompleteEvent{Kind: inference.KindTranscribe, Text: "Hallo."}

	ev := nextEvent[TranscriptEvent](t, h.tr.Events())
	if ev.Text != "Hallo." || ev.SourceLanguage != "deu_Latn" || ev.Timestamp == 0 {
		t.Errorf("transcript = %+v", ev.TranscriptEvent)
	}
	waitFor(t, "recording again", func() bool { return h.phase() == PhaseRecording })
	s := h.tr.Snapshot()
	if s.TranscriptText != "Hallo." || s.TokensPerSecond != 12 {
		t.Errorf("snapshot = %+v", s)
	}
	waitFor(t, "data request after completion", func() bool { _, _, n := h.device.counts(); return n == 2 })

	// The next drain picks up the buffered half second too; the window
	// keeps everything recorded in this segment.
	h.device.events <- capture.DataEvent{Chunk: pcm(1000, 8000)}
	req = h.engine.next(t).(inference.TranscribeRequest)
	if len(req.Audio) != 32000 {
		t.Errorf("second window = %d samples, want 32000", len(req.Audio))
	}
}

func TestTranscriber_WindowKeepsNewestAudio(t *testing.T) {
	h := newHarness(t, TranscriberConfig{MaxSeconds: 1}, nil)
	h.record(t)

	old, recent := int16(-8000), int16(8000)
	h.device.events <- capture.DataEvent{Chunk: append(pcm(old, 16000), pcm(recent, 16000)...)}

	req := h.engine.next(t).(inference.TranscribeRequest)
	if len(req.Audio) != 16000 {
		t.Fatalf("window = %d samples, want 16000", len(req.Audio))
	}
	want := float32(recent) / 32768
	for i, s := range req.Audio {
		if s != want {
			t.Fatalf("sample %d = %v, want %v", i, s, want)
		}
	}
}

func TestTranscriber_EmptyChunkRetry(t *testing.T) {
	h := newHarness(t, TranscriberConfig{}, nil)
	h.record(t)
	waitFor(t, "first data request", func() bool { _, _, n := h.device.counts(); return n == 1 })

	sent := time.Now()
	h.device.events <- capture.DataEvent{}

	waitFor(t, "retry", func() bool { _, _, n := h.device.counts(); return n == 2 })
	times := h.device.requestTimes()
	if gap := times[1].Sub(sent); gap < 25*time.Millisecond {
		t.Errorf("retry after %v, want at least 25ms", gap)
	}

	// Exactly one retry, and nothing is submitted for an empty buffer.
	h.engine.expectNone(t, 150*time.Millisecond)
	if _, _, n := h.device.counts(); n != 2 {
		t.Errorf("data requests = %d, want 2", n)
	}
	if h.phase() != PhaseRecording {
		t.Errorf("phase = %q, want recording", h.phase())
	}
}

func TestTranscriber_InferenceFailureReleasesGate(t *testing.T) {
	h := newHarness(t, TranscriberConfig{}, nil)
	h.record(t)

	h.device.events <- capture.DataEvent{Chunk: pcm(100, 1600)}
	h.engine.next(t)

	boom := errors.New("worker crashed")
	h.engine.events <- inference.ErrorEvent{Kind: inference.KindTranscribe, Err: boom}

	n := nextEvent[Notice](t, h.tr.Events())
	if n.Kind != FailureInference || !errors.Is(n.Err, boom) || n.Kind.Fatal() {
		t.Errorf("notice = %+v", n)
	}
	waitFor(t, "recording", func() bool { return h.phase() == PhaseRecording })

	h.device.events <- capture.DataEvent{Chunk: pcm(100, 1600)}
	if _, ok := h.engine.next(t).(inference.TranscribeRequest); !ok {
		t.Fatal("expected a new transcribe request after failure")
	}
}

func TestTranscriber_DecodeFailureDropsWindow(t *testing.T) {
	h := newHarness(t, TranscriberConfig{}, failingDecoder{})
	h.record(t)
	_, _, before := h.device.counts()

	h.device.events <- capture.DataEvent{Chunk: []byte{1, 2, 3}}

	n := nextEvent[Notice](t, h.tr.Events())
	if n.Kind != FailureDecode || !errors.Is(n.Err, audio.ErrDecode) {
		t.Errorf("notice = %+v", n)
	}
	h.engine.expectNone(t, 50*time.Millisecond)
	if h.phase() != PhaseRecording {
		t.Errorf("phase = %q, want recording", h.phase())
	}
	if _, _, after := h.device.counts(); after != before+1 {
		t.Errorf("data requests %d -> %d, want one more", before, after)
	}
}

func TestTranscriber_SilenceSkipped(t *testing.T) {
	h := newHarness(t, TranscriberConfig{SilenceThreshold: 0.01}, nil)
	h.record(t)

	h.device.events <- capture.DataEvent{Chunk: pcm(0, 16000)}
	h.engine.expectNone(t, 50*time.Millisecond)

	h.device.events <- capture.DataEvent{Chunk: pcm(8000, 16000)}
	if _, ok := h.engine.next(t).(inference.TranscribeRequest); !ok {
		t.Fatal("expected request for loud audio")
	}
}

func TestTranscriber_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		ready     bool
		loadErr   error
		wantPhase Phase
		wantKind  FailureKind
	}{
		{
			name:      "unsupported environment",
			setup:     func(h *harness) { h.engine.checkErr = fmt.Errorf("%w: no binary", inference.ErrUnsupported) },
			wantPhase: PhaseUnsupported,
			wantKind:  FailureUnsupported,
		},
		{
			name:      "model load failure",
			loadErr:   errors.New("download failed"),
			wantPhase: PhaseFailed,
			wantKind:  FailureModelLoad,
		},
		{
			name:      "permission denied",
			setup:     func(h *harness) { h.device.startErr = fmt.Errorf("%w: mic blocked", capture.ErrPermissionDenied) },
			ready:     true,
			wantPhase: PhaseFailed,
			wantKind:  FailurePermissionDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, TranscriberConfig{}, nil)
			if tt.setup != nil {
				tt.setup(h)
			}

			h.tr.StartLoading()
			if tt.ready || tt.loadErr != nil {
				h.engine.next(t)
			}
			if tt.ready {
				h.engine.events <- inference.ReadyEvent{}
			}
			if tt.loadErr != nil {
				h.engine.events <- inference.ErrorEvent{Kind: inference.KindLoad, Err: tt.loadErr}
			}

			n := nextEvent[Notice](t, h.tr.Events())
			if n.Kind != tt.wantKind || !n.Kind.Fatal() {
				t.Errorf("notice kind = %q, want fatal %q", n.Kind, tt.wantKind)
			}
			waitFor(t, string(tt.wantPhase), func() bool { return h.phase() == tt.wantPhase })

			// A failed pipeline does not restart on its own.
			h.tr.StartLoading()
			h.engine.expectNone(t, 30*time.Millisecond)
		})
	}
}

func TestTranscriber_SetLanguageRestartsCapture(t *testing.T) {
	h := newHarness(t, TranscriberConfig{Language: "deu_Latn"}, nil)
	h.record(t)

	h.tr.SetLanguage("fra_Latn")
	waitFor(t, "restart", func() bool {
		starts, stops, _ := h.device.counts()
		return starts == 2 && stops == 1
	})
	waitFor(t, "recording", func() bool {
		s := h.tr.Snapshot()
		return s.RecorderState == string(RecorderRecording) && s.SourceLanguage == "fra_Latn"
	})

	h.device.events <- capture.DataEvent{Chunk: pcm(100, 1600)}
	req := h.engine.next(t).(inference.TranscribeRequest)
	if req.Language != "fra_Latn" {
		t.Errorf("language = %q, want fra_Latn", req.Language)
	}
	if len(req.Audio) != 1600 {
		t.Errorf("window = %d samples, want only the new segment", len(req.Audio))
	}
}

func TestTranscriber_LanguageChangeDuringFlight(t *testing.T) {
	h := newHarness(t, TranscriberConfig{Language: "deu_Latn"}, nil)
	h.record(t)

	h.device.events <- capture.DataEvent{Chunk: pcm(100, 1600)}
	req := h.engine.next(t).(inference.TranscribeRequest)
	if req.Language != "deu_Latn" {
		t.Fatalf("language = %q, want deu_Latn", req.Language)
	}

	h.tr.SetLanguage("fra_Latn")
	waitFor(t, "new language", func() bool { return h.tr.Snapshot().SourceLanguage == "fra_Latn" })

	// The window was recorded in German and is labelled so.
	h.engine.events <- inference.CompleteEvent{Kind: inference.KindTranscribe, Text: "Hallo."}
	ev := nextEvent[TranscriptEvent](t, h.tr.Events())
	if ev.SourceLanguage != "deu_Latn" {
		t.Errorf("transcript language = %q, want deu_Latn", ev.SourceLanguage)
	}

	waitFor(t, "recording", func() bool { return h.phase() == PhaseRecording })
	h.device.events <- capture.DataEvent{Chunk: pcm(100, 1600)}
	req = h.engine.next(t).(inference.TranscribeRequest)
	if req.Language != "fra_Latn" {
		t.Errorf("next language = %q, want fra_Latn", req.Language)
	}
	h.engine.events <- inference.CompleteEvent{Kind: inference.KindTranscribe, Text: "Bonjour."}
	if ev := nextEvent[TranscriptEvent](t, h.tr.Events()); ev.SourceLanguage != "fra_Latn" {
		t.Errorf("transcript language = %q, want fra_Latn", ev.SourceLanguage)
	}
}

func TestTranscriber_FlushAfterStop(t *testing.T) {
	h := newHarness(t, TranscriberConfig{}, nil)
	h.record(t)

	h.device.events <- capture.DataEvent{Chunk: pcm(100, 1600)}
	h.engine.next(t)
	waitFor(t, "processing", func() bool { return h.phase() == PhaseProcessing })

	// The input ends while the first window is in flight.
	h.device.events <- capture.DataEvent{Chunk: pcm(100, 16000)}
	h.device.events <- capture.StopEvent{}
	waitFor(t, "stopped", func() bool { return h.tr.Snapshot().RecorderState == string(RecorderStopped) })

	h.engine.events <- inference.CompleteEvent{Kind: inference.KindTranscribe, Text: "eins"}
	req, ok := h.engine.next(t).(inference.TranscribeRequest)
	if !ok {
		t.Fatal("expected the flushed audio to be transcribed")
	}
	if len(req.Audio) != 17600 {
		t.Errorf("final window = %d samples, want 17600", len(req.Audio))
	}

	h.engine.events <- inference.CompleteEvent{Kind: inference.KindTranscribe, Text: "zwei"}
	h.engine.expectNone(t, 50*time.Millisecond)
	waitFor(t, "recording phase", func() bool { return h.phase() == PhaseRecording })
}

func TestTranscriber_ResetCaptureKeepsPhase(t *testing.T) {
	h := newHarness(t, TranscriberConfig{}, nil)
	h.record(t)

	h.device.events <- capture.DataEvent{Chunk: pcm(100, 1600)}
	h.engine.next(t)
	waitFor(t, "processing", func() bool { return h.phase() == PhaseProcessing })

	h.tr.ResetCapture()
	waitFor(t, "restart", func() bool {
		starts, stops, _ := h.device.counts()
		return starts == 2 && stops == 1
	})
	if h.phase() != PhaseProcessing {
		t.Errorf("phase = %q, want processing", h.phase())
	}

	// The in-flight result still lands after the restart.
	h.engine.events <- inference.CompleteEvent{Kind: inference.KindTranscribe, Text: "ok"}
	if ev := nextEvent[TranscriptEvent](t, h.tr.Events()); ev.Text != "ok" {
		t.Errorf("transcript = %q", ev.Text)
	}
	waitFor(t, "recording", func() bool { return h.phase() == PhaseRecording })
}

func TestTranscriber_UnrequestedStop(t *testing.T) {
	h := newHarness(t, TranscriberConfig{}, nil)
	h.record(t)

	h.device.events <- capture.StopEvent{Err: fmt.Errorf("%w: revoked", capture.ErrPermissionDenied)}
	n := nextEvent[Notice](t, h.tr.Events())
	if n.Kind != FailurePermissionDenied {
		t.Errorf("notice kind = %q", n.Kind)
	}
	waitFor(t, "failed", func() bool { return h.phase() == PhaseFailed })
	if s := h.tr.Snapshot(); s.RecorderState != string(RecorderStopped) {
		t.Errorf("recorder = %q, want stopped", s.RecorderState)
	}
}
