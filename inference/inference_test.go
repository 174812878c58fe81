package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGate_SingleFlightPerKind(t *testing.T) {
	var g Gate

	if !g.TryAcquire(KindTranscribe) {
		t.Fatal("first acquire denied")
	}
	if g.TryAcquire(KindTranscribe) {
		t.Fatal("second acquire of a busy kind granted")
	}
	if !g.Busy(KindTranscribe) {
		t.Fatal("Busy() = false while held")
	}

	g.Release(KindTranscribe)
	if g.Busy(KindTranscribe) {
		t.Fatal("Busy() = true after release")
	}
	if !g.TryAcquire(KindTranscribe) {
		t.Fatal("acquire after release denied")
	}
}

// Transcription in flight does not hold back a translation request.
func TestGate_KindsAreIndependent(t *testing.T) {
	var g Gate

	if !g.TryAcquire(KindTranscribe) {
		t.Fatal("transcribe acquire denied")
	}
	if !g.TryAcquire(KindTranslate) {
		t.Fatal("translate acquire denied while transcription busy")
	}
	if g.TryAcquire(KindTranslate) {
		t.Fatal("second translate acquire granted")
	}
}

func TestGate_ConcurrentAcquire(t *testing.T) {
	var (
		g       Gate
		granted atomic.Int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire(KindTranslate) {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := granted.Load(); n != 1 {
		t.Fatalf("%d acquires granted, want 1", n)
	}
}

func TestGate_UnknownKind(t *testing.T) {
	var g Gate
	if g.TryAcquire(Kind(42)) {
		t.Fatal("unknown kind acquired")
	}
	g.Release(Kind(-1))
}

type fakeBackend struct {
	checkErr error
	loadErr  error
	release  chan struct{} // blocks Generate until closed, when set
	calls    atomic.Int32
}

func (f *fakeBackend) Check() error { return f.checkErr }

func (f *fakeBackend) Load(ctx context.Context, report func(Event)) error {
	report(InitiateEvent{File: "model.bin"})
	report(ProgressEvent{File: "model.bin", Progress: 50, Loaded: 5, Total: 10})
	report(DoneEvent{File: "model.bin"})
	return f.loadErr
}

func (f *fakeBackend) Generate(ctx context.Context, req Request, report func(Event)) (string, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	switch r := req.(type) {
	case TranscribeRequest:
		report(UpdateEvent{Kind: KindTranscribe, TokensPerSecond: 12})
		return "heard " + r.Language, nil
	case TranslateRequest:
		if r.Text == "" {
			return "", errors.New("empty text")
		}
		report(UpdateEvent{Kind: KindTranslate, PartialText: "par"})
		return "translated " + r.Text, nil
	}
	return "", errors.New("unexpected request")
}

func TestWorker_LoadEvents(t *testing.T) {
	w := NewWorker(&fakeBackend{}, nil)
	defer w.Close()

	if err := w.Submit(LoadRequest{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	want := []string{StatusInitiate, StatusProgress, StatusDone, StatusReady}
	for _, status := range want {
		if ev := next(t, w); ev.Status() != status {
			t.Fatalf("got %s (%T), want %s", ev.Status(), ev, status)
		}
	}
}

func TestWorker_LoadFailure(t *testing.T) {
	boom := errors.New("disk full")
	w := NewWorker(&fakeBackend{loadErr: boom}, nil)
	defer w.Close()

	w.Submit(LoadRequest{})
	for {
		ev := next(t, w)
		if e, ok := ev.(ErrorEvent); ok {
			if e.Kind != KindLoad || !errors.Is(e.Err, boom) {
				t.Fatalf("ErrorEvent = %+v", e)
			}
			return
		}
		if _, ok := ev.(ReadyEvent); ok {
			t.Fatal("ReadyEvent after failed load")
		}
	}
}

// Events of one request are never interleaved with those of the next.
func TestWorker_OrderedPerRequest(t *testing.T) {
	w := NewWorker(&fakeBackend{}, nil)
	defer w.Close()

	w.Submit(TranscribeRequest{Language: "de"})
	w.Submit(TranslateRequest{Text: "hallo", TargetLanguage: "eng_Latn"})
	w.Submit(TranslateRequest{})

	want := []Event{
		StartEvent{Kind: KindTranscribe},
		UpdateEvent{Kind: KindTranscribe, TokensPerSecond: 12},
		CompleteEvent{Kind: KindTranscribe, Text: "heard de"},
		StartEvent{Kind: KindTranslate},
		UpdateEvent{Kind: KindTranslate, PartialText: "par"},
		CompleteEvent{Kind: KindTranslate, Text: "translated hallo"},
		StartEvent{Kind: KindTranslate},
	}
	for i, w2 := range want {
		if got := next(t, w); got != w2 {
			t.Fatalf("event %d = %#v, want %#v", i, got, w2)
		}
	}
	if e, ok := next(t, w).(ErrorEvent); !ok || e.Kind != KindTranslate {
		t.Fatalf("expected translate ErrorEvent, got %#v", e)
	}
}

func TestWorker_SubmitAfterClose(t *testing.T) {
	w := NewWorker(&fakeBackend{}, nil)
	w.Close()
	w.Close()

	if err := w.Submit(LoadRequest{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Close = %v, want ErrClosed", err)
	}

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestWorker_QueueFull(t *testing.T) {
	f := &fakeBackend{release: make(chan struct{})}
	w := NewWorker(f, nil)
	defer w.Close()

	// One request runs, requestQueue more wait, the next is refused.
	var err error
	for i := 0; i < requestQueue+2 && err == nil; i++ {
		err = w.Submit(TranscribeRequest{})
		if i == 0 {
			waitFor(t, func() bool { return f.calls.Load() == 1 })
		}
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit error = %v, want ErrQueueFull", err)
	}
	close(f.release)
}

func TestWorker_CloseCancelsInFlight(t *testing.T) {
	f := &fakeBackend{release: make(chan struct{})}
	w := NewWorker(f, nil)

	w.Submit(TranscribeRequest{})
	waitFor(t, func() bool { return f.calls.Load() == 1 })
	w.Close()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after Close")
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindLoad, "load"},
		{KindTranscribe, "transcribe"},
		{KindTranslate, "translate"},
		{Kind(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func next(t *testing.T, w *Worker) Event {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker event")
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
