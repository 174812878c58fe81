package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when submitting to a closed worker.
	ErrClosed = errors.New("inference: worker closed")

	// ErrQueueFull is returned when the worker cannot accept another request.
	ErrQueueFull = errors.New("inference: request queue full")
)

const (
	requestQueue = 4
	eventQueue   = 64
)

// Worker owns a Backend and runs its requests one at a time on a dedicated
// goroutine. Requests and events travel over channels only. All events of a
// request are delivered before any event of the next one.
type Worker struct {
	backend Backend
	logger  *slog.Logger

	requests chan Request
	events   chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWorker starts a worker for backend.
func NewWorker(backend Backend, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		backend:  backend,
		logger:   logger.With("component", "worker"),
		requests: make(chan Request, requestQueue),
		events:   make(chan Event, eventQueue),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Check forwards to the backend's environment check.
func (w *Worker) Check() error {
	return w.backend.Check()
}

// Submit queues req without blocking.
func (w *Worker) Submit(req Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	select {
	case w.requests <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Events returns the event stream. It is closed after Close once the worker
// has exited.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Close cancels the in-flight request and stops the worker.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.requests)
	w.mu.Unlock()

	w.cancel()
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run() {
	defer close(w.done)
	defer close(w.events)

	for req := range w.requests {
		if w.ctx.Err() != nil {
			return
		}
		w.handle(req)
	}
}

func (w *Worker) handle(req Request) {
	kind := req.Kind()
	start := time.Now()

	if _, ok := req.(LoadRequest); ok {
		if err := w.backend.Load(w.ctx, w.emit); err != nil {
			w.logger.Error("model load failed", "error", err)
			w.emit(ErrorEvent{Kind: KindLoad, Err: fmt.Errorf("load model: %w", err)})
			return
		}
		w.logger.Info("model ready", "elapsed", time.Since(start))
		w.emit(ReadyEvent{})
		return
	}

	w.emit(StartEvent{Kind: kind})
	text, err := w.backend.Generate(w.ctx, req, w.emit)
	if err != nil {
		w.logger.Warn("generation failed", "kind", kind, "error", err)
		w.emit(ErrorEvent{Kind: kind, Err: err})
		return
	}
	w.logger.Debug("generation complete", "kind", kind, "elapsed", time.Since(start), "chars", len(text))
	w.emit(CompleteEvent{Kind: kind, Text: text})
}

// emit delivers ev in order. It gives up only when the worker is closed.
func (w *Worker) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}
