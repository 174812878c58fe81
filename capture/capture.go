// Package capture provides audio capture devices that deliver encoded chunks
// on request.
package capture

import (
	"errors"
	"sync"

	"go.aimuz.me/transcast/audio"
)

var (
	// ErrRunning is returned when starting a device that is already capturing.
	ErrRunning = errors.New("capture: already running")

	// ErrPermissionDenied is returned when the platform refuses microphone access.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrUnsupported is returned when no capture backend is available.
	ErrUnsupported = errors.New("capture: unsupported")
)

// Event is a device notification.
type Event interface {
	isEvent()
}

// StartEvent is delivered once the device is capturing. It marks the start
// of a new segment.
type StartEvent struct{}

// DataEvent carries the bytes captured since the previous delivery. Chunk
// may be empty when nothing has arrived yet.
type DataEvent struct {
	Chunk audio.Chunk
}

// StopEvent is delivered when capture ends. Err is nil after a requested
// stop.
type StopEvent struct {
	Err error
}

func (StartEvent) isEvent() {}
func (DataEvent) isEvent()  {}
func (StopEvent) isEvent()  {}

// Device is a capture source. Events are delivered on a single channel in
// the order they happen and must be drained by the caller.
type Device interface {
	Start() error
	Stop() error
	// RequestData asks for everything captured since the last delivery as
	// one DataEvent. It is a no-op while the device is stopped.
	RequestData()
	Events() <-chan Event
}

const eventBuffer = 64

// stream holds the state shared by every device: the running flag, the bytes
// captured since the last delivery and the event channel.
type stream struct {
	mu      sync.Mutex
	events  chan Event
	running bool
	pending []byte
}

func newStream() stream {
	return stream{events: make(chan Event, eventBuffer)}
}

func (s *stream) Events() <-chan Event {
	return s.events
}

func (s *stream) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// begin marks the device running and announces a new segment.
func (s *stream) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunning
	}
	s.running = true
	s.pending = nil
	s.events <- StartEvent{}
	return nil
}

func (s *stream) write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.pending = append(s.pending, p...)
	}
}

func (s *stream) RequestData() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	chunk := audio.Chunk(s.pending)
	s.pending = nil
	s.events <- DataEvent{Chunk: chunk}
}

// end stops the device and reports err. When the input ran out on its own,
// flush delivers the remaining bytes first. It returns false if the device
// was already stopped.
func (s *stream) end(err error, flush bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	s.running = false
	if flush && len(s.pending) > 0 {
		s.events <- DataEvent{Chunk: audio.Chunk(s.pending)}
	}
	s.pending = nil
	s.events <- StopEvent{Err: err}
	return true
}
