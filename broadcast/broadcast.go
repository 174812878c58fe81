// Package broadcast carries transcripts from one broadcaster to any number of
// listeners over a realtime pub/sub channel.
package broadcast

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// EventTranscript is the event name transcripts are published under.
const EventTranscript = "transcript"

// ErrClosed is returned when using a closed channel.
var ErrClosed = errors.New("broadcast: channel closed")

// Payload is the message published for each transcript.
type Payload struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"sourceLanguage"`
	Timestamp      int64  `json:"timestamp,omitempty"` // Unix milliseconds
}

// Transport opens channels by ID.
type Transport interface {
	Channel(id string) (Channel, error)
}

// Channel is one joined pub/sub channel. Messages published on a channel
// reach the subscribers of every other member, never the sender's own.
// Delivery is best effort: no acknowledgment and no retry.
type Channel interface {
	Publish(event string, payload []byte) error
	// Subscribe calls handler for every inbound message of event, in
	// arrival order, on a goroutine owned by the subscription.
	Subscribe(event string, handler func(payload []byte)) (unsubscribe func(), err error)
	Close() error
}

// NewChannelID returns a fresh random channel identifier.
func NewChannelID() string {
	return uuid.NewString()
}

// envelope is the wire form of a message on a WebSocket channel.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

const subscriberQueue = 64

type subscription struct {
	event string
	queue chan []byte
}

// subscriptions fans inbound messages out to per-subscriber queues. A full
// queue drops the message for that subscriber only.
type subscriptions struct {
	mu     sync.Mutex
	next   int
	subs   map[int]*subscription
	closed bool
}

func (s *subscriptions) add(event string, handler func([]byte)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.subs == nil {
		s.subs = make(map[int]*subscription)
	}

	sub := &subscription{event: event, queue: make(chan []byte, subscriberQueue)}
	id := s.next
	s.next++
	s.subs[id] = sub

	go func() {
		for p := range sub.queue {
			handler(p)
		}
	}()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.queue)
		}
	}, nil
}

// dispatch queues payload for every subscriber of event and returns how
// many were skipped because their queue was full.
func (s *subscriptions) dispatch(event string, payload []byte) (dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.event != event {
			continue
		}
		select {
		case sub.queue <- payload:
		default:
			dropped++
		}
	}
	return dropped
}

func (s *subscriptions) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, sub := range s.subs {
		close(sub.queue)
		delete(s.subs, id)
	}
}
