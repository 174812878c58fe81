package broadcast

import (
	"sync"
)

// MemoryTransport is an in-process Transport. Every Channel call joins the
// named channel as a new member.
type MemoryTransport struct {
	mu       sync.Mutex
	channels map[string]map[*memoryChannel]struct{}
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{channels: make(map[string]map[*memoryChannel]struct{})}
}

// Channel joins channel id.
func (t *MemoryTransport) Channel(id string) (Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &memoryChannel{transport: t, id: id}
	members := t.channels[id]
	if members == nil {
		members = make(map[*memoryChannel]struct{})
		t.channels[id] = members
	}
	members[c] = struct{}{}
	return c, nil
}

func (t *MemoryTransport) publish(from *memoryChannel, event string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.channels[from.id]
	if !ok {
		return ErrClosed
	}
	if _, ok := members[from]; !ok {
		return ErrClosed
	}

	msg := append([]byte(nil), payload...)
	for m := range members {
		if m != from {
			m.subs.dispatch(event, msg)
		}
	}
	return nil
}

func (t *MemoryTransport) leave(c *memoryChannel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members := t.channels[c.id]
	delete(members, c)
	if len(members) == 0 {
		delete(t.channels, c.id)
	}
}

type memoryChannel struct {
	transport *MemoryTransport
	id        string
	subs      subscriptions
}

func (c *memoryChannel) Publish(event string, payload []byte) error {
	return c.transport.publish(c, event, payload)
}

func (c *memoryChannel) Subscribe(event string, handler func([]byte)) (func(), error) {
	return c.subs.add(event, handler)
}

func (c *memoryChannel) Close() error {
	c.transport.leave(c)
	c.subs.closeAll()
	return nil
}
