package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport joins channels on a Hub. URL is the hub's channel root,
// for example ws://127.0.0.1:8765/channels.
type WebSocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Channel dials URL/id.
func (t *WebSocketTransport) Channel(id string) (Channel, error) {
	return t.ChannelContext(context.Background(), id)
}

// ChannelContext dials URL/id, giving up when ctx is done.
func (t *WebSocketTransport) ChannelContext(ctx context.Context, id string) (Channel, error) {
	if id == "" {
		return nil, errors.New("empty channel id")
	}
	u, err := url.Parse(strings.TrimSuffix(t.URL, "/") + "/" + url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &wsChannel{
		conn:   conn,
		logger: logger.With("component", "broadcast", "channel", id),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type wsChannel struct {
	conn   *websocket.Conn
	logger *slog.Logger
	subs   subscriptions

	writeMu sync.Mutex
	closed  bool
	done    chan struct{}
}

func (c *wsChannel) Publish(event string, payload []byte) error {
	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *wsChannel) Subscribe(event string, handler func([]byte)) (func(), error) {
	return c.subs.add(event, handler)
}

func (c *wsChannel) Close() error {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func (c *wsChannel) readLoop() {
	defer close(c.done)
	defer c.subs.closeAll()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("hub connection lost", "error", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Debug("skip malformed envelope", "error", err)
			continue
		}
		if dropped := c.subs.dispatch(env.Event, env.Payload); dropped > 0 {
			c.logger.Debug("subscriber queue full", "dropped", dropped)
		}
	}
}
