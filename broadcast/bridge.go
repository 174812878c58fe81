package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"go.aimuz.me/transcast/internal/metrics"
	"go.aimuz.me/transcast/internal/types"
)

// Bridge publishes transcripts to a channel and hands received ones to a
// callback.
type Bridge struct {
	channel Channel
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBridge wraps ch. logger and m may be nil.
func NewBridge(ch Channel, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		channel: ch,
		logger:  logger.With("component", "broadcast"),
		metrics: m,
	}
}

// Publish sends ev to the channel. Delivery is at most once: a failure is
// logged and the message is gone.
func (b *Bridge) Publish(ev types.TranscriptEvent) {
	data, err := json.Marshal(Payload{
		Text:           ev.Text,
		SourceLanguage: ev.SourceLanguage,
		Timestamp:      ev.Timestamp,
	})
	if err != nil {
		b.logger.Error("encode transcript failed", "error", err)
		return
	}

	if err := b.channel.Publish(EventTranscript, data); err != nil {
		b.metrics.RecordBroadcastError("publish")
		b.logger.Warn("publish transcript failed", "error", err)
		return
	}
	b.metrics.RecordPublished()
}

// Subscribe calls onTranscript for every transcript received. Malformed
// messages are logged and skipped.
func (b *Bridge) Subscribe(onTranscript func(Payload)) (func(), error) {
	unsubscribe, err := b.channel.Subscribe(EventTranscript, func(data []byte) {
		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			b.metrics.RecordBroadcastError("decode")
			b.logger.Warn("skip malformed transcript", "error", err)
			return
		}
		b.metrics.RecordReceived()
		onTranscript(p)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe transcripts: %w", err)
	}
	return unsubscribe, nil
}

// Close leaves the channel.
func (b *Bridge) Close() error {
	return b.channel.Close()
}
