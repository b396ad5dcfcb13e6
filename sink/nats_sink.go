package sink

import (
	"chat-hub/domain/event"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamPublisher is the part of jetstream.JetStream the relay needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NatsSink relays committed events to <prefix>.<conversationId>.
type NatsSink struct {
	js     StreamPublisher
	nc     *nats.Conn
	prefix string
	log    *slog.Logger
}

func NewNatsSink(js StreamPublisher, prefix string, log *slog.Logger) *NatsSink {
	return &NatsSink{js: js, prefix: prefix, log: log}
}

// ConnectNats connects to url and makes sure the stream exists.
func ConnectNats(ctx context.Context, url, stream, prefix string, log *slog.Logger) (*NatsSink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := js.Stream(ctx, stream); err != nil {
		log.Info("Stream not found, creating it", "stream", stream)
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        stream,
			Description: "Committed chat events",
			Subjects:    []string{fmt.Sprintf("%s.*", prefix)},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream '%s': %w", stream, err)
		}
	}

	s := NewNatsSink(js, prefix, log)
	s.nc = nc
	return s, nil
}

func (s *NatsSink) Name() string { return "nats" }

func (s *NatsSink) Consume(ctx context.Context, e event.Event) error {
	data, err := json.Marshal(event.ToEnvelope(e))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := s.subject(e.ConversationID)
	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event to subject '%s': %w", subject, err)
	}
	return nil
}

func (s *NatsSink) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *NatsSink) subject(conversationID string) string {
	return fmt.Sprintf("%s.%s", s.prefix, conversationID)
}
