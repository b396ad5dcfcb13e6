package sink

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"context"
	"log/slog"
)

// SearchSink keeps the message index in step with committed events.
type SearchSink struct {
	index contract.IMessageIndex
	log   *slog.Logger
}

func NewSearchSink(index contract.IMessageIndex, log *slog.Logger) SearchSink {
	return SearchSink{index: index, log: log}
}

func (s SearchSink) Name() string { return "search" }

func (s SearchSink) Consume(_ context.Context, e event.Event) error {
	payload, ok := e.Payload.(event.MessagePayload)
	if !ok {
		return nil
	}
	switch e.Kind {
	case event.MessageCreated, event.MessageEdited:
		return s.index.Index(payload.Message)
	case event.MessageDeleted:
		return s.index.Remove(payload.Message.ID)
	default:
		s.log.Debug("Event ignored by search sink", "kind", e.Kind)
		return nil
	}
}
