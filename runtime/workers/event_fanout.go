package workers

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventFanout relays committed events to the permanent sinks (search index, broker).
// Sinks are called concurrently per event, each bounded by sinkTimeout; a failing
// sink is logged and never blocks the others.
type EventFanout struct {
	log         *slog.Logger
	events      <-chan event.Event
	sinks       []contract.EventSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, events <-chan event.Event, sinkTimeout time.Duration, sinks ...contract.EventSink) *EventFanout {
	return &EventFanout{log: log, events: events, sinkTimeout: sinkTimeout, sinks: sinks}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event relay")
			return nil
		case evt, ok := <-w.events:
			if !ok {
				return nil
			}
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout hands evt to every sink and waits for all of them.
func (w *EventFanout) Fanout(ctx context.Context, evt event.Event) {
	var wg sync.WaitGroup
	for _, sink := range w.sinks {
		wg.Add(1)
		go func(s contract.EventSink) {
			defer wg.Done()
			sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
			defer cancel()
			if err := s.Consume(sinkCtx, evt); err != nil {
				w.log.Warn("Permanent sink failed",
					"sink", sinkName(s), "kind", evt.Kind, "conversation_id", evt.ConversationID, "error", err)
			}
		}(sink)
	}
	wg.Wait()
}

func sinkName(s contract.EventSink) string {
	if named, ok := s.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "unnamed"
}
