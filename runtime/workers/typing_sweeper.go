package workers

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"chat-hub/observability"
	"context"
	"log/slog"
	"time"
)

// TypingSweeper expires typing sessions and announces users whose online window lapsed.
type TypingSweeper struct {
	log       *slog.Logger
	presence  contract.IPresence
	directory contract.IDirectory
	publisher contract.IPublisher
	metrics   *observability.Metrics
	interval  time.Duration
	now       func() time.Time
}

func NewTypingSweeper(
	log *slog.Logger,
	presence contract.IPresence,
	directory contract.IDirectory,
	publisher contract.IPublisher,
	metrics *observability.Metrics,
	interval time.Duration,
) *TypingSweeper {
	return &TypingSweeper{
		log:       log,
		presence:  presence,
		directory: directory,
		publisher: publisher,
		metrics:   metrics,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (w *TypingSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping typing sweeper")
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass at the current time.
func (w *TypingSweeper) Sweep(ctx context.Context) {
	now := w.now()
	for _, entry := range w.presence.SweepExpired(now) {
		w.publisher.Publish(ctx, event.NewTypingEvent(event.TypingStopped, entry.ConversationID, entry.UserID, now))
	}

	for _, userID := range w.presence.SweepPresence(now) {
		lastActive, _ := w.presence.LastActive(userID)
		conversations, err := w.directory.ListForUser(ctx, userID)
		if err != nil {
			w.log.Warn("Cannot list conversations for presence", "user_id", userID, "error", err)
			continue
		}
		for _, conv := range conversations {
			w.publisher.Publish(ctx, event.NewPresenceEvent(conv.ID, userID, false, lastActive, now))
		}
	}

	online, typing := w.presence.Counts()
	w.metrics.SetOnlineUsers(online)
	w.metrics.SetTypingSessions(typing)
}
