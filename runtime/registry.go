package runtime

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/observability"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type Set map[string]struct{}

type session struct {
	userID        string
	sink          contract.EventSink
	conversations Set
}

// Closer is implemented by sinks that can drop their connection.
type Closer interface {
	Close(reason error)
}

// Registry is the live fan-out bus: it maps connections to their sinks and
// conversations to the connections subscribed to them.
type Registry struct {
	log      *slog.Logger
	members  contract.MembershipChecker
	metrics  *observability.Metrics
	mu       sync.RWMutex
	sessions map[string]*session // connection id -> session
	rooms    map[string]Set      // conversation id -> connection ids
}

func NewRegistry(log *slog.Logger, members contract.MembershipChecker, metrics *observability.Metrics) *Registry {
	return &Registry{
		log:      log,
		members:  members,
		metrics:  metrics,
		sessions: make(map[string]*session),
		rooms:    make(map[string]Set),
	}
}

// Attach registers a connection before it can subscribe.
func (r *Registry) Attach(connectionID, userID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[connectionID]; ok {
		existing.userID, existing.sink = userID, sink
		return
	}
	r.sessions[connectionID] = &session{userID: userID, sink: sink, conversations: make(Set)}
	r.metrics.SetConnections(len(r.sessions))
}

// Subscribe joins a connection to a conversation once the directory confirms membership.
func (r *Registry) Subscribe(ctx context.Context, connectionID, conversationID string) error {
	r.mu.RLock()
	s, ok := r.sessions[connectionID]
	var userID string
	if ok {
		userID = s.userID
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNotAttached, connectionID)
	}

	member, err := r.members.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("%w: %s is not a member of %s", errors.ErrAuthorization, userID, conversationID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// The connection may have been torn down while the directory was consulted.
	s, ok = r.sessions[connectionID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNotAttached, connectionID)
	}
	s.conversations[conversationID] = struct{}{}
	if _, ok = r.rooms[conversationID]; !ok {
		r.rooms[conversationID] = make(Set)
	}
	r.rooms[conversationID][connectionID] = struct{}{}
	r.metrics.SetSubscriptions(r.countSubscriptions())
	return nil
}

func (r *Registry) Unsubscribe(connectionID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribe(connectionID, conversationID)
	r.metrics.SetSubscriptions(r.countSubscriptions())
}

// UnsubscribeAll detaches a connection from everything. It runs synchronously at teardown.
func (r *Registry) UnsubscribeAll(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connectionID]
	if !ok {
		return
	}
	for conversationID := range s.conversations {
		r.unsubscribe(connectionID, conversationID)
	}
	delete(r.sessions, connectionID)
	r.metrics.SetConnections(len(r.sessions))
	r.metrics.SetSubscriptions(r.countSubscriptions())
}

// EvictUser drops every subscription of userID to the conversation.
func (r *Registry) EvictUser(conversationID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connectionID := range r.rooms[conversationID] {
		if s, ok := r.sessions[connectionID]; ok && s.userID == userID {
			r.unsubscribe(connectionID, conversationID)
		}
	}
	r.metrics.SetSubscriptions(r.countSubscriptions())
}

// Publish hands the event to every subscribed connection. A connection that
// cannot take it is closed; the others are unaffected and nothing is returned.
func (r *Registry) Publish(ctx context.Context, e event.Event) {
	r.metrics.EventPublished(string(e.Kind))
	for _, s := range r.targets(e) {
		if err := s.sink.Consume(ctx, e); err != nil {
			r.metrics.DeliveryFailed(failureReason(err))
			r.log.Warn("Delivery failed, closing connection",
				"user_id", s.userID, "conversation_id", e.ConversationID, "kind", e.Kind, "error", err)
			if closer, ok := s.sink.(Closer); ok {
				closer.Close(err)
			}
			continue
		}
		r.metrics.Delivered()
	}
}

// ConnectionsOf lists the attached connections of a user.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, s := range r.sessions {
		if s.userID == userID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) SubscribersOf(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationID])
}

func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

type target struct {
	userID string
	sink   contract.EventSink
}

func (r *Registry) targets(e event.Event) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[e.ConversationID]
	if !ok {
		return nil
	}
	targets := make([]target, 0, len(room))
	for connectionID := range room {
		s, exists := r.sessions[connectionID]
		if !exists {
			continue
		}
		if e.ExcludesOrigin() && s.userID == e.OriginUserID {
			continue
		}
		targets = append(targets, target{userID: s.userID, sink: s.sink})
	}
	return targets
}

func (r *Registry) unsubscribe(connectionID, conversationID string) {
	if s, ok := r.sessions[connectionID]; ok {
		delete(s.conversations, conversationID)
	}
	if members, ok := r.rooms[conversationID]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.rooms, conversationID)
		}
	}
}

func (r *Registry) countSubscriptions() int {
	n := 0
	for _, members := range r.rooms {
		n += len(members)
	}
	return n
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrSlowConsumer):
		return "slow_consumer"
	case errors.Is(err, errors.ErrSinkClosed):
		return "closed"
	default:
		return "error"
	}
}
