package services

import (
	"chat-hub/contract"
	"chat-hub/domain/chat"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/observability"
	"chat-hub/runtime"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
)

const defaultSearchLimit = 20

type IChatService interface {
	SendMessage(ctx context.Context, cmd chat.PostMessageCommand) (chat.Message, error)
	EditMessage(ctx context.Context, cmd chat.EditMessageCommand) (chat.Message, error)
	DeleteMessage(ctx context.Context, messageID, actorID string) (chat.Message, error)
	MarkRead(ctx context.Context, messageID, userID string) (chat.Message, error)
	ReadMany(ctx context.Context, userID string, messageIDs []string) ([]chat.Message, error)
	History(ctx context.Context, conversationID, userID, cursor string, limit int) (chat.Page, error)
	Search(ctx context.Context, conversationID, userID, query string, limit int) ([]chat.Message, error)
	CreateDirect(ctx context.Context, userID, peerID string) (chat.Conversation, bool, error)
	CreateGroup(ctx context.Context, cmd chat.CreateGroupCommand) (chat.Conversation, error)
	Conversation(ctx context.Context, conversationID, userID string) (chat.Conversation, error)
	Conversations(ctx context.Context, userID string) ([]chat.Conversation, error)
	AddMember(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error)
	RemoveMember(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error)
	PromoteAdmin(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error)
	DemoteAdmin(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error)
	UpdateGroup(ctx context.Context, conversationID, actorID string, update chat.GroupUpdate) (chat.Conversation, error)
	StartTyping(ctx context.Context, conversationID, userID string) error
	StopTyping(ctx context.Context, conversationID, userID string) error
	Presence(userID string) PresenceStatus
	Touch(ctx context.Context, userID string)
	Attach(ctx context.Context, connectionID, userID string, sink contract.EventSink)
	Subscribe(ctx context.Context, connectionID, conversationID string) error
	Unsubscribe(connectionID, conversationID string)
	Detach(connectionID string)
}

// ChatService is the control flow every client action goes through:
// authorize against the directory, commit to the ledger, then publish.
type ChatService struct {
	log       *slog.Logger
	directory contract.IDirectory
	ledger    contract.ILedger
	bus       contract.IBus
	publisher contract.IPublisher
	presence  contract.IPresence
	moderator contract.IModerator
	index     contract.IMessageIndex
	metrics   *observability.Metrics
	locks     *runtime.KeyedMutex
	now       func() time.Time
}

// NewChatService wires the core components. publisher may be nil, in which
// case events go to the bus only.
func NewChatService(
	log *slog.Logger,
	directory contract.IDirectory,
	ledger contract.ILedger,
	bus contract.IBus,
	publisher contract.IPublisher,
	presence contract.IPresence,
	metrics *observability.Metrics,
) *ChatService {
	if publisher == nil {
		publisher = bus
	}
	return &ChatService{
		log:       log,
		directory: directory,
		ledger:    ledger,
		bus:       bus,
		publisher: publisher,
		presence:  presence,
		metrics:   metrics,
		locks:     runtime.NewKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatService) WithModerator(moderator contract.IModerator) *ChatService {
	s.moderator = moderator
	return s
}

func (s *ChatService) WithSearch(index contract.IMessageIndex) *ChatService {
	s.index = index
	return s
}

// SendMessage commits a message and publishes messageCreated in sequence order.
// A live typing session of the sender in that conversation is closed.
func (s *ChatService) SendMessage(ctx context.Context, cmd chat.PostMessageCommand) (chat.Message, error) {
	if text, ok := cmd.Content.(chat.TextContent); ok {
		cmd.Content = chat.TextContent{Text: s.moderate(text.Text)}
	}

	unlock := s.locks.Lock(cmd.ConversationID)
	msg, err := s.ledger.Append(ctx, cmd)
	if err != nil {
		unlock()
		return chat.Message{}, err
	}
	s.publisher.Publish(ctx, event.NewMessageEvent(event.MessageCreated, msg, cmd.SenderID, s.now()))
	unlock()

	s.metrics.MessageCommitted()
	if s.presence.StopTyping(msg.ConversationID, cmd.SenderID) {
		s.publisher.Publish(ctx, event.NewTypingEvent(event.TypingStopped, msg.ConversationID, cmd.SenderID, s.now()))
	}
	s.Touch(ctx, cmd.SenderID)
	return msg, nil
}

func (s *ChatService) EditMessage(ctx context.Context, cmd chat.EditMessageCommand) (chat.Message, error) {
	current, err := s.ledger.Get(ctx, cmd.MessageID)
	if err != nil {
		return chat.Message{}, err
	}
	cmd.Text = s.moderate(cmd.Text)

	unlock := s.locks.Lock(current.ConversationID)
	defer unlock()
	msg, err := s.ledger.Edit(ctx, cmd)
	if err != nil {
		return chat.Message{}, err
	}
	s.publisher.Publish(ctx, event.NewMessageEvent(event.MessageEdited, msg, cmd.ActorID, s.now()))
	return msg, nil
}

// DeleteMessage tombstones a message. A repeated delete publishes nothing.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID, actorID string) (chat.Message, error) {
	current, err := s.ledger.Get(ctx, messageID)
	if err != nil {
		return chat.Message{}, err
	}

	unlock := s.locks.Lock(current.ConversationID)
	defer unlock()
	msg, changed, err := s.ledger.SoftDelete(ctx, messageID, actorID)
	if err != nil {
		return chat.Message{}, err
	}
	if changed {
		s.publisher.Publish(ctx, event.NewMessageEvent(event.MessageDeleted, msg, actorID, s.now()))
	}
	return msg, nil
}

// MarkRead records a read receipt and publishes it the first time only.
func (s *ChatService) MarkRead(ctx context.Context, messageID, userID string) (chat.Message, error) {
	current, err := s.ledger.Get(ctx, messageID)
	if err != nil {
		return chat.Message{}, err
	}

	unlock := s.locks.Lock(current.ConversationID)
	defer unlock()
	msg, added, err := s.ledger.MarkRead(ctx, messageID, userID)
	if err != nil {
		return chat.Message{}, err
	}
	if added {
		receipt, _ := lo.Find(msg.ReadBy, func(r chat.ReadReceipt) bool { return r.UserID == userID })
		s.publisher.Publish(ctx, event.NewReadEvent(msg, userID, receipt.ReadAt))
	}
	return msg, nil
}

// ReadMany marks each message read in order and stops at the first failure.
// Receipts recorded before the failure are kept.
func (s *ChatService) ReadMany(ctx context.Context, userID string, messageIDs []string) ([]chat.Message, error) {
	read := make([]chat.Message, 0, len(messageIDs))
	for _, id := range lo.Uniq(messageIDs) {
		msg, err := s.MarkRead(ctx, id, userID)
		if err != nil {
			return read, err
		}
		read = append(read, msg)
	}
	return read, nil
}

// History pages through a conversation. Only members may read it.
func (s *ChatService) History(ctx context.Context, conversationID, userID, cursor string, limit int) (chat.Page, error) {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return chat.Page{}, err
	}
	return s.ledger.Page(ctx, conversationID, cursor, limit)
}

// Search returns live messages matching query, best match first.
func (s *ChatService) Search(ctx context.Context, conversationID, userID, query string, limit int) ([]chat.Message, error) {
	if s.index == nil {
		return nil, fmt.Errorf("%w: search is not enabled", errors.ErrNotFound)
	}
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	hits, err := s.index.Search(ctx, conversationID, query, limit)
	if err != nil {
		return nil, err
	}
	messages := make([]chat.Message, 0, len(hits))
	for _, hit := range hits {
		msg, err := s.ledger.Get(ctx, hit.MessageID)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if msg.Deleted || msg.ConversationID != conversationID {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *ChatService) CreateDirect(ctx context.Context, userID, peerID string) (chat.Conversation, bool, error) {
	return s.directory.CreateDirect(ctx, userID, peerID)
}

func (s *ChatService) CreateGroup(ctx context.Context, cmd chat.CreateGroupCommand) (chat.Conversation, error) {
	return s.directory.CreateGroup(ctx, cmd)
}

// Conversation returns a conversation its caller belongs to.
func (s *ChatService) Conversation(ctx context.Context, conversationID, userID string) (chat.Conversation, error) {
	conv, err := s.directory.Get(ctx, conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}
	if !conv.IsMember(userID) {
		return chat.Conversation{}, fmt.Errorf("%w: %s is not a member of %s", errors.ErrAuthorization, userID, conversationID)
	}
	return conv, nil
}

func (s *ChatService) Conversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	return s.directory.ListForUser(ctx, userID)
}

func (s *ChatService) AddMember(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error) {
	return s.directory.AddMember(ctx, conversationID, actorID, userID)
}

// RemoveMember drops userID from the group and from its live subscriptions.
// It holds the conversation lock so no subscription can slip in between the
// removal and the eviction.
func (s *ChatService) RemoveMember(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error) {
	unlock := s.locks.Lock(conversationID)
	conv, err := s.directory.RemoveMember(ctx, conversationID, actorID, userID)
	if err != nil {
		unlock()
		return chat.Conversation{}, err
	}
	s.bus.EvictUser(conversationID, userID)
	unlock()
	if s.presence.StopTyping(conversationID, userID) {
		s.publisher.Publish(ctx, event.NewTypingEvent(event.TypingStopped, conversationID, userID, s.now()))
	}
	return conv, nil
}

func (s *ChatService) PromoteAdmin(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error) {
	return s.directory.PromoteAdmin(ctx, conversationID, actorID, userID)
}

func (s *ChatService) DemoteAdmin(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error) {
	return s.directory.DemoteAdmin(ctx, conversationID, actorID, userID)
}

func (s *ChatService) UpdateGroup(ctx context.Context, conversationID, actorID string, update chat.GroupUpdate) (chat.Conversation, error) {
	return s.directory.UpdateGroup(ctx, conversationID, actorID, update)
}

// StartTyping publishes typingStarted when a session opens. Refreshing a live
// session publishes nothing.
func (s *ChatService) StartTyping(ctx context.Context, conversationID, userID string) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	if s.presence.StartTyping(conversationID, userID) {
		s.publisher.Publish(ctx, event.NewTypingEvent(event.TypingStarted, conversationID, userID, s.now()))
	}
	s.Touch(ctx, userID)
	return nil
}

func (s *ChatService) StopTyping(ctx context.Context, conversationID, userID string) error {
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	if s.presence.StopTyping(conversationID, userID) {
		s.publisher.Publish(ctx, event.NewTypingEvent(event.TypingStopped, conversationID, userID, s.now()))
	}
	return nil
}

type PresenceStatus struct {
	UserID       string
	Online       bool
	LastActiveAt time.Time
}

func (s *ChatService) Presence(userID string) PresenceStatus {
	last, _ := s.presence.LastActive(userID)
	return PresenceStatus{UserID: userID, Online: s.presence.IsOnline(userID), LastActiveAt: last}
}

// Touch records activity. Coming online is announced to every conversation of the user.
func (s *ChatService) Touch(ctx context.Context, userID string) {
	if !s.presence.Touch(userID) {
		return
	}
	conversations, err := s.directory.ListForUser(ctx, userID)
	if err != nil {
		s.log.Warn("Cannot list conversations for presence", "user_id", userID, "error", err)
		return
	}
	now := s.now()
	for _, conv := range conversations {
		s.publisher.Publish(ctx, event.NewPresenceEvent(conv.ID, userID, true, now, now))
	}
}

func (s *ChatService) Attach(ctx context.Context, connectionID, userID string, sink contract.EventSink) {
	s.bus.Attach(connectionID, userID, sink)
	s.Touch(ctx, userID)
}

// Subscribe runs under the conversation lock, serialized with RemoveMember.
func (s *ChatService) Subscribe(ctx context.Context, connectionID, conversationID string) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()
	return s.bus.Subscribe(ctx, connectionID, conversationID)
}

func (s *ChatService) Unsubscribe(connectionID, conversationID string) {
	s.bus.Unsubscribe(connectionID, conversationID)
}

// Detach tears a connection down. It must run before the socket is released.
func (s *ChatService) Detach(connectionID string) {
	s.bus.UnsubscribeAll(connectionID)
}

func (s *ChatService) moderate(text string) string {
	if s.moderator == nil {
		return text
	}
	verdict := s.moderator.Review(text)
	if len(verdict.Censored) > 0 {
		s.log.Debug("Text censored", "words", len(verdict.Censored), "language", verdict.Language)
	}
	return verdict.Text
}

func (s *ChatService) requireMember(ctx context.Context, conversationID, userID string) error {
	ok, err := s.directory.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a member of %s", errors.ErrAuthorization, userID, conversationID)
	}
	return nil
}
