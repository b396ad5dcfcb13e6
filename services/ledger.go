package services

import (
	"chat-hub/contract"
	"chat-hub/domain/chat"
	"chat-hub/errors"
	"chat-hub/infrastructure/storage"
	"chat-hub/runtime"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

type LedgerLimits struct {
	DefaultPage      int
	MaxPage          int
	MaxContentLength int
}

// Ledger is the durable, totally ordered message history of each conversation.
type Ledger struct {
	log     *slog.Logger
	repo    storage.IMessageRepository
	members contract.MembershipChecker
	locks   *runtime.KeyedMutex
	limits  LedgerLimits
	now     func() time.Time
}

func NewLedger(log *slog.Logger, repo storage.IMessageRepository, members contract.MembershipChecker, limits LedgerLimits) *Ledger {
	if limits.DefaultPage <= 0 {
		limits.DefaultPage = DefaultPageLimit
	}
	if limits.MaxPage <= 0 {
		limits.MaxPage = MaxPageLimit
	}
	return &Ledger{
		log:     log,
		repo:    repo,
		members: members,
		locks:   runtime.NewKeyedMutex(),
		limits:  limits,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Append commits a message under the next sequence of its conversation.
func (l *Ledger) Append(ctx context.Context, cmd chat.PostMessageCommand) (chat.Message, error) {
	if err := chat.Validate(cmd); err != nil {
		return chat.Message{}, err
	}
	if err := l.requireMember(ctx, cmd.ConversationID, cmd.SenderID); err != nil {
		return chat.Message{}, err
	}
	if err := chat.ValidateContent(cmd.Content, l.limits.MaxContentLength); err != nil {
		return chat.Message{}, err
	}

	unlock := l.locks.Lock(cmd.ConversationID)
	defer unlock()

	msg, err := l.repo.Append(cmd.ConversationID, func(uint64) chat.Message {
		return chat.Message{
			ID:        uuid.NewString(),
			SenderID:  cmd.SenderID,
			CreatedAt: l.now(),
			Content:   cmd.Content,
		}
	})
	if err != nil {
		return chat.Message{}, err
	}
	l.log.Debug("Message committed", "conversation_id", msg.ConversationID, "sequence", msg.Sequence)
	return msg, nil
}

// Page reads history in ascending sequence order after the cursor position.
// An empty page hands back the cursor it was given.
func (l *Ledger) Page(_ context.Context, conversationID, cursor string, limit int) (chat.Page, error) {
	after, err := DecodeCursor(conversationID, cursor)
	if err != nil {
		return chat.Page{}, err
	}
	switch {
	case limit <= 0:
		limit = l.limits.DefaultPage
	case limit > l.limits.MaxPage:
		limit = l.limits.MaxPage
	}
	messages, hasMore, err := l.repo.Page(conversationID, after, limit)
	if err != nil {
		return chat.Page{}, err
	}
	page := chat.Page{Messages: messages, HasMore: hasMore, NextCursor: cursor}
	if len(messages) > 0 {
		page.NextCursor = EncodeCursor(conversationID, messages[len(messages)-1].Sequence)
	}
	return page, nil
}

// MarkRead records a receipt once per user. added is false when it already existed.
func (l *Ledger) MarkRead(ctx context.Context, messageID, userID string) (chat.Message, bool, error) {
	current, err := l.repo.Get(messageID)
	if err != nil {
		return chat.Message{}, false, err
	}
	if err = l.requireMember(ctx, current.ConversationID, userID); err != nil {
		return chat.Message{}, false, err
	}
	readAt := l.now()
	return l.repo.Mutate(messageID, func(m *chat.Message) (bool, error) {
		if m.ReadByUser(userID) {
			return false, nil
		}
		m.ReadBy = append(m.ReadBy, chat.ReadReceipt{UserID: userID, ReadAt: readAt})
		return true, nil
	})
}

// Edit replaces the text of a live text message. Only the sender may edit.
func (l *Ledger) Edit(ctx context.Context, cmd chat.EditMessageCommand) (chat.Message, error) {
	if err := chat.Validate(cmd); err != nil {
		return chat.Message{}, err
	}
	current, err := l.repo.Get(cmd.MessageID)
	if err != nil {
		return chat.Message{}, err
	}
	if current.SenderID != cmd.ActorID {
		return chat.Message{}, fmt.Errorf("%w: only the sender can edit a message", errors.ErrAuthorization)
	}
	if err = l.requireMember(ctx, current.ConversationID, cmd.ActorID); err != nil {
		return chat.Message{}, err
	}
	editedAt := l.now()
	msg, _, err := l.repo.Mutate(cmd.MessageID, func(m *chat.Message) (bool, error) {
		if m.Deleted {
			return false, fmt.Errorf("%w: message is deleted", errors.ErrConflict)
		}
		if _, ok := m.Content.(chat.TextContent); !ok {
			return false, fmt.Errorf("%w: only text messages can be edited", errors.ErrValidation)
		}
		text := chat.TextContent{Text: cmd.Text}
		if err := chat.ValidateContent(text, l.limits.MaxContentLength); err != nil {
			return false, err
		}
		m.Content = text
		m.Edited = true
		m.EditedAt = editedAt
		return true, nil
	})
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// SoftDelete tombstones a message and erases its content. Deleting twice is a no-op.
// Like Edit, only a sender who is still a member may delete.
func (l *Ledger) SoftDelete(ctx context.Context, messageID, actorID string) (chat.Message, bool, error) {
	current, err := l.repo.Get(messageID)
	if err != nil {
		return chat.Message{}, false, err
	}
	if current.SenderID != actorID {
		return chat.Message{}, false, fmt.Errorf("%w: only the sender can delete a message", errors.ErrAuthorization)
	}
	if err = l.requireMember(ctx, current.ConversationID, actorID); err != nil {
		return chat.Message{}, false, err
	}
	return l.repo.Mutate(messageID, func(m *chat.Message) (bool, error) {
		if m.SenderID != actorID {
			return false, fmt.Errorf("%w: only the sender can delete a message", errors.ErrAuthorization)
		}
		if m.Deleted {
			return false, nil
		}
		m.Deleted = true
		m.Content = nil
		return true, nil
	})
}

func (l *Ledger) Get(_ context.Context, messageID string) (chat.Message, error) {
	return l.repo.Get(messageID)
}

func (l *Ledger) requireMember(ctx context.Context, conversationID, userID string) error {
	ok, err := l.members.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a member of %s", errors.ErrAuthorization, userID, conversationID)
	}
	return nil
}
