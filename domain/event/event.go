package event

import (
	"chat-hub/domain/chat"
	"time"
)

type Kind string

const (
	MessageCreated   Kind = "messageCreated"
	MessageEdited    Kind = "messageEdited"
	MessageDeleted   Kind = "messageDeleted"
	TypingStarted    Kind = "typingStarted"
	TypingStopped    Kind = "typingStopped"
	ReadReceiptAdded Kind = "readReceiptAdded"
	PresenceChanged  Kind = "presenceChanged"
)

// Event is what the bus delivers to subscribed connections.
// OriginUserID is the user whose action produced it.
type Event struct {
	Kind           Kind
	ConversationID string
	OriginUserID   string
	At             time.Time
	Payload        any
}

// ExcludesOrigin reports whether connections of the originating user skip this event.
func (e Event) ExcludesOrigin() bool {
	return e.Kind == TypingStarted || e.Kind == TypingStopped
}

// IsDurable reports whether the event follows a ledger commit.
func (e Event) IsDurable() bool {
	switch e.Kind {
	case MessageCreated, MessageEdited, MessageDeleted, ReadReceiptAdded:
		return true
	default:
		return false
	}
}

type MessagePayload struct {
	Message chat.Message
}

type TypingPayload struct {
	UserID string
}

type ReadPayload struct {
	MessageID string
	Sequence  uint64
	UserID    string
	ReadAt    time.Time
}

type PresencePayload struct {
	UserID       string
	Online       bool
	LastActiveAt time.Time
}

func NewMessageEvent(kind Kind, msg chat.Message, actorID string, at time.Time) Event {
	return Event{
		Kind:           kind,
		ConversationID: msg.ConversationID,
		OriginUserID:   actorID,
		At:             at,
		Payload:        MessagePayload{Message: msg},
	}
}

func NewTypingEvent(kind Kind, conversationID, userID string, at time.Time) Event {
	return Event{
		Kind:           kind,
		ConversationID: conversationID,
		OriginUserID:   userID,
		At:             at,
		Payload:        TypingPayload{UserID: userID},
	}
}

func NewReadEvent(msg chat.Message, userID string, readAt time.Time) Event {
	return Event{
		Kind:           ReadReceiptAdded,
		ConversationID: msg.ConversationID,
		OriginUserID:   userID,
		At:             readAt,
		Payload:        ReadPayload{MessageID: msg.ID, Sequence: msg.Sequence, UserID: userID, ReadAt: readAt},
	}
}

func NewPresenceEvent(conversationID, userID string, online bool, lastActiveAt, at time.Time) Event {
	return Event{
		Kind:           PresenceChanged,
		ConversationID: conversationID,
		OriginUserID:   userID,
		At:             at,
		Payload:        PresencePayload{UserID: userID, Online: online, LastActiveAt: lastActiveAt},
	}
}
