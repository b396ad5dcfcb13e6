package event

import (
	"chat-hub/domain/chat"
	"time"
)

// Envelope is the JSON frame pushed to sockets and relayed to NATS.
type Envelope struct {
	Type    Kind      `json:"type"`
	ChatID  string    `json:"chatId"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

type typingView struct {
	UserID string `json:"userId"`
}

type readView struct {
	MessageID string    `json:"messageId"`
	Sequence  uint64    `json:"sequence"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type presenceView struct {
	UserID       string    `json:"userId"`
	IsOnline     bool      `json:"isOnline"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

func ToEnvelope(e Event) Envelope {
	env := Envelope{Type: e.Kind, ChatID: e.ConversationID, At: e.At}
	switch p := e.Payload.(type) {
	case MessagePayload:
		env.Payload = chat.NewMessageView(p.Message)
	case TypingPayload:
		env.Payload = typingView{UserID: p.UserID}
	case ReadPayload:
		env.Payload = readView{MessageID: p.MessageID, Sequence: p.Sequence, UserID: p.UserID, ReadAt: p.ReadAt}
	case PresencePayload:
		env.Payload = presenceView{UserID: p.UserID, IsOnline: p.Online, LastActiveAt: p.LastActiveAt}
	default:
		env.Payload = p
	}
	return env
}
