package chat

import (
	"slices"
	"time"
)

// Message is a committed entry of a conversation's ledger.
// Sequence starts at 1 and has no gaps within a conversation.
// Content is nil once the message is deleted.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Sequence       uint64
	CreatedAt      time.Time
	Content        Content
	Edited         bool
	EditedAt       time.Time
	Deleted        bool
	ReadBy         []ReadReceipt
}

type ReadReceipt struct {
	UserID string
	ReadAt time.Time
}

func (m Message) ReadByUser(userID string) bool {
	return slices.ContainsFunc(m.ReadBy, func(r ReadReceipt) bool { return r.UserID == userID })
}

// Text returns the text of a live text message, "" otherwise.
func (m Message) Text() string {
	if t, ok := m.Content.(TextContent); ok {
		return t.Text
	}
	return ""
}

// Page is one slice of a conversation's history in ascending sequence order.
type Page struct {
	Messages   []Message
	NextCursor string
	HasMore    bool
}
