package storage

import (
	"chat-hub/domain/chat"
	"time"
)

type conversationRecord struct {
	ID               string   `cbor:"id"`
	Kind             string   `cbor:"kind"`
	Participants     []string `cbor:"participants"`
	Admins           []string `cbor:"admins,omitempty"`
	DisplayName      string   `cbor:"name,omitempty"`
	Description      string   `cbor:"description,omitempty"`
	Icon             string   `cbor:"icon,omitempty"`
	LatestMessageRef string   `cbor:"latest,omitempty"`
	CreatedAt        int64    `cbor:"created_at"`
	LastActivityAt   int64    `cbor:"last_activity_at"`
}

const (
	contentText  = "text"
	contentMedia = "media"
)

type messageRecord struct {
	ID             string          `cbor:"id"`
	ConversationID string          `cbor:"conversation_id"`
	SenderID       string          `cbor:"sender_id"`
	Sequence       uint64          `cbor:"seq"`
	CreatedAt      int64           `cbor:"created_at"`
	ContentType    string          `cbor:"content_type,omitempty"`
	Text           string          `cbor:"text,omitempty"`
	MediaURL       string          `cbor:"media_url,omitempty"`
	MediaKind      string          `cbor:"media_kind,omitempty"`
	MimeType       string          `cbor:"mime_type,omitempty"`
	Caption        string          `cbor:"caption,omitempty"`
	Edited         bool            `cbor:"edited,omitempty"`
	EditedAt       int64           `cbor:"edited_at,omitempty"`
	Deleted        bool            `cbor:"deleted,omitempty"`
	ReadBy         []receiptRecord `cbor:"read_by,omitempty"`
}

type receiptRecord struct {
	UserID string `cbor:"user_id"`
	ReadAt int64  `cbor:"read_at"`
}

type messageRef struct {
	ConversationID string `cbor:"conversation_id"`
	Sequence       uint64 `cbor:"seq"`
}

// ConversationView and MessageView are the decoded shapes read-only tooling prints.
type ConversationView = conversationRecord
type MessageView = messageRecord

func fromConversation(c chat.Conversation) conversationRecord {
	return conversationRecord{
		ID:               c.ID,
		Kind:             string(c.Kind),
		Participants:     c.Participants,
		Admins:           c.Admins,
		DisplayName:      c.DisplayName,
		Description:      c.Description,
		Icon:             c.Icon,
		LatestMessageRef: c.LatestMessageRef,
		CreatedAt:        c.CreatedAt.UnixNano(),
		LastActivityAt:   c.LastActivityAt.UnixNano(),
	}
}

func toConversation(r conversationRecord) chat.Conversation {
	return chat.Conversation{
		ID:               r.ID,
		Kind:             chat.ConversationKind(r.Kind),
		Participants:     r.Participants,
		Admins:           r.Admins,
		DisplayName:      r.DisplayName,
		Description:      r.Description,
		Icon:             r.Icon,
		LatestMessageRef: r.LatestMessageRef,
		CreatedAt:        fromNanos(r.CreatedAt),
		LastActivityAt:   fromNanos(r.LastActivityAt),
	}
}

func fromMessage(m chat.Message) messageRecord {
	r := messageRecord{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Sequence:       m.Sequence,
		CreatedAt:      m.CreatedAt.UnixNano(),
		Edited:         m.Edited,
		Deleted:        m.Deleted,
	}
	if m.Edited {
		r.EditedAt = m.EditedAt.UnixNano()
	}
	switch c := m.Content.(type) {
	case chat.TextContent:
		r.ContentType = contentText
		r.Text = c.Text
	case chat.MediaContent:
		r.ContentType = contentMedia
		r.MediaURL = c.URL
		r.MediaKind = string(c.Kind)
		r.MimeType = c.MimeType
		r.Caption = c.Caption
	}
	for _, rr := range m.ReadBy {
		r.ReadBy = append(r.ReadBy, receiptRecord{UserID: rr.UserID, ReadAt: rr.ReadAt.UnixNano()})
	}
	return r
}

func toMessage(r messageRecord) chat.Message {
	m := chat.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Sequence:       r.Sequence,
		CreatedAt:      fromNanos(r.CreatedAt),
		Edited:         r.Edited,
		Deleted:        r.Deleted,
	}
	if r.Edited {
		m.EditedAt = fromNanos(r.EditedAt)
	}
	switch r.ContentType {
	case contentText:
		m.Content = chat.TextContent{Text: r.Text}
	case contentMedia:
		m.Content = chat.MediaContent{
			URL:      r.MediaURL,
			Kind:     chat.MediaKind(r.MediaKind),
			MimeType: r.MimeType,
			Caption:  r.Caption,
		}
	}
	for _, rr := range r.ReadBy {
		m.ReadBy = append(m.ReadBy, chat.ReadReceipt{UserID: rr.UserID, ReadAt: fromNanos(rr.ReadAt)})
	}
	return m
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
