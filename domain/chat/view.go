package chat

import "time"

// MessageView is the JSON shape of a message on every transport.
type MessageView struct {
	ID        string            `json:"id"`
	ChatID    string            `json:"chatId"`
	SenderID  string            `json:"senderId"`
	Sequence  uint64            `json:"sequence"`
	CreatedAt time.Time         `json:"createdAt"`
	Text      string            `json:"text,omitempty"`
	FileURL   string            `json:"fileUrl,omitempty"`
	FileType  MediaKind         `json:"fileType,omitempty"`
	MimeType  string            `json:"mimeType,omitempty"`
	Caption   string            `json:"caption,omitempty"`
	Edited    bool              `json:"edited"`
	EditedAt  *time.Time        `json:"editedAt,omitempty"`
	Deleted   bool              `json:"deleted"`
	ReadBy    []ReadReceiptView `json:"readBy"`
}

type ReadReceiptView struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type ConversationView struct {
	ID             string    `json:"id"`
	IsGroupChat    bool      `json:"isGroupChat"`
	ChatName       string    `json:"chatName,omitempty"`
	Description    string    `json:"description,omitempty"`
	GroupIcon      string    `json:"groupIcon,omitempty"`
	Users          []string  `json:"users"`
	GroupAdmins    []string  `json:"groupAdmins"`
	LatestMessage  string    `json:"latestMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

type PageView struct {
	Messages   []MessageView `json:"messages"`
	NextCursor string        `json:"nextCursor"`
	HasMore    bool          `json:"hasMore"`
}

func NewMessageView(m Message) MessageView {
	v := MessageView{
		ID:        m.ID,
		ChatID:    m.ConversationID,
		SenderID:  m.SenderID,
		Sequence:  m.Sequence,
		CreatedAt: m.CreatedAt,
		Edited:    m.Edited,
		Deleted:   m.Deleted,
		ReadBy:    make([]ReadReceiptView, 0, len(m.ReadBy)),
	}
	if m.Edited {
		editedAt := m.EditedAt
		v.EditedAt = &editedAt
	}
	switch c := m.Content.(type) {
	case TextContent:
		v.Text = c.Text
	case MediaContent:
		v.FileURL = c.URL
		v.FileType = c.Kind
		v.MimeType = c.MimeType
		v.Caption = c.Caption
	}
	for _, r := range m.ReadBy {
		v.ReadBy = append(v.ReadBy, ReadReceiptView{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return v
}

func NewConversationView(c Conversation) ConversationView {
	return ConversationView{
		ID:             c.ID,
		IsGroupChat:    c.IsGroup(),
		ChatName:       c.DisplayName,
		Description:    c.Description,
		GroupIcon:      c.Icon,
		Users:          nonNil(c.Participants),
		GroupAdmins:    nonNil(c.Admins),
		LatestMessage:  c.LatestMessageRef,
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
	}
}

func NewPageView(p Page) PageView {
	messages := make([]MessageView, 0, len(p.Messages))
	for _, m := range p.Messages {
		messages = append(messages, NewMessageView(m))
	}
	return PageView{Messages: messages, NextCursor: p.NextCursor, HasMore: p.HasMore}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
