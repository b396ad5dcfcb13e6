// Package chat holds the conversation and message model shared by the
// directory, the ledger and the transports.
package chat

import (
	"slices"
	"time"
)

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// MinGroupSize is the number of distinct users a group needs at creation.
const MinGroupSize = 3

// Conversation is either a direct pair or a named group.
// Admins is a subset of Participants and is empty for direct conversations.
type Conversation struct {
	ID               string
	Kind             ConversationKind
	Participants     []string
	Admins           []string
	DisplayName      string
	Description      string
	Icon             string
	LatestMessageRef string
	CreatedAt        time.Time
	LastActivityAt   time.Time
}

func (c Conversation) IsMember(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

func (c Conversation) IsAdmin(userID string) bool {
	return slices.Contains(c.Admins, userID)
}

func (c Conversation) IsGroup() bool { return c.Kind == KindGroup }

// PeerOf returns the other participant of a direct conversation.
func (c Conversation) PeerOf(userID string) string {
	if c.Kind != KindDirect {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// GroupUpdate carries optional metadata changes. Nil fields are left untouched.
type GroupUpdate struct {
	DisplayName *string
	Description *string
	Icon        *string
}

// DirectPair orders two user ids so that (a, b) and (b, a) share a key.
func DirectPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
