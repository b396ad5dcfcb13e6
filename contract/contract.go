//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-hub/domain/chat"
	"chat-hub/domain/event"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker runs until its context is cancelled. Returning nil means done for good.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName returns the worker's type name for logs.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives events. Connection sinks must not block.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// MembershipChecker is the slice of the directory the bus needs.
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// IdentityResolver turns a bearer credential into a user id.
type IdentityResolver interface {
	Resolve(ctx context.Context, bearer string) (string, error)
}

type IDirectory interface {
	MembershipChecker
	CreateDirect(ctx context.Context, a, b string) (chat.Conversation, bool, error)
	CreateGroup(ctx context.Context, cmd chat.CreateGroupCommand) (chat.Conversation, error)
	AddMember(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error)
	RemoveMember(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error)
	PromoteAdmin(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error)
	DemoteAdmin(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error)
	UpdateGroup(ctx context.Context, conversationID, actorID string, update chat.GroupUpdate) (chat.Conversation, error)
	IsAdmin(ctx context.Context, conversationID, userID string) (bool, error)
	Get(ctx context.Context, conversationID string) (chat.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]chat.Conversation, error)
}

type ILedger interface {
	Append(ctx context.Context, cmd chat.PostMessageCommand) (chat.Message, error)
	Page(ctx context.Context, conversationID, cursor string, limit int) (chat.Page, error)
	MarkRead(ctx context.Context, messageID, userID string) (chat.Message, bool, error)
	Edit(ctx context.Context, cmd chat.EditMessageCommand) (chat.Message, error)
	SoftDelete(ctx context.Context, messageID, actorID string) (chat.Message, bool, error)
	Get(ctx context.Context, messageID string) (chat.Message, error)
}

type IPublisher interface {
	Publish(ctx context.Context, e event.Event)
}

// IBus is the live fan-out surface.
type IBus interface {
	IPublisher
	Attach(connectionID, userID string, sink EventSink)
	Subscribe(ctx context.Context, connectionID, conversationID string) error
	Unsubscribe(connectionID, conversationID string)
	UnsubscribeAll(connectionID string)
	EvictUser(conversationID, userID string)
}

// TypingEntry is a typing session removed by a sweep.
type TypingEntry struct {
	ConversationID string
	UserID         string
	ExpiresAt      time.Time
}

type IPresence interface {
	Touch(userID string) bool
	IsOnline(userID string) bool
	LastActive(userID string) (time.Time, bool)
	StartTyping(conversationID, userID string) bool
	StopTyping(conversationID, userID string) bool
	Typing(conversationID string) []string
	SweepExpired(now time.Time) []TypingEntry
	SweepPresence(now time.Time) []string
	Counts() (online, typing int)
}

type ModerationVerdict struct {
	Text     string
	Censored []string
	Language string
}

type IModerator interface {
	Review(text string) ModerationVerdict
}

// IMessageIndex is the full-text side of the ledger.
type IMessageIndex interface {
	Index(msg chat.Message) error
	Remove(messageID string) error
	Search(ctx context.Context, conversationID, query string, limit int) ([]SearchHit, error)
}

type SearchHit struct {
	MessageID string
	Sequence  uint64
	Score     float64
}
