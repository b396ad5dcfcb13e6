//go:generate go run go.uber.org/mock/mockgen -source=conversation_repository.go -destination=../../mocks/mock_conversation_repository.go -package=mocks
package storage

import (
	"chat-hub/domain/chat"
	"chat-hub/errors"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type IConversationRepository interface {
	Create(conversation chat.Conversation) error
	CreateDirect(conversation chat.Conversation) (chat.Conversation, bool, error)
	Get(conversationID string) (chat.Conversation, error)
	Mutate(conversationID string, fn func(c *chat.Conversation) (bool, error)) (chat.Conversation, error)
	ListForUser(userID string) ([]chat.Conversation, error)
}

type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, log: log}
}

// Create persists a new conversation with its membership index.
func (r *ConversationRepository) Create(conversation chat.Conversation) error {
	return update(r.db, func(txn *badger.Txn) error {
		if _, err := txn.Get(conversationKey(conversation.ID)); err == nil {
			return fmt.Errorf("%w: conversation %s already exists", errors.ErrConflict, conversation.ID)
		}
		return r.write(txn, conversation, nil)
	})
}

// CreateDirect stores the conversation unless the pair already has one, in which case
// the existing conversation is returned with created=false. The pair key and the
// conversation are written in one transaction, so concurrent creators converge on
// the same record: the loser's commit conflicts, is replayed, and reads the winner.
func (r *ConversationRepository) CreateDirect(conversation chat.Conversation) (chat.Conversation, bool, error) {
	if len(conversation.Participants) != 2 {
		return chat.Conversation{}, false, fmt.Errorf("%w: direct conversation needs two participants", errors.ErrValidation)
	}
	low, high := chat.DirectPair(conversation.Participants[0], conversation.Participants[1])
	pairKey := directKey(low, high)

	var result chat.Conversation
	var created bool
	err := update(r.db, func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey)
		switch {
		case err == nil:
			var existingID []byte
			if existingID, err = item.ValueCopy(nil); err != nil {
				return err
			}
			var rec conversationRecord
			if err = getRecord(txn, conversationKey(string(existingID)), &rec); err != nil {
				return err
			}
			result, created = toConversation(rec), false
			return nil
		case !stderrors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err = txn.Set(pairKey, []byte(conversation.ID)); err != nil {
			return err
		}
		if err = r.write(txn, conversation, nil); err != nil {
			return err
		}
		result, created = conversation, true
		return nil
	})
	if err != nil {
		return chat.Conversation{}, false, err
	}
	return result, created, nil
}

func (r *ConversationRepository) Get(conversationID string) (chat.Conversation, error) {
	var rec conversationRecord
	err := r.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, conversationKey(conversationID), &rec)
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return chat.Conversation{}, fmt.Errorf("%w: conversation %s", errors.ErrNotFound, conversationID)
	}
	if err != nil {
		return chat.Conversation{}, err
	}
	return toConversation(rec), nil
}

// Mutate loads the conversation, applies fn and writes it back when fn reports a change.
// Membership index keys follow the participant list.
func (r *ConversationRepository) Mutate(conversationID string, fn func(c *chat.Conversation) (bool, error)) (chat.Conversation, error) {
	var result chat.Conversation
	err := update(r.db, func(txn *badger.Txn) error {
		var rec conversationRecord
		if err := getRecord(txn, conversationKey(conversationID), &rec); err != nil {
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: conversation %s", errors.ErrNotFound, conversationID)
			}
			return err
		}
		current := toConversation(rec)
		previous := slices.Clone(current.Participants)
		changed, err := fn(&current)
		if err != nil {
			return err
		}
		result = current
		if !changed {
			return nil
		}
		return r.write(txn, current, previous)
	})
	if err != nil {
		return chat.Conversation{}, err
	}
	return result, nil
}

// ListForUser returns the user's conversations, most recently active first.
func (r *ConversationRepository) ListForUser(userID string) ([]chat.Conversation, error) {
	var conversations []chat.Conversation
	prefix := memberPrefixFor(userID)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			conversationID := string(it.Item().Key()[len(prefix):])
			var rec conversationRecord
			if err := getRecord(txn, conversationKey(conversationID), &rec); err != nil {
				if stderrors.Is(err, badger.ErrKeyNotFound) {
					r.log.Warn("Dangling membership index", "user_id", userID, "conversation_id", conversationID)
					continue
				}
				return err
			}
			conversations = append(conversations, toConversation(rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastActivityAt.After(conversations[j].LastActivityAt)
	})
	return conversations, nil
}

func (r *ConversationRepository) write(txn *badger.Txn, c chat.Conversation, previous []string) error {
	if err := setRecord(txn, conversationKey(c.ID), fromConversation(c)); err != nil {
		return err
	}
	removed, added := lo.Difference(previous, c.Participants)
	for _, userID := range removed {
		if err := txn.Delete(memberKey(userID, c.ID)); err != nil {
			return err
		}
	}
	for _, userID := range added {
		if err := txn.Set(memberKey(userID, c.ID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}
