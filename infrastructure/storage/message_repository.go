//go:generate go run go.uber.org/mock/mockgen -source=message_repository.go -destination=../../mocks/mock_message_repository.go -package=mocks
package storage

import (
	"chat-hub/domain/chat"
	"chat-hub/errors"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dgraph-io/badger/v4"
)

type IMessageRepository interface {
	Append(conversationID string, build func(sequence uint64) chat.Message) (chat.Message, error)
	Page(conversationID string, afterSequence uint64, limit int) ([]chat.Message, bool, error)
	Get(messageID string) (chat.Message, error)
	Mutate(messageID string, fn func(m *chat.Message) (bool, error)) (chat.Message, bool, error)
	LastSequence(conversationID string) (uint64, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

// Append assigns the next sequence of the conversation and persists the message built
// for it, its id reference and the conversation's latest-message pointer in one
// transaction. A concurrent append on the same conversation makes the commit conflict
// and the whole step is replayed with a fresh sequence.
func (r *MessageRepository) Append(conversationID string, build func(sequence uint64) chat.Message) (chat.Message, error) {
	var committed chat.Message
	err := update(r.db, func(txn *badger.Txn) error {
		var conv conversationRecord
		if err := getRecord(txn, conversationKey(conversationID), &conv); err != nil {
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: conversation %s", errors.ErrNotFound, conversationID)
			}
			return err
		}
		last, err := readSequence(txn, conversationID)
		if err != nil {
			return err
		}
		msg := build(last + 1)
		msg.ConversationID = conversationID
		msg.Sequence = last + 1

		if err = setRecord(txn, messageKey(conversationID, msg.Sequence), fromMessage(msg)); err != nil {
			return err
		}
		ref := messageRef{ConversationID: conversationID, Sequence: msg.Sequence}
		if err = setRecord(txn, messageRefKey(msg.ID), ref); err != nil {
			return err
		}
		if err = txn.Set(sequenceKey(conversationID), encodeSequence(msg.Sequence)); err != nil {
			return err
		}
		conv.LatestMessageRef = msg.ID
		conv.LastActivityAt = msg.CreatedAt.UnixNano()
		if err = setRecord(txn, conversationKey(conversationID), conv); err != nil {
			return err
		}
		committed = msg
		return nil
	})
	if err != nil {
		return chat.Message{}, err
	}
	return committed, nil
}

// Page returns up to limit messages with a sequence above afterSequence, in ascending
// order, and whether more follow.
func (r *MessageRepository) Page(conversationID string, afterSequence uint64, limit int) ([]chat.Message, bool, error) {
	if afterSequence == math.MaxUint64 {
		return nil, false, nil
	}
	var messages []chat.Message
	hasMore := false
	prefix := messagePrefixFor(conversationID)
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = limit + 1
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(messageKey(conversationID, afterSequence+1)); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				hasMore = true
				break
			}
			var rec messageRecord
			if err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			messages = append(messages, toMessage(rec))
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return messages, hasMore, nil
}

func (r *MessageRepository) Get(messageID string) (chat.Message, error) {
	var msg chat.Message
	err := r.db.View(func(txn *badger.Txn) error {
		rec, err := r.lookup(txn, messageID)
		if err != nil {
			return err
		}
		msg = toMessage(rec)
		return nil
	})
	return msg, err
}

// Mutate applies fn to the stored message and writes it back when fn reports a change.
func (r *MessageRepository) Mutate(messageID string, fn func(m *chat.Message) (bool, error)) (chat.Message, bool, error) {
	var result chat.Message
	var changed bool
	err := update(r.db, func(txn *badger.Txn) error {
		rec, err := r.lookup(txn, messageID)
		if err != nil {
			return err
		}
		current := toMessage(rec)
		if changed, err = fn(&current); err != nil {
			return err
		}
		result = current
		if !changed {
			return nil
		}
		return setRecord(txn, messageKey(current.ConversationID, current.Sequence), fromMessage(current))
	})
	if err != nil {
		return chat.Message{}, false, err
	}
	return result, changed, nil
}

func (r *MessageRepository) LastSequence(conversationID string) (uint64, error) {
	var last uint64
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		last, err = readSequence(txn, conversationID)
		return err
	})
	return last, err
}

func (r *MessageRepository) lookup(txn *badger.Txn, messageID string) (messageRecord, error) {
	var ref messageRef
	if err := getRecord(txn, messageRefKey(messageID), &ref); err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return messageRecord{}, fmt.Errorf("%w: message %s", errors.ErrNotFound, messageID)
		}
		return messageRecord{}, err
	}
	var rec messageRecord
	if err := getRecord(txn, messageKey(ref.ConversationID, ref.Sequence), &rec); err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return messageRecord{}, fmt.Errorf("%w: message %s", errors.ErrNotFound, messageID)
		}
		return messageRecord{}, err
	}
	return rec, nil
}

func readSequence(txn *badger.Txn, conversationID string) (uint64, error) {
	item, err := txn.Get(sequenceKey(conversationID))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence counter for %s", conversationID)
		}
		last = binary.BigEndian.Uint64(val)
		return nil
	})
	return last, err
}

func encodeSequence(sequence uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, sequence)
	return buf
}
