package search

import (
	"chat-hub/contract"
	"chat-hub/domain/chat"
	"chat-hub/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blugelabs/bluge"
)

const (
	fieldID           = "_id"
	fieldConversation = "conversation_id"
	fieldSequence     = "sequence"
	fieldText         = "text"
)

// MessageIndex keeps the text of live messages in a bluge index.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

// Open creates or opens the index stored at path.
func Open(path string, log *slog.Logger) (*MessageIndex, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	return NewMessageIndex(writer, log), nil
}

// Index stores or replaces the searchable text of msg. Messages without text are removed.
func (i *MessageIndex) Index(msg chat.Message) error {
	text := searchableText(msg)
	if msg.Deleted || text == "" {
		return i.Remove(msg.ID)
	}
	doc := bluge.NewDocument(msg.ID).
		AddField(bluge.NewKeywordField(fieldConversation, msg.ConversationID).StoreValue()).
		AddField(bluge.NewNumericField(fieldSequence, float64(msg.Sequence)).StoreValue()).
		AddField(bluge.NewTextField(fieldText, text))
	return i.writer.Update(doc.ID(), doc)
}

func (i *MessageIndex) Remove(messageID string) error {
	return i.writer.Delete(bluge.Identifier(messageID))
}

// Search matches query against the messages of one conversation, best score first.
func (i *MessageIndex) Search(ctx context.Context, conversationID, query string, limit int) ([]contract.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: search query is empty", errors.ErrValidation)
	}
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(conversationID).SetField(fieldConversation)).
		AddMust(bluge.NewMatchQuery(query).SetField(fieldText))
	matches, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, err
	}

	var hits []contract.SearchHit
	match, err := matches.Next()
	for err == nil && match != nil {
		hit := contract.SearchHit{Score: match.Score}
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case fieldID:
				hit.MessageID = string(value)
			case fieldSequence:
				if seq, decodeErr := bluge.DecodeNumericFloat64(value); decodeErr == nil {
					hit.Sequence = uint64(seq)
				}
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		hits = append(hits, hit)
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (i *MessageIndex) Close() error {
	return i.writer.Close()
}

func searchableText(msg chat.Message) string {
	switch c := msg.Content.(type) {
	case chat.TextContent:
		return c.Text
	case chat.MediaContent:
		return c.Caption
	default:
		return ""
	}
}
