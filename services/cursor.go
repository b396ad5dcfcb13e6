package services

import (
	"chat-hub/errors"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MessageCursor is the opaque position handed to clients between pages.
type MessageCursor struct {
	ConversationID string `json:"conversation_id"`
	Sequence       uint64 `json:"sequence"`
}

func EncodeCursor(conversationID string, sequence uint64) string {
	data, _ := json.Marshal(MessageCursor{ConversationID: conversationID, Sequence: sequence})
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor returns the sequence a page starts after. An empty cursor starts from the beginning.
func DecodeCursor(conversationID, cursor string) (uint64, error) {
	if cursor == "" {
		return 0, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed cursor", errors.ErrValidation)
	}
	var mc MessageCursor
	if err = json.Unmarshal(data, &mc); err != nil {
		return 0, fmt.Errorf("%w: malformed cursor", errors.ErrValidation)
	}
	if mc.ConversationID != conversationID {
		return 0, fmt.Errorf("%w: cursor belongs to another conversation", errors.ErrValidation)
	}
	return mc.Sequence, nil
}
