package chat

import (
	"chat-hub/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type CreateGroupCommand struct {
	CreatorID   string   `validate:"required"`
	Name        string   `validate:"required"`
	MemberIDs   []string `validate:"dive,required"`
	Description string   `validate:"max=512"`
}

type PostMessageCommand struct {
	ConversationID string `validate:"required"`
	SenderID       string `validate:"required"`
	Content        Content
}

type EditMessageCommand struct {
	MessageID string `validate:"required"`
	ActorID   string `validate:"required"`
	Text      string
}

// Validate checks struct tags and folds validator failures into ErrValidation.
func Validate(cmd any) error {
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return nil
}
