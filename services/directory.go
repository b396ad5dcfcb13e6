package services

import (
	"chat-hub/domain/chat"
	"chat-hub/errors"
	"chat-hub/infrastructure/storage"
	"chat-hub/runtime"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Directory owns conversation membership and administration.
type Directory struct {
	log   *slog.Logger
	repo  storage.IConversationRepository
	locks *runtime.KeyedMutex
	now   func() time.Time
}

func NewDirectory(log *slog.Logger, repo storage.IConversationRepository) *Directory {
	return &Directory{
		log:   log,
		repo:  repo,
		locks: runtime.NewKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateDirect returns the direct conversation of the pair, creating it on first call.
func (d *Directory) CreateDirect(_ context.Context, a, b string) (chat.Conversation, bool, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return chat.Conversation{}, false, fmt.Errorf("%w: direct conversation needs two users", errors.ErrValidation)
	}
	if a == b {
		return chat.Conversation{}, false, fmt.Errorf("%w: cannot open a direct conversation with yourself", errors.ErrValidation)
	}
	now := d.now()
	low, high := chat.DirectPair(a, b)
	conv, created, err := d.repo.CreateDirect(chat.Conversation{
		ID:             uuid.NewString(),
		Kind:           chat.KindDirect,
		Participants:   []string{low, high},
		CreatedAt:      now,
		LastActivityAt: now,
	})
	if err != nil {
		return chat.Conversation{}, false, err
	}
	if created {
		d.log.Debug("Direct conversation created", "conversation_id", conv.ID)
	}
	return conv, created, nil
}

func (d *Directory) CreateGroup(_ context.Context, cmd chat.CreateGroupCommand) (chat.Conversation, error) {
	cmd.Name = strings.TrimSpace(cmd.Name)
	if err := chat.Validate(cmd); err != nil {
		return chat.Conversation{}, err
	}
	participants := lo.Uniq(append([]string{cmd.CreatorID}, cmd.MemberIDs...))
	if len(participants) < chat.MinGroupSize {
		return chat.Conversation{}, fmt.Errorf("%w: a group needs at least %d distinct users", errors.ErrValidation, chat.MinGroupSize)
	}
	now := d.now()
	conv := chat.Conversation{
		ID:             uuid.NewString(),
		Kind:           chat.KindGroup,
		Participants:   participants,
		Admins:         []string{cmd.CreatorID},
		DisplayName:    cmd.Name,
		Description:    cmd.Description,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := d.repo.Create(conv); err != nil {
		return chat.Conversation{}, err
	}
	d.log.Debug("Group created", "conversation_id", conv.ID, "participants", len(participants))
	return conv, nil
}

// AddMember is admin only. Adding a present user changes nothing.
func (d *Directory) AddMember(_ context.Context, conversationID, actorID, userID string) (chat.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return chat.Conversation{}, fmt.Errorf("%w: user id is empty", errors.ErrValidation)
	}
	return d.mutate(conversationID, func(c *chat.Conversation) (bool, error) {
		if err := requireGroupAdmin(c, actorID); err != nil {
			return false, err
		}
		if c.IsMember(userID) {
			return false, nil
		}
		c.Participants = append(c.Participants, userID)
		return true, nil
	})
}

// RemoveMember is admin only, except a member removing themselves.
// The last admin cannot leave or be removed.
func (d *Directory) RemoveMember(_ context.Context, conversationID, actorID, userID string) (chat.Conversation, error) {
	return d.mutate(conversationID, func(c *chat.Conversation) (bool, error) {
		if !c.IsGroup() {
			return false, fmt.Errorf("%w: direct conversations have fixed membership", errors.ErrConflict)
		}
		if actorID != userID && !c.IsAdmin(actorID) {
			return false, fmt.Errorf("%w: only admins can remove members", errors.ErrAuthorization)
		}
		if actorID == userID && !c.IsMember(actorID) {
			return false, fmt.Errorf("%w: not a member", errors.ErrAuthorization)
		}
		if !c.IsMember(userID) {
			return false, nil
		}
		if c.IsAdmin(userID) && len(c.Admins) == 1 {
			return false, fmt.Errorf("%w: cannot remove the last admin", errors.ErrConflict)
		}
		c.Participants = lo.Without(c.Participants, userID)
		c.Admins = lo.Without(c.Admins, userID)
		return true, nil
	})
}

func (d *Directory) PromoteAdmin(_ context.Context, conversationID, actorID, userID string) (chat.Conversation, error) {
	return d.mutate(conversationID, func(c *chat.Conversation) (bool, error) {
		if err := requireGroupAdmin(c, actorID); err != nil {
			return false, err
		}
		if !c.IsMember(userID) {
			return false, fmt.Errorf("%w: only participants can be admins", errors.ErrConflict)
		}
		if c.IsAdmin(userID) {
			return false, nil
		}
		c.Admins = append(c.Admins, userID)
		return true, nil
	})
}

func (d *Directory) DemoteAdmin(_ context.Context, conversationID, actorID, userID string) (chat.Conversation, error) {
	return d.mutate(conversationID, func(c *chat.Conversation) (bool, error) {
		if err := requireGroupAdmin(c, actorID); err != nil {
			return false, err
		}
		if !c.IsAdmin(userID) {
			return false, nil
		}
		if len(c.Admins) == 1 {
			return false, fmt.Errorf("%w: cannot demote the last admin", errors.ErrConflict)
		}
		c.Admins = lo.Without(c.Admins, userID)
		return true, nil
	})
}

// UpdateGroup changes group metadata. Admin only.
func (d *Directory) UpdateGroup(_ context.Context, conversationID, actorID string, update chat.GroupUpdate) (chat.Conversation, error) {
	if update.DisplayName != nil && strings.TrimSpace(*update.DisplayName) == "" {
		return chat.Conversation{}, fmt.Errorf("%w: group name is empty", errors.ErrValidation)
	}
	return d.mutate(conversationID, func(c *chat.Conversation) (bool, error) {
		if err := requireGroupAdmin(c, actorID); err != nil {
			return false, err
		}
		before := *c
		if update.DisplayName != nil {
			c.DisplayName = strings.TrimSpace(*update.DisplayName)
		}
		if update.Description != nil {
			c.Description = *update.Description
		}
		if update.Icon != nil {
			c.Icon = *update.Icon
		}
		return before.DisplayName != c.DisplayName ||
			before.Description != c.Description ||
			before.Icon != c.Icon, nil
	})
}

func (d *Directory) IsMember(_ context.Context, conversationID, userID string) (bool, error) {
	conv, err := d.repo.Get(conversationID)
	if err != nil {
		return false, err
	}
	return conv.IsMember(userID), nil
}

func (d *Directory) IsAdmin(_ context.Context, conversationID, userID string) (bool, error) {
	conv, err := d.repo.Get(conversationID)
	if err != nil {
		return false, err
	}
	return conv.IsAdmin(userID), nil
}

func (d *Directory) Get(_ context.Context, conversationID string) (chat.Conversation, error) {
	return d.repo.Get(conversationID)
}

func (d *Directory) ListForUser(_ context.Context, userID string) ([]chat.Conversation, error) {
	return d.repo.ListForUser(userID)
}

func (d *Directory) mutate(conversationID string, fn func(c *chat.Conversation) (bool, error)) (chat.Conversation, error) {
	unlock := d.locks.Lock(conversationID)
	defer unlock()
	conv, err := d.repo.Mutate(conversationID, fn)
	if err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

func requireGroupAdmin(c *chat.Conversation, actorID string) error {
	if !c.IsGroup() {
		return fmt.Errorf("%w: direct conversations have fixed membership", errors.ErrConflict)
	}
	if !slices.Contains(c.Admins, actorID) {
		return fmt.Errorf("%w: admin rights required", errors.ErrAuthorization)
	}
	return nil
}
