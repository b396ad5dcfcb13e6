package storage

import (
	"chat-hub/domain/chat"
	"chat-hub/errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func directBetween(a, b string) chat.Conversation {
	now := time.Now().UTC()
	return chat.Conversation{
		ID:             uuid.NewString(),
		Kind:           chat.KindDirect,
		Participants:   []string{a, b},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func TestConversationRepository_CreateDirect_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())

	// Given a direct conversation between alice and bob
	first, created, err := repository.CreateDirect(directBetween("alice", "bob"))
	req.NoError(err)
	req.True(created)

	// When bob creates it from his side
	second, created, err := repository.CreateDirect(directBetween("bob", "alice"))

	// Then the existing one is returned
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, second.ID)
}

func TestConversationRepository_User_Ids_With_Colons_Do_Not_Collide(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())

	// Given a direct conversation between "a:b" and "c"
	first, created, err := repository.CreateDirect(directBetween("a:b", "c"))
	req.NoError(err)
	req.True(created)

	// When "a" opens a conversation with "b:c"
	second, created, err := repository.CreateDirect(directBetween("a", "b:c"))

	// Then it is a new conversation of its own
	req.NoError(err)
	req.True(created)
	req.NotEqual(first.ID, second.ID)
	req.ElementsMatch([]string{"a", "b:c"}, second.Participants)

	// And the membership index of "a" does not reach into the one of "a:b"
	list, err := repository.ListForUser("a")
	req.NoError(err)
	req.Len(list, 1)
	req.Equal(second.ID, list[0].ID)
	list, err = repository.ListForUser("a:b")
	req.NoError(err)
	req.Len(list, 1)
	req.Equal(first.ID, list[0].ID)
}

func TestConversationRepository_CreateDirect_Concurrent_Converges(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())

	const callers = 8
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, _, err := repository.CreateDirect(directBetween(a, b))
			if err == nil {
				ids <- conv.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	distinct := make(map[string]struct{})
	count := 0
	for id := range ids {
		distinct[id] = struct{}{}
		count++
	}
	req.Equal(callers, count)
	req.Len(distinct, 1)

	list, err := repository.ListForUser("alice")
	req.NoError(err)
	req.Len(list, 1)
}

func TestConversationRepository_Mutate_Maintains_Membership_Index(t *testing.T) {
	req := require.New(t)
	db := openDB(t)
	repository := NewConversationRepository(db, slog.Default())
	conv := seedConversation(t, db, "alice", "bob", "clara")

	// When clara leaves and dave joins
	_, err := repository.Mutate(conv.ID, func(c *chat.Conversation) (bool, error) {
		c.Participants = []string{"alice", "bob", "dave"}
		return true, nil
	})
	req.NoError(err)

	// Then the index follows
	clara, err := repository.ListForUser("clara")
	req.NoError(err)
	req.Empty(clara)
	dave, err := repository.ListForUser("dave")
	req.NoError(err)
	req.Len(dave, 1)
	req.Equal(conv.ID, dave[0].ID)
}

func TestConversationRepository_Mutate_Error_Leaves_Record_Untouched(t *testing.T) {
	req := require.New(t)
	db := openDB(t)
	repository := NewConversationRepository(db, slog.Default())
	conv := seedConversation(t, db, "alice", "bob", "clara")

	_, err := repository.Mutate(conv.ID, func(c *chat.Conversation) (bool, error) {
		c.Participants = nil
		return true, errors.ErrConflict
	})
	req.ErrorIs(err, errors.ErrConflict)

	stored, err := repository.Get(conv.ID)
	req.NoError(err)
	req.Len(stored.Participants, 3)
}

func TestConversationRepository_ListForUser_Orders_By_Activity(t *testing.T) {
	req := require.New(t)
	db := openDB(t)
	repository := NewConversationRepository(db, slog.Default())
	older := seedConversation(t, db, "alice", "bob", "clara")
	newer := seedConversation(t, db, "alice", "dave", "erin")

	_, err := repository.Mutate(older.ID, func(c *chat.Conversation) (bool, error) {
		c.LastActivityAt = newer.LastActivityAt.Add(time.Minute)
		return true, nil
	})
	req.NoError(err)

	list, err := repository.ListForUser("alice")
	req.NoError(err)
	req.Len(list, 2)
	req.Equal(older.ID, list[0].ID)
	req.Equal(newer.ID, list[1].ID)
}

func TestConversationRepository_Get_Unknown(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())

	_, err := repository.Get("missing")
	req.ErrorIs(err, errors.ErrNotFound)

	_, err = repository.Mutate("missing", func(*chat.Conversation) (bool, error) { return false, nil })
	req.ErrorIs(err, errors.ErrNotFound)
}
