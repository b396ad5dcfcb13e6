package services

import (
	"chat-hub/domain/chat"
	"chat-hub/errors"
	"chat-hub/infrastructure/storage"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newDirectory(t *testing.T) (*Directory, *badger.DB) {
	t.Helper()
	db := openDB(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewDirectory(log, storage.NewConversationRepository(db, log)), db
}

func newGroup(t *testing.T, d *Directory, creator string, members ...string) chat.Conversation {
	t.Helper()
	conv, err := d.CreateGroup(context.Background(), chat.CreateGroupCommand{
		CreatorID: creator,
		Name:      "team",
		MemberIDs: members,
	})
	require.NoError(t, err)
	return conv
}

func TestDirectory_CreateDirect_Is_Idempotent_Per_Pair(t *testing.T) {
	req := require.New(t)
	d, _ := newDirectory(t)
	ctx := context.Background()

	// Given alice opened a conversation with bob
	first, created, err := d.CreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	req.True(created)

	// When bob opens one with alice
	second, created, err := d.CreateDirect(ctx, "bob", "alice")

	// Then the same conversation comes back
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, second.ID)
	req.ElementsMatch([]string{"alice", "bob"}, second.Participants)
	req.Empty(second.Admins)
}

func TestDirectory_CreateDirect_Concurrent_Both_Directions(t *testing.T) {
	req := require.New(t)
	d, _ := newDirectory(t)
	ctx := context.Background()

	ids := make(chan string, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, _, err := d.CreateDirect(ctx, a, b)
			req.NoError(err)
			ids <- conv.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	req.Len(seen, 1)

	listed, err := d.ListForUser(ctx, "alice")
	req.NoError(err)
	req.Len(listed, 1)
}

func TestDirectory_CreateDirect_Rejects_Self(t *testing.T) {
	req := require.New(t)
	d, _ := newDirectory(t)

	_, _, err := d.CreateDirect(context.Background(), "alice", "alice")

	req.ErrorIs(err, errors.ErrValidation)
}

func TestDirectory_CreateGroup_Validation(t *testing.T) {
	req := require.New(t)
	d, _ := newDirectory(t)
	ctx := context.Background()

	// Too few distinct users
	_, err := d.CreateGroup(ctx, chat.CreateGroupCommand{CreatorID: "alice", Name: "x", MemberIDs: []string{"bob", "bob", "alice"}})
	req.ErrorIs(err, errors.ErrValidation)

	// Blank name
	_, err = d.CreateGroup(ctx, chat.CreateGroupCommand{CreatorID: "alice", Name: "   ", MemberIDs: []string{"bob", "clara"}})
	req.ErrorIs(err, errors.ErrValidation)

	// Creator is the sole admin
	conv := newGroup(t, d, "alice", "bob", "clara")
	req.Equal([]string{"alice"}, conv.Admins)
	req.Len(conv.Participants, 3)
}

func TestDirectory_AddMember_Admin_Only_And_Idempotent(t *testing.T) {
	req := require.New(t)
	d, _ := newDirectory(t)
	ctx := context.Background()
	conv := newGroup(t, d, "alice", "bob", "clara")

	// When a non admin adds someone
	_, err := d.AddMember(ctx, conv.ID, "bob", "dave")
	req.ErrorIs(err, errors.ErrAuthorization)

	// When the admin adds dave twice
	_, err = d.AddMember(ctx, conv.ID, "alice", "dave")
	req.NoError(err)
	updated, err := d.AddMember(ctx, conv.ID, "alice", "dave")
	req.NoError(err)

	// Then dave is a member once
	req.Len(updated.Participants, 4)
	member, err := d.IsMember(ctx, conv.ID, "dave")
	req.NoError(err)
	req.True(member)
}

func TestDirectory_RemoveMember_Rules(t *testing.T) {
	req := require.New(t)
	d, _ := newDirectory(t)
	ctx := context.Background()
	conv := newGroup(t, d, "alice", "bob", "clara")

	// A non admin cannot remove others
	_, err := d.RemoveMember(ctx, conv.ID, "bob", "clara")
	req.ErrorIs(err, errors.ErrAuthorization)

	// But can leave
	updated, err := d.RemoveMember(ctx, conv.ID, "bob", "bob")
	req.NoError(err)
	req.False(updated.IsMember("bob"))

	// Removing an absent user changes nothing
	_, err = d.RemoveMember(ctx, conv.ID, "alice", "bob")
	req.NoError(err)

	// The last admin cannot leave
	_, err = d.RemoveMember(ctx, conv.ID, "alice", "alice")
	req.ErrorIs(err, errors.ErrConflict)

	// Direct conversations have fixed membership
	direct, _, err := d.CreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	_, err = d.RemoveMember(ctx, direct.ID, "alice", "bob")
	req.ErrorIs(err, errors.ErrConflict)
}

func TestDirectory_Promote_And_Demote(t *testing.T) {
	req := require.New(t)
	d, _ := newDirectory(t)
	ctx := context.Background()
	conv := newGroup(t, d, "alice", "bob", "clara")

	// Promoting a stranger is a conflict
	_, err := d.PromoteAdmin(ctx, conv.ID, "alice", "mallory")
	req.ErrorIs(err, errors.ErrConflict)

	// Demoting the only admin is a conflict
	_, err = d.DemoteAdmin(ctx, conv.ID, "alice", "alice")
	req.ErrorIs(err, errors.ErrConflict)

	// With two admins one can step down
	_, err = d.PromoteAdmin(ctx, conv.ID, "alice", "bob")
	req.NoError(err)
	updated, err := d.DemoteAdmin(ctx, conv.ID, "bob", "alice")
	req.NoError(err)
	req.Equal([]string{"bob"}, updated.Admins)

	// And the removed admin lost its rights
	_, err = d.AddMember(ctx, conv.ID, "alice", "dave")
	req.ErrorIs(err, errors.ErrAuthorization)
}

func TestDirectory_UpdateGroup(t *testing.T) {
	req := require.New(t)
	d, _ := newDirectory(t)
	ctx := context.Background()
	conv := newGroup(t, d, "alice", "bob", "clara")
	name, icon, blank := "renamed", "https://cdn/icon.png", " "

	_, err := d.UpdateGroup(ctx, conv.ID, "bob", chat.GroupUpdate{DisplayName: &name})
	req.ErrorIs(err, errors.ErrAuthorization)

	_, err = d.UpdateGroup(ctx, conv.ID, "alice", chat.GroupUpdate{DisplayName: &blank})
	req.ErrorIs(err, errors.ErrValidation)

	updated, err := d.UpdateGroup(ctx, conv.ID, "alice", chat.GroupUpdate{DisplayName: &name, Icon: &icon})
	req.NoError(err)
	req.Equal("renamed", updated.DisplayName)
	req.Equal(icon, updated.Icon)
}

func TestDirectory_Unknown_Conversation(t *testing.T) {
	req := require.New(t)
	d, _ := newDirectory(t)

	_, err := d.IsMember(context.Background(), "missing", "alice")

	req.ErrorIs(err, errors.ErrNotFound)
}
