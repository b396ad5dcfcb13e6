package services

import (
	"chat-hub/domain/chat"
	"chat-hub/errors"
	"chat-hub/infrastructure/storage"
	"chat-hub/mocks"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newLedger(t *testing.T, limits LedgerLimits) (*Ledger, *Directory) {
	t.Helper()
	d, db := newDirectory(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewLedger(log, storage.NewMessageRepository(db, log), d, limits), d
}

func post(conversationID, sender, text string) chat.PostMessageCommand {
	return chat.PostMessageCommand{ConversationID: conversationID, SenderID: sender, Content: chat.TextContent{Text: text}}
}

func TestLedger_Append_Sequences_Under_Concurrency(t *testing.T) {
	req := require.New(t)
	ledger, d := newLedger(t, LedgerLimits{})
	conv := newGroup(t, d, "alice", "bob", "clara")
	ctx := context.Background()

	senders := []string{"alice", "bob", "clara"}
	sequences := make(chan uint64, 30)
	var wg sync.WaitGroup
	for _, sender := range senders {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				msg, err := ledger.Append(ctx, post(conv.ID, sender, fmt.Sprintf("%s-%d", sender, i)))
				req.NoError(err)
				sequences <- msg.Sequence
			}
		}(sender)
	}
	wg.Wait()
	close(sequences)

	// Then sequences are exactly 1..30
	var got []int
	for s := range sequences {
		got = append(got, int(s))
	}
	sort.Ints(got)
	for i, s := range got {
		req.Equal(i+1, s)
	}

	// And the conversation points at the last commit
	updated, err := d.Get(ctx, conv.ID)
	req.NoError(err)
	last, err := ledger.Page(ctx, conv.ID, EncodeCursor(conv.ID, 29), 10)
	req.NoError(err)
	req.Len(last.Messages, 1)
	req.Equal(last.Messages[0].ID, updated.LatestMessageRef)
}

func TestLedger_Append_Rejections(t *testing.T) {
	req := require.New(t)
	ledger, d := newLedger(t, LedgerLimits{MaxContentLength: 5})
	conv := newGroup(t, d, "alice", "bob", "clara")
	ctx := context.Background()

	_, err := ledger.Append(ctx, post(conv.ID, "mallory", "hi"))
	req.ErrorIs(err, errors.ErrAuthorization)

	_, err = ledger.Append(ctx, post(conv.ID, "alice", "   "))
	req.ErrorIs(err, errors.ErrValidation)

	_, err = ledger.Append(ctx, post(conv.ID, "alice", "too long"))
	req.ErrorIs(err, errors.ErrValidation)

	_, err = ledger.Append(ctx, chat.PostMessageCommand{
		ConversationID: conv.ID,
		SenderID:       "alice",
		Content:        chat.MediaContent{URL: "https://cdn/x", Kind: "sticker"},
	})
	req.ErrorIs(err, errors.ErrValidation)

	_, err = ledger.Append(ctx, post("missing", "alice", "hi"))
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestLedger_Page_Three_Messages_Limit_Two(t *testing.T) {
	req := require.New(t)
	ledger, d := newLedger(t, LedgerLimits{})
	conv := newGroup(t, d, "alice", "bob", "clara")
	ctx := context.Background()
	for _, text := range []string{"m1", "m2", "m3"} {
		_, err := ledger.Append(ctx, post(conv.ID, "alice", text))
		req.NoError(err)
	}

	// When the first page is read
	first, err := ledger.Page(ctx, conv.ID, "", 2)
	req.NoError(err)
	req.Equal([]uint64{1, 2}, sequencesOf(first.Messages))
	req.True(first.HasMore)

	// Then the next page finishes the history
	second, err := ledger.Page(ctx, conv.ID, first.NextCursor, 2)
	req.NoError(err)
	req.Equal([]uint64{3}, sequencesOf(second.Messages))
	req.False(second.HasMore)

	// And an exhausted cursor returns itself
	third, err := ledger.Page(ctx, conv.ID, second.NextCursor, 2)
	req.NoError(err)
	req.Empty(third.Messages)
	req.Equal(second.NextCursor, third.NextCursor)
}

func TestLedger_Page_Rejects_Foreign_Or_Malformed_Cursor(t *testing.T) {
	req := require.New(t)
	ledger, d := newLedger(t, LedgerLimits{})
	conv := newGroup(t, d, "alice", "bob", "clara")

	_, err := ledger.Page(context.Background(), conv.ID, EncodeCursor("other", 1), 10)
	req.ErrorIs(err, errors.ErrValidation)

	_, err = ledger.Page(context.Background(), conv.ID, "%%%", 10)
	req.ErrorIs(err, errors.ErrValidation)
}

func TestLedger_Page_Clamps_Limit(t *testing.T) {
	req := require.New(t)
	ledger, d := newLedger(t, LedgerLimits{DefaultPage: 2, MaxPage: 3})
	conv := newGroup(t, d, "alice", "bob", "clara")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := ledger.Append(ctx, post(conv.ID, "bob", "x"))
		req.NoError(err)
	}

	page, err := ledger.Page(ctx, conv.ID, "", 0)
	req.NoError(err)
	req.Len(page.Messages, 2)

	page, err = ledger.Page(ctx, conv.ID, "", 100)
	req.NoError(err)
	req.Len(page.Messages, 3)
}

func TestLedger_MarkRead_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	ledger, d := newLedger(t, LedgerLimits{})
	conv := newGroup(t, d, "alice", "bob", "clara")
	ctx := context.Background()
	msg, err := ledger.Append(ctx, post(conv.ID, "alice", "hello"))
	req.NoError(err)

	_, added, err := ledger.MarkRead(ctx, msg.ID, "bob")
	req.NoError(err)
	req.True(added)
	read, added, err := ledger.MarkRead(ctx, msg.ID, "bob")
	req.NoError(err)
	req.False(added)
	req.Len(read.ReadBy, 1)

	_, _, err = ledger.MarkRead(ctx, msg.ID, "mallory")
	req.ErrorIs(err, errors.ErrAuthorization)

	_, _, err = ledger.MarkRead(ctx, "missing", "bob")
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestLedger_Edit_And_Delete_Authorization(t *testing.T) {
	req := require.New(t)
	ledger, d := newLedger(t, LedgerLimits{})
	conv := newGroup(t, d, "alice", "bob", "clara")
	ctx := context.Background()
	msg, err := ledger.Append(ctx, post(conv.ID, "alice", "helo"))
	req.NoError(err)

	// Only the sender edits
	_, err = ledger.Edit(ctx, chat.EditMessageCommand{MessageID: msg.ID, ActorID: "bob", Text: "x"})
	req.ErrorIs(err, errors.ErrAuthorization)
	_, err = ledger.Edit(ctx, chat.EditMessageCommand{MessageID: msg.ID, ActorID: "alice", Text: " "})
	req.ErrorIs(err, errors.ErrValidation)
	edited, err := ledger.Edit(ctx, chat.EditMessageCommand{MessageID: msg.ID, ActorID: "alice", Text: "hello"})
	req.NoError(err)
	req.True(edited.Edited)
	req.Equal("hello", edited.Text())

	// Only the sender deletes
	_, _, err = ledger.SoftDelete(ctx, msg.ID, "bob")
	req.ErrorIs(err, errors.ErrAuthorization)
	deleted, changed, err := ledger.SoftDelete(ctx, msg.ID, "alice")
	req.NoError(err)
	req.True(changed)
	req.Nil(deleted.Content)

	// Deleting twice is fine, editing a tombstone is not
	_, changed, err = ledger.SoftDelete(ctx, msg.ID, "alice")
	req.NoError(err)
	req.False(changed)
	_, err = ledger.Edit(ctx, chat.EditMessageCommand{MessageID: msg.ID, ActorID: "alice", Text: "back"})
	req.ErrorIs(err, errors.ErrConflict)
}

func TestLedger_Former_Member_Cannot_Edit_Or_Delete(t *testing.T) {
	req := require.New(t)
	ledger, d := newLedger(t, LedgerLimits{})
	conv := newGroup(t, d, "alice", "bob", "clara", "dave")
	ctx := context.Background()
	msg, err := ledger.Append(ctx, post(conv.ID, "bob", "bye soon"))
	req.NoError(err)

	// Given bob has left the group
	_, err = d.RemoveMember(ctx, conv.ID, "bob", "bob")
	req.NoError(err)

	// When he tries to change his own message
	_, err = ledger.Edit(ctx, chat.EditMessageCommand{MessageID: msg.ID, ActorID: "bob", Text: "changed"})
	req.ErrorIs(err, errors.ErrAuthorization)
	_, _, err = ledger.SoftDelete(ctx, msg.ID, "bob")
	req.ErrorIs(err, errors.ErrAuthorization)

	// Then the message is untouched
	stored, err := ledger.Get(ctx, msg.ID)
	req.NoError(err)
	req.False(stored.Deleted)
	req.Equal("bye soon", stored.Text())
}

func TestLedger_Edit_Rejects_Media(t *testing.T) {
	req := require.New(t)
	ledger, d := newLedger(t, LedgerLimits{})
	conv := newGroup(t, d, "alice", "bob", "clara")
	ctx := context.Background()
	msg, err := ledger.Append(ctx, chat.PostMessageCommand{
		ConversationID: conv.ID,
		SenderID:       "alice",
		Content:        chat.NewMediaContent("https://cdn/cat.png", "", "image/png", ""),
	})
	req.NoError(err)

	_, err = ledger.Edit(ctx, chat.EditMessageCommand{MessageID: msg.ID, ActorID: "alice", Text: "caption"})

	req.ErrorIs(err, errors.ErrValidation)
}

func TestLedger_Page_Keeps_Tombstones(t *testing.T) {
	req := require.New(t)
	ledger, d := newLedger(t, LedgerLimits{})
	conv := newGroup(t, d, "alice", "bob", "clara")
	ctx := context.Background()
	var ids []string
	for _, text := range []string{"a", "b", "c"} {
		msg, err := ledger.Append(ctx, post(conv.ID, "alice", text))
		req.NoError(err)
		ids = append(ids, msg.ID)
	}
	_, _, err := ledger.SoftDelete(ctx, ids[1], "alice")
	req.NoError(err)

	page, err := ledger.Page(ctx, conv.ID, "", 10)

	req.NoError(err)
	req.Equal([]uint64{1, 2, 3}, sequencesOf(page.Messages))
	req.True(page.Messages[1].Deleted)
	req.Nil(page.Messages[1].Content)
}

func TestLedger_Storage_Failure_Is_Returned(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockIMessageRepository(ctrl)
	members := mocks.NewMockMembershipChecker(ctrl)
	ledger := NewLedger(slog.Default(), repo, members, LedgerLimits{})

	// Given a store that fails on append
	members.EXPECT().IsMember(gomock.Any(), "c1", "alice").Return(true, nil)
	repo.EXPECT().Append("c1", gomock.Any()).Return(chat.Message{}, fmt.Errorf("disk full"))

	_, err := ledger.Append(context.Background(), post("c1", "alice", "hi"))

	req.Error(err)
	req.True(strings.Contains(err.Error(), "disk full"))
}

func sequencesOf(messages []chat.Message) []uint64 {
	out := make([]uint64, len(messages))
	for i, m := range messages {
		out[i] = m.Sequence
	}
	return out
}
