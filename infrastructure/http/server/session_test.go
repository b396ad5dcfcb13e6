package server

import (
	"chat-hub/domain/chat"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func (h harness) session(userID string, settings Settings) *Session {
	s := newSession(nil, userID, h.service, settings.withDefaults(), slog.Default())
	h.service.Attach(context.Background(), s.id, userID, s.sink)
	return s
}

func nextReply(t *testing.T, s *Session) replyFrame {
	t.Helper()
	select {
	case r := <-s.replies:
		return r
	default:
		require.FailNow(t, "no reply queued")
		return replyFrame{}
	}
}

func TestSession_Send_Message_Is_Acked_And_Delivered(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	conv, _, err := h.service.CreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	alice := h.session("alice", h.server.settings)
	bob := h.session("bob", h.server.settings)

	// Given both sockets subscribed
	alice.handle(ctx, inboundFrame{Type: frameSubscribe, Ref: "1", ChatID: conv.ID})
	bob.handle(ctx, inboundFrame{Type: frameSubscribe, Ref: "1", ChatID: conv.ID})
	req.Equal(replyAck, nextReply(t, alice).Type)
	req.Equal(replyAck, nextReply(t, bob).Type)

	// When alice sends a message
	alice.handle(ctx, inboundFrame{Type: frameSendMessage, Ref: "2", ChatID: conv.ID, Text: "hello"})

	// Then she gets an ack with the committed message and bob gets the event
	reply := nextReply(t, alice)
	req.Equal(replyAck, reply.Type)
	req.Equal("2", reply.Ref)
	view, ok := reply.Payload.(chat.MessageView)
	req.True(ok)
	req.Equal(uint64(1), view.Sequence)

	e := <-bob.sink.Events()
	req.Equal(event.MessageCreated, e.Kind)
}

func TestSession_Rejections(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	conv, _, err := h.service.CreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	mallory := h.session("mallory", h.server.settings)

	// Subscribing to a foreign conversation is answered with an error
	mallory.handle(ctx, inboundFrame{Type: frameSubscribe, Ref: "1", ChatID: conv.ID})
	reply := nextReply(t, mallory)
	req.Equal(replyError, reply.Type)
	req.Equal("1", reply.Ref)
	req.Equal(errors.KindAuthorization, reply.Error.Kind)

	// A rejected typing frame gets no answer
	mallory.handle(ctx, inboundFrame{Type: frameTypingStart, ChatID: conv.ID})
	req.Empty(mallory.replies)

	mallory.handle(ctx, inboundFrame{Type: "shout", Ref: "2"})
	req.Equal(errors.KindValidation, nextReply(t, mallory).Error.Kind)

	mallory.handle(ctx, inboundFrame{Type: framePing, Ref: "3"})
	req.Equal(replyPong, nextReply(t, mallory).Type)
}

func TestSession_Read_Messages_In_Batch(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	conv, _, err := h.service.CreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	var ids []string
	for _, text := range []string{"one", "two"} {
		msg, err := h.service.SendMessage(ctx, chat.PostMessageCommand{
			ConversationID: conv.ID,
			SenderID:       "alice",
			Content:        chat.TextContent{Text: text},
		})
		req.NoError(err)
		ids = append(ids, msg.ID)
	}
	bob := h.session("bob", h.server.settings)

	bob.handle(ctx, inboundFrame{Type: frameReadMessages, Ref: "r", MessageIDs: append(ids, ids[0])})

	reply := nextReply(t, bob)
	req.Equal(replyAck, reply.Type)
	req.Equal(ids, reply.Payload.(readReply).Read)
}

func TestSession_Rate_Limit(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	s := h.session("alice", Settings{ConnectionBufferSize: 8, InboundRate: 0.001, InboundBurst: 1})

	s.handle(ctx, inboundFrame{Type: framePing, Ref: "1"})
	s.handle(ctx, inboundFrame{Type: framePing, Ref: "2"})
	s.handle(ctx, inboundFrame{Type: frameTypingStart, ChatID: "c1"})

	req.Equal(replyPong, nextReply(t, s).Type)
	limited := nextReply(t, s)
	req.Equal(replyError, limited.Type)
	req.Equal(errors.KindRateLimited, limited.Error.Kind)
	req.Empty(s.replies)
}

func TestSession_Slow_Reader_Is_Dropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.session("alice", Settings{ConnectionBufferSize: 1, InboundRate: 100, InboundBurst: 100})

	s.handle(ctx, inboundFrame{Type: framePing})
	s.handle(ctx, inboundFrame{Type: framePing})

	<-s.sink.Done()
	require.ErrorIs(t, s.sink.Reason(), errors.ErrSlowConsumer)
}

func TestSession_Any_Frame_Keeps_The_User_Online(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()
	h := newClockedHarness(t, func() time.Time { return now })
	ctx := context.Background()
	conv, _, err := h.service.CreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	msg, err := h.service.SendMessage(ctx, chat.PostMessageCommand{
		ConversationID: conv.ID,
		SenderID:       "bob",
		Content:        chat.TextContent{Text: "are you there?"},
	})
	req.NoError(err)

	// Given alice connected and only reads
	alice := h.session("alice", h.server.settings)
	now = now.Add(50 * time.Second)
	alice.handle(ctx, inboundFrame{Type: frameReadMessages, Ref: "r", MessageID: msg.ID})
	req.Equal(replyAck, nextReply(t, alice).Type)
	now = now.Add(50 * time.Second)
	alice.handle(ctx, inboundFrame{Type: frameSubscribe, Ref: "s", ChatID: conv.ID})
	req.Equal(replyAck, nextReply(t, alice).Type)

	// When more than a window has passed since she connected
	now = now.Add(50 * time.Second)

	// Then she is still online
	req.True(h.service.Presence("alice").Online)
}
