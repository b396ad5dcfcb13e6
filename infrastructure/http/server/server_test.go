package server

import (
	"bytes"
	"chat-hub/auth"
	"chat-hub/domain/chat"
	"chat-hub/errors"
	"chat-hub/infrastructure/storage"
	"chat-hub/observability"
	"chat-hub/runtime"
	"chat-hub/services"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const testSecret = "a_long_enough_test_secret"

type harness struct {
	app      *fiber.App
	service  *services.ChatService
	resolver *auth.JWTResolver
	server   *ChatServer
}

func newHarness(t *testing.T) harness {
	t.Helper()
	return newClockedHarness(t, nil)
}

func newClockedHarness(t *testing.T, clock runtime.Clock) harness {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	metrics := observability.NewMetrics()
	directory := services.NewDirectory(log, storage.NewConversationRepository(db, log))
	ledger := services.NewLedger(log, storage.NewMessageRepository(db, log), directory, services.LedgerLimits{})
	registry := runtime.NewRegistry(log, directory, metrics)
	presence := runtime.NewRegister(time.Minute, time.Minute, clock)
	service := services.NewChatService(log, directory, ledger, registry, nil, presence, metrics)
	resolver := auth.NewJWTResolver(testSecret, "chat-hub")

	server := NewChatServer(log, service, resolver, metrics, observability.NewMonitoringManager(log), Settings{
		ConnectionBufferSize: 16,
		InboundRate:          100,
		InboundBurst:         100,
	})
	return harness{app: server.App(), service: service, resolver: resolver, server: server}
}

func (h harness) do(t *testing.T, method, path, userID string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if userID != "" {
		token, err := h.resolver.GenerateToken(userID, time.Minute)
		require.NoError(t, err)
		r.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := h.app.Test(r, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestChatServer_Rejects_Missing_Token(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/api/chats", "", nil)

	req.Equal(http.StatusUnauthorized, status)
	req.Equal(errors.KindUnauthenticated, decode[ErrorBody](t, body).Kind)
}

func TestChatServer_Direct_Conversation_Flow(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	// Given alice opens a direct conversation with bob twice
	status, body := h.do(t, http.MethodPost, "/api/chats/one-to-one", "alice", userRequest{UserID: "bob"})
	req.Equal(http.StatusCreated, status)
	conv := decode[chat.ConversationView](t, body)
	req.False(conv.IsGroupChat)
	req.ElementsMatch([]string{"alice", "bob"}, conv.Users)

	status, body = h.do(t, http.MethodPost, "/api/chats/one-to-one", "bob", userRequest{UserID: "alice"})
	req.Equal(http.StatusOK, status)
	req.Equal(conv.ID, decode[chat.ConversationView](t, body).ID)

	// When three messages are sent
	for _, text := range []string{"hi", "hey", "how are you?"} {
		status, _ = h.do(t, http.MethodPost, "/api/messages", "alice", sendMessageRequest{ChatID: conv.ID, Text: text})
		req.Equal(http.StatusCreated, status)
	}

	// Then history pages through them in order
	status, body = h.do(t, http.MethodGet, "/api/messages/"+conv.ID+"?limit=2", "bob", nil)
	req.Equal(http.StatusOK, status)
	page := decode[chat.PageView](t, body)
	req.Len(page.Messages, 2)
	req.True(page.HasMore)
	req.Equal(uint64(1), page.Messages[0].Sequence)

	status, body = h.do(t, http.MethodGet, "/api/messages/"+conv.ID+"?limit=2&cursor="+page.NextCursor, "bob", nil)
	req.Equal(http.StatusOK, status)
	page = decode[chat.PageView](t, body)
	req.Len(page.Messages, 1)
	req.False(page.HasMore)
	req.Equal("how are you?", page.Messages[0].Text)

	// And an outsider is refused
	status, body = h.do(t, http.MethodGet, "/api/messages/"+conv.ID, "mallory", nil)
	req.Equal(http.StatusForbidden, status)
	req.Equal(errors.KindAuthorization, decode[ErrorBody](t, body).Kind)
}

func TestChatServer_Group_Administration(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/api/chats/group", "alice", createGroupRequest{
		ChatName: "Trip",
		Users:    []string{"bob", "carol"},
	})
	req.Equal(http.StatusCreated, status)
	group := decode[chat.ConversationView](t, body)
	req.Equal([]string{"alice"}, group.GroupAdmins)

	// A non admin cannot add members
	status, _ = h.do(t, http.MethodPost, "/api/chats/"+group.ID+"/add-user", "bob", userRequest{UserID: "dave"})
	req.Equal(http.StatusForbidden, status)

	status, body = h.do(t, http.MethodPost, "/api/chats/"+group.ID+"/add-user", "alice", userRequest{UserID: "dave"})
	req.Equal(http.StatusOK, status)
	req.Contains(decode[chat.ConversationView](t, body).Users, "dave")

	// The last admin cannot step down
	status, body = h.do(t, http.MethodDelete, "/api/chats/"+group.ID+"/admins/alice", "alice", nil)
	req.Equal(http.StatusConflict, status)
	req.Equal(errors.KindConflict, decode[ErrorBody](t, body).Kind)

	name := "Summer trip"
	status, body = h.do(t, http.MethodPut, "/api/chats/"+group.ID, "alice", updateGroupRequest{ChatName: &name})
	req.Equal(http.StatusOK, status)
	req.Equal("Summer trip", decode[chat.ConversationView](t, body).ChatName)

	status, body = h.do(t, http.MethodGet, "/api/chats", "dave", nil)
	req.Equal(http.StatusOK, status)
	req.Len(decode[[]chat.ConversationView](t, body), 1)
}

func TestChatServer_Message_Lifecycle(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	conv, _, err := h.service.CreateDirect(context.Background(), "alice", "bob")
	req.NoError(err)

	status, body := h.do(t, http.MethodPost, "/api/messages", "alice", sendMessageRequest{ChatID: conv.ID, Text: "helo"})
	req.Equal(http.StatusCreated, status)
	msg := decode[chat.MessageView](t, body)

	// Only the sender edits
	status, _ = h.do(t, http.MethodPut, "/api/messages/"+msg.ID, "bob", editMessageRequest{Text: "hijack"})
	req.Equal(http.StatusForbidden, status)
	status, body = h.do(t, http.MethodPut, "/api/messages/"+msg.ID, "alice", editMessageRequest{Text: "hello"})
	req.Equal(http.StatusOK, status)
	edited := decode[chat.MessageView](t, body)
	req.True(edited.Edited)
	req.Equal("hello", edited.Text)

	status, body = h.do(t, http.MethodPost, "/api/messages/"+msg.ID+"/read", "bob", nil)
	req.Equal(http.StatusOK, status)
	req.Len(decode[chat.MessageView](t, body).ReadBy, 1)

	status, body = h.do(t, http.MethodDelete, "/api/messages/"+msg.ID, "alice", nil)
	req.Equal(http.StatusOK, status)
	deleted := decode[chat.MessageView](t, body)
	req.True(deleted.Deleted)
	req.Empty(deleted.Text)

	// Empty text is a validation error
	status, body = h.do(t, http.MethodPost, "/api/messages", "alice", sendMessageRequest{ChatID: conv.ID, Text: "  "})
	req.Equal(http.StatusBadRequest, status)
	req.Equal(errors.KindValidation, decode[ErrorBody](t, body).Kind)
}

func TestChatServer_Presence_Health_Metrics(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/api/presence/bob", "alice", nil)
	req.Equal(http.StatusOK, status)
	offline := decode[presenceResponse](t, body)
	req.False(offline.IsOnline)
	req.Nil(offline.LastActiveAt)

	h.service.Touch(context.Background(), "bob")
	_, body = h.do(t, http.MethodGet, "/api/presence/bob", "alice", nil)
	req.True(decode[presenceResponse](t, body).IsOnline)

	status, _ = h.do(t, http.MethodGet, "/health", "", nil)
	req.Equal(http.StatusOK, status)

	status, body = h.do(t, http.MethodGet, "/metrics", "", nil)
	req.Equal(http.StatusOK, status)
	req.True(strings.Contains(string(body), "chathub_http_requests_total"))
}

func TestChatServer_Websocket_Requires_Upgrade(t *testing.T) {
	h := newHarness(t)
	status, _ := h.do(t, http.MethodGet, "/ws", "alice", nil)
	require.Equal(t, http.StatusUpgradeRequired, status)
}
