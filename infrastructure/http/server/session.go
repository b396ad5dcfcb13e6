package server

import (
	"chat-hub/domain/chat"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/services"
	"chat-hub/sink"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	frameSubscribe     = "subscribe"
	frameUnsubscribe   = "unsubscribe"
	frameTypingStart   = "typing_start"
	frameTypingStop    = "typing_stop"
	frameSendMessage   = "send_message"
	frameEditMessage   = "edit_message"
	frameDeleteMessage = "delete_message"
	frameReadMessages  = "read_messages"
	framePing          = "ping"

	replyAck   = "ack"
	replyError = "error"
	replyPong  = "pong"
)

// inboundFrame is every client frame; fields unused by a type are ignored.
type inboundFrame struct {
	Type       string   `json:"type"`
	Ref        string   `json:"ref,omitempty"`
	ChatID     string   `json:"chatId,omitempty"`
	MessageID  string   `json:"messageId,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty"`
	Text       string   `json:"text,omitempty"`
	FileURL    string   `json:"fileUrl,omitempty"`
	FileType   string   `json:"fileType,omitempty"`
	MimeType   string   `json:"mimeType,omitempty"`
}

type replyFrame struct {
	Type    string     `json:"type"`
	Ref     string     `json:"ref,omitempty"`
	Payload any        `json:"payload,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type readReply struct {
	Read []string `json:"read"`
}

// Session is the explicit state of one websocket connection.
type Session struct {
	id          string
	userID      string
	conn        *websocket.Conn
	chatService services.IChatService
	sink        *sink.ConnectionSink
	replies     chan replyFrame
	limiter     *rate.Limiter
	settings    Settings
	log         *slog.Logger
}

func newSession(conn *websocket.Conn, userID string, chatService services.IChatService, settings Settings, log *slog.Logger) *Session {
	id := uuid.NewString()
	burst := settings.InboundBurst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if settings.InboundRate > 0 {
		limit = rate.Limit(settings.InboundRate)
	}
	return &Session{
		id:          id,
		userID:      userID,
		conn:        conn,
		chatService: chatService,
		sink:        sink.NewConnectionSink(settings.ConnectionBufferSize),
		replies:     make(chan replyFrame, max(settings.ConnectionBufferSize, 1)),
		limiter:     rate.NewLimiter(limit, burst),
		settings:    settings,
		log:         log.With("connection_id", id, "user_id", userID),
	}
}

func (s *ChatServer) serveSession(conn *websocket.Conn) {
	userID, _ := conn.Locals(userIDKey).(string)
	newSession(conn, userID, s.chatService, s.settings, s.log).run()
}

// run blocks until the socket fails or the sink is closed. The connection is
// detached from the bus before the handler hands the socket back.
func (s *Session) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.chatService.Attach(ctx, s.id, s.userID, s.sink)
	s.log.Info("Session opened")

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writePump(ctx)
	}()
	s.readPump(ctx)

	s.chatService.Detach(s.id)
	s.sink.Close(nil)
	cancel()
	<-written
	s.log.Info("Session closed", "reason", s.sink.Reason())
}

func (s *Session) readPump(ctx context.Context) {
	if s.settings.MaxFrameSize > 0 {
		s.conn.SetReadLimit(s.settings.MaxFrameSize)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.chatService.Touch(ctx, s.userID)
		return s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
	})

	for {
		var frame inboundFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Websocket read failed", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.settings.PongWait))
		s.handle(ctx, frame)
	}
}

func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.settings.PingPeriod)
	defer ticker.Stop()
	defer func() { _ = s.conn.Close() }()

	for {
		select {
		case e := <-s.sink.Events():
			if err := s.write(event.ToEnvelope(e)); err != nil {
				s.log.Warn("Websocket write failed", "error", err)
				return
			}
		case reply := <-s.replies:
			if err := s.write(reply); err != nil {
				s.log.Warn("Websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.sink.Done():
			if reason := s.sink.Reason(); reason != nil {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason.Error()))
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) write(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.settings.WriteWait))
	return s.conn.WriteJSON(v)
}

// handle dispatches one frame. Every accepted frame counts as activity.
// Frames that change the ledger or the subscriptions are answered with ack
// or error; typing frames never are.
func (s *Session) handle(ctx context.Context, f inboundFrame) {
	if !s.limiter.Allow() {
		if durable(f.Type) {
			s.reply(f, nil, fmt.Errorf("%w: too many frames", errors.ErrRateLimited))
		}
		return
	}
	s.chatService.Touch(ctx, s.userID)

	switch f.Type {
	case frameSubscribe:
		s.reply(f, nil, s.chatService.Subscribe(ctx, s.id, f.ChatID))
	case frameUnsubscribe:
		s.chatService.Unsubscribe(s.id, f.ChatID)
		s.reply(f, nil, nil)
	case frameTypingStart:
		if err := s.chatService.StartTyping(ctx, f.ChatID, s.userID); err != nil {
			s.log.Debug("Typing start rejected", "conversation_id", f.ChatID, "error", err)
		}
	case frameTypingStop:
		if err := s.chatService.StopTyping(ctx, f.ChatID, s.userID); err != nil {
			s.log.Debug("Typing stop rejected", "conversation_id", f.ChatID, "error", err)
		}
	case frameSendMessage:
		msg, err := s.chatService.SendMessage(ctx, chat.PostMessageCommand{
			ConversationID: f.ChatID,
			SenderID:       s.userID,
			Content:        toContent(f.Text, f.FileURL, f.FileType, f.MimeType),
		})
		s.replyMessage(f, msg, err)
	case frameEditMessage:
		msg, err := s.chatService.EditMessage(ctx, chat.EditMessageCommand{
			MessageID: f.MessageID,
			ActorID:   s.userID,
			Text:      f.Text,
		})
		s.replyMessage(f, msg, err)
	case frameDeleteMessage:
		msg, err := s.chatService.DeleteMessage(ctx, f.MessageID, s.userID)
		s.replyMessage(f, msg, err)
	case frameReadMessages:
		ids := f.MessageIDs
		if len(ids) == 0 && f.MessageID != "" {
			ids = []string{f.MessageID}
		}
		read, err := s.chatService.ReadMany(ctx, s.userID, ids)
		reply := readReply{Read: make([]string, 0, len(read))}
		for _, m := range read {
			reply.Read = append(reply.Read, m.ID)
		}
		s.reply(f, reply, err)
	case framePing:
		s.push(replyFrame{Type: replyPong, Ref: f.Ref})
	default:
		s.reply(f, nil, fmt.Errorf("%w: unknown frame type %q", errors.ErrValidation, f.Type))
	}
}

func (s *Session) replyMessage(f inboundFrame, msg chat.Message, err error) {
	if err != nil {
		s.reply(f, nil, err)
		return
	}
	s.reply(f, chat.NewMessageView(msg), nil)
}

func (s *Session) reply(f inboundFrame, payload any, err error) {
	if err != nil {
		s.push(replyFrame{
			Type:  replyError,
			Ref:   f.Ref,
			Error: &ErrorBody{Kind: errors.KindOf(err), Message: err.Error()},
		})
		return
	}
	s.push(replyFrame{Type: replyAck, Ref: f.Ref, Payload: payload})
}

// push never blocks the reader; a client that stops draining replies is dropped.
func (s *Session) push(r replyFrame) {
	select {
	case s.replies <- r:
	default:
		s.sink.Close(errors.ErrSlowConsumer)
	}
}

func durable(frameType string) bool {
	return frameType != frameTypingStart && frameType != frameTypingStop
}
