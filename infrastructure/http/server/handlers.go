package server

import (
	"chat-hub/domain/chat"
	"chat-hub/errors"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

type userRequest struct {
	UserID string `json:"userId"`
}

type createGroupRequest struct {
	ChatName    string   `json:"chatName"`
	Users       []string `json:"users"`
	Description string   `json:"description"`
}

type updateGroupRequest struct {
	ChatName    *string `json:"chatName"`
	Description *string `json:"description"`
	GroupIcon   *string `json:"groupIcon"`
}

type sendMessageRequest struct {
	ChatID   string `json:"chatId"`
	Text     string `json:"text"`
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
	MimeType string `json:"mimeType"`
}

type editMessageRequest struct {
	Text string `json:"text"`
}

type presenceResponse struct {
	UserID       string     `json:"userId"`
	IsOnline     bool       `json:"isOnline"`
	LastActiveAt *time.Time `json:"lastActiveAt"`
}

func (s *ChatServer) listChats(c *fiber.Ctx) error {
	conversations, err := s.chatService.Conversations(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(lo.Map(conversations, func(conv chat.Conversation, _ int) chat.ConversationView {
		return chat.NewConversationView(conv)
	}))
}

func (s *ChatServer) getChat(c *fiber.Ctx) error {
	conv, err := s.chatService.Conversation(c.UserContext(), c.Params("chatId"), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(chat.NewConversationView(conv))
}

// createDirect answers 201 when the pair is new and 200 when it already existed.
func (s *ChatServer) createDirect(c *fiber.Ctx) error {
	var body userRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	conv, created, err := s.chatService.CreateDirect(c.UserContext(), currentUser(c), body.UserID)
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(chat.NewConversationView(conv))
}

func (s *ChatServer) createGroup(c *fiber.Ctx) error {
	var body createGroupRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	conv, err := s.chatService.CreateGroup(c.UserContext(), chat.CreateGroupCommand{
		CreatorID:   currentUser(c),
		Name:        body.ChatName,
		MemberIDs:   body.Users,
		Description: body.Description,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(chat.NewConversationView(conv))
}

func (s *ChatServer) updateGroup(c *fiber.Ctx) error {
	var body updateGroupRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	conv, err := s.chatService.UpdateGroup(c.UserContext(), c.Params("chatId"), currentUser(c), chat.GroupUpdate{
		DisplayName: body.ChatName,
		Description: body.Description,
		Icon:        body.GroupIcon,
	})
	if err != nil {
		return err
	}
	return c.JSON(chat.NewConversationView(conv))
}

func (s *ChatServer) addUser(c *fiber.Ctx) error {
	return s.membership(c, s.chatService.AddMember)
}

func (s *ChatServer) removeUser(c *fiber.Ctx) error {
	return s.membership(c, s.chatService.RemoveMember)
}

func (s *ChatServer) promoteAdmin(c *fiber.Ctx) error {
	return s.membership(c, s.chatService.PromoteAdmin)
}

func (s *ChatServer) demoteAdmin(c *fiber.Ctx) error {
	conv, err := s.chatService.DemoteAdmin(c.UserContext(), c.Params("chatId"), currentUser(c), c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(chat.NewConversationView(conv))
}

type membershipChange func(ctx context.Context, conversationID, actorID, userID string) (chat.Conversation, error)

func (s *ChatServer) membership(c *fiber.Ctx, change membershipChange) error {
	var body userRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	conv, err := change(c.UserContext(), c.Params("chatId"), currentUser(c), body.UserID)
	if err != nil {
		return err
	}
	return c.JSON(chat.NewConversationView(conv))
}

func (s *ChatServer) sendMessage(c *fiber.Ctx) error {
	var body sendMessageRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	msg, err := s.chatService.SendMessage(c.UserContext(), chat.PostMessageCommand{
		ConversationID: body.ChatID,
		SenderID:       currentUser(c),
		Content:        toContent(body.Text, body.FileURL, body.FileType, body.MimeType),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(chat.NewMessageView(msg))
}

func (s *ChatServer) history(c *fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	page, err := s.chatService.History(c.UserContext(), c.Params("chatId"), currentUser(c), c.Query("cursor"), limit)
	if err != nil {
		return err
	}
	return c.JSON(chat.NewPageView(page))
}

func (s *ChatServer) search(c *fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	messages, err := s.chatService.Search(c.UserContext(), c.Params("chatId"), currentUser(c), c.Query("q"), limit)
	if err != nil {
		return err
	}
	return c.JSON(lo.Map(messages, func(m chat.Message, _ int) chat.MessageView {
		return chat.NewMessageView(m)
	}))
}

func (s *ChatServer) markRead(c *fiber.Ctx) error {
	msg, err := s.chatService.MarkRead(c.UserContext(), c.Params("messageId"), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(chat.NewMessageView(msg))
}

func (s *ChatServer) editMessage(c *fiber.Ctx) error {
	var body editMessageRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	msg, err := s.chatService.EditMessage(c.UserContext(), chat.EditMessageCommand{
		MessageID: c.Params("messageId"),
		ActorID:   currentUser(c),
		Text:      body.Text,
	})
	if err != nil {
		return err
	}
	return c.JSON(chat.NewMessageView(msg))
}

func (s *ChatServer) deleteMessage(c *fiber.Ctx) error {
	msg, err := s.chatService.DeleteMessage(c.UserContext(), c.Params("messageId"), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(chat.NewMessageView(msg))
}

func (s *ChatServer) presence(c *fiber.Ctx) error {
	status := s.chatService.Presence(c.Params("userId"))
	resp := presenceResponse{UserID: status.UserID, IsOnline: status.Online}
	if !status.LastActiveAt.IsZero() {
		resp.LastActiveAt = lo.ToPtr(status.LastActiveAt)
	}
	return c.JSON(resp)
}

func parseBody(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", errors.ErrValidation, err)
	}
	return nil
}

// toContent builds media content when a file url is present, text otherwise.
// The text of a media message becomes its caption.
func toContent(text, fileURL, fileType, mimeType string) chat.Content {
	if fileURL == "" {
		return chat.TextContent{Text: text}
	}
	return chat.NewMediaContent(fileURL, chat.MediaKind(fileType), mimeType, text)
}
