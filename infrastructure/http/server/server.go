package server

import (
	"chat-hub/contract"
	"chat-hub/errors"
	"chat-hub/observability"
	"chat-hub/services"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const userIDKey = "user_id"

// Settings tune the websocket sessions.
type Settings struct {
	ConnectionBufferSize int
	InboundRate          float64
	InboundBurst         int
	PongWait             time.Duration
	PingPeriod           time.Duration
	WriteWait            time.Duration
	MaxFrameSize         int64
}

func (s Settings) withDefaults() Settings {
	if s.ConnectionBufferSize <= 0 {
		s.ConnectionBufferSize = 256
	}
	if s.PongWait <= 0 {
		s.PongWait = 60 * time.Second
	}
	if s.PingPeriod <= 0 || s.PingPeriod >= s.PongWait {
		s.PingPeriod = s.PongWait * 9 / 10
	}
	if s.WriteWait <= 0 {
		s.WriteWait = 10 * time.Second
	}
	return s
}

type ErrorBody struct {
	Kind    errors.Kind `json:"kind"`
	Message string      `json:"message"`
}

// ChatServer exposes the chat service over REST and websocket.
type ChatServer struct {
	chatService services.IChatService
	resolver    contract.IdentityResolver
	metrics     *observability.Metrics
	monitoring  *observability.MonitoringManager
	settings    Settings
	log         *slog.Logger
}

func NewChatServer(
	log *slog.Logger,
	chatService services.IChatService,
	resolver contract.IdentityResolver,
	metrics *observability.Metrics,
	monitoring *observability.MonitoringManager,
	settings Settings,
) *ChatServer {
	return &ChatServer{
		chatService: chatService,
		resolver:    resolver,
		metrics:     metrics,
		monitoring:  monitoring,
		settings:    settings.withDefaults(),
		log:         log,
	}
}

// App builds the fiber application with every route mounted.
func (s *ChatServer) App() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(s.observe)

	app.Get("/health", s.health)
	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api", s.authenticate)
	chats := api.Group("/chats")
	chats.Get("/", s.listChats)
	chats.Post("/one-to-one", s.createDirect)
	chats.Post("/group", s.createGroup)
	chats.Get("/:chatId", s.getChat)
	chats.Put("/:chatId", s.updateGroup)
	chats.Post("/:chatId/add-user", s.addUser)
	chats.Post("/:chatId/remove-user", s.removeUser)
	chats.Post("/:chatId/admins", s.promoteAdmin)
	chats.Delete("/:chatId/admins/:userId", s.demoteAdmin)

	messages := api.Group("/messages")
	messages.Post("/", s.sendMessage)
	messages.Get("/:chatId", s.history)
	messages.Get("/:chatId/search", s.search)
	messages.Post("/:messageId/read", s.markRead)
	messages.Put("/:messageId", s.editMessage)
	messages.Delete("/:messageId", s.deleteMessage)

	api.Get("/presence/:userId", s.presence)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, s.authenticate)
	app.Get("/ws", websocket.New(s.serveSession))

	return app
}

// authenticate resolves the bearer token from the Authorization header or,
// for websocket upgrades, from the token query parameter.
func (s *ChatServer) authenticate(c *fiber.Ctx) error {
	bearer := c.Get(fiber.HeaderAuthorization)
	if bearer == "" {
		bearer = c.Query("token")
	}
	userID, err := s.resolver.Resolve(c.UserContext(), bearer)
	if err != nil {
		return err
	}
	c.Locals(userIDKey, userID)
	return c.Next()
}

func (s *ChatServer) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		status = statusOf(err)
	}
	route := c.Route().Path
	s.metrics.HTTPRequest(route, status)
	s.log.Debug("HTTP request",
		"method", c.Method(),
		"route", route,
		"status", status,
		"duration", time.Since(start))
	return err
}

func (s *ChatServer) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorBody{Kind: kindOfStatus(fe.Code), Message: fe.Message})
	}
	status := errors.MapToHTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		s.log.Error("Request failed", "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(ErrorBody{Kind: errors.KindOf(err), Message: err.Error()})
}

func (s *ChatServer) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"uptime":  s.monitoring.Uptime().Round(time.Second).String(),
		"process": s.monitoring.GetLatest(),
	})
}

func statusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return errors.MapToHTTPStatus(err)
}

func kindOfStatus(status int) errors.Kind {
	switch status {
	case fiber.StatusBadRequest:
		return errors.KindValidation
	case fiber.StatusUnauthorized:
		return errors.KindUnauthenticated
	case fiber.StatusForbidden:
		return errors.KindAuthorization
	case fiber.StatusNotFound:
		return errors.KindNotFound
	case fiber.StatusConflict:
		return errors.KindConflict
	default:
		if status < fiber.StatusInternalServerError {
			return errors.Kind(strings.ToLower(strings.ReplaceAll(utils.StatusMessage(status), " ", "_")))
		}
		return errors.KindInternal
	}
}

func currentUser(c *fiber.Ctx) string {
	userID, _ := c.Locals(userIDKey).(string)
	return userID
}

func queryLimit(c *fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "limit must be an integer")
	}
	return limit, nil
}
