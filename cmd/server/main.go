package main

import (
	"chat-hub/auth"
	"chat-hub/contract"
	"chat-hub/infrastructure/http/server"
	"chat-hub/infrastructure/search"
	"chat-hub/infrastructure/storage"
	"chat-hub/internal"
	"chat-hub/moderation"
	"chat-hub/observability"
	"chat-hub/runtime"
	"chat-hub/runtime/workers"
	"chat-hub/services"
	"chat-hub/sink"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a fatal error.
// Deferred cleanups run before the exit code reaches main.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage (BadgerDB + Bluge)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		database.StartDebugServer(db, config.DebugPort, endpoint, RecordMapper)
	}

	index, err := search.Open(config.BlugeFilepath, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = index.Close()
	}()

	// 3. Core components
	metrics := observability.NewMetrics()
	monitoring := observability.NewMonitoringManager(logger)
	directory := services.NewDirectory(logger, storage.NewConversationRepository(db, logger))
	ledger := services.NewLedger(logger, storage.NewMessageRepository(db, logger), directory, services.LedgerLimits{
		DefaultPage:      config.DefaultPageLimit,
		MaxPage:          config.MaxPageLimit,
		MaxContentLength: config.MaxContentLength,
	})
	registry := runtime.NewRegistry(logger, directory, metrics)
	presence := runtime.NewRegister(config.TypingTTL, config.OnlineWindow, nil)

	// 4. Supervision & permanent sinks
	supervisor := workers.NewSupervisor(logger, config.RestartInterval, metrics)
	orchestrator := runtime.NewOrchestrator(logger, supervisor, registry, metrics, config.BufferSize, config.SinkTimeout)
	orchestrator.Add(sink.NewSearchSink(index, logger))
	if config.NatsURL != "" {
		natsSink, err := sink.ConnectNats(ctx, config.NatsURL, config.NatsStream, config.NatsSubjectPrefix, logger)
		if err != nil {
			return exitRuntime, err
		}
		defer natsSink.Close()
		orchestrator.Add(natsSink)
		logger.Info("Relaying committed events to NATS", "stream", config.NatsStream, "prefix", config.NatsSubjectPrefix)
	}
	orchestrator.AddWorkers(
		workers.NewTypingSweeper(logger, presence, directory, orchestrator, metrics, config.SweepInterval),
		workers.NewProcessMonitor(logger, monitoring, metrics, registry, presence, config.MetricInterval),
	)

	chatService := services.NewChatService(logger, directory, ledger, registry, orchestrator, presence, metrics).
		WithSearch(index)
	moderator, err := buildModerator(config, charReplacement, logger)
	if err != nil {
		return exitConfig, err
	}
	if moderator != nil {
		chatService.WithModerator(moderator)
	}

	errChan := make(chan error, 2)

	// 5. Start the engine (relay, sweeper, monitor)
	go func() {
		logger.Info("Starting orchestrator...")
		if err := orchestrator.Start(ctx); err != nil {
			errChan <- fmt.Errorf("orchestrator error: %w", err)
		}
	}()

	// 6. HTTP & websocket server
	chatServer := server.NewChatServer(logger, chatService, auth.NewJWTResolver(config.JWTSecret, config.JWTIssuer), metrics, monitoring, server.Settings{
		ConnectionBufferSize: config.ConnectionBufferSize,
		InboundRate:          config.InboundRate,
		InboundBurst:         config.InboundBurst,
		PongWait:             config.PongWait,
		PingPeriod:           config.PingPeriod,
		WriteWait:            config.WriteWait,
		MaxFrameSize:         config.MaxFrameSize,
	})
	app := chatServer.App()
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	go func() {
		logger.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := app.Listen(address); err != nil {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for stop or error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 8. Graceful shutdown: sockets first, then workers
	logger.Info("Shutting down gracefully...")
	if err := app.ShutdownWithTimeout(config.DeliveryTimeout); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	orchestrator.Stop()
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}
	return options
}

// buildModerator loads the embedded word lists, or CENSORED_DIR when set.
// No words at all disables moderation.
func buildModerator(config internal.Config, charReplacement rune, logger *slog.Logger) (contract.IModerator, error) {
	loader, dir := moderation.DefaultLoader()
	if config.CensoredDir != "" {
		loader, dir = moderation.NewCensoredLoader(os.DirFS(config.CensoredDir)), "."
	}
	data, err := loader.LoadAll(dir)
	if err != nil {
		logger.Warn("Moderation disabled", "error", err)
		return nil, nil
	}
	moderator, err := moderation.NewModerator(data.Words, charReplacement, logger)
	if err != nil {
		return nil, fmt.Errorf("moderator init failed: %w", err)
	}
	logger.Info("Moderation enabled", "words", len(data.Words), "languages", strings.Join(data.Languages, ","))
	return moderator, nil
}

// RecordMapper renders badger records in the debug inspector.
func RecordMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	prefix, _, _ := strings.Cut(key, ":")
	row.Type = strings.ToUpper(prefix)

	switch prefix {
	case "conv":
		var c storage.ConversationView
		if err := storage.Decode(val, &c); err != nil {
			row.Detail = "Error: decode failed"
			return row
		}
		row.Detail = fmt.Sprintf("%s %q members=%d latest=%s", c.Kind, c.DisplayName, len(c.Participants), c.LatestMessageRef)
	case "msg":
		var m storage.MessageView
		if err := storage.Decode(val, &m); err != nil {
			row.Detail = "Error: decode failed"
			return row
		}
		row.Detail = fmt.Sprintf("#%d %s: %s", m.Sequence, m.SenderID, messageSummary(m))
	}
	return row
}

func messageSummary(m storage.MessageView) string {
	switch {
	case m.Deleted:
		return "(deleted)"
	case m.MediaURL != "":
		return fmt.Sprintf("[%s] %s", m.MediaKind, m.MediaURL)
	default:
		return m.Text
	}
}
