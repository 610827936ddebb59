package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamchat/internal/chat"
	"streamchat/internal/config"
	"streamchat/internal/handler"
	"streamchat/internal/messaging"
	"streamchat/internal/middleware"
	"streamchat/internal/observability"
	"streamchat/internal/streams"
	"streamchat/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting chat server",
		slog.String("environment", cfg.Environment),
		slog.String("streams_rpc_url", cfg.StreamsRPCURL),
		slog.String("publisher", cfg.PublisherAddress.Hex()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rpcClient := streams.NewRPCClient(cfg.StreamsRPCURL,
		streams.WithReceiptPollInterval(cfg.ReceiptPollInterval))
	provider := streams.NewProvider(func() (streams.Client, error) {
		return rpcClient, nil
	})

	bus, err := newBus(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to event bus",
			slog.String("backend", cfg.EventsBackend),
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer bus.Close()

	fetcher := chat.NewFetcher(provider, cfg.PublisherAddress)
	sender, err := chat.NewSender(provider, cfg.SenderAddress, chat.WithNotifier(bus))
	if err != nil {
		slog.Error("failed to create sender", slog.String("error", err.Error()))
		os.Exit(1)
	}

	go ensureEventSchema(ctx, sender)

	hub := websocket.NewHub()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go func() {
		if err := hub.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("hub error", slog.String("error", err.Error()))
		}
	}()
	slog.Info("websocket hub started")

	consumer := messaging.NewEventConsumer(bus, hub)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("failed to start room event consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("room event consumer started", slog.String("backend", cfg.EventsBackend))

	messageHandler := handler.NewMessageHandler(sender, fetcher, cfg.SendTimeout)
	wsHandler := handler.NewWebSocketHandler(hubCtx, hub, fetcher, cfg.PollInterval, cfg.Origins())

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(middleware.ParseOrigins(cfg.AllowedOrigins)))
	r.Use(middleware.Metrics())

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(map[string]handler.Checker{
		"streams": handler.PingCheck(rpcClient),
		"events":  handler.PingCheck(bus),
	}))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.OpenAPIValidator(middleware.NewOpenAPIValidatorConfig(cfg.OpenAPISpecPath, cfg.IsProduction())))

		sendLimiter := middleware.NewRateLimiter(ctx, 2, 5)
		readLimiter := middleware.NewRateLimiter(ctx, 20, 50)

		r.With(sendLimiter.Middleware()).Post("/send", messageHandler.Send)
		r.With(readLimiter.Middleware()).Get("/messages", messageHandler.List)
	})

	r.Get("/ws/rooms", wsHandler.HandleConnection)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SendTimeout + 5*time.Second, // sends wait for their receipt
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("chat server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	hubCancel()

	time.Sleep(100 * time.Millisecond)

	slog.Info("server stopped gracefully")
}

// newBus connects the configured room event backend
func newBus(ctx context.Context, cfg *config.Config) (messaging.Bus, error) {
	switch cfg.EventsBackend {
	case config.EventsRabbitMQ:
		rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
		defer rmqCancel()
		rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		return rmq, nil
	case config.EventsRedis:
		redisCtx, redisCancel := context.WithTimeout(ctx, 10*time.Second)
		defer redisCancel()
		rdb, err := messaging.NewRedisBus(redisCtx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return rdb, nil
	default:
		return messaging.NoopBus{}, nil
	}
}

// ensureEventSchema registers the chat event schema once at startup
func ensureEventSchema(ctx context.Context, sender *chat.Sender) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := sender.EnsureEventSchema(ctx); err != nil {
		slog.Warn("failed to ensure chat event schema", slog.String("error", err.Error()))
	}
}
