// Package main is the entry point for the assistant API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/app"
	"github.com/khanflow/voice-assistant/internal/clock"
	"github.com/khanflow/voice-assistant/internal/config"
	"github.com/khanflow/voice-assistant/internal/conflict"
	"github.com/khanflow/voice-assistant/internal/conversation"
	"github.com/khanflow/voice-assistant/internal/executor"
	"github.com/khanflow/voice-assistant/internal/handler"
	"github.com/khanflow/voice-assistant/internal/llm"
	"github.com/khanflow/voice-assistant/internal/middleware"
	natsclient "github.com/khanflow/voice-assistant/internal/nats"
	"github.com/khanflow/voice-assistant/internal/nlu"
	"github.com/khanflow/voice-assistant/internal/orchestrator"
	"github.com/khanflow/voice-assistant/pkg/logger"
	"github.com/khanflow/voice-assistant/pkg/tracing"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := app.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := app.Location(cfg)
	if err != nil {
		return err
	}

	log.Info("starting assistant API", zap.String("timezone", loc.String()))

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "voice-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	clk := clock.Real{}

	// NATS is optional: without it events are not published and tasks
	// cannot be handed off.
	var (
		events   orchestrator.EventPublisher
		commands executor.CommandPublisher
		eventLog handler.EventReader
		checks   []handler.Check
	)
	if cfg.NATSURL != "" {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return err
		}
		defer nc.Close()

		if err := natsclient.EnsureStream(ctx, nc.JetStream()); err != nil {
			return err
		}
		publisher := natsclient.NewPublisher(nc.JetStream(), log)
		events, commands = publisher, publisher
		eventLog = natsclient.NewEventLog(nc.JetStream())
		checks = append(checks, handler.Check{Name: "nats", Ready: nc.IsConnected})
	} else {
		log.Warn("NATS_URL not set, conversation events and task hand-off disabled")
	}

	storeOpts := conversation.Options{
		TTL:       cfg.ConversationTTL,
		Retention: cfg.CompletedRetention,
		Clock:     clk,
	}
	if events != nil {
		storeOpts.OnEvict = orchestrator.AbandonedHook(events, clk, log)
	}
	store := conversation.NewStore(storeOpts, log)
	go store.Run(ctx, cfg.SweepInterval)

	cals := app.OpenCalendars(ctx, cfg, loc, log)
	engine := conflict.NewEngine(cals.Providers, app.EngineOptions(cfg, loc, clk), log)

	apiKey := cfg.AnthropicAPIKey
	if llm.Provider(cfg.DefaultLLM) == llm.ProviderOpenAI {
		apiKey = cfg.OpenAIAPIKey
	}
	llmClient, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), apiKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	parser := nlu.NewParser(llmClient, cfg.NLUModel, log)

	var writer executor.EventWriter
	switch {
	case cals.Google != nil:
		writer = executor.NewGoogleWriter(cals.Google, "", loc, clk)
	case cals.CalDAV != nil:
		writer = executor.NewCalDAVWriter(cals.CalDAV.Client(), cals.CalDAV.Path(), clk)
	default:
		log.Warn("no writable calendar, events cannot be created")
	}
	dispatcher := executor.NewDispatcher(writer, commands, clk, log)

	orch := orchestrator.New(store, parser, engine, dispatcher, orchestrator.Options{
		Location: loc,
		Clock:    clk,
		Events:   events,
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newRouter(cfg, orch, eventLog, checks, log),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func newRouter(cfg *config.Config, orch *orchestrator.Orchestrator, eventLog handler.EventReader, checks []handler.Check, log *logger.Logger) http.Handler {
	healthHandler := handler.NewHealthHandler(checks...)
	turnHandler := handler.NewTurnHandler(orch, log)
	conversationHandler := handler.NewConversationHandler(orch, eventLog, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(nil))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/turns", turnHandler.Turn)

		r.With(middleware.RequireScope(middleware.ScopeAdmin)).Get("/stats", conversationHandler.Stats)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Post("/resolve", turnHandler.Resolve)
				r.Get("/events", conversationHandler.Events)
			})
		})
	})

	return r
}
