// Package main is the entry point for the chat gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docchat-ai/rag-chat/internal/config"
	"github.com/docchat-ai/rag-chat/internal/handler"
	"github.com/docchat-ai/rag-chat/internal/hub"
	"github.com/docchat-ai/rag-chat/internal/llm"
	"github.com/docchat-ai/rag-chat/internal/middleware"
	natsclient "github.com/docchat-ai/rag-chat/internal/nats"
	"github.com/docchat-ai/rag-chat/internal/retrieval"
	"github.com/docchat-ai/rag-chat/internal/service"
	"github.com/docchat-ai/rag-chat/pkg/logger"
	"github.com/docchat-ai/rag-chat/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "rag-chat-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Message persistence is optional: without NATS the gateway still serves
	// chat, but sessions do not survive a restart.
	var (
		natsClient    *natsclient.Client
		streamManager *natsclient.StreamManager
	)
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(natsclient.Config{
			URL:   cfg.NATSURL,
			Token: cfg.NATSToken,
		}, log)
		if err != nil {
			log.Warn("failed to connect to NATS, persistence disabled", "error", err)
		} else {
			defer natsClient.Close()
			streamManager = natsclient.NewStreamManager(natsClient)
			if err := streamManager.EnsureStream(ctx); err != nil {
				log.Error("failed to ensure stream", "error", err)
				os.Exit(1)
			}
		}
	}

	var llmClient llm.Client
	switch {
	case cfg.DefaultLLM == string(llm.ProviderAnthropic) && cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	default:
		log.Error("no LLM API key configured")
		os.Exit(1)
	}
	if err != nil {
		log.Error("failed to create LLM client", "error", err)
		os.Exit(1)
	}

	// Document retrieval needs both a pgvector database and an embedding
	// provider. Without them, responses stream without citations.
	var retriever retrieval.Retriever
	if cfg.DatabaseURL != "" && cfg.OpenAIAPIKey != "" {
		embedder := retrieval.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		pg, err := retrieval.NewPgVector(ctx, cfg.DatabaseURL, embedder, cfg.SnippetMaxLength)
		if err != nil {
			log.Warn("failed to connect to document store, citations disabled", "error", err)
		} else {
			defer pg.Close()
			retriever = pg
		}
	}

	sessionHub := hub.New(log)
	go sessionHub.Run(ctx, cfg.CleanupInterval, cfg.SessionMaxAge)

	chatSvc := service.NewChatService(sessionHub, streamManager, llmClient, retriever, cfg, log)

	healthHandler := handler.NewHealthHandler(natsClient)
	chatHandler := handler.NewChatHandler(sessionHub, chatSvc, cfg.MaxMessageSize, log)
	sessionHandler := handler.NewSessionHandler(sessionHub, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Widget websocket endpoint. Unauthenticated: the widget runs on public
	// pages and sessions are capability URLs.
	r.Get("/ws/{sessionID}", chatHandler.Serve)

	// Management API for session inspection and export.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/sessions/stats", sessionHandler.Stats)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.Get("/export", sessionHandler.Export)
			r.Patch("/", sessionHandler.UpdateTitle)
			r.Delete("/", sessionHandler.Delete)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("gateway listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gateway")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("gateway stopped")
}
