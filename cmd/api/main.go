package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/send-money-agent/internal/api/router"
	appconfig "github.com/wolfman30/send-money-agent/internal/config"
	"github.com/wolfman30/send-money-agent/internal/conversation"
	"github.com/wolfman30/send-money-agent/internal/observability/metrics"
	"github.com/wolfman30/send-money-agent/pkg/logging"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Info("starting send-money-agent API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"model", cfg.GeminiModel,
		"session_store", cfg.SessionStore,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	llm, closeLLM := setupLLM(ctx, cfg, logger)
	defer closeLLM()

	store, closeStore, err := setupSessionStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up session store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	metricsHandler, chatMetrics := setupMetrics()

	agent := conversation.NewAgent(llm, store, nil, logger,
		conversation.WithModel(cfg.GeminiModel),
		conversation.WithTemperature(cfg.LLMTemperature),
		conversation.WithLLMTimeout(cfg.LLMTimeout),
		conversation.WithCredentialSetting(cfg.APIKeySetting),
		conversation.WithMetrics(chatMetrics),
	)

	r := router.New(&router.Config{
		Logger:             logger,
		ChatHandler:        conversation.NewHandler(agent, logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg.LLMTimeout),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// writeTimeout covers the two LLM calls a chat turn may make. An unbounded
// LLM timeout leaves writes unbounded too.
func writeTimeout(llmTimeout time.Duration) time.Duration {
	if llmTimeout <= 0 {
		return 0
	}
	return 2*llmTimeout + 15*time.Second
}

// setupLLM returns the Gemini client, or a client that reports the missing
// credential on every call so the server can still start.
func setupLLM(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.LLMClient, func()) {
	noop := func() {}
	if strings.TrimSpace(cfg.GoogleAPIKey) == "" {
		logger.Warn("no Gemini API key configured; chat requests will fail", "setting", cfg.APIKeySetting)
		return conversation.NewUnconfiguredLLMClient(cfg.APIKeySetting), noop
	}

	client, err := conversation.NewGeminiLLMClient(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Error("failed to create gemini client", "error", err)
		return conversation.NewUnconfiguredLLMClient(cfg.APIKeySetting), noop
	}
	logger.Info("gemini client initialized", "model", client.Model())
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close gemini client", "error", err)
		}
	}
}

// setupSessionStore picks the session backend named by SESSION_STORE.
func setupSessionStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.SessionStore, func(), error) {
	switch cfg.SessionStore {
	case "", "memory":
		logger.Info("using in-memory session store")
		return conversation.NewMemorySessionStore(), func() {}, nil
	case "redis":
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis not available at %s: %w", cfg.RedisAddr, err)
		}

		logger.Info("using redis session store", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL)
		store := conversation.NewRedisSessionStore(client, cfg.SessionTTL, otel.Tracer("send_money.internal.conversation.redis"))
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown SESSION_STORE %q", cfg.SessionStore)
	}
}

func setupMetrics() (http.Handler, *metrics.ChatMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return handler, metrics.NewChatMetrics(reg)
}
