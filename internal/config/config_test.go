package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "GOOGLE_API_KEY", "GEMINI_API_KEY", "GEMINI_MODEL",
		"LLM_TEMPERATURE", "LLM_TIMEOUT", "CORS_ALLOWED_ORIGINS", "SESSION_STORE", "SESSION_TTL", "RATE_LIMIT_RPS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8000" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.GoogleAPIKey != "" || cfg.APIKeySetting != "GOOGLE_API_KEY" {
		t.Fatalf("expected missing key reported as GOOGLE_API_KEY, got %q/%q", cfg.GoogleAPIKey, cfg.APIKeySetting)
	}
	if cfg.GeminiModel != "gemini-2.5-flash" {
		t.Fatalf("expected default model, got %s", cfg.GeminiModel)
	}
	if cfg.LLMTemperature != 0.7 {
		t.Fatalf("expected default temperature, got %v", cfg.LLMTemperature)
	}
	if cfg.LLMTimeout != 60*time.Second {
		t.Fatalf("expected default llm timeout, got %s", cfg.LLMTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard CORS, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.SessionStore != "memory" || cfg.SessionTTL != 0 {
		t.Fatalf("expected memory store without ttl, got %s/%s", cfg.SessionStore, cfg.SessionTTL)
	}
	if cfg.RateLimitRPS != 0 {
		t.Fatalf("expected rate limiting disabled, got %v", cfg.RateLimitRPS)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "key-123")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000, https://app.example.com,")
	t.Setenv("SESSION_STORE", " Redis ")
	t.Setenv("SESSION_TTL", "24h")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "notanumber")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port override, got %s", cfg.Port)
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("expected text log format, got %s", cfg.LogFormat)
	}
	if cfg.GoogleAPIKey != "key-123" || cfg.APIKeySetting != "GEMINI_API_KEY" {
		t.Fatalf("expected fallback key from GEMINI_API_KEY, got %q/%q", cfg.GoogleAPIKey, cfg.APIKeySetting)
	}
	if cfg.LLMTemperature != 0.2 {
		t.Fatalf("expected temperature override, got %v", cfg.LLMTemperature)
	}
	if cfg.LLMTimeout != 5*time.Second {
		t.Fatalf("expected llm timeout override, got %s", cfg.LLMTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://app.example.com" {
		t.Fatalf("unexpected CORS origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.SessionStore != "redis" || cfg.SessionTTL != 24*time.Hour || !cfg.RedisTLS {
		t.Fatalf("unexpected session store config %+v", cfg)
	}
	if cfg.RateLimitRPS != 2.5 || cfg.RateLimitBurst != 10 {
		t.Fatalf("unexpected rate limit config %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}
