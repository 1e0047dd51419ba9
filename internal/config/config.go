package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Model endpoint (Ollama-compatible chat API)
	OllamaURL   string
	OllamaModel string

	// Per-call timeout for model invocations.
	ModelTimeout time.Duration

	// Extraction retry budget: attempts = MaxRetries + 1.
	MaxRetries int

	// Upload limits
	MaxUploadBytes int64

	// Session lifetime
	SessionTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: envOr("OLLAMA_MODEL", "qwen3:8b"),

		ModelTimeout: envDuration("MODEL_TIMEOUT", 120*time.Second),

		MaxRetries: envInt("EXTRACT_MAX_RETRIES", 1),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		SessionTTL: envDuration("SESSION_TTL", 12*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 1
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 120 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.OllamaURL == "" {
		return fmt.Errorf("OLLAMA_URL is required")
	}
	if c.OllamaModel == "" {
		return fmt.Errorf("OLLAMA_MODEL is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
