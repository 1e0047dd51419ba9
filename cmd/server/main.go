package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmaksimov/structex/internal/api"
	"github.com/dmaksimov/structex/internal/config"
	"github.com/dmaksimov/structex/internal/extract"
	"github.com/dmaksimov/structex/internal/parser"
	"github.com/dmaksimov/structex/internal/session"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize collaborators.
	model := extract.NewClient(cfg.OllamaURL, cfg.OllamaModel, cfg.ModelTimeout)
	stats := extract.NewLLMStats(time.Hour)
	extractor := extract.NewExtractor(model, cfg.MaxRetries, stats, log)
	summarizer := extract.NewSummarizer(model, stats)
	texts := &parser.TextExtractor{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext}

	sessions := session.NewStore(cfg.SessionTTL)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessions.Cleanup()
			}
		}
	}()

	srv := api.NewServer(sessions, extractor, summarizer, texts, model.Model(), stats, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ModelTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		model.Close()
		cancel()
	}()

	log.Info("starting structex", "port", cfg.Port, "model", model.Model())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
