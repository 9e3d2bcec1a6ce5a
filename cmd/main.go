package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fintalk/fintalk/internal/api"
	"github.com/fintalk/fintalk/internal/config"
	"github.com/fintalk/fintalk/internal/corpus"
	"github.com/fintalk/fintalk/internal/embed"
	"github.com/fintalk/fintalk/internal/engine"
	"github.com/fintalk/fintalk/internal/history"
	"github.com/fintalk/fintalk/internal/llm"
	"github.com/fintalk/fintalk/internal/prompt"
	"github.com/fintalk/fintalk/internal/rag"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	initLogger(cfg.Logging)

	// The embedder is shared across all users and must load before the
	// engine serves anything.
	var embedder embed.Provider
	switch cfg.Embedding.Provider {
	case "openai":
		embedder, err = embed.NewOpenAIEmbedder(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.Embedding.ModelID)
		if err != nil {
			log.Fatal().Err(err).Msg("embedding model failed to load")
		}
	default:
		embedder = embed.NewLocalEncoder(cfg.Embedding.ModelID)
	}

	client, err := llm.New(cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize LLM client")
	}

	answers, err := prompt.NewAnswerGenerator()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize answer generator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hist, err := history.Open(ctx, cfg.History.URL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.History.URL).Msg("failed to open chat history store")
	}
	defer hist.Close()

	store := corpus.NewStore(embedder, cfg.Corpus.MaxDocs, cfg.Corpus.StoreTTL)
	store.StartSweeper(ctx)

	kernel := rag.NewKernel(embedder, cfg.Corpus.VectorTopK, cfg.Corpus.SmartFullCeiling)
	eng := engine.New(store, kernel, client, answers, hist)
	server := api.NewServer(cfg.Server, eng, client)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()
	log.Info().
		Str("embedding_provider", cfg.Embedding.Provider).
		Str("model", cfg.LLM.Model).
		Msg("engine started")

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	log.Info().Msg("shutdown completed")
}

func initLogger(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
