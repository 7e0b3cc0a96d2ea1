package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/aragora/aragora/pkg/agent"
	"github.com/aragora/aragora/pkg/config"
	"github.com/aragora/aragora/pkg/debate"
	"github.com/aragora/aragora/pkg/embeddings"
	"github.com/aragora/aragora/pkg/events"
	"github.com/aragora/aragora/pkg/provider"
	"github.com/aragora/aragora/pkg/services"
	"github.com/aragora/aragora/pkg/storage"
	"github.com/aragora/aragora/pkg/ws"
)

// app is the assembled engine shared by the serve, ask, replay, and export
// commands. Everything runs against the local store.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	bus      *events.Bus
	hub      *ws.Hub
	debates  *services.DebateService
	rankings *services.RankingService
	events   *services.EventService
}

// loadConfig loads .env (best effort) then the full configuration.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("no .env file loaded", "path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))
	return cfg, nil
}

// newApp wires storage, bus, providers, orchestrator, and services.
func newApp(cfg *config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", cfg.Storage.Path, err)
	}

	bus := events.NewBus(store, nil)
	factory := provider.NewFactory(cfg.Providers)

	orch := debate.New(debate.Options{
		Store:    store,
		Bus:      bus,
		Invoker:  agent.NewInvoker(factory, bus, nil),
		Embedder: newEmbedder(cfg),
		Registry: cfg.Agents,
		Timeout:  cfg.Debate.Timeout,
	})

	return &app{
		cfg:   cfg,
		store: store,
		bus:   bus,
		hub: ws.NewHub(ws.Options{
			Bus:           bus,
			Heartbeat:     cfg.Server.WSHeartbeat,
			MaxFrameBytes: cfg.Server.WSMaxFrame,
		}),
		debates:  services.NewDebateService(store, orch, cfg.Agents, cfg.Debate, nil),
		rankings: services.NewRankingService(store),
		events:   services.NewEventService(store),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("Error closing store", "error", err)
	}
}

// newEmbedder picks the embedding backend. auto prefers a keyed remote
// provider and falls back to the deterministic local embedder.
func newEmbedder(cfg *config.Config) embeddings.Embedder {
	switch cfg.Embedding.Provider {
	case "openai":
		return embeddings.NewOpenAIEmbedder(cfg.Providers.OpenAI)
	case "gemini":
		return embeddings.NewGeminiEmbedder(cfg.Providers.Gemini)
	case "local":
		return embeddings.NewLocalEmbedder()
	default:
		if cfg.Providers.OpenAI != "" {
			return embeddings.NewOpenAIEmbedder(cfg.Providers.OpenAI)
		}
		if cfg.Providers.Gemini != "" {
			return embeddings.NewGeminiEmbedder(cfg.Providers.Gemini)
		}
		return embeddings.NewLocalEmbedder()
	}
}
