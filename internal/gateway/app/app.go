package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"tcmdiag/internal/diagnosis"
	"tcmdiag/internal/gateway/config"
	"tcmdiag/internal/gateway/handler"
	"tcmdiag/internal/gateway/server"
	"tcmdiag/internal/llm"
	"tcmdiag/internal/llmclient"
	"tcmdiag/internal/observability"
)

type App struct {
	server    *server.Server
	stores    *gatewayStores
	providers *llm.ProviderRegistry
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	observability.Init(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg *config.Config) (*App, error) {
	log := observability.Component("app")

	tiers, err := loadTiers(cfg)
	if err != nil {
		return nil, err
	}
	router, err := llm.NewRouter(tiers)
	if err != nil {
		return nil, err
	}

	providers := llm.NewProviderRegistry(llm.WithLogging(observability.Component("llm")))
	if err := providers.RegisterCatalog(llmclient.Catalog(llmclient.APIKeys{
		Gemini: cfg.LLM.GeminiAPIKey,
		Groq:   cfg.LLM.GroqAPIKey,
		OpenAI: cfg.LLM.OpenAIAPIKey,
	})); err != nil {
		return nil, err
	}
	providers.ApplyTierLimits(tiers)
	if err := providers.Validate(tiers); err != nil {
		return nil, err
	}
	gateway := llm.NewGateway(providers,
		llm.WithAttemptTimeout(cfg.LLM.AttemptTimeout),
		llm.WithGatewayLogger(observability.Component("gateway")),
	)

	stores, err := initStores(cfg)
	if err != nil {
		return nil, err
	}

	hub := handler.NewHub()
	machine := diagnosis.NewMachine(diagnosis.MustDefaultRegistry(), stores.sessions, router, gateway,
		diagnosis.WithMediaReader(stores.media),
		diagnosis.WithNotifier(hub),
		diagnosis.WithLogger(observability.Component("diagnosis")),
	)

	sessions := handler.NewSessionHandler(machine, stores.media, hub)
	srv := server.New(cfg.Port, server.NewMux(sessions))

	log.Info("app initialized", "env", cfg.Env, "llm_mode", cfg.LLM.Mode, "tiers", len(tiers), "session_store", cfg.Session.Backend)
	return &App{server: srv, stores: stores, providers: providers}, nil
}

func loadTiers(cfg *config.Config) ([]llm.ModelTier, error) {
	if cfg.LLM.TiersFile == "" {
		return llm.DefaultTiers(cfg.LLM.Fake()), nil
	}
	tiers, err := llm.LoadTiersFile(cfg.LLM.TiersFile)
	if err != nil {
		return nil, err
	}
	if cfg.LLM.Fake() {
		for i := range tiers {
			tiers[i].ProviderRef = "fake:" + tiers[i].TierID
		}
	}
	return tiers, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	return errors.Join(err, a.providers.Close(), a.stores.close())
}
