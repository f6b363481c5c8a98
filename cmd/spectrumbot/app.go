package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nugget/spectrumbot/internal/agent"
	"github.com/nugget/spectrumbot/internal/catalog"
	"github.com/nugget/spectrumbot/internal/config"
	"github.com/nugget/spectrumbot/internal/database"
	"github.com/nugget/spectrumbot/internal/embeddings"
	"github.com/nugget/spectrumbot/internal/events"
	"github.com/nugget/spectrumbot/internal/handoff"
	"github.com/nugget/spectrumbot/internal/knowledge"
	"github.com/nugget/spectrumbot/internal/llm"
	"github.com/nugget/spectrumbot/internal/memory"
	"github.com/nugget/spectrumbot/internal/orders"
	"github.com/nugget/spectrumbot/internal/policy"
	"github.com/nugget/spectrumbot/internal/tools"
)

// app holds the components shared by serve and the one-shot commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	bus    *events.Bus

	db       *database.DB
	products *catalog.Store
	orders   *orders.Service
	faq      *knowledge.Store
	ingester *knowledge.Ingester // nil when knowledge is disabled
	handoff  *handoff.Generator

	llm    llm.Client
	memory memory.Store
	loop   *agent.Loop

	closers []func() error
}

// openStore opens and migrates the shop database.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.DB, error) {
	if cfg.Database.Driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	results, err := db.Migrate(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, r := range results {
		logger.Info("migration applied", "version", r.Source.Version, "file", r.Source.Path, "duration", r.Duration)
	}
	return db, nil
}

// embedderConfig maps the knowledge embedding settings onto a client
// config. Gemini is reached through its OpenAI-compatible endpoint.
func embedderConfig(cfg *config.Config) embeddings.Config {
	e := cfg.Knowledge.Embeddings
	switch e.Provider {
	case "openai":
		baseURL := e.BaseURL
		if baseURL == "" {
			baseURL = cfg.Models.Providers.OpenAI.BaseURL
		}
		return embeddings.Config{Provider: "openai", BaseURL: baseURL, Model: e.Model, APIKey: e.APIKey}
	case "gemini":
		baseURL := e.BaseURL
		if baseURL == "" {
			baseURL = cfg.Models.Providers.Gemini.BaseURL
		}
		return embeddings.Config{Provider: "openai", BaseURL: baseURL, Model: e.Model, APIKey: e.APIKey}
	default:
		return embeddings.Config{Provider: "ollama", BaseURL: e.URL, Model: e.Model}
	}
}

// newApp wires storage, tools, policy, memory and the loop. withLLM is
// false for commands that never run a turn.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withLLM bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, bus: events.New()}

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	a.products = catalog.NewStore(db)
	a.orders = orders.NewService(orders.NewStore(db), cfg.Shop.PaymentInstruction, a.bus, logger)
	a.faq = knowledge.NewStore(db)
	a.handoff = handoff.NewGenerator(cfg.Shop.WhatsApp, cfg.Shop.HandoffGreeting)

	var lookup *knowledge.Lookup
	if cfg.Knowledge.Enabled {
		embedder, err := embeddings.New(embedderConfig(cfg), logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.ingester = knowledge.NewIngester(a.faq, embedder, knowledge.IngestConfig{
			ChunkSize:    cfg.Knowledge.ChunkSize,
			ChunkOverlap: cfg.Knowledge.ChunkOverlap,
			Workers:      cfg.Knowledge.Workers,
		}, a.bus, logger)
		lookup = knowledge.NewLookup(a.faq, embedder, cfg.Knowledge.TopK, cfg.Knowledge.MinScore, logger)
	}

	if !withLLM {
		return a, nil
	}

	reg := tools.NewRegistry(logger)
	deps := tools.ShopDeps{
		Catalog: catalog.NewLookup(a.products, cfg.Catalog.SampleSize, cfg.Catalog.MaxResults, logger),
		Orders:  a.orders,
		Handoff: a.handoff,
	}
	if lookup != nil {
		deps.Knowledge = lookup
	}
	if err := reg.RegisterShopTools(deps); err != nil {
		a.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	sop, err := policy.NewSource(cfg.Policy.Dir, policy.Profile{
		Name:        cfg.Shop.Name,
		Address:     cfg.Shop.Address,
		BankAccount: cfg.Shop.BankAccount,
		WhatsApp:    cfg.Shop.WhatsApp,
		Hours:       cfg.Shop.Hours,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load policy: %w", err)
	}

	switch cfg.Memory.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Memory.Path), 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create memory directory: %w", err)
		}
		store, err := memory.NewSQLiteStore(cfg.Memory.Path, cfg.Memory.Window)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		a.memory = store
		a.closers = append(a.closers, store.Close)
	default:
		a.memory = memory.NewWindowStore(cfg.Memory.Window)
	}

	a.llm = createLLMClient(cfg, logger)
	reasoner := agent.NewLLMReasoner(a.llm, cfg.Models.Default, cfg.Agent.ReasoningTimeout)

	a.loop, err = agent.New(reasoner, a.memory, reg, sop, agent.Options{
		MaxIterations: cfg.Agent.MaxIterations,
		Logger:        logger,
		Bus:           a.bus,
		Handoff:       a.handoff,
		ShopName:      cfg.Shop.Name,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("agent ready",
		"model", cfg.Models.Default,
		"tools", reg.Names(),
		"memory", cfg.Memory.Backend,
		"knowledge", cfg.Knowledge.Enabled,
	)
	return a, nil
}

// faqAdmin is where FAQ rows are added: through the ingester when
// knowledge is enabled so the row is indexed at once.
func (a *app) faqAdmin() interface {
	AddFAQ(ctx context.Context, f *knowledge.FAQ) error
} {
	if a.ingester != nil {
		return a.ingester
	}
	return a.faq
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
