// Package server provides the public entry point for initializing the
// sales engine server.
//
// This package exists in pkg/ (not internal/) so that deployment
// wrappers can import it and compose the full server with extra
// middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"time"

	"net/http"

	"github.com/mediaforge/mediaforge/sales-engine/internal/adapters"
	"github.com/mediaforge/mediaforge/sales-engine/internal/api"
	"github.com/mediaforge/mediaforge/sales-engine/internal/api/handlers"
	"github.com/mediaforge/mediaforge/sales-engine/internal/catalog"
	"github.com/mediaforge/mediaforge/sales-engine/internal/config"
	"github.com/mediaforge/mediaforge/sales-engine/internal/lifecycle"
	"github.com/mediaforge/mediaforge/sales-engine/internal/notify"
	"github.com/mediaforge/mediaforge/sales-engine/internal/retention"
	"github.com/mediaforge/mediaforge/sales-engine/internal/store"
	"github.com/mediaforge/mediaforge/sales-engine/internal/telemetry"
	"github.com/mediaforge/mediaforge/sales-engine/internal/workflow"
	"github.com/mediaforge/mediaforge/sales-engine/pkg/models"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized sales engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store. Exposed so deployment wrappers can reuse
	// it in their own middleware.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// Janitor sweeps resolved workflow steps past their retention
	// window. Nil when retention is disabled; callers start it with
	// go Janitor.Start(ctx).
	Janitor *retention.Janitor

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the sales engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	// Initialize telemetry
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Seed the default tenant so a fresh deployment answers requests
	// without a bootstrap step.
	seedDefaultTenant(ctx, dataStore, cfg)

	// Initialize services
	notifier := notify.NewService(dataStore)
	engine := workflow.NewEngine(dataStore, notifier)
	registry := adapters.NewRegistry()
	matcher := catalog.NewMatcher(dataStore)
	coord := lifecycle.NewCoordinator(dataStore, registry, matcher, engine)

	log.Info().Strs("adapters", registry.Names()).Msg("Adapter registry initialized")
	log.Info().Msg("Workflow engine initialized")

	// Build handlers + API router
	h := handlers.New(dataStore, coord, engine, registry, matcher)
	router := api.NewRouter(cfg, dataStore, h)

	var janitor *retention.Janitor
	if cfg.Retention.Enabled {
		janitor = retention.NewJanitor(dataStore,
			time.Duration(cfg.Retention.IntervalHours)*time.Hour, cfg.Retention.Days)
		janitor.RegisterArchiver(retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.Compress))
	}

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Port:         cfg.Port,
		Janitor:      janitor,
		ShutdownFunc: shutdown,
	}, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.Store.URL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		log.Info().Msg("Postgres store initialized")
		return s, nil
	case "", "memory":
		s := store.NewMemoryStore()
		log.Info().Str("data_dir", cfg.Store.DataDir).Msg("In-memory store initialized")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func seedDefaultTenant(ctx context.Context, s store.Store, cfg *config.Config) {
	if _, err := s.GetTenant(ctx, "default"); err == nil {
		return
	}
	now := time.Now().UTC()
	t := &models.Tenant{
		TenantID:            "default",
		Name:                "Default Publisher",
		AdServer:            "mock",
		AdapterConfig:       map[string]any{"dry_run": cfg.DryRunDefault},
		AdminToken:          cfg.AdminToken,
		AutoCreateMediaBuys: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.CreateTenant(ctx, t); err != nil {
		log.Warn().Err(err).Msg("Failed to seed default tenant")
		return
	}
	log.Info().Msg("Default tenant seeded")
}
