// Package server provides the public entry point for initializing the
// Conductor server: catalog, oracle client, planner, execution engine,
// ephemeral store, trace sinks, and the HTTP API wired together.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/conductor-ai/conductor/internal/api"
	"github.com/conductor-ai/conductor/internal/api/handlers"
	"github.com/conductor-ai/conductor/internal/catalog"
	"github.com/conductor-ai/conductor/internal/config"
	"github.com/conductor-ai/conductor/internal/executor"
	"github.com/conductor-ai/conductor/internal/oracle"
	"github.com/conductor-ai/conductor/internal/planner"
	"github.com/conductor-ai/conductor/internal/store"
	"github.com/conductor-ai/conductor/internal/telemetry"
	"github.com/conductor-ai/conductor/internal/tracesink"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized Conductor components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the ephemeral run/trace store.
	Store store.Store

	// Catalog is the capability snapshot source; Stop it on shutdown.
	Catalog *catalog.Catalog

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the server with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStoreWithRetention(cfg.Tracing.RetainTraces)

	cat := catalog.FromConfig(cfg.Catalog)
	cat.Start(ctx)

	oracleClient := oracle.NewClient(cfg.Oracle)
	plan := planner.New(oracleClient, cfg.Planner)

	sink := tracesink.Multi{tracesink.NewStoreSink(dataStore)}
	if cfg.Telemetry.Enabled {
		sink = append(sink, tracesink.NewOTelSink())
	}

	invoker := executor.NewHTTPInvoker(cfg.Executor.InvocationTimeout)
	engine := executor.New(dataStore, invoker, sink, cfg.Executor)

	log.Info().
		Str("oracle", cfg.Oracle.BaseURL).
		Str("registry", cfg.Catalog.RegistryURL).
		Int("max_attempts", cfg.Executor.MaxAttempts).
		Msg("conductor components initialized")

	h := handlers.New(dataStore, cat, plan, engine)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Catalog:      cat,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
