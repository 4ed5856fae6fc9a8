package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ahrav/go-sweep/internal/config"
	"github.com/ahrav/go-sweep/internal/experiment"
	"github.com/ahrav/go-sweep/internal/llm"
	"github.com/ahrav/go-sweep/internal/metrics"
	"github.com/ahrav/go-sweep/internal/storage"
)

// app holds the dependencies shared by commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    storage.Store
	client   llm.Client
	svc      *experiment.Service
}

type appOptions struct {
	// needsProvider requires an API key and builds the provider client.
	needsProvider bool
}

// newApp loads configuration and opens the store, metrics registry and,
// when asked, the provider client.
func newApp(ctx context.Context, cfgPath string, logOut io.Writer, opts appOptions) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(logOut)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	var client llm.Client
	if opts.needsProvider {
		if err := cfg.RequireAPIKey(); err != nil {
			return nil, err
		}
		client, err = llm.NewClient(cfg.LLMClientConfig(),
			llm.WithLogger(logger),
			llm.WithMetrics(recorder))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
		}
	}

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	logger.Debug("application initialized",
		"env", cfg.Env,
		"store", cfg.Store.Driver,
		"model", cfg.LLM.DefaultModel)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    store,
		client:   client,
		svc:      experiment.NewService(store, client, cfg.ExperimentOptions(), logger, recorder),
	}, nil
}

func (a *app) Close() error {
	if err := a.store.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
