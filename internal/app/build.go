package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/mnemo/internal/brain"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/httpapi"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/runner"
	"github.com/ent0n29/mnemo/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Runner   *runner.Runner
	Sessions session.Store
	Memories memory.Store
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	sessionStore, err := session.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}
	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = sessionStore.Close()
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	invoker, err := brain.NewInvoker(brain.Config{
		Mode:    cfg.BrainMode,
		HTTPURL: cfg.BrainHTTPURL,
	})
	if err != nil {
		_ = memoryStore.Close()
		_ = sessionStore.Close()
		return nil, fmt.Errorf("brain invoker init failed: %w", err)
	}

	run := runner.New(sessionStore, memoryStore, invoker, metrics, cfg.AgentName, cfg.EventMemoryTTL)
	api := httpapi.New(cfg, sessionStore, memoryStore, run, metrics)

	memory.StartJanitor(ctx, memoryStore, cfg.MemoryPurgeInterval, func(n int) {
		metrics.MemoriesPurged.Add(float64(n))
	})

	cleanup := func() error {
		var errs []string
		if err := memoryStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := sessionStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Runner:   run,
		Sessions: sessionStore,
		Memories: memoryStore,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
