package main

import (
	"fmt"
	"os"

	"github.com/tbcv/engine/internal/config"
	"github.com/tbcv/engine/pkg/boundary"
	"github.com/tbcv/engine/pkg/cache"
	"github.com/tbcv/engine/pkg/enhance"
	"github.com/tbcv/engine/pkg/fuzzy"
	"github.com/tbcv/engine/pkg/httputil"
	"github.com/tbcv/engine/pkg/orchestrator"
	"github.com/tbcv/engine/pkg/router"
	"github.com/tbcv/engine/pkg/semantic"
	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/truth"
	"github.com/tbcv/engine/pkg/validators"
)

// app bundles a fully-wired Boundary plus the Store it owns, so main can
// defer a clean close from one place regardless of which subcommand ran.
type app struct {
	boundary *boundary.Boundary
	store    store.Store
	sched    *cache.Scheduler
}

// caller identifies this process to the access boundary's allow-list.
// The CLI always runs as a single, implicitly-trusted local operator;
// a server-fronted deployment would thread a real caller identity
// through from its own auth layer instead.
const caller = "tbcv-cli"

func newApp(cfg config.Config) (*app, error) {
	st, err := store.Open(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("tbcv: opening store %s: %w", cfg.Storage.DSN, err)
	}

	registry := validators.NewRegistry()
	validatorCfgs := make(map[string]validators.ValidatorConfig, len(cfg.Validators))
	for id, v := range cfg.Validators {
		validatorCfgs[id] = v
	}
	if err := validators.RegisterDefaults(registry, validatorCfgs); err != nil {
		st.Close()
		return nil, fmt.Errorf("tbcv: registering validators: %w", err)
	}

	truthIdx := truth.NewDirIndex(cfg.TruthDir, 0)
	fz := fuzzy.NewTruthDetector(truthIdx, cfg.Thresholds.FuzzySimilarity)
	linkCli := httputil.NewClient(&httputil.ClientOptions{Timeout: cfg.Timeouts.LinkCheck})

	c, err := cache.New(st, cfg.Cache.L1MaxEntries, cfg.Cache.L1MaxBytes, cfg.Cache.L2CompressAbove)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("tbcv: building cache: %w", err)
	}
	sched, err := cache.NewScheduler(c, "*/10 * * * *")
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("tbcv: building cache scheduler: %w", err)
	}
	sched.Start()

	rt := router.New(registry, cfg.Concurrency.ContentValidate)
	orch := orchestrator.New(st, cfg.Concurrency)
	enh := enhance.New(st, cfg.Enhance.BlockedTopics, cfg.Thresholds.RewriteRatioCeil)

	b := boundary.New(cfg.Boundary, cfg.Timeouts, st, rt, c, orch, enh, truthIdx, fz, linkCli, semantic.NoOp{})
	return &app{boundary: b, store: st, sched: sched}, nil
}

func (a *app) Close() {
	a.sched.Stop()
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "tbcv: closing store: %v\n", err)
	}
}

func loadConfig(configDir string) (config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("tbcv: loading config: %w", err)
	}
	return cfg, nil
}
