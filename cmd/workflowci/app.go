package main

import (
	"fmt"
	"os"

	"workflowci/internal/actions"
	"workflowci/internal/cache"
	"workflowci/internal/core"
	"workflowci/internal/gitenv"
	"workflowci/internal/ledger"
	"workflowci/internal/logger"
	"workflowci/internal/runnerenv"
	"workflowci/internal/storage"
)

// loadWorkflow returns the configured descriptor, or the embedded one, validated.
func (a *app) loadWorkflow(path string) (*core.Workflow, error) {
	if path == "" {
		path = a.cfg.Workflow
	}
	var (
		w   *core.Workflow
		err error
	)
	if path == "" {
		w = core.DefaultWorkflow()
	} else if w, err = core.LoadWorkflow(path); err != nil {
		return nil, err
	}
	if err := core.Validate(w); err != nil {
		return nil, err
	}
	return w, nil
}

// newRunner wires the runner from configuration: labels, actions, cache,
// step log storage and the signed ledger.
func (a *app) newRunner() (*core.Runner, error) {
	cfg := a.cfg
	r := core.NewRunner()
	r.Executor.Shell = cfg.Runner.Shell
	r.Workspace = cfg.Workspace
	r.BypassGuard = cfg.Guard.BypassEvents
	r.Labels = runnerenv.NewDetector().Labels(cfg.Runner.Labels)
	r.RunnerID = cfg.Runner.ID
	if r.RunnerID == "" {
		if host, err := os.Hostname(); err == nil {
			r.RunnerID = host
		}
	}

	store := cache.NewStore(cfg.Cache.Dir)
	if cfg.Cache.MaxAge > 0 {
		if n, err := store.Prune(cfg.Cache.MaxAge); err != nil {
			logger.LogWarn("cache prune failed", map[string]interface{}{"error": err.Error()})
		} else if n > 0 {
			logger.LogInfo("pruned stale caches", map[string]interface{}{"removed": n})
		}
	}
	r.Actions = actions.Default(store)
	if cfg.Runner.CheckGit {
		r.Preflight = gitenv.NewProber().JobEnv
	}
	r.LogStorage = storage.NewLogStorage(cfg.Storage.LogsDir)

	keys, created, err := ledger.EnsureKeyPair(cfg.Storage.KeysDir)
	if err != nil {
		return nil, fmt.Errorf("runner keys: %w", err)
	}
	if created {
		logger.LogInfo("generated runner signing keys", map[string]interface{}{"dir": cfg.Storage.KeysDir})
	}
	l, err := ledger.OpenLedger(cfg.Storage.LedgerPath, keys)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	r.Ledger = l

	logger.LogDebug("runner ready", map[string]interface{}{
		"labels":  r.Labels,
		"actions": r.Actions.(*actions.Registry).Names(),
		"ledger":  cfg.Storage.LedgerPath,
	})
	return r, nil
}
