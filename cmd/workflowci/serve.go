package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"workflowci/internal/logger"
	"workflowci/internal/schedule"
	"workflowci/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept events over HTTP and fire the workflow's schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.loadWorkflow("")
			if err != nil {
				return err
			}
			r, err := a.newRunner()
			if err != nil {
				return err
			}

			// parallel workers must not share a checkout
			r.IsolateWorkspaces = true

			runs := server.NewRunStore()
			r.Notify = runs.Update
			d := server.NewDispatcher(r, runs, a.cfg.Server.MaxParallelRuns, a.cfg.Server.QueueSize)
			srv := server.New(w, runs, d)
			srv.Logs = r.LogStorage
			srv.Ledger = r.Ledger
			srv.WebhookSecret = a.cfg.Server.WebhookSecret

			cron := schedule.NewScheduler(srv.Fire)
			if err := cron.Register(w); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(ctx, a.cfg.Server.Addr) })
			g.Go(func() error { return d.Run(ctx) })
			g.Go(func() error { return cron.Run(ctx) })

			logger.LogInfo("serving workflow", map[string]interface{}{
				"workflow": w.Name,
				"addr":     a.cfg.Server.Addr,
				"workers":  a.cfg.Server.MaxParallelRuns,
			})
			if err := g.Wait(); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}
