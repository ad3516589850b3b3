// SPDX-License-Identifier: MIT
package reposync

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/skaphos/reposync/internal/scheduler"
	"github.com/skaphos/reposync/internal/server"
	"github.com/skaphos/reposync/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		envFiles, _ := cmd.Flags().GetStringSlice("env-file")
		addr, _ := cmd.Flags().GetString("addr")
		noScheduler, _ := cmd.Flags().GetBool("no-scheduler")

		if len(envFiles) > 0 {
			// Variables already set in the environment win.
			if err := godotenv.Load(envFiles...); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
		}

		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		if addr == "" {
			addr = a.cfg.ListenAddr()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var stopScheduler func()
		defer func() { drain(stopScheduler, a.engine.Wait) }()

		var sched server.Scheduler
		if a.cfg.Scheduler.Enabled && !noScheduler {
			svc := scheduler.New(a.engine, a.store, a.log)
			if err := svc.Start(ctx); err != nil {
				return err
			}
			stopScheduler = svc.Stop
			sched = svc

			if a.cfg.Scheduler.WatchStore {
				go watchStore(ctx, a, svc)
			}
		} else {
			a.log.Info("scheduler disabled")
		}

		srv := server.New(addr, a.engine, sched, a.store, a.log)
		return srv.ListenAndServe(ctx)
	},
}

// drain stops the scheduler before waiting for working-copy cleanup, so no
// scheduled run can queue a discard once the wait has begun.
func drain(stopScheduler, waitCleanup func()) {
	if stopScheduler != nil {
		stopScheduler()
	}
	waitCleanup()
}

// watchStore re-arms jobs whenever the store file changes on disk.
func watchStore(ctx context.Context, a *app, svc *scheduler.Service) {
	err := a.store.Watch(ctx, store.DefaultDebounce, func() {
		jobs, err := a.store.Jobs(ctx)
		if err != nil {
			a.log.WithError(err).Warn("could not reload scheduled jobs")
			return
		}
		a.log.WithField("jobs", len(jobs)).Debug("store changed, reconciling jobs")
		svc.Reconcile(jobs)
	})
	if err != nil {
		a.log.WithError(err).Warn("store watch stopped")
	}
}

func init() {
	serveCmd.Flags().StringSlice("env-file", nil, "load environment variables from these .env files first")
	serveCmd.Flags().String("addr", "", "listen address (default: server.host:server.port from config)")
	serveCmd.Flags().Bool("no-scheduler", false, "serve the API without arming scheduled jobs")
	rootCmd.AddCommand(serveCmd)
}
