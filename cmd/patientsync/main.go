/*
 * Copyright 2025 Medscan Digital, LLC.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// patientsync reconciles patient snapshots from the qMS and Infoclinica
// HIS systems into a single canonical registry.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/medscan/patientsync/pkg/admin"
	"github.com/medscan/patientsync/pkg/config"
	"github.com/medscan/patientsync/pkg/db"
	"github.com/medscan/patientsync/pkg/logger"
	"github.com/medscan/patientsync/pkg/models"
	"github.com/medscan/patientsync/pkg/registry"
	"github.com/medscan/patientsync/pkg/worker"
)

const defaultConfigPath = "/etc/patientsync/core.json"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "patientsync",
		Short:         "Canonical patient registry reconciliation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to core config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newReconcileCmd(&configPath),
		newLockCmd(&configPath, true),
		newLockCmd(&configPath, false),
		newStatsCmd(&configPath),
	)

	return root
}

// runtime holds the shared service stack built from one config file.
type runtime struct {
	cfg    *models.CoreConfig
	logger logger.Logger
	pool   *pgxpool.Pool
	store  *db.Store
	engine *registry.Engine
}

func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	bootLog, err := logger.New(logger.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("bootstrap logger: %w", err)
	}

	cfg, err := config.NewConfig(bootLog).LoadCore(ctx, configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Debug:      cfg.Logging.Debug,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	pool, err := db.NewPool(ctx, &cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	store, err := db.NewStore(pool, cfg.Referrers, time.Duration(cfg.Engine.LockTimeout), log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("build store: %w", err)
	}

	engine := registry.NewEngine(store, &cfg.Engine, db.ClassifyError, log)

	return &runtime{
		cfg:    cfg,
		logger: log,
		pool:   pool,
		store:  store,
		engine: engine,
	}, nil
}

func (r *runtime) Close() {
	r.pool.Close()
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backlog worker pool and the admin HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := db.RunMigrations(ctx, rt.pool, rt.logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}

			pool := worker.New(rt.engine, rt.store, &rt.cfg.Worker, rt.logger)
			server := admin.NewServer(&rt.cfg.Admin, rt.engine, rt.store, rt.logger)

			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return pool.Run(ctx)
			})

			g.Go(func() error {
				return server.Start()
			})

			g.Go(func() error {
				<-ctx.Done()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				return server.Shutdown(shutdownCtx)
			})

			rt.logger.Info().
				Str("admin_addr", rt.cfg.Admin.ListenAddr).
				Int("workers", rt.cfg.Worker.Workers).
				Msg("patientsync started")

			if err := g.Wait(); err != nil && ctx.Err() == nil {
				return err
			}

			rt.logger.Info().Msg("patientsync stopped")

			return nil
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			return db.RunMigrations(cmd.Context(), rt.pool, rt.logger)
		},
	}
}

func newReconcileCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [raw_id]",
		Short: "Replay a single staged raw record through the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid raw id %q", args[0])
			}

			rt, err := newRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			raw, err := rt.store.GetRaw(cmd.Context(), rawID)
			if err != nil {
				return err
			}

			ev := &models.ReconcileEvent{Kind: models.EventInsert, Raw: raw}
			if raw.CanonicalID != nil {
				ev.Kind = models.EventUpdate
			}

			result, err := rt.engine.Reconcile(cmd.Context(), ev)
			if err != nil {
				return err
			}

			return printJSON(cmd, result)
		},
	}
}

func newLockCmd(configPath *string, lock bool) *cobra.Command {
	use, short := "lock [canonical_id]", "Exclude a canonical patient from automatic matching"
	if !lock {
		use, short = "unlock [canonical_id]", "Return a canonical patient to automatic matching"
	}

	var reason string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid canonical id %q", args[0])
			}

			rt, err := newRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			return rt.store.SetMatchingLocked(cmd.Context(), id, lock, reason)
		},
	}

	if lock {
		cmd.Flags().StringVar(&reason, "reason", "", "why this patient is being locked")
	}

	return cmd
}

func newStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print registry counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(cmd, stats)
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	return nil
}
