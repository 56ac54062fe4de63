package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/lectern/internal/indexer"
	"github.com/mohammad-safakhou/lectern/internal/rag"
	srv "github.com/mohammad-safakhou/lectern/internal/server"
	"github.com/mohammad-safakhou/lectern/internal/session"
	"github.com/mohammad-safakhou/lectern/internal/telemetry"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg
			log := a.logger

			tel, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{ServiceName: "lectern", ServiceVersion: "dev"})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()

			index, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			sessions, err := a.openSessions(ctx)
			if err != nil {
				return err
			}
			completer, err := a.openCompleter(ctx)
			if err != nil {
				return err
			}

			pipeline := rag.New(a.embedder, index, sessions, completer, rag.Options{
				MaxHistory:  historyLimit(cfg.Session.MaxHistory),
				DefaultTopK: cfg.Retrieval.DefaultTopK,
				Hybrid:      cfg.Retrieval.Hybrid,
				Logger:      &log,
				Observer:    a.metrics,
			})

			sweeper := &session.Sweeper{
				Store:    sessions,
				TTL:      cfg.Session.TTL,
				Interval: cfg.Session.SweepInterval,
				Logger:   log,
				OnSweep:  a.metrics.SetActiveSessions,
			}
			sweeper.Start(ctx)
			defer sweeper.Stop()

			idx := indexer.New(a.segmenter(), a.embedder, index, indexer.Options{
				BatchSize:  cfg.Indexing.BatchSize,
				BatchDelay: cfg.Indexing.BatchDelay,
				Extensions: cfg.Indexing.Extensions,
				Logger:     &log,
				Observer:   a.metrics,
			})
			// the in-process index starts empty, so load it before the first query
			runOnStart := cfg.VectorIndex.Backend == "memory"
			switch {
			case cfg.Indexing.Schedule != "":
				rdb, err := a.redis(ctx)
				if err != nil {
					return err
				}
				sched, err := indexer.NewScheduler(idx, cfg.Indexing.DocsDir, cfg.Indexing.Schedule, indexer.SchedulerOptions{
					Rdb:        rdb,
					RunOnStart: runOnStart,
					Logger:     &log,
				})
				if err != nil {
					return err
				}
				sched.Start(ctx)
				defer sched.Stop()
			case runOnStart:
				go func() {
					if _, err := idx.Run(ctx, cfg.Indexing.DocsDir); err != nil {
						log.Error().Err(err).Msg("initial indexing failed")
					}
				}()
			}

			if addr == "" {
				addr = cfg.Server.Address
			}
			metricsHandler := a.metrics
			if !cfg.Telemetry.Enabled {
				metricsHandler = nil
			}
			e := srv.New(cfg.Server, pipeline, metricsHandler, log)
			return srv.Run(ctx, e, addr, log)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return serve
}

// historyLimit maps session.max_history onto the pipeline option. The config
// layer supplies the default, so an explicit zero turns history off.
func historyLimit(n int) int {
	if n == 0 {
		return -1
	}
	return n
}
