package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/fyrsmithlabs/athena/internal/http"
	"github.com/fyrsmithlabs/athena/internal/schedule"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operations API and run scheduled learning",
		Long: `Start the operations API and, when schedule.enabled is set, run the
learning pipeline on schedule.cron. Stops gracefully on SIGINT or SIGTERM.

Endpoints:
  GET  /health                 dependency health
  GET  /metrics                Prometheus metrics
  GET  /api/v1/status          scheduler state and the last run
  POST /api/v1/runs            run the pipeline now
  GET  /api/v1/patterns        learned patterns
  GET  /api/v1/patterns/:id    one pattern
  POST /api/v1/executions      record task executions`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			if err := a.initPipeline(cmd.Context()); err != nil {
				_ = a.close(context.Background())
				return err
			}
			return serve(cmd.Context(), a)
		},
	}
}

// serve blocks until ctx is canceled or the server fails, then shuts
// everything down within server.shutdown_timeout.
func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	zl := a.logger.Underlying()

	deps := apihttp.Deps{
		Trigger:  a.trigger,
		Patterns: a.store,
		Gatherer: a.registry,
		Metrics:  apihttp.NewHTTPMetrics(a.tel.Meter(instrumentationName), zl),
		Checks:   a.healthChecks(),
		Version:  version,
	}

	var sched *schedule.Scheduler
	if cfg.Schedule.Enabled {
		var err error
		sched, err = schedule.NewScheduler(a.trigger, cfg.Schedule.Cron, zl.Named("scheduler"))
		if err != nil {
			_ = a.close(context.Background())
			return err
		}
		deps.Scheduler = sched
	}

	srv, err := apihttp.NewServer(deps, a.logger.Named("http"), &apihttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		_ = a.close(context.Background())
		return err
	}

	a.logger.Info(ctx, "starting athena",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("schedule", cfg.Schedule.Enabled),
		zap.Bool("publish", a.publisher != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			a.logger.Error(ctx, "scheduler failed to start", zap.Error(err))
		}
	}

	<-gctx.Done()
	a.logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if sched != nil {
		sched.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	if err := a.close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
