package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/athena/internal/config"
	"github.com/fyrsmithlabs/athena/internal/evaluator"
	apihttp "github.com/fyrsmithlabs/athena/internal/http"
	"github.com/fyrsmithlabs/athena/internal/learning"
	"github.com/fyrsmithlabs/athena/internal/logging"
	"github.com/fyrsmithlabs/athena/internal/publish"
	"github.com/fyrsmithlabs/athena/internal/schedule"
	"github.com/fyrsmithlabs/athena/internal/store"
	"github.com/fyrsmithlabs/athena/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/athena"

// app holds the components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	store    *store.Store
	registry *prometheus.Registry

	// Set by initPipeline.
	publisher *publish.Publisher
	trigger   *schedule.Trigger
}

// loadApp loads configuration and opens logging, telemetry and the store.
// Commands that learn call initPipeline afterwards.
func loadApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	lcfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	// The zap bridge needs the logger provider, so telemetry comes up
	// first and reports its health once the logger exists.
	tcfg := telemetry.FromSettings(cfg.Telemetry)
	tcfg.Logs = cfg.Logging.OTEL
	tel, err := telemetry.New(ctx, tcfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := logging.NewLogger(lcfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := logger.Underlying()
	if tcfg.Enabled && tel.Health().Degraded {
		logger.Warn(ctx, "telemetry degraded, continuing with partial export",
			zap.String("endpoint", tcfg.Endpoint))
	}

	st, err := store.Open(ctx, cfg.Store.Path, zl.Named("store"),
		store.WithWindow(cfg.Store.Window.Duration()))
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		store:    st,
		registry: reg,
	}, nil
}

// initPipeline wires the evaluator, orchestrator, sinks and trigger.
func (a *app) initPipeline(ctx context.Context) error {
	zl := a.logger.Underlying()

	ev, err := evaluator.New(a.cfg.EvaluatorSettings(), zl.Named("evaluator"))
	if err != nil {
		return fmt.Errorf("failed to initialize evaluator: %w", err)
	}

	sinks := learning.Sinks{a.store}
	if a.cfg.Publish.Enabled {
		pub, err := publish.Connect(a.cfg.Publish.URL, a.cfg.Publish.Subject, zl.Named("publish"))
		if err != nil {
			a.logger.Warn(ctx, "pattern events disabled, continuing without NATS", zap.Error(err))
		} else {
			a.publisher = pub
			sinks = append(sinks, pub)
		}
	}

	orch, err := learning.NewOrchestrator(a.cfg.LearningSettings(), ev, zl.Named("learning"),
		learning.WithSink(sinks),
		learning.WithMetrics(learning.NewMetrics(a.tel.Meter(instrumentationName), zl)),
		learning.WithTracer(a.tel.Tracer(instrumentationName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	a.trigger, err = schedule.NewTrigger(orch, a.store, schedule.NewMetrics(a.registry), zl.Named("schedule"))
	if err != nil {
		return fmt.Errorf("failed to create trigger: %w", err)
	}
	return nil
}

// healthChecks reports the dependencies the API health endpoint probes.
func (a *app) healthChecks() map[string]apihttp.HealthCheck {
	checks := map[string]apihttp.HealthCheck{
		"store": a.store.Ping,
		"telemetry": func(context.Context) error {
			if a.tel.Health().Degraded {
				return errors.New("telemetry degraded")
			}
			return nil
		},
	}
	if a.publisher != nil {
		checks["nats"] = func(context.Context) error {
			if !a.publisher.Connected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	return checks
}

// close releases everything in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
