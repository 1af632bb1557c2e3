// Package schedule triggers learning runs, either on a cron schedule or on
// demand, and never lets two runs overlap.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/athena/internal/learning"
)

// ErrRunInProgress is returned when a trigger arrives during a run.
var ErrRunInProgress = errors.New("learning run already in progress")

// Trigger names recorded in metrics and logs.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
	TriggerAPI    = "api"
)

// Runner runs the learning pipeline over a record source.
// *learning.Orchestrator satisfies it.
type Runner interface {
	RunFromSource(ctx context.Context, src learning.RecordSource) (*learning.RunResult, error)
}

// Trigger serializes learning runs over one source.
type Trigger struct {
	runner  Runner
	source  learning.RecordSource
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time

	running sync.Mutex

	mu   sync.RWMutex
	last *LastRun
}

// LastRun describes the most recent finished run.
type LastRun struct {
	Trigger    string              `json:"trigger"`
	FinishedAt time.Time           `json:"finished_at"`
	Error      string              `json:"error,omitempty"`
	Result     *learning.RunResult `json:"result,omitempty"`
}

// NewTrigger creates a Trigger. metrics may be nil.
func NewTrigger(runner Runner, source learning.RecordSource, metrics *Metrics, logger *zap.Logger) (*Trigger, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if source == nil {
		return nil, learning.ErrNilSource
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		runner:  runner,
		source:  source,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Run performs one learning run now, or returns ErrRunInProgress without
// waiting if another run holds the trigger. A result is returned whenever
// the pipeline produced one, even alongside a sink error.
func (t *Trigger) Run(ctx context.Context, trigger string) (*learning.RunResult, error) {
	if !t.running.TryLock() {
		if t.metrics != nil {
			t.metrics.RunsSkipped.WithLabelValues(trigger).Inc()
		}
		t.logger.Warn("skipping trigger, run in progress", zap.String("trigger", trigger))
		return nil, ErrRunInProgress
	}
	defer t.running.Unlock()

	start := t.now()
	res, err := t.runner.RunFromSource(ctx, t.source)
	elapsed := t.now().Sub(start)

	t.observe(trigger, res, err, elapsed)

	last := &LastRun{Trigger: trigger, FinishedAt: t.now().UTC(), Result: res}
	if err != nil {
		last.Error = err.Error()
	}
	t.mu.Lock()
	t.last = last
	t.mu.Unlock()

	fields := []zap.Field{zap.String("trigger", trigger), zap.Duration("elapsed", elapsed)}
	if res != nil {
		fields = append(fields,
			zap.String("run_id", res.RunID),
			zap.Int("patterns", len(res.Patterns)),
			zap.Int("validated", res.Stats.Validated))
	}
	if err != nil {
		t.logger.Error("learning run failed", append(fields, zap.Error(err))...)
	} else {
		t.logger.Info("learning run finished", fields...)
	}
	return res, err
}

func (t *Trigger) observe(trigger string, res *learning.RunResult, err error, elapsed time.Duration) {
	if t.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	t.metrics.RunsTotal.WithLabelValues(trigger, result).Inc()
	t.metrics.RunDuration.WithLabelValues(trigger).Observe(elapsed.Seconds())
	if err != nil || res == nil {
		return
	}
	t.metrics.Patterns.WithLabelValues("extracted").Set(float64(res.Stats.Extracted))
	t.metrics.Patterns.WithLabelValues("uncertain").Set(float64(res.Stats.Uncertain))
	t.metrics.Patterns.WithLabelValues("validated").Set(float64(res.Stats.Validated))
	t.metrics.Patterns.WithLabelValues("fallback").Set(float64(res.Stats.Fallbacks))
	t.metrics.LastSuccessStamp.Set(float64(t.now().Unix()))
}

// Last returns the most recent finished run, or nil.
func (t *Trigger) Last() *LastRun {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}
