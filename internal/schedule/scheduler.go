package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires a Trigger on a cron schedule.
type Scheduler struct {
	trigger *Trigger
	spec    string
	cron    *cron.Cron
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	entryID cron.EntryID
}

// Status is a snapshot of the scheduler for the status endpoint.
type Status struct {
	Running  bool      `json:"running"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run,omitempty"`
	LastRun  time.Time `json:"last_run,omitempty"`
}

// NewScheduler parses spec (standard five-field cron or a descriptor such
// as "@hourly" or "@every 30m") and returns a stopped Scheduler.
func NewScheduler(trigger *Trigger, spec string, logger *zap.Logger) (*Scheduler, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger cannot be nil")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		trigger: trigger,
		spec:    spec,
		logger:  logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{logger.Sugar()})),
		),
	}, nil
}

// Start schedules runs until Stop. Each run uses ctx, so canceling it
// aborts an in-flight run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	id, err := s.cron.AddFunc(s.spec, func() {
		// Errors are logged and counted by the trigger.
		_, _ = s.trigger.Run(ctx, TriggerCron)
	})
	if err != nil {
		return fmt.Errorf("scheduling learning runs: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	s.logger.Info("learning scheduler started",
		zap.String("schedule", s.spec),
		zap.Time("next_run", s.cron.Entry(id).Next))
	return nil
}

// Stop stops scheduling and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cron.Remove(s.entryID)
	s.running = false
	s.logger.Info("learning scheduler stopped")
}

// Status returns the current schedule state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running, Schedule: s.spec}
	if s.running {
		e := s.cron.Entry(s.entryID)
		st.NextRun, st.LastRun = e.Next, e.Prev
	}
	return st
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
