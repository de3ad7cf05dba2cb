// Package scheduler triggers workflow runs from cron schedules stored
// alongside their workflows. It polls rather than holding in-memory
// timers so restarts never lose schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/pkg/schema"
)

const pollInterval = 60 * time.Second

// WorkflowRunner starts one run of a stored workflow. Satisfied by the
// server's run launcher; an interface here avoids importing the engine.
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, workflowName string) (runID string, err error)
}

// EventEmitter records schedule trigger events in the audit stream.
type EventEmitter interface {
	Emit(runID, stepID, eventType string, data map[string]any)
}

// Scheduler polls the store for due schedules and launches their runs.
type Scheduler struct {
	store   store.Store
	runner  WorkflowRunner
	emitter EventEmitter
	parser  cron.Parser
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently triggering
}

// NewScheduler creates a Scheduler. emitter may be nil.
func NewScheduler(s store.Store, runner WorkflowRunner, emitter EventEmitter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		emitter:  emitter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the polling loop. It ticks once immediately so due
// schedules fire right after startup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", slog.Duration("poll_interval", pollInterval))
	return nil
}

// Stop ends the polling loop and waits for an in-progress tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick triggers every enabled schedule that is due. Exported so tests
// and the server's startup recovery can drive it directly.
func (s *Scheduler) Tick(ctx context.Context) {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		s.logger.Error("list schedules", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, sched := range schedules {
		due, err := s.isDue(sched, now)
		if err != nil {
			s.logger.Warn("schedule has invalid cron expression",
				slog.String("schedule_id", sched.ID),
				slog.String("cron", sched.Cron),
				slog.String("error", err.Error()))
			continue
		}
		if !due || !s.tryAcquire(sched.ID) {
			continue
		}
		s.trigger(ctx, sched, now)
		s.release(sched.ID)
	}
}

// isDue reports whether the schedule's next firing time, counted from
// its last run (or creation for never-run schedules), has passed.
func (s *Scheduler) isDue(sched *schema.Schedule, now time.Time) (bool, error) {
	expr, err := s.parser.Parse(sched.Cron)
	if err != nil {
		return false, err
	}
	anchor := sched.CreatedAt
	if sched.LastRunAt != nil {
		anchor = *sched.LastRunAt
	}
	return !expr.Next(anchor).After(now), nil
}

// trigger launches one run and advances the schedule's last-run mark.
// The mark moves even when the launch fails, so a broken workflow does
// not retrigger every tick.
func (s *Scheduler) trigger(ctx context.Context, sched *schema.Schedule, now time.Time) {
	ctx = logging.WithWorkflow(ctx, sched.WorkflowName)
	logger := logging.LogWith(ctx, s.logger)

	runID, err := s.runner.RunWorkflow(ctx, sched.WorkflowName)
	if err != nil {
		logger.Error("scheduled run failed to launch",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()))
	} else {
		logger.Info("scheduled run launched",
			slog.String("schedule_id", sched.ID),
			slog.String("run_id", runID))
		if s.emitter != nil {
			s.emitter.Emit(runID, "", schema.EventRunScheduled, map[string]any{
				"schedule_id": sched.ID,
				"workflow":    sched.WorkflowName,
				"cron":        sched.Cron,
			})
		}
	}

	if err := s.store.UpdateSchedule(ctx, sched.ID, store.ScheduleUpdate{LastRunAt: &now}); err != nil {
		logger.Error("advance schedule",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()))
	}
}

// NextRun computes when a cron expression fires next after from.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	expr, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return expr.Next(from), nil
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
