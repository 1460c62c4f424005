// Package schedule fires schedule-only executions for workflows with cron
// triggers.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/docflow/docflow/pkg/models"
	"github.com/docflow/docflow/pkg/workflow"
	"github.com/robfig/cron/v3"
)

// InitiatedBy marks executions started by the scheduler.
const InitiatedBy = "scheduler"

// Runner executes one workflow request. *workflow.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, req workflow.Request) (*models.Execution, error)
}

// Source lists the workflows the scheduler should know about.
type Source func(ctx context.Context) ([]*models.Workflow, error)

// Entry is one registered cron job.
type Entry struct {
	WorkflowID string    `json:"workflow_id"`
	Version    int       `json:"version"`
	Cron       string    `json:"cron"`
	Next       time.Time `json:"next"`
}

type entryKey struct {
	workflowID string
	version    int
	cron       string
}

type Scheduler struct {
	logger  *slog.Logger
	runner  Runner
	matcher *workflow.TriggerMatcher
	cron    *cron.Cron

	mu      sync.Mutex
	entries map[entryKey]cron.EntryID
}

func NewScheduler(logger *slog.Logger, runner Runner) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLogger := slogAdapter{logger: logger}

	return &Scheduler{
		logger:  logger,
		runner:  runner,
		matcher: workflow.NewTriggerMatcher(logger),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		), cron.WithLogger(cronLogger)),
		entries: make(map[entryKey]cron.EntryID),
	}
}

// Sync reconciles the registered jobs with the schedule triggers of the
// given workflows. Jobs of removed, disabled or superseded workflow versions
// are dropped.
func (s *Scheduler) Sync(ctx context.Context, workflows []*models.Workflow) error {
	wanted := make(map[entryKey]models.Trigger)

	for _, match := range s.matcher.ScheduledTriggers(workflows) {
		wanted[entryKey{match.Workflow.ID, match.Workflow.Version, match.Trigger.Cron}] = match.Trigger
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, id := range s.entries {
		if _, ok := wanted[key]; !ok {
			s.cron.Remove(id)
			delete(s.entries, key)
			s.logger.InfoContext(ctx, "Removed schedule", "workflow_id", key.workflowID, "version", key.version, "cron", key.cron)
		}
	}

	var errs []error

	for key := range wanted {
		if _, ok := s.entries[key]; ok {
			continue
		}

		schedule, err := models.ParseCron(key.cron)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: invalid cron expression %q: %w", key.workflowID, key.cron, err))

			continue
		}

		s.entries[key] = s.cron.Schedule(schedule, s.job(key))
		s.logger.InfoContext(ctx, "Added schedule", "workflow_id", key.workflowID, "version", key.version, "cron", key.cron)
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to schedule %d trigger(s): %w", len(errs), errors.Join(errs...))
	}

	return nil
}

// job pins the workflow version the trigger belongs to.
func (s *Scheduler) job(key entryKey) cron.FuncJob {
	return func() {
		ctx := context.Background()

		s.logger.InfoContext(ctx, "Schedule fired", "workflow_id", key.workflowID, "version", key.version, "cron", key.cron)

		execution, err := s.runner.Execute(ctx, workflow.Request{
			WorkflowID:  key.workflowID,
			Version:     key.version,
			Trigger:     models.TriggerSchedule,
			InitiatedBy: InitiatedBy,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduled execution rejected", "workflow_id", key.workflowID, "error", err)

			return
		}

		s.logger.InfoContext(ctx, "Scheduled execution finished",
			"workflow_id", key.workflowID,
			"execution_id", execution.ID,
			"status", execution.Status)
	}
}

// Entries lists the registered jobs ordered by workflow id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))

	for key, id := range s.entries {
		out = append(out, Entry{
			WorkflowID: key.workflowID,
			Version:    key.version,
			Cron:       key.cron,
			Next:       s.cron.Entry(id).Next,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkflowID != out[j].WorkflowID {
			return out[i].WorkflowID < out[j].WorkflowID
		}

		return out[i].Cron < out[j].Cron
	})

	return out
}

// Run starts the cron loop and re-reads the source every interval until ctx
// is done. Running jobs are waited for before returning.
func (s *Scheduler) Run(ctx context.Context, source Source, interval time.Duration) error {
	if err := s.reload(ctx, source); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "entries", len(s.Entries()), "reload_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info("Scheduler stopped")

			return nil
		case <-ticker.C:
			if err := s.reload(ctx, source); err != nil {
				s.logger.ErrorContext(ctx, "Failed to reload schedules", "error", err)
			}
		}
	}
}

func (s *Scheduler) reload(ctx context.Context, source Source) error {
	workflows, err := source(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	return s.Sync(ctx, workflows)
}

// slogAdapter routes cron's own logging through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error(msg, append(keysAndValues, "error", err)...)
}
