// Package schedule fires schedule events for the cron entries a workflow
// declares. Expressions are evaluated in UTC.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"workflowci/internal/core"
	"workflowci/internal/logger"
)

// FireFunc receives each schedule event.
type FireFunc func(ev core.Event)

// Scheduler wraps a cron instance running in UTC.
type Scheduler struct {
	cron    *cron.Cron
	fire    FireFunc
	entries map[string]cron.EntryID
}

func NewScheduler(fire FireFunc) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		fire:    fire,
		entries: make(map[string]cron.EntryID),
	}
}

// Register adds one entry per distinct cron expression of w.
func (s *Scheduler) Register(w *core.Workflow) error {
	for _, sched := range w.On.Schedule {
		expr := sched.Cron
		if _, ok := s.entries[expr]; ok {
			continue
		}
		id, err := s.cron.AddFunc(expr, func() {
			ev := core.Event{Name: core.EventSchedule, Schedule: expr, Time: time.Now().UTC()}
			logger.LogInfo("schedule fired", map[string]interface{}{"cron": expr, "workflow": w.Name})
			s.fire(ev)
		})
		if err != nil {
			return fmt.Errorf("schedule %q: %w", expr, err)
		}
		s.entries[expr] = id
		logger.LogDebug("schedule registered", map[string]interface{}{
			"cron": expr,
			"next": s.cron.Entry(id).Schedule.Next(time.Now().UTC()).Format(time.RFC3339),
		})
	}
	return nil
}

// Next returns the next firing time of each registered expression after t.
func (s *Scheduler) Next(t time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(s.entries))
	for expr, id := range s.entries {
		out[expr] = s.cron.Entry(id).Schedule.Next(t.UTC())
	}
	return out
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running callbacks to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
