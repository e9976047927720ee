// Package jobs runs the periodic maintenance work: removing children whose
// parent is gone and opening the current week for every weekly-ops user.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"ignisos/api/internal/feed"
	"ignisos/api/internal/locale"
	"ignisos/api/internal/store"
	"ignisos/api/internal/util"
)

type Store interface {
	SweepOrphans(ctx context.Context) (store.SweepResult, error)
	UsersWithWeeks(ctx context.Context) ([]string, error)
	EnsureWeek(ctx context.Context, week store.Week) (store.Week, bool, error)
}

type SweepObserver interface {
	ObserveSweep(collection string, rows int64)
}

type Config struct {
	SweepSchedule string
	WeekSchedule  string
	Location      *time.Location
	// Timeout bounds a single job run.
	Timeout time.Duration
}

type Runner struct {
	store    Store
	hub      feed.Hub
	observer SweepObserver
	cfg      Config
	cron     *cron.Cron
	now      func() time.Time
}

func New(s Store, hub feed.Hub, observer SweepObserver, cfg Config) *Runner {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Runner{
		store:    s,
		hub:      hub,
		observer: observer,
		cfg:      cfg,
		cron:     cron.New(cron.WithLocation(cfg.Location)),
		now:      time.Now,
	}
}

// Start registers both jobs and starts the scheduler. An empty schedule
// disables that job.
func (r *Runner) Start() error {
	if r.cfg.SweepSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.SweepSchedule, r.job("sweep", r.Sweep)); err != nil {
			return fmt.Errorf("schedule sweep %q: %w", r.cfg.SweepSchedule, err)
		}
	}
	if r.cfg.WeekSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.WeekSchedule, r.job("week rollover", r.RollWeeks)); err != nil {
			return fmt.Errorf("schedule week rollover %q: %w", r.cfg.WeekSchedule, err)
		}
	}
	r.cron.Start()
	log.Printf("jobs: scheduler started (sweep=%q week=%q)", r.cfg.SweepSchedule, r.cfg.WeekSchedule)
	return nil
}

// Stop waits for running jobs, up to ctx.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Printf("jobs: stop timed out waiting for running jobs")
	}
}

func (r *Runner) job(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		defer cancel()
		started := time.Now()
		if err := fn(ctx); err != nil {
			log.Printf("jobs: %s failed after %s: %v", name, time.Since(started).Round(time.Millisecond), err)
			return
		}
		log.Printf("jobs: %s finished in %s", name, time.Since(started).Round(time.Millisecond))
	}
}

// Sweep deletes orphaned children and records the counts.
func (r *Runner) Sweep(ctx context.Context) error {
	result, err := r.store.SweepOrphans(ctx)
	if err != nil {
		return err
	}
	if r.observer != nil {
		r.observer.ObserveSweep(feed.CollectionMaintenance, result.MaintenanceTasks)
		r.observer.ObserveSweep(feed.CollectionKanban, result.KanbanTasks)
		r.observer.ObserveSweep(feed.CollectionWeekly, result.WeeklyTasks)
	}
	if result.Total() > 0 {
		log.Printf("jobs: swept %d orphans (maintenance=%d kanban=%d weekly=%d)",
			result.Total(), result.MaintenanceTasks, result.KanbanTasks, result.WeeklyTasks)
	}
	return nil
}

// RollWeeks makes sure every user with weeks has the current one.
func (r *Runner) RollWeeks(ctx context.Context) error {
	users, err := r.store.UsersWithWeeks(ctx)
	if err != nil {
		return err
	}
	name := locale.WeekName(r.now().In(r.cfg.Location))
	created := 0
	for _, userID := range users {
		week, isNew, err := r.store.EnsureWeek(ctx, store.Week{
			ID:     util.NewID("wk"),
			UserID: userID,
			Name:   name,
		})
		if err != nil {
			return fmt.Errorf("ensure week for %s: %w", userID, err)
		}
		if !isNew {
			continue
		}
		created++
		if r.hub != nil {
			if err := r.hub.Publish(ctx, feed.Change{
				Collection: feed.CollectionWeekly,
				Op:         feed.OpCreated,
				UserID:     userID,
				DocumentID: week.ID,
			}); err != nil {
				log.Printf("jobs: publish week %s: %v", week.ID, err)
			}
		}
	}
	if created > 0 {
		log.Printf("jobs: opened %q for %d users", name, created)
	}
	return nil
}
