package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/AIDigest/internal/aggregator"
)

// Scheduler fetches each source on its own interval and generates the daily
// summaries once a day.
type Scheduler struct {
	rt          *Runtime
	summaryHour int
	onlyFetch   bool
	watch       bool
	now         func() time.Time
	log         *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSummaryHour sets the UTC hour of the daily generation.
func WithSummaryHour(h int) SchedulerOption {
	return func(s *Scheduler) { s.summaryHour = h }
}

// WithOnlyFetch disables generation.
func WithOnlyFetch(only bool) SchedulerOption {
	return func(s *Scheduler) { s.onlyFetch = only }
}

// WithSnapshotWatch restores edited snapshot files while running.
func WithSnapshotWatch(watch bool) SchedulerOption {
	return func(s *Scheduler) { s.watch = watch }
}

func NewScheduler(rt *Runtime, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{rt: rt, now: time.Now, log: rt.log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run fetches every source immediately and then on its interval until ctx
// is cancelled. A tick that arrives while the source's previous fetch is
// still running is skipped. Run returns after in-flight jobs finish.
func (s *Scheduler) Run(ctx context.Context) error {
	var jobs sync.WaitGroup
	defer jobs.Wait()

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range s.rt.Aggregator.Sources() {
		name := src.Name()
		interval := s.rt.Interval(name)
		g.Go(func() error {
			s.loopSource(ctx, name, interval, &jobs)
			return nil
		})
	}
	if !s.onlyFetch && len(s.rt.Generators) > 0 {
		g.Go(func() error {
			s.loopSummary(ctx)
			return nil
		})
	}
	if s.watch {
		for _, gen := range s.rt.Generators {
			g.Go(func() error {
				if err := gen.Watch(ctx); err != nil {
					s.log.Error("snapshot watcher stopped", "type", gen.Type(), "error", err)
				}
				return nil
			})
		}
	}

	s.log.Info("scheduler started", "sources", len(s.rt.Aggregator.Sources()), "generators", len(s.rt.Generators))
	err := g.Wait()
	s.log.Info("scheduler stopping, waiting for in-flight jobs")
	return err
}

func (s *Scheduler) loopSource(ctx context.Context, name string, interval time.Duration, jobs *sync.WaitGroup) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.dispatch(ctx, name, jobs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, name, jobs)
		}
	}
}

// dispatch runs one fetch without blocking the ticker, so an overlapping
// tick reaches the aggregator's in-progress guard and is skipped there.
func (s *Scheduler) dispatch(ctx context.Context, name string, jobs *sync.WaitGroup) {
	jobs.Add(1)
	go func() {
		defer jobs.Done()
		saved, err := s.rt.Aggregator.FetchAndStore(ctx, name)
		switch {
		case errors.Is(err, aggregator.ErrFetchInProgress):
			s.log.Info("previous fetch still running, skipping tick", "source", name)
		case err != nil:
			s.log.Error("scheduled fetch failed", "source", name, "error", err)
		default:
			s.log.Info("scheduled fetch complete", "source", name, "stored", len(saved))
		}
	}()
}

func (s *Scheduler) loopSummary(ctx context.Context) {
	s.generate(ctx)
	for {
		next := nextRun(s.now(), s.summaryHour)
		s.log.Debug("next summary run", "at", next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.generate(ctx)
		}
	}
}

func (s *Scheduler) generate(ctx context.Context) {
	for _, g := range s.rt.Generators {
		step := generateStep(ctx, g)
		if step.Err != nil {
			if !errors.Is(step.Err, context.Canceled) {
				s.log.Error("summary generation failed", "type", g.Type(), "error", step.Err)
			}
			continue
		}
		s.log.Info(step.Summary, "type", g.Type())
	}
}

// nextRun returns the first time after now at hour:00 UTC.
func nextRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
