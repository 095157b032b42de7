// Package pipeline builds the configured runtime and drives it, either once
// or on a schedule.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/aggregator"
	"github.com/TobiSchelling/AIDigest/internal/config"
	"github.com/TobiSchelling/AIDigest/internal/content"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/metrics"
	"github.com/TobiSchelling/AIDigest/internal/registry"
	"github.com/TobiSchelling/AIDigest/internal/summary"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a pipeline run.
type Result struct {
	Steps []StepResult
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Runtime is the set of components built from a config.
type Runtime struct {
	Aggregator *aggregator.Aggregator
	Generators []*summary.Generator

	storages  []content.Storage
	intervals map[string]time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// Build constructs every configured plugin. Providers and storages are
// built first so sources, enrichers and generators can reference them by
// name. Storages are initialized here and closed again if a later plugin
// fails.
func Build(ctx context.Context, cfg *config.Config, reg *registry.Registry, log *slog.Logger, m *metrics.Metrics) (rt *Runtime, err error) {
	if log == nil {
		log = slog.Default()
	}
	env := registry.NewEnv(log, m, cfg.GetDataDir(), cfg.GetSnapshotDir())
	rt = &Runtime{
		Aggregator: aggregator.New(log, m),
		intervals:  make(map[string]time.Duration),
		log:        log,
		now:        time.Now,
	}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	for _, p := range cfg.AI {
		provider, err := reg.NewAI(p, env)
		if err != nil {
			return rt, err
		}
		env.AddProvider(p.Name, provider)
	}
	for i, p := range cfg.Storage {
		storage, err := reg.NewStorage(p, env)
		if err != nil {
			return rt, err
		}
		if err := storage.Init(ctx); err != nil {
			return rt, fmt.Errorf("storage %q: %w", p.Name, err)
		}
		rt.storages = append(rt.storages, storage)
		env.AddStorage(p.Name, storage)
		// Items go to the first configured storage.
		if i == 0 {
			rt.Aggregator.RegisterStorage(storage)
		}
	}
	for _, p := range cfg.Sources {
		src, err := reg.NewSource(p, env)
		if err != nil {
			return rt, err
		}
		rt.Aggregator.RegisterSource(src)
		rt.intervals[p.Name] = p.Interval
	}
	for _, p := range cfg.Enrichers {
		e, err := reg.NewEnricher(p, env)
		if err != nil {
			return rt, err
		}
		rt.Aggregator.RegisterEnricher(e)
	}
	for _, p := range cfg.Generators {
		g, err := reg.NewGenerator(p, env)
		if err != nil {
			return rt, err
		}
		rt.Generators = append(rt.Generators, g)
	}

	log.Info("runtime built",
		"providers", len(cfg.AI),
		"storages", len(rt.storages),
		"sources", len(cfg.Sources),
		"enrichers", len(cfg.Enrichers),
		"generators", len(rt.Generators),
	)
	return rt, nil
}

// Close closes every storage after its in-flight writes finish.
func (r *Runtime) Close() error {
	var errs []error
	for _, s := range r.storages {
		if err := s.Close(); err != nil && !errors.Is(err, database.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Storage returns the storage items are written to, or nil when none is
// configured.
func (r *Runtime) Storage() content.Storage {
	if len(r.storages) == 0 {
		return nil
	}
	return r.storages[0]
}

// Interval returns how often the named source is fetched.
func (r *Runtime) Interval(name string) time.Duration {
	if d, ok := r.intervals[name]; ok && d > 0 {
		return d
	}
	return config.DefaultInterval
}

// Fetch fetches and stores one source, or every source when name is empty.
func (r *Runtime) Fetch(ctx context.Context, name string) *Result {
	res := &Result{}
	for _, s := range r.Aggregator.Sources() {
		if name != "" && s.Name() != name {
			continue
		}
		res.Steps = append(res.Steps, r.fetchStep(ctx, s.Name()))
	}
	if name != "" && len(res.Steps) == 0 {
		res.Steps = append(res.Steps, StepResult{
			Name: "Fetch " + name,
			Err:  fmt.Errorf("%w: %s", aggregator.ErrUnknownSource, name),
		})
	}
	return res
}

func (r *Runtime) fetchStep(ctx context.Context, name string) StepResult {
	r.log.Info("fetching source", "source", name)
	saved, err := r.Aggregator.FetchAndStore(ctx, name)
	if err != nil {
		return StepResult{Name: "Fetch " + name, Err: err}
	}
	return StepResult{Name: "Fetch " + name, Summary: fmt.Sprintf("Stored %d items", len(saved))}
}

// Generate makes sure every generator has a summary for yesterday.
func (r *Runtime) Generate(ctx context.Context) *Result {
	res := &Result{}
	for _, g := range r.Generators {
		res.Steps = append(res.Steps, generateStep(ctx, g))
	}
	return res
}

func generateStep(ctx context.Context, g *summary.Generator) StepResult {
	name := "Generate " + g.Type()
	out, err := g.GenerateContent(ctx)
	switch {
	case errors.Is(err, summary.ErrNoContent):
		return StepResult{Name: name, Summary: "No content to summarize"}
	case err != nil:
		return StepResult{Name: name, Err: err}
	case out.Generated:
		return StepResult{Name: name, Summary: fmt.Sprintf("Generated summary for %s with %d categories", out.Day, len(out.Summary.Categories))}
	case out.Rewritten:
		return StepResult{Name: name, Summary: fmt.Sprintf("Summary for %s exists; snapshot restored from database", out.Day)}
	default:
		return StepResult{Name: name, Summary: fmt.Sprintf("Summary for %s already exists", out.Day)}
	}
}

// GenerateDay summarizes one calendar day with every generator.
func (r *Runtime) GenerateDay(ctx context.Context, day string) *Result {
	res := &Result{}
	for _, g := range r.Generators {
		name := fmt.Sprintf("Generate %s for %s", g.Type(), day)
		s, err := g.GenerateForDay(ctx, day)
		switch {
		case errors.Is(err, summary.ErrNoContent):
			res.Steps = append(res.Steps, StepResult{Name: name, Summary: "No content to summarize"})
		case err != nil:
			res.Steps = append(res.Steps, StepResult{Name: name, Err: err})
		default:
			res.Steps = append(res.Steps, StepResult{Name: name, Summary: fmt.Sprintf("Generated %d categories", len(s.Categories))})
		}
	}
	return res
}

// RunOnce fetches every source once, then generates unless onlyFetch is set.
func (r *Runtime) RunOnce(ctx context.Context, onlyFetch bool) *Result {
	res := r.Fetch(ctx, "")
	if !onlyFetch {
		res.Steps = append(res.Steps, r.Generate(ctx).Steps...)
	}
	return res
}

// Historical backfills the days selected by filter for one source, or every
// historical source when name is empty, then summarizes each day unless
// onlyFetch is set.
func (r *Runtime) Historical(ctx context.Context, name string, filter aggregator.DateFilter, onlyFetch bool) (*Result, error) {
	days, err := filter.Days(r.now())
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, errors.New("date filter selects no days")
	}

	var names []string
	for _, s := range r.Aggregator.Sources() {
		if name != "" && s.Name() != name {
			continue
		}
		if _, ok := s.(content.HistoricalSource); !ok {
			if name != "" {
				return nil, fmt.Errorf("%s: %w", name, content.ErrNotHistorical)
			}
			continue
		}
		names = append(names, s.Name())
	}
	if name != "" && len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", aggregator.ErrUnknownSource, name)
	}

	res := &Result{}
	for _, n := range names {
		r.log.Info("backfilling source", "source", n, "from", days[0], "to", days[len(days)-1])
		total, err := r.Aggregator.FetchAndStoreRange(ctx, n, filter, r.now())
		step := StepResult{Name: "Backfill " + n, Summary: fmt.Sprintf("Stored %d items over %d days", total, len(days))}
		if err != nil {
			step.Err = err
		}
		res.Steps = append(res.Steps, step)
	}

	if onlyFetch {
		return res, nil
	}
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Steps = append(res.Steps, r.GenerateDay(ctx, day).Steps...)
	}
	return res, nil
}

// DryRun describes what a scheduled run would do without executing.
func (r *Runtime) DryRun() *Result {
	res := &Result{}
	for _, s := range r.Aggregator.Sources() {
		kind := "live"
		if _, ok := s.(content.HistoricalSource); ok {
			kind = "live+historical"
		}
		res.Steps = append(res.Steps, StepResult{
			Name:    "Source " + s.Name(),
			Summary: fmt.Sprintf("[dry-run] %s, fetched every %s", kind, r.Interval(s.Name())),
		})
	}
	for _, g := range r.Generators {
		dir := g.OutputDir()
		if dir == "" {
			dir = "(no snapshots)"
		}
		res.Steps = append(res.Steps, StepResult{
			Name:    "Generator " + g.Type(),
			Summary: fmt.Sprintf("[dry-run] daily summary, snapshots in %s", dir),
		})
	}
	return res
}
