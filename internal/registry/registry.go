// Package registry maps configured plugin types to their constructors and
// resolves the named references between plugins.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/TobiSchelling/AIDigest/internal/config"
	"github.com/TobiSchelling/AIDigest/internal/content"
	"github.com/TobiSchelling/AIDigest/internal/llm"
	"github.com/TobiSchelling/AIDigest/internal/metrics"
	"github.com/TobiSchelling/AIDigest/internal/summary"
)

var (
	// ErrUnknownType is returned for a plugin type with no constructor.
	ErrUnknownType = errors.New("unknown plugin type")
	// ErrUnresolvedRef is returned when a plugin names a provider or storage
	// that was not configured.
	ErrUnresolvedRef = errors.New("unresolved reference")
)

type (
	AIFactory        func(p config.Plugin, env *Env) (llm.Provider, error)
	StorageFactory   func(p config.Plugin, env *Env) (content.Storage, error)
	SourceFactory    func(p config.Plugin, env *Env) (content.Source, error)
	EnricherFactory  func(p config.Plugin, env *Env) (content.Enricher, error)
	GeneratorFactory func(p config.Plugin, env *Env) (*summary.Generator, error)
)

// Env carries shared dependencies and the leaf plugins (providers and
// storages) already built, so later plugins can reference them by name.
type Env struct {
	Log         *slog.Logger
	Metrics     *metrics.Metrics
	DataDir     string
	SnapshotDir string

	providers map[string]llm.Provider
	storages  map[string]content.Storage
}

func NewEnv(log *slog.Logger, m *metrics.Metrics, dataDir, snapshotDir string) *Env {
	if log == nil {
		log = slog.Default()
	}
	return &Env{
		Log:         log,
		Metrics:     m,
		DataDir:     dataDir,
		SnapshotDir: snapshotDir,
		providers:   make(map[string]llm.Provider),
		storages:    make(map[string]content.Storage),
	}
}

func (e *Env) AddProvider(name string, p llm.Provider)     { e.providers[name] = p }
func (e *Env) AddStorage(name string, s content.Storage) { e.storages[name] = s }

// Provider resolves a named AI provider.
func (e *Env) Provider(name string) (llm.Provider, error) {
	p, ok := e.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, ErrUnresolvedRef)
	}
	return p, nil
}

// Storage resolves a named storage.
func (e *Env) Storage(name string) (content.Storage, error) {
	s, ok := e.storages[name]
	if !ok {
		return nil, fmt.Errorf("storage %q: %w", name, ErrUnresolvedRef)
	}
	return s, nil
}

// Storages returns every built storage, keyed by name.
func (e *Env) Storages() map[string]content.Storage {
	return e.storages
}

// Registry holds the constructors for each plugin kind.
type Registry struct {
	ai         map[string]AIFactory
	storage    map[string]StorageFactory
	sources    map[string]SourceFactory
	enrichers  map[string]EnricherFactory
	generators map[string]GeneratorFactory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		ai:         make(map[string]AIFactory),
		storage:    make(map[string]StorageFactory),
		sources:    make(map[string]SourceFactory),
		enrichers:  make(map[string]EnricherFactory),
		generators: make(map[string]GeneratorFactory),
	}
}

func (r *Registry) RegisterAI(typ string, f AIFactory)               { r.ai[typ] = f }
func (r *Registry) RegisterStorage(typ string, f StorageFactory)     { r.storage[typ] = f }
func (r *Registry) RegisterSource(typ string, f SourceFactory)       { r.sources[typ] = f }
func (r *Registry) RegisterEnricher(typ string, f EnricherFactory)   { r.enrichers[typ] = f }
func (r *Registry) RegisterGenerator(typ string, f GeneratorFactory) { r.generators[typ] = f }

func unknown(kind string, p config.Plugin) error {
	return fmt.Errorf("%s %q: %w %q", kind, p.Name, ErrUnknownType, p.Type)
}

func (r *Registry) NewAI(p config.Plugin, env *Env) (llm.Provider, error) {
	f, ok := r.ai[p.Type]
	if !ok {
		return nil, unknown("ai", p)
	}
	return f(p, env)
}

func (r *Registry) NewStorage(p config.Plugin, env *Env) (content.Storage, error) {
	f, ok := r.storage[p.Type]
	if !ok {
		return nil, unknown("storage", p)
	}
	return f(p, env)
}

func (r *Registry) NewSource(p config.Plugin, env *Env) (content.Source, error) {
	f, ok := r.sources[p.Type]
	if !ok {
		return nil, unknown("source", p)
	}
	return f(p, env)
}

func (r *Registry) NewEnricher(p config.Plugin, env *Env) (content.Enricher, error) {
	f, ok := r.enrichers[p.Type]
	if !ok {
		return nil, unknown("enricher", p)
	}
	return f(p, env)
}

func (r *Registry) NewGenerator(p config.Plugin, env *Env) (*summary.Generator, error) {
	f, ok := r.generators[p.Type]
	if !ok {
		return nil, unknown("generator", p)
	}
	return f(p, env)
}

// SourceTypes lists the registered source types, sorted.
func (r *Registry) SourceTypes() []string {
	types := make([]string, 0, len(r.sources))
	for t := range r.sources {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
