package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

const appName = "aidigest"

// DefaultInterval is used for sources without an explicit interval.
const DefaultInterval = time.Hour

type Config struct {
	Settings   Settings `yaml:"settings"`
	AI         []Plugin `yaml:"ai"`
	Storage    []Plugin `yaml:"storage"`
	Sources    []Plugin `yaml:"sources"`
	Enrichers  []Plugin `yaml:"enrichers"`
	Generators []Plugin `yaml:"generators"`
	Server     Server   `yaml:"server"`
	Logging    Logging  `yaml:"logging"`
}

type Settings struct {
	RunOnce     bool   `yaml:"run_once"`
	OnlyFetch   bool   `yaml:"only_fetch"`
	SummaryHour int    `yaml:"summary_hour"`
	SnapshotDir string `yaml:"snapshot_dir"`
	DataDir     string `yaml:"data_dir"`
	Metrics     bool   `yaml:"metrics"`
}

// Plugin is one configured component. Params stay raw until the component's
// constructor decodes them.
type Plugin struct {
	Type     string        `yaml:"type"`
	Name     string        `yaml:"name"`
	Interval time.Duration `yaml:"interval"`
	Params   yaml.Node     `yaml:"params"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for aidigest.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// DataDir returns the XDG data directory for aidigest.
func DataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// ResolveConfigPath finds the config file following priority:
// explicit path > $XDG_CONFIG_HOME/aidigest/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'aidigest init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Settings: Settings{Metrics: true},
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	for i := range cfg.Sources {
		if cfg.Sources[i].Interval <= 0 {
			cfg.Sources[i].Interval = DefaultInterval
		}
	}
	return cfg, nil
}

// Validate checks that every plugin entry has a type and a name unique
// within its section.
func (c *Config) Validate() error {
	var errs []error
	if c.Settings.SummaryHour < 0 || c.Settings.SummaryHour > 23 {
		errs = append(errs, fmt.Errorf("settings.summary_hour must be 0-23, got %d", c.Settings.SummaryHour))
	}
	sections := []struct {
		name    string
		plugins []Plugin
	}{
		{"ai", c.AI},
		{"storage", c.Storage},
		{"sources", c.Sources},
		{"enrichers", c.Enrichers},
		{"generators", c.Generators},
	}
	for _, s := range sections {
		seen := make(map[string]bool)
		for i, p := range s.plugins {
			if p.Type == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: missing type", s.name, i))
			}
			if p.Name == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: missing name", s.name, i))
				continue
			}
			if seen[p.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate name %q", s.name, p.Name))
			}
			seen[p.Name] = true
		}
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Settings.DataDir != "" {
		return c.Settings.DataDir
	}
	return DataDir()
}

// GetSnapshotDir returns where daily summary snapshots are written.
func (c *Config) GetSnapshotDir() string {
	if c.Settings.SnapshotDir != "" {
		return c.Settings.SnapshotDir
	}
	return filepath.Join(c.GetDataDir(), "summaries")
}

// SlogLevel returns the configured log level, defaulting to INFO.
func (l Logging) SlogLevel() slog.Level {
	lvl, err := parseLevel(l.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level: unknown level %q", s)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Decode decodes the plugin's params into v, expanding ${VAR} references in
// string values from the environment. Empty params leave v untouched.
func (p Plugin) Decode(v any) error {
	if p.Params.Kind == 0 {
		return nil
	}
	node := expandEnv(&p.Params)
	if err := node.Decode(v); err != nil {
		return fmt.Errorf("%s %q params: %w", p.Type, p.Name, err)
	}
	return nil
}

// expandEnv returns a deep copy of n with environment references expanded.
func expandEnv(n *yaml.Node) *yaml.Node {
	cp := *n
	if cp.Kind == yaml.ScalarNode && envRef.MatchString(cp.Value) {
		cp.Value = envRef.ReplaceAllStringFunc(cp.Value, func(m string) string {
			return os.Getenv(envRef.FindStringSubmatch(m)[1])
		})
		// Let plain scalars resolve their type from the expanded value.
		if cp.Style == 0 {
			cp.Tag = ""
		}
	}
	if len(n.Content) > 0 {
		cp.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			cp.Content[i] = expandEnv(c)
		}
	}
	return &cp
}
