// Package config loads process configuration from flags, environment
// variables, a YAML file, and built-in defaults, in that precedence order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for an arc-memory process.
type Config struct {
	// ArcDir is the user-specific "arc directory" laid out per §6.1:
	// graph.db, .attest/, sim/, log/.
	ArcDir string `yaml:"arc_dir"`

	Store   StoreConfig            `yaml:"store"`
	Sources SourcesConfig          `yaml:"sources"`
	Export  ExportConfig           `yaml:"export"`
	Sim     SimConfig              `yaml:"sim"`
}

// StoreConfig selects and configures the graph store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "bbolt" (default), "sqlite", "postgres"
	DSN     string `yaml:"dsn"`     // postgres connection string, when Backend=="postgres"
	Path    string `yaml:"path"`    // file path, when Backend=="bbolt" or "sqlite"
}

// SourcesConfig carries the enumerated per-ingestor configuration objects
// of spec §6.4. Unknown keys in a raw map are ignored by each ingestor's
// own parser; missing required keys are a configuration error raised
// before any network call.
type SourcesConfig struct {
	Git          GitSourceConfig          `yaml:"git"`
	CodeHosting  CodeHostingSourceConfig  `yaml:"code_hosting"`
	Ticketing    TicketingSourceConfig    `yaml:"ticketing"`
	DocPlatformA DocPlatformSourceConfig  `yaml:"doc_platform_a"` // Linear-like
	DocPlatformB DocPlatformSourceConfig  `yaml:"doc_platform_b"` // Notion-like
	ADR          ADRSourceConfig          `yaml:"adr"`
	Enabled      map[string]bool          `yaml:"enabled"`
}

type GitSourceConfig struct {
	MaxCommits      int    `yaml:"max_commits"`
	Days            int    `yaml:"days"`
	LastCommitHash  string `yaml:"last_commit_hash"`
}

type CodeHostingSourceConfig struct {
	Token  string `yaml:"token"`
	Owner  string `yaml:"owner"`
	Repo   string `yaml:"repo"`
}

type TicketingSourceConfig struct {
	Token       string   `yaml:"token"`
	CloudID     string   `yaml:"cloud_id"`
	ProjectKeys []string `yaml:"project_keys"`
}

type DocPlatformSourceConfig struct {
	Token       string   `yaml:"token"`
	DatabaseIDs []string `yaml:"database_ids"`
	PageIDs     []string `yaml:"page_ids"`
}

type ADRSourceConfig struct {
	GlobPattern string `yaml:"glob_pattern"`
}

// ExportConfig configures the export engine (C5).
type ExportConfig struct {
	MaxHops  int    `yaml:"max_hops"`
	SignKeyID string `yaml:"sign_key_id"` // gpg fingerprint, empty disables signing
	Gzip     bool   `yaml:"gzip"`
}

// SimConfig configures the simulation workflow (C8).
type SimConfig struct {
	SandboxBackend string        `yaml:"sandbox_backend"` // "docker" or "mock"
	Timeout        time.Duration `yaml:"timeout"`
	MetricInterval time.Duration `yaml:"metric_interval"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	arcDir := filepath.Join(home, ".arc")
	return &Config{
		ArcDir: arcDir,
		Store: StoreConfig{
			Backend: "bbolt",
			Path:    filepath.Join(arcDir, "graph.db"),
		},
		Sources: SourcesConfig{
			Git: GitSourceConfig{
				MaxCommits: 10000,
				Days:       0,
			},
			ADR: ADRSourceConfig{
				GlobPattern: "**/adr/**/*.md",
			},
			Enabled: map[string]bool{
				"git": true,
				"adr": true,
			},
		},
		Export: ExportConfig{
			MaxHops: 1,
			Gzip:    false,
		},
		Sim: SimConfig{
			SandboxBackend: "mock",
			Timeout:        5 * time.Minute,
			MetricInterval: 2 * time.Second,
		},
	}
}

// Load reads configuration from path (or standard search locations when
// path is empty), applying: flags (handled by the caller via cobra before
// Load returns) > environment (ARC_*, via viper.AutomaticEnv after
// LoadEnvFiles) > YAML file > Default().
func Load(path string) (*Config, error) {
	LoadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ARC")
	v.AutomaticEnv()

	cfg := Default()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".arc")
		v.AddConfigPath(".")
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".arc"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides lets a small set of well-known env vars win over the
// YAML file even when viper's automatic binding doesn't reach a nested
// field, mirroring the explicit-override style used for credentials.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("ARC_GITHUB_TOKEN"); token != "" {
		cfg.Sources.CodeHosting.Token = token
	}
	if token := os.Getenv("ARC_JIRA_TOKEN"); token != "" {
		cfg.Sources.Ticketing.Token = token
	}
	if token := os.Getenv("ARC_LINEAR_TOKEN"); token != "" {
		cfg.Sources.DocPlatformA.Token = token
	}
	if token := os.Getenv("ARC_NOTION_TOKEN"); token != "" {
		cfg.Sources.DocPlatformB.Token = token
	}
	if dsn := os.Getenv("ARC_POSTGRES_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if dir := os.Getenv("ARC_DIR"); dir != "" {
		cfg.ArcDir = expandPath(dir)
	}
}

func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, path[1:])
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("arc_dir", c.ArcDir)
	v.Set("store", c.Store)
	v.Set("sources", c.Sources)
	v.Set("export", c.Export)
	v.Set("sim", c.Sim)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Layout describes the on-disk "arc directory" layout of spec §6.1.
type Layout struct {
	GraphDB      string
	AttestDir    string
	SimDir       string
	LogDir       string
	TelemetryLog string
}

// LayoutFor derives the Layout for a given ArcDir.
func LayoutFor(arcDir string) Layout {
	return Layout{
		GraphDB:      filepath.Join(arcDir, "graph.db"),
		AttestDir:    filepath.Join(arcDir, ".attest"),
		SimDir:       filepath.Join(arcDir, "sim"),
		LogDir:       filepath.Join(arcDir, "log"),
		TelemetryLog: filepath.Join(arcDir, "log", "telemetry.jsonl"),
	}
}

// EnsureLayout creates every directory in Layout that doesn't already exist.
func (l Layout) EnsureLayout() error {
	for _, dir := range []string{filepath.Dir(l.GraphDB), l.AttestDir, l.SimDir, l.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
