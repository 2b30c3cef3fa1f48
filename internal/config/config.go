// Package config provides configuration management for the grading platform.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (SINGULARITY_*)
// 3. Project config (.singularity/config.yaml in cwd)
// 4. Home config (~/.singularity/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all grading-platform configuration.
type Config struct {
	// Store settings for PersistentStore.
	Store StoreConfig `yaml:"store" json:"store"`

	// Journal settings for JournalStore.
	Journal JournalConfig `yaml:"journal" json:"journal"`

	// Patchsets settings for where released patchset bytes live on disk.
	Patchsets PatchsetsConfig `yaml:"patchsets" json:"patchsets"`

	// Mail settings for raw per-message bodies and per-assignment rubrics.
	Mail MailConfig `yaml:"mail" json:"mail"`

	// Git settings for the shared grading repository.
	Git GitConfig `yaml:"git" json:"git"`

	// Auth settings for AuthGateway.
	Auth AuthConfig `yaml:"auth" json:"auth"`

	// Orchestrator settings for the scheduler daemon.
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`

	// Metrics settings for the operator-facing HTTP surface.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Verbose enables verbose logging output.
	Verbose bool `yaml:"verbose" json:"verbose"`
}

// StoreConfig holds PersistentStore settings.
type StoreConfig struct {
	// DSN is the sqlite DSN (file path, optionally with query params).
	// Default: .singularity/singularity.db
	DSN string `yaml:"dsn" json:"dsn"`
}

// JournalConfig holds JournalStore settings.
type JournalConfig struct {
	// Root is the directory containing the journal file and visibility side-file.
	// Default: .singularity/journal
	Root string `yaml:"root" json:"root"`
}

// PatchsetsConfig holds settings for released patchset storage.
type PatchsetsConfig struct {
	// Root is the directory holding one file per submission_id.
	// Default: .singularity/patchsets
	Root string `yaml:"root" json:"root"`
}

// MailConfig holds settings for where raw per-message mail bodies and
// per-assignment rubric files live on disk.
type MailConfig struct {
	// Root is the directory holding one file per message id.
	// Default: .singularity/mail
	Root string `yaml:"root" json:"root"`

	// RubricRoot is the directory holding one rubric YAML file per
	// assignment name. Default: .singularity/rubrics
	RubricRoot string `yaml:"rubric_root" json:"rubric_root"`
}

// GitConfig holds settings for the shared grading repository.
type GitConfig struct {
	// RemoteURL is the single remote pushed to and pulled from.
	RemoteURL string `yaml:"remote_url" json:"remote_url"`

	// WorkRoot is where ephemeral clones/worktrees are created.
	// Default: .singularity/git-work
	WorkRoot string `yaml:"work_root" json:"work_root"`
}

// AuthConfig holds AuthGateway settings.
type AuthConfig struct {
	// SessionTTLMinutes is the session token time-to-live. Default: 180.
	SessionTTLMinutes int `yaml:"session_ttl_minutes" json:"session_ttl_minutes"`
}

// OrchestratorConfig holds scheduler settings.
type OrchestratorConfig struct {
	// TriggerDir is the fsnotify-watched directory for manual TRIGGER files.
	// Default: .singularity/triggers
	TriggerDir string `yaml:"trigger_dir" json:"trigger_dir"`

	// PidFile records the orchestrator's PID for Configurator reload delivery
	// (trigger uses TriggerDir instead).
	// Default: .singularity/orchestrator.pid
	PidFile string `yaml:"pid_file" json:"pid_file"`

	// DirtyFile is touched by Configurator after every mutating subcommand.
	// Default: .singularity/dirty
	DirtyFile string `yaml:"dirty_file" json:"dirty_file"`
}

// MetricsConfig holds the operator metrics HTTP surface settings.
type MetricsConfig struct {
	// Addr is the bind address, e.g. ":9090". Empty disables the surface.
	Addr string `yaml:"addr" json:"addr"`

	// CORSOrigin is the single allowed origin for the operator dashboard.
	CORSOrigin string `yaml:"cors_origin" json:"cors_origin"`

	// SlackWebhookURL, if set, enables best-effort operator alerts.
	SlackWebhookURL string `yaml:"slack_webhook_url" json:"slack_webhook_url"`
}

// Default config values (used in resolution and validation).
const (
	defaultStoreDSN      = ".singularity/singularity.db"
	defaultJournalRoot   = ".singularity/journal"
	defaultPatchsetRoot  = ".singularity/patchsets"
	defaultGitWorkRoot   = ".singularity/git-work"
	defaultMailRoot      = ".singularity/mail"
	defaultRubricRoot    = ".singularity/rubrics"
	defaultSessionTTLMin = 180
	defaultTriggerDir    = ".singularity/triggers"
	defaultPidFile       = ".singularity/orchestrator.pid"
	defaultDirtyFile     = ".singularity/dirty"
	defaultMetricsAddr   = ":9090"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Store:   StoreConfig{DSN: defaultStoreDSN},
		Journal: JournalConfig{Root: defaultJournalRoot},
		Patchsets: PatchsetsConfig{
			Root: defaultPatchsetRoot,
		},
		Mail: MailConfig{
			Root:       defaultMailRoot,
			RubricRoot: defaultRubricRoot,
		},
		Git: GitConfig{
			WorkRoot: defaultGitWorkRoot,
		},
		Auth: AuthConfig{
			SessionTTLMinutes: defaultSessionTTLMin,
		},
		Orchestrator: OrchestratorConfig{
			TriggerDir: defaultTriggerDir,
			PidFile:    defaultPidFile,
			DirtyFile:  defaultDirtyFile,
		},
		Metrics: MetricsConfig{
			Addr: defaultMetricsAddr,
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if homeConfig, _ := loadFromPath(homeConfigPath()); homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	if projectConfig, _ := loadFromPath(projectConfigPath()); projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".singularity", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("SINGULARITY_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".singularity", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("SINGULARITY_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("SINGULARITY_JOURNAL_ROOT"); v != "" {
		cfg.Journal.Root = v
	}
	if v := os.Getenv("SINGULARITY_PATCHSET_ROOT"); v != "" {
		cfg.Patchsets.Root = v
	}
	if v := os.Getenv("SINGULARITY_GIT_REMOTE_URL"); v != "" {
		cfg.Git.RemoteURL = v
	}
	if v := os.Getenv("SINGULARITY_GIT_WORK_ROOT"); v != "" {
		cfg.Git.WorkRoot = v
	}
	if v := os.Getenv("SINGULARITY_MAIL_ROOT"); v != "" {
		cfg.Mail.Root = v
	}
	if v := os.Getenv("SINGULARITY_RUBRIC_ROOT"); v != "" {
		cfg.Mail.RubricRoot = v
	}
	if v := os.Getenv("SINGULARITY_ORCHESTRATOR_TRIGGER_DIR"); v != "" {
		cfg.Orchestrator.TriggerDir = v
	}
	if v := os.Getenv("SINGULARITY_ORCHESTRATOR_PID_FILE"); v != "" {
		cfg.Orchestrator.PidFile = v
	}
	if v := os.Getenv("SINGULARITY_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("SINGULARITY_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Metrics.SlackWebhookURL = v
	}
	if v := os.Getenv("SINGULARITY_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	return cfg
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	if src.Store.DSN != "" {
		dst.Store.DSN = src.Store.DSN
	}
	if src.Journal.Root != "" {
		dst.Journal.Root = src.Journal.Root
	}
	if src.Patchsets.Root != "" {
		dst.Patchsets.Root = src.Patchsets.Root
	}
	if src.Git.RemoteURL != "" {
		dst.Git.RemoteURL = src.Git.RemoteURL
	}
	if src.Git.WorkRoot != "" {
		dst.Git.WorkRoot = src.Git.WorkRoot
	}
	if src.Mail.Root != "" {
		dst.Mail.Root = src.Mail.Root
	}
	if src.Mail.RubricRoot != "" {
		dst.Mail.RubricRoot = src.Mail.RubricRoot
	}
	if src.Auth.SessionTTLMinutes != 0 {
		dst.Auth.SessionTTLMinutes = src.Auth.SessionTTLMinutes
	}
	if src.Orchestrator.TriggerDir != "" {
		dst.Orchestrator.TriggerDir = src.Orchestrator.TriggerDir
	}
	if src.Orchestrator.PidFile != "" {
		dst.Orchestrator.PidFile = src.Orchestrator.PidFile
	}
	if src.Orchestrator.DirtyFile != "" {
		dst.Orchestrator.DirtyFile = src.Orchestrator.DirtyFile
	}
	if src.Metrics.Addr != "" {
		dst.Metrics.Addr = src.Metrics.Addr
	}
	if src.Metrics.CORSOrigin != "" {
		dst.Metrics.CORSOrigin = src.Metrics.CORSOrigin
	}
	if src.Metrics.SlackWebhookURL != "" {
		dst.Metrics.SlackWebhookURL = src.Metrics.SlackWebhookURL
	}
	if src.Verbose {
		dst.Verbose = true
	}
	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.singularity/config.yaml"
	SourceProject Source = ".singularity/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// Resolved pairs a resolved value with the layer that provided it.
type Resolved struct {
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
}

// resolveStringField resolves a string through the precedence chain.
func resolveStringField(home, project, env, flag, def string) Resolved {
	result := Resolved{Value: def, Source: SourceDefault}
	if home != "" {
		result = Resolved{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = Resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = Resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = Resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// ResolvedConfig shows config values with their sources. No binary in this
// repository calls Resolve; `dump` prints the assignment table, not this.
type ResolvedConfig struct {
	StoreDSN      Resolved `json:"store_dsn"`
	JournalRoot   Resolved `json:"journal_root"`
	PatchsetRoot  Resolved `json:"patchset_root"`
	GitRemoteURL  Resolved `json:"git_remote_url"`
	TriggerDir    Resolved `json:"trigger_dir"`
	MetricsAddr   Resolved `json:"metrics_addr"`
}

// Resolve returns configuration with source tracking, using the precedence
// chain: flags > env > project > home > defaults.
func Resolve(flagOverrides *Config) *ResolvedConfig {
	homeConfig, _ := loadFromPath(homeConfigPath())
	projectConfig, _ := loadFromPath(projectConfigPath())

	var homeDSN, homeJournal, homePatchset, homeRemote, homeTrigger, homeMetrics string
	if homeConfig != nil {
		homeDSN = homeConfig.Store.DSN
		homeJournal = homeConfig.Journal.Root
		homePatchset = homeConfig.Patchsets.Root
		homeRemote = homeConfig.Git.RemoteURL
		homeTrigger = homeConfig.Orchestrator.TriggerDir
		homeMetrics = homeConfig.Metrics.Addr
	}

	var projDSN, projJournal, projPatchset, projRemote, projTrigger, projMetrics string
	if projectConfig != nil {
		projDSN = projectConfig.Store.DSN
		projJournal = projectConfig.Journal.Root
		projPatchset = projectConfig.Patchsets.Root
		projRemote = projectConfig.Git.RemoteURL
		projTrigger = projectConfig.Orchestrator.TriggerDir
		projMetrics = projectConfig.Metrics.Addr
	}

	envDSN := os.Getenv("SINGULARITY_STORE_DSN")
	envJournal := os.Getenv("SINGULARITY_JOURNAL_ROOT")
	envPatchset := os.Getenv("SINGULARITY_PATCHSET_ROOT")
	envRemote := os.Getenv("SINGULARITY_GIT_REMOTE_URL")
	envTrigger := os.Getenv("SINGULARITY_ORCHESTRATOR_TRIGGER_DIR")
	envMetrics := os.Getenv("SINGULARITY_METRICS_ADDR")

	var flagDSN, flagJournal, flagPatchset, flagRemote, flagTrigger, flagMetrics string
	if flagOverrides != nil {
		flagDSN = flagOverrides.Store.DSN
		flagJournal = flagOverrides.Journal.Root
		flagPatchset = flagOverrides.Patchsets.Root
		flagRemote = flagOverrides.Git.RemoteURL
		flagTrigger = flagOverrides.Orchestrator.TriggerDir
		flagMetrics = flagOverrides.Metrics.Addr
	}

	return &ResolvedConfig{
		StoreDSN:     resolveStringField(homeDSN, projDSN, envDSN, flagDSN, defaultStoreDSN),
		JournalRoot:  resolveStringField(homeJournal, projJournal, envJournal, flagJournal, defaultJournalRoot),
		PatchsetRoot: resolveStringField(homePatchset, projPatchset, envPatchset, flagPatchset, defaultPatchsetRoot),
		GitRemoteURL: resolveStringField(homeRemote, projRemote, envRemote, flagRemote, ""),
		TriggerDir:   resolveStringField(homeTrigger, projTrigger, envTrigger, flagTrigger, defaultTriggerDir),
		MetricsAddr:  resolveStringField(homeMetrics, projMetrics, envMetrics, flagMetrics, defaultMetricsAddr),
	}
}
