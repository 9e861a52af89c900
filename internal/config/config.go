// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Guard    GuardConfig    `mapstructure:"guard" yaml:"guard"`
	Window   WindowConfig   `mapstructure:"window" yaml:"window"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox" yaml:"sandbox"`
	Router   RouterConfig   `mapstructure:"router" yaml:"router"`
	Audit    AuditConfig    `mapstructure:"audit" yaml:"audit"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Inline   InlineConfig   `mapstructure:"inline" yaml:"inline"`
	Planner  PlannerConfig  `mapstructure:"planner" yaml:"planner"`
	Preview  PreviewConfig  `mapstructure:"preview" yaml:"preview"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// GuardConfig defines the filesystem policy enforced by the path guard.
type GuardConfig struct {
	// AllowedRoots are the only directories mutation may touch. Paths may
	// use "~" and are resolved at load time.
	AllowedRoots []string `mapstructure:"allowed_roots" yaml:"allowed_roots"`
	// DeniedRoots always win, even when nested under an allowed root.
	// Defaults cover sensitive system directories.
	DeniedRoots []string `mapstructure:"denied_roots" yaml:"denied_roots"`
}

// WindowConfig tunes the window state tracker.
type WindowConfig struct {
	// StateFile persists per-session arrangement across restarts.
	StateFile string `mapstructure:"state_file" yaml:"state_file"`
	// DefaultSplitForAutomation normalizes split_screen=false to true for
	// automation-origin sessions. The normalization is always audited.
	DefaultSplitForAutomation bool `mapstructure:"default_split_for_automation" yaml:"default_split_for_automation"`
}

// SandboxConfig configures the remote automation agent client.
type SandboxConfig struct {
	AgentURL        string        `mapstructure:"agent_url" yaml:"agent_url"`
	Image           string        `mapstructure:"image" yaml:"image"`
	SharedFolder    string        `mapstructure:"shared_folder" yaml:"shared_folder"`
	TokenSecret     string        `mapstructure:"token_secret" yaml:"token_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	DefaultBudget   time.Duration `mapstructure:"default_budget" yaml:"default_budget"`
	SocksProxy      string        `mapstructure:"socks_proxy" yaml:"socks_proxy"`
	EgressProxyAddr string        `mapstructure:"egress_proxy_addr" yaml:"egress_proxy_addr"`
	AllowedHosts    []string      `mapstructure:"allowed_hosts" yaml:"allowed_hosts"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ArtifactDir     string        `mapstructure:"artifact_dir" yaml:"artifact_dir"`
}

// RouterConfig tunes executor selection and health probing.
type RouterConfig struct {
	// ProbeFreshness is how long a successful probe keeps an adapter
	// eligible for native routing.
	ProbeFreshness time.Duration `mapstructure:"probe_freshness" yaml:"probe_freshness"`
	// ProbeInterval rate-limits probes per adapter.
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	// ExecTimeout bounds a single executor call.
	ExecTimeout time.Duration `mapstructure:"exec_timeout" yaml:"exec_timeout"`
}

// AuditConfig configures the append-only audit log.
type AuditConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Actor string `mapstructure:"actor" yaml:"actor"`
	// MirrorToDatabase also writes entries to Postgres when a database
	// URL is configured.
	MirrorToDatabase bool `mapstructure:"mirror_to_database" yaml:"mirror_to_database"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// InlineConfig tunes the background selection observer.
type InlineConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Staleness is how old a snapshot may be before it is discarded
	// instead of attached to an action.
	Staleness time.Duration `mapstructure:"staleness" yaml:"staleness"`
}

// PlannerConfig configures the natural-language auto planner.
type PlannerConfig struct {
	Model      string `mapstructure:"model" yaml:"model"`
	BaseFolder string `mapstructure:"base_folder" yaml:"base_folder"`
	// MaxContentBytes clamps generated file content.
	MaxContentBytes int `mapstructure:"max_content_bytes" yaml:"max_content_bytes"`
}

// PreviewConfig tunes the browser preview adapter.
type PreviewConfig struct {
	Headless    bool          `mapstructure:"headless" yaml:"headless"`
	LoadTimeout time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
}

// SetDefaults registers every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("guard.allowed_roots", []string{"~/deskpilot/agent_output"})
	v.SetDefault("guard.denied_roots", []string{"/etc", "/proc", "/sys", "/dev", "/boot", "~/.ssh"})

	v.SetDefault("window.state_file", "~/deskpilot/window_state.json")
	v.SetDefault("window.default_split_for_automation", true)

	v.SetDefault("sandbox.agent_url", "http://127.0.0.1:7070")
	v.SetDefault("sandbox.image", "desktop-agent:stable")
	v.SetDefault("sandbox.shared_folder", "~/deskpilot/agent_output")
	v.SetDefault("sandbox.token_ttl", 5*time.Minute)
	v.SetDefault("sandbox.default_budget", 2*time.Minute)
	v.SetDefault("sandbox.request_timeout", 15*time.Second)
	v.SetDefault("sandbox.artifact_dir", "~/deskpilot/artifacts")

	v.SetDefault("router.probe_freshness", 30*time.Second)
	v.SetDefault("router.probe_interval", 5*time.Second)
	v.SetDefault("router.exec_timeout", 60*time.Second)

	v.SetDefault("audit.path", "~/deskpilot/audit.jsonl")
	v.SetDefault("audit.actor", "deskpilot")

	v.SetDefault("inline.enabled", true)
	v.SetDefault("inline.interval", 2*time.Second)
	v.SetDefault("inline.staleness", 30*time.Second)

	v.SetDefault("planner.model", "gemini-2.0-flash")
	v.SetDefault("planner.base_folder", "project")
	v.SetDefault("planner.max_content_bytes", 200_000)

	v.SetDefault("preview.headless", true)
	v.SetDefault("preview.load_timeout", 10*time.Second)
}

// Load unmarshals the viper state into a Config and expands all
// user-relative paths.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	expand := func(p string) (string, error) {
		if p == "" {
			return p, nil
		}
		out, err := homedir.Expand(p)
		if err != nil {
			return "", fmt.Errorf("cannot expand path %q: %w", p, err)
		}
		return filepath.Clean(out), nil
	}

	var err error
	for i, root := range c.Guard.AllowedRoots {
		if c.Guard.AllowedRoots[i], err = expand(root); err != nil {
			return err
		}
	}
	for i, root := range c.Guard.DeniedRoots {
		if c.Guard.DeniedRoots[i], err = expand(root); err != nil {
			return err
		}
	}
	if c.Window.StateFile, err = expand(c.Window.StateFile); err != nil {
		return err
	}
	if c.Sandbox.SharedFolder, err = expand(c.Sandbox.SharedFolder); err != nil {
		return err
	}
	if c.Sandbox.ArtifactDir, err = expand(c.Sandbox.ArtifactDir); err != nil {
		return err
	}
	if c.Audit.Path, err = expand(c.Audit.Path); err != nil {
		return err
	}
	if c.Logger.LogFile, err = expand(c.Logger.LogFile); err != nil {
		return err
	}
	return nil
}

// EnvPrefix is the environment variable prefix (DESKPILOT_GUARD_... etc).
const EnvPrefix = "DESKPILOT"

// NewViper returns a viper instance wired with defaults, env binding and
// the optional config file.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars.
	}
	return v, nil
}
