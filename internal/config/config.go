package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BakeLens/shellgate/internal/logger"
	"github.com/BakeLens/shellgate/internal/types"
	"gopkg.in/yaml.v3"
)

var cfgLog = logger.New("config")

// Config represents the shellgate configuration
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Project ProjectConfig `yaml:"project"`
	Policy  PolicyConfig  `yaml:"policy"`
	Process ProcessConfig `yaml:"process"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level   types.LogLevel `yaml:"level"`
	NoColor bool           `yaml:"no_color"`
}

// ProjectConfig describes where commands are allowed to write freely.
type ProjectConfig struct {
	Root       string   `yaml:"root"`       // default: current directory
	Workspaces []string `yaml:"workspaces"` // directories treated as part of the project
}

// PolicyConfig holds policy engine settings
type PolicyConfig struct {
	Dir            string `yaml:"dir"`             // default: ~/.shellgate/policy.d
	Watch          bool   `yaml:"watch"`           // hot reload on file changes
	Agent          string `yaml:"agent"`           // agent whose policy applies
	DisableBuiltin bool   `yaml:"disable_builtin"` // skip the embedded default policy
}

// ProcessConfig holds process supervisor settings. Durations are milliseconds.
type ProcessConfig struct {
	Shell            string   `yaml:"shell"`
	DefaultTimeoutMs int      `yaml:"default_timeout_ms"`
	MaxTimeoutMs     int      `yaml:"max_timeout_ms"`
	MaxOutputBytes   int      `yaml:"max_output_bytes"`
	GraceMs          int      `yaml:"grace_ms"`
	ScrubEnv         bool     `yaml:"scrub_env"`
	PassEnv          []string `yaml:"pass_env"` // extra variables kept when scrub_env is set
}

// SandboxConfig holds settings for the command wrapper.
type SandboxConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Wrapper         []string `yaml:"wrapper"` // argv prefix, e.g. [bwrap, --ro-bind, /, /]
	ViolationMarker string   `yaml:"violation_marker"`
	TrustedCommands []string `yaml:"trusted_commands"` // patterns that skip the wrapper
}

// StorageConfig holds audit database settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"` // 0 keeps everything
}

// APIConfig holds management API settings
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// DataDir returns ~/.shellgate, or .shellgate when the home directory is unknown.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shellgate"
	}
	return filepath.Join(home, ".shellgate")
}

// DefaultConfigPath returns the default config file path (~/.shellgate/config.yaml).
func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		if sh := os.Getenv("COMSPEC"); sh != "" {
			return sh
		}
		return "cmd.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: types.LogLevelInfo,
		},
		Policy: PolicyConfig{
			Dir:   filepath.Join(DataDir(), "policy.d"),
			Watch: true,
			Agent: "build",
		},
		Process: ProcessConfig{
			Shell:            defaultShell(),
			DefaultTimeoutMs: 120000,
			MaxTimeoutMs:     600000,
			MaxOutputBytes:   30000,
			GraceMs:          200,
		},
		Storage: StorageConfig{
			Enabled:       true,
			DBPath:        filepath.Join(DataDir(), "audit.db"),
			RetentionDays: 30,
		},
		API: APIConfig{
			Listen: "127.0.0.1:9191",
		},
	}
}

// ResolveProjectRoot fills Project.Root with the working directory when unset
// and makes it absolute.
func (c *Config) ResolveProjectRoot() error {
	root := c.Project.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("project.root: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("project.root: %w", err)
	}
	c.Project.Root = abs
	return nil
}

// Validate checks all Config fields and returns a multi-error report.
// Call this AFTER CLI overrides have been applied, not during Load().
func (c *Config) Validate() error {
	var errs []string

	if !c.Log.Level.Valid() {
		errs = append(errs, fmt.Sprintf("log.level: unknown log level %q (valid: trace, debug, info, warn, error)", c.Log.Level))
	}

	if c.Policy.Agent == "" {
		errs = append(errs, "policy.agent: must not be empty")
	}

	p := c.Process
	if p.Shell == "" {
		errs = append(errs, "process.shell: must not be empty")
	}
	if p.DefaultTimeoutMs <= 0 {
		errs = append(errs, fmt.Sprintf("process.default_timeout_ms: must be > 0 (got %d)", p.DefaultTimeoutMs))
	}
	if p.MaxTimeoutMs < p.DefaultTimeoutMs {
		errs = append(errs, fmt.Sprintf("process.max_timeout_ms: must be >= default_timeout_ms (got %d < %d)", p.MaxTimeoutMs, p.DefaultTimeoutMs))
	}
	if p.MaxOutputBytes < 1024 {
		errs = append(errs, fmt.Sprintf("process.max_output_bytes: must be >= 1024 (got %d)", p.MaxOutputBytes))
	}
	if p.GraceMs < 0 || p.GraceMs > 60000 {
		errs = append(errs, fmt.Sprintf("process.grace_ms: must be 0-60000 (got %d)", p.GraceMs))
	}

	if c.Sandbox.Enabled && len(c.Sandbox.Wrapper) == 0 {
		errs = append(errs, "sandbox.wrapper: required when sandbox.enabled is true")
	}

	if c.Storage.Enabled && c.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path: required when storage.enabled is true")
	}
	if c.Storage.RetentionDays < 0 || c.Storage.RetentionDays > 36500 {
		errs = append(errs, fmt.Sprintf("storage.retention_days: must be 0-36500 (got %d)", c.Storage.RetentionDays))
	}

	if c.API.Listen != "" {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("api.listen: must be host:port (got %q)", c.API.Listen))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for i, e := range errs {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e)
	}
	return errors.New(sb.String())
}

// isUnknownFieldError returns true if the error is from yaml.Decoder.KnownFields(true)
// detecting an unrecognized key (e.g. typo like "procss:").
func isUnknownFieldError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found in type")
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Note: Load does NOT call Validate(). Callers should apply CLI overrides
// first, then call cfg.Validate() themselves.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if isUnknownFieldError(err) {
			cfgLog.Warn("config has unknown fields (ignored): %v", err)
			cfg = DefaultConfig()
			if err2 := yaml.Unmarshal(data, cfg); err2 != nil {
				return nil, fmt.Errorf("config parse error: %w", err2)
			}
		} else if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config parse error: %w", err)
		}
	}

	cfg.Policy.Dir = expandHome(cfg.Policy.Dir)
	cfg.Storage.DBPath = expandHome(cfg.Storage.DBPath)
	cfg.Project.Root = expandHome(cfg.Project.Root)
	for i, w := range cfg.Project.Workspaces {
		cfg.Project.Workspaces[i] = expandHome(w)
	}
	return cfg, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
