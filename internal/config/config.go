package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	AllowedOrigin string `mapstructure:"allowed_origin"`
}

type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxSessions   int           `mapstructure:"max_sessions"`
}

type BuildConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RunConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	PromptPatterns []string      `mapstructure:"prompt_patterns"`
	Policy         string        `mapstructure:"policy"`
}

type ToolchainConfig struct {
	Profile string `mapstructure:"profile"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type LimitsConfig struct {
	RunRPS   float64 `mapstructure:"run_rps"`
	RunBurst int     `mapstructure:"run_burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Session   SessionConfig   `mapstructure:"session"`
	Build     BuildConfig     `mapstructure:"build"`
	Run       RunConfig       `mapstructure:"run"`
	Toolchain ToolchainConfig `mapstructure:"toolchain"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Log       LogConfig       `mapstructure:"log"`
}

// Load reads codeshum.yaml from path, or from . and $HOME/.codeshum when
// path is empty. A missing file is fine; defaults and CODESHUM_* environment
// variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("codeshum")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.codeshum")
	}

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origin", "http://localhost:3000")
	v.SetDefault("workspace.root", "./code")
	v.SetDefault("session.idle_timeout", 5*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)
	v.SetDefault("session.max_sessions", 0)
	v.SetDefault("build.timeout", 30*time.Second)
	v.SetDefault("run.timeout", 10*time.Second)
	v.SetDefault("run.prompt_patterns", []string{"enter", "input", "scan", "prompt", "waiting"})
	v.SetDefault("run.policy", "supersede")
	v.SetDefault("toolchain.profile", "")
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".codeshum", "runs.db"))
	v.SetDefault("limits.run_rps", 2.0)
	v.SetDefault("limits.run_burst", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetEnvPrefix("codeshum")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The original deployment only knew PORT.
	if err := v.BindEnv("server.port", "CODESHUM_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Workspace.Root == "" {
		errs = append(errs, errors.New("workspace.root is required"))
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, errors.New("session.sweep_interval must be positive"))
	}
	if c.Session.MaxSessions < 0 {
		errs = append(errs, errors.New("session.max_sessions cannot be negative"))
	}
	if c.Build.Timeout <= 0 {
		errs = append(errs, errors.New("build.timeout must be positive"))
	}
	if c.Run.Timeout < 0 {
		errs = append(errs, errors.New("run.timeout cannot be negative"))
	}
	switch strings.ToLower(c.Run.Policy) {
	case "supersede", "reject":
	default:
		errs = append(errs, fmt.Errorf("run.policy %q must be supersede or reject", c.Run.Policy))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
