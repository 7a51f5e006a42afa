// Package config loads the effective run configuration: defaults,
// overlaid by a user-global file, overlaid by a per-project file,
// overlaid by AGENTFARM_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AgentFamily is a closed enumeration of supported agent vendors,
// modeled as a tagged type rather than a free string.
type AgentFamily string

const (
	AgentFamilyA AgentFamily = "A"
	AgentFamilyB AgentFamily = "B"
	AgentFamilyC AgentFamily = "C"
	AgentFamilyD AgentFamily = "D"
)

// Valid reports whether f is one of the four supported families.
func (f AgentFamily) Valid() bool {
	switch f {
	case AgentFamilyA, AgentFamilyB, AgentFamilyC, AgentFamilyD:
		return true
	}
	return false
}

// RecoveryPolicy names the patch-committer dirty-working-tree recovery
// strategy. Modeled as independent booleans rather than a single enum
// so more than one may be configured; auto-stash takes priority over
// auto-commit when both are set (see the committer package).
type RecoveryPolicy struct {
	AutoStash       bool `mapstructure:"auto_stash"`
	AutoCommit      bool `mapstructure:"auto_commit"`
	IgnoreUntracked bool `mapstructure:"ignore_untracked"`
	BackupBranch    bool `mapstructure:"backup_branch"`
}

// AgentCredentials holds the per-family credential value and whether
// the caller has opted into exporting it into the container environment.
type AgentCredentials struct {
	Value            string `mapstructure:"value"`
	ExportRequired   bool   `mapstructure:"export_required"`
	EndpointOverride string `mapstructure:"endpoint_override"`
}

// ProxyConfig carries the proxy environment variables passed through to
// every container.
type ProxyConfig struct {
	HTTPProxy  string `mapstructure:"http_proxy"`
	HTTPSProxy string `mapstructure:"https_proxy"`
	NoProxy    string `mapstructure:"no_proxy"`
}

// Config is the effective, validated configuration for a run.
type Config struct {
	AgentFamily AgentFamily `mapstructure:"agent_family" validate:"required,oneof=A B C D"`
	BaseImage   string      `mapstructure:"base_image" validate:"required"`

	MaxContainers         int `mapstructure:"max_containers" validate:"required,min=1"`
	MaxParallelContainers int `mapstructure:"max_parallel_containers" validate:"required,min=1"`

	ContainerTimeoutSeconds int     `mapstructure:"container_timeout_seconds" validate:"min=0"`
	MemoryMB                int     `mapstructure:"memory_mb" validate:"min=0"`
	CPUCores                float64 `mapstructure:"cpu_cores" validate:"min=0"`

	MinTasks int `mapstructure:"min_tasks" validate:"min=0"`
	MaxTasks int `mapstructure:"max_tasks" validate:"min=1"`

	WorkStyle   string `mapstructure:"work_style"`
	CodingStyle string `mapstructure:"coding_style"`

	Credentials    map[AgentFamily]AgentCredentials `mapstructure:"credentials"`
	InstallSources map[AgentFamily]string           `mapstructure:"install_sources"`
	Proxy          ProxyConfig                      `mapstructure:"proxy"`

	UseSSHRemote bool `mapstructure:"use_ssh_remote"`

	Recovery RecoveryPolicy `mapstructure:"recovery"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig controls the ambient structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the user-global file, a per-project
// file, and AGENTFARM_-prefixed environment variables, in that order of
// increasing precedence, then validates the result.
func Load(projectFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	v.SetConfigFile(userGlobalConfigPath())
	if err := v.MergeInConfig(); err != nil && !isNotFoundErr(err) {
		return nil, fmt.Errorf("reading user config: %w", err)
	}

	if projectFile == "" {
		projectFile = ".agentfarm.yaml"
	}
	v.SetConfigFile(projectFile)
	if err := v.MergeInConfig(); err != nil && !isNotFoundErr(err) {
		return nil, fmt.Errorf("reading project config %q: %w", projectFile, err)
	}

	v.SetEnvPrefix("AGENTFARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// agent_family has no default, so AutomaticEnv alone would not surface
	// it to Unmarshal; bind its environment variable explicitly.
	_ = v.BindEnv("agent_family")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_image", "ubuntu:24.04")
	v.SetDefault("max_containers", 8)
	v.SetDefault("max_parallel_containers", 4)
	v.SetDefault("container_timeout_seconds", 1800)
	v.SetDefault("memory_mb", 2048)
	v.SetDefault("cpu_cores", 2.0)
	v.SetDefault("min_tasks", 1)
	v.SetDefault("max_tasks", 30)
	v.SetDefault("recovery.auto_stash", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks the cross-field invariants struct tags alone can't
// express.
func Validate(cfg *Config) error {
	val := validator.New()
	if err := val.Struct(cfg); err != nil {
		return err
	}

	if cfg.MinTasks > cfg.MaxTasks {
		return fmt.Errorf("min_tasks (%d) must be <= max_tasks (%d)", cfg.MinTasks, cfg.MaxTasks)
	}
	if cfg.MaxParallelContainers > cfg.MaxContainers {
		return fmt.Errorf("max_parallel_containers (%d) must be <= max_containers (%d)", cfg.MaxParallelContainers, cfg.MaxContainers)
	}

	for family, creds := range cfg.Credentials {
		if !family.Valid() {
			return fmt.Errorf("unknown agent family %q in credentials", family)
		}
		if creds.Value != "" && !creds.ExportRequired {
			return fmt.Errorf("agent family %s: credential provided but export_required is false", family)
		}
	}

	return nil
}

// ContainerTimeout returns the configured timeout as a time.Duration,
// treating 0 as "no timeout."
func (c *Config) ContainerTimeout() time.Duration {
	if c.ContainerTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ContainerTimeoutSeconds) * time.Second
}

func userGlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentfarm", "config.yaml")
}

// DefaultYAML returns a commented starter .agentfarm.yaml a user can
// drop into a project and edit.
func DefaultYAML() string {
	return `# agentfarm configuration

agent_family: A
base_image: ubuntu:24.04

max_containers: 8
max_parallel_containers: 4
container_timeout_seconds: 1800
memory_mb: 2048
cpu_cores: 2.0

min_tasks: 1
max_tasks: 30

work_style: ""
coding_style: ""

use_ssh_remote: false

recovery:
  auto_stash: true
  auto_commit: false
  ignore_untracked: false
  backup_branch: false

logging:
  level: info
  format: console
`
}

func isNotFoundErr(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile + MergeInConfig surfaces a plain *fs.PathError for
	// an explicit path that doesn't exist, rather than the viper-typed
	// error used for search-path discovery.
	return strings.Contains(err.Error(), "no such file or directory") ||
		strings.Contains(err.Error(), "cannot find the file")
}
