// Package config loads the monitor configuration. The loaded Config is
// immutable; components receive it (or a ClusterConfig) at construction time
// and never reach for global state.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jtonini/cluster-monitor/internal/pkg/health"
)

// Duration wraps time.Duration so YAML values like "5m" or "90s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ClusterConfig describes one managed cluster. Recovery commands are data:
// ordered templates with a {node} placeholder, so privilege patterns (direct
// sudo, impersonation, already-root) differ only by configuration.
type ClusterConfig struct {
	Name             string   `yaml:"-"`
	User             string   `yaml:"user"`
	HeadNode         string   `yaml:"head_node"`
	Nodes            []string `yaml:"nodes"`
	CheckCommand     string   `yaml:"check_command"`
	NodeCommand      string   `yaml:"node_command"`
	QueueCommand     string   `yaml:"queue_command"`
	RecoveryCommands []string `yaml:"recovery_commands"`
	ProblemStates    []string `yaml:"problem_states"`
}

// MonitoringConfig holds the cycle knobs. MaxRecoveryAttempts bounds attempts
// per incident; RecoveryWait is the settle interval between the command
// sequence and verification.
type MonitoringConfig struct {
	Interval            Duration `yaml:"interval"`
	MaxRecoveryAttempts int      `yaml:"max_recovery_attempts"`
	RecoveryWait        Duration `yaml:"recovery_wait"`
	CommandTimeout      Duration `yaml:"command_timeout"`
	DiagnoseQueue       bool     `yaml:"diagnose_queue"`
}

type EmailConfig struct {
	Enabled    bool     `yaml:"enabled"`
	From       string   `yaml:"from"`
	To         []string `yaml:"to"`
	SMTPServer string   `yaml:"smtp_server"`
	SMTPPort   int      `yaml:"smtp_port"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"` // 0 keeps the pool default
}

type Config struct {
	Clusters   map[string]ClusterConfig `yaml:"clusters"`
	Monitoring MonitoringConfig         `yaml:"monitoring"`
	Email      EmailConfig              `yaml:"email"`
	Database   DatabaseConfig           `yaml:"database"`
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file(%s): %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config file(%s): %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Monitoring.Interval == 0 {
		c.Monitoring.Interval = Duration(5 * time.Minute)
	}
	if c.Monitoring.MaxRecoveryAttempts == 0 {
		c.Monitoring.MaxRecoveryAttempts = 3
	}
	if c.Monitoring.RecoveryWait == 0 {
		c.Monitoring.RecoveryWait = Duration(60 * time.Second)
	}
	if c.Monitoring.CommandTimeout == 0 {
		c.Monitoring.CommandTimeout = Duration(30 * time.Second)
	}
	if c.Email.SMTPServer == "" {
		c.Email.SMTPServer = "localhost"
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 25
	}
	for name, cl := range c.Clusters {
		cl.Name = name
		if cl.CheckCommand == "" {
			cl.CheckCommand = `sinfo -h -N -o "%N %T"`
		}
		if cl.NodeCommand == "" {
			cl.NodeCommand = "scontrol show node"
		}
		if cl.QueueCommand == "" {
			cl.QueueCommand = `squeue -t PD -h -o "%i|%P|%j|%u|%r|%C|%m|%b|%D|%V"`
		}
		if len(cl.ProblemStates) == 0 {
			cl.ProblemStates = health.DefaultProblemTokens
		}
		c.Clusters[name] = cl
	}
}

func (c *Config) validate() error {
	if len(c.Clusters) == 0 {
		return fmt.Errorf("no clusters configured")
	}
	for name, cl := range c.Clusters {
		if cl.User == "" {
			return fmt.Errorf("cluster %s: user is required", name)
		}
		if cl.HeadNode == "" {
			return fmt.Errorf("cluster %s: head_node is required", name)
		}
		if len(cl.RecoveryCommands) == 0 {
			return fmt.Errorf("cluster %s: recovery_commands is required", name)
		}
	}
	return nil
}

// ClusterNames returns the configured cluster names, sorted for deterministic
// iteration order.
func (c *Config) ClusterNames() []string {
	names := make([]string, 0, len(c.Clusters))
	for name := range c.Clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
