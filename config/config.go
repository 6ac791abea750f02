// Package config loads deployd settings.
//
// Settings come from, in increasing precedence: built-in defaults, the YAML
// file at $XDG_CONFIG_HOME/deployd/config.yaml (defaults to
// ~/.config/deployd/config.yaml) and DEPLOYD_* environment variables, where
// a nested key such as policy.stop_retries maps to DEPLOYD_POLICY_STOP_RETRIES.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"deployd/internal/lifecycle"
	"deployd/internal/logging"
	"deployd/pkg/sdk/defaults"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "DEPLOYD"
	// DefaultTarget is the target id used when no targets are configured.
	DefaultTarget = "local"
)

type Config struct {
	Log        LogConfig               `mapstructure:"log"`
	Daemon     DaemonConfig            `mapstructure:"daemon"`
	DataRoot   string                  `mapstructure:"data_root"`
	StatePath  string                  `mapstructure:"state_path"`
	BusyPolicy string                  `mapstructure:"busy_policy"`
	Fanout     int                     `mapstructure:"fanout"`
	Policy     PolicyConfig            `mapstructure:"policy"`
	Service    ServiceConfig           `mapstructure:"service"`
	Compose    ComposeConfig           `mapstructure:"compose"`
	Targets    map[string]TargetConfig `mapstructure:"targets"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DaemonConfig describes how the CLI reaches a deployd daemon. Host, when
// set, is a user@host or ssh://user@host:port reached over SSH and takes
// precedence over Socket. The SSH fields only apply to Host.
type DaemonConfig struct {
	Socket       string `mapstructure:"socket"`
	Host         string `mapstructure:"host"`
	SSHPort      int    `mapstructure:"ssh_port"`
	SSHKey       string `mapstructure:"ssh_key"`
	RemoteSocket string `mapstructure:"remote_socket"`
}

type PolicyConfig struct {
	PreconditionTimeout  time.Duration `mapstructure:"precondition_timeout"`
	BeforeInstallTimeout time.Duration `mapstructure:"before_install_timeout"`
	StopTimeout          time.Duration `mapstructure:"stop_timeout"`
	StopRetries          int           `mapstructure:"stop_retries"`
	StopBackoff          time.Duration `mapstructure:"stop_backoff"`
	InstallTimeout       time.Duration `mapstructure:"install_timeout"`
	StartTimeout         time.Duration `mapstructure:"start_timeout"`
	StartPollInterval    time.Duration `mapstructure:"start_poll_interval"`
	ValidateTimeout      time.Duration `mapstructure:"validate_timeout"`
	ProbeSuccesses       int           `mapstructure:"probe_successes"`
	ProbeAttempts        int           `mapstructure:"probe_attempts"`
	ProbeInterval        time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout         time.Duration `mapstructure:"probe_timeout"`
	LatencyCeiling       time.Duration `mapstructure:"latency_ceiling"`
}

// ServiceConfig is the service definition. Env and Labels are KEY=VALUE
// lists because map keys are case-folded on load.
type ServiceConfig struct {
	ContainerName string   `mapstructure:"container_name"`
	HostPort      int      `mapstructure:"host_port"`
	ContainerPort int      `mapstructure:"container_port"`
	Protocol      string   `mapstructure:"protocol"`
	RestartPolicy string   `mapstructure:"restart_policy"`
	HealthPath    string   `mapstructure:"health_path"`
	HealthMarker  string   `mapstructure:"health_marker"`
	ProbeHost     string   `mapstructure:"probe_host"`
	Env           []string `mapstructure:"env"`
	Labels        []string `mapstructure:"labels"`
}

// ComposeConfig points at a compose file whose service replaces the
// service section.
type ComposeConfig struct {
	File    string `mapstructure:"file"`
	Service string `mapstructure:"service"`
}

// TargetConfig is one deploy target. An empty DockerHost uses DOCKER_HOST or
// the local socket; an empty ProbeHost is derived from DockerHost.
type TargetConfig struct {
	DockerHost string `mapstructure:"docker_host"`
	ProbeHost  string `mapstructure:"probe_host"`
}

func Default() *Config {
	p := lifecycle.DefaultPolicy()
	s := lifecycle.DefaultService()
	dataRoot := defaults.DataRoot()
	return &Config{
		Log:        LogConfig{Level: logging.LevelInfo, Format: logging.FormatText},
		Daemon:     DaemonConfig{Socket: defaults.SocketPath(), RemoteSocket: defaults.RemoteSocketPath},
		DataRoot:   dataRoot,
		StatePath:  defaults.StatePath(dataRoot),
		BusyPolicy: lifecycle.BusyReject.String(),
		Fanout:     4,
		Policy: PolicyConfig{
			PreconditionTimeout:  p.PreconditionTimeout,
			BeforeInstallTimeout: p.BeforeInstallTimeout,
			StopTimeout:          p.StopTimeout,
			StopRetries:          p.StopRetries,
			StopBackoff:          p.StopBackoff,
			InstallTimeout:       p.InstallTimeout,
			StartTimeout:         p.StartTimeout,
			StartPollInterval:    p.StartPollInterval,
			ValidateTimeout:      p.ValidateTimeout,
			ProbeSuccesses:       p.ProbeSuccesses,
			ProbeAttempts:        p.ProbeAttempts,
			ProbeInterval:        p.ProbeInterval,
			ProbeTimeout:         p.ProbeTimeout,
			LatencyCeiling:       p.LatencyCeiling,
		},
		Service: ServiceConfig{
			ContainerName: s.ContainerName,
			HostPort:      int(s.Port.HostPort),
			ContainerPort: int(s.Port.ContainerPort),
			Protocol:      s.Port.Protocol,
			RestartPolicy: s.RestartPolicy,
			HealthPath:    s.HealthPath,
			HealthMarker:  s.HealthMarker,
			ProbeHost:     s.ProbeHost,
		},
		Targets: map[string]TargetConfig{DefaultTarget: {}},
	}
}

// SetDefaults registers every default with v so that environment overrides
// apply to keys the file leaves out.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("daemon.socket", d.Daemon.Socket)
	v.SetDefault("daemon.host", d.Daemon.Host)
	v.SetDefault("daemon.ssh_port", d.Daemon.SSHPort)
	v.SetDefault("daemon.ssh_key", d.Daemon.SSHKey)
	v.SetDefault("daemon.remote_socket", d.Daemon.RemoteSocket)
	v.SetDefault("data_root", d.DataRoot)
	v.SetDefault("state_path", "")
	v.SetDefault("busy_policy", d.BusyPolicy)
	v.SetDefault("fanout", d.Fanout)

	v.SetDefault("policy.precondition_timeout", d.Policy.PreconditionTimeout)
	v.SetDefault("policy.before_install_timeout", d.Policy.BeforeInstallTimeout)
	v.SetDefault("policy.stop_timeout", d.Policy.StopTimeout)
	v.SetDefault("policy.stop_retries", d.Policy.StopRetries)
	v.SetDefault("policy.stop_backoff", d.Policy.StopBackoff)
	v.SetDefault("policy.install_timeout", d.Policy.InstallTimeout)
	v.SetDefault("policy.start_timeout", d.Policy.StartTimeout)
	v.SetDefault("policy.start_poll_interval", d.Policy.StartPollInterval)
	v.SetDefault("policy.validate_timeout", d.Policy.ValidateTimeout)
	v.SetDefault("policy.probe_successes", d.Policy.ProbeSuccesses)
	v.SetDefault("policy.probe_attempts", d.Policy.ProbeAttempts)
	v.SetDefault("policy.probe_interval", d.Policy.ProbeInterval)
	v.SetDefault("policy.probe_timeout", d.Policy.ProbeTimeout)
	v.SetDefault("policy.latency_ceiling", d.Policy.LatencyCeiling)

	v.SetDefault("service.container_name", d.Service.ContainerName)
	v.SetDefault("service.host_port", d.Service.HostPort)
	v.SetDefault("service.container_port", d.Service.ContainerPort)
	v.SetDefault("service.protocol", d.Service.Protocol)
	v.SetDefault("service.restart_policy", d.Service.RestartPolicy)
	v.SetDefault("service.health_path", d.Service.HealthPath)
	v.SetDefault("service.health_marker", d.Service.HealthMarker)
	v.SetDefault("service.probe_host", d.Service.ProbeHost)

	v.SetDefault("compose.file", "")
	v.SetDefault("compose.service", "")
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the file at path, which may be missing, and validates the
// result. An empty path reads defaults.ConfigPath().
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = defaults.ConfigPath()
	}
	v := New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !isMissing(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

func isMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.StatePath) == "" {
		c.StatePath = defaults.StatePath(c.DataRoot)
	}
	if len(c.Targets) == 0 {
		c.Targets = map[string]TargetConfig{DefaultTarget: {}}
	}
}

// DaemonTarget is the dial target for the daemon. Host takes precedence.
func (c *Config) DaemonTarget() string {
	if c.Daemon.Host != "" {
		return c.Daemon.Host
	}
	return c.Daemon.Socket
}

func (c *Config) Busy() lifecycle.BusyPolicy {
	b, err := lifecycle.ParseBusyPolicy(c.BusyPolicy)
	if err != nil {
		return lifecycle.BusyReject
	}
	return b
}

func (c *Config) LifecyclePolicy() lifecycle.Policy {
	p := c.Policy
	return lifecycle.Policy{
		PreconditionTimeout:  p.PreconditionTimeout,
		BeforeInstallTimeout: p.BeforeInstallTimeout,
		StopTimeout:          p.StopTimeout,
		StopRetries:          p.StopRetries,
		StopBackoff:          p.StopBackoff,
		InstallTimeout:       p.InstallTimeout,
		StartTimeout:         p.StartTimeout,
		StartPollInterval:    p.StartPollInterval,
		ValidateTimeout:      p.ValidateTimeout,
		ProbeSuccesses:       p.ProbeSuccesses,
		ProbeAttempts:        p.ProbeAttempts,
		ProbeInterval:        p.ProbeInterval,
		ProbeTimeout:         p.ProbeTimeout,
		LatencyCeiling:       p.LatencyCeiling,
	}
}

// ServiceDefinition converts the service section. It does not read the
// compose file; see internal/servicedef.
func (c *Config) ServiceDefinition() (lifecycle.ServiceDefinition, error) {
	s := c.Service
	env, err := parsePairs(s.Env)
	if err != nil {
		return lifecycle.ServiceDefinition{}, fmt.Errorf("service.env: %w", err)
	}
	labels, err := parsePairs(s.Labels)
	if err != nil {
		return lifecycle.ServiceDefinition{}, fmt.Errorf("service.labels: %w", err)
	}
	return lifecycle.ServiceDefinition{
		ContainerName: s.ContainerName,
		Port: lifecycle.PortBinding{
			HostPort:      uint16(s.HostPort),
			ContainerPort: uint16(s.ContainerPort),
			Protocol:      s.Protocol,
		},
		RestartPolicy: s.RestartPolicy,
		Env:           env,
		Labels:        labels,
		HealthPath:    s.HealthPath,
		HealthMarker:  s.HealthMarker,
		ProbeHost:     s.ProbeHost,
	}, nil
}

func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}
