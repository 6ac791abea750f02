package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with durations as strings so the rendered file
// reads "30s" instead of nanoseconds.
type fileConfig struct {
	Log        fileLog               `yaml:"log"`
	Daemon     fileDaemon            `yaml:"daemon"`
	DataRoot   string                `yaml:"data_root"`
	StatePath  string                `yaml:"state_path,omitempty"`
	BusyPolicy string                `yaml:"busy_policy"`
	Fanout     int                   `yaml:"fanout"`
	Policy     map[string]any        `yaml:"policy"`
	Service    fileService           `yaml:"service"`
	Compose    fileCompose           `yaml:"compose,omitempty"`
	Targets    map[string]fileTarget `yaml:"targets"`
}

type fileLog struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type fileDaemon struct {
	Socket       string `yaml:"socket,omitempty"`
	Host         string `yaml:"host,omitempty"`
	SSHPort      int    `yaml:"ssh_port,omitempty"`
	SSHKey       string `yaml:"ssh_key,omitempty"`
	RemoteSocket string `yaml:"remote_socket,omitempty"`
}

type fileService struct {
	ContainerName string   `yaml:"container_name"`
	HostPort      int      `yaml:"host_port"`
	ContainerPort int      `yaml:"container_port"`
	Protocol      string   `yaml:"protocol"`
	RestartPolicy string   `yaml:"restart_policy"`
	HealthPath    string   `yaml:"health_path"`
	HealthMarker  string   `yaml:"health_marker"`
	ProbeHost     string   `yaml:"probe_host"`
	Env           []string `yaml:"env,omitempty"`
	Labels        []string `yaml:"labels,omitempty"`
}

type fileCompose struct {
	File    string `yaml:"file,omitempty"`
	Service string `yaml:"service,omitempty"`
}

type fileTarget struct {
	DockerHost string `yaml:"docker_host,omitempty"`
	ProbeHost  string `yaml:"probe_host,omitempty"`
}

// Render encodes c as the YAML file Load reads.
func Render(c *Config) ([]byte, error) {
	p := c.Policy
	out := fileConfig{
		Log:        fileLog{Level: c.Log.Level, Format: c.Log.Format},
		Daemon:     fileDaemon(c.Daemon),
		DataRoot:   c.DataRoot,
		StatePath:  c.StatePath,
		BusyPolicy: c.BusyPolicy,
		Fanout:     c.Fanout,
		Policy: map[string]any{
			"precondition_timeout":   p.PreconditionTimeout.String(),
			"before_install_timeout": p.BeforeInstallTimeout.String(),
			"stop_timeout":           p.StopTimeout.String(),
			"stop_retries":           p.StopRetries,
			"stop_backoff":           p.StopBackoff.String(),
			"install_timeout":        p.InstallTimeout.String(),
			"start_timeout":          p.StartTimeout.String(),
			"start_poll_interval":    p.StartPollInterval.String(),
			"validate_timeout":       p.ValidateTimeout.String(),
			"probe_successes":        p.ProbeSuccesses,
			"probe_attempts":         p.ProbeAttempts,
			"probe_interval":         p.ProbeInterval.String(),
			"probe_timeout":          p.ProbeTimeout.String(),
			"latency_ceiling":        p.LatencyCeiling.String(),
		},
		Service: fileService(c.Service),
		Compose: fileCompose(c.Compose),
		Targets: make(map[string]fileTarget, len(c.Targets)),
	}
	for id, t := range c.Targets {
		out.Targets[id] = fileTarget(t)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// ErrExists is returned by WriteFile when the file exists and force is unset.
var ErrExists = errors.New("config file already exists")

// WriteFile renders c to path, creating parent directories.
func WriteFile(path string, c *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	data, err := Render(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
