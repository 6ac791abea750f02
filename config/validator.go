package config

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"

	"deployd/internal/lifecycle"
	"deployd/internal/logging"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

func ValidLogLevels() []string {
	return []string{logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError}
}

func ValidLogFormats() []string {
	return []string{logging.FormatText, logging.FormatJSON}
}

// Docker host schemes the runtime client can dial.
var dockerSchemes = []string{"unix", "npipe", "tcp", "http", "https", "ssh"}

// Validate returns every invalid setting in c.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateLog()...)
	errs = append(errs, c.validateDaemon()...)
	errs = append(errs, c.validateScheduling()...)
	errs = append(errs, c.validatePolicy()...)
	errs = append(errs, c.validateService()...)
	errs = append(errs, c.validateTargets()...)
	return errs
}

func (c *Config) validateLog() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: "must be one of " + strings.Join(ValidLogLevels(), ", "),
		})
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Log.Format)) {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: "must be one of " + strings.Join(ValidLogFormats(), ", "),
		})
	}
	return errs
}

func (c *Config) validateDaemon() []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(c.Daemon.Socket) == "" && strings.TrimSpace(c.Daemon.Host) == "" {
		errs = append(errs, ValidationError{
			Field:   "daemon.socket",
			Value:   c.Daemon.Socket,
			Message: "socket or host is required",
		})
	}
	if c.Daemon.SSHPort < 0 || c.Daemon.SSHPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "daemon.ssh_port",
			Value:   c.Daemon.SSHPort,
			Message: "must be between 0 and 65535 (0 uses the ssh default)",
		})
	}
	if c.Daemon.Host != "" && strings.TrimSpace(c.Daemon.RemoteSocket) == "" {
		errs = append(errs, ValidationError{
			Field:   "daemon.remote_socket",
			Value:   c.Daemon.RemoteSocket,
			Message: "is required when daemon.host is set",
		})
	}
	return errs
}

func (c *Config) validateScheduling() []ValidationError {
	var errs []ValidationError
	if _, err := lifecycle.ParseBusyPolicy(c.BusyPolicy); err != nil {
		errs = append(errs, ValidationError{
			Field:   "busy_policy",
			Value:   c.BusyPolicy,
			Message: "must be reject or queue",
		})
	}
	if c.Fanout < 1 {
		errs = append(errs, ValidationError{
			Field:   "fanout",
			Value:   c.Fanout,
			Message: "must be at least 1",
		})
	}
	return errs
}

func (c *Config) validatePolicy() []ValidationError {
	if err := c.LifecyclePolicy().Validate(); err != nil {
		var errs []ValidationError
		for _, line := range strings.Split(err.Error(), "\n") {
			errs = append(errs, ValidationError{Field: "policy", Value: "-", Message: line})
		}
		return errs
	}
	return nil
}

func (c *Config) validateService() []ValidationError {
	var errs []ValidationError
	for _, p := range []struct {
		field string
		value int
	}{
		{"service.host_port", c.Service.HostPort},
		{"service.container_port", c.Service.ContainerPort},
	} {
		if p.value < 1 || p.value > 65535 {
			errs = append(errs, ValidationError{Field: p.field, Value: p.value, Message: "must be between 1 and 65535"})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	svc, err := c.ServiceDefinition()
	if err != nil {
		return []ValidationError{{Field: "service", Value: "-", Message: err.Error()}}
	}
	// A compose file replaces the service section at startup.
	if c.Compose.File != "" {
		return nil
	}
	if err := svc.Validate(); err != nil {
		return []ValidationError{{Field: "service", Value: svc.ContainerName, Message: err.Error()}}
	}
	return nil
}

func (c *Config) validateTargets() []ValidationError {
	ids := make([]string, 0, len(c.Targets))
	for id := range c.Targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []ValidationError
	for _, id := range ids {
		host := c.Targets[id].DockerHost
		if host == "" {
			continue
		}
		u, err := url.Parse(host)
		if err != nil || !slices.Contains(dockerSchemes, u.Scheme) {
			errs = append(errs, ValidationError{
				Field:   "targets." + id + ".docker_host",
				Value:   host,
				Message: "must be a URL with scheme " + strings.Join(dockerSchemes, ", "),
			})
		}
	}
	return errs
}
