// Package servicedef reads the deployed service's shape from a compose file.
package servicedef

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"deployd/internal/lifecycle"

	"github.com/compose-spec/compose-go/v2/loader"
	compose "github.com/compose-spec/compose-go/v2/types"
)

// Labels on the compose service that tune the health check. They are
// consumed here and not passed to the container.
const (
	LabelHealthPath   = "deployd.health.path"
	LabelHealthMarker = "deployd.health.marker"
)

const defaultProjectName = "deployd"

// Definition is a service definition plus the image the compose file names,
// which callers may use as the default artifact.
type Definition struct {
	Service lifecycle.ServiceDefinition
	Image   string
}

// LoadFile loads service from the compose file at path. An empty service
// name picks the only service in the file.
func LoadFile(ctx context.Context, path, service string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read compose file: %w", err)
	}
	return Load(ctx, data, filepath.Base(path), service)
}

func Load(ctx context.Context, data []byte, filename, service string) (Definition, error) {
	if strings.TrimSpace(filename) == "" {
		filename = "compose.yaml"
	}
	details := compose.ConfigDetails{
		ConfigFiles: []compose.ConfigFile{{Filename: filename, Content: data}},
		Environment: compose.Mapping{},
	}
	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SetProjectName(defaultProjectName, false)
		o.SkipResolveEnvironment = true
	})
	if err != nil {
		return Definition{}, fmt.Errorf("parse compose spec: %w", err)
	}

	svc, err := pickService(project, service)
	if err != nil {
		return Definition{}, err
	}
	def, err := fromCompose(svc)
	if err != nil {
		return Definition{}, fmt.Errorf("service %q: %w", svc.Name, err)
	}
	return def, nil
}

func pickService(project *compose.Project, name string) (compose.ServiceConfig, error) {
	if len(project.Services) == 0 {
		return compose.ServiceConfig{}, fmt.Errorf("compose spec has no services")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		if len(project.Services) > 1 {
			names := slices.Sorted(maps.Keys(project.Services))
			return compose.ServiceConfig{}, fmt.Errorf("compose spec has %d services (%s), name one", len(names), strings.Join(names, ", "))
		}
		for _, svc := range project.Services {
			return svc, nil
		}
	}
	svc, ok := project.Services[name]
	if !ok {
		return compose.ServiceConfig{}, fmt.Errorf("compose spec has no service %q", name)
	}
	return svc, nil
}

func fromCompose(svc compose.ServiceConfig) (Definition, error) {
	def := lifecycle.DefaultService()
	if name := strings.TrimSpace(svc.ContainerName); name != "" {
		def.ContainerName = name
	}
	if restart := restartPolicy(svc); restart != "" {
		def.RestartPolicy = restart
	}

	switch len(svc.Ports) {
	case 0:
	case 1:
		port, err := portBinding(svc.Ports[0])
		if err != nil {
			return Definition{}, err
		}
		def.Port = port
	default:
		return Definition{}, fmt.Errorf("exactly one published port is supported, got %d", len(svc.Ports))
	}

	def.Env = environment(svc.Environment)
	labels := maps.Clone(map[string]string(svc.Labels))
	if path, ok := labels[LabelHealthPath]; ok {
		def.HealthPath = strings.TrimSpace(path)
		delete(labels, LabelHealthPath)
	}
	if marker, ok := labels[LabelHealthMarker]; ok {
		def.HealthMarker = marker
		delete(labels, LabelHealthMarker)
	}
	if len(labels) > 0 {
		def.Labels = labels
	}

	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return Definition{Service: def, Image: strings.TrimSpace(svc.Image)}, nil
}

func portBinding(p compose.ServicePortConfig) (lifecycle.PortBinding, error) {
	protocol := strings.ToLower(strings.TrimSpace(p.Protocol))
	if protocol == "" {
		protocol = "tcp"
	}
	if p.Target == 0 || p.Target > uint32(^uint16(0)) {
		return lifecycle.PortBinding{}, fmt.Errorf("invalid container port %d", p.Target)
	}
	host := uint64(p.Target)
	if published := strings.TrimSpace(p.Published); published != "" {
		n, err := strconv.ParseUint(published, 10, 16)
		if err != nil {
			return lifecycle.PortBinding{}, fmt.Errorf("published port %q must be a single port: %w", published, err)
		}
		host = n
	}
	return lifecycle.PortBinding{
		HostPort:      uint16(host),
		ContainerPort: uint16(p.Target),
		Protocol:      protocol,
	}, nil
}

func restartPolicy(svc compose.ServiceConfig) string {
	if restart := strings.TrimSpace(svc.Restart); restart != "" {
		return restart
	}
	if svc.Deploy != nil && svc.Deploy.RestartPolicy != nil {
		if cond := strings.TrimSpace(svc.Deploy.RestartPolicy.Condition); cond == "any" {
			return "always"
		} else if cond != "" {
			return cond
		}
	}
	return ""
}

func environment(env compose.MappingWithEquals) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for key, value := range env {
		if value == nil {
			out[key] = ""
			continue
		}
		out[key] = *value
	}
	return out
}
