package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"deployd/internal/lifecycle"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

var (
	_ lifecycle.Runtime        = (*Gateway)(nil)
	_ lifecycle.ArtifactSource = (*Gateway)(nil)
)

const defaultStopGrace = 10 * time.Second

// Gateway drives one Docker Engine: it is both the container runtime and
// the artifact source of a target.
type Gateway struct {
	cli       *client.Client
	log       *slog.Logger
	stopGrace time.Duration
}

type Option func(*Gateway)

// WithStopGrace sets how long Stop waits before the engine kills the container.
func WithStopGrace(d time.Duration) Option {
	return func(g *Gateway) { g.stopGrace = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// New connects to the engine at host. An empty host uses DOCKER_HOST and
// the rest of the client environment.
func New(host string, opts ...Option) (*Gateway, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if strings.TrimSpace(host) != "" {
		clientOpts = append(clientOpts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return NewFromClient(cli, opts...), nil
}

// NewFromClient wraps an existing Docker client.
func NewFromClient(cli *client.Client, opts ...Option) *Gateway {
	g := &Gateway{cli: cli, stopGrace: defaultStopGrace}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	g.log = g.log.With("component", "docker", "host", cli.DaemonHost())
	return g
}

func (g *Gateway) Close() error {
	return g.cli.Close()
}

// Host is the daemon address this gateway talks to.
func (g *Gateway) Host() string {
	return g.cli.DaemonHost()
}

func (g *Gateway) Ping(ctx context.Context) error {
	if _, err := g.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", lifecycle.ErrRuntimeUnavailable, err)
	}
	return nil
}

func (g *Gateway) Inspect(ctx context.Context, name string) (lifecycle.ContainerState, error) {
	info, err := g.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return lifecycle.ContainerState{}, fmt.Errorf("inspect container %q: %w", name, lifecycle.ErrContainerNotFound)
		}
		return lifecycle.ContainerState{}, fmt.Errorf("inspect container %q: %w", name, err)
	}

	state := lifecycle.ContainerState{Name: name}
	if info.ContainerJSONBase != nil {
		state.Image = info.Image
		if info.State != nil {
			state.Status = string(info.State.Status)
			state.Running = info.State.Running && !info.State.Restarting
			state.ExitCode = info.State.ExitCode
		}
	}
	// Config.Image keeps the reference the container was created from;
	// the base Image field is only the image ID.
	if info.Config != nil && info.Config.Image != "" {
		state.Image = info.Config.Image
	}
	return state, nil
}

func (g *Gateway) Stop(ctx context.Context, name string) (lifecycle.ActionResult, error) {
	secs := int(g.stopGrace.Round(time.Second) / time.Second)
	err := g.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs})
	switch {
	case errdefs.IsNotFound(err):
		return lifecycle.ActionAbsent, nil
	case err != nil:
		return 0, fmt.Errorf("stop container %q: %w", name, err)
	}
	return lifecycle.ActionApplied, nil
}

func (g *Gateway) Remove(ctx context.Context, name string) (lifecycle.ActionResult, error) {
	err := g.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	switch {
	case errdefs.IsNotFound(err):
		return lifecycle.ActionAbsent, nil
	case err != nil:
		return 0, fmt.Errorf("remove container %q: %w", name, err)
	}
	return lifecycle.ActionApplied, nil
}

// Run creates and starts the container. A container that was created but
// failed to start is removed again so the name stays free.
func (g *Gateway) Run(ctx context.Context, spec lifecycle.RunSpec) error {
	exposed, bindings, err := portMaps(spec.Port)
	if err != nil {
		return err
	}
	image := spec.Image.Ref.String()
	cc := &container.Config{
		Image:        image,
		Env:          envList(spec.Env),
		Labels:       maps.Clone(spec.Labels),
		ExposedPorts: exposed,
	}
	hc := &container.HostConfig{
		RestartPolicy: parseRestartPolicy(spec.RestartPolicy),
		PortBindings:  bindings,
	}

	created, err := g.cli.ContainerCreate(ctx, cc, hc, nil, nil, spec.Name)
	if err != nil {
		return fmt.Errorf("create container %q from %s: %w", spec.Name, image, err)
	}
	for _, w := range created.Warnings {
		g.log.Warn("Container create warning.", "container", spec.Name, "warning", w)
	}

	if err := g.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		startErr := fmt.Errorf("start container %q: %w", spec.Name, err)
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if rmErr := g.cli.ContainerRemove(cleanupCtx, created.ID, container.RemoveOptions{Force: true}); rmErr != nil && !errdefs.IsNotFound(rmErr) {
			return errors.Join(startErr, fmt.Errorf("remove failed container %q: %w", spec.Name, rmErr))
		}
		return startErr
	}
	g.log.Debug("Container started.", "container", spec.Name, "id", created.ID, "image", image)
	return nil
}

func portMaps(p lifecycle.PortBinding) (nat.PortSet, nat.PortMap, error) {
	if p.ContainerPort == 0 {
		return nil, nil, nil
	}
	proto := strings.ToLower(strings.TrimSpace(p.Protocol))
	if proto == "" {
		proto = "tcp"
	}
	port, err := nat.NewPort(proto, strconv.Itoa(int(p.ContainerPort)))
	if err != nil {
		return nil, nil, fmt.Errorf("port %s: %w", p, err)
	}
	exposed := nat.PortSet{port: struct{}{}}
	if p.HostPort == 0 {
		return exposed, nil, nil
	}
	return exposed, nat.PortMap{port: []nat.PortBinding{{HostPort: strconv.Itoa(int(p.HostPort))}}}, nil
}

func parseRestartPolicy(policy string) container.RestartPolicy {
	name, count, _ := strings.Cut(strings.TrimSpace(policy), ":")
	switch name {
	case "no":
		return container.RestartPolicy{Name: container.RestartPolicyDisabled}
	case "on-failure":
		n, _ := strconv.Atoi(count)
		return container.RestartPolicy{Name: container.RestartPolicyOnFailure, MaximumRetryCount: n}
	case "unless-stopped":
		return container.RestartPolicy{Name: container.RestartPolicyUnlessStopped}
	default:
		return container.RestartPolicy{Name: container.RestartPolicyAlways}
	}
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

// ProbeHost is the address the service is reachable on when it publishes
// ports on the engine at dockerHost. Local sockets map to loopback.
func ProbeHost(dockerHost string) string {
	if strings.TrimSpace(dockerHost) == "" {
		return lifecycle.DefaultProbeHost
	}
	u, err := url.Parse(dockerHost)
	if err != nil {
		return lifecycle.DefaultProbeHost
	}
	switch u.Scheme {
	case "tcp", "http", "https", "ssh":
		if h := u.Hostname(); h != "" {
			return h
		}
	}
	return lifecycle.DefaultProbeHost
}
