// Package cmdutil holds helpers shared by deployd subcommands.
package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"deployd/config"
	"deployd/pkg/sdk/client"
)

// EnvHost names a daemon to connect to, in the same form as --host.
const EnvHost = "DEPLOYD_HOST"

// ErrNoDaemon is returned when no daemon target is set and the local socket
// does not answer.
var ErrNoDaemon = errors.New("no deployd daemon reachable")

// DaemonTarget resolves where the CLI should find a daemon. Resolution
// order:
//
//  1. hostFlag / DEPLOYD_HOST
//  2. daemon.host from config
//  3. daemon.socket from config
//
// explicit reports whether the target came from 1 or 2, meaning the caller
// asked for a daemon rather than relying on auto-discovery.
func DaemonTarget(hostFlag string, cfg *config.Config) (target string, explicit bool) {
	if host := firstNonEmpty(hostFlag, os.Getenv(EnvHost)); host != "" {
		return host, true
	}
	if cfg == nil {
		return "", false
	}
	if h := strings.TrimSpace(cfg.Daemon.Host); h != "" {
		return h, true
	}
	return strings.TrimSpace(cfg.Daemon.Socket), false
}

// Connect dials the daemon named by DaemonTarget. A socket target found by
// discovery must answer a ping first; explicit targets are dialed as is.
func Connect(ctx context.Context, hostFlag string, cfg *config.Config) (*client.Client, error) {
	target, explicit := DaemonTarget(hostFlag, cfg)
	if target == "" {
		return nil, ErrNoDaemon
	}
	if !explicit && !IsDaemonRunning(ctx, target) {
		return nil, fmt.Errorf("%w at %s (start one with `deployd serve`)", ErrNoDaemon, target)
	}
	return Dial(target, cfg)
}

// Dial connects to target, taking ssh settings from cfg.daemon.
func Dial(target string, cfg *config.Config) (*client.Client, error) {
	return client.Dial(target, SSHOptions(cfg))
}

func SSHOptions(cfg *config.Config) client.SSHOptions {
	if cfg == nil {
		return client.SSHOptions{}
	}
	return client.SSHOptions{
		Port:         cfg.Daemon.SSHPort,
		KeyPath:      cfg.Daemon.SSHKey,
		RemoteSocket: cfg.Daemon.RemoteSocket,
	}
}

func IsDaemonRunning(ctx context.Context, socketPath string) bool {
	return client.Reachable(ctx, socketPath)
}

// SignalContext returns ctx cancelled on SIGINT or SIGTERM.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
