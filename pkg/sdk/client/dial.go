package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const probeTimeout = 2 * time.Second

// Dial connects to a daemon. A target containing "@" or starting with
// "ssh://" is an SSH destination such as "ops@deploy-1" and uses ssh;
// anything else is a local unix socket path.
func Dial(target string, ssh SSHOptions) (*Client, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("daemon target is required")
	}
	if isSSHTarget(target) {
		return NewSSH(target, ssh)
	}
	return NewUnix(target)
}

// Reachable reports whether a daemon answers on socketPath.
func Reachable(ctx context.Context, socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	c, err := NewUnix(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()
	return c.Ping(ctx) == nil
}

// Ping checks the daemon answers with a cheap list call.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := c.ListAttempts(pingCtx, "", 1); err != nil {
		return fmt.Errorf("daemon health check: %w", err)
	}
	return nil
}
