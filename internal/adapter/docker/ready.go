package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
)

// WaitReady blocks until the daemon answers a ping or ctx ends.
// Connection failures are retried every interval; other errors are returned.
func (g *Gateway) WaitReady(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	waiting := false
	for {
		_, err := g.cli.Ping(ctx)
		if err == nil {
			if waiting {
				g.log.Debug("Docker daemon reachable.")
			}
			return nil
		}
		if !client.IsErrConnectionFailed(err) {
			g.log.Error("Docker ping failed.", "err", err)
			return fmt.Errorf("connect to docker daemon: %w", err)
		}
		if !waiting {
			waiting = true
			g.log.Debug("Waiting for docker daemon.", "host", g.cli.DaemonHost())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
