package daemon

import (
	"context"
	"log/slog"
	"time"

	"deployd/config"
)

const runtimeWaitTimeout = 5 * time.Second

// Run wires the coordinator from cfg and serves it until ctx ends.
func Run(ctx context.Context, cfg *config.Config) error {
	log := slog.With("component", "daemon")
	stack, err := Wire(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			log.Warn("Close failed.", "err", err)
		}
	}()

	stack.WaitRuntimes(ctx, runtimeWaitTimeout, log)
	log.Info("Coordinator ready.", "targets", stack.Targets(), "busy_policy", cfg.Busy().String(), "state", cfg.StatePath)

	return New(stack.Coordinator).ListenAndServe(ctx, cfg.Daemon.Socket)
}
