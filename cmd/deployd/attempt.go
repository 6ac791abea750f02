package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"deployd/cmd/deployd/cmdutil"
	"deployd/cmd/deployd/ui"
	"deployd/config"
	"deployd/internal/adapter/sqlite"
	"deployd/internal/daemon"
	"deployd/pkg/sdk/client"
	"deployd/pkg/sdk/types"

	"github.com/spf13/cobra"
)

// attemptSource answers attempt queries from the daemon or, when none is
// running, straight from the local history database.
type attemptSource interface {
	GetAttempt(ctx context.Context, id string, wait bool) (types.Attempt, error)
	ListAttempts(ctx context.Context, target string, limit int) ([]types.Attempt, error)
	Close() error
}

func attemptCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempt",
		Short: "Inspect deployment attempts",
	}
	cmd.AddCommand(attemptShowCmd(opts))
	cmd.AddCommand(attemptListCmd(opts))
	return cmd
}

func attemptShowCmd(opts *rootOptions) *cobra.Command {
	var (
		wait   bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show <attempt-id>",
		Short: "Show one attempt and its phase log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cmdutil.SignalContext(cmd.Context())
			defer stop()

			src, err := openAttemptSource(ctx, opts)
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()

			a, err := src.GetAttempt(ctx, args[0], wait)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(a)
			}
			fmt.Print(ui.AttemptDetails(a))
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the attempt to finish (daemon only)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the attempt as JSON")
	return cmd
}

func attemptListCmd(opts *rootOptions) *cobra.Command {
	var (
		target string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cmdutil.SignalContext(cmd.Context())
			defer stop()

			src, err := openAttemptSource(ctx, opts)
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()

			attempts, err := src.ListAttempts(ctx, target, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(attempts)
			}
			if len(attempts) == 0 {
				fmt.Println(ui.Muted("no attempts recorded"))
				return nil
			}
			fmt.Println(ui.AttemptTable(attempts))
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Only list attempts for this target")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum attempts to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print attempts as JSON")
	return cmd
}

func openAttemptSource(ctx context.Context, opts *rootOptions) (attemptSource, error) {
	target, explicit := cmdutil.DaemonTarget(opts.host, opts.cfg)
	if explicit || (target != "" && cmdutil.IsDaemonRunning(ctx, target)) {
		return cmdutil.Dial(target, opts.cfg)
	}
	return openHistory(opts.cfg)
}

// historySource reads the attempt database without a daemon. Attempts a
// crashed process left in flight show their last recorded phase.
type historySource struct {
	store *sqlite.AttemptStore
}

func openHistory(cfg *config.Config) (*historySource, error) {
	if _, err := os.Stat(cfg.StatePath); errors.Is(err, fs.ErrNotExist) {
		return &historySource{}, nil
	}
	store, err := sqlite.Open(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	return &historySource{store: store}, nil
}

func (h *historySource) GetAttempt(ctx context.Context, id string, wait bool) (types.Attempt, error) {
	if h.store == nil {
		return types.Attempt{}, fmt.Errorf("attempt %s: %w", id, client.ErrNotFound)
	}
	a, ok, err := h.store.GetAttempt(ctx, id)
	if err != nil {
		return types.Attempt{}, err
	}
	if !ok {
		return types.Attempt{}, fmt.Errorf("attempt %s: %w", id, client.ErrNotFound)
	}
	out := daemon.AttemptToWire(a)
	if wait && !out.Terminal() {
		return out, errors.New("waiting for an attempt needs a running daemon")
	}
	return out, nil
}

func (h *historySource) ListAttempts(ctx context.Context, target string, limit int) ([]types.Attempt, error) {
	if h.store == nil {
		return nil, nil
	}
	attempts, err := h.store.ListAttempts(ctx, target, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.Attempt, len(attempts))
	for i, a := range attempts {
		out[i] = daemon.AttemptToWire(a)
	}
	return out, nil
}

func (h *historySource) Close() error {
	return h.store.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
