package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"deployd/cmd/deployd/cmdutil"
	"deployd/cmd/deployd/ui"
	"deployd/config"
	"deployd/internal/daemon"
	"deployd/internal/lifecycle"
	"deployd/internal/servicedef"
	"deployd/pkg/sdk/client"
	"deployd/pkg/sdk/types"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

const localEventsBuffer = 256

type deployFlags struct {
	targets  []string
	all      bool
	previous string
	local    bool
	detach   bool
}

// deployOutcome is one target's result, from the daemon or in-process.
type deployOutcome struct {
	target  string
	attempt types.Attempt
	err     error
}

func deployCmd(opts *rootOptions) *cobra.Command {
	var f deployFlags

	cmd := &cobra.Command{
		Use:   "deploy [target] [artifact]",
		Short: "Deploy an artifact to one or more targets",
		Long: `Deploy an artifact to one or more targets.

The artifact may be omitted when compose.file names a service with an image.
With a single argument the targets come from --target, --all, or the only
configured target. Deploys go through the daemon when --host is set or the
local daemon answers; otherwise, or with --local, they run in this process.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cmdutil.SignalContext(cmd.Context())
			defer stop()

			defaultImage := ""
			if len(args) == 0 && opts.cfg.Compose.File != "" {
				def, err := servicedef.LoadFile(ctx, opts.cfg.Compose.File, opts.cfg.Compose.Service)
				if err != nil {
					return err
				}
				defaultImage = def.Image
			}
			targets, artifact, err := parseDeployArgs(args, f, configuredTargets(opts.cfg), defaultImage)
			if err != nil {
				return err
			}
			reqs := make([]types.DeployRequest, len(targets))
			for i, t := range targets {
				reqs[i] = types.DeployRequest{Target: t, Artifact: artifact, Previous: f.previous}
			}

			if !f.local {
				target, explicit := cmdutil.DaemonTarget(opts.host, opts.cfg)
				if target != "" && (explicit || cmdutil.IsDaemonRunning(ctx, target)) {
					c, err := cmdutil.Dial(target, opts.cfg)
					if err != nil {
						return err
					}
					defer func() { _ = c.Close() }()
					if f.detach {
						return startRemote(ctx, c, reqs)
					}
					return report(deployRemote(ctx, c, reqs, opts.cfg.Fanout))
				}
			}
			if f.detach {
				return errors.New("--detach needs a running daemon")
			}
			return report(deployLocal(ctx, opts.cfg, reqs))
		},
	}

	cmd.Flags().StringArrayVar(&f.targets, "target", nil, "Target to deploy to, repeatable")
	cmd.Flags().BoolVar(&f.all, "all", false, "Deploy to every configured target")
	cmd.Flags().StringVar(&f.previous, "previous", "", "Artifact to roll back to instead of the last serving one")
	cmd.Flags().BoolVar(&f.local, "local", false, "Run the deploy in this process even if a daemon is running")
	cmd.Flags().BoolVar(&f.detach, "detach", false, "Start the attempts on the daemon and print their ids")
	return cmd
}

// parseDeployArgs resolves the deploy targets and artifact.
func parseDeployArgs(args []string, f deployFlags, configured []string, defaultImage string) ([]string, string, error) {
	var (
		targets  []string
		artifact string
	)
	switch len(args) {
	case 2:
		if len(f.targets) > 0 || f.all {
			return nil, "", errors.New("target given both as an argument and a flag")
		}
		targets, artifact = []string{args[0]}, args[1]
	case 1:
		artifact = args[0]
	default:
		artifact = defaultImage
	}
	artifact = strings.TrimSpace(artifact)
	if artifact == "" {
		return nil, "", errors.New("artifact is required")
	}

	if targets == nil {
		switch {
		case f.all && len(f.targets) > 0:
			return nil, "", errors.New("--all and --target are mutually exclusive")
		case f.all:
			targets = configured
		case len(f.targets) > 0:
			for _, t := range f.targets {
				if t = strings.TrimSpace(t); t != "" && !slices.Contains(targets, t) {
					targets = append(targets, t)
				}
			}
		case len(configured) == 1:
			targets = configured
		default:
			return nil, "", fmt.Errorf("%d targets configured (%s); choose with --target or --all",
				len(configured), strings.Join(configured, ", "))
		}
	}
	if len(targets) == 0 {
		return nil, "", errors.New("no targets to deploy to")
	}
	return targets, artifact, nil
}

func configuredTargets(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.Targets))
	for id := range cfg.Targets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func deployRemote(ctx context.Context, c *client.Client, reqs []types.DeployRequest, fanout int) []deployOutcome {
	progress := ui.NewProgress(os.Stderr, len(reqs))
	defer progress.Close()

	p := pool.NewWithResults[deployOutcome]().WithMaxGoroutines(max(fanout, 1))
	for _, req := range reqs {
		p.Go(func() deployOutcome {
			a, err := c.Deploy(ctx, req, progress.OnEvent)
			return deployOutcome{target: req.Target, attempt: a, err: err}
		})
	}
	return sortOutcomes(p.Wait(), reqs)
}

func startRemote(ctx context.Context, c *client.Client, reqs []types.DeployRequest) error {
	var errs []error
	for _, req := range reqs {
		id, err := c.Start(ctx, req)
		if err != nil {
			fmt.Fprintln(os.Stderr, ui.ErrorMsg("%s: %v", req.Target, err))
			errs = append(errs, err)
			continue
		}
		fmt.Println(ui.InfoMsg("started attempt %s on %s", ui.Accent(id), req.Target))
	}
	if len(errs) > 0 {
		return errDeployFailed
	}
	return nil
}

// deployLocal runs the attempts with an in-process coordinator. Cancelling
// ctx aborts them and rolls back where possible before returning.
func deployLocal(ctx context.Context, cfg *config.Config, reqs []types.DeployRequest) []deployOutcome {
	stack, err := daemon.Wire(ctx, cfg, slog.Default())
	if err != nil {
		return failAll(reqs, err)
	}
	defer func() {
		if err := stack.Close(); err != nil {
			slog.Warn("Close failed.", "err", err)
		}
	}()

	events := make(chan lifecycle.ProgressEvent, localEventsBuffer)
	lreqs := make([]lifecycle.Request, len(reqs))
	for i := range reqs {
		lreq, err := daemon.RequestFromWire(&reqs[i])
		if err != nil {
			return failAll(reqs, err)
		}
		lreq.Events = events
		lreqs[i] = lreq
	}

	progress := ui.NewProgress(os.Stderr, len(reqs))
	defer progress.Close()

	done := make(chan []lifecycle.Result, 1)
	go func() {
		done <- stack.Coordinator.DeployMany(ctx, lreqs)
	}()

	var results []lifecycle.Result
	for results == nil {
		select {
		case ev := <-events:
			progress.OnEvent(daemon.EventToWire(ev))
		case results = <-done:
		}
	}
drain:
	for {
		select {
		case ev := <-events:
			progress.OnEvent(daemon.EventToWire(ev))
		default:
			break drain
		}
	}

	out := make([]deployOutcome, len(results))
	for i, r := range results {
		out[i] = deployOutcome{target: reqs[r.Index].Target, err: r.Err}
		if r.Attempt.ID != "" {
			out[i].attempt = daemon.AttemptToWire(r.Attempt)
		}
	}
	return out
}

func failAll(reqs []types.DeployRequest, err error) []deployOutcome {
	out := make([]deployOutcome, len(reqs))
	for i, req := range reqs {
		out[i] = deployOutcome{target: req.Target, err: err}
	}
	return out
}

func sortOutcomes(outcomes []deployOutcome, reqs []types.DeployRequest) []deployOutcome {
	order := make(map[string]int, len(reqs))
	for i, req := range reqs {
		order[req.Target] = i
	}
	slices.SortFunc(outcomes, func(a, b deployOutcome) int { return order[a.target] - order[b.target] })
	return outcomes
}

// report prints each outcome and fails unless every attempt succeeded.
func report(outcomes []deployOutcome) error {
	failed := false
	for _, o := range outcomes {
		switch {
		case o.attempt.ID == "":
			failed = true
			fmt.Fprintln(os.Stderr, ui.ErrorMsg("%s: %v", o.target, o.err))
		case o.attempt.Outcome == types.OutcomeSucceeded:
			fmt.Println(ui.OutcomeMsg(o.attempt))
		default:
			failed = true
			fmt.Println(ui.OutcomeMsg(o.attempt))
			if len(outcomes) == 1 {
				fmt.Print(ui.AttemptDetails(o.attempt))
			}
		}
	}
	if failed {
		return errDeployFailed
	}
	return nil
}
