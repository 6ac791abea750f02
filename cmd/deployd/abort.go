package main

import (
	"fmt"

	"deployd/cmd/deployd/cmdutil"
	"deployd/cmd/deployd/ui"

	"github.com/spf13/cobra"
)

func abortCmd(opts *rootOptions) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "abort <attempt-id>",
		Short: "Abort an in-flight attempt on the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cmdutil.SignalContext(cmd.Context())
			defer stop()

			c, err := cmdutil.Connect(ctx, opts.host, opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			id := args[0]
			if err := c.Abort(ctx, id); err != nil {
				return fmt.Errorf("abort attempt %s: %w", id, err)
			}
			fmt.Println(ui.InfoMsg("abort requested for attempt %s", ui.Accent(id)))
			if !wait {
				return nil
			}

			a, err := c.GetAttempt(ctx, id, true)
			if err != nil {
				return err
			}
			fmt.Println(ui.OutcomeMsg(a))
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the attempt to finish")
	return cmd
}
