package main

import (
	"deployd/cmd/deployd/cmdutil"
	"deployd/internal/daemon"

	"github.com/spf13/cobra"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Run the deployd daemon",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationDaemonLogs: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cmdutil.SignalContext(cmd.Context())
			defer stop()

			if socketPath != "" {
				opts.cfg.Daemon.Socket = socketPath
			}
			return daemon.Run(ctx, opts.cfg)
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket path (default daemon.socket)")
	return cmd
}
