package main

import (
	"errors"
	"fmt"
	"os"

	"deployd/cmd/deployd/ui"
	"deployd/config"
	"deployd/internal/logging"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

// Command annotations read by the root pre-run hook.
const (
	annotationNoConfig   = "deployd.no-config"
	annotationDaemonLogs = "deployd.daemon-logs"
)

// errDeployFailed marks a run whose attempts ended without succeeding. The
// outcome is already printed, so main only sets the exit status.
var errDeployFailed = errors.New("deployment did not succeed")

type rootOptions struct {
	debug         bool
	logFormat     string
	configPath    string
	host          string
	noInteraction bool

	cfg *config.Config
}

func main() {
	if err := logging.Configure(logging.LevelWarn, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		if !errors.Is(err, errDeployFailed) {
			fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		}
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "deployd",
		Short:         "Deploy container images with health validation and automatic rollback",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/deployd/config.yaml)")
	root.PersistentFlags().StringVar(&opts.host, "host", "", "Daemon to use: socket path or user@host")
	root.PersistentFlags().BoolVar(&opts.noInteraction, "no-interaction", false, "Disable live terminal output")

	root.AddCommand(deployCmd(opts))
	root.AddCommand(abortCmd(opts))
	root.AddCommand(attemptCmd(opts))
	root.AddCommand(serveCmd(opts))
	root.AddCommand(configCmd(opts))
	root.AddCommand(dialStdioCmd())
	return root
}

// setup loads configuration and configures logging for cmd. Client commands
// log at warn so progress output stays readable; the daemon logs at the
// configured level.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	ui.ConfigureInteraction(o.noInteraction)

	level, format := logging.LevelWarn, logging.FormatText
	if cmd.Annotations[annotationNoConfig] == "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		o.cfg = cfg
		format = cfg.Log.Format
		if cmd.Annotations[annotationDaemonLogs] != "" {
			level = cfg.Log.Level
		}
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	if o.debug {
		level = logging.LevelDebug
	}
	return logging.Configure(level, format)
}
