package main

import (
	"errors"
	"fmt"
	"os"

	"deployd/cmd/deployd/ui"
	"deployd/config"
	"deployd/pkg/sdk/defaults"

	"github.com/spf13/cobra"
)

func configCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the deployd config file",
	}
	cmd.AddCommand(configInitCmd(opts))
	cmd.AddCommand(configShowCmd(opts))
	return cmd
}

func configInitCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with the default settings",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = defaults.ConfigPath()
			}
			if err := config.WriteFile(path, config.Default(), force); err != nil {
				if errors.Is(err, config.ErrExists) {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
				return err
			}
			fmt.Println(ui.SuccessMsg("wrote %s", path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func configShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.Render(opts.cfg)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}
