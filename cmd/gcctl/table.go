package main

import (
	"fmt"

	"github.com/danmuck/gclink/internal/config"
	"github.com/spf13/cobra"
)

func tableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Inspect game kind tables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate one or more kind table files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				t, err := config.LoadGameTable(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok %s name=%s app=%d kinds=%d records=%d\n", path, t.Name, t.AppID, len(t.Tags), len(t.Records))
			}
			return nil
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	var kind, output string
	var force bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = kind + ".toml"
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, target)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "client", "template kind: client|table")
	initCmd.Flags().StringVarP(&output, "output", "o", "", "output path (default <kind>.toml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
