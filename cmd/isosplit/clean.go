package main

import (
	"github.com/spf13/cobra"

	"github.com/isosplit/isosplit/internal/build"
)

func cleanCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadProject()
			if err != nil {
				return err
			}
			builder := build.New(cfg, build.Options{Output: output})
			if err := builder.Clean(); err != nil {
				return err
			}
			success("Removed %s", builder.OutputDir())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "out", "o", "", "Output directory (default from isosplit.json)")
	return cmd
}
