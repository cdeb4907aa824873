package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/isosplit/isosplit/internal/build"
	"github.com/isosplit/isosplit/internal/config"
	"github.com/isosplit/isosplit/internal/publish"
	"github.com/isosplit/isosplit/internal/split"
)

type buildFlags struct {
	output     string
	minify     bool
	sourceMaps bool
	publish    bool
}

func buildCmd() *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the client bundle and server handlers",
		Long: `Split the entry file and build the output tree once.

The output directory is replaced as a whole when every step succeeds.
On failure the previous output is left untouched and the command exits
non-zero.

Examples:
  isosplit build
  isosplit build --minify --out=public-dist
  isosplit build --publish`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "out", "o", "", "Output directory (default from isosplit.json)")
	cmd.Flags().BoolVar(&flags.minify, "minify", false, "Minify the client bundle")
	cmd.Flags().BoolVar(&flags.sourceMaps, "sourcemaps", true, "Write a linked source map for the client bundle")
	cmd.Flags().BoolVar(&flags.publish, "publish", false, "Upload the client tree to the configured bucket")

	return cmd
}

func runBuild(cmd *cobra.Command, flags buildFlags) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	options := build.Options{
		Minify: flags.minify,
		Output: flags.output,
		Logger: logger,
		OnProgress: func(step string) {
			if verbose {
				info(step)
			}
		},
	}
	if cmd.Flags().Changed("sourcemaps") {
		options.SourceMaps = &flags.sourceMaps
	}
	builder := build.New(cfg, options)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := builder.Build(ctx)
	if err != nil {
		return err
	}

	printWarnings(result.Warnings)
	success("Built %d route(s) in %s", len(result.Routes), result.Duration.Round(time.Millisecond))
	fmt.Println()
	printTree(cfg, result)

	if flags.publish {
		publisher, err := publish.New(cfg.Publish, logger)
		if err != nil {
			return err
		}
		objects, err := publisher.Publish(ctx, filepath.Join(result.Output, split.ClientDir))
		if err != nil {
			return err
		}
		success("Published %d object(s) to s3://%s", len(objects), cfg.Publish.Bucket)
	}

	return nil
}

// printTree prints the output layout.
func printTree(cfg *config.Config, result *build.Result) {
	rel, err := filepath.Rel(cfg.Dir(), result.Output)
	if err != nil {
		rel = result.Output
	}

	fmt.Println("  Output:")
	fmt.Printf("    %s/\n", filepath.ToSlash(rel))
	for _, f := range result.Files {
		if f == split.ClientDir+"/"+build.BundleFile {
			fmt.Printf("      %s  (%s)\n", f, formatBytes(result.BundleSize))
			continue
		}
		fmt.Printf("      %s\n", f)
	}
	fmt.Println()
	fmt.Println("  To run:")
	fmt.Printf("    %s=%d node %s\n", config.PortEnv, config.ServerPort(),
		filepath.ToSlash(filepath.Join(rel, split.ServerDir, build.ServerEntry)))
	fmt.Println()
}

// printWarnings prints build warnings verbatim; they carry user paths.
func printWarnings(warnings []string) {
	for _, w := range warnings {
		warn("%s", w)
	}
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
