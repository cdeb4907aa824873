package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/isosplit/isosplit/internal/config"
	"github.com/isosplit/isosplit/internal/errors"
	"github.com/isosplit/isosplit/internal/logging"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var verbose bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "isosplit",
		Short: "Split one annotated source file into client and server bundles",
		Long: `isosplit turns one JavaScript or TypeScript entry file into a browser
bundle and a set of server handlers.

Declarations wrapped in the marker call

  const hello = $api("hello", async (props, ctx) => { ... })

run on the server. In the browser bundle each one becomes a fetch proxy
that POSTs to /api/_rpc/<id>.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(
		buildCmd(),
		cleanCmd(),
		devCmd(),
		routesCmd(),
		createCmd(),
		versionCmd(),
	)
	return rootCmd
}

// loadProject loads and validates the nearest project config and its .env
// file.
func loadProject() (*config.Config, error) {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger() (*zap.Logger, error) {
	return logging.New(verbose)
}

// stdout receives status messages.
var stdout io.Writer = os.Stdout

// success prints a success message.
func success(format string, args ...any) {
	fmt.Fprintf(stdout, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Fprintf(stdout, "  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Fprintf(stdout, "\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
