package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/isosplit/isosplit/internal/config"
	"github.com/isosplit/isosplit/internal/dev"
	"github.com/isosplit/isosplit/internal/errors"
)

type devFlags struct {
	port    int
	host    string
	noProxy bool
}

func devCmd() *cobra.Command {
	var flags devFlags

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Build, serve, and rebuild on change",
		Long: `Build once, start the server, then watch the project and rebuild.

Changes are debounced (dev.debounce) and builds never overlap. A change
during a build schedules exactly one more build for the latest state.
The server process restarts only after a successful build, and connected
browsers reload or show the build error.

The port comes from --port, then PORT, then dev.port. With the reload
proxy enabled the server process listens on port+1.

Examples:
  isosplit dev
  isosplit dev --port=8080
  isosplit dev --no-proxy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(flags)
		},
	}

	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "Port to listen on (default: PORT, then dev.port)")
	cmd.Flags().StringVarP(&flags.host, "host", "H", "", "Host to bind to (default from isosplit.json)")
	cmd.Flags().BoolVar(&flags.noProxy, "no-proxy", false, "Run the server directly on the port, without browser reload")

	return cmd
}

func runDev(flags devFlags) error {
	cfg, err := loadProject()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	port, err := devPort(flags.port, cfg)
	if err != nil {
		return err
	}

	server := dev.NewServer(dev.ServerOptions{
		Config:  cfg,
		Port:    port,
		Host:    flags.host,
		NoProxy: flags.noProxy,
		Logger:  logger,
		OnReady: func(url string) {
			success("Serving %s at %s", cfg.Entry, url)
		},
		OnBuildComplete: func(done dev.Completion) {
			switch {
			case done.Err != nil:
				errorMsg("Build %d failed; the previous server keeps running", done.Token)
			case done.RestartErr != nil:
				errorMsg("Build %d succeeded but the server did not start: %v", done.Token, done.RestartErr)
			case done.Stale:
				info("Build %d done; rebuilding for newer changes", done.Token)
			default:
				success("Build %d ready in %s", done.Token, done.Duration.Round(time.Millisecond))
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		fmt.Println("\n  Shutting down...")
	}()

	return server.Run(ctx)
}

// devPort resolves the port: the flag, then PORT, then dev.port.
func devPort(flag int, cfg *config.Config) (int, error) {
	if flag > 0 {
		return flag, nil
	}
	if v := os.Getenv(config.PortEnv); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return 0, errors.New("E122").WithDetail(config.PortEnv + " must be a port number, got " + strconv.Quote(v))
		}
		return port, nil
	}
	return cfg.Dev.Port, nil
}
