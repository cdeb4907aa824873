package dev

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isosplit/isosplit/internal/build"
	"github.com/isosplit/isosplit/internal/config"
	"github.com/isosplit/isosplit/internal/errors"
	"github.com/isosplit/isosplit/internal/logging"
	"github.com/isosplit/isosplit/internal/split"
)

// stopTimeout is how long a stopped process may take to exit before it is
// killed.
const stopTimeout = 5 * time.Second

// ProcessConfig configures the served process.
type ProcessConfig struct {
	// Runtime is the executable (default "node").
	Runtime string

	// Script is the entry point passed to the runtime.
	Script string

	// Dir is the working directory.
	Dir string

	// Port is exported to the process as PORT.
	Port int

	// Env are additional environment variables.
	Env []string

	// Stdout and Stderr receive the process output (default: os.Stdout and
	// os.Stderr).
	Stdout io.Writer
	Stderr io.Writer

	Logger *zap.Logger
}

// ProcessConfigFor derives the served process configuration for a project
// whose output lives in outputDir.
func ProcessConfigFor(cfg *config.Config, outputDir string, port int) ProcessConfig {
	runtime := cfg.Dev.Runtime
	if runtime == "" {
		runtime = config.DefaultRuntime
	}
	serverDir := filepath.Join(outputDir, split.ServerDir)
	return ProcessConfig{
		Runtime: runtime,
		Script:  filepath.Join(serverDir, build.ServerEntry),
		Dir:     serverDir,
		Port:    port,
	}
}

// Process supervises the served process. At most one instance runs at a
// time; Restart waits for the old instance to exit before launching.
type Process struct {
	config ProcessConfig
	logger *zap.Logger
	mu     sync.Mutex
	proc   *processHandle
}

// NewProcess creates a supervisor. Nothing runs until Start.
func NewProcess(cfg ProcessConfig) *Process {
	if cfg.Runtime == "" {
		cfg.Runtime = config.DefaultRuntime
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Process{
		config: cfg,
		logger: logging.OrNop(cfg.Logger).Named("process"),
	}
}

// Start launches the process, stopping a running instance first.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.proc != nil {
		stopProcess(p.proc, stopTimeout)
		p.proc = nil
	}

	env := append(os.Environ(), config.PortEnv+"="+strconv.Itoa(p.config.Port))
	env = append(env, p.config.Env...)

	proc, err := startProcess(p.config.Runtime, []string{p.config.Script}, p.config.Dir, env, p.config.Stdout, p.config.Stderr)
	if err != nil {
		return errors.New("E143").
			WithDetail(fmt.Sprintf("%s %s", p.config.Runtime, p.config.Script)).
			Wrap(err)
	}
	p.proc = proc
	p.logger.Debug("started", zap.Int("pid", proc.pid()), zap.Int("port", p.config.Port))
	return nil
}

// Stop terminates the running process and waits for it to exit.
func (p *Process) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		return
	}
	stopProcess(p.proc, stopTimeout)
	p.logger.Debug("stopped", zap.Int("pid", p.proc.pid()))
	p.proc = nil
}

// Restart stops the current process and starts a new one.
func (p *Process) Restart(ctx context.Context) error {
	p.Stop()
	return p.Start(ctx)
}

// IsRunning returns whether the process is running.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proc != nil && !p.proc.exited()
}

// Port returns the port the process listens on.
func (p *Process) Port() int {
	return p.config.Port
}

// WaitReady polls the process port until it accepts connections, the
// process exits, or ctx is done.
func (p *Process) WaitReady(ctx context.Context) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(p.config.Port))
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}

		p.mu.Lock()
		proc := p.proc
		p.mu.Unlock()
		if proc == nil || proc.exited() {
			return errors.New("E143").WithDetail("the server process exited before listening on " + addr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
