package dev

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/isosplit/isosplit/internal/logging"
)

// State is the rebuild coordinator's state.
type State int32

const (
	// Idle: no build in flight.
	Idle State = iota
	// Building: a build for the latest token is in flight.
	Building
	// BuildingStale: a build is in flight and a newer token is already owed.
	BuildingStale
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case BuildingStale:
		return "building-stale"
	default:
		return "idle"
	}
}

// Completion reports one finished build.
type Completion struct {
	// Token is the rebuild token the build ran for.
	Token uint64

	// Err is the build error; the restart hook did not run when set.
	Err error

	// RestartErr is the restart hook's error.
	RestartErr error

	// Restarted is set when the restart hook ran.
	Restarted bool

	// Stale is set when a newer token was requested while building. Another
	// build follows immediately.
	Stale bool

	// Duration covers the build and the restart.
	Duration time.Duration
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Debounce is the quiet window that collapses change bursts into one
	// token bump.
	Debounce time.Duration

	// Build runs the full pipeline for a token.
	Build func(ctx context.Context, token uint64) error

	// Restart relaunches the served process after a successful build. It
	// runs in the same serialized slot as the build.
	Restart func(ctx context.Context, token uint64) error

	Logger *zap.Logger
}

// Coordinator serializes and coalesces rebuilds. A single goroutine (Run)
// owns the debounce timer and the in-flight flag; the token is the only
// state shared with callers and is only ever incremented and read.
//
// At most one build runs at a time. A build is never interrupted: when
// changes arrive mid-build, another build for the latest token starts as
// soon as the current one finishes.
type Coordinator struct {
	config      CoordinatorConfig
	logger      *zap.Logger
	changes     chan struct{}
	now         chan struct{}
	completions chan Completion
	latest      atomic.Uint64
	state       atomic.Int32
}

// NewCoordinator creates a coordinator. Call Run to start it.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	return &Coordinator{
		config:      config,
		logger:      logging.OrNop(config.Logger).Named("coordinator"),
		changes:     make(chan struct{}, 64),
		now:         make(chan struct{}, 1),
		completions: make(chan Completion, 64),
	}
}

// Submit records a change notification. It never blocks; when the queue is
// full the notification is redundant with one already queued.
func (c *Coordinator) Submit() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// RequestNow asks for a build without waiting for the debounce window.
func (c *Coordinator) RequestNow() {
	select {
	case c.now <- struct{}{}:
	default:
	}
}

// Completions delivers one value per finished build. Values are dropped
// when nobody keeps up with a backlog of 64.
func (c *Coordinator) Completions() <-chan Completion {
	return c.completions
}

// State returns the current state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Latest returns the most recently requested token.
func (c *Coordinator) Latest() uint64 {
	return c.latest.Load()
}

// Run processes notifications until ctx is done. It waits for an in-flight
// build to finish before returning.
func (c *Coordinator) Run(ctx context.Context) error {
	// Builds outlive cancellation so they never leave half-written output.
	buildCtx := context.WithoutCancel(ctx)
	results := make(chan Completion, 1)
	building := false

	start := func(token uint64) {
		building = true
		c.state.Store(int32(Building))
		c.logger.Debug("build started", zap.Uint64("token", token))
		go func() {
			results <- c.execute(buildCtx, token)
		}()
	}

	request := func() {
		token := c.latest.Add(1)
		if building {
			c.state.Store(int32(BuildingStale))
			c.logger.Debug("build owed", zap.Uint64("token", token))
			return
		}
		start(token)
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if building {
				c.emit(<-results)
			}
			c.state.Store(int32(Idle))
			return nil

		case <-c.changes:
			if timer == nil {
				timer = time.NewTimer(c.config.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(c.config.Debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			request()

		case <-c.now:
			request()

		case done := <-results:
			building = false
			latest := c.latest.Load()
			done.Stale = latest != done.Token
			c.emit(done)
			if done.Stale {
				start(latest)
			} else {
				c.state.Store(int32(Idle))
			}
		}
	}
}

// execute runs one build and, on success, the restart hook.
func (c *Coordinator) execute(ctx context.Context, token uint64) Completion {
	started := time.Now()
	done := Completion{Token: token}

	if c.config.Build != nil {
		done.Err = c.config.Build(ctx, token)
	}
	if done.Err == nil && c.config.Restart != nil {
		done.Restarted = true
		done.RestartErr = c.config.Restart(ctx, token)
	}

	done.Duration = time.Since(started)
	return done
}

func (c *Coordinator) emit(done Completion) {
	select {
	case c.completions <- done:
	default:
		c.logger.Warn("completion dropped", zap.Uint64("token", done.Token))
	}
}
