package dev

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/isosplit/isosplit/internal/build"
	"github.com/isosplit/isosplit/internal/config"
	"github.com/isosplit/isosplit/internal/errors"
	"github.com/isosplit/isosplit/internal/logging"
	"github.com/isosplit/isosplit/internal/split"
)

const (
	// RoutesPath serves the route table of the last successful build.
	RoutesPath = "/_isosplit/routes"

	// MetricsPath serves the development loop's Prometheus metrics.
	MetricsPath = "/_isosplit/metrics"

	readyTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Builder runs the build pipeline for a rebuild token.
type Builder interface {
	BuildToken(ctx context.Context, token uint64) (*build.Result, error)
}

// Runner is the served process.
type Runner interface {
	Restart(ctx context.Context) error
	WaitReady(ctx context.Context) error
	Stop()
}

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// Port is the port browsers connect to (default: dev.port).
	Port int

	// Host overrides dev.host.
	Host string

	// NoProxy runs the served process directly on Port, without the reload
	// proxy.
	NoProxy bool

	// Builder overrides the build pipeline. It is kept across config
	// reloads.
	Builder Builder

	// NewBuilder creates the build pipeline for a configuration, at startup
	// and after every reload of isosplit.json (default: build.New).
	NewBuilder func(cfg *config.Config) Builder

	// Runner overrides the served process.
	Runner Runner

	Logger *zap.Logger

	// OnBuildComplete is called for every finished build.
	OnBuildComplete func(done Completion)

	// OnReady is called once the front server listens.
	OnReady func(url string)
}

// Server is the development server: watcher → coordinator → builder →
// process, with an optional reload proxy in front.
type Server struct {
	config      *config.Config
	options     ServerOptions
	logger      *zap.Logger
	builder     Builder
	runner      Runner
	coordinator *Coordinator
	reload      *ReloadServer
	metrics     *Metrics
	router      chi.Router
	host        string
	port        int
	appPort     int
	proxy       bool

	mu       sync.RWMutex
	manifest split.Manifest
	built    bool

	// configChanged is set when isosplit.json or .env changed since the
	// last reload.
	configChanged atomic.Bool

	// styleOnly stays set while every change since the last build touched
	// only stylesheets.
	styleOnly atomic.Bool
	changed   atomic.Bool
}

// NewServer creates a development server.
func NewServer(options ServerOptions) *Server {
	cfg := options.Config
	logger := logging.OrNop(options.Logger)

	s := &Server{
		config:  cfg,
		options: options,
		logger:  logger.Named("dev"),
		metrics: NewMetrics(),
		host:    cfg.Dev.Host,
		port:    cfg.Dev.Port,
		proxy:   cfg.HotReloadEnabled() && !options.NoProxy,
	}
	if options.Host != "" {
		s.host = options.Host
	}
	if options.Port != 0 {
		s.port = options.Port
	}
	s.appPort = s.port
	if s.proxy {
		s.appPort = s.port + 1
		s.reload = NewReloadServer(logger)
	}

	s.builder = options.Builder
	if s.builder == nil {
		s.builder = s.newBuilder(cfg)
	}
	s.runner = options.Runner
	if s.runner == nil {
		outDir := cfg.OutputPath()
		if b, ok := s.builder.(*build.Builder); ok {
			outDir = b.OutputDir()
		}
		pc := ProcessConfigFor(cfg, outDir, s.appPort)
		pc.Logger = logger
		s.runner = NewProcess(pc)
	}

	s.coordinator = NewCoordinator(CoordinatorConfig{
		Debounce: cfg.DebounceDuration(),
		Build:    s.build,
		Restart:  s.restart,
		Logger:   logger,
	})
	s.router = s.routes()
	return s
}

// Handler returns the front router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Coordinator returns the rebuild coordinator.
func (s *Server) Coordinator() *Coordinator {
	return s.coordinator
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// URL returns the address browsers should open.
func (s *Server) URL() string {
	host := s.host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.port))
}

// Run builds once, then watches and rebuilds until ctx is done. It returns
// an error only when startup fails (watcher or listener).
func (s *Server) Run(ctx context.Context) error {
	watcher, err := NewWatcher(WatcherConfig{
		Paths:  CollectWatchPaths(s.config),
		Ignore: CollectIgnore(s.config),
		Root:   s.config.Dir(),
		Logger: s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	watcher.OnChange(s.onChange)

	var listener net.Listener
	if s.proxy {
		listener, err = net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
		if err != nil {
			watcher.fs.Close()
			return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
		}
	}

	s.coordinator.RequestNow()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.coordinator.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return s.report(gctx) })

	if listener != nil {
		httpServer := &http.Server{
			Handler:           s.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := httpServer.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			if s.reload != nil {
				s.reload.Close()
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}
	if s.options.OnReady != nil {
		s.options.OnReady(s.URL())
	}

	err = g.Wait()
	s.runner.Stop()
	return err
}

// onChange records a file change and forwards it to the coordinator.
func (s *Server) onChange(change Change) {
	s.metrics.Changes.WithLabelValues(change.Type.String()).Inc()
	if !s.changed.Swap(true) {
		s.styleOnly.Store(change.Type == ChangeStyle)
	} else if change.Type != ChangeStyle {
		s.styleOnly.Store(false)
	}
	if change.Type == ChangeConfig {
		s.configChanged.Store(true)
	}
	s.logger.Debug("changed", zap.String("path", s.rel(change.Path)), zap.Stringer("kind", change.Type))
	s.coordinator.Submit()
}

// build is the coordinator's build hook. A pending config change is applied
// first; if it does not load, the build fails and the reload is retried on
// the next one.
func (s *Server) build(ctx context.Context, token uint64) error {
	s.metrics.RebuildToken.Set(float64(token))
	if s.configChanged.Swap(false) {
		if err := s.reloadConfig(); err != nil {
			s.configChanged.Store(true)
			return err
		}
	}

	result, err := s.builder.BuildToken(ctx, token)
	if err != nil {
		return err
	}

	for _, warning := range result.Warnings {
		s.logger.Warn(warning)
	}

	s.mu.Lock()
	s.manifest = result.Manifest
	s.built = true
	s.mu.Unlock()
	return nil
}

// reloadConfig rereads isosplit.json and .env and replaces the builder.
// Settings the running loop was started with (output, dev.*) keep their
// startup values until the next start.
func (s *Server) reloadConfig() error {
	current := s.currentConfig()
	if current.Path() == "" {
		return nil
	}

	cfg, err := config.LoadFile(current.Path())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.LoadEnv(); err != nil {
		return err
	}

	if pinned := restartOnlyChanges(current, cfg); len(pinned) > 0 {
		s.logger.Warn("restart isosplit dev to apply these settings", zap.Strings("settings", pinned))
	}
	cfg.Build.Output = current.Build.Output
	cfg.Dev = current.Dev

	if s.options.Builder == nil {
		s.builder = s.newBuilder(cfg)
	}
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	s.logger.Info("reloaded configuration", zap.String("path", s.rel(cfg.Path())))
	return nil
}

func (s *Server) newBuilder(cfg *config.Config) Builder {
	if s.options.NewBuilder != nil {
		return s.options.NewBuilder(cfg)
	}
	return build.New(cfg, build.Options{Logger: s.logger})
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// restartOnlyChanges lists the settings that differ between old and cfg but
// only apply when the development loop starts.
func restartOnlyChanges(old, cfg *config.Config) []string {
	var changed []string
	if old.Build.Output != cfg.Build.Output {
		changed = append(changed, "build.output")
	}
	if old.Dev.Port != cfg.Dev.Port || old.Dev.Host != cfg.Dev.Host {
		changed = append(changed, "dev.port/dev.host")
	}
	if old.Dev.Debounce != cfg.Dev.Debounce {
		changed = append(changed, "dev.debounce")
	}
	if !slices.Equal(old.Dev.Watch, cfg.Dev.Watch) || !slices.Equal(old.Dev.Ignore, cfg.Dev.Ignore) {
		changed = append(changed, "dev.watch/dev.ignore")
	}
	if old.Dev.Runtime != cfg.Dev.Runtime || old.HotReloadEnabled() != cfg.HotReloadEnabled() {
		changed = append(changed, "dev.runtime/dev.hotReload")
	}
	return changed
}

// restart is the coordinator's restart hook. The served process is
// replaced and must accept connections before browsers are told to reload.
func (s *Server) restart(ctx context.Context, token uint64) error {
	if err := s.runner.Restart(ctx); err != nil {
		return err
	}
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	return s.runner.WaitReady(readyCtx)
}

// report consumes build completions until ctx is done.
func (s *Server) report(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case done := <-s.coordinator.Completions():
			s.complete(done)
		}
	}
}

func (s *Server) complete(done Completion) {
	s.metrics.observe(done)
	styleOnly := s.styleOnly.Load()
	s.changed.Store(false)

	switch {
	case done.Err != nil:
		code, text := overlayText(done.Err)
		s.logger.Error("build failed", zap.Uint64("token", done.Token), zap.String("code", code))
		errors.PrintError(done.Err)
		if s.reload != nil {
			s.reload.NotifyError(done.Token, code, text)
		}

	case done.RestartErr != nil:
		code, text := overlayText(done.RestartErr)
		s.logger.Error("restart failed", zap.Uint64("token", done.Token), zap.Error(done.RestartErr))
		if s.reload != nil {
			s.reload.NotifyError(done.Token, code, text)
		}

	default:
		s.logger.Info("built",
			zap.Uint64("token", done.Token),
			zap.Duration("duration", done.Duration.Round(time.Millisecond)),
			zap.Bool("stale", done.Stale))
		if s.reload != nil && !done.Stale {
			if styleOnly && done.Token > 1 {
				s.reload.NotifyCSS(done.Token)
			} else {
				s.reload.NotifyReload(done.Token)
			}
		}
	}

	if s.options.OnBuildComplete != nil {
		s.options.OnBuildComplete(done)
	}
}

// routes builds the front router.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if s.reload != nil {
		r.Handle(ReloadPath, s.reload)
	}
	r.Get(RoutesPath, s.handleRoutes)
	r.Handle(MetricsPath, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	r.Handle("/*", s.appProxy())
	return r
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	manifest, built := s.manifest, s.built
	s.mu.RUnlock()

	if !built {
		http.Error(w, "no successful build yet", http.StatusServiceUnavailable)
		return
	}
	data, err := manifest.JSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// appProxy forwards to the served process and injects the reload client
// into HTML responses.
func (s *Server) appProxy() http.Handler {
	target := &url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(s.appPort))}
	proxy := httputil.NewSingleHostReverseProxy(target)

	proxy.ModifyResponse = func(resp *http.Response) error {
		if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			return nil
		}
		if resp.Header.Get("Content-Encoding") != "" {
			return nil
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		resp.Body.Close()

		injected := InjectScript(string(body))
		resp.Body = io.NopCloser(strings.NewReader(injected))
		resp.ContentLength = int64(len(injected))
		resp.Header.Set("Content-Length", strconv.Itoa(len(injected)))
		return nil
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Debug("proxy error", zap.Error(err))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, InjectScript(notRunningPage))
	}

	return proxy
}

// InjectScript inserts the reload client before </body>, falling back to
// </html> and then to the end of the document.
func InjectScript(html string) string {
	if idx := strings.LastIndex(html, "</body>"); idx != -1 {
		return html[:idx] + DevClientScript + html[idx:]
	}
	if idx := strings.LastIndex(html, "</html>"); idx != -1 {
		return html[:idx] + DevClientScript + html[idx:]
	}
	return html + DevClientScript
}

const notRunningPage = `<!DOCTYPE html>
<html>
<head><title>isosplit dev</title></head>
<body style="font-family: system-ui; padding: 40px; background: #1a1a1a; color: #eee;">
<h1 style="color: #ff6b6b;">Server not running</h1>
<p>The served process is not responding. It may still be starting, or the last build failed (check your terminal).</p>
<p style="color: #888;">This page reloads when the next build succeeds.</p>
</body>
</html>`

// overlayText renders an error for the browser overlay, without colors.
func overlayText(err error) (code, text string) {
	se := errors.FromError(err, "E130")

	var b strings.Builder
	b.WriteString(se.FormatCompact())
	if se.Detail != "" {
		b.WriteString("\n\n")
		b.WriteString(se.Detail)
	}
	if se.Wrapped != nil {
		b.WriteString("\n\n")
		b.WriteString(se.Wrapped.Error())
	}
	if se.Suggestion != "" {
		b.WriteString("\n\nHint: ")
		b.WriteString(se.Suggestion)
	}
	return se.Code, b.String()
}

func (s *Server) rel(path string) string {
	dir := s.currentConfig().Dir()
	if !isWithinDir(path, dir) {
		return path
	}
	if rel, err := filepath.Rel(dir, path); err == nil {
		return rel
	}
	return path
}

func isWithinDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath = filepath.Clean(absPath)
	absDir = filepath.Clean(absDir)
	if absPath == absDir {
		return true
	}
	if !strings.HasSuffix(absDir, string(os.PathSeparator)) {
		absDir += string(os.PathSeparator)
	}
	return strings.HasPrefix(absPath, absDir)
}
