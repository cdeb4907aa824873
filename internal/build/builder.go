package build

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/isosplit/isosplit/internal/config"
	"github.com/isosplit/isosplit/internal/errors"
	"github.com/isosplit/isosplit/internal/split"
)

//go:embed runtime/server.js
var defaultServer []byte

const (
	// ServerEntry is the process entry point inside the server tree.
	ServerEntry = "server.js"

	// BundleFile is the bundled client inside the client tree.
	BundleFile = "bundle.js"

	tracerName = "github.com/isosplit/isosplit/internal/build"
)

// serverPackageJSON marks the server tree as ES modules for node.
var serverPackageJSON = []byte("{\n  \"type\": \"module\"\n}\n")

// Result is the outcome of one build. Every build returns a fresh value;
// nothing is shared between builds.
type Result struct {
	// Token is the rebuild token the build ran for (0 for one-shot builds).
	Token uint64

	// Duration is how long the build took.
	Duration time.Duration

	// Output is the output root the artifacts were swapped into.
	Output string

	// Routes are the detected routes, in declaration order.
	Routes []split.Route

	// Manifest is the route table written to server/manifest.json.
	Manifest split.Manifest

	// Files lists every file in the output tree, slash-separated and
	// relative to Output, sorted.
	Files []string

	// BundleSize is the size of client/bundle.js in bytes.
	BundleSize int64

	// Warnings are non-fatal problems, such as missing passthrough assets.
	Warnings []string
}

// Options configures the builder.
type Options struct {
	// Minify enables minification of the client bundle.
	Minify bool

	// SourceMaps overrides build.sourceMaps when set.
	SourceMaps *bool

	// Output overrides build.output when set.
	Output string

	// Logger receives step-level debug logs and warnings.
	Logger *zap.Logger

	// Tracer overrides the global OpenTelemetry tracer.
	Tracer trace.Tracer

	// OnProgress is called with progress updates.
	OnProgress func(step string)
}

// Builder runs the build pipeline for one project.
type Builder struct {
	config  *config.Config
	options Options
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a new builder.
func New(cfg *config.Config, options Options) *Builder {
	// Apply config defaults to options
	if !options.Minify && cfg.Build.Minify {
		options.Minify = true
	}
	if options.SourceMaps == nil {
		sourceMaps := cfg.SourceMapsEnabled()
		options.SourceMaps = &sourceMaps
	}
	if options.Output != "" && !filepath.IsAbs(options.Output) {
		options.Output = filepath.Join(cfg.Dir(), options.Output)
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := options.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Builder{
		config:  cfg,
		options: options,
		logger:  logger.Named("build"),
		tracer:  tracer,
	}
}

// OutputDir returns the absolute output root.
func (b *Builder) OutputDir() string {
	if b.options.Output != "" {
		return b.options.Output
	}
	return b.config.OutputPath()
}

// stagingDir is a sibling of the output root, so relative paths computed
// for one are valid for the other.
func (b *Builder) stagingDir() string {
	out := b.OutputDir()
	return filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+".staging")
}

func (b *Builder) oldDir() string {
	out := b.OutputDir()
	return filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+".old")
}

// Build performs a one-shot build.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	return b.BuildToken(ctx, 0)
}

// BuildToken runs the full pipeline for a rebuild token. Artifacts are
// produced in a staging directory and swapped into place only when every
// step succeeded; on failure the previous output is left untouched.
func (b *Builder) BuildToken(ctx context.Context, token uint64) (*Result, error) {
	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "isosplit.build",
		trace.WithAttributes(attribute.Int64("isosplit.token", int64(token))))
	defer span.End()

	result := &Result{Token: token, Output: b.OutputDir()}
	staging := b.stagingDir()
	swapped := false
	defer func() {
		if !swapped {
			os.RemoveAll(staging)
		}
	}()

	err := b.run(ctx, result, staging)
	if err == nil {
		err = b.step(ctx, "swap", func(context.Context) error {
			return b.swap(staging)
		})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	swapped = true

	result.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("isosplit.routes", len(result.Routes)))
	span.SetStatus(codes.Ok, "")
	b.logger.Debug("build finished",
		zap.Uint64("token", token),
		zap.Int("routes", len(result.Routes)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (b *Builder) run(ctx context.Context, result *Result, staging string) error {
	entry := b.config.EntryPath()

	var content []byte
	if err := b.step(ctx, "read", func(context.Context) error {
		data, err := os.ReadFile(entry)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.New("E110").
					WithDetail(fmt.Sprintf("%s does not exist", entry)).
					WithSuggestion("Set \"entry\" in isosplit.json or create the file")
			}
			return errors.New("E110").Wrap(err)
		}
		content = data
		return nil
	}); err != nil {
		return err
	}

	var out *split.Output
	if err := b.step(ctx, "split", func(ctx context.Context) error {
		var err error
		out, err = split.Split(ctx, entry, content, b.splitOptions(staging))
		return err
	}); err != nil {
		return err
	}
	result.Routes = out.Routes
	result.Manifest = out.Manifest

	if err := b.step(ctx, "write", func(context.Context) error {
		if err := os.RemoveAll(staging); err != nil {
			return errors.New("E142").Wrap(err)
		}
		for _, f := range out.Files {
			if err := writeFile(filepath.Join(staging, filepath.FromSlash(f.Path)), f.Content); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	serverDir := filepath.Join(staging, split.ServerDir)
	clientDir := filepath.Join(staging, split.ClientDir)

	if err := b.step(ctx, "manifest", func(context.Context) error {
		if err := split.WriteManifest(serverDir, out.Manifest); err != nil {
			return errors.New("E142").Wrap(err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := b.step(ctx, "entry", func(context.Context) error {
		return b.writeServerEntry(serverDir)
	}); err != nil {
		return err
	}

	if err := b.step(ctx, "assets", func(context.Context) error {
		return b.copyAssets(clientDir, result)
	}); err != nil {
		return err
	}

	if err := b.step(ctx, "bundle", func(context.Context) error {
		size, err := b.bundle(clientDir)
		result.BundleSize = size
		return err
	}); err != nil {
		return err
	}

	files, err := listFiles(staging)
	if err != nil {
		return errors.New("E142").Wrap(err)
	}
	result.Files = files
	return nil
}

// splitOptions derives the splitter configuration. The staging tree is a
// sibling of the output root, so specifiers relocated for one resolve from
// the other.
func (b *Builder) splitOptions(staging string) split.Options {
	return split.Options{
		Rewrite: split.RewriteOptions{
			Marker:          b.config.Marker.Name,
			MarkerModule:    b.config.MarkerModulePath(),
			MarkerSpecifier: b.config.Marker.Module,
			ClientModule:    b.config.ClientModulePath(),
			ClientSpecifier: b.config.Marker.ClientModule,
			OutDir:          filepath.Join(staging, split.ClientDir),
		},
		Capabilities: split.DefaultCapabilities(),
		Target:       split.DefaultTarget,
	}
}

// Routes runs parse and detect only.
func (b *Builder) Routes(ctx context.Context) ([]split.Route, error) {
	entry := b.config.EntryPath()
	content, err := os.ReadFile(entry)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E110").WithDetail(fmt.Sprintf("%s does not exist", entry))
		}
		return nil, errors.New("E110").Wrap(err)
	}

	src, err := split.Parse(ctx, entry, content)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return split.Detect(src, b.config.Marker.Name)
}

// writeServerEntry installs the process entry point: the project's own
// public/server/server.js when present, the embedded dispatcher otherwise.
func (b *Builder) writeServerEntry(serverDir string) error {
	dst := filepath.Join(serverDir, ServerEntry)
	custom := filepath.Join(b.config.PublicPath(), split.ServerDir, ServerEntry)

	if _, err := os.Stat(custom); err == nil {
		if err := copyFile(custom, dst); err != nil {
			return errors.New("E142").Wrap(err)
		}
		b.logger.Debug("using project server entry", zap.String("path", custom))
	} else if err := writeFile(dst, defaultServer); err != nil {
		return err
	}

	pkg := filepath.Join(serverDir, "package.json")
	if _, err := os.Stat(pkg); os.IsNotExist(err) {
		return writeFile(pkg, serverPackageJSON)
	}
	return nil
}

// copyAssets copies the public directory into the client tree. The server
// override directory is skipped. Missing assets are warnings, never errors.
func (b *Builder) copyAssets(clientDir string, result *Result) error {
	srcDir := b.config.PublicPath()
	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		b.warn(result, fmt.Sprintf("%s not found, skipping passthrough assets", relTo(b.config.Dir(), srcDir)))
		return nil
	}
	if _, err := os.Stat(filepath.Join(srcDir, "index.html")); os.IsNotExist(err) {
		b.warn(result, fmt.Sprintf("%s not found, skipping", relTo(b.config.Dir(), filepath.Join(srcDir, "index.html"))))
	}

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, _ := filepath.Rel(srcDir, path)
		if d.IsDir() {
			if relPath == split.ServerDir {
				return filepath.SkipDir
			}
			return nil
		}

		dst := filepath.Join(clientDir, relPath)
		if _, err := os.Stat(dst); err == nil {
			b.warn(result, fmt.Sprintf("public/%s collides with a generated file, skipping", filepath.ToSlash(relPath)))
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return errors.New("E142").Wrap(err)
		}
		if err := copyFile(path, dst); err != nil {
			return errors.New("E142").Wrap(err)
		}
		return nil
	})
}

// bundle produces client/bundle.js from client/main.js.
func (b *Builder) bundle(clientDir string) (int64, error) {
	outfile := filepath.Join(clientDir, BundleFile)

	sourcemap := api.SourceMapNone
	if *b.options.SourceMaps {
		sourcemap = api.SourceMapLinked
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:       []string{filepath.Join(clientDir, split.ClientEntry)},
		Outfile:           outfile,
		Bundle:            true,
		Format:            api.FormatIIFE,
		Platform:          api.PlatformBrowser,
		Target:            parseTarget(b.config.Build.Target),
		Sourcemap:         sourcemap,
		MinifyWhitespace:  b.options.Minify,
		MinifyIdentifiers: b.options.Minify,
		MinifySyntax:      b.options.Minify,
		AbsWorkingDir:     b.config.Dir(),
		LogLevel:          api.LogLevelSilent,
		Write:             true,
	})
	if len(result.Errors) > 0 {
		msgs := split.MessagesError(result.Errors)
		return 0, errors.New("E130").
			WithDetail(msgs.Error()).
			WithDiagnostics(split.Diagnostics(msgs)...).
			Wrap(msgs)
	}
	for _, w := range result.Warnings {
		b.logger.Debug("bundler warning", zap.String("text", w.Text))
	}

	info, err := os.Stat(outfile)
	if err != nil {
		return 0, errors.New("E130").Wrap(err)
	}
	return info.Size(), nil
}

// swap replaces the output root with the staging directory.
func (b *Builder) swap(staging string) error {
	out := b.OutputDir()
	old := b.oldDir()

	if err := os.RemoveAll(old); err != nil {
		return errors.New("E142").Wrap(err)
	}
	hadOutput := false
	if _, err := os.Stat(out); err == nil {
		if err := os.Rename(out, old); err != nil {
			return errors.New("E142").WithDetail("could not move the previous output aside").Wrap(err)
		}
		hadOutput = true
	}
	if err := os.Rename(staging, out); err != nil {
		if hadOutput {
			os.Rename(old, out)
		}
		return errors.New("E142").WithDetail("could not move the new output into place").Wrap(err)
	}
	if hadOutput {
		os.RemoveAll(old)
	}
	return nil
}

// Clean removes the output root and any leftovers of interrupted builds.
func (b *Builder) Clean() error {
	for _, dir := range []string{b.OutputDir(), b.stagingDir(), b.oldDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return nil
}

// step runs fn in a span named after the step.
func (b *Builder) step(ctx context.Context, name string, fn func(context.Context) error) error {
	b.progress(name)
	ctx, span := b.tracer.Start(ctx, "build."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Debug("step failed", zap.String("step", name), zap.Error(err))
		return err
	}
	return nil
}

func (b *Builder) warn(result *Result, msg string) {
	result.Warnings = append(result.Warnings, msg)
	b.logger.Warn(msg)
}

// progress reports build progress.
func (b *Builder) progress(step string) {
	if b.options.OnProgress != nil {
		b.options.OnProgress(step)
	}
}

// parseTarget maps a build.target value onto an esbuild target.
func parseTarget(target string) api.Target {
	switch strings.ToLower(target) {
	case "es5":
		return api.ES5
	case "es2015", "es6":
		return api.ES2015
	case "es2016":
		return api.ES2016
	case "es2017":
		return api.ES2017
	case "es2018":
		return api.ES2018
	case "es2019":
		return api.ES2019
	case "es2020":
		return api.ES2020
	case "es2021":
		return api.ES2021
	case "es2022":
		return api.ES2022
	case "esnext":
		return api.ESNext
	default:
		return api.ES2019
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.New("E142").Wrap(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E142").WithDetail(path).Wrap(err)
	}
	return nil
}

// copyFile copies a file.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// listFiles returns the files under root, slash-separated and sorted.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

func relTo(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
