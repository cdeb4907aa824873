package dev

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/isosplit/isosplit/internal/config"
	"github.com/isosplit/isosplit/internal/logging"
)

// ChangeType classifies a changed file.
type ChangeType int

const (
	ChangeSource ChangeType = iota
	ChangeStyle
	ChangeAsset
	ChangeConfig
)

func (t ChangeType) String() string {
	switch t {
	case ChangeSource:
		return "source"
	case ChangeStyle:
		return "style"
	case ChangeConfig:
		return "config"
	default:
		return "asset"
	}
}

// Change represents a detected file change.
type Change struct {
	Path string
	Type ChangeType
	Op   fsnotify.Op
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Paths are the files and directories to watch. Directories are watched
	// recursively. Missing paths are skipped.
	Paths []string

	// Ignore patterns to skip (names, globs, or path segments). Patterns
	// match the path relative to Root, so directories above the project
	// never count.
	Ignore []string

	// Root is the project directory. When empty, paths are made relative to
	// the watched path that contains them.
	Root string

	Logger *zap.Logger
}

// DefaultIgnore contains default patterns to ignore.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	"dist",
	".*.staging",
	".*.old",
	".DS_Store",
	"*.tmp",
	"*.swp",
	"*~",
}

// Watcher reports file changes under a set of paths. New directories are
// picked up as they are created.
type Watcher struct {
	config   WatcherConfig
	logger   *zap.Logger
	fs       *fsnotify.Watcher
	mu       sync.Mutex
	onChange func(Change)

	// files restricts events in a directory to the listed names, for paths
	// that name a single file.
	files map[string]map[string]bool
	// trees are directories watched recursively.
	trees map[string]bool
}

// NewWatcher creates a watcher and registers its paths.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		config: config,
		logger: logging.OrNop(config.Logger).Named("watch"),
		fs:     fsw,
		files:  make(map[string]map[string]bool),
		trees:  make(map[string]bool),
	}

	for _, p := range config.Paths {
		if err := w.add(p); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// OnChange sets the callback for file changes.
func (w *Watcher) OnChange(fn func(Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// WatchList returns the directories currently registered with the OS.
func (w *Watcher) WatchList() []string {
	return w.fs.WatchList()
}

// Run delivers events until ctx is done, then releases the OS watches.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	if w.shouldIgnore(event.Name) || !w.wanted(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("could not watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
	}

	w.mu.Lock()
	callback := w.onChange
	w.mu.Unlock()
	if callback == nil {
		return
	}

	w.logger.Debug("change", zap.String("path", event.Name), zap.Stringer("op", event.Op))
	callback(Change{
		Path: event.Name,
		Type: classifyChange(event.Name),
		Op:   event.Op,
	})
}

// wanted reports whether an event falls under a registered path.
func (w *Watcher) wanted(name string) bool {
	dir := filepath.Dir(name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.trees[dir] || w.trees[name] {
		return true
	}
	return w.files[dir][filepath.Base(name)]
}

func (w *Watcher) add(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			w.logger.Debug("watch path missing", zap.String("path", p))
			return nil
		}
		return err
	}
	if info.IsDir() {
		return w.addTree(p)
	}

	// Editors replace files by rename, so watch the parent directory.
	dir := filepath.Dir(p)
	w.mu.Lock()
	if w.files[dir] == nil {
		w.files[dir] = make(map[string]bool)
	}
	w.files[dir][filepath.Base(p)] = true
	tracked := w.trees[dir]
	w.mu.Unlock()
	if tracked {
		return nil
	}
	return w.fs.Add(dir)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.shouldIgnore(p) {
			return filepath.SkipDir
		}

		w.mu.Lock()
		seen := w.trees[p]
		w.trees[p] = true
		w.mu.Unlock()
		if seen {
			return nil
		}
		return w.fs.Add(p)
	})
}

// shouldIgnore checks if a path should be ignored.
func (w *Watcher) shouldIgnore(fullPath string) bool {
	name := filepath.Base(fullPath)
	normalized := filepath.ToSlash(w.relative(fullPath))

	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		if name == pattern {
			return true
		}

		hasPathSep := strings.Contains(pattern, "/") || strings.Contains(pattern, "\\")
		hasGlob := strings.ContainsAny(pattern, "*?[")

		if hasGlob {
			if hasPathSep {
				if matched, _ := path.Match(filepath.ToSlash(pattern), normalized); matched {
					return true
				}
			} else {
				if matched, _ := filepath.Match(pattern, name); matched {
					return true
				}
			}
			continue
		}

		if hasPathSep {
			if pathMatchesSegments(normalized, filepath.ToSlash(pattern)) {
				return true
			}
			continue
		}

		if pathHasSegment(normalized, pattern) {
			return true
		}
	}

	return false
}

// relative returns p relative to the root, or p itself when it lies
// outside of it.
func (w *Watcher) relative(p string) string {
	root := w.config.Root
	if root == "" {
		root = w.watchRootFor(p)
	}
	if root == "" {
		return p
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return rel
}

// watchRootFor returns the deepest configured path containing p. Single
// files count as their directory.
func (w *Watcher) watchRootFor(p string) string {
	var best string
	for _, candidate := range w.config.Paths {
		candidate = filepath.Clean(candidate)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			candidate = filepath.Dir(candidate)
		}
		if (p == candidate || isWithinDir(p, candidate)) && len(candidate) > len(best) {
			best = candidate
		}
	}
	return best
}

func pathHasSegment(path, segment string) bool {
	if segment == "" {
		return false
	}
	for _, part := range splitPathSegments(path) {
		if part == segment {
			return true
		}
	}
	return false
}

func pathMatchesSegments(path, pattern string) bool {
	pathParts := splitPathSegments(path)
	patternParts := splitPathSegments(pattern)
	if len(patternParts) == 0 || len(patternParts) > len(pathParts) {
		return false
	}

	for i := 0; i <= len(pathParts)-len(patternParts); i++ {
		match := true
		for j := range patternParts {
			if pathParts[i+j] != patternParts[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}

	return false
}

func splitPathSegments(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	return result
}

// classifyChange determines the type of change based on file extension.
func classifyChange(p string) ChangeType {
	if base := filepath.Base(p); base == config.ConfigFileName || base == ".env" {
		return ChangeConfig
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".js", ".mjs", ".cjs", ".jsx", ".ts", ".mts", ".cts", ".tsx":
		return ChangeSource
	case ".css", ".scss", ".sass", ".less":
		return ChangeStyle
	default:
		return ChangeAsset
	}
}
