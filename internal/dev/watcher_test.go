package dev

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/isosplit/isosplit/internal/config"
)

func runWatcher(t *testing.T, w *Watcher) <-chan Change {
	t.Helper()
	changes := make(chan Change, 64)
	w.OnChange(func(c Change) {
		select {
		case changes <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})
	return changes
}

// waitFor returns the first change for path.
func waitFor(t *testing.T, changes <-chan Change, path string) Change {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Path == path {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a change to %s", path)
		}
	}
}

func TestWatcher_Modify(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	dir := t.TempDir()

	file := filepath.Join(dir, "index.ts")
	require.NoError(t, os.WriteFile(file, []byte("export {}"), 0644))

	w, err := NewWatcher(WatcherConfig{Paths: []string{dir}})
	require.NoError(t, err)
	changes := runWatcher(t, w)

	require.NoError(t, os.WriteFile(file, []byte("export const x = 1"), 0644))

	change := waitFor(t, changes, file)
	assert.Equal(t, ChangeSource, change.Type)
}

func TestWatcher_NewDirectory(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	dir := t.TempDir()

	w, err := NewWatcher(WatcherConfig{Paths: []string{dir}})
	require.NoError(t, err)
	changes := runWatcher(t, w)

	sub := filepath.Join(dir, "lib")
	require.NoError(t, os.Mkdir(sub, 0755))
	waitFor(t, changes, sub)
	require.Eventually(t, func() bool {
		for _, p := range w.WatchList() {
			if p == sub {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	file := filepath.Join(sub, "util.js")
	require.NoError(t, os.WriteFile(file, []byte("export {}"), 0644))
	waitFor(t, changes, file)
}

func TestWatcher_SingleFile(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	dir := t.TempDir()

	cfgFile := filepath.Join(dir, config.ConfigFileName)
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(cfgFile, []byte("{}"), 0644))

	w, err := NewWatcher(WatcherConfig{Paths: []string{cfgFile}})
	require.NoError(t, err)
	changes := runWatcher(t, w)

	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(cfgFile, []byte(`{"name":"x"}`), 0644))

	change := waitFor(t, changes, cfgFile)
	assert.Equal(t, ChangeConfig, change.Type)

	select {
	case c := <-changes:
		assert.NotEqual(t, other, c.Path)
	default:
	}
}

func TestWatcher_SkipsIgnoredDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))

	w, err := NewWatcher(WatcherConfig{Paths: []string{dir}})
	require.NoError(t, err)
	defer w.fs.Close()

	list := w.WatchList()
	assert.Contains(t, list, filepath.Join(dir, "src"))
	assert.NotContains(t, list, filepath.Join(dir, "node_modules"))
	assert.NotContains(t, list, filepath.Join(dir, "node_modules", "pkg"))
}

func TestWatcher_MissingPath(t *testing.T) {
	w, err := NewWatcher(WatcherConfig{Paths: []string{filepath.Join(t.TempDir(), "missing")}})
	require.NoError(t, err)
	defer w.fs.Close()
	assert.Empty(t, w.WatchList())
}

func TestWatcher_Ignore(t *testing.T) {
	w := &Watcher{config: WatcherConfig{Ignore: DefaultIgnore}}

	tests := []struct {
		path string
		want bool
	}{
		{"/proj/src/index.ts", false},
		{"/proj/.git/HEAD", true},
		{"/proj/node_modules/react/index.js", true},
		{"/proj/dist/client/bundle.js", true},
		{"/proj/.dist.staging", true},
		{"/proj/.dist.old", true},
		{"/proj/src/.index.ts.swp", true},
		{"/proj/src/index.ts~", true},
		{"/proj/public/.DS_Store", true},
		{"/proj/src/distance.ts", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, w.shouldIgnore(filepath.FromSlash(tt.path)))
		})
	}
}

func TestWatcher_IgnorePatterns(t *testing.T) {
	w := &Watcher{config: WatcherConfig{Ignore: []string{"*.gen.ts", "vendor", "public/server", "/proj/out"}}}

	assert.True(t, w.shouldIgnore(filepath.FromSlash("/proj/src/routes.gen.ts")))
	assert.True(t, w.shouldIgnore(filepath.FromSlash("/proj/vendor/lib.js")))
	assert.True(t, w.shouldIgnore(filepath.FromSlash("/proj/public/server/server.js")))
	assert.True(t, w.shouldIgnore(filepath.FromSlash("/proj/out/client/bundle.js")))
	assert.False(t, w.shouldIgnore(filepath.FromSlash("/proj/public/index.html")))
	assert.False(t, w.shouldIgnore(filepath.FromSlash("/proj/src/vendored.ts")))
}

func TestWatcher_IgnoreRelativeToRoot(t *testing.T) {
	root := filepath.FromSlash("/home/dist/node_modules/app")
	w := &Watcher{config: WatcherConfig{Ignore: DefaultIgnore, Root: root}}

	assert.False(t, w.shouldIgnore(filepath.Join(root, "src", "index.ts")))
	assert.False(t, w.shouldIgnore(filepath.Join(root, "isosplit.json")))
	assert.True(t, w.shouldIgnore(filepath.Join(root, "dist", "client", "bundle.js")))
	assert.True(t, w.shouldIgnore(filepath.Join(root, "src", "node_modules", "x.js")))
}

func TestWatcher_ProjectUnderIgnoredDirectory(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	dir := filepath.Join(t.TempDir(), "dist", "myapp")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	entry := filepath.Join(dir, "src", "index.ts")
	require.NoError(t, os.WriteFile(entry, []byte("export {}"), 0644))

	cfg := config.Default(dir)
	w, err := NewWatcher(WatcherConfig{
		Paths:  CollectWatchPaths(cfg),
		Ignore: CollectIgnore(cfg),
		Root:   cfg.Dir(),
	})
	require.NoError(t, err)
	assert.Contains(t, w.WatchList(), filepath.Join(dir, "src"))
	changes := runWatcher(t, w)

	require.NoError(t, os.WriteFile(entry, []byte("export const x = 1"), 0644))
	change := waitFor(t, changes, entry)
	assert.Equal(t, ChangeSource, change.Type)
}

func TestClassifyChange(t *testing.T) {
	tests := []struct {
		path string
		want ChangeType
	}{
		{"src/index.ts", ChangeSource},
		{"src/app.tsx", ChangeSource},
		{"framework/api.js", ChangeSource},
		{"public/style.css", ChangeStyle},
		{"public/theme.scss", ChangeStyle},
		{"public/index.html", ChangeAsset},
		{"public/logo.png", ChangeAsset},
		{"isosplit.json", ChangeConfig},
		{".env", ChangeConfig},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyChange(tt.path), tt.path)
	}
}

func TestCollectWatchPaths(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Dev.Watch = []string{"src", "lib", "/abs/extra", ""}

	paths := CollectWatchPaths(cfg)

	assert.Equal(t, []string{
		filepath.Join(dir, "src"),
		filepath.Join(dir, "framework"),
		filepath.Join(dir, "public"),
		filepath.Join(dir, config.ConfigFileName),
		filepath.Join(dir, ".env"),
		filepath.Join(dir, "lib"),
		filepath.Clean("/abs/extra"),
	}, paths)
}

func TestCollectIgnore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Dev.Ignore = []string{"*.log"}

	patterns := CollectIgnore(cfg)
	assert.Contains(t, patterns, "node_modules")
	assert.Contains(t, patterns, "*.log")
	assert.Equal(t, config.DefaultOutput, patterns[len(patterns)-1])

	cfg.Build.Output = filepath.Join("build", "web")
	patterns = CollectIgnore(cfg)
	assert.Equal(t, "build/web", patterns[len(patterns)-1])

	outside := filepath.Join(t.TempDir(), "out")
	cfg.Build.Output = outside
	patterns = CollectIgnore(cfg)
	assert.Equal(t, filepath.ToSlash(outside), patterns[len(patterns)-1])
}
