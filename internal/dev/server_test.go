package dev

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/isosplit/isosplit/internal/build"
	"github.com/isosplit/isosplit/internal/config"
	"github.com/isosplit/isosplit/internal/errors"
	"github.com/isosplit/isosplit/internal/split"
)

type fakeBuilder struct {
	mu     sync.Mutex
	tokens []uint64
	err    error
	routes []split.Route
}

func (b *fakeBuilder) BuildToken(ctx context.Context, token uint64) (*build.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, token)
	if b.err != nil {
		return nil, b.err
	}
	return &build.Result{
		Token:    token,
		Routes:   b.routes,
		Manifest: split.NewManifest(b.routes),
	}, nil
}

type fakeRunner struct {
	restarts atomic.Int32
	stops    atomic.Int32
	err      error
}

func (r *fakeRunner) Restart(ctx context.Context) error {
	r.restarts.Add(1)
	return r.err
}

func (r *fakeRunner) WaitReady(ctx context.Context) error { return nil }

func (r *fakeRunner) Stop() { r.stops.Add(1) }

func newTestServer(t *testing.T, port int, options ServerOptions) (*Server, *fakeBuilder, *fakeRunner) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Dev.Port = port
	cfg.Dev.Debounce = "10ms"

	builder := &fakeBuilder{routes: []split.Route{split.NewRoute("hello", "hello", "async () => 1")}}
	runner := &fakeRunner{}
	options.Config = cfg
	options.Builder = builder
	options.Runner = runner
	return NewServer(options), builder, runner
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Routes(t *testing.T) {
	s, _, _ := newTestServer(t, 4000, ServerOptions{})

	rec := get(t, s.Handler(), RoutesPath)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, s.build(context.Background(), 1))

	rec = get(t, s.Handler(), RoutesPath)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var entries []split.ManifestEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Equal(t, []split.ManifestEntry{{ID: "hello", HandlerPath: "routes/hello.js", ClientPath: "proxies/hello.js"}}, entries)
}

func TestServer_Metrics(t *testing.T) {
	s, _, _ := newTestServer(t, 4000, ServerOptions{})

	require.NoError(t, s.build(context.Background(), 7))
	s.complete(Completion{Token: 7, Restarted: true, Duration: 20 * time.Millisecond})
	s.complete(Completion{Token: 8, Err: errors.New("E100")})
	s.onChange(Change{Path: "/x/src/index.ts", Type: ChangeSource})

	rec := get(t, s.Handler(), MetricsPath)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		`isosplit_builds_total{result="success"} 1`,
		`isosplit_builds_total{result="failure"} 1`,
		`isosplit_server_restarts_total 1`,
		`isosplit_rebuild_token 7`,
		`isosplit_changes_total{kind="source"} 1`,
		`isosplit_build_duration_seconds_count 2`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestServer_ProxyInjectsScript(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, "<html><body><h1>hi</h1></body></html>")
		default:
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"ok":true}`)
		}
	}))
	defer app.Close()

	_, portText, err := net.SplitHostPort(app.Listener.Addr().String())
	require.NoError(t, err)
	appPort, err := strconv.Atoi(portText)
	require.NoError(t, err)

	s, _, _ := newTestServer(t, appPort-1, ServerOptions{})

	rec := get(t, s.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, ReloadPath)
	assert.True(t, strings.Index(body, "<script>") < strings.Index(body, "</body>"))
	assert.Equal(t, strconv.Itoa(len(body)), rec.Header().Get("Content-Length"))

	req := httptest.NewRequest(http.MethodPost, "/api/_rpc/hello", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, `{"ok":true}`, rec.Body.String())
}

func TestServer_ProxyAppDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	s, _, _ := newTestServer(t, port-1, ServerOptions{})

	rec := get(t, s.Handler(), "/")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Server not running")
	assert.Contains(t, rec.Body.String(), ReloadPath)
}

func TestServer_NoProxy(t *testing.T) {
	s, _, _ := newTestServer(t, 4000, ServerOptions{NoProxy: true})
	assert.False(t, s.proxy)
	assert.Nil(t, s.reload)
	assert.Equal(t, 4000, s.appPort)

	s, _, _ = newTestServer(t, 4000, ServerOptions{})
	assert.True(t, s.proxy)
	assert.Equal(t, 4001, s.appPort)

	s, _, _ = newTestServer(t, 4000, ServerOptions{Port: 5000, Host: "0.0.0.0"})
	assert.Equal(t, 5001, s.appPort)
	assert.Equal(t, "http://localhost:5000", s.URL())
}

func TestServer_ReloadMessages(t *testing.T) {
	s, _, _ := newTestServer(t, 4000, ServerOptions{})
	front := httptest.NewServer(s.Handler())
	defer front.Close()

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + ReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.reload.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	read := func() ReloadMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg ReloadMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	s.complete(Completion{Token: 1, Err: errors.New("E101").WithDetail("first declared at line 3")})
	msg := read()
	assert.Equal(t, ReloadTypeError, msg.Type)
	assert.Equal(t, "E101", msg.Code)
	assert.Contains(t, msg.Error, "first declared at line 3")

	s.complete(Completion{Token: 2, Restarted: true})
	assert.Equal(t, ReloadMessage{Type: ReloadTypeFull, Token: 2}, read())

	s.onChange(Change{Path: "/x/public/app.css", Type: ChangeStyle})
	s.complete(Completion{Token: 3, Restarted: true})
	assert.Equal(t, ReloadMessage{Type: ReloadTypeCSS, Token: 3}, read())
}

func TestServer_ReplaysLastError(t *testing.T) {
	s, _, _ := newTestServer(t, 4000, ServerOptions{})
	front := httptest.NewServer(s.Handler())
	defer front.Close()

	s.complete(Completion{Token: 1, Err: errors.New("E130")})

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + ReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ReloadMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ReloadTypeError, msg.Type)
	assert.Equal(t, "E130", msg.Code)
}

func TestServer_Run(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	completions := make(chan Completion, 8)
	s, builder, runner := newTestServer(t, 4000, ServerOptions{
		NoProxy:         true,
		OnBuildComplete: func(done Completion) { completions <- done },
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case done := <-completions:
		assert.Equal(t, uint64(1), done.Token)
		assert.NoError(t, done.Err)
		assert.True(t, done.Restarted)
	case <-time.After(2 * time.Second):
		t.Fatal("initial build never completed")
	}

	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []uint64{1}, builder.tokens)
	assert.Equal(t, int32(1), runner.restarts.Load())
	assert.Equal(t, int32(1), runner.stops.Load())
}

func TestServer_BuildFailureKeepsProcess(t *testing.T) {
	s, builder, runner := newTestServer(t, 4000, ServerOptions{NoProxy: true})
	builder.err = errors.New("E100")

	c := s.Coordinator()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-errCh
	}()

	c.RequestNow()
	done := nextCompletion(t, c)
	assert.True(t, errors.HasCode(done.Err, "E100"))
	assert.False(t, done.Restarted)
	assert.Equal(t, int32(0), runner.restarts.Load())
}

func TestServer_ReloadsConfigBeforeBuild(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, config.ConfigFileName)
	writeConfig := func(content string) {
		require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	}
	writeConfig(`{"entry": "src/a.ts", "dev": {"port": 4000}}`)

	cfg, err := config.LoadFile(cfgPath)
	require.NoError(t, err)

	var built []*config.Config
	s := NewServer(ServerOptions{
		Config: cfg,
		Runner: &fakeRunner{},
		NewBuilder: func(cfg *config.Config) Builder {
			built = append(built, cfg)
			return &fakeBuilder{}
		},
	})
	require.Len(t, built, 1)

	ctx := context.Background()
	require.NoError(t, s.build(ctx, 1))
	require.Len(t, built, 1)

	writeConfig(`{"entry": "src/b.ts", "marker": {"name": "$rpc"}, "dev": {"port": 4100}}`)
	s.onChange(Change{Path: cfgPath, Type: ChangeConfig})
	require.NoError(t, s.build(ctx, 2))
	require.Len(t, built, 2)
	assert.Equal(t, "src/b.ts", built[1].Entry)
	assert.Equal(t, "$rpc", built[1].Marker.Name)
	assert.Equal(t, 4000, built[1].Dev.Port, "dev settings apply on the next start")
	assert.Equal(t, "src/b.ts", s.currentConfig().Entry)

	writeConfig(`{"entry": `)
	s.onChange(Change{Path: cfgPath, Type: ChangeConfig})
	err = s.build(ctx, 3)
	assert.True(t, errors.HasCode(err, "E120"))
	require.Len(t, built, 2)

	writeConfig(`{"entry": "src/c.ts"}`)
	require.NoError(t, s.build(ctx, 4))
	require.Len(t, built, 3)
	assert.Equal(t, "src/c.ts", built[2].Entry)

	require.NoError(t, s.build(ctx, 5))
	assert.Len(t, built, 3)
}

func TestRestartOnlyChanges(t *testing.T) {
	old := config.Default(t.TempDir())
	cfg := config.Default(old.Dir())
	assert.Empty(t, restartOnlyChanges(old, cfg))

	cfg.Build.Output = "out"
	cfg.Dev.Debounce = "1s"
	cfg.Entry = "src/other.ts"
	assert.Equal(t, []string{"build.output", "dev.debounce"}, restartOnlyChanges(old, cfg))
}

func TestInjectScript(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		before string
	}{
		{"body", "<html><body>x</body></html>", "</body>"},
		{"html only", "<html>x</html>", "</html>"},
		{"fragment", "<p>x</p>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := InjectScript(tt.html)
			assert.Contains(t, out, ReloadPath)
			if tt.before != "" {
				assert.True(t, strings.Index(out, DevClientScript) < strings.LastIndex(out, tt.before))
			} else {
				assert.True(t, strings.HasSuffix(out, DevClientScript))
			}
		})
	}
}

func TestOverlayText(t *testing.T) {
	err := errors.New("E102").
		WithLocation("src/index.ts", 4, 17).
		WithDetail("marker calls must be top-level declarations").
		WithSuggestion("Move the call to the top level")

	code, text := overlayText(err)
	assert.Equal(t, "E102", code)
	assert.Contains(t, text, "src/index.ts:4:17: E102")
	assert.Contains(t, text, "marker calls must be top-level declarations")
	assert.Contains(t, text, "Hint: Move the call to the top level")
	assert.NotContains(t, text, "\033[")

	code, _ = overlayText(io.ErrUnexpectedEOF)
	assert.Equal(t, "E130", code)
}
