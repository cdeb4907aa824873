package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isosplit/isosplit/internal/config"
)

// startServed builds a project from source and runs the produced server
// under node. It returns the base URL.
func startServed(t *testing.T, source string) string {
	t.Helper()
	return serve(t, newProject(t, source))
}

func lookNode(t *testing.T) string {
	t.Helper()
	node, err := exec.LookPath("node")
	if err != nil {
		t.Skip("node not found in PATH")
	}
	return node
}

// serve builds cfg's project and runs the produced server under node.
func serve(t *testing.T, cfg *config.Config) string {
	t.Helper()
	node := lookNode(t)

	_, err := New(cfg, Options{}).Build(context.Background())
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, node, filepath.Join(cfg.OutputPath(), "server", ServerEntry))
	cmd.Env = append(os.Environ(), fmt.Sprintf("PORT=%d", port))
	var logs bytes.Buffer
	cmd.Stdout = &logs
	cmd.Stderr = &logs
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		cancel()
		cmd.Wait()
		if t.Failed() {
			t.Logf("server output:\n%s", logs.String())
		}
	})

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err := http.Get(base + "/"); err == nil {
			resp.Body.Close()
			return base
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start:\n%s", logs.String())
	return ""
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestServed_RoundTrip(t *testing.T) {
	base := startServed(t, projectSource)

	status, body := post(t, base+"/api/_rpc/add", `{"a": 2, "b": 40}`)
	require.Equal(t, http.StatusOK, status, body)

	var got struct{ Sum int }
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, 42, got.Sum)
}

func TestServed_HandlerErrorIsServerError(t *testing.T) {
	base := startServed(t, projectSource)

	status, body := post(t, base+"/api/_rpc/fail", `{}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.JSONEq(t, `{"error":"server error"}`, body)

	status, _ = post(t, base+"/api/_rpc/add", `{"a": 1, "b": 1}`)
	assert.Equal(t, http.StatusOK, status, "server must survive a failing handler")
}

func TestServed_MalformedJSON(t *testing.T) {
	base := startServed(t, projectSource)

	status, _ := post(t, base+"/api/_rpc/add", `{"a": 1,`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := post(t, base+"/api/_rpc/add", `{"a": 1, "b": 2}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"sum": 3}`, body)
}

func TestServed_UnknownRoute(t *testing.T) {
	base := startServed(t, projectSource)

	status, _ := post(t, base+"/api/_rpc/missing", `{}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServed_StaticFallback(t *testing.T) {
	base := startServed(t, projectSource)

	for _, path := range []string{"/", "/some/client/route"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, string(data), `<script src="/bundle.js">`, path)
	}

	resp, err := http.Get(base + "/bundle.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "text/javascript; charset=utf-8", resp.Header.Get("Content-Type"))
}

func TestServed_StaticEscapedName(t *testing.T) {
	cfg := newProject(t, projectSource)
	mustWriteFile(t, filepath.Join(cfg.PublicPath(), "release notes.txt"), "notes\n")
	base := serve(t, cfg)

	resp, err := http.Get(base + "/release%20notes.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "notes\n", string(data))
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	resp, err = http.Get(base + "/%FF")
	require.NoError(t, err)
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `<script src="/bundle.js">`)
}

// proxyCaller calls the generated client proxies from node, with fetch
// resolving the proxies' relative endpoints against BASE_URL.
const proxyCaller = `
import { pathToFileURL } from "node:url"

const realFetch = globalThis.fetch
globalThis.fetch = (input, init) => realFetch(new URL(input, process.env.BASE_URL), init)

const call = async (file, props) => {
  const mod = await import(pathToFileURL(file).href)
  const fn = Object.values(mod)[0]
  try {
    return { value: await fn(props) }
  } catch (err) {
    return { error: { message: err.message, routeId: err.routeId, status: err.status } }
  }
}

const add = await call(process.env.ADD_PROXY, { a: 2, b: 40 })
const fail = await call(process.env.FAIL_PROXY, {})
console.log(JSON.stringify({ add, fail }))
`

func TestServed_ClientProxyRoundTrip(t *testing.T) {
	node := lookNode(t)
	cfg := newProject(t, projectSource)
	base := serve(t, cfg)

	// Copied to .mjs so node loads them as ES modules without a package.json.
	proxies := filepath.Join(cfg.OutputPath(), "client", "proxies")
	scratch := t.TempDir()
	env := append(os.Environ(), "BASE_URL="+base)
	for _, id := range []string{"add", "fail"} {
		dst := filepath.Join(scratch, id+".mjs")
		mustWriteFile(t, dst, mustReadFile(t, filepath.Join(proxies, id+".js")))
		env = append(env, fmt.Sprintf("%s_PROXY=%s", strings.ToUpper(id), dst))
	}

	cmd := exec.Command(node, "--input-type=module", "-e", proxyCaller)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))

	var got struct {
		Add struct {
			Value struct{ Sum int }
		}
		Fail struct {
			Error *struct {
				Message string
				RouteID string `json:"routeId"`
				Status  int
			}
		}
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out), &got), string(out))

	assert.Equal(t, 42, got.Add.Value.Sum)
	require.NotNil(t, got.Fail.Error, "a failing route must reject")
	assert.Equal(t, "fail", got.Fail.Error.RouteID)
	assert.Equal(t, http.StatusInternalServerError, got.Fail.Error.Status)
	assert.Contains(t, got.Fail.Error.Message, "fail")
}
