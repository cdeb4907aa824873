package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Dev.Port != DefaultPort {
		t.Errorf("Dev.Port = %d, want %d", cfg.Dev.Port, DefaultPort)
	}
	if cfg.Dev.Host != DefaultHost {
		t.Errorf("Dev.Host = %q, want %q", cfg.Dev.Host, DefaultHost)
	}
	if cfg.Build.Output != DefaultOutput {
		t.Errorf("Build.Output = %q, want %q", cfg.Build.Output, DefaultOutput)
	}
	if cfg.Marker.Name != DefaultMarker {
		t.Errorf("Marker.Name = %q, want %q", cfg.Marker.Name, DefaultMarker)
	}
	if cfg.DebounceDuration() != DefaultDebounce {
		t.Errorf("DebounceDuration() = %v, want %v", cfg.DebounceDuration(), DefaultDebounce)
	}
	if !cfg.HotReloadEnabled() {
		t.Error("HotReloadEnabled() should default to true")
	}
	if !cfg.SourceMapsEnabled() {
		t.Error("SourceMapsEnabled() should default to true")
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Load(tmpDir); err == nil {
		t.Error("Expected error for missing config")
	}

	configJSON := `{
  "entry": "app/main.js",
  "marker": { "name": "server$" },
  "dev": {
    "port": 8080,
    "host": "0.0.0.0",
    "debounce": "50ms",
    "hotReload": false
  },
  "build": {
    "output": "build",
    "minify": true,
    "sourceMaps": false
  }
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Dev.Port != 8080 {
		t.Errorf("Dev.Port = %d, want %d", cfg.Dev.Port, 8080)
	}
	if cfg.Dev.Host != "0.0.0.0" {
		t.Errorf("Dev.Host = %q, want %q", cfg.Dev.Host, "0.0.0.0")
	}
	if cfg.DebounceDuration() != 50*time.Millisecond {
		t.Errorf("DebounceDuration() = %v, want 50ms", cfg.DebounceDuration())
	}
	if cfg.HotReloadEnabled() {
		t.Error("HotReloadEnabled() should be false")
	}
	if cfg.SourceMapsEnabled() {
		t.Error("SourceMapsEnabled() should be false")
	}
	if cfg.Marker.Name != "server$" {
		t.Errorf("Marker.Name = %q, want %q", cfg.Marker.Name, "server$")
	}
	// Unset marker fields keep their defaults.
	if cfg.Marker.Module != DefaultMarkerModule {
		t.Errorf("Marker.Module = %q, want %q", cfg.Marker.Module, DefaultMarkerModule)
	}
	if cfg.EntryPath() != filepath.Join(tmpDir, "app", "main.js") {
		t.Errorf("EntryPath() = %q", cfg.EntryPath())
	}
	if cfg.OutputPath() != filepath.Join(tmpDir, "build") {
		t.Errorf("OutputPath() = %q", cfg.OutputPath())
	}
	if cfg.Dir() != tmpDir {
		t.Errorf("Dir() = %q, want %q", cfg.Dir(), tmpDir)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte("{ invalid }"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(tmpDir)
	if err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "E120") {
		t.Errorf("error = %v, want E120", err)
	}
}

func TestSaveTo(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ConfigFileName)

	cfg := New()
	cfg.Name = "demo"
	cfg.Dev.Port = 4000
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo error: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if loaded.Name != "demo" || loaded.Dev.Port != 4000 {
		t.Errorf("round trip lost fields: %+v", loaded)
	}
	if loaded.Path() != path {
		t.Errorf("Path() = %q, want %q", loaded.Path(), path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "port too high", mutate: func(c *Config) { c.Dev.Port = 70000 }, wantErr: "E122"},
		{name: "negative port", mutate: func(c *Config) { c.Dev.Port = -1 }, wantErr: "E122"},
		{name: "bad debounce", mutate: func(c *Config) { c.Dev.Debounce = "soon" }, wantErr: "E120"},
		{name: "negative debounce", mutate: func(c *Config) { c.Dev.Debounce = "-5ms" }, wantErr: "E120"},
		{name: "zero debounce", mutate: func(c *Config) { c.Dev.Debounce = "0s" }},
		{name: "marker not identifier", mutate: func(c *Config) { c.Marker.Name = "api-call" }, wantErr: "E120"},
		{name: "marker leading digit", mutate: func(c *Config) { c.Marker.Name = "1api" }, wantErr: "E120"},
		{name: "empty entry", mutate: func(c *Config) { c.Entry = "" }, wantErr: "E121"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want %s", err, tt.wantErr)
			}
		})
	}
}

func TestServerPort(t *testing.T) {
	t.Setenv(PortEnv, "")
	if got := ServerPort(); got != DefaultPort {
		t.Errorf("ServerPort() = %d, want %d", got, DefaultPort)
	}

	t.Setenv(PortEnv, "8123")
	if got := ServerPort(); got != 8123 {
		t.Errorf("ServerPort() = %d, want 8123", got)
	}

	t.Setenv(PortEnv, "not-a-port")
	if got := ServerPort(); got != DefaultPort {
		t.Errorf("ServerPort() = %d, want %d for invalid value", got, DefaultPort)
	}
}

func TestLoadEnv(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte("ISOSPLIT_TEST_VALUE=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ISOSPLIT_TEST_VALUE", "")
	os.Unsetenv("ISOSPLIT_TEST_VALUE")

	cfg := Default(tmpDir)
	if err := cfg.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv error: %v", err)
	}
	if got := os.Getenv("ISOSPLIT_TEST_VALUE"); got != "from-dotenv" {
		t.Errorf("ISOSPLIT_TEST_VALUE = %q, want %q", got, "from-dotenv")
	}
}

func TestLoadEnv_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	for _, key := range []string{"ISOSPLIT_RELOAD_A", "ISOSPLIT_RELOAD_B"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("ISOSPLIT_RELOAD_REAL", "real")

	write := func(content string) {
		if err := os.WriteFile(envPath, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := Default(tmpDir)

	write("ISOSPLIT_RELOAD_A=1\nISOSPLIT_RELOAD_B=x\nISOSPLIT_RELOAD_REAL=file\n")
	if err := cfg.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv error: %v", err)
	}
	write("ISOSPLIT_RELOAD_A=2\nISOSPLIT_RELOAD_REAL=file\n")
	if err := cfg.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv error: %v", err)
	}

	if got := os.Getenv("ISOSPLIT_RELOAD_A"); got != "2" {
		t.Errorf("ISOSPLIT_RELOAD_A = %q, want %q", got, "2")
	}
	if _, ok := os.LookupEnv("ISOSPLIT_RELOAD_B"); ok {
		t.Error("ISOSPLIT_RELOAD_B should be unset after its removal from .env")
	}
	if got := os.Getenv("ISOSPLIT_RELOAD_REAL"); got != "real" {
		t.Errorf("ISOSPLIT_RELOAD_REAL = %q, the real environment must win", got)
	}
}

func TestLoadEnv_Missing(t *testing.T) {
	cfg := Default(t.TempDir())
	if err := cfg.LoadEnv(); err != nil {
		t.Errorf("LoadEnv without .env should succeed, got %v", err)
	}
}

func TestFindProjectRoot(t *testing.T) {
	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "src", "deep")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := FindProjectRoot(nested); err == nil {
		t.Error("Expected error without isosplit.json")
	}

	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	root, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatalf("FindProjectRoot error: %v", err)
	}
	want, _ := filepath.Abs(tmpDir)
	if root != want {
		t.Errorf("FindProjectRoot() = %q, want %q", root, want)
	}
}

func TestDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	if cfg.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", cfg.Dir(), dir)
	}
	if cfg.MarkerModulePath() != filepath.Join(dir, "framework", "api") {
		t.Errorf("MarkerModulePath() = %q", cfg.MarkerModulePath())
	}
	if cfg.ClientModulePath() != filepath.Join(dir, "framework", "api-client") {
		t.Errorf("ClientModulePath() = %q", cfg.ClientModulePath())
	}
}

func TestDevAddress(t *testing.T) {
	cfg := New()
	cfg.Dev.Host = "127.0.0.1"
	cfg.Dev.Port = 4321
	if cfg.DevAddress() != "127.0.0.1:4321" {
		t.Errorf("DevAddress() = %q", cfg.DevAddress())
	}
	if cfg.DevURL() != "http://127.0.0.1:4321" {
		t.Errorf("DevURL() = %q", cfg.DevURL())
	}
}
