package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/isosplit/isosplit/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "isosplit.json"

	// DefaultPort is the port the served process listens on when PORT is unset.
	DefaultPort = 3000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultOutput is the default build output directory.
	DefaultOutput = "dist"

	// DefaultEntry is the default annotated source file.
	DefaultEntry = "src/index.ts"

	// DefaultMarker is the name of the splitting marker function.
	DefaultMarker = "$api"

	// DefaultMarkerModule is the module that defines the marker.
	DefaultMarkerModule = "framework/api"

	// DefaultClientModule is the client-safe variant of the marker module.
	DefaultClientModule = "framework/api-client"

	// DefaultDebounce is the quiet window that coalesces change notifications.
	DefaultDebounce = 400 * time.Millisecond

	// DefaultRuntime is the executable that runs the served process.
	DefaultRuntime = "node"

	// PortEnv selects the served process's listening port.
	PortEnv = "PORT"
)

// Config represents the complete isosplit.json configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty"`

	// Entry is the annotated source file, relative to the project root.
	Entry string `json:"entry,omitempty"`

	// Marker configures marker call detection.
	Marker MarkerConfig `json:"marker,omitempty"`

	// Public is the directory holding passthrough assets.
	Public string `json:"public,omitempty"`

	// Dev contains development server configuration.
	Dev DevConfig `json:"dev,omitempty"`

	// Build contains build configuration.
	Build BuildConfig `json:"build,omitempty"`

	// Publish configures artifact upload after a build.
	Publish PublishConfig `json:"publish,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string

	// dir is the project root when no config file exists.
	dir string
}

// MarkerConfig describes the marker call recognized by the splitter.
type MarkerConfig struct {
	// Name is the marker function identifier (default: "$api").
	Name string `json:"name,omitempty"`

	// Module is the import specifier of the marker definition, relative to
	// the project root (default: "framework/api").
	Module string `json:"module,omitempty"`

	// ClientModule replaces Module in the client output.
	ClientModule string `json:"clientModule,omitempty"`
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Port is the port the dev front server listens on.
	Port int `json:"port,omitempty"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty"`

	// Watch contains paths to watch for changes.
	Watch []string `json:"watch,omitempty"`

	// Ignore contains patterns to ignore during watch.
	Ignore []string `json:"ignore,omitempty"`

	// Debounce is the quiet window before a rebuild starts (e.g. "400ms").
	Debounce string `json:"debounce,omitempty"`

	// HotReload puts a reload proxy in front of the served process.
	HotReload *bool `json:"hotReload,omitempty"`

	// Runtime is the executable used to run the served process.
	Runtime string `json:"runtime,omitempty"`
}

// BuildConfig contains build settings.
type BuildConfig struct {
	// Output is the output directory for builds.
	Output string `json:"output,omitempty"`

	// Minify enables minification of the client bundle.
	Minify bool `json:"minify,omitempty"`

	// SourceMaps enables a linked source map for the client bundle.
	SourceMaps *bool `json:"sourceMaps,omitempty"`

	// Target is the bundle's language target (e.g. "es2019").
	Target string `json:"target,omitempty"`
}

// PublishConfig configures upload of build output to an S3-compatible bucket.
type PublishConfig struct {
	Bucket   string `json:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	hotReload := true
	sourceMaps := true
	return &Config{
		Entry: DefaultEntry,
		Marker: MarkerConfig{
			Name:         DefaultMarker,
			Module:       DefaultMarkerModule,
			ClientModule: DefaultClientModule,
		},
		Public: "public",
		Dev: DevConfig{
			Port:      DefaultPort,
			Host:      DefaultHost,
			Watch:     []string{"src", "framework", "public"},
			Debounce:  DefaultDebounce.String(),
			HotReload: &hotReload,
			Runtime:   DefaultRuntime,
		},
		Build: BuildConfig{
			Output:     DefaultOutput,
			SourceMaps: &sourceMaps,
			Target:     "es2019",
		},
	}
}

// Default returns a default configuration rooted at dir, used when the
// project has no isosplit.json.
func Default(dir string) *Config {
	cfg := New()
	cfg.dir = dir
	return cfg
}

// Load reads configuration from the specified directory.
// It looks for isosplit.json in the directory.
func Load(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ConfigFileName)
	return LoadFile(configPath)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E141").
				WithDetail("No isosplit.json found in " + filepath.Dir(path)).
				WithSuggestion("Run 'isosplit create' to scaffold a project or create isosplit.json manually")
		}
		return nil, errors.New("E120").Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E120").
			WithDetail("Failed to parse isosplit.json: " + err.Error()).
			WithSuggestion("Check that isosplit.json is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E120").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E120").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the project root directory.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return c.dir
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Entry == "" {
		c.Entry = DefaultEntry
	}
	if c.Marker.Name == "" {
		c.Marker.Name = DefaultMarker
	}
	if c.Marker.Module == "" {
		c.Marker.Module = DefaultMarkerModule
	}
	if c.Marker.ClientModule == "" {
		c.Marker.ClientModule = DefaultClientModule
	}
	if c.Public == "" {
		c.Public = "public"
	}

	if c.Dev.Port == 0 {
		c.Dev.Port = DefaultPort
	}
	if c.Dev.Host == "" {
		c.Dev.Host = DefaultHost
	}
	if c.Dev.Watch == nil {
		c.Dev.Watch = []string{"src", "framework", "public"}
	}
	if c.Dev.Debounce == "" {
		c.Dev.Debounce = DefaultDebounce.String()
	}
	if c.Dev.HotReload == nil {
		hotReload := true
		c.Dev.HotReload = &hotReload
	}
	if c.Dev.Runtime == "" {
		c.Dev.Runtime = DefaultRuntime
	}

	if c.Build.Output == "" {
		c.Build.Output = DefaultOutput
	}
	if c.Build.SourceMaps == nil {
		sourceMaps := true
		c.Build.SourceMaps = &sourceMaps
	}
	if c.Build.Target == "" {
		c.Build.Target = "es2019"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return errors.New("E122").
			WithDetail("dev.port must be between 0 and 65535, got " + strconv.Itoa(c.Dev.Port))
	}
	debounce, err := time.ParseDuration(c.Dev.Debounce)
	if err != nil {
		return errors.New("E120").
			WithDetail("dev.debounce is not a duration: " + c.Dev.Debounce).
			WithSuggestion(`Use a Go duration such as "400ms"`)
	}
	if debounce < 0 {
		return errors.New("E120").
			WithDetail("dev.debounce must not be negative, got " + c.Dev.Debounce)
	}
	if !isIdentifier(c.Marker.Name) {
		return errors.New("E120").
			WithDetail("marker.name must be a JavaScript identifier, got " + strconv.Quote(c.Marker.Name))
	}
	if c.Entry == "" {
		return errors.New("E121").WithDetail("entry must name the annotated source file")
	}
	return nil
}

// envOwned records the variables LoadEnv set, so a later call may replace
// or remove them without touching the real environment.
var (
	envMu    sync.Mutex
	envOwned = map[string]bool{}
)

// LoadEnv loads a .env file from the project root, if present. Variables
// from the real environment take precedence. Calling it again applies edits
// to the file, including removed entries.
func (c *Config) LoadEnv() error {
	path := filepath.Join(c.Dir(), ".env")
	values := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		values, err = godotenv.Read(path)
		if err != nil {
			return errors.New("E120").WithDetail("Failed to load " + path).Wrap(err)
		}
	}

	envMu.Lock()
	defer envMu.Unlock()
	for key := range envOwned {
		if _, ok := values[key]; !ok {
			os.Unsetenv(key)
			delete(envOwned, key)
		}
	}
	for key, value := range values {
		if _, set := os.LookupEnv(key); set && !envOwned[key] {
			continue
		}
		os.Setenv(key, value)
		envOwned[key] = true
	}
	return nil
}

// ServerPort returns the served process's listening port: PORT from the
// environment when set, DefaultPort otherwise.
func ServerPort() int {
	if v := os.Getenv(PortEnv); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			return port
		}
	}
	return DefaultPort
}

// DebounceDuration returns the parsed dev.debounce value.
func (c *Config) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Dev.Debounce)
	if err != nil || d < 0 {
		return DefaultDebounce
	}
	return d
}

// HotReloadEnabled reports whether the reload proxy is enabled.
func (c *Config) HotReloadEnabled() bool {
	return c.Dev.HotReload == nil || *c.Dev.HotReload
}

// SourceMapsEnabled reports whether a client source map is produced.
func (c *Config) SourceMapsEnabled() bool {
	return c.Build.SourceMaps == nil || *c.Build.SourceMaps
}

// DevAddress returns the address string for the dev server.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

// DevURL returns the full URL for the dev server.
func (c *Config) DevURL() string {
	return "http://" + c.DevAddress()
}

// OutputPath returns the absolute path to the build output directory.
func (c *Config) OutputPath() string {
	return c.resolve(c.Build.Output)
}

// EntryPath returns the absolute path to the annotated source file.
func (c *Config) EntryPath() string {
	return c.resolve(c.Entry)
}

// PublicPath returns the absolute path to the passthrough asset directory.
func (c *Config) PublicPath() string {
	return c.resolve(c.Public)
}

// MarkerModulePath returns the absolute path of the marker module, without
// extension.
func (c *Config) MarkerModulePath() string {
	return c.resolve(c.Marker.Module)
}

// ClientModulePath returns the absolute path of the client marker module,
// without extension.
func (c *Config) ClientModulePath() string {
	return c.resolve(c.Marker.ClientModule)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing isosplit.json, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("E141").
				WithDetail("No isosplit.json found in " + startDir + " or any parent directory").
				WithSuggestion("Run 'isosplit create' to scaffold a project")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the nearest isosplit.json at or
// above the working directory. Without one, defaults rooted at the working
// directory are returned.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		if errors.HasCode(err, "E141") {
			return Default(wd), nil
		}
		return nil, err
	}

	return Load(root)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '$' || r == '_':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
