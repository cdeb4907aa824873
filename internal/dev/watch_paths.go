package dev

import (
	"path/filepath"
	"strings"

	"github.com/isosplit/isosplit/internal/config"
)

// CollectWatchPaths returns a normalized list of watch paths for the project:
// the entry's directory, the marker modules, the public directory, the
// project file, and any entries in dev.watch.
func CollectWatchPaths(cfg *config.Config) []string {
	projectDir := cfg.Dir()
	paths := []string{
		filepath.Dir(cfg.EntryPath()),
		filepath.Dir(cfg.MarkerModulePath()),
		filepath.Dir(cfg.ClientModulePath()),
		cfg.PublicPath(),
		filepath.Join(projectDir, config.ConfigFileName),
		filepath.Join(projectDir, ".env"),
	}

	for _, path := range cfg.Dev.Watch {
		paths = append(paths, resolvePath(projectDir, path))
	}

	unique := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		clean := filepath.Clean(path)
		if clean == filepath.Clean(projectDir) {
			// The root itself would watch the output tree.
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		unique = append(unique, clean)
	}

	return unique
}

// CollectIgnore returns the ignore patterns for the project: the defaults,
// dev.ignore, and the build output directory relative to the project.
func CollectIgnore(cfg *config.Config) []string {
	patterns := append([]string{}, DefaultIgnore...)
	patterns = append(patterns, cfg.Dev.Ignore...)

	output := cfg.OutputPath()
	if rel, err := filepath.Rel(cfg.Dir(), output); err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		output = rel
	}
	return append(patterns, filepath.ToSlash(output))
}

func resolvePath(projectDir, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(projectDir, path)
}
