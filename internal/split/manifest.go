package split

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// ManifestFile is the route table read by the served process.
	ManifestFile = "manifest.json"

	// ManifestModule is the same table as an ES module.
	ManifestModule = "manifest.js"
)

// ManifestEntry is one row of the route table.
type ManifestEntry struct {
	ID          string `json:"id"`
	HandlerPath string `json:"handlerPath"`
	ClientPath  string `json:"clientPath"`
}

// Manifest is the ordered route table, regenerated in full on every build.
type Manifest struct {
	Routes []ManifestEntry
}

// NewManifest builds the route table for routes, keeping their order.
func NewManifest(routes []Route) Manifest {
	m := Manifest{Routes: make([]ManifestEntry, 0, len(routes))}
	for _, r := range routes {
		m.Routes = append(m.Routes, ManifestEntry{
			ID:          r.ID,
			HandlerPath: r.HandlerPath,
			ClientPath:  r.ClientPath,
		})
	}
	return m
}

// Lookup returns the entry for id.
func (m Manifest) Lookup(id string) (ManifestEntry, bool) {
	for _, e := range m.Routes {
		if e.ID == id {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// MarshalJSON renders the table as a JSON array.
func (m Manifest) MarshalJSON() ([]byte, error) {
	if m.Routes == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.Routes)
}

// UnmarshalJSON reads a JSON array of entries.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &m.Routes)
}

// JSON returns the indented manifest.json content.
func (m Manifest) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Module returns the manifest.js content.
func (m Manifest) Module() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%sexport const routes = %s;\n", GeneratedHeader, data)), nil
}

// WriteManifest writes manifest.json and manifest.js into dir, replacing any
// previous table.
func WriteManifest(dir string, m Manifest) error {
	data, err := m.JSON()
	if err != nil {
		return err
	}
	mod, err := m.Module()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestModule), mod, 0644)
}

// ReadManifest loads a manifest.json file.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}
