package templates

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/isosplit/isosplit/internal/config"
	"github.com/isosplit/isosplit/internal/errors"
)

//go:embed files
var files embed.FS

// Config contains template configuration.
type Config struct {
	// ProjectName is the name of the project.
	ProjectName string

	// Port is the dev server port written to isosplit.json.
	Port int
}

// data is what template files are executed with.
type data struct {
	Config
	Ext string
}

// Template represents a project template.
type Template struct {
	// Name is the template name.
	Name string

	// Description describes the template.
	Description string

	// Ext is the source extension the template uses.
	Ext string

	// Files maps slash-separated relative paths to file contents.
	Files map[string]string
}

var templates = map[string]*Template{
	"ts": load("ts", "TypeScript starter", "ts"),
	"js": load("js", "JavaScript starter", "js"),
}

// load reads the shared files and the language-specific files of a template.
func load(name, description, ext string) *Template {
	t := &Template{Name: name, Description: description, Ext: ext, Files: make(map[string]string)}
	for _, root := range []string{"files/common", "files/" + name} {
		err := fs.WalkDir(files, root, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			content, err := files.ReadFile(p)
			if err != nil {
				return err
			}
			t.Files[strings.TrimPrefix(p, root+"/")] = string(content)
			return nil
		})
		if err != nil {
			panic("templates: " + err.Error())
		}
	}
	return t
}

// Get returns a template by name.
func Get(name string) (*Template, error) {
	tmpl, ok := templates[name]
	if !ok {
		return nil, errors.New("E145").
			WithDetail("Template '" + name + "' not found").
			WithSuggestion("Available templates: " + strings.Join(List(), ", "))
	}
	return tmpl, nil
}

// List returns all available template names, sorted.
func List() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Paths returns the template's file paths, sorted.
func (t *Template) Paths() []string {
	paths := make([]string, 0, len(t.Files))
	for p := range t.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// CheckTarget fails with E140 when dir exists and is not empty.
func CheckTarget(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.New("E142").Wrap(err)
	}
	if len(entries) > 0 {
		return errors.New("E140").
			WithDetail(dir + " is not empty").
			WithSuggestion("Choose a new directory name or empty the existing one")
	}
	return nil
}

// Create generates a project from the template into dir, which must be
// missing or empty.
func (t *Template) Create(dir string, cfg Config) error {
	if err := CheckTarget(dir); err != nil {
		return err
	}
	if cfg.Port == 0 {
		cfg.Port = config.DefaultPort
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = filepath.Base(dir)
	}

	for _, relPath := range t.Paths() {
		tmpl, err := template.New(path.Base(relPath)).Parse(t.Files[relPath])
		if err != nil {
			return errors.Newf(errors.CategoryCLI, "invalid template %s: %v", relPath, err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data{Config: cfg, Ext: t.Ext}); err != nil {
			return errors.Newf(errors.CategoryCLI, "template execute error %s: %v", relPath, err)
		}

		fullPath := filepath.Join(dir, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			return errors.New("E142").Wrap(err)
		}
		if err := os.WriteFile(fullPath, buf.Bytes(), 0644); err != nil {
			return errors.New("E142").Wrap(err)
		}
	}

	return nil
}
