// Package scaffolding writes starter sites for the new command.
package scaffolding

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/spindle/internal/errors"
)

// Generator handles project scaffolding
type Generator struct {
	templates map[string]ProjectTemplate
	now       func() time.Time
}

// Options holds options for project generation
type Options struct {
	// Dir is the project directory; it is created if missing.
	Dir string
	// Name defaults to the base name of Dir.
	Name     string
	Template string
	// Force overwrites existing files.
	Force bool
}

// NewGenerator creates a generator with the built-in templates.
func NewGenerator() *Generator {
	return &Generator{
		templates: GetBuiltinTemplates(),
		now:       time.Now,
	}
}

// Generate writes the template into opts.Dir and returns the written paths.
// Nothing is written if any target file exists and Force is not set.
func (g *Generator) Generate(opts Options) ([]string, error) {
	if opts.Template == "" {
		opts.Template = "default"
	}
	tmpl, ok := g.templates[opts.Template]
	if !ok {
		return nil, errors.NewValidationError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("template %q not found, use one of: %s", opts.Template, strings.Join(g.Names(), ", ")))
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, errors.ErrInvalidPath(opts.Dir)
	}
	if opts.Name == "" {
		opts.Name = filepath.Base(dir)
	}
	if err := ValidateSiteName(opts.Name); err != nil {
		return nil, err
	}

	ctx := TemplateContext{
		Name:  opts.Name,
		Title: Title(opts.Name),
		Date:  g.now().Format("2006-01-02"),
	}

	type rendered struct {
		path string
		data []byte
		mode os.FileMode
	}
	var files []rendered
	for _, f := range tmpl.Files {
		rel, err := execute(f.Path, ctx)
		if err != nil {
			return nil, err
		}
		data, err := execute(f.Content, ctx)
		if err != nil {
			return nil, err
		}

		path := filepath.Join(dir, filepath.FromSlash(rel))
		if _, err := os.Stat(path); err == nil && !opts.Force {
			return nil, errors.NewValidationError(errors.ErrCodeFileExists,
				"refusing to overwrite "+path+" (use --force)").WithFile(path)
		}

		mode := os.FileMode(0o644)
		if f.Executable {
			mode = 0o755
		}
		files = append(files, rendered{path: path, data: []byte(data), mode: mode})
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return written, errors.WrapIO(err, "ERR_CREATE_DIR", "creating "+filepath.Dir(f.path))
		}
		if err := os.WriteFile(f.path, f.data, f.mode); err != nil {
			return written, errors.WrapIO(err, "ERR_WRITE_FILE", "writing "+f.path)
		}
		written = append(written, f.path)
	}
	return written, nil
}

func execute(text string, ctx TemplateContext) (string, error) {
	t, err := template.New("file").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// Names returns the template names, sorted.
func (g *Generator) Names() []string {
	names := make([]string, 0, len(g.templates))
	for name := range g.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTemplates returns available templates
func (g *Generator) ListTemplates() []ProjectTemplate {
	out := make([]ProjectTemplate, 0, len(g.templates))
	for _, name := range g.Names() {
		out = append(out, g.templates[name])
	}
	return out
}

// Title turns a directory name like "my-site" into "My Site".
func Title(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
	return cases.Title(language.English).String(strings.Join(words, " "))
}

// ValidateSiteName rejects names that would break the generated script.
func ValidateSiteName(name string) error {
	if name == "" || name == "." || name == string(filepath.Separator) {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "site name cannot be empty")
	}
	if strings.ContainsAny(name, "\"`$\\\n") {
		return errors.NewValidationError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("site name %q contains shell metacharacters", name))
	}
	return nil
}
