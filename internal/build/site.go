// Package build implements build targets: a source tree, an output directory
// and the operations a build script uses to fill the output.
package build

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conneroisu/spindle/internal/errors"
	"github.com/conneroisu/spindle/internal/registry"
)

var nextSiteID atomic.Int64

// Site is one build target. Every operation that writes output marks the
// site as used and refreshes its record in the build context.
type Site struct {
	bc        *registry.BuildContext
	id        int64
	script    string
	source    string
	output    string
	isDefault bool

	mu      sync.Mutex
	used    bool
	files   map[string]struct{}
	meta    registry.Meta
	written int
}

// NewSite declares a target for script. Relative source and output paths
// resolve against the script's directory; an empty output falls back to the
// context's default. The site is recorded immediately, so a declared but
// unused site is still visible to the tracker.
func NewSite(bc *registry.BuildContext, script, source, output string, isDefault bool) *Site {
	script, _ = filepath.Abs(script)
	dir := filepath.Dir(script)

	if source == "" {
		source = dir
	}
	if output == "" {
		output = bc.DefaultOutput
	}
	if output == "" {
		output = "output"
	}

	s := &Site{
		bc:        bc,
		id:        nextSiteID.Add(1),
		script:    script,
		source:    resolve(dir, source),
		output:    resolve(dir, output),
		isDefault: isDefault,
		files:     make(map[string]struct{}),
	}
	bc.Update(s.Record())
	return s
}

func resolve(base, p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p)
}

// Source returns the absolute source directory.
func (s *Site) Source() string { return s.source }

// Output returns the absolute output directory.
func (s *Site) Output() string { return s.output }

// Script returns the absolute path of the declaring script.
func (s *Site) Script() string { return s.script }

// Written returns how many files this site actually changed on disk.
func (s *Site) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Record snapshots the site for the tracker.
func (s *Site) Record() registry.SiteRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := make([]string, 0, len(s.files))
	for f := range s.files {
		files = append(files, f)
	}
	sort.Strings(files)

	return registry.SiteRecord{
		ID:      s.id,
		Script:  s.script,
		Source:  s.source,
		Output:  s.output,
		Default: s.isDefault,
		Used:    s.used,
		Files:   files,
		Meta:    s.meta.Clone(),
	}
}

// SetMeta stores a metadata value used as page context, e.g. "title".
func (s *Site) SetMeta(key, value string) {
	s.mu.Lock()
	s.meta.Set(key, value)
	s.mu.Unlock()

	s.bc.Update(s.Record())
}

// Meta returns a copy of the site's metadata.
func (s *Site) Meta() registry.Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Clone()
}

// Route writes content at urlPath inside the output directory. A trailing
// slash names a directory and writes its index.html.
func (s *Site) Route(urlPath string, content []byte) error {
	rel, err := outputPath(urlPath)
	if err != nil {
		return err
	}
	return s.write(rel, content)
}

// Copy copies src, relative to the source directory, to dst in the output.
// An empty dst keeps the source-relative path.
func (s *Site) Copy(src, dst string) error {
	abs := resolve(s.source, src)
	data, err := os.ReadFile(abs)
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeInvalidPath, "reading "+src)
	}

	if dst == "" {
		dst = s.sourceRel(abs)
	}
	rel, err := outputPath(dst)
	if err != nil {
		return err
	}
	return s.write(rel, data)
}

// Render publishes src. Markdown becomes an HTML page, anything else is
// copied. An empty dst derives the output path from src.
func (s *Site) Render(ctx context.Context, src, dst string) error {
	abs := resolve(s.source, src)
	if !isMarkdown(abs) {
		return s.Copy(abs, dst)
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeInvalidPath, "reading "+src)
	}

	page, err := RenderMarkdown(ctx, raw, s.Meta(), strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)))
	if err != nil {
		return errors.WrapBuild(err, errors.ErrCodeScriptFailed, "rendering "+src, s.script)
	}

	if dst == "" {
		rel := s.sourceRel(abs)
		dst = strings.TrimSuffix(rel, path.Ext(rel)) + ".html"
	}
	rel, err := outputPath(dst)
	if err != nil {
		return err
	}
	return s.write(rel, page)
}

// Build renders every file of the source tree. The output directory, hidden
// entries and build scripts are skipped. Unchanged files are not rewritten,
// so a second build of an unchanged tree touches nothing.
func (s *Site) Build(ctx context.Context) error {
	var paths []string
	err := filepath.WalkDir(s.source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == s.source {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || p == s.output {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if s.isScript(p) {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeInvalidPath, "walking "+s.source)
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Render(ctx, p, ""); err != nil {
			return err
		}
	}

	// An empty tree still counts as built.
	s.markUsed("")
	return nil
}

func (s *Site) isScript(p string) bool {
	pattern := s.bc.ScriptPattern
	if pattern == "" {
		pattern = "*.sh"
	}
	ok, _ := doublestar.Match(pattern, filepath.Base(p))
	return ok && filepath.Dir(p) == filepath.Dir(s.script)
}

func (s *Site) sourceRel(abs string) string {
	rel, err := filepath.Rel(s.source, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Base(abs))
	}
	return filepath.ToSlash(rel)
}

func (s *Site) write(rel string, data []byte) error {
	dst := filepath.Join(s.output, filepath.FromSlash(rel))

	changed, err := writeIfChanged(dst, data)
	if err != nil {
		return errors.WrapIO(err, "ERR_WRITE_OUTPUT", "writing "+rel)
	}

	s.mu.Lock()
	if changed {
		s.written++
	}
	s.mu.Unlock()

	s.markUsed(rel)
	return nil
}

func (s *Site) markUsed(rel string) {
	s.mu.Lock()
	s.used = true
	if rel != "" {
		s.files[rel] = struct{}{}
	}
	s.mu.Unlock()

	s.bc.Update(s.Record())
}

// outputPath turns a URL-style path into a clean output-relative path.
// Paths that try to climb out of the output directory are rejected rather
// than clamped.
func outputPath(urlPath string) (string, error) {
	slashed := strings.ReplaceAll(urlPath, "\\", "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", errors.ErrPathTraversal(urlPath)
		}
	}
	if len(slashed) >= 2 && slashed[1] == ':' {
		return "", errors.ErrPathTraversal(urlPath)
	}

	rel := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if rel == "" || strings.HasSuffix(slashed, "/") {
		rel = path.Join(rel, "index.html")
	}
	return rel, nil
}

// writeIfChanged writes data unless the file already holds exactly data.
func writeIfChanged(dst string, data []byte) (bool, error) {
	if existing, err := os.ReadFile(dst); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
