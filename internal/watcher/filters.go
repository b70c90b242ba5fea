package watcher

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// ExactFilter accepts a single path. Used when a build script is given
// directly instead of its directory.
func ExactFilter(path string) FileFilter {
	want := filepath.Clean(path)
	return func(p string) bool {
		return filepath.Clean(p) == want
	}
}

// PatternFilter accepts paths whose base name matches pattern.
func PatternFilter(pattern string) FileFilter {
	return func(p string) bool {
		ok, err := doublestar.Match(pattern, filepath.Base(p))
		return err == nil && ok
	}
}

// IgnoreFilter rejects paths whose slash-separated path relative to root
// matches one of the globs.
func IgnoreFilter(root string, globs []string) FileFilter {
	return func(p string) bool {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return true
		}
		rel = filepath.ToSlash(rel)
		for _, g := range globs {
			if ok, _ := doublestar.Match(g, rel); ok {
				return false
			}
		}
		return true
	}
}

// ExcludeTreeFilter rejects dir and everything beneath it. An output
// directory nested in its own source tree must not retrigger the build.
func ExcludeTreeFilter(dir string) FileFilter {
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)
	return func(p string) bool {
		p = filepath.Clean(p)
		return p != dir && !strings.HasPrefix(p, prefix)
	}
}

// ExcludePathsFilter rejects the listed paths.
func ExcludePathsFilter(paths ...string) FileFilter {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[filepath.Clean(p)] = struct{}{}
	}
	return func(p string) bool {
		_, skip := set[filepath.Clean(p)]
		return !skip
	}
}

// AllFilters accepts a path only when every filter does.
func AllFilters(filters ...FileFilter) FileFilter {
	return func(p string) bool {
		for _, f := range filters {
			if f != nil && !f(p) {
				return false
			}
		}
		return true
	}
}

// NoHiddenFilter rejects dot files and dot directories.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}
