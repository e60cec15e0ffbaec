// Package resource resolves location patterns such as "db/*.sql" or
// "sql/mapper/**/*.yaml" against a resource filesystem. Every loader in the
// application (schema scripts, statement mappers, message bundles, view
// templates, static assets) reads through the same afero.Fs so tests can
// swap in an in-memory tree.
package resource

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// classpathPrefixes are accepted and ignored so locations copied from
// existing configuration keep working.
var classpathPrefixes = []string{"classpath*:", "classpath:"}

// NewFs returns a read-only filesystem rooted at dir.
func NewFs(dir string) afero.Fs {
	return afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// Resolve returns the files matching pattern in lexical order. A segment of
// "**" matches any number of directories; other segments use path.Match
// syntax. A pattern whose base directory does not exist matches nothing.
func Resolve(fs afero.Fs, pattern string) ([]string, error) {
	pattern = Clean(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty resource pattern")
	}

	segments := strings.Split(pattern, "/")
	for _, s := range segments {
		if s == "**" {
			continue
		}
		if _, err := path.Match(s, ""); err != nil {
			return nil, fmt.Errorf("invalid resource pattern %q: %w", pattern, err)
		}
	}

	base, rest := splitBase(segments)
	if len(rest) == 0 {
		ok, err := afero.Exists(fs, base)
		if err != nil || !ok {
			return nil, err
		}
		return []string{base}, nil
	}

	root := base
	if root == "" {
		root = "."
	}
	if ok, _ := afero.DirExists(fs, root); !ok {
		return nil, nil
	}

	var matches []string
	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel := filepath.ToSlash(p)
		if base != "" {
			rel = strings.TrimPrefix(strings.TrimPrefix(rel, base), "/")
		} else {
			rel = strings.TrimPrefix(rel, "./")
		}
		if matchSegments(rest, strings.Split(rel, "/")) {
			matches = append(matches, filepath.ToSlash(p))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", pattern, err)
	}

	sort.Strings(matches)
	return matches, nil
}

// ResolveAll resolves each pattern and returns the union, deduplicated,
// keeping the order of the patterns and lexical order within each.
func ResolveAll(fs afero.Fs, patterns ...string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		matches, err := Resolve(fs, p)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Clean strips classpath prefixes and leading slashes and normalises
// separators.
func Clean(pattern string) string {
	for _, p := range classpathPrefixes {
		pattern = strings.TrimPrefix(pattern, p)
	}
	pattern = filepath.ToSlash(strings.TrimSpace(pattern))
	return strings.TrimLeft(pattern, "/")
}

func splitBase(segments []string) (string, []string) {
	for i, s := range segments {
		if s == "**" || strings.ContainsAny(s, "*?[") {
			return strings.Join(segments[:i], "/"), segments[i:]
		}
	}
	return strings.Join(segments, "/"), nil
}

func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(name); i++ {
			if matchSegments(pattern[1:], name[i:]) {
				return true
			}
		}
		return false
	}
	if len(name) == 0 {
		return false
	}
	ok, _ := path.Match(pattern[0], name[0])
	return ok && matchSegments(pattern[1:], name[1:])
}
