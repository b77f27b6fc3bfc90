package fs

import (
	"path/filepath"
	"strings"

	"arc-go/internal/arc"
)

// ExclusionMatcher applies the configured exclusion rules:
//
//   - exclude paths are absolute prefixes compared per path component
//   - exclude suffixes are compared case-insensitively against the file name
//   - ignore patterns are matched against the path below the source root
type ExclusionMatcher struct {
	paths    []string
	suffixes []string
	ignore   *IgnoreMatcher
}

// NewExclusionMatcher creates an ExclusionMatcher. Relative exclude paths are
// resolved against the working directory.
func NewExclusionMatcher(paths, suffixes, ignorePatterns []string) (*ExclusionMatcher, error) {
	m := &ExclusionMatcher{ignore: NewIgnoreMatcher(ignorePatterns)}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		m.paths = append(m.paths, filepath.Clean(abs))
	}
	for _, s := range suffixes {
		if s = strings.TrimSpace(s); s != "" {
			m.suffixes = append(m.suffixes, strings.ToLower(s))
		}
	}
	return m, nil
}

// ExcludeDir reports whether a directory is pruned.
func (m *ExclusionMatcher) ExcludeDir(fullPath, relativePath string) bool {
	return m.underExcludedPath(fullPath) || m.ignore.Match(belowRoot(relativePath))
}

// ExcludeFile reports whether a file is skipped.
func (m *ExclusionMatcher) ExcludeFile(fullPath, relativePath string) bool {
	if m.underExcludedPath(fullPath) {
		return true
	}
	name := strings.ToLower(filepath.Base(fullPath))
	for _, s := range m.suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return m.ignore.Match(belowRoot(relativePath))
}

func (m *ExclusionMatcher) underExcludedPath(fullPath string) bool {
	full := filepath.Clean(fullPath)
	for _, p := range m.paths {
		if arc.IsWithin(p, full) {
			return true
		}
	}
	return false
}

// belowRoot strips the leading root name from a catalog relative path.
func belowRoot(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return filepath.FromSlash(rel[i+1:])
	}
	return ""
}

// Compile-time check that ExclusionMatcher implements arc.Excluder interface
var _ arc.Excluder = (*ExclusionMatcher)(nil)
