package arc

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// SourceRoot is a configured source directory.
type SourceRoot struct {
	Path string // absolute, cleaned
	Name string // base name, first component of every relative path under this root
}

// NormalizeRoots cleans and validates the configured source roots. Paths are
// made absolute and deduplicated. A filesystem root, a root nested inside
// another root, or two roots sharing a base name are rejected, because any of
// them would make relative paths ambiguous.
func NormalizeRoots(raw []string) ([]SourceRoot, error) {
	var roots []SourceRoot
	seen := make(map[string]bool)
	names := make(map[string]string)

	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolving source root %q: %w", r, err)
		}
		abs = filepath.Clean(abs)
		if seen[abs] {
			continue
		}
		if filepath.Dir(abs) == abs {
			return nil, fmt.Errorf("source root %q is a filesystem root", r)
		}
		name := filepath.Base(abs)
		if other, ok := names[name]; ok {
			return nil, fmt.Errorf("source roots %q and %q share the name %q", other, abs, name)
		}
		seen[abs] = true
		names[name] = abs
		roots = append(roots, SourceRoot{Path: abs, Name: name})
	}

	for i, a := range roots {
		for j, b := range roots {
			if i != j && IsWithin(b.Path, a.Path) {
				return nil, fmt.Errorf("source root %q is inside %q", a.Path, b.Path)
			}
		}
	}
	return roots, nil
}

// IsWithin reports whether p is parent or a path below it.
func IsWithin(parent, p string) bool {
	if p == parent {
		return true
	}
	prefix := parent
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// RelativePath returns the slash-separated path of full below root's parent,
// so that it starts with the root's name.
func RelativePath(root SourceRoot, full string) (string, error) {
	rel, err := filepath.Rel(filepath.Dir(root.Path), full)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", full, err)
	}
	rel = filepath.ToSlash(rel)
	if rel != root.Name && !strings.HasPrefix(rel, root.Name+"/") {
		return "", fmt.Errorf("%s is outside source root %s", full, root.Path)
	}
	return rel, nil
}

// RelativeDir returns the directory part of a slash-separated relative path,
// or "" when the path has no directory.
func RelativeDir(rel string) string {
	dir := path.Dir(rel)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
