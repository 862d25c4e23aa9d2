// internal/ignore/ignore.go

// Package ignore filters repository paths before any blob is fetched, so
// ignored files never cost API quota.
package ignore

import (
	"path"
	"strings"
)

// DefaultEntries covers lockfiles, dependency directories and binary asset
// extensions that add nothing to a grading prompt.
var DefaultEntries = []string{
	"node_modules", ".git", "dist", "build", "vendor", "__pycache__",
	".idea", ".vscode", "coverage",
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "go.sum",
	".ds_store",
	".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg", ".webp",
	".woff", ".woff2", ".ttf", ".eot", ".otf",
	".mp3", ".mp4", ".zip", ".gz", ".tar", ".pdf",
	".exe", ".dll", ".so", ".dylib", ".bin", ".lock",
}

// Set decides which files in a repository tree are skipped. Membership is
// case-insensitive.
type Set struct {
	entries map[string]struct{}
}

// NewSet builds a Set from the given entries. An entry matches a path by
// exact filename, by any path segment, or by extension.
func NewSet(entries []string) *Set {
	s := &Set{entries: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			s.entries[e] = struct{}{}
		}
	}
	return s
}

// NewDefaultSet builds a Set with DefaultEntries.
func NewDefaultSet() *Set {
	return NewSet(DefaultEntries)
}

// ShouldIgnore reports whether the file at p is excluded. Any one match
// (exact filename, any path segment, or extension) excludes the file.
func (s *Set) ShouldIgnore(p string) bool {
	lower := strings.ToLower(p)

	if _, ok := s.entries[path.Base(lower)]; ok {
		return true
	}
	for _, segment := range strings.Split(lower, "/") {
		if _, ok := s.entries[segment]; ok {
			return true
		}
	}
	if ext := path.Ext(lower); ext != "" {
		if _, ok := s.entries[ext]; ok {
			return true
		}
	}
	return false
}
