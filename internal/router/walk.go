package router

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// walkEntryLimit bounds how many directory entries a basename search will
// visit before giving up, keeping Phase 2 latency flat on huge trees.
const walkEntryLimit = 5000

var skippedDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
}

// findByBasename walks the project tree looking for a file whose basename
// matches base (case-insensitive). Returns the project-relative path of
// the first match in lexical walk order.
func findByBasename(root, base string) (string, bool) {
	var found string
	visited := 0
	lowerBase := strings.ToLower(base)

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		visited++
		if visited > walkEntryLimit {
			return filepath.SkipAll
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || skippedDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.ToLower(name) == lowerBase {
			if rel, err := filepath.Rel(root, path); err == nil {
				found = filepath.ToSlash(rel)
				return filepath.SkipAll
			}
		}
		return nil
	})

	return found, found != ""
}

// listProjectFiles enumerates project-relative file paths in lexical walk
// order, bounded by walkEntryLimit and skipping hidden and generated
// directories. Used for the evicted manifest.
func listProjectFiles(root string) []string {
	if root == "" {
		return nil
	}
	var out []string
	visited := 0
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		visited++
		if visited > walkEntryLimit {
			return filepath.SkipAll
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || skippedDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if rel, err := filepath.Rel(root, path); err == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out
}
