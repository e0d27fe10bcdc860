// Package retrieval defines the narrow interfaces through which the router
// consumes external retrieval machinery. Raw repository indexing and symbol
// extraction live outside this module; only their query surfaces appear
// here, with degraded built-in fallbacks so the router works without them.
package retrieval

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// FileScore is one ranked result from an Indexer query.
type FileScore struct {
	FileID string
	Score  float64
}

// Indexer ranks project files against a prompt. Implementations are
// external (BM25/FTS); NullIndexer is the in-module fallback.
type Indexer interface {
	Query(prompt string) []FileScore
}

// RepoMap produces a compressed outline (function/class signatures) for a
// file. Implementations are external (tree-sitter); OutlineFallback is the
// in-module degraded version.
type RepoMap interface {
	Outline(fileID string) (string, bool)
}

// NullIndexer returns no results. The router treats an empty result set
// the same as having no indexer at all.
type NullIndexer struct{}

func (NullIndexer) Query(string) []FileScore { return nil }

// OutlineFallback implements RepoMap by returning the first N non-blank
// lines of the file. It is what the router uses when no symbol-aware
// outliner is wired in.
type OutlineFallback struct {
	Root     string
	MaxLines int
}

// Outline reads fileID relative to Root and returns up to MaxLines
// non-blank lines. Returns ok=false when the file cannot be read, in which
// case the caller omits the outline entirely.
func (o OutlineFallback) Outline(fileID string) (string, bool) {
	maxLines := o.MaxLines
	if maxLines <= 0 {
		maxLines = 20
	}

	f, err := os.Open(filepath.Join(o.Root, fileID))
	if err != nil {
		return "", false
	}
	defer f.Close()

	var b strings.Builder
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0
	for sc.Scan() && count < maxLines {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		count++
	}
	if count == 0 {
		return "", false
	}
	return b.String(), true
}
