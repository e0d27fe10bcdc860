package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKeywordsSkipsMalformedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywords.json")
	data := `[
		{"pattern": "lexer", "targets": ["lexer.rs"], "category": "code", "weight": 1.0},
		{"pattern": "", "targets": ["bad.rs"]},
		{"pattern": "parser", "targets": []}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	entries, err := LoadKeywords(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "lexer", entries[0].Pattern)
	assert.Equal(t, []string{"lexer.rs"}, entries[0].Targets)
}

func TestLoadKeywordsMissingFile(t *testing.T) {
	entries, err := LoadKeywords(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, entries)
}
