package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToGlobs(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"empty line", "", nil},
		{"whitespace only", "   ", nil},
		{"comment", "# build output", nil},
		{"negation dropped", "!keep.log", nil},
		{"extension glob", "*.log", []string{"**/*.log", "**/*.log/**"}},
		{"directory", "node_modules/", []string{"**/node_modules/**"}},
		{"anchored", "/dist", []string{"dist", "dist/**"}},
		{"nested path", "vendor/cache", []string{"vendor/cache", "vendor/cache/**"}},
		{"double star", "**/build/", []string{"**/build/**"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toGlobs(tt.line))
		})
	}
}

func TestMatcher(t *testing.T) {
	m := New("node_modules/", "*.pyc", "/dist", "# comment")

	ignored := []string{
		"node_modules/left-pad/index.js",
		"web/node_modules/x.sql",
		"pkg/__pycache__/a.pyc",
		"dist/app.js",
		".git/HEAD",
		".harness/feature_list.json",
		"./dist",
	}
	for _, p := range ignored {
		assert.True(t, m.Match(p), p)
	}

	kept := []string{
		"init.sh",
		"src/dist/app.js",
		"migrations/001.sql",
		"node_modules.md",
	}
	for _, p := range kept {
		assert.False(t, m.Match(p), p)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("build/\n*.tmp\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".harnessignore"), []byte("build/\nfixtures/\n"), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{
		".git/**",
		".harness/**",
		"**/build/**",
		"**/*.tmp",
		"**/*.tmp/**",
		"**/fixtures/**",
	}, m.Patterns())
	assert.True(t, m.Match("build/out.bin"))
	assert.True(t, m.Match("testdata/fixtures/a.json"))
}

func TestLoad_MissingFiles(t *testing.T) {
	m, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, AlwaysIgnored, m.Patterns())
}
