package validation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/fyrsmithlabs/harness/internal/ignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocalExecutor_FileChecks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module demo\n")
	writeFile(t, root, "db/migrations/001_init.sql", "create table todo();")
	writeFile(t, root, "node_modules/pkg/schema.sql", "")
	writeFile(t, root, "README.md", "# Demo\n\nGetting started: run init.sh\n")

	e := NewLocalExecutor(root, WithIgnore(ignore.New("node_modules/")))
	ctx := context.Background()

	assert.NoError(t, e.Run(ctx, "file: go.mod"))
	assert.NoError(t, e.Run(ctx, "file: {go.mod,package.json}"))
	assert.NoError(t, e.Run(ctx, "file: **/migrations/**"))
	assert.ErrorIs(t, e.Run(ctx, "file: package.json"), ErrNoMatch)

	assert.NoError(t, e.Run(ctx, "absent: **/*.orig"))
	assert.ErrorIs(t, e.Run(ctx, "absent: **/*.sql"), ErrUnexpected)

	// Ignored trees are invisible to globs.
	assert.ErrorIs(t, e.Run(ctx, "file: node_modules/**/*.sql"), ErrNoMatch)

	assert.NoError(t, e.Run(ctx, "contains: README.md :: Getting started"))
	assert.ErrorIs(t, e.Run(ctx, "contains: README.md :: Deploying"), ErrNotContained)
	assert.ErrorIs(t, e.Run(ctx, "contains: README.md"), ErrMalformedStep)
	assert.ErrorIs(t, e.Run(ctx, "contains: ../etc/passwd :: root"), ErrMalformedStep)
	assert.ErrorIs(t, e.Run(ctx, "file: /etc/passwd"), ErrMalformedStep)
}

func TestLocalExecutor_Checks(t *testing.T) {
	e := NewLocalExecutor(t.TempDir())
	ctx := context.Background()
	boom := errors.New("unhealthy")

	e.RegisterCheck("app-healthy", func(context.Context) error { return boom })
	e.RegisterPredicate("The page renders", func(context.Context) error { return nil })

	assert.ErrorIs(t, e.Run(ctx, "check: app-healthy"), boom)
	assert.ErrorIs(t, e.Run(ctx, "check: unknown"), ErrNoCheck)
	assert.NoError(t, e.Run(ctx, "The page renders"))
	assert.ErrorIs(t, e.Run(ctx, "Something nobody checks"), ErrNoCheck)
}

func TestLocalExecutor_Commands(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	root := t.TempDir()
	ctx := WithFeature(context.Background(), 9)

	e := NewLocalExecutor(root, WithFallbackCommand(`test "$HARNESS_FEATURE_ID" = 9 && echo "$HARNESS_STEP" | grep -q renders`))

	assert.NoError(t, e.Run(ctx, "cmd: true"))
	err := e.Run(ctx, "cmd: echo failing output; exit 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing output")

	assert.NoError(t, e.Run(ctx, "The page renders"))
	assert.Error(t, e.Run(ctx, "The page is blank"))
}
