package spec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const todoSpec = `name: todo
description: A small todo app
core_features:
  - Todo List
  - Sharing
tech_stack:
  backend: go
  frontend: react
  database: postgres
success_criteria:
  - Users can add a todo
constraints:
  - No external SaaS
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(todoSpec), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "todo", s.Name)
	assert.Equal(t, []string{"Todo List", "Sharing"}, s.CoreFeatures)
	assert.Equal(t, []string{"Users can add a todo"}, s.SuccessCriteria)
	assert.True(t, s.HasDatabase())
	assert.False(t, s.HasAuth())
	assert.False(t, s.HasHosting())
	assert.Equal(t, "react", s.Stack().Frontend)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "empty document"},
		{"missing name", "description: x\n", "name is required"},
		{"unknown key", "name: x\nfeatures: []\n", "field features not found"},
		{"blank core feature", "name: x\ncore_features: ['  ']\n", "core_features[0] is empty"},
		{"multiple documents", "name: x\n---\nname: y\n", "multiple documents"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_InvalidSpecSentinel(t *testing.T) {
	_, err := Parse([]byte("description: nameless\n"))
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestStack_Nil(t *testing.T) {
	s := &AppSpec{Name: "x"}
	assert.Equal(t, TechStack{}, s.Stack())
	assert.False(t, s.HasDatabase())
}
