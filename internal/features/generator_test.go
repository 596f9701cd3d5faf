package features

import (
	"testing"

	"github.com/fyrsmithlabs/harness/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(fs []Feature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

func byName(t *testing.T, fs []Feature, name string) Feature {
	t.Helper()
	for _, f := range fs {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("feature %q not generated; have %v", name, names(fs))
	return Feature{}
}

func TestGenerate_MinimalSpec(t *testing.T) {
	s := &spec.AppSpec{
		Name:            "todo",
		CoreFeatures:    []string{"Todo List"},
		SuccessCriteria: []string{"Users can add a todo", "Todos persist across reloads"},
	}

	fs := NewGenerator().Generate(s)

	require.Len(t, fs, 7+len(s.SuccessCriteria))
	assert.Equal(t, []string{
		"Initialize project",
		"Create init script",
		"Backend health endpoint",
		"Todo List API",
		"Todo List UI",
		"Unit tests",
		"End-to-end tests",
		"Success criterion: Users can add a todo",
		"Success criterion: Todos persist across reloads",
	}, names(fs))

	initF := byName(t, fs, "Initialize project")
	assert.Equal(t, PriorityCritical, initF.Priority)
	assert.Empty(t, initF.Dependencies)

	api := byName(t, fs, "Todo List API")
	ui := byName(t, fs, "Todo List UI")
	assert.Equal(t, []int{api.ID}, ui.Dependencies)

	assert.Empty(t, byName(t, fs, "Unit tests").Dependencies)
	assert.Empty(t, byName(t, fs, "End-to-end tests").Dependencies)
}

func TestGenerate_FullStack(t *testing.T) {
	s := &spec.AppSpec{
		Name:         "shop",
		CoreFeatures: []string{"Catalog", "Cart"},
		TechStack: &spec.TechStack{
			Backend:  "Go",
			Frontend: "React",
			Database: "Postgres",
			Auth:     "OIDC",
			Hosting:  "Fly.io",
		},
		SuccessCriteria: []string{"Checkout works"},
	}

	fs := NewGenerator().Generate(s)

	// init, db, init-script, health, 2x(api,ui), auth, unit, e2e, 1 criterion, deploy
	require.Len(t, fs, 13)

	initF := byName(t, fs, "Initialize project")
	db := byName(t, fs, "Set up database")
	health := byName(t, fs, "Backend health endpoint")
	auth := byName(t, fs, "Integrate authentication")
	deploy := byName(t, fs, "Deploy")

	assert.Equal(t, []int{initF.ID}, db.Dependencies)
	assert.Equal(t, []int{health.ID}, auth.Dependencies)
	assert.Empty(t, deploy.Dependencies)
	assert.Equal(t, PriorityLow, deploy.Priority)
	assert.Equal(t, []string{"file: go.mod"}, initF.ValidationSteps)
	assert.Equal(t, fs[len(fs)-1].Name, "Deploy")
}

func TestGenerate_IDsSequentialAndBackward(t *testing.T) {
	s := &spec.AppSpec{
		Name:            "x",
		CoreFeatures:    []string{"A", "B", "C"},
		TechStack:       &spec.TechStack{Database: "sqlite", Auth: "magic links", Hosting: "k8s"},
		SuccessCriteria: []string{"one", "two"},
	}

	fs := NewGenerator().Generate(s)

	for i, f := range fs {
		assert.Equal(t, i+1, f.ID)
		for _, dep := range f.Dependencies {
			assert.Less(t, dep, f.ID, "feature %d depends forward on %d", f.ID, dep)
		}
	}

	l := NewList(*s, fs, fixedNow)
	assert.NoError(t, l.Validate())
}

func TestGenerate_TestCommands(t *testing.T) {
	s := &spec.AppSpec{Name: "x", CoreFeatures: []string{"Notes"}}

	fs := NewGenerator(WithTestCommand("go test ./..."), WithE2ECommand("npx playwright test")).Generate(s)

	assert.Equal(t, []string{"cmd: go test ./..."}, byName(t, fs, "Unit tests").ValidationSteps)
	assert.Equal(t, []string{"cmd: npx playwright test"}, byName(t, fs, "End-to-end tests").ValidationSteps)
	assert.Contains(t, byName(t, fs, "Notes API").ValidationSteps, "cmd: go test ./...")
}

func TestManifestGlob(t *testing.T) {
	tests := map[string]string{
		"Go":         "go.mod",
		"golang/gin": "go.mod",
		"Django":     "{pyproject.toml,requirements.txt}",
		"Node.js":    "package.json",
		"Rust":       "Cargo.toml",
		"Rails":      "Gemfile",
	}
	for backend, want := range tests {
		assert.Equal(t, want, manifestGlob(backend), backend)
	}
	assert.Contains(t, manifestGlob(""), "go.mod")
}
