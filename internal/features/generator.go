package features

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/harness/internal/spec"
)

// Generator decomposes an AppSpec into features.
//
// Ids are assigned in generation order starting at 1, and every dependency
// points at an id generated earlier, so the resulting graph is acyclic.
type Generator struct {
	testCommand string
	e2eCommand  string
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithTestCommand adds a `cmd:` step running the project's unit tests to the
// testing and API features.
func WithTestCommand(cmd string) GeneratorOption {
	return func(g *Generator) {
		g.testCommand = strings.TrimSpace(cmd)
	}
}

// WithE2ECommand adds a `cmd:` step to the end-to-end test feature.
func WithE2ECommand(cmd string) GeneratorOption {
	return func(g *Generator) {
		g.e2eCommand = strings.TrimSpace(cmd)
	}
}

// NewGenerator creates a generator.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type builder struct {
	next int
	out  []Feature
}

func (b *builder) add(f Feature) int {
	b.next++
	f.ID = b.next
	if f.Dependencies == nil {
		f.Dependencies = []int{}
	}
	b.out = append(b.out, f)
	return f.ID
}

// Generate produces the feature set for s.
func (g *Generator) Generate(s *spec.AppSpec) []Feature {
	stack := s.Stack()
	b := &builder{}

	initID := b.add(Feature{
		Name:        "Initialize project",
		Description: fmt.Sprintf("Create the %s project skeleton%s.", s.Name, stackSuffix(stack)),
		Category:    CategorySetup,
		Priority:    PriorityCritical,
		Complexity:  ComplexitySimple,
		ValidationSteps: []string{
			"file: " + manifestGlob(stack.Backend),
		},
	})

	if s.HasDatabase() {
		b.add(Feature{
			Name:         "Set up database",
			Description:  fmt.Sprintf("Provision %s, define the schema and add migrations.", stack.Database),
			Category:     CategoryInfrastructure,
			Priority:     PriorityHigh,
			Complexity:   ComplexityModerate,
			Dependencies: []int{initID},
			ValidationSteps: []string{
				"file: {**/migrations/**,**/*.sql,**/schema.*,prisma/schema.prisma}",
				fmt.Sprintf("The application can connect to %s", stack.Database),
			},
		})
	}

	b.add(Feature{
		Name:         "Create init script",
		Description:  "Add init.sh that installs dependencies and starts the development server.",
		Category:     CategorySetup,
		Priority:     PriorityHigh,
		Complexity:   ComplexitySimple,
		Dependencies: []int{initID},
		ValidationSteps: []string{
			"file: init.sh",
		},
	})

	healthID := b.add(Feature{
		Name:         "Backend health endpoint",
		Description:  "Expose a health endpoint that reports the service is up.",
		Category:     CategoryAPI,
		Priority:     PriorityHigh,
		Complexity:   ComplexitySimple,
		Dependencies: []int{initID},
		ValidationSteps: []string{
			"check: app-healthy",
		},
	})

	for _, name := range s.CoreFeatures {
		name = strings.TrimSpace(name)
		apiSteps := []string{fmt.Sprintf("API endpoints for %s handle create, read, update and delete", name)}
		if g.testCommand != "" {
			apiSteps = append(apiSteps, "cmd: "+g.testCommand)
		}
		apiID := b.add(Feature{
			Name:            name + " API",
			Description:     fmt.Sprintf("Implement the backend API for %s.", name),
			Category:        CategoryAPI,
			Priority:        PriorityHigh,
			Complexity:      ComplexityModerate,
			Dependencies:    []int{initID},
			ValidationSteps: apiSteps,
		})
		b.add(Feature{
			Name:         name + " UI",
			Description:  fmt.Sprintf("Build the user interface for %s on top of its API.", name),
			Category:     CategoryUI,
			Priority:     PriorityMedium,
			Complexity:   ComplexityModerate,
			Dependencies: []int{apiID},
			ValidationSteps: []string{
				fmt.Sprintf("The %s screen renders and calls its API", name),
			},
		})
	}

	if s.HasAuth() {
		b.add(Feature{
			Name:         "Integrate authentication",
			Description:  fmt.Sprintf("Integrate %s for sign-in and protect private routes.", stack.Auth),
			Category:     CategoryAuth,
			Priority:     PriorityHigh,
			Complexity:   ComplexityComplex,
			Dependencies: []int{healthID},
			ValidationSteps: []string{
				"Unauthenticated requests to protected routes are rejected",
				"A signed-in user can reach protected routes",
			},
		})
	}

	unitSteps := []string{"Unit tests cover the core features"}
	if g.testCommand != "" {
		unitSteps = []string{"cmd: " + g.testCommand}
	}
	b.add(Feature{
		Name:            "Unit tests",
		Description:     "Add unit tests for the backend and frontend logic.",
		Category:        CategoryTesting,
		Priority:        PriorityMedium,
		Complexity:      ComplexityModerate,
		ValidationSteps: unitSteps,
	})

	e2eSteps := []string{"End-to-end tests exercise the main user flows"}
	if g.e2eCommand != "" {
		e2eSteps = []string{"cmd: " + g.e2eCommand}
	}
	b.add(Feature{
		Name:            "End-to-end tests",
		Description:     "Add end-to-end tests for the main user journeys.",
		Category:        CategoryTesting,
		Priority:        PriorityMedium,
		Complexity:      ComplexityComplex,
		ValidationSteps: e2eSteps,
	})

	for _, criterion := range s.SuccessCriteria {
		criterion = strings.TrimSpace(criterion)
		b.add(Feature{
			Name:            "Success criterion: " + criterion,
			Description:     criterion,
			Category:        CategoryCriteria,
			Priority:        PriorityMedium,
			Complexity:      ComplexityModerate,
			ValidationSteps: []string{criterion},
		})
	}

	if s.HasHosting() {
		b.add(Feature{
			Name:        "Deploy",
			Description: fmt.Sprintf("Deploy the application to %s.", stack.Hosting),
			Category:    CategoryDeployment,
			Priority:    PriorityLow,
			Complexity:  ComplexityModerate,
			ValidationSteps: []string{
				fmt.Sprintf("The application is reachable on %s", stack.Hosting),
			},
		})
	}

	return b.out
}

func stackSuffix(t spec.TechStack) string {
	var parts []string
	for _, p := range []string{t.Backend, t.Frontend} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " using " + strings.Join(parts, " and ")
}

// manifestGlob returns a glob matching the dependency manifest a backend
// stack would create.
func manifestGlob(backend string) string {
	b := strings.ToLower(strings.TrimSpace(backend))
	switch {
	case strings.Contains(b, "python"), strings.Contains(b, "django"),
		strings.Contains(b, "flask"), strings.Contains(b, "fastapi"):
		return "{pyproject.toml,requirements.txt}"
	case b == "go", strings.HasPrefix(b, "go "), strings.Contains(b, "golang"):
		return "go.mod"
	case strings.Contains(b, "node"), strings.Contains(b, "express"),
		strings.Contains(b, "nest"), strings.Contains(b, "next"),
		strings.Contains(b, "typescript"), strings.Contains(b, "javascript"):
		return "package.json"
	case strings.Contains(b, "rust"):
		return "Cargo.toml"
	case strings.Contains(b, "ruby"), strings.Contains(b, "rails"):
		return "Gemfile"
	default:
		return "{go.mod,package.json,pyproject.toml,requirements.txt,Cargo.toml,Gemfile,pom.xml}"
	}
}
