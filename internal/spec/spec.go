// Package spec loads and validates the application specification a
// harness project is generated from.
package spec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidSpec is returned when a specification fails validation.
var ErrInvalidSpec = errors.New("invalid app spec")

// AppSpec describes the application to build. It is immutable once a
// feature list has been generated from it.
type AppSpec struct {
	Name            string     `yaml:"name" json:"name"`
	Description     string     `yaml:"description" json:"description"`
	CoreFeatures    []string   `yaml:"core_features" json:"coreFeatures"`
	TechStack       *TechStack `yaml:"tech_stack,omitempty" json:"techStack,omitempty"`
	SuccessCriteria []string   `yaml:"success_criteria" json:"successCriteria"`
	Constraints     []string   `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// TechStack lists the optional technology choices. An empty field means the
// stack does not include that layer.
type TechStack struct {
	Backend  string `yaml:"backend,omitempty" json:"backend,omitempty"`
	Frontend string `yaml:"frontend,omitempty" json:"frontend,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	Auth     string `yaml:"auth,omitempty" json:"auth,omitempty"`
	Hosting  string `yaml:"hosting,omitempty" json:"hosting,omitempty"`
}

// HasDatabase reports whether the stack includes a database.
func (s *AppSpec) HasDatabase() bool {
	return s.TechStack != nil && strings.TrimSpace(s.TechStack.Database) != ""
}

// HasAuth reports whether the stack includes an auth provider.
func (s *AppSpec) HasAuth() bool {
	return s.TechStack != nil && strings.TrimSpace(s.TechStack.Auth) != ""
}

// HasHosting reports whether the stack includes a hosting target.
func (s *AppSpec) HasHosting() bool {
	return s.TechStack != nil && strings.TrimSpace(s.TechStack.Hosting) != ""
}

// Stack returns the tech stack, or an empty one when unset.
func (s *AppSpec) Stack() TechStack {
	if s.TechStack == nil {
		return TechStack{}
	}
	return *s.TechStack
}

// Validate checks required fields.
func (s *AppSpec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	for i, f := range s.CoreFeatures {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, fmt.Errorf("core_features[%d] is empty", i))
		}
	}
	for i, c := range s.SuccessCriteria {
		if strings.TrimSpace(c) == "" {
			errs = append(errs, fmt.Errorf("success_criteria[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, errors.Join(errs...))
	}
	return nil
}

// Load reads a YAML specification from path. Unknown keys are rejected.
func Load(path string) (*AppSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML specification.
func Parse(data []byte) (*AppSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s AppSpec
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidSpec)
		}
		return nil, fmt.Errorf("parse spec file: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("parse spec file: multiple documents are not allowed")
		}
		return nil, fmt.Errorf("parse spec file: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
