// Package agentroles implements a read-only, process-wide catalog of
// RoleDefinitions consulted at Agent construction and by
// chooseAgentForTask, shipped as a builtin catalog embedded in the
// binary via embed.FS and gopkg.in/yaml.v3.
package agentroles

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed roles/roles.yaml
var builtinFS embed.FS

// ContextPreferences bounds a role's default context budget.
type ContextPreferences struct {
	MaxContextSize   int     `yaml:"maxContextSize"`
	HandoffThreshold float64 `yaml:"handoffThreshold"`
}

// RoleDefinition is a static, read-only role description.
type RoleDefinition struct {
	Name               string             `yaml:"name"`
	DefaultModel       string             `yaml:"defaultModel"`
	DefaultProvider    string             `yaml:"defaultProvider"`
	Capabilities       []string           `yaml:"capabilities"`
	SystemPrompt       string             `yaml:"systemPrompt"`
	MaxConcurrentTools int                `yaml:"maxConcurrentTools"`
	ContextPreferences ContextPreferences `yaml:"contextPreferences"`
	ToolRestrictions   []string           `yaml:"toolRestrictions,omitempty"`
}

type catalogDoc struct {
	Roles []RoleDefinition `yaml:"roles"`
}

// Registry is the AgentRegistry capability: a static map of role name
// to RoleDefinition, read-only after construction.
type Registry struct {
	roles map[string]RoleDefinition
}

// Minimal required roles every catalog must define.
const (
	RoleGeneral      = "general"
	RoleOrchestrator = "orchestrator"
	RolePlanning     = "planning"
	RoleReasoning    = "reasoning"
	RoleExecution    = "execution"
)

// NewBuiltinRegistry loads the catalog embedded in the binary.
func NewBuiltinRegistry() (*Registry, error) {
	data, err := builtinFS.ReadFile("roles/roles.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded role catalog: %w", err)
	}
	return newRegistryFromYAML(data)
}

func newRegistryFromYAML(data []byte) (*Registry, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse role catalog: %w", err)
	}

	roles := make(map[string]RoleDefinition, len(doc.Roles))
	for _, r := range doc.Roles {
		if r.Name == "" {
			return nil, fmt.Errorf("role catalog entry missing a name")
		}
		roles[r.Name] = r
	}

	for _, required := range []string{RoleGeneral, RoleOrchestrator, RolePlanning, RoleReasoning, RoleExecution} {
		if _, ok := roles[required]; !ok {
			return nil, fmt.Errorf("role catalog missing required role %q", required)
		}
	}

	return &Registry{roles: roles}, nil
}

// Get returns the named RoleDefinition and whether it exists.
func (r *Registry) Get(name string) (RoleDefinition, bool) {
	def, ok := r.roles[name]
	return def, ok
}

// MustGet returns the named RoleDefinition, falling back to "general"
// if the name is unknown, so callers always get a usable default.
func (r *Registry) MustGet(name string) RoleDefinition {
	if def, ok := r.roles[name]; ok {
		return def
	}
	return r.roles[RoleGeneral]
}

// Names returns every role name in the catalog.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	return names
}

// TaskSelection is chooseAgentForTask's return shape.
type TaskSelection struct {
	Role         string
	Model        string
	Capabilities []string
}

// ChooseAgentForTask inspects taskText with a case-insensitive keyword
// heuristic and selects a role.
func (r *Registry) ChooseAgentForTask(taskText string) TaskSelection {
	lower := strings.ToLower(taskText)

	role := RoleGeneral
	switch {
	case containsAny(lower, "plan", "design", "architect"):
		role = RolePlanning
	case containsAny(lower, "analyze", "debug", "reason", "why", "explain"):
		role = RoleReasoning
	case containsAny(lower, "run", "execute", "list", "show", "find"):
		role = RoleExecution
	}

	def := r.MustGet(role)
	return TaskSelection{
		Role:         role,
		Model:        def.DefaultModel,
		Capabilities: def.Capabilities,
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
