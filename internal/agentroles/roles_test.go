package agentroles

import "testing"

func TestNewBuiltinRegistry_HasRequiredRoles(t *testing.T) {
	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}

	for _, name := range []string{RoleGeneral, RoleOrchestrator, RolePlanning, RoleReasoning, RoleExecution} {
		def, ok := registry.Get(name)
		if !ok {
			t.Fatalf("expected required role %q to exist", name)
		}
		if def.MaxConcurrentTools <= 0 {
			t.Errorf("role %q: expected a positive MaxConcurrentTools, got %d", name, def.MaxConcurrentTools)
		}
		if def.ContextPreferences.HandoffThreshold <= 0 || def.ContextPreferences.HandoffThreshold > 1 {
			t.Errorf("role %q: expected handoff threshold in (0,1], got %v", name, def.ContextPreferences.HandoffThreshold)
		}
	}
}

func TestRegistry_RoleConcurrencyDefaults(t *testing.T) {
	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}

	general := registry.MustGet(RoleGeneral)
	if general.MaxConcurrentTools != 8 {
		t.Errorf("expected general.maxConcurrentTools == 8, got %d", general.MaxConcurrentTools)
	}
	orchestrator := registry.MustGet(RoleOrchestrator)
	if orchestrator.MaxConcurrentTools != 10 {
		t.Errorf("expected orchestrator.maxConcurrentTools == 10, got %d", orchestrator.MaxConcurrentTools)
	}
	execution := registry.MustGet(RoleExecution)
	if execution.MaxConcurrentTools != 3 {
		t.Errorf("expected execution.maxConcurrentTools == 3, got %d", execution.MaxConcurrentTools)
	}
}

func TestRegistry_MustGetFallsBackToGeneral(t *testing.T) {
	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}

	def := registry.MustGet("nonexistent-role")
	if def.Name != RoleGeneral {
		t.Errorf("expected fallback to general, got %q", def.Name)
	}
}

func TestChooseAgentForTask(t *testing.T) {
	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}

	cases := map[string]string{
		"please design a plan for the migration":          RolePlanning,
		"analyze this bug and explain the root cause":      RoleReasoning,
		"run the test suite and show me the output":        RoleExecution,
		"what's your favorite color":                        RoleGeneral,
		"architect a new caching layer":                     RolePlanning,
		"why does this query time out":                      RoleReasoning,
		"list all files in the repo":                        RoleExecution,
	}

	for taskText, wantRole := range cases {
		got := registry.ChooseAgentForTask(taskText)
		if got.Role != wantRole {
			t.Errorf("ChooseAgentForTask(%q) = %q, want %q", taskText, got.Role, wantRole)
		}
	}
}

func TestChooseAgentForTask_PopulatesModelAndCapabilitiesFromRole(t *testing.T) {
	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}

	got := registry.ChooseAgentForTask("run the deploy script")
	def := registry.MustGet(RoleExecution)
	if got.Model != def.DefaultModel {
		t.Errorf("expected model %q, got %q", def.DefaultModel, got.Model)
	}
	if len(got.Capabilities) != len(def.Capabilities) {
		t.Errorf("expected capabilities to come from the execution role definition")
	}
}

func TestNewRegistryFromYAML_RejectsMissingRequiredRole(t *testing.T) {
	_, err := newRegistryFromYAML([]byte(`
roles:
  - name: general
    defaultModel: default
    maxConcurrentTools: 8
    contextPreferences:
      maxContextSize: 1000
      handoffThreshold: 0.8
`))
	if err == nil {
		t.Fatal("expected an error for a catalog missing required roles")
	}
}
