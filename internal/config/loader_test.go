package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loomctx/loomctx/internal/config"
	"github.com/loomctx/loomctx/pkg/governance"
)

func TestValidate_UnknownGraphBackend(t *testing.T) {
	t.Parallel()
	yaml := `
memory:
  backend: mock
graph:
  backend: neo4j
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown graph backend, got nil")
	}
	if !strings.Contains(err.Error(), "graph.backend") {
		t.Errorf("error should mention graph.backend, got: %v", err)
	}
}

func TestValidate_UnknownKnowledgeBackend(t *testing.T) {
	t.Parallel()
	yaml := `
memory:
  backend: mock
knowledge:
  backend: dropbox
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown knowledge backend, got nil")
	}
}

func TestValidate_UnknownSyncLocker(t *testing.T) {
	t.Parallel()
	yaml := `
memory:
  backend: mock
sync:
  locker: zookeeper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown sync locker, got nil")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
memory:
  backend: dynamodb
sync:
  locker: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "memory.backend") {
		t.Errorf("error should mention memory.backend, got: %v", err)
	}
	if !strings.Contains(errStr, "redis_addr") {
		t.Errorf("error should mention redis_addr, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}

// ── Policy loading ───────────────────────────────────────────────────────────

func TestLoadPolicies_Empty(t *testing.T) {
	t.Parallel()
	policies, err := config.LoadPolicies("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(policies) != 0 {
		t.Errorf("expected no policies, got %d", len(policies))
	}
}

func TestLoadPolicies_Valid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	const content = `
- id: no-secrets
  name: No hardcoded secrets
  layer: company
  mode: mandatory
  merge_strategy: merge
  rules:
    - id: deny-api-key-literal
      rule_type: deny
      target: code
      operator: must_not_match
      value: "(?i)api[_-]?key\\s*=\\s*['\"]"
      severity: block
      message: "hardcoded API keys are not allowed"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	policies, err := config.LoadPolicies(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.ID != "no-secrets" || p.Mode != governance.ModeMandatory {
		t.Errorf("unexpected policy: %+v", p)
	}
	if len(p.Rules) != 1 || p.Rules[0].Severity != governance.SeverityBlock {
		t.Errorf("unexpected rules: %+v", p.Rules)
	}
}

func TestLoadPolicies_InvalidLayer(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	const content = `
- id: bad
  layer: galaxy
  mode: mandatory
  merge_strategy: merge
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	_, err := config.LoadPolicies(path)
	if err == nil {
		t.Fatal("expected error for invalid layer, got nil")
	}
}

// ── API key loading ──────────────────────────────────────────────────────────

func TestLoadAPIKeys_Empty(t *testing.T) {
	t.Parallel()
	keys, err := config.LoadAPIKeys("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %d", len(keys))
	}
}

func TestLoadAPIKeys_Valid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.yaml")
	const content = "sk-tenant-a: tenant-a\nsk-tenant-b: tenant-b\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write keys file: %v", err)
	}

	keys, err := config.LoadAPIKeys(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keys["sk-tenant-a"] != "tenant-a" {
		t.Errorf("unexpected keys: %+v", keys)
	}
}
