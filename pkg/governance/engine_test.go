package governance_test

import (
	"testing"

	"github.com/loomctx/loomctx/pkg/governance"
	"github.com/loomctx/loomctx/pkg/knowledge"
)

func TestValidateWithNoPoliciesIsAlwaysValid(t *testing.T) {
	e := governance.NewEngine()
	result := e.Validate(knowledge.LayerProject, map[string]any{})
	if !result.IsValid || len(result.Violations) != 0 {
		t.Fatalf("expected valid result with no violations, got %+v", result)
	}
}

func TestValidateMandatoryBlockViolationInvalidatesResult(t *testing.T) {
	e := governance.NewEngine()
	e.AddPolicy(governance.Policy{
		ID:            "p1",
		Layer:         knowledge.LayerCompany,
		Mode:          governance.ModeMandatory,
		MergeStrategy: governance.MergeStrategyMerge,
		Rules: []governance.Rule{{
			ID:       "r1",
			Target:   governance.TargetConfig,
			Operator: governance.OperatorMustExist,
			Severity: governance.SeverityBlock,
			Message:  "config must exist",
		}},
	})

	result := e.Validate(knowledge.LayerProject, map[string]any{})
	if result.IsValid {
		t.Fatal("expected a mandatory Block violation to invalidate the result")
	}
	if len(result.Violations) != 1 || result.Violations[0].RuleID != "r1" {
		t.Fatalf("expected violation r1, got %+v", result.Violations)
	}
}

func TestValidateAncestorPolicyAppliesToDescendantLayer(t *testing.T) {
	// Mirrors the original Rust governance_engine_hierarchy test: a
	// company-level policy requiring config to exist should not fire when
	// the context actually provides config, even when validating a
	// lower (project) layer, and does fire there when config is missing.
	e := governance.NewEngine()
	e.AddPolicy(governance.Policy{
		ID:            "p1",
		Layer:         knowledge.LayerCompany,
		Mode:          governance.ModeMandatory,
		MergeStrategy: governance.MergeStrategyMerge,
		Rules: []governance.Rule{{
			ID:       "r1",
			Target:   governance.TargetConfig,
			Operator: governance.OperatorMustExist,
			Severity: governance.SeverityBlock,
			Message:  "config must exist",
		}},
	})

	result := e.Validate(knowledge.LayerProject, map[string]any{"config": "present"})
	if !result.IsValid {
		t.Fatalf("expected no violation when config is present, got %+v", result.Violations)
	}

	if e.Validate(knowledge.LayerProject, map[string]any{}).IsValid {
		t.Fatal("expected the company policy to fire for a project target without config")
	}
}

func TestValidateAdvisoryViolationNeverBlocks(t *testing.T) {
	e := governance.NewEngine()
	e.AddPolicy(governance.Policy{
		ID:            "p1",
		Layer:         knowledge.LayerTeam,
		Mode:          governance.ModeAdvisory,
		MergeStrategy: governance.MergeStrategyMerge,
		Rules: []governance.Rule{{
			ID:       "r1",
			Target:   governance.TargetConfig,
			Operator: governance.OperatorMustExist,
			Severity: governance.SeverityBlock,
			Message:  "config should exist",
		}},
	})

	result := e.Validate(knowledge.LayerProject, map[string]any{})
	if !result.IsValid {
		t.Fatal("expected advisory violation to be reported but not block")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected one reported violation, got %+v", result.Violations)
	}
}

func TestValidateMustNotUseDependency(t *testing.T) {
	e := governance.NewEngine()
	e.AddPolicy(governance.Policy{
		ID:            "p1",
		Layer:         knowledge.LayerOrg,
		Mode:          governance.ModeMandatory,
		MergeStrategy: governance.MergeStrategyMerge,
		Rules: []governance.Rule{{
			ID:       "r1",
			Target:   governance.TargetDependency,
			Operator: governance.OperatorMustNotUse,
			Value:    "banned-lib",
			Severity: governance.SeverityBlock,
			Message:  "banned-lib is not allowed",
		}},
	})

	clean := e.Validate(knowledge.LayerProject, map[string]any{"dependencies": []any{"ok-lib"}})
	if !clean.IsValid {
		t.Fatalf("expected no violation without the banned dependency, got %+v", clean.Violations)
	}

	dirty := e.Validate(knowledge.LayerProject, map[string]any{"dependencies": []any{"ok-lib", "banned-lib"}})
	if dirty.IsValid {
		t.Fatal("expected violation when banned-lib is present")
	}
}

func TestValidateMustNotMatchRegex(t *testing.T) {
	e := governance.NewEngine()
	e.AddPolicy(governance.Policy{
		ID:            "p1",
		Layer:         knowledge.LayerProject,
		Mode:          governance.ModeMandatory,
		MergeStrategy: governance.MergeStrategyMerge,
		Rules: []governance.Rule{{
			ID:       "r1",
			Target:   governance.TargetCode,
			Operator: governance.OperatorMustNotMatch,
			Value:    "forbidden",
			Severity: governance.SeverityBlock,
			Message:  "forbidden content detected",
		}},
	})

	result := e.Validate(knowledge.LayerProject, map[string]any{"content": "this is forbidden"})
	if result.IsValid {
		t.Fatal("expected a MustNotMatch violation for matching content")
	}
}

func TestValidateOverrideReplacesInheritedRules(t *testing.T) {
	e := governance.NewEngine()
	e.AddPolicy(governance.Policy{
		ID:            "company",
		Layer:         knowledge.LayerCompany,
		Mode:          governance.ModeMandatory,
		MergeStrategy: governance.MergeStrategyMerge,
		Rules: []governance.Rule{{
			ID:       "company-rule",
			Target:   governance.TargetConfig,
			Operator: governance.OperatorMustExist,
			Severity: governance.SeverityBlock,
			Message:  "config must exist",
		}},
	})
	e.AddPolicy(governance.Policy{
		ID:            "project",
		Layer:         knowledge.LayerProject,
		Mode:          governance.ModeMandatory,
		MergeStrategy: governance.MergeStrategyOverride,
		Rules:         []governance.Rule{},
	})

	result := e.Validate(knowledge.LayerProject, map[string]any{})
	if !result.IsValid {
		t.Fatalf("expected project's Override policy to drop the inherited company rule, got %+v", result.Violations)
	}
}
