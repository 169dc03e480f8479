package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loomctx/loomctx/pkg/governance"
	"github.com/loomctx/loomctx/pkg/knowledge"
)

// LoadPolicies reads a list of [PolicyConfig] entries from the YAML file at
// path and converts each to a [governance.Policy]. An empty path returns no
// policies and no error.
func LoadPolicies(path string) ([]governance.Policy, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read policy file %q: %w", path, err)
	}

	var entries []PolicyConfig
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("config: parse policy file %q: %w", path, err)
	}

	policies := make([]governance.Policy, 0, len(entries))
	for i, e := range entries {
		p, err := BuildPolicy(e)
		if err != nil {
			return nil, fmt.Errorf("config: policy file %q entry [%d]: %w", path, i, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// BuildPolicy converts a [PolicyConfig] loaded from YAML into a
// [governance.Policy] ready for [governance.Engine.AddPolicy].
func BuildPolicy(c PolicyConfig) (governance.Policy, error) {
	layer, ok := knowledge.ParseLayer(c.Layer)
	if !ok {
		return governance.Policy{}, fmt.Errorf("layer %q is invalid", c.Layer)
	}

	mode, err := parseMode(c.Mode)
	if err != nil {
		return governance.Policy{}, err
	}
	merge, err := parseMergeStrategy(c.MergeStrategy)
	if err != nil {
		return governance.Policy{}, err
	}

	rules := make([]governance.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		r, err := buildRule(rc)
		if err != nil {
			return governance.Policy{}, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}

	return governance.Policy{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		Layer:         layer,
		Mode:          mode,
		MergeStrategy: merge,
		Rules:         rules,
		Metadata:      c.Metadata,
	}, nil
}

func buildRule(c RuleConfig) (governance.Rule, error) {
	ruleType, err := parseRuleType(c.RuleType)
	if err != nil {
		return governance.Rule{}, err
	}
	target, err := parseTarget(c.Target)
	if err != nil {
		return governance.Rule{}, err
	}
	operator, err := parseOperator(c.Operator)
	if err != nil {
		return governance.Rule{}, err
	}
	severity, err := parseSeverity(c.Severity)
	if err != nil {
		return governance.Rule{}, err
	}
	return governance.Rule{
		ID:       c.ID,
		RuleType: ruleType,
		Target:   target,
		Operator: operator,
		Value:    c.Value,
		Severity: severity,
		Message:  c.Message,
	}, nil
}

func parseMode(s string) (governance.Mode, error) {
	switch governance.Mode(s) {
	case governance.ModeMandatory, governance.ModeAdvisory:
		return governance.Mode(s), nil
	default:
		return "", fmt.Errorf("mode %q is invalid; valid values: mandatory, advisory", s)
	}
}

func parseMergeStrategy(s string) (governance.MergeStrategy, error) {
	switch governance.MergeStrategy(s) {
	case governance.MergeStrategyMerge, governance.MergeStrategyOverride, governance.MergeStrategyUnion:
		return governance.MergeStrategy(s), nil
	default:
		return "", fmt.Errorf("merge_strategy %q is invalid; valid values: merge, override, union", s)
	}
}

func parseRuleType(s string) (governance.RuleType, error) {
	switch governance.RuleType(s) {
	case governance.RuleTypeAllow, governance.RuleTypeDeny:
		return governance.RuleType(s), nil
	default:
		return "", fmt.Errorf("rule_type %q is invalid; valid values: allow, deny", s)
	}
}

func parseTarget(s string) (governance.Target, error) {
	switch governance.Target(s) {
	case governance.TargetFile, governance.TargetCode, governance.TargetDependency, governance.TargetImport, governance.TargetConfig:
		return governance.Target(s), nil
	default:
		return "", fmt.Errorf("target %q is invalid; valid values: file, code, dependency, import, config", s)
	}
}

func parseOperator(s string) (governance.Operator, error) {
	switch governance.Operator(s) {
	case governance.OperatorMustUse, governance.OperatorMustNotUse, governance.OperatorMustMatch,
		governance.OperatorMustNotMatch, governance.OperatorMustExist, governance.OperatorMustNotExist:
		return governance.Operator(s), nil
	default:
		return "", fmt.Errorf("operator %q is invalid", s)
	}
}

func parseSeverity(s string) (governance.Severity, error) {
	switch governance.Severity(s) {
	case governance.SeverityInfo, governance.SeverityWarn, governance.SeverityBlock:
		return governance.Severity(s), nil
	default:
		return "", fmt.Errorf("severity %q is invalid; valid values: info, warn, block", s)
	}
}

// LoadAPIKeys reads a YAML file mapping API keys to tenant ids at path into
// a map suitable for [pkg/authz/httpapi.MapKeyStore]. An empty path returns
// an empty map and no error.
func LoadAPIKeys(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read api keys file %q: %w", path, err)
	}
	keys := make(map[string]string)
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("config: parse api keys file %q: %w", path, err)
	}
	return keys, nil
}
