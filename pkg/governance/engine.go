package governance

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/loomctx/loomctx/pkg/knowledge"
)

// Engine holds policies keyed by the knowledge layer they attach to and
// validates a context against the layers that apply to a target.
//
// Safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	policies map[knowledge.Layer][]Policy
}

// NewEngine returns an Engine with no policies.
func NewEngine() *Engine {
	return &Engine{policies: make(map[knowledge.Layer][]Policy)}
}

// AddPolicy attaches policy to its Layer.
func (e *Engine) AddPolicy(policy Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[policy.Layer] = append(e.policies[policy.Layer], policy)
}

// scopedRule pairs a rule with the policy it came from, so a violation can
// be attributed to the right mode/severity even after merging across
// layers.
type scopedRule struct {
	policy Policy
	rule   Rule
}

// Validate checks context against every policy attached to target's
// ancestor layers (Company first) and to target itself, applying each
// layer's merge strategy to the rule set inherited from its ancestors.
//
// A Block-severity violation of a Mandatory policy sets IsValid to false;
// every other violation is reported but does not block.
func (e *Engine) Validate(target knowledge.Layer, context map[string]any) ValidationResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	layers := append(target.Ancestors(), target)

	var effective []scopedRule
	for _, layer := range layers {
		for _, policy := range e.policies[layer] {
			switch policy.MergeStrategy {
			case MergeStrategyOverride:
				effective = scopedRulesFor(policy)
			case MergeStrategyUnion:
				effective = unionScopedRules(effective, policy)
			default: // MergeStrategyMerge and unset default to augment.
				effective = append(effective, scopedRulesFor(policy)...)
			}
		}
	}

	result := ValidationResult{IsValid: true}
	for _, sr := range effective {
		if v, violated := evaluateRule(sr.rule, context); violated {
			v.PolicyID = sr.policy.ID
			result.Violations = append(result.Violations, v)
			if sr.policy.Mode == ModeMandatory && sr.rule.Severity == SeverityBlock {
				result.IsValid = false
			}
		}
	}
	return result
}

func scopedRulesFor(policy Policy) []scopedRule {
	out := make([]scopedRule, 0, len(policy.Rules))
	for _, r := range policy.Rules {
		out = append(out, scopedRule{policy: policy, rule: r})
	}
	return out
}

func unionScopedRules(inherited []scopedRule, policy Policy) []scopedRule {
	seen := make(map[string]bool, len(inherited))
	for _, sr := range inherited {
		seen[sr.rule.ID] = true
	}
	out := inherited
	for _, r := range policy.Rules {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, scopedRule{policy: policy, rule: r})
	}
	return out
}

// evaluateRule checks rule against context, returning the violation to
// report (with Message/Target/Severity populated, PolicyID left for the
// caller to fill in) and whether the rule was violated.
func evaluateRule(rule Rule, context map[string]any) (Violation, bool) {
	violated := !satisfies(rule, context)
	if !violated {
		return Violation{}, false
	}
	return Violation{
		RuleID:   rule.ID,
		Target:   rule.Target,
		Severity: rule.Severity,
		Message:  rule.Message,
	}, true
}

func contextKeyFor(target Target) string {
	switch target {
	case TargetFile:
		return "path"
	case TargetCode:
		return "content"
	case TargetDependency:
		return "dependencies"
	case TargetImport:
		return "imports"
	case TargetConfig:
		return "config"
	default:
		return string(target)
	}
}

// satisfies reports whether rule's constraint holds against context. It
// returns true (no violation) whenever the check passes.
func satisfies(rule Rule, context map[string]any) bool {
	key := contextKeyFor(rule.Target)
	value, present := context[key]

	switch rule.Operator {
	case OperatorMustExist:
		return present && !isEmpty(value)
	case OperatorMustNotExist:
		return !present || isEmpty(value)
	case OperatorMustUse:
		return present && containsLiteral(value, rule.Value)
	case OperatorMustNotUse:
		return !present || !containsLiteral(value, rule.Value)
	case OperatorMustMatch:
		return present && matchesPattern(value, rule.Value)
	case OperatorMustNotMatch:
		return !present || !matchesPattern(value, rule.Value)
	default:
		// An unrecognized operator can neither pass nor fail meaningfully;
		// treat it as satisfied rather than blocking on an unknown check.
		return true
	}
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	default:
		return false
	}
}

// containsLiteral reports whether want (a string literal) appears in value:
// as a list element for []any values, or as a substring for strings.
func containsLiteral(value, want any) bool {
	literal := fmt.Sprintf("%v", want)
	switch x := value.(type) {
	case []any:
		for _, item := range x {
			if fmt.Sprintf("%v", item) == literal {
				return true
			}
		}
		return false
	case string:
		return strings.Contains(x, literal)
	default:
		return false
	}
}

// matchesPattern treats want as a regular expression and reports whether it
// matches value (a string, or the concatenation of a []any's elements).
func matchesPattern(value, want any) bool {
	pattern, ok := want.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	switch x := value.(type) {
	case string:
		return re.MatchString(x)
	case []any:
		for _, item := range x {
			if re.MatchString(fmt.Sprintf("%v", item)) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
