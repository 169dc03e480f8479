// Package governance implements the layered policy engine that guards
// writes into the knowledge repository: every knowledge layer may carry
// policies inherited from its ancestors, and a write is validated against
// the accumulated rule set before it is allowed to land.
package governance

import "github.com/loomctx/loomctx/pkg/knowledge"

// Mode determines whether a policy's Block-severity violations actually
// fail validation.
type Mode string

const (
	// ModeMandatory means a Block-severity violation of this policy forces
	// ValidationResult.IsValid to false.
	ModeMandatory Mode = "mandatory"
	// ModeAdvisory means violations of this policy are always reported but
	// never block.
	ModeAdvisory Mode = "advisory"
)

// MergeStrategy determines how a layer's own policy combines with the rule
// set inherited from its ancestor layers.
type MergeStrategy string

const (
	// MergeStrategyMerge appends this policy's rules to the inherited set.
	MergeStrategyMerge MergeStrategy = "merge"
	// MergeStrategyOverride replaces the inherited set entirely with this
	// policy's own rules.
	MergeStrategyOverride MergeStrategy = "override"
	// MergeStrategyUnion appends this policy's rules to the inherited set,
	// dropping any rule whose ID duplicates one already present.
	MergeStrategyUnion MergeStrategy = "union"
)

// RuleType distinguishes an allow-list rule from a deny-list rule. Combined
// with Operator, it reads naturally: "must use" + Allow, "must not use" +
// Deny, and so on.
type RuleType string

const (
	RuleTypeAllow RuleType = "allow"
	RuleTypeDeny  RuleType = "deny"
)

// Target names the kind of subject a rule inspects.
type Target string

const (
	TargetFile       Target = "file"
	TargetCode       Target = "code"
	TargetDependency Target = "dependency"
	TargetImport     Target = "import"
	TargetConfig     Target = "config"
)

// Operator is the check a rule performs against its Target's value.
type Operator string

const (
	OperatorMustUse       Operator = "must_use"
	OperatorMustNotUse     Operator = "must_not_use"
	OperatorMustMatch      Operator = "must_match"
	OperatorMustNotMatch   Operator = "must_not_match"
	OperatorMustExist      Operator = "must_exist"
	OperatorMustNotExist   Operator = "must_not_exist"
)

// Severity ranks how serious a rule's violation is.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityBlock Severity = "block"
)

// Rule is a single constraint checked against a validation context.
type Rule struct {
	ID       string
	RuleType RuleType
	Target   Target
	Operator Operator
	// Value is the operand: a literal for MustUse/MustNotUse, a regular
	// expression pattern for MustMatch/MustNotMatch, unused for
	// MustExist/MustNotExist.
	Value    any
	Severity Severity
	Message  string
}

// Policy attaches a set of rules to a knowledge layer.
type Policy struct {
	ID            string
	Name          string
	Description   string
	Layer         knowledge.Layer
	Mode          Mode
	MergeStrategy MergeStrategy
	Rules         []Rule
	Metadata      map[string]any
}

// Violation records a single rule failure.
type Violation struct {
	PolicyID string
	RuleID   string
	Target   Target
	Severity Severity
	Message  string
}

// ValidationResult is the outcome of validating a context against the
// policies that apply to a layer.
type ValidationResult struct {
	IsValid    bool
	Violations []Violation
}
