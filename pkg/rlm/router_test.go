package rlm_test

import (
	"testing"

	"github.com/loomctx/loomctx/pkg/rlm"
)

func TestComputeComplexityLowForSimpleQuery(t *testing.T) {
	score := rlm.ComputeComplexity("how to login")
	if score >= 0.3 {
		t.Fatalf("expected a low complexity score for a simple query, got %f", score)
	}
}

func TestComputeComplexityHighForMultiSignalQuery(t *testing.T) {
	query := "compare the evolution of auth patterns between last week and today and summarize the impact"
	score := rlm.ComputeComplexity(query)
	if score < 0.3 {
		t.Fatalf("expected a high complexity score, got %f", score)
	}
	if !rlm.ShouldRoute(query, rlm.DefaultConfig()) {
		t.Fatal("expected the query to route to the RLM executor")
	}
}

func TestShouldRouteFalseWhenDisabled(t *testing.T) {
	query := "compare the evolution of auth patterns between last week and today and summarize the impact"
	cfg := rlm.DefaultConfig()
	cfg.Enabled = false
	if rlm.ShouldRoute(query, cfg) {
		t.Fatal("expected ShouldRoute to be false when the config disables RLM")
	}
}

func TestComputeComplexityClampsToOne(t *testing.T) {
	query := "compare difference trends evolution history summarize aggregate impact relationship sequence " +
		"then after followed by caused leading to last week yesterday since before period all every total average count " +
		"compare difference trends evolution history summarize aggregate impact relationship sequence"
	score := rlm.ComputeComplexity(query)
	if score > 1.0 {
		t.Fatalf("expected score to be clamped to 1.0, got %f", score)
	}
}

func TestExtractSignalsCountsKeywordDensity(t *testing.T) {
	signals := rlm.ExtractSignals("compare the difference between these two")
	if signals.KeywordDensity <= 0 {
		t.Fatalf("expected a positive keyword density, got %f", signals.KeywordDensity)
	}
	if signals.AggregateOperators {
		t.Fatal("expected no aggregate operators in this query")
	}
}

func TestExtractSignalsDetectsTemporalAndAggregate(t *testing.T) {
	signals := rlm.ExtractSignals("count every record since yesterday")
	if !signals.TemporalConstraints {
		t.Fatal("expected temporal constraints to be detected")
	}
	if !signals.AggregateOperators {
		t.Fatal("expected aggregate operators to be detected")
	}
}
