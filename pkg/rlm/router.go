package rlm

import "regexp"

// keywordPatterns are the ten complexity-signal keywords (§4.K.1),
// ported directly from the original router's regex list.
var keywordPatterns = compileAll(
	`(?i)\bcompare\b`,
	`(?i)\bdifference\b`,
	`(?i)\btrends?\b`,
	`(?i)\bevolution\b`,
	`(?i)\bhistory\b`,
	`(?i)\bsummarize\b`,
	`(?i)\baggregate\b`,
	`(?i)\bimpact\b`,
	`(?i)\brelationship\b`,
	`(?i)\bsequence\b`,
)

var multiHopPatterns = compileAll(
	`(?i)\bthen\b`,
	`(?i)\bafter\b`,
	`(?i)\bfollowed by\b`,
	`(?i)\bcaused\b`,
	`(?i)\bleading to\b`,
)

var temporalPatterns = compileAll(
	`(?i)\blast week\b`,
	`(?i)\byesterday\b`,
	`(?i)\bsince\b`,
	`(?i)\bbefore\b`,
	`(?i)\bperiod\b`,
)

var aggregatePatterns = compileAll(
	`(?i)\ball\b`,
	`(?i)\bevery\b`,
	`(?i)\btotal\b`,
	`(?i)\baverage\b`,
	`(?i)\bcount\b`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func countMatches(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

func anyMatches(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ExtractSignals computes the raw complexity signals for text (§4.K.1).
func ExtractSignals(text string) ComplexitySignals {
	return ComplexitySignals{
		QueryLength:         len(text),
		KeywordDensity:      float64(countMatches(keywordPatterns, text)) / float64(len(keywordPatterns)),
		MultiHopIndicators:  countMatches(multiHopPatterns, text),
		TemporalConstraints: anyMatches(temporalPatterns, text),
		AggregateOperators:  anyMatches(aggregatePatterns, text),
	}
}

// ComputeComplexity scores text in [0, 1] (§4.K.1): 20% normalized length
// (capped at 200 chars), 40% keyword density, 20% multi-hop indicators
// (capped at 3), plus a flat 10% each for temporal and aggregate signals.
func ComputeComplexity(text string) float64 {
	signals := ExtractSignals(text)

	score := min1(float64(signals.QueryLength)/200.0) * 0.2
	score += signals.KeywordDensity * 0.4
	score += min1(float64(signals.MultiHopIndicators)/3.0) * 0.2
	if signals.TemporalConstraints {
		score += 0.1
	}
	if signals.AggregateOperators {
		score += 0.1
	}

	return min1(score)
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// ShouldRoute reports whether text should be handed to the [Executor]
// rather than answered with a single flat [memory.Engine.HierarchicalSearch]
// call (§4.K.1).
func ShouldRoute(text string, cfg Config) bool {
	if !cfg.Enabled {
		return false
	}
	return ComputeComplexity(text) >= cfg.ComplexityThreshold
}
