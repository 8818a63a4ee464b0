package policy

import "sort"

// Request is the input to one engine evaluation.
type Request struct {
	AgentID    string
	Tool       string
	Parameters map[string]any
	TraceID    string
}

// AppliedRule records one rule that matched, in the order it was considered
// for tie-breaking. The first entry is the winner.
type AppliedRule struct {
	Rule        Rule
	Specificity int
}

// Decision is the engine's pure output.
type Decision struct {
	Allowed      bool
	TraceID      string
	Reason       string
	AppliedRules []AppliedRule
}

// Evaluate is the deterministic rule evaluator. Same input
// (policy, request) always produces the same (allowed, reason, appliedRules)
// output. The allow/deny outcome does not depend on the rule array's input
// order; among matching rules equal in both specificity and effect, input
// order decides which comes first, and so whose reason is reported.
//
// It never panics: any exception-equivalent (malformed rules list) is
// converted to a deny with a reason, per the fail-secure floor.
func Evaluate(p *Policy, req Request) (dec Decision) {
	dec = Decision{TraceID: req.TraceID, Allowed: false}

	defer func() {
		if r := recover(); r != nil {
			dec.Allowed = false
			dec.Reason = "evaluation failed"
			dec.AppliedRules = nil
		}
	}()

	if p == nil {
		dec.Reason = "no policy"
		return dec
	}

	var matches []AppliedRule
	for _, rule := range p.Rules {
		specificity, ok := matchRule(rule, req)
		if !ok {
			continue
		}
		matches = append(matches, AppliedRule{Rule: rule, Specificity: specificity})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Specificity != matches[j].Specificity {
			return matches[i].Specificity > matches[j].Specificity
		}
		// Tie-break: deny before allow — the fail-secure choice wins.
		if matches[i].Rule.Effect != matches[j].Rule.Effect {
			return matches[i].Rule.Effect == EffectDeny
		}
		return false
	})

	dec.AppliedRules = matches

	if len(matches) == 0 {
		dec.Reason = "no rule matched tool " + req.Tool + " in policy " + p.Name
		return dec
	}

	winner := matches[0].Rule
	dec.Allowed = winner.Effect == EffectAllow
	dec.Reason = winner.Reason
	return dec
}

// matchRule reports whether rule matches req and, if so, its specificity.
func matchRule(rule Rule, req Request) (specificity int, matched bool) {
	exact := rule.ToolPattern == req.Tool
	wildcard := rule.ToolPattern == WildcardTool
	if !exact && !wildcard {
		return 0, false
	}
	if !EvaluateCondition(rule.Condition, req.Parameters) {
		return 0, false
	}

	switch {
	case exact && hasEffectiveCondition(rule.Condition):
		return 2, true
	case exact:
		return 1, true
	default: // wildcard
		return 0, true
	}
}

func hasEffectiveCondition(c Condition) bool {
	for _, ops := range c {
		if len(ops) > 0 {
			return true
		}
	}
	return false
}
