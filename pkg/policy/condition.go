// Package policy implements the deterministic rule evaluator described in
// a closed, eleven-operator condition algebra and a
// specificity lattice over matching rules with a fail-secure default.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator is the closed set of condition operators. There is no escape
// hatch: an unrecognized operator name is rejected by Validate and, if one
// somehow reaches Evaluate at runtime, evaluates to false.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "notEquals"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpContains   Operator = "contains"
	OpGT         Operator = "gt"
	OpLT         Operator = "lt"
	OpGTE        Operator = "gte"
	OpLTE        Operator = "lte"
	OpIn         Operator = "in"
	OpMatches    Operator = "matches"
)

var validOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true, OpStartsWith: true, OpEndsWith: true,
	OpContains: true, OpGT: true, OpLT: true, OpGTE: true, OpLTE: true,
	OpIn: true, OpMatches: true,
}

// OperatorMap is the conjunctive set of operators applied to one parameter.
type OperatorMap map[Operator]any

// Condition maps a parameter name to its conjunctive operator map. The set
// of parameter-level conditions is itself conjunctive across parameter
// names.
type Condition map[string]OperatorMap

// ValidateCondition rejects any operator name outside the closed set.
func ValidateCondition(c Condition) error {
	for param, ops := range c {
		for op := range ops {
			if !validOperators[op] {
				return fmt.Errorf("policy: unknown operator %q on parameter %q", op, param)
			}
		}
	}
	return nil
}

// maxMatchesOperandLen is the ReDoS length guard for the matches operator.
const maxMatchesOperandLen = 200

// EvaluateCondition is the pure condition evaluator. A missing or empty
// condition evaluates to true — the guard against over-broad rules is
// specificity, not emptiness. A non-empty condition with an absent
// parameter map evaluates to false.
func EvaluateCondition(c Condition, params map[string]any) bool {
	if len(c) == 0 {
		return true
	}
	if params == nil {
		return false
	}
	for paramName, ops := range c {
		value, present := params[paramName]
		for op, operand := range ops {
			if !evalOperator(op, operand, value, present) {
				return false
			}
		}
	}
	return true
}

func evalOperator(op Operator, operand, value any, present bool) bool {
	switch op {
	case OpEquals:
		return present && looseEquals(value, operand)
	case OpNotEquals:
		// Fails to false when the parameter is absent — fail-secure, not a
		// vacuous "absent != X is true".
		if !present {
			return false
		}
		return !looseEquals(value, operand)
	case OpStartsWith:
		s, sok := value.(string)
		o, ook := operand.(string)
		return present && sok && ook && strings.HasPrefix(s, o)
	case OpEndsWith:
		s, sok := value.(string)
		o, ook := operand.(string)
		return present && sok && ook && strings.HasSuffix(s, o)
	case OpContains:
		s, sok := value.(string)
		o, ook := operand.(string)
		return present && sok && ook && strings.Contains(s, o)
	case OpGT, OpLT, OpGTE, OpLTE:
		vf, vok := asFloat(value)
		of, ook := asFloat(operand)
		if !present || !vok || !ook {
			return false
		}
		switch op {
		case OpGT:
			return vf > of
		case OpLT:
			return vf < of
		case OpGTE:
			return vf >= of
		default:
			return vf <= of
		}
	case OpIn:
		list, ok := operand.([]any)
		if !present || !ok {
			return false
		}
		for _, item := range list {
			if looseEquals(value, item) {
				return true
			}
		}
		return false
	case OpMatches:
		pattern, pok := operand.(string)
		s, sok := value.(string)
		if !present || !pok || !sok {
			return false
		}
		return matchesRegex(pattern, s)
	default:
		// Unknown operator: fail-secure.
		return false
	}
}

func looseEquals(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && sameKind(a, b)
}

func sameKind(a, b any) bool {
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// matchesRegex applies the matches operator's ReDoS defense: operands over
// maxMatchesOperandLen are rejected, catastrophic-backtracking shapes are
// rejected by static analysis, and a compile failure is swallowed. All
// rejection paths yield false, never a panic or an exception.
func matchesRegex(pattern, s string) bool {
	if len(pattern) > maxMatchesOperandLen {
		return false
	}
	if looksCatastrophic(pattern) {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// catastrophicShapes are regexp fragments known to trigger catastrophic
// backtracking in a backtracking engine: nested unbounded quantifiers over
// the same character class, e.g. (a+)+, (x+x+)+y, (.*)*b, ([a-z]+)*.
var catastrophicShapes = []*regexp.Regexp{
	regexp.MustCompile(`\([^)]*[+*][^)]*\)[+*]`),
	regexp.MustCompile(`\(\.[*+][^)]*\)[*+]`),
}

func looksCatastrophic(pattern string) bool {
	for _, shape := range catastrophicShapes {
		if shape.MatchString(pattern) {
			return true
		}
	}
	return false
}
