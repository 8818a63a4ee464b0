package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_EmptyConditionIsTrue(t *testing.T) {
	assert.True(t, EvaluateCondition(nil, nil))
	assert.True(t, EvaluateCondition(Condition{}, map[string]any{"x": 1}))
}

func TestEvaluate_NonEmptyConditionAbsentParamsIsFalse(t *testing.T) {
	c := Condition{"path": OperatorMap{OpEquals: "x"}}
	assert.False(t, EvaluateCondition(c, nil))
}

func TestEvaluate_Equals(t *testing.T) {
	c := Condition{"env": OperatorMap{OpEquals: "prod"}}
	assert.True(t, EvaluateCondition(c, map[string]any{"env": "prod"}))
	assert.False(t, EvaluateCondition(c, map[string]any{"env": "staging"}))
}

func TestEvaluate_NotEqualsFailsSecureOnAbsentParam(t *testing.T) {
	c := Condition{"env": OperatorMap{OpNotEquals: "prod"}}
	assert.False(t, EvaluateCondition(c, map[string]any{}))
	assert.True(t, EvaluateCondition(c, map[string]any{"env": "staging"}))
}

func TestEvaluate_StringPredicates(t *testing.T) {
	assert.True(t, EvaluateCondition(Condition{"path": OperatorMap{OpStartsWith: "/etc/"}}, map[string]any{"path": "/etc/passwd"}))
	assert.False(t, EvaluateCondition(Condition{"path": OperatorMap{OpStartsWith: "/etc/"}}, map[string]any{"path": "/tmp/x"}))
	assert.True(t, EvaluateCondition(Condition{"name": OperatorMap{OpEndsWith: ".go"}}, map[string]any{"name": "main.go"}))
	assert.True(t, EvaluateCondition(Condition{"msg": OperatorMap{OpContains: "error"}}, map[string]any{"msg": "an error occurred"}))
}

func TestEvaluate_StringPredicatesFailOnNonString(t *testing.T) {
	assert.False(t, EvaluateCondition(Condition{"path": OperatorMap{OpStartsWith: "/etc/"}}, map[string]any{"path": 42}))
	assert.False(t, EvaluateCondition(Condition{"path": OperatorMap{OpStartsWith: 5}}, map[string]any{"path": "/etc/x"}))
}

func TestEvaluate_NumericComparisons(t *testing.T) {
	c := Condition{"size": OperatorMap{OpGT: float64(10)}}
	assert.True(t, EvaluateCondition(c, map[string]any{"size": float64(20)}))
	assert.False(t, EvaluateCondition(c, map[string]any{"size": float64(5)}))
	assert.False(t, EvaluateCondition(c, map[string]any{"size": "not a number"}))
}

func TestEvaluate_In(t *testing.T) {
	c := Condition{"region": OperatorMap{OpIn: []any{"us", "eu"}}}
	assert.True(t, EvaluateCondition(c, map[string]any{"region": "us"}))
	assert.False(t, EvaluateCondition(c, map[string]any{"region": "ap"}))
	assert.False(t, EvaluateCondition(Condition{"region": OperatorMap{OpIn: "us"}}, map[string]any{"region": "us"}))
}

func TestEvaluate_Matches(t *testing.T) {
	c := Condition{"path": OperatorMap{OpMatches: `^/tmp/.*\.txt$`}}
	assert.True(t, EvaluateCondition(c, map[string]any{"path": "/tmp/a.txt"}))
	assert.False(t, EvaluateCondition(c, map[string]any{"path": "/etc/a.txt"}))
}

func TestEvaluate_MatchesRejectsLongOperand(t *testing.T) {
	long := make([]byte, maxMatchesOperandLen+1)
	for i := range long {
		long[i] = 'a'
	}
	c := Condition{"s": OperatorMap{OpMatches: string(long)}}
	assert.False(t, EvaluateCondition(c, map[string]any{"s": "aaa"}))
}

func TestEvaluate_MatchesRejectsCatastrophicShapes(t *testing.T) {
	for _, pattern := range []string{`(a+)+`, `(x+x+)+y`, `(.*)*b`, `([a-z]+)*`} {
		c := Condition{"s": OperatorMap{OpMatches: pattern}}
		assert.False(t, EvaluateCondition(c, map[string]any{"s": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa!"}), pattern)
	}
}

func TestEvaluate_MatchesRejectsInvalidRegex(t *testing.T) {
	c := Condition{"s": OperatorMap{OpMatches: `(unterminated`}}
	assert.False(t, EvaluateCondition(c, map[string]any{"s": "x"}))
}

func TestEvaluate_UnknownOperatorFailsSecure(t *testing.T) {
	c := Condition{"s": OperatorMap{Operator("bogus"): "x"}}
	assert.False(t, EvaluateCondition(c, map[string]any{"s": "x"}))
}

func TestEvaluate_ConjunctiveAcrossOperatorsAndParameters(t *testing.T) {
	c := Condition{
		"path": OperatorMap{OpStartsWith: "/tmp/", OpEndsWith: ".txt"},
		"size": OperatorMap{OpLT: float64(100)},
	}
	assert.True(t, EvaluateCondition(c, map[string]any{"path": "/tmp/a.txt", "size": float64(10)}))
	assert.False(t, EvaluateCondition(c, map[string]any{"path": "/tmp/a.txt", "size": float64(1000)}))
	assert.False(t, EvaluateCondition(c, map[string]any{"path": "/tmp/a.csv", "size": float64(10)}))
}

func TestValidateCondition_RejectsUnknownOperator(t *testing.T) {
	c := Condition{"s": OperatorMap{Operator("bogus"): "x"}}
	assert.Error(t, ValidateCondition(c))
}
