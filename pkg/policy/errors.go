package policy

import "fmt"

var (
	errPolicyRequired       = fmt.Errorf("policy: policy is required")
	errRuleCountOutOfBounds = fmt.Errorf("policy: rule count must be between 1 and %d", MaxRules)
)

func ruleError(index int, msg string) error {
	return fmt.Errorf("policy: rule %d: %s", index, msg)
}
