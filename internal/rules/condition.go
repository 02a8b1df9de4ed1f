// Package rules holds the condition evaluator shared by automations and flow edges,
// together with the context lookups and placeholder interpolation both engines use.
package rules

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Operator is a comparison applied between a resolved field and a literal.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
)

// AutomationOperators is the subset accepted in automation condition lists.
// Flow edges take every operator.
var AutomationOperators = []Operator{OpEquals, OpNotEquals, OpContains, OpNotContains, OpIsEmpty, OpIsNotEmpty}

// ValidateAutomationConditions rejects conditions an automation may not use.
func ValidateAutomationConditions(conds []Condition) error {
	for _, c := range conds {
		if err := c.Validate(); err != nil {
			return err
		}
		if !slices.Contains(AutomationOperators, c.Operator) {
			return fmt.Errorf("operator %q is only available on flow edges", c.Operator)
		}
	}
	return nil
}

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpIsEmpty, OpIsNotEmpty, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// Condition compares one context field against a literal.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate checks the operator is known and a field is named.
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("condition field is required")
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("unknown condition operator %q", c.Operator)
	}
	return nil
}

// Evaluate AND-s every condition against lookup. An empty list passes.
func Evaluate(conditions []Condition, lookup Lookup) bool {
	for _, cond := range conditions {
		if !EvaluateOne(cond, lookup) {
			return false
		}
	}
	return true
}

// EvaluateOne resolves the field and applies the operator case-insensitively.
// Unknown fields resolve to "".
func EvaluateOne(cond Condition, lookup Lookup) bool {
	actual := ""
	if lookup != nil {
		if v, ok := lookup.Lookup(cond.Field); ok {
			actual = Stringify(v)
		}
	}
	actual = strings.ToLower(strings.TrimSpace(actual))
	expected := strings.ToLower(strings.TrimSpace(Stringify(cond.Value)))

	switch cond.Operator {
	case OpEquals:
		return actual == expected
	case OpNotEquals:
		return actual != expected
	case OpContains:
		return strings.Contains(actual, expected)
	case OpNotContains:
		return !strings.Contains(actual, expected)
	case OpIsEmpty:
		return actual == ""
	case OpIsNotEmpty:
		return actual != ""
	case OpStartsWith:
		return strings.HasPrefix(actual, expected)
	case OpEndsWith:
		return strings.HasSuffix(actual, expected)
	default:
		return false
	}
}

// ParseConditions decodes a stored JSON condition list. Empty input is an empty list.
func ParseConditions(raw string) ([]Condition, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var conditions []Condition
	if err := json.Unmarshal([]byte(raw), &conditions); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	for i, c := range conditions {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return conditions, nil
}

// ParseCondition decodes a single edge branch condition. Empty input means no condition.
func ParseCondition(raw string) (*Condition, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "{}" {
		return nil, nil
	}
	var c Condition
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Stringify renders a context value the way comparisons and templates see it.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}
