package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateEmptyListPasses(t *testing.T) {
	assert.True(t, Evaluate(nil, nil))
	assert.True(t, Evaluate([]Condition{}, MapLookup{"a": "b"}))
}

func TestEvaluateOneOperators(t *testing.T) {
	ctx := MapLookup{
		"message": "Oi, Bom Dia",
		"count":   float64(3),
		"contact": map[string]any{"name": "Ana"},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals is case insensitive", Condition{"contact.name", OpEquals, "ANA"}, true},
		{"equals mismatch", Condition{"contact.name", OpEquals, "bia"}, false},
		{"not equals", Condition{"contact.name", OpNotEquals, "bia"}, true},
		{"contains", Condition{"message", OpContains, "bom"}, true},
		{"not contains", Condition{"message", OpNotContains, "tarde"}, true},
		{"starts with", Condition{"message", OpStartsWith, "oi"}, true},
		{"ends with", Condition{"message", OpEndsWith, "dia"}, true},
		{"number stringified", Condition{"count", OpEquals, 3}, true},
		{"is not empty", Condition{"message", OpIsNotEmpty, nil}, true},
		{"is empty on present field", Condition{"message", OpIsEmpty, nil}, false},
		{"unknown operator", Condition{"message", Operator("regex"), ".*"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateOne(tt.cond, ctx))
		})
	}
}

func TestEvaluateUnknownFieldIsPermissive(t *testing.T) {
	ctx := MapLookup{}

	tests := []struct {
		op   Operator
		want bool
	}{
		{OpIsEmpty, true},
		{OpIsNotEmpty, false},
		{OpEquals, false},
		{OpContains, false},
		{OpStartsWith, false},
		{OpEndsWith, false},
		{OpNotEquals, true},
		{OpNotContains, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateOne(Condition{Field: "missing", Operator: tt.op, Value: "x"}, ctx))
		})
	}
}

func TestEvaluateIsConjunction(t *testing.T) {
	ctx := MapLookup{"a": "1", "b": "2"}
	assert.True(t, Evaluate([]Condition{{"a", OpEquals, "1"}, {"b", OpEquals, "2"}}, ctx))
	assert.False(t, Evaluate([]Condition{{"a", OpEquals, "1"}, {"b", OpEquals, "3"}}, ctx))
}

func TestParseConditions(t *testing.T) {
	conds, err := ParseConditions(`[{"field":"message","operator":"contains","value":"oi"}]`)
	require.NoError(t, err)
	require.Len(t, conds, 1)
	assert.Equal(t, OpContains, conds[0].Operator)

	conds, err = ParseConditions("")
	require.NoError(t, err)
	assert.Empty(t, conds)

	_, err = ParseConditions(`[{"field":"message","operator":"matches"}]`)
	require.Error(t, err)
}

func TestValidateAutomationConditions(t *testing.T) {
	require.NoError(t, ValidateAutomationConditions(nil))
	for _, op := range AutomationOperators {
		assert.NoError(t, ValidateAutomationConditions([]Condition{{Field: "message", Operator: op}}), op)
	}
	for _, op := range []Operator{OpStartsWith, OpEndsWith} {
		err := ValidateAutomationConditions([]Condition{{Field: "message", Operator: op, Value: "a"}})
		assert.ErrorContains(t, err, "flow edges", op)
	}
	assert.Error(t, ValidateAutomationConditions([]Condition{{Operator: OpEquals}}))
}

func TestParseCondition(t *testing.T) {
	c, err := ParseCondition("")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = ParseCondition(`{"field":"_lastUserMessage","operator":"equals","value":"sim"}`)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "_lastUserMessage", c.Field)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "3", Stringify(float64(3)))
	assert.Equal(t, "2.5", Stringify(2.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}
