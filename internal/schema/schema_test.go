package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hablara/leadscope/internal/recipe"
)

func testFields() []recipe.Field {
	return []recipe.Field{
		{Name: "summary"},
		{Name: "intent", Values: []string{"purchase", "support", "unknown"}, Default: "unknown", Critical: true},
		{Name: "interest", Values: []string{"high", "medium", "low", "none"}, Default: "none", Critical: true},
		{Name: "next_action", Values: []string{"follow_up", "handoff", "none"}},
	}
}

func TestValidateReportsViolations(t *testing.T) {
	m := map[string]string{
		"summary": "fine",
		"intent":  "buying soon", // not in domain
		// interest missing
		"next_action": "follow_up",
	}

	violations := Validate(m, testFields())
	require.Len(t, violations, 2)

	byField := map[string]Violation{}
	for _, v := range violations {
		byField[v.Field] = v
	}
	assert.Equal(t, KindInvalidValue, byField["intent"].Kind)
	assert.Equal(t, KindMissing, byField["interest"].Kind)
}

func TestValidateCleanMapping(t *testing.T) {
	m := map[string]string{
		"summary":     "fine",
		"intent":      "purchase",
		"interest":    "high",
		"next_action": "none",
	}
	assert.Empty(t, Validate(m, testFields()))
}

func TestValidateAndFixFillsMissing(t *testing.T) {
	fixed := ValidateAndFix(map[string]any{"summary": "ok"}, testFields(), recipe.Overrides{}, false)

	assert.Equal(t, "ok", fixed["summary"])
	assert.Equal(t, "unknown", fixed["intent"])
	assert.Equal(t, "none", fixed["interest"])
	// Enum field without a declared default: first allowed value.
	assert.Equal(t, "follow_up", fixed["next_action"])
}

func TestValidateAndFixMissingFreeTextGetsPlaceholder(t *testing.T) {
	fields := []recipe.Field{{Name: "summary"}}
	fixed := ValidateAndFix(map[string]any{}, fields, recipe.Overrides{}, false)
	assert.Equal(t, missingPlaceholder, fixed["summary"])
}

func TestValidateAndFixStripsNoiseBeforeReplacing(t *testing.T) {
	fixed := ValidateAndFix(map[string]any{
		"summary":     "ok",
		"intent":      `"purchase"`,
		"interest":    " high ",
		"next_action": "follow_up",
	}, testFields(), recipe.Overrides{}, false)

	assert.Equal(t, "purchase", fixed["intent"])
	assert.Equal(t, "high", fixed["interest"])
}

func TestValidateAndFixRepairPolicy(t *testing.T) {
	fixed := ValidateAndFix(map[string]any{
		"summary":     "ok",
		"intent":      "definitely buying", // critical: declared default
		"interest":    "extreme",           // critical: declared default
		"next_action": "call them",         // non-critical: first allowed value
	}, testFields(), recipe.Overrides{}, false)

	assert.Equal(t, "unknown", fixed["intent"])
	assert.Equal(t, "none", fixed["interest"])
	assert.Equal(t, "follow_up", fixed["next_action"])
}

func TestValidateAndFixNoInboundOverride(t *testing.T) {
	overrides := recipe.Overrides{NoInbound: map[string]string{
		"intent":   "unknown",
		"interest": "none",
	}}

	fixed := ValidateAndFix(map[string]any{
		"summary":     "bot sent two reminders, no reply",
		"intent":      "purchase",
		"interest":    "high",
		"next_action": "follow_up",
	}, testFields(), overrides, true)

	assert.Equal(t, "unknown", fixed["intent"])
	assert.Equal(t, "none", fixed["interest"])
	assert.Equal(t, "follow_up", fixed["next_action"])
}

func TestValidateAndFixDropsStrayKeys(t *testing.T) {
	fixed := ValidateAndFix(map[string]any{
		"summary": "ok",
		"intent":  "purchase",
		"note":    "model commentary",
	}, testFields(), recipe.Overrides{}, false)

	assert.NotContains(t, fixed, "note")
}

func TestValidateAndFixCoercesNonStrings(t *testing.T) {
	fixed := ValidateAndFix(map[string]any{
		"summary": 42,
		"intent":  "purchase",
	}, testFields(), recipe.Overrides{}, false)

	assert.Equal(t, "42", fixed["summary"])
}

func TestValidateAndFixResultAlwaysValid(t *testing.T) {
	// Garbage in, schema-valid out: every field ends in-domain, critical or
	// not, defaulted or not.
	fixed := ValidateAndFix(map[string]any{
		"intent":      "???",
		"interest":    "",
		"next_action": "whenever",
	}, testFields(), recipe.Overrides{}, false)

	assert.Empty(t, Validate(fixed, testFields()))
	assert.Equal(t, "follow_up", fixed["next_action"])
}
