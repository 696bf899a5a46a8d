// Package schema enforces the expected-key and enumerated-value contract on
// parsed model output. Validation never fails a lead: violations are repaired
// deterministically and the result always converges to a schema-valid
// mapping.
package schema

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hablara/leadscope/internal/recipe"
)

// Violation kinds.
const (
	KindMissing      = "missing"
	KindInvalidValue = "invalid_value"
)

// Violation describes one schema check failure.
type Violation struct {
	Field  string
	Kind   string
	Detail string
}

// missingPlaceholder is the fill for absent free-text fields with no declared
// default.
const missingPlaceholder = "(missing)"

// Validate checks that every declared field is present and that enumerated
// fields hold a value from their domain. Returns the violations found.
func Validate(m map[string]string, fields []recipe.Field) []Violation {
	var out []Violation
	for _, f := range fields {
		val, ok := m[f.Name]
		if !ok || val == "" {
			out = append(out, Violation{Field: f.Name, Kind: KindMissing})
			continue
		}
		if len(f.Values) > 0 && !inDomain(f.Values, val) {
			out = append(out, Violation{
				Field:  f.Name,
				Kind:   KindInvalidValue,
				Detail: fmt.Sprintf("%q not in %v", val, f.Values),
			})
		}
	}
	return out
}

// ValidateAndFix repairs a parsed mapping against the declared fields and
// returns a mapping that is guaranteed schema-valid. Repair policy:
//
//   - missing fields are filled with the declared default, else the first
//     allowed value for enum fields, else a placeholder;
//   - invalid enum values are first stripped of quote/whitespace noise and
//     re-checked, then replaced: critical fields get the declared default,
//     the rest get the first allowed value;
//   - when noInbound is set, the override fields are forced to their fixed
//     values regardless of what the model produced;
//   - a final re-validation hard-sets any field that still fails.
//
// Only declared fields appear in the result; stray keys are dropped.
func ValidateAndFix(parsed map[string]any, fields []recipe.Field, overrides recipe.Overrides, noInbound bool) map[string]string {
	log := logrus.WithField("component", "schema")

	m := coerce(parsed, fields)

	for _, v := range Validate(m, fields) {
		f := fieldByName(fields, v.Field)
		switch v.Kind {
		case KindMissing:
			m[f.Name] = defaultFor(f)
		case KindInvalidValue:
			cleaned := stripNoise(m[f.Name])
			if inDomain(f.Values, cleaned) {
				m[f.Name] = cleaned
				continue
			}
			log.WithFields(logrus.Fields{"field": f.Name, "value": m[f.Name]}).
				Debug("repairing out-of-domain value")
			if f.Critical {
				m[f.Name] = defaultFor(f)
			} else {
				m[f.Name] = f.Values[0]
			}
		}
	}

	if noInbound {
		for name, forced := range overrides.NoInbound {
			m[name] = forced
		}
	}

	// Final pass: the result must be schema-valid no matter what.
	for _, v := range Validate(m, fields) {
		f := fieldByName(fields, v.Field)
		m[f.Name] = defaultFor(f)
	}

	return m
}

// coerce renders declared fields from the parsed mapping as strings.
func coerce(parsed map[string]any, fields []recipe.Field) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		raw, ok := parsed[f.Name]
		if !ok || raw == nil {
			continue
		}
		m[f.Name] = strings.TrimSpace(fmt.Sprintf("%v", raw))
	}
	return m
}

func stripNoise(val string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(val), `"'`))
}

// defaultFor is the repair value for a field: the declared default, else the
// first allowed value for enum fields, else the placeholder.
func defaultFor(f *recipe.Field) string {
	if f.Default != "" {
		return f.Default
	}
	if len(f.Values) > 0 {
		return f.Values[0]
	}
	return missingPlaceholder
}

func fieldByName(fields []recipe.Field, name string) *recipe.Field {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i]
		}
	}
	return nil
}

func inDomain(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
