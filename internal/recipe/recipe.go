// Package recipe loads and validates the analysis recipe: which processors
// run, the expected-field schema for model output, the prompt template, and
// the concurrency/override knobs. A Recipe is read-only after Load: callers
// pass it down the call chain by pointer and never mutate it.
package recipe

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ProcessorSpec enables one processor by registry name, with free-form options.
type ProcessorSpec struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options,omitempty"`
}

// Field declares one expected key in the model's structured output.
// Values, when non-empty, is the closed enum domain for the field.
// Critical fields are repaired to Default; non-critical enum fields fall back
// to the first allowed value.
type Field struct {
	Name     string   `yaml:"name"`
	Values   []string `yaml:"values,omitempty"`
	Default  string   `yaml:"default"`
	Critical bool     `yaml:"critical,omitempty"`
}

// Models names the primary and fallback generative models.
type Models struct {
	Primary  string `yaml:"primary"`
	Fallback string `yaml:"fallback,omitempty"`
}

// Concurrency holds the worker-pool knobs. Workers == 0 means auto
// (NumCPU clamped to [4, 32]).
type Concurrency struct {
	Workers          int `yaml:"workers,omitempty"`
	SlotTimeoutSecs  int `yaml:"slot_timeout_seconds,omitempty"`
	SlotRetries      int `yaml:"slot_retries,omitempty"`
	SlotRetryDelayMS int `yaml:"slot_retry_delay_ms,omitempty"`
}

// Overrides holds structurally-determined field overrides. NoInbound is
// applied when the metadata processor reports zero inbound messages: the
// model cannot be trusted to recognize that case, so the listed fields are
// forced to fixed values regardless of what it produced.
type Overrides struct {
	NoInbound map[string]string `yaml:"no_inbound,omitempty"`
}

// Recipe is the full analysis configuration.
type Recipe struct {
	Models       Models          `yaml:"models"`
	Processors   []ProcessorSpec `yaml:"processors"`
	Prompt       string          `yaml:"prompt"`
	StrictSuffix string          `yaml:"strict_suffix,omitempty"`
	Fields       []Field         `yaml:"fields"`
	Overrides    Overrides       `yaml:"overrides,omitempty"`
	Concurrency  Concurrency     `yaml:"concurrency,omitempty"`
}

// Default returns the built-in recipe: all processors enabled, the standard
// lead-qualification schema, and the stock prompt.
func Default() *Recipe {
	return &Recipe{
		Models: Models{
			Primary:  "gemini-2.0-flash",
			Fallback: "gemini-1.5-flash",
		},
		Processors: []ProcessorSpec{
			{Name: "temporal", Options: map[string]any{"reactivation_days": 30}},
			{Name: "metadata"},
			{Name: "validation"},
			{Name: "handoff"},
			{Name: "transfer"},
			{Name: "template"},
			{Name: "state"},
		},
		Prompt:       defaultPrompt,
		StrictSuffix: defaultStrictSuffix,
		Fields: []Field{
			{Name: "summary", Default: "(no summary)"},
			{Name: "intent", Values: []string{"purchase", "inquiry", "support", "unsubscribe", "unknown"}, Default: "unknown", Critical: true},
			{Name: "interest", Values: []string{"hot", "warm", "cold", "none"}, Default: "none", Critical: true},
			{Name: "next_action", Values: []string{"follow_up", "handoff", "close", "none"}, Default: "none"},
		},
		Overrides: Overrides{
			NoInbound: map[string]string{
				"intent":   "unknown",
				"interest": "none",
			},
		},
	}
}

const defaultPrompt = `You are a sales-operations analyst reviewing a WhatsApp conversation
between an automated assistant and a lead.

Current time: {now}

Conversation state computed by deterministic rules:
- last message sender: {last_sender}
- days since last message: {days_since_last_message}
- handoff stage: {handoff_stage}
- conversation state: {conversation_state}

Conversation:
{conversation}

Answer with one line per field, in the form "field: value", for exactly these
fields: summary, intent, interest, next_action.`

const defaultStrictSuffix = `

IMPORTANT: respond ONLY with plain "field: value" lines. No markdown, no code
fences, no commentary, no nested structure.`

// Load reads a recipe from a YAML file. A missing Prompt or empty Fields is a
// configuration error: the recipe is the contract for the whole run and a
// defective one fails fast before any lead work begins.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}

	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse recipe: %w", err)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks internal consistency: models named, fields declared with
// in-domain defaults, override targets declared, no duplicate fields.
func (r *Recipe) Validate() error {
	if r.Models.Primary == "" {
		return fmt.Errorf("recipe: models.primary is required")
	}
	if r.Prompt == "" {
		return fmt.Errorf("recipe: prompt is required")
	}
	if len(r.Fields) == 0 {
		return fmt.Errorf("recipe: at least one field is required")
	}

	seen := map[string]bool{}
	for _, f := range r.Fields {
		if f.Name == "" {
			return fmt.Errorf("recipe: field with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("recipe: duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if len(f.Values) > 0 && f.Default != "" && !contains(f.Values, f.Default) {
			return fmt.Errorf("recipe: field %q default %q not in enum %v", f.Name, f.Default, f.Values)
		}
	}

	for name, val := range r.Overrides.NoInbound {
		f := r.FieldByName(name)
		if f == nil {
			return fmt.Errorf("recipe: overrides.no_inbound references undeclared field %q", name)
		}
		if len(f.Values) > 0 && !contains(f.Values, val) {
			return fmt.Errorf("recipe: overrides.no_inbound value %q not in enum for field %q", val, name)
		}
	}

	return nil
}

// FieldByName returns the declared field, or nil.
func (r *Recipe) FieldByName(name string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// FieldNames returns declared field names in declaration order.
func (r *Recipe) FieldNames() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

var placeholderRe = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

// PromptVars returns the distinct placeholder names referenced by the prompt
// template, in order of first appearance.
func (r *Recipe) PromptVars() []string {
	var vars []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(r.Prompt, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	return vars
}

// CheckPromptVars verifies every placeholder in the prompt is a known
// variable. Known is the union of built-in variables (conversation, now,
// today) and the output keys of the enabled processors. An unknown
// placeholder is a setup defect, reported immediately and never retried.
func (r *Recipe) CheckPromptVars(known map[string]bool) error {
	for _, v := range r.PromptVars() {
		if !known[v] {
			return fmt.Errorf("recipe: prompt references unknown variable {%s}", v)
		}
	}
	return nil
}

// RenderPrompt expands {name} placeholders from vars. Every placeholder must
// resolve; CheckPromptVars at startup makes a miss here unreachable unless
// a processor failed to produce a declared key, in which case the placeholder
// expands to the empty string.
func (r *Recipe) RenderPrompt(vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(r.Prompt, func(m string) string {
		return vars[m[1:len(m)-1]]
	})
}

// SlotTimeout returns the configured slot-acquisition timeout (default 30s).
func (c Concurrency) SlotTimeout() time.Duration {
	if c.SlotTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SlotTimeoutSecs) * time.Second
}

// SlotRetryDelay returns the fixed delay between slot attempts (default 2s).
func (c Concurrency) SlotRetryDelay() time.Duration {
	if c.SlotRetryDelayMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.SlotRetryDelayMS) * time.Millisecond
}

// SlotAttempts returns the bounded number of slot-acquisition attempts.
func (c Concurrency) SlotAttempts() int {
	if c.SlotRetries <= 0 {
		return 3
	}
	return c.SlotRetries
}

func contains(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
