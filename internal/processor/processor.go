// Package processor implements the deterministic analysis units that run
// before the model call. Each processor is stateless: it reads the lead, the
// conversation and the results accumulated so far, and returns only the keys
// it adds or updates. The chain merges partial results into the accumulator
// in configured order; a failing processor is isolated behind an error-tagged
// key and never aborts the lead.
package processor

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hablara/leadscope/internal/model"
	"github.com/hablara/leadscope/internal/recipe"
)

// Accumulator is the per-lead, append-only result mapping built up across the
// chain. Keys are set or updated, never removed. It is entity-local: one
// accumulator per lead per run, no cross-lead sharing.
type Accumulator struct {
	values map[string]any
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{values: make(map[string]any)}
}

// Set adds or updates a key.
func (a *Accumulator) Set(key string, v any) {
	a.values[key] = v
}

// Get returns the value for key.
func (a *Accumulator) Get(key string) (any, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Bool returns the key as a bool, false if absent or not a bool.
func (a *Accumulator) Bool(key string) bool {
	b, _ := a.values[key].(bool)
	return b
}

// String returns the key as a string, "" if absent or not a string.
func (a *Accumulator) String(key string) string {
	s, _ := a.values[key].(string)
	return s
}

// Values returns a copy of the accumulated mapping.
func (a *Accumulator) Values() map[string]any {
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// PromptVars renders every accumulated value as a string for prompt template
// expansion.
func (a *Accumulator) PromptVars() map[string]string {
	out := make(map[string]string, len(a.values))
	for k, v := range a.values {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// Processor is the plugin contract: a stateless analysis unit with a declared
// output-key set. Process must not mutate acc directly; it returns the keys
// it contributes and the chain performs the merge. Producing a key outside
// Keys() is a diagnostic warning, not a failure.
type Processor interface {
	Name() string
	Keys() []string
	Process(lead model.Lead, conv *model.Conversation, acc *Accumulator) (map[string]any, error)
}

// Builder constructs a processor from its recipe options.
type Builder func(opts map[string]any) (Processor, error)

// registry is the static name → constructor table. Unknown names are a
// configuration error at chain construction, not a runtime discovery failure.
var registry = map[string]Builder{
	"temporal":   newTemporal,
	"metadata":   newMetadata,
	"validation": newValidation,
	"handoff":    newHandoff,
	"transfer":   newTransfer,
	"template":   newTemplate,
	"state":      newState,
}

// Registered returns the registered processor names, sorted.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain runs processors strictly in configured order.
type Chain struct {
	procs []Processor
	log   *logrus.Entry
}

// NewChain builds the chain from the recipe's processor specs, resolving each
// name against the static registry.
func NewChain(specs []recipe.ProcessorSpec) (*Chain, error) {
	procs := make([]Processor, 0, len(specs))
	for _, spec := range specs {
		build, ok := registry[spec.Name]
		if !ok {
			return nil, fmt.Errorf("processor: unknown processor %q (registered: %v)", spec.Name, Registered())
		}
		p, err := build(spec.Options)
		if err != nil {
			return nil, fmt.Errorf("processor: build %q: %w", spec.Name, err)
		}
		procs = append(procs, p)
	}
	return &Chain{
		procs: procs,
		log:   logrus.WithField("component", "processor"),
	}, nil
}

// Keys returns the union of declared output keys of every processor in the
// chain, in chain order. Used to validate prompt template variables at
// startup.
func (c *Chain) Keys() []string {
	var keys []string
	seen := map[string]bool{}
	for _, p := range c.procs {
		for _, k := range p.Keys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// Run executes the chain for one lead and returns the accumulator. A
// processor that returns an error or panics contributes a "<name>_error" key
// and the chain continues; its declared keys simply stay absent.
func (c *Chain) Run(lead model.Lead, conv *model.Conversation) *Accumulator {
	acc := NewAccumulator()
	for _, p := range c.procs {
		partial, err := c.runOne(p, lead, conv, acc)
		if err != nil {
			c.log.WithFields(logrus.Fields{"lead": lead.Phone, "processor": p.Name()}).
				Warnf("processor failed: %v", err)
			acc.Set(p.Name()+"_error", err.Error())
			continue
		}

		declared := map[string]bool{}
		for _, k := range p.Keys() {
			declared[k] = true
		}
		for k, v := range partial {
			if !declared[k] {
				c.log.WithFields(logrus.Fields{"processor": p.Name(), "key": k}).
					Warn("processor produced undeclared key")
			}
			acc.Set(k, v)
		}
	}
	return acc
}

func (c *Chain) runOne(p Processor, lead model.Lead, conv *model.Conversation, acc *Accumulator) (partial map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			partial = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Process(lead, conv, acc)
}

// option helpers for Builder implementations

func intOption(opts map[string]any, key string, def int) int {
	if opts == nil {
		return def
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func stringsOption(opts map[string]any, key string, def []string) []string {
	if opts == nil {
		return def
	}
	raw, ok := opts[key].([]any)
	if !ok {
		return def
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// clock is injectable for temporal tests.
var clock = time.Now
