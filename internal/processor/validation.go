package processor

import (
	"time"

	"github.com/hablara/leadscope/internal/model"
)

// defaultValidationPatterns flag the pre-qualification prompt our side sends
// before a lead is considered validated. Patterns are matched against
// accent-stripped lowercase text.
var defaultValidationPatterns = []string{
	"para poder ayudarte mejor",
	"me confirmas tu nombre",
	"podrias confirmar",
	"could you confirm",
	"to help you better",
}

// validation detects whether the pre-qualification prompt was sent, and when.
type validation struct {
	patterns []string
}

func newValidation(opts map[string]any) (Processor, error) {
	return &validation{
		patterns: stringsOption(opts, "patterns", defaultValidationPatterns),
	}, nil
}

func (v *validation) Name() string { return "validation" }

func (v *validation) Keys() []string {
	return []string{"validation_prompt_sent", "validation_prompt_at"}
}

func (v *validation) Process(lead model.Lead, conv *model.Conversation, acc *Accumulator) (map[string]any, error) {
	for _, m := range conv.Messages {
		if m.Sender.Inbound() {
			continue
		}
		if matchesAny(m.Text, v.patterns) {
			return map[string]any{
				"validation_prompt_sent": true,
				"validation_prompt_at":   m.Timestamp.Format(time.RFC3339),
			}, nil
		}
	}
	return map[string]any{
		"validation_prompt_sent": false,
		"validation_prompt_at":   "",
	}, nil
}
