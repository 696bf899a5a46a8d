package processor

import (
	"github.com/hablara/leadscope/internal/model"
)

// template flags recurring outbound templates: outbound messages whose
// normalized text appears more than once are treated as campaign templates.
// trailing_template_run counts how many consecutive template messages close
// the conversation; a long run means we are blasting an unresponsive lead.
type template struct {
	minRepeats int
}

func newTemplate(opts map[string]any) (Processor, error) {
	return &template{
		minRepeats: intOption(opts, "min_repeats", 2),
	}, nil
}

func (t *template) Name() string { return "template" }

func (t *template) Keys() []string {
	return []string{"template_count", "trailing_template_run", "last_is_template"}
}

func (t *template) Process(lead model.Lead, conv *model.Conversation, acc *Accumulator) (map[string]any, error) {
	freq := map[string]int{}
	for _, m := range conv.Messages {
		if !m.Sender.Inbound() {
			freq[normalizeText(m.Text)]++
		}
	}

	isTemplate := func(m model.Message) bool {
		return !m.Sender.Inbound() && freq[normalizeText(m.Text)] >= t.minRepeats
	}

	count := 0
	for _, m := range conv.Messages {
		if isTemplate(m) {
			count++
		}
	}

	run := 0
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if !isTemplate(conv.Messages[i]) {
			break
		}
		run++
	}

	lastIsTemplate := false
	if last := conv.Last(); last != nil {
		lastIsTemplate = isTemplate(*last)
	}

	return map[string]any{
		"template_count":        count,
		"trailing_template_run": run,
		"last_is_template":      lastIsTemplate,
	}, nil
}
