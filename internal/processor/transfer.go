package processor

import (
	"github.com/hablara/leadscope/internal/model"
)

var defaultEscalationPatterns = []string{
	"hablar con una persona",
	"hablar con un humano",
	"quiero un asesor",
	"pasame con un agente",
	"talk to a human",
	"speak to an agent",
}

// transfer flags leads who asked for a human during the conversation.
type transfer struct {
	patterns []string
}

func newTransfer(opts map[string]any) (Processor, error) {
	return &transfer{
		patterns: stringsOption(opts, "patterns", defaultEscalationPatterns),
	}, nil
}

func (t *transfer) Name() string { return "transfer" }

func (t *transfer) Keys() []string {
	return []string{"human_transfer_requested"}
}

func (t *transfer) Process(lead model.Lead, conv *model.Conversation, acc *Accumulator) (map[string]any, error) {
	for _, m := range conv.Messages {
		if m.Sender.Inbound() && matchesAny(m.Text, t.patterns) {
			return map[string]any{"human_transfer_requested": true}, nil
		}
	}
	return map[string]any{"human_transfer_requested": false}, nil
}
