package processor

import (
	"github.com/hablara/leadscope/internal/model"
)

// Coarse conversation states derived from other processors' flags.
const (
	StatePreValidation  = "pre_validation"
	StatePostValidation = "post_validation"
	StateHandoff        = "handoff"
)

// state derives the coarse conversation state purely from flags already in
// the accumulator, never from raw text. It must run after the validation and
// handoff processors; missing flags degrade to pre_validation.
type state struct{}

func newState(opts map[string]any) (Processor, error) {
	return &state{}, nil
}

func (s *state) Name() string { return "state" }

func (s *state) Keys() []string {
	return []string{"conversation_state"}
}

func (s *state) Process(lead model.Lead, conv *model.Conversation, acc *Accumulator) (map[string]any, error) {
	st := StatePreValidation
	if acc.Bool("validation_prompt_sent") {
		st = StatePostValidation
	}
	if stage := acc.String("handoff_stage"); stage != "" && stage != HandoffNone {
		st = StateHandoff
	}
	return map[string]any{"conversation_state": st}, nil
}
