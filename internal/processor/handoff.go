package processor

import (
	"time"

	"github.com/hablara/leadscope/internal/model"
)

// Handoff stages. The machine only moves forward:
// none → invited (outbound invite sent) → responded (lead replied after the
// invite) → completed (outbound completion message sent).
const (
	HandoffNone      = "none"
	HandoffInvited   = "invited"
	HandoffResponded = "responded"
	HandoffCompleted = "completed"
)

var defaultInvitePatterns = []string{
	"te gustaria agendar",
	"quieres que te contacte un asesor",
	"would you like to schedule",
	"agendar una cita",
}

var defaultCompletionPatterns = []string{
	"cita agendada",
	"un asesor te contactara",
	"tu cita quedo registrada",
	"appointment confirmed",
}

// handoff tracks the invitation → response → completion state machine driven
// by pattern matches on normalized text.
type handoff struct {
	invitePatterns     []string
	completionPatterns []string
}

func newHandoff(opts map[string]any) (Processor, error) {
	return &handoff{
		invitePatterns:     stringsOption(opts, "invite_patterns", defaultInvitePatterns),
		completionPatterns: stringsOption(opts, "completion_patterns", defaultCompletionPatterns),
	}, nil
}

func (h *handoff) Name() string { return "handoff" }

func (h *handoff) Keys() []string {
	return []string{"handoff_stage", "handoff_invited_at"}
}

func (h *handoff) Process(lead model.Lead, conv *model.Conversation, acc *Accumulator) (map[string]any, error) {
	stage := HandoffNone
	invitedAt := ""

	for _, m := range conv.Messages {
		switch stage {
		case HandoffNone:
			if !m.Sender.Inbound() && matchesAny(m.Text, h.invitePatterns) {
				stage = HandoffInvited
				invitedAt = m.Timestamp.Format(time.RFC3339)
			}
		case HandoffInvited:
			if m.Sender.Inbound() {
				stage = HandoffResponded
			}
		case HandoffResponded:
			if !m.Sender.Inbound() && matchesAny(m.Text, h.completionPatterns) {
				stage = HandoffCompleted
			}
		}
		if stage == HandoffCompleted {
			break
		}
	}

	return map[string]any{
		"handoff_stage":      stage,
		"handoff_invited_at": invitedAt,
	}, nil
}
