package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hablara/leadscope/internal/model"
)

func TestTemporalBuckets(t *testing.T) {
	withClock(t, "2024-05-10 12:00")

	tests := []struct {
		name       string
		lastTS     string
		wantBucket string
		wantWindow bool
	}{
		{"today", "2024-05-10 09:00", "today", true},
		{"this week", "2024-05-06 09:00", "this_week", true},
		{"this month", "2024-04-20 09:00", "this_month", true},
		{"older", "2024-01-01 09:00", "older", false},
	}

	p, err := newTemporal(map[string]any{"reactivation_days": 30})
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Process(model.Lead{}, conv(msg(tt.lastTS, model.SenderBot, "x")), NewAccumulator())
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, out["last_message_bucket"])
			assert.Equal(t, tt.wantWindow, out["reactivation_window"])
		})
	}
}

func TestTemporalEmptyConversation(t *testing.T) {
	withClock(t, "2024-05-10 12:00")

	p, err := newTemporal(nil)
	require.NoError(t, err)

	out, err := p.Process(model.Lead{}, conv(), NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, "never", out["last_message_bucket"])
	assert.Equal(t, -1, out["days_since_last_message"])
	assert.Equal(t, -1, out["hours_since_last_inbound"])
	assert.Equal(t, false, out["reactivation_window"])
}

func TestTemporalHoursSinceLastInbound(t *testing.T) {
	withClock(t, "2024-05-10 12:00")

	p, _ := newTemporal(nil)
	out, err := p.Process(model.Lead{}, conv(
		msg("2024-05-10 06:00", model.SenderUser, "hola"),
		msg("2024-05-10 11:00", model.SenderBot, "respuesta"),
	), NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, 6, out["hours_since_last_inbound"])
}

func TestMetadata(t *testing.T) {
	p, _ := newMetadata(nil)
	out, err := p.Process(model.Lead{}, conv(
		msg("2024-05-01 10:00", model.SenderUser, "hi"),
		msg("2024-05-01 10:05", model.SenderBot, "hello there"),
	), NewAccumulator())
	require.NoError(t, err)

	assert.Equal(t, 2, out["message_count"])
	assert.Equal(t, 1, out["inbound_count"])
	assert.Equal(t, 1, out["outbound_count"])
	assert.Equal(t, true, out["has_user_messages"])
	assert.Equal(t, "bot", out["last_sender"])
	assert.Equal(t, "hello there", out["last_text"])
}

func TestMetadataNoInbound(t *testing.T) {
	p, _ := newMetadata(nil)
	out, err := p.Process(model.Lead{}, conv(
		msg("2024-05-01 10:00", model.SenderBot, "hola, ¿sigues interesado?"),
	), NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, false, out["has_user_messages"])
}

func TestValidationDetection(t *testing.T) {
	p, _ := newValidation(nil)

	out, err := p.Process(model.Lead{}, conv(
		msg("2024-05-01 10:00", model.SenderBot, "Hola! Para poder ayudarte mejor, ¿me confirmas tu nombre?"),
		msg("2024-05-01 10:02", model.SenderUser, "Soy Ana"),
	), NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, true, out["validation_prompt_sent"])
	assert.NotEmpty(t, out["validation_prompt_at"])

	out, err = p.Process(model.Lead{}, conv(
		msg("2024-05-01 10:00", model.SenderUser, "para poder ayudarte mejor"), // inbound: does not count
	), NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, false, out["validation_prompt_sent"])
}

func TestHandoffStages(t *testing.T) {
	p, _ := newHandoff(nil)

	invite := msg("2024-05-01 10:00", model.SenderBot, "¿Te gustaría agendar una llamada?")
	reply := msg("2024-05-01 10:05", model.SenderUser, "sí, claro")
	done := msg("2024-05-01 10:10", model.SenderBot, "Listo, cita agendada para mañana.")

	tests := []struct {
		name string
		msgs []model.Message
		want string
	}{
		{"none", []model.Message{msg("2024-05-01 09:00", model.SenderUser, "hola")}, HandoffNone},
		{"invited", []model.Message{invite}, HandoffInvited},
		{"responded", []model.Message{invite, reply}, HandoffResponded},
		{"completed", []model.Message{invite, reply, done}, HandoffCompleted},
		{"empty", nil, HandoffNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Process(model.Lead{}, conv(tt.msgs...), NewAccumulator())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["handoff_stage"])
		})
	}
}

func TestTransferDetection(t *testing.T) {
	p, _ := newTransfer(nil)

	out, err := p.Process(model.Lead{}, conv(
		msg("2024-05-01 10:00", model.SenderUser, "Quiero hablar con una persona, por favor"),
	), NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, true, out["human_transfer_requested"])

	// Outbound mentions of escalation phrases do not count.
	out, err = p.Process(model.Lead{}, conv(
		msg("2024-05-01 10:00", model.SenderBot, "¿Quieres hablar con una persona?"),
	), NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, false, out["human_transfer_requested"])
}

func TestTemplateDetection(t *testing.T) {
	p, _ := newTemplate(nil)

	blast := "Hola! ¿Sigues interesado en nuestra promoción?"
	out, err := p.Process(model.Lead{}, conv(
		msg("2024-05-01 10:00", model.SenderBot, blast),
		msg("2024-05-02 10:00", model.SenderUser, "no gracias"),
		msg("2024-05-03 10:00", model.SenderBot, blast),
		msg("2024-05-04 10:00", model.SenderBot, blast),
	), NewAccumulator())
	require.NoError(t, err)

	assert.Equal(t, 3, out["template_count"])
	assert.Equal(t, 2, out["trailing_template_run"])
	assert.Equal(t, true, out["last_is_template"])
}

func TestTemplateNoRepeats(t *testing.T) {
	p, _ := newTemplate(nil)
	out, err := p.Process(model.Lead{}, conv(
		msg("2024-05-01 10:00", model.SenderBot, "primera"),
		msg("2024-05-02 10:00", model.SenderBot, "segunda"),
	), NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, 0, out["template_count"])
	assert.Equal(t, 0, out["trailing_template_run"])
	assert.Equal(t, false, out["last_is_template"])
}

func TestStateFromFlags(t *testing.T) {
	p, _ := newState(nil)

	tests := []struct {
		name       string
		validation bool
		handoff    string
		want       string
	}{
		{"pre validation", false, HandoffNone, StatePreValidation},
		{"post validation", true, HandoffNone, StatePostValidation},
		{"handoff wins", true, HandoffInvited, StateHandoff},
		{"handoff without validation", false, HandoffResponded, StateHandoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()
			acc.Set("validation_prompt_sent", tt.validation)
			acc.Set("handoff_stage", tt.handoff)

			out, err := p.Process(model.Lead{}, conv(), acc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["conversation_state"])
		})
	}
}

func TestStateMissingFlagsDegrades(t *testing.T) {
	p, _ := newState(nil)
	out, err := p.Process(model.Lead{}, conv(), NewAccumulator())
	require.NoError(t, err)
	assert.Equal(t, StatePreValidation, out["conversation_state"])
}
