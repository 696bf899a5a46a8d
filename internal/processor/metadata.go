package processor

import (
	"time"

	"github.com/hablara/leadscope/internal/model"
)

// metadata extracts last-message details and message counts. Its
// has_user_messages flag drives the no-inbound override downstream.
type metadata struct{}

func newMetadata(opts map[string]any) (Processor, error) {
	return &metadata{}, nil
}

func (m *metadata) Name() string { return "metadata" }

func (m *metadata) Keys() []string {
	return []string{
		"message_count",
		"inbound_count",
		"outbound_count",
		"has_user_messages",
		"last_sender",
		"last_text",
		"last_timestamp",
	}
}

func (m *metadata) Process(lead model.Lead, conv *model.Conversation, acc *Accumulator) (map[string]any, error) {
	inbound := conv.InboundCount()
	out := map[string]any{
		"message_count":     len(conv.Messages),
		"inbound_count":     inbound,
		"outbound_count":    len(conv.Messages) - inbound,
		"has_user_messages": inbound > 0,
		"last_sender":       "",
		"last_text":         "",
		"last_timestamp":    "",
	}

	if last := conv.Last(); last != nil {
		out["last_sender"] = string(last.Sender)
		out["last_text"] = last.Text
		out["last_timestamp"] = last.Timestamp.Format(time.RFC3339)
	}

	return out, nil
}
