package processor

import (
	"github.com/hablara/leadscope/internal/model"
)

// temporal computes elapsed-time buckets and the reactivation-window flag.
// An empty conversation yields the neutral bucket "never".
type temporal struct {
	reactivationDays int
}

func newTemporal(opts map[string]any) (Processor, error) {
	return &temporal{
		reactivationDays: intOption(opts, "reactivation_days", 30),
	}, nil
}

func (t *temporal) Name() string { return "temporal" }

func (t *temporal) Keys() []string {
	return []string{
		"days_since_last_message",
		"hours_since_last_inbound",
		"last_message_bucket",
		"reactivation_window",
	}
}

func (t *temporal) Process(lead model.Lead, conv *model.Conversation, acc *Accumulator) (map[string]any, error) {
	now := clock()

	last := conv.Last()
	if last == nil {
		return map[string]any{
			"days_since_last_message":  -1,
			"hours_since_last_inbound": -1,
			"last_message_bucket":      "never",
			"reactivation_window":      false,
		}, nil
	}

	days := int(now.Sub(last.Timestamp).Hours() / 24)

	hoursSinceInbound := -1
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Sender.Inbound() {
			hoursSinceInbound = int(now.Sub(conv.Messages[i].Timestamp).Hours())
			break
		}
	}

	return map[string]any{
		"days_since_last_message":  days,
		"hours_since_last_inbound": hoursSinceInbound,
		"last_message_bucket":      bucketFor(days),
		"reactivation_window":      days >= 0 && days <= t.reactivationDays,
	}, nil
}

func bucketFor(days int) string {
	switch {
	case days < 0:
		return "never"
	case days < 1:
		return "today"
	case days < 7:
		return "this_week"
	case days < 30:
		return "this_month"
	default:
		return "older"
	}
}
