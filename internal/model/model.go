// Package model contains the core domain types shared across the analyzer.
package model

import (
	"sort"
	"time"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser  Sender = "user"  // inbound (the lead)
	SenderBot   Sender = "bot"   // outbound automated
	SenderAgent Sender = "agent" // outbound human
)

// Inbound reports whether the sender is the lead rather than our side.
func (s Sender) Inbound() bool {
	return s == SenderUser
}

// Message is a single conversation turn. Immutable once read.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
}

// Conversation is the ordered message history for one lead.
type Conversation struct {
	Phone    string    `json:"phone"`
	Messages []Message `json:"messages"`
}

// Sort orders messages ascending by timestamp. Must be called before
// rendering or digesting; processors assume ascending order.
func (c *Conversation) Sort() {
	sort.SliceStable(c.Messages, func(i, j int) bool {
		return c.Messages[i].Timestamp.Before(c.Messages[j].Timestamp)
	})
}

// Render formats the conversation as one line per message:
// "2006-01-02 15:04 sender: text". This is the canonical text fed to the
// digest function and the prompt template.
func (c *Conversation) Render() string {
	out := ""
	for i, m := range c.Messages {
		if i > 0 {
			out += "\n"
		}
		out += m.Timestamp.Format("2006-01-02 15:04") + " " + string(m.Sender) + ": " + m.Text
	}
	return out
}

// Last returns the most recent message, or nil for an empty conversation.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// InboundCount returns how many messages came from the lead.
func (c *Conversation) InboundCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.Sender.Inbound() {
			n++
		}
	}
	return n
}

// Lead is one conversation owner, identified by phone number, plus the base
// attributes loaded from the warehouse extract.
type Lead struct {
	Phone      string            `json:"phone"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Status tags the terminal state of a per-lead analysis.
type Status string

const (
	StatusFresh           Status = "fresh"            // computed this run
	StatusCached          Status = "cached"           // reused from cache
	StatusNoData          Status = "no_data"          // lead had no conversation
	StatusErrorAPI        Status = "error_api"        // model call failed after retries + fallback
	StatusErrorTimeout    Status = "error_timeout"    // could not acquire a worker slot
	StatusErrorValidation Status = "error_validation" // response unparseable after strict retry
)

// Terminal statuses that carry usable analysis fields.
func (s Status) OK() bool {
	return s == StatusFresh || s == StatusCached
}

// AnalysisRecord is the final per-lead output: base attributes, processor
// results and validated model fields merged into Fields, plus bookkeeping.
// Records are assembled once and never mutated afterward.
type AnalysisRecord struct {
	Phone      string         `json:"phone"`
	Status     Status         `json:"status"`
	Digest     string         `json:"digest,omitempty"`
	Model      string         `json:"model,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Error      string         `json:"error,omitempty"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
}

// Batch is one unit of work: the leads to analyze and their conversations,
// both already loaded into memory by the caller.
type Batch struct {
	Leads         []Lead         `json:"leads"`
	Conversations []Conversation `json:"conversations"`
}

// ConversationFor returns the conversation belonging to phone, or nil.
func (b *Batch) ConversationFor(phone string) *Conversation {
	for i := range b.Conversations {
		if b.Conversations[i].Phone == phone {
			return &b.Conversations[i]
		}
	}
	return nil
}
