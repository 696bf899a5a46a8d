// Package pipeline is the concurrency coordinator: it drives every lead in a
// batch through processors → cache check → summarization → parsing →
// validation → merge, with bounded parallelism and full per-lead failure
// isolation. One bad lead never aborts the batch; the aggregate output always
// contains exactly one record per input lead.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hablara/leadscope/internal/cache"
	"github.com/hablara/leadscope/internal/digest"
	"github.com/hablara/leadscope/internal/model"
	"github.com/hablara/leadscope/internal/parse"
	"github.com/hablara/leadscope/internal/processor"
	"github.com/hablara/leadscope/internal/recipe"
	"github.com/hablara/leadscope/internal/schema"
)

// Summarizer is the model-call dependency. Implemented by *genai.Client;
// tests substitute fakes.
type Summarizer interface {
	Summarize(ctx context.Context, primary, fallback, prompt string) (text, model string, err error)
}

// ResultCache is the content-addressed store dependency. Implemented by
// *cache.Store. May be nil to disable caching entirely.
type ResultCache interface {
	Lookup(ctx context.Context, phone, digest string) (*cache.Entry, bool)
	Put(ctx context.Context, phone, digest string, e cache.Entry) error
}

// Analyzer coordinates batch analysis. Construct with New; safe for use by a
// single batch at a time per instance.
type Analyzer struct {
	rec   *recipe.Recipe
	chain *processor.Chain
	llm   Summarizer
	store ResultCache
	sem   *Semaphore
	log   *logrus.Entry

	// completed counts leads that reached a terminal state, across the batch.
	completed atomic.Int64
}

// New builds the analyzer: resolves the processor chain against the static
// registry and cross-checks the prompt template against the variables the
// enabled processors can provide. Both failures are configuration errors,
// surfaced before any lead work begins.
func New(rec *recipe.Recipe, llm Summarizer, store ResultCache, workers int) (*Analyzer, error) {
	chain, err := processor.NewChain(rec.Processors)
	if err != nil {
		return nil, err
	}

	known := map[string]bool{"conversation": true, "now": true, "today": true}
	for _, k := range chain.Keys() {
		known[k] = true
	}
	if err := rec.CheckPromptVars(known); err != nil {
		return nil, err
	}

	if workers <= 0 {
		workers = rec.Concurrency.Workers
	}
	if workers <= 0 {
		workers = defaultWorkers()
	}

	return &Analyzer{
		rec:   rec,
		chain: chain,
		llm:   llm,
		store: store,
		sem:   NewSemaphore(workers),
		log:   logrus.WithField("component", "pipeline"),
	}, nil
}

// defaultWorkers derives the pool size from available CPU parallelism,
// clamped to [4, 32].
func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 4 {
		return 4
	}
	if n > 32 {
		return 32
	}
	return n
}

// Completed returns how many leads have reached a terminal state.
func (a *Analyzer) Completed() int64 {
	return a.completed.Load()
}

// InFlight returns how many leads currently hold a worker slot.
func (a *Analyzer) InFlight() int {
	return a.sem.InFlight()
}

// AnalyzeBatch runs every lead to a terminal state and returns one record per
// lead, in input order. Completion order across leads is unspecified; the
// call blocks until all are terminal.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, batch *model.Batch) []model.AnalysisRecord {
	runID := uuid.NewString()
	records := make([]model.AnalysisRecord, len(batch.Leads))

	// Sort happens once, before the fan-out: leads sharing a phone share one
	// Conversation value, and sorting it from concurrent goroutines races.
	for i := range batch.Conversations {
		batch.Conversations[i].Sort()
	}

	var wg sync.WaitGroup
	for i, lead := range batch.Leads {
		wg.Add(1)
		go func(i int, lead model.Lead) {
			defer wg.Done()
			records[i] = a.analyzeLead(ctx, runID, lead, batch.ConversationFor(lead.Phone))
			a.completed.Add(1)
		}(i, lead)
	}
	wg.Wait()

	return records
}

// analyzeLead runs the per-lead state machine:
// PENDING → (cache hit → DONE) | (ACQUIRING-SLOT → PROCESSING → SUMMARIZING →
// PARSING → VALIDATING → DONE) | ERROR. ERROR is terminal for this lead only.
func (a *Analyzer) analyzeLead(ctx context.Context, runID string, lead model.Lead, conv *model.Conversation) model.AnalysisRecord {
	log := a.log.WithField("lead", lead.Phone)

	if conv == nil {
		return model.AnalysisRecord{
			Phone:      lead.Phone,
			Status:     model.StatusNoData,
			RunID:      runID,
			Fields:     attrFields(lead),
			AnalyzedAt: time.Now(),
		}
	}

	text := conv.Render()
	dig := digest.Conversation(text)

	// Cache check happens before slot acquisition: a hit costs no slot. A hit
	// skips only the model call; the deterministic chain reruns so cached
	// records carry the same field shape as fresh ones.
	if a.store != nil {
		if entry, ok := a.store.Lookup(ctx, lead.Phone, dig); ok {
			log.Debug("cache hit")
			fields := attrFields(lead)
			for k, v := range a.chain.Run(lead, conv).Values() {
				fields[k] = v
			}
			for k, v := range entry.Fields {
				fields[k] = v
			}
			return model.AnalysisRecord{
				Phone:      lead.Phone,
				Status:     model.StatusCached,
				Digest:     dig,
				Model:      entry.Model,
				RunID:      runID,
				Fields:     fields,
				AnalyzedAt: time.Now(),
			}
		}
	}

	if err := a.acquireSlot(ctx); err != nil {
		log.Errorf("slot acquisition failed: %v", err)
		return a.errorRecord(runID, lead, dig, model.StatusErrorTimeout, err.Error(), nil)
	}
	defer a.sem.Release()

	// PROCESSING: the chain isolates individual processor failures itself.
	acc := a.chain.Run(lead, conv)

	noInbound := false
	if v, ok := acc.Get("has_user_messages"); ok {
		inbound, _ := v.(bool)
		noInbound = !inbound
	}

	prompt := a.rec.RenderPrompt(promptVars(text, acc))

	// SUMMARIZING
	raw, modelUsed, err := a.llm.Summarize(ctx, a.rec.Models.Primary, a.rec.Models.Fallback, prompt)
	if err != nil {
		log.Errorf("summarization failed: %v", err)
		return a.errorRecord(runID, lead, dig, model.StatusErrorAPI, err.Error(), acc)
	}

	// PARSING, with one stricter re-request before giving up.
	parsed, err := parse.Response(raw, a.rec.FieldNames())
	if err != nil && a.rec.StrictSuffix != "" {
		log.WithField("stage", "parse").Warnf("retrying with strict prompt: %v", err)
		raw2, modelUsed2, rerr := a.llm.Summarize(ctx, a.rec.Models.Primary, a.rec.Models.Fallback, prompt+a.rec.StrictSuffix)
		if rerr == nil {
			modelUsed = modelUsed2
			parsed, err = parse.Response(raw2, a.rec.FieldNames())
		}
	}
	if err != nil {
		log.Errorf("response unparseable: %v", err)
		return a.errorRecord(runID, lead, dig, model.StatusErrorValidation, err.Error(), acc)
	}

	// VALIDATING: always converges to a schema-valid mapping.
	fixed := schema.ValidateAndFix(parsed, a.rec.Fields, a.rec.Overrides, noInbound)

	fields := attrFields(lead)
	for k, v := range acc.Values() {
		fields[k] = v
	}
	for k, v := range fixed {
		fields[k] = v
	}

	record := model.AnalysisRecord{
		Phone:      lead.Phone,
		Status:     model.StatusFresh,
		Digest:     dig,
		Model:      modelUsed,
		RunID:      runID,
		Fields:     fields,
		AnalyzedAt: time.Now(),
	}

	if a.store != nil {
		err := a.store.Put(ctx, lead.Phone, dig, cache.Entry{
			Fields: fixed,
			Model:  modelUsed,
			RunID:  runID,
		})
		if err != nil {
			log.Warnf("cache write failed: %v", err)
		}
	}

	return record
}

// acquireSlot tries the gate a bounded number of times, each attempt with its
// own timeout, with a fixed delay between attempts.
func (a *Analyzer) acquireSlot(ctx context.Context) error {
	var lastErr error
	attempts := a.rec.Concurrency.SlotAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.rec.Concurrency.SlotRetryDelay()):
			}
		}

		slotCtx, cancel := context.WithTimeout(ctx, a.rec.Concurrency.SlotTimeout())
		err := a.sem.Acquire(slotCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (a *Analyzer) errorRecord(runID string, lead model.Lead, dig string, status model.Status, msg string, acc *processor.Accumulator) model.AnalysisRecord {
	fields := attrFields(lead)
	if acc != nil {
		for k, v := range acc.Values() {
			fields[k] = v
		}
	}
	return model.AnalysisRecord{
		Phone:      lead.Phone,
		Status:     status,
		Digest:     dig,
		RunID:      runID,
		Fields:     fields,
		Error:      msg,
		AnalyzedAt: time.Now(),
	}
}

func attrFields(lead model.Lead) map[string]any {
	fields := make(map[string]any, len(lead.Attributes)+8)
	for k, v := range lead.Attributes {
		fields[k] = v
	}
	return fields
}

func promptVars(conversation string, acc *processor.Accumulator) map[string]string {
	now := time.Now()
	vars := acc.PromptVars()
	vars["conversation"] = conversation
	vars["now"] = now.Format("2006-01-02 15:04")
	vars["today"] = now.Format("2006-01-02")
	return vars
}
