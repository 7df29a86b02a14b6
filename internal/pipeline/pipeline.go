// Package pipeline drives dataset items through extraction, per-question
// answering and evaluation, and summarisation.
//
// Items are processed one at a time and stages within an item run in a
// fixed order. Before each stage the controller consults the progress store
// and skips work whose record is already persisted, so a restarted run
// resumes without repeating model calls. Records of an item are flushed
// together once the item is done.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-t2ieval/internal/llm/errors"
	"github.com/ahrav/go-t2ieval/internal/progress"
	"github.com/ahrav/go-t2ieval/internal/stage"
	"github.com/ahrav/go-t2ieval/internal/tree"
	"github.com/ahrav/go-t2ieval/pkg/events"
)

// Outcome classifies how an item ended.
type Outcome string

const (
	// OutcomeDone means every stage has a persisted record.
	OutcomeDone Outcome = "done"
	// OutcomeCached means nothing had to be generated.
	OutcomeCached Outcome = "cached"
	// OutcomeExtractFailed means extraction never reconciled; the item was
	// written to the extract error stream.
	OutcomeExtractFailed Outcome = "extract_failed"
	// OutcomeInvalid means the item's prebuilt data could not be used.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeFailed means a model call failed; the stages completed before
	// it are kept and the rest rerun next time.
	OutcomeFailed Outcome = "failed"
)

// ItemResult reports one processed item.
type ItemResult struct {
	ID      domain.ItemID `json:"id"`
	Outcome Outcome       `json:"outcome"`
	// Generated counts stage results produced by model calls in this run.
	Generated int    `json:"generated"`
	Error     string `json:"error,omitempty"`
	// Retryable marks a failed item whose model error was transient.
	Retryable bool `json:"retryable,omitempty"`
}

// RunSummary totals a dataset run.
type RunSummary struct {
	Items    int             `json:"items"`
	Outcomes map[Outcome]int `json:"outcomes"`
}

// Options selects the orchestration mode.
type Options struct {
	Granularity configuration.Granularity
	// Summarize runs the summary stage after the per-question stages.
	Summarize bool
}

// Pipeline is the controller. It owns the progress store and is not safe
// for concurrent use.
type Pipeline struct {
	exec    *stage.Executor
	store   *progress.Store
	opts    Options
	metrics *Metrics
	sink    events.EventSink
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records progress metrics.
func WithMetrics(m *Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithEventSink emits an event per item and per run.
func WithEventSink(s events.EventSink) Option { return func(p *Pipeline) { p.sink = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// New creates a pipeline over an executor and an opened progress store.
func New(exec *stage.Executor, store *progress.Store, opts Options, options ...Option) *Pipeline {
	p := &Pipeline{
		exec:   exec,
		store:  store,
		opts:   opts,
		sink:   events.NewNoOpEventSink(),
		logger: slog.Default(),
	}
	for _, o := range options {
		o(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// OpenStore opens the progress store for every stage log under dir.
func OpenStore(dir string, logger *slog.Logger) (*progress.Store, error) {
	return progress.Open(dir, domain.AllStageKeys(), logger)
}

// Run processes items in order. A failing item never stops the run; only
// cancellation and persistence errors do.
func (p *Pipeline) Run(ctx context.Context, items []*domain.DatasetItem) (*RunSummary, error) {
	sum := &RunSummary{Outcomes: map[Outcome]int{}}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := p.ProcessItem(ctx, item)
		if err != nil {
			return sum, err
		}
		sum.Items++
		sum.Outcomes[res.Outcome]++
		p.logger.Info("item processed", "id", item.ID, "index", i+1, "total", len(items), "outcome", res.Outcome, "generated", res.Generated)
	}
	p.emit(ctx, events.TypeRunCompleted, p.exec.Options().RunID, sum)
	return sum, nil
}

// ProcessItem runs every stage of one item and flushes its records. The
// returned error is reserved for cancellation and persistence failures;
// item-level failures are reported in the result.
func (p *Pipeline) ProcessItem(ctx context.Context, item *domain.DatasetItem) (*ItemResult, error) {
	start := time.Now()
	run := &itemRun{p: p, item: item, res: &ItemResult{ID: item.ID}}

	err := run.stages(ctx)
	if ferr := p.store.Flush(); ferr != nil {
		return nil, fmt.Errorf("persist item %s: %w", item.ID, ferr)
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.Is(err, stage.ErrModelCall):
		run.res.Outcome = OutcomeFailed
		run.res.Error = err.Error()
		run.res.Retryable = llmerrors.IsRetryableError(err)
		p.logger.Error("item failed", "id", item.ID, "retryable", run.res.Retryable, "error", err)
	default:
		return nil, fmt.Errorf("item %s: %w", item.ID, err)
	}
	if run.res.Outcome == "" {
		run.res.Outcome = OutcomeDone
		if run.res.Generated == 0 {
			run.res.Outcome = OutcomeCached
		}
	}
	p.metrics.item(run.res.Outcome, time.Since(start))
	p.emit(ctx, events.TypeItemCompleted, p.exec.Options().RunID+":"+string(item.ID), run.res)
	return run.res, nil
}

func (p *Pipeline) emit(ctx context.Context, eventType, idemKey string, payload any) {
	e, err := events.New(eventType, "pipeline", p.exec.Options().RunID, idemKey, payload)
	if err == nil {
		err = p.sink.Append(ctx, e)
	}
	if err != nil {
		p.logger.Warn("event not emitted", "type", eventType, "error", err)
	}
}

// itemRun carries the state of one item through its stages.
type itemRun struct {
	p    *Pipeline
	item *domain.DatasetItem
	res  *ItemResult
}

func (r *itemRun) put(records map[domain.StageKey]*domain.Record) error {
	for k, rec := range records {
		if err := r.p.store.Put(k, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *itemRun) stages(ctx context.Context) error {
	structure, questions, err := r.structure(ctx)
	if err != nil || questions == nil {
		return err
	}

	evals := map[domain.Category][]*domain.Record{}
	for _, c := range domain.Categories() {
		for _, q := range questions.For(c) {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := r.question(ctx, stage.QuestionInput{Item: r.item, Category: c, Question: q, StructureInfo: structure})
			if err != nil {
				return err
			}
			evals[c] = append(evals[c], rec)
		}
	}

	if !r.p.opts.Summarize {
		return nil
	}
	return r.summary(ctx, structure, evals)
}

// structure yields the item's structure information and questions. A nil
// question set with a nil error means the item stops here.
func (r *itemRun) structure(ctx context.Context) (*tree.Node, *domain.QuestionSet, error) {
	p := r.p
	if p.opts.Granularity == configuration.GranularityFine {
		ex, err := p.exec.Prebuilt(r.item)
		if err != nil {
			p.logger.Warn("unusable prebuilt item", "id", r.item.ID, "error", err)
			r.res.Outcome = OutcomeInvalid
			r.res.Error = err.Error()
			if ex != nil && ex.Record != nil {
				return nil, nil, p.store.Put(domain.ExtractErrorKey(), ex.Record)
			}
			return nil, nil, nil
		}
		return ex.Structured, ex.Questions, nil
	}

	key := domain.ExtractKey()
	if rec, ok := p.store.Get(key, r.item.ID); ok && rec.Questions != nil {
		p.metrics.stage(key.Kind, true)
		return rec.Structured, rec.Questions, nil
	}
	ex, err := p.exec.Extract(ctx, r.item)
	if errors.Is(err, domain.ErrExhaustedRetries) && ex != nil {
		p.logger.Warn("extraction exhausted retries", "id", r.item.ID, "error", err)
		p.metrics.extractFailed()
		r.res.Outcome = OutcomeExtractFailed
		r.res.Error = err.Error()
		r.res.Generated++
		return nil, nil, p.store.Put(domain.ExtractErrorKey(), ex.Record)
	}
	if err != nil {
		return nil, nil, err
	}
	p.metrics.stage(key.Kind, false)
	r.res.Generated++
	return ex.Structured, ex.Questions, p.store.Put(key, ex.Record)
}

// question answers and, where the category needs it, evaluates one
// question. It returns the record the summary reads. An intrinsic or
// relationship answer is reused only together with its evaluation.
func (r *itemRun) question(ctx context.Context, in stage.QuestionInput) (*domain.Record, error) {
	p := r.p
	id := domain.ItemID(in.Question.ID)
	answerKey := domain.Key(domain.StageAnswer, in.Category, domain.Primary)
	evalKey := domain.Key(domain.StageEval, in.Category, domain.Primary)

	if in.Category == domain.CategoryAppearance {
		if rec, ok := p.store.Get(answerKey, id); ok {
			p.metrics.stage(domain.StageAnswer, true)
			return rec, nil
		}
	} else if p.store.Has(answerKey, id) {
		if rec, ok := p.store.Get(evalKey, id); ok {
			p.metrics.stage(domain.StageEval, true)
			return rec, nil
		}
	}

	ans, err := p.exec.Answer(ctx, in)
	if err != nil {
		return nil, err
	}
	p.metrics.stage(domain.StageAnswer, false)
	r.res.Generated++
	if err := r.put(ans.Records()); err != nil {
		return nil, err
	}
	if in.Category == domain.CategoryAppearance {
		return ans.Primary, nil
	}

	ev, err := p.exec.Evaluate(ctx, in, ans)
	if err != nil {
		return nil, err
	}
	p.metrics.stage(domain.StageEval, false)
	r.res.Generated++
	return ev.Primary, r.put(ev.Records())
}

func (r *itemRun) summary(ctx context.Context, structure *tree.Node, evals map[domain.Category][]*domain.Record) error {
	p := r.p
	key := domain.SummarizeKey(domain.Primary)
	if p.store.Has(key, r.item.ID) {
		p.metrics.stage(key.Kind, true)
		return nil
	}
	records, err := p.exec.Summarize(ctx, stage.SummaryInput{Item: r.item, StructureInfo: structure, Evaluations: evals})
	if err != nil {
		return err
	}
	p.metrics.stage(key.Kind, false)
	r.res.Generated++
	return r.put(records)
}
