// Package stage runs the model rounds of the evaluation pipeline: extraction,
// per-question answering and evaluation, and summarisation.
//
// Each round renders a prompt, calls the model and normalises the markdown
// reply before reconciling it against the round's schema. The executor is
// stateless between calls; caching and persistence belong to the pipeline.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/llm"
	"github.com/ahrav/go-t2ieval/internal/prompt"
	"github.com/ahrav/go-t2ieval/internal/reconcile"
	"github.com/ahrav/go-t2ieval/internal/tree"
)

// Options selects how rounds are run.
type Options struct {
	// MultiStage splits scoring rounds into an explanation call and a
	// score-only call.
	MultiStage bool
	// SimpleFormat asks per-question rounds in plain text instead of the
	// category templates.
	SimpleFormat bool
	// SeparateAspects summarises each category on its own before merging.
	SeparateAspects bool
	// MaxRetry is the number of extra attempts of a schema-bearing round
	// whose reply does not reconcile cleanly.
	MaxRetry int
	// StrictQuestions requires reconciled answer labels to look like
	// questions.
	StrictQuestions bool
	// RunID is stamped on every record.
	RunID string
}

// Executor runs stage rounds against one model client.
type Executor struct {
	client  llm.Client
	prompts *prompt.Library
	opts    Options
	logger  *slog.Logger
}

// New creates an executor. A nil logger uses the default logger.
func New(client llm.Client, prompts *prompt.Library, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:  client,
		prompts: prompts,
		opts:    opts,
		logger:  logger.With("component", "stage"),
	}
}

// Options returns the executor's configuration.
func (e *Executor) Options() Options { return e.opts }

// Result holds the records of one round. Stage1 and Stage2 are set only for
// split rounds; Primary is the merged view of them.
type Result struct {
	Key     domain.StageKey
	Primary *domain.Record
	Stage1  *domain.Record
	Stage2  *domain.Record
	// History is the conversation of the round's first call, for rounds
	// that continue it.
	History []domain.Turn
}

// Records lists the round's records by the log they belong to.
func (r *Result) Records() map[domain.StageKey]*domain.Record {
	out := map[domain.StageKey]*domain.Record{r.Key: r.Primary}
	if r.Stage1 != nil {
		out[domain.Key(r.Key.Kind, r.Key.Category, domain.SubStage1)] = r.Stage1
	}
	if r.Stage2 != nil {
		out[domain.Key(r.Key.Kind, r.Key.Category, domain.SubStage2)] = r.Stage2
	}
	return out
}

func (e *Executor) record(id domain.ItemID, item *domain.DatasetItem) *domain.Record {
	return &domain.Record{ID: id, GTImage: item.GTImage, History: []domain.Turn{}, RunID: e.opts.RunID}
}

// attempt is one call of a reconciled round.
type attempt struct {
	prompt   string
	response string
	history  []domain.Turn
	tree     *tree.Node
	log      *reconcile.MismatchLog
}

// reconciledRound issues req until the normalised reply reconciles against
// schema without mismatches, at most MaxRetry+1 times. prefix is prepended
// to the reply before parsing. The last structurally valid attempt wins; if
// every attempt failed hard the last one is returned together with an
// error wrapping domain.ErrExhaustedRetries.
func (e *Executor) reconciledRound(ctx context.Context, req llm.ChatRequest, prefix string, schema *tree.Node, ropts reconcile.Options) (*attempt, error) {
	var best, last *attempt
	var lastErr error
	for try := 0; try <= e.opts.MaxRetry; try++ {
		if try > 0 {
			e.logger.Info("retrying round", "file", ropts.File, "attempt", try+1, "max_attempts", e.opts.MaxRetry+1)
		}
		resp, err := e.client.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrModelCall, ropts.File, err)
		}
		a := &attempt{prompt: req.Prompt, response: tree.EnsureHeadingBreaks(resp.Text), history: resp.History}
		last = a

		ropts.Logger = e.logger
		out, log, err := reconcile.Reconcile(tree.FromMarkdown(prefix+a.response), schema, ropts)
		a.log = log
		if err != nil {
			lastErr = err
			e.logger.Debug("reply does not reconcile", "file", ropts.File, "error", err)
			continue
		}
		a.tree = out
		best = a
		if !log.Error {
			break
		}
	}
	if best == nil {
		return last, fmt.Errorf("%s: %w: %w", ropts.File, domain.ErrExhaustedRetries, lastErr)
	}
	if best.log.Error {
		e.logger.Debug("accepting reply with mismatches", "file", ropts.File, "mismatch", best.log)
	}
	return best, nil
}

// structureMarkdown renders the structure information for a prompt.
func structureMarkdown(structure *tree.Node) string {
	if structure == nil {
		return ""
	}
	return tree.ToMarkdown(structure)
}

// singleResponse wraps one question entry the way a per-question reply is
// shaped: under root and, when the question has one, its entity.
func singleResponse(root, entity string, entry *tree.Node) *tree.Node {
	if entity == "" {
		return tree.NewMap().Set(root, tree.List(entry))
	}
	return tree.NewMap().Set(root, tree.NewMap().Set(entity, tree.List(entry)))
}

// firstEntry returns the first question entry of a per-question reply.
func firstEntry(t *tree.Node, root, entity string) *tree.Node {
	path := []string{root}
	if entity != "" {
		path = append(path, entity)
	}
	for _, it := range t.Lookup(path...).Items() {
		if tree.IsQuestionEntry(it) {
			return it
		}
	}
	return nil
}

// setEntryAttr sets one attribute of a question entry.
func setEntryAttr(entry *tree.Node, key, value string) {
	attrs, _ := entry.Get(tree.ValueKey)
	if !attrs.IsMap() {
		attrs = tree.NewMap()
		entry.Set(tree.ValueKey, attrs)
	}
	attrs.Set(key, tree.Leaf(value))
}

// ErrModelCall wraps a model call that failed after transport retries.
var ErrModelCall = errors.New("model call failed")

func callError(key domain.StageKey, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrModelCall, key, err)
}
