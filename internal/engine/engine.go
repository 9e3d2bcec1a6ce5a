package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fintalk/fintalk/internal/corpus"
	"github.com/fintalk/fintalk/internal/history"
	"github.com/fintalk/fintalk/internal/llm"
	"github.com/fintalk/fintalk/internal/models"
	"github.com/fintalk/fintalk/internal/nlp"
	"github.com/fintalk/fintalk/internal/prompt"
	"github.com/fintalk/fintalk/internal/rag"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Engine is the user-facing query orchestrator binding the store, the
// NLP stages, the retrieval kernel, the prompt assembler and the LLM.
type Engine struct {
	store   *corpus.Store
	kernel  *rag.Kernel
	llm     llm.Completer
	answers *prompt.AnswerGenerator
	history history.Store
	now     func() time.Time
}

// New wires the orchestrator. The history store may be a Noop.
func New(store *corpus.Store, kernel *rag.Kernel, completer llm.Completer, answers *prompt.AnswerGenerator, hist history.Store) *Engine {
	return &Engine{
		store:   store,
		kernel:  kernel,
		llm:     completer,
		answers: answers,
		history: hist,
		now:     time.Now,
	}
}

// Ingest replaces the user's corpus with the supplied transactions.
func (e *Engine) Ingest(ctx context.Context, req models.IngestRequest) (int, error) {
	if req.UserID == "" {
		return 0, models.NewError(models.ErrInternal, "user_id is required")
	}
	return e.store.Replace(ctx, req.UserID, req.ContextData)
}

// Status reports ingestion state for a user.
func (e *Engine) Status(userID string) (count int, updatedAt time.Time, ingested bool) {
	return e.store.Status(userID)
}

// History lists recent conversation events for a user.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]models.HistoryEvent, error) {
	return e.history.List(ctx, userID, limit)
}

// plan is the synchronous front half of a query: resolve the corpus,
// extract filters, detect language, classify the mode and run the
// kernel. Both the unary and the streaming paths share it.
type plan struct {
	snap     *corpus.Snapshot
	filters  models.FilterSpec
	language models.Language
	mode     models.QueryMode
	result   *rag.Result
}

func (e *Engine) plan(ctx context.Context, req models.QueryRequest) (*plan, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, models.NewError(models.ErrEmptyPrompt, "prompt is missing or blank")
	}

	var snap *corpus.Snapshot
	if len(req.ContextData) > 0 {
		// Inline context lives only for this call; nothing is persisted.
		built, err := e.store.BuildEphemeral(ctx, req.ContextData)
		if err != nil {
			return nil, err
		}
		snap = built
	} else {
		stored, ok := e.store.Snapshot(req.UserID)
		if !ok {
			return nil, models.NewError(models.ErrNotIngested,
				fmt.Sprintf("no corpus ingested for user %q and no inline context_data provided", req.UserID))
		}
		snap = stored
	}

	filters := nlp.ExtractFilters(req.Prompt, e.now())
	language := nlp.DetectLanguage(req.Prompt)
	mode := nlp.Classify(req.Prompt, filters)

	result, err := e.kernel.Run(ctx, mode, req.Prompt, filters, snap)
	if err != nil {
		return nil, err
	}
	return &plan{snap: snap, filters: filters, language: language, mode: mode, result: result}, nil
}

// answerFor produces the reply text for a planned query: the
// deterministic generator for STATISTICAL, the LLM for everything else.
func (e *Engine) answerFor(ctx context.Context, req models.QueryRequest, p *plan) (string, error) {
	if p.mode == models.ModeStatistical {
		return e.answers.Answer(p.result.Stats, p.language, e.statsCacheKey(p)), nil
	}
	messages := prompt.Assemble(prompt.Bundle{
		Prompt:      req.Prompt,
		Language:    p.language,
		Mode:        p.mode,
		Filters:     p.filters.Describe(),
		Stats:       p.result.Stats,
		ContextDocs: p.result.ContextDocs,
	})
	return e.llm.Complete(ctx, messages)
}

func (e *Engine) statsCacheKey(p *plan) string {
	return p.snap.Revision() + "|" + string(p.language) + "|" + strings.Join(p.filters.Describe(), ";")
}

// Query executes the unary /query and /prompt flow.
func (e *Engine) Query(ctx context.Context, req models.QueryRequest) (*models.RagResponse, error) {
	p, err := e.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	answer, err := e.answerFor(ctx, req, p)
	if err != nil {
		return nil, err
	}

	page, pagination := paginate(p.result.Display, req.Page, req.PageSize, req.ShowAll)
	e.appendHistory(ctx, req.UserID, req.Prompt, answer)

	return &models.RagResponse{
		QueryID:                   uuid.NewString(),
		Mode:                      p.mode,
		Answer:                    answer,
		MatchingTransactionsCount: p.result.MatchingCount,
		FiltersApplied:            p.filters.Describe(),
		Transactions:              page,
		Pagination:                pagination,
		Statistics:                p.result.Stats,
	}, nil
}

// Emitter receives the ordered SSE events of a streaming query.
type Emitter func(event string, payload any) error

// QueryStream executes the /query/stream flow: metadata first, then
// answer chunks, then the closing statistics and done marker. Any
// failure emits a single error event and ends the stream.
func (e *Engine) QueryStream(ctx context.Context, req models.QueryRequest, emit Emitter) error {
	p, err := e.plan(ctx, req)
	if err != nil {
		return e.emitError(emit, err)
	}

	filters := p.filters.Describe()
	if err := emit("metadata", models.StreamMetadata{
		Mode:                      p.mode,
		MatchingTransactionsCount: p.result.MatchingCount,
		FiltersApplied:            filters,
	}); err != nil {
		return err
	}

	var answer string
	if p.mode == models.ModeStatistical {
		answer = e.answers.Answer(p.result.Stats, p.language, e.statsCacheKey(p))
		if err := emit("chunk", models.StreamChunk{Text: answer}); err != nil {
			return err
		}
	} else {
		messages := prompt.Assemble(prompt.Bundle{
			Prompt:      req.Prompt,
			Language:    p.language,
			Mode:        p.mode,
			Filters:     filters,
			Stats:       p.result.Stats,
			ContextDocs: p.result.ContextDocs,
		})
		answer, err = e.llm.Stream(ctx, messages, func(text string) error {
			return emit("chunk", models.StreamChunk{Text: text})
		})
		if err != nil {
			return e.emitError(emit, err)
		}
	}

	_, pagination := paginate(p.result.Display, req.Page, req.PageSize, req.ShowAll)
	if err := emit("metadata_final", models.StreamFinal{
		Statistics: p.result.Stats,
		Pagination: pagination,
	}); err != nil {
		return err
	}

	e.appendHistory(ctx, req.UserID, req.Prompt, answer)
	return emit("done", struct{}{})
}

func (e *Engine) emitError(emit Emitter, err error) error {
	kind := models.KindOf(err)
	log.Error().Err(err).Str("error_kind", kind).Msg("streaming query failed")
	return emit("error", models.StreamError{ErrorKind: kind, Message: err.Error()})
}

// appendHistory is best-effort by contract: failures are logged and
// swallowed, never surfaced to the caller.
func (e *Engine) appendHistory(ctx context.Context, userID, promptText, answer string) {
	if userID == "" {
		return
	}
	if err := e.history.Append(ctx, userID, promptText, answer, e.now().UTC()); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("chat history append failed")
	}
}

// paginate slices the ordered display set. show_all collapses the
// result into a single page.
func paginate(display []models.Document, page, pageSize int, showAll bool) ([]models.Transaction, models.Pagination) {
	total := len(display)
	if showAll {
		page, pageSize = 1, total
		if pageSize == 0 {
			pageSize = defaultPageSize
		}
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize && !showAll {
		pageSize = maxPageSize
	}

	totalPages := (total + pageSize - 1) / pageSize
	lo := (page - 1) * pageSize
	hi := lo + pageSize
	if lo > total {
		lo = total
	}
	if hi > total {
		hi = total
	}

	txns := make([]models.Transaction, 0, hi-lo)
	for _, d := range display[lo:hi] {
		txns = append(txns, d.Txn)
	}
	return txns, models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && total > 0,
	}
}
