package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fintalk/fintalk/internal/corpus"
	"github.com/fintalk/fintalk/internal/embed"
	"github.com/fintalk/fintalk/internal/history"
	"github.com/fintalk/fintalk/internal/llm"
	"github.com/fintalk/fintalk/internal/models"
	"github.com/fintalk/fintalk/internal/prompt"
	"github.com/fintalk/fintalk/internal/rag"
)

// fakeLLM is a scripted completer: a fixed answer, streamed in small
// fragments, with call counting for the fast-path assertions.
type fakeLLM struct {
	mu            sync.Mutex
	answer        string
	completeCalls int
	streamCalls   int
}

func (f *fakeLLM) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	return f.answer, nil
}

func (f *fakeLLM) Stream(ctx context.Context, msgs []llm.Message, fn func(string) error) (string, error) {
	f.mu.Lock()
	f.streamCalls++
	f.mu.Unlock()
	for i := 0; i < len(f.answer); i += 7 {
		hi := i + 7
		if hi > len(f.answer) {
			hi = len(f.answer)
		}
		if err := fn(f.answer[i:hi]); err != nil {
			return f.answer[:hi], err
		}
	}
	return f.answer, nil
}

func (f *fakeLLM) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completeCalls, f.streamCalls
}

// recordingHistory captures appends for assertions.
type recordingHistory struct {
	mu     sync.Mutex
	events []models.HistoryEvent
}

func (r *recordingHistory) Append(ctx context.Context, userID, prompt, answer string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, models.HistoryEvent{UserID: userID, Prompt: prompt, Answer: answer, Timestamp: ts})
	return nil
}

func (r *recordingHistory) List(ctx context.Context, userID string, limit int) ([]models.HistoryEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.HistoryEvent(nil), r.events...), nil
}

func (r *recordingHistory) Close() error { return nil }

func newTestEngine(t *testing.T, fake *fakeLLM, hist history.Store) (*Engine, *corpus.Store) {
	t.Helper()
	encoder := embed.NewLocalEncoder("test")
	store := corpus.NewStore(encoder, 0, 0)
	kernel := rag.NewKernel(encoder, 50, 200)
	answers, err := prompt.NewAnswerGenerator()
	if err != nil {
		t.Fatal(err)
	}
	if hist == nil {
		hist = history.Noop{}
	}
	eng := New(store, kernel, fake, answers, hist)
	return eng, store
}

func ingest(t *testing.T, eng *Engine, userID string, txns []models.Transaction) {
	t.Helper()
	if _, err := eng.Ingest(context.Background(), models.IngestRequest{UserID: userID, ContextData: txns}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
}

func upiCredits() []models.Transaction {
	return []models.Transaction{
		{TxnID: "T1", Amount: 100, Type: "CREDIT", Mode: "UPI", Date: "2024-03-01"},
		{TxnID: "T2", Amount: 5000, Type: "CREDIT", Mode: "UPI", Date: "2024-03-02"},
		{TxnID: "T3", Amount: 12000, Type: "CREDIT", Mode: "UPI", Date: "2024-03-03"},
	}
}

func TestQuery_EmptyPrompt(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeLLM{answer: "x"}, nil)
	_, err := eng.Query(context.Background(), models.QueryRequest{UserID: "u1", Prompt: "   "})
	if models.KindOf(err) != models.ErrEmptyPrompt {
		t.Errorf("expected EMPTY_PROMPT, got %v", err)
	}
}

func TestQuery_NotIngested(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeLLM{answer: "x"}, nil)
	_, err := eng.Query(context.Background(), models.QueryRequest{UserID: "ghost", Prompt: "show transactions"})
	if models.KindOf(err) != models.ErrNotIngested {
		t.Errorf("expected NOT_INGESTED, got %v", err)
	}
}

// Hinglish amount+mode filter routes through SMART_FULL and only the
// matching transactions come back.
func TestQuery_HinglishAmountFilter(t *testing.T) {
	fake := &fakeLLM{answer: "yeh rahe aapke transactions"}
	eng, _ := newTestEngine(t, fake, nil)
	ingest(t, eng, "u1", upiCredits())

	res, err := eng.Query(context.Background(), models.QueryRequest{
		UserID: "u1",
		Prompt: "Mujhe ₹1000 se zyada wali UPI transactions dikhao",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != models.ModeSmartFull {
		t.Errorf("mode = %s, want SMART_FULL", res.Mode)
	}

	joined := strings.Join(res.FiltersApplied, "; ")
	if !strings.Contains(joined, "amount >= 1000") || !strings.Contains(joined, "mode=UPI") {
		t.Errorf("filters_applied = %v", res.FiltersApplied)
	}

	if len(res.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(res.Transactions))
	}
	for _, txn := range res.Transactions {
		if txn.Amount < 1000 {
			t.Errorf("transaction %s violates the amount filter", txn.TxnID)
		}
	}
}

// The Hindi statistical prompt must bypass the LLM entirely and answer
// from the aggregation alone.
func TestQuery_StatisticalFastPath(t *testing.T) {
	fake := &fakeLLM{answer: "should never appear"}
	eng, _ := newTestEngine(t, fake, nil)

	var debits []models.Transaction
	for i := 0; i < 5; i++ {
		debits = append(debits, models.Transaction{
			TxnID: "D" + string(rune('1'+i)), Amount: 2000, Type: "DEBIT", Mode: "UPI", Date: "2024-03-01",
		})
	}
	ingest(t, eng, "u1", debits)

	res, err := eng.Query(context.Background(), models.QueryRequest{
		UserID: "u1",
		Prompt: "कुल कितने डेबिट हुए?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != models.ModeStatistical {
		t.Fatalf("mode = %s, want STATISTICAL", res.Mode)
	}
	if c, s := fake.calls(); c != 0 || s != 0 {
		t.Errorf("LLM must not be called in statistical mode (complete=%d stream=%d)", c, s)
	}
	if res.Statistics == nil || res.Statistics.Count != 5 || res.Statistics.Total != 10000 {
		t.Errorf("statistics = %+v", res.Statistics)
	}
	if !strings.Contains(res.Answer, "विवरण") {
		t.Errorf("expected a Hindi table, got %q", res.Answer)
	}
}

func TestQuery_InlineContextIsEphemeral(t *testing.T) {
	fake := &fakeLLM{answer: "ok"}
	eng, store := newTestEngine(t, fake, nil)

	res, err := eng.Query(context.Background(), models.QueryRequest{
		UserID:      "fresh",
		Prompt:      "show transactions above ₹10",
		ContextData: upiCredits(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.MatchingTransactionsCount == 0 {
		t.Error("inline context should be queryable")
	}
	if _, ok := store.Snapshot("fresh"); ok {
		t.Error("inline context must not persist past the call")
	}
}

func TestQuery_PaginationLaw(t *testing.T) {
	fake := &fakeLLM{answer: "ok"}
	eng, _ := newTestEngine(t, fake, nil)

	var txns []models.Transaction
	for i := 0; i < 23; i++ {
		txns = append(txns, models.Transaction{
			TxnID:  "T" + itoa(i),
			Amount: float64(i + 1), Type: "DEBIT", Mode: "UPI", Date: "2024-03-01",
		})
	}
	ingest(t, eng, "u1", txns)

	seen := map[string]bool{}
	pageSize := 5
	var total int
	for page := 1; ; page++ {
		res, err := eng.Query(context.Background(), models.QueryRequest{
			UserID: "u1", Prompt: "debit transactions above ₹0", Page: page, PageSize: pageSize,
		})
		if err != nil {
			t.Fatal(err)
		}
		total = res.Pagination.TotalItems
		if len(res.Transactions) > pageSize {
			t.Fatalf("page %d has %d items, cap is %d", page, len(res.Transactions), pageSize)
		}
		for _, txn := range res.Transactions {
			if seen[txn.TxnID] {
				t.Errorf("transaction %s appeared on two pages", txn.TxnID)
			}
			seen[txn.TxnID] = true
		}
		wantPages := (total + pageSize - 1) / pageSize
		if res.Pagination.TotalPages != wantPages {
			t.Errorf("total_pages = %d, want %d", res.Pagination.TotalPages, wantPages)
		}
		if res.Pagination.HasPrev != (page > 1) {
			t.Errorf("page %d has_prev = %v", page, res.Pagination.HasPrev)
		}
		if !res.Pagination.HasNext {
			break
		}
	}
	if len(seen) != total {
		t.Errorf("union of pages has %d items, matches are %d", len(seen), total)
	}
}

func TestQuery_Isolation(t *testing.T) {
	fake := &fakeLLM{answer: "ok"}
	eng, _ := newTestEngine(t, fake, nil)
	ingest(t, eng, "u1", upiCredits())
	ingest(t, eng, "u2", []models.Transaction{
		{TxnID: "OTHER-1", Amount: 999999, Type: "CREDIT", Mode: "UPI", Date: "2024-03-01"},
	})

	res, err := eng.Query(context.Background(), models.QueryRequest{
		UserID: "u1", Prompt: "show all UPI credits above ₹1",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, txn := range res.Transactions {
		if strings.HasPrefix(txn.TxnID, "OTHER") {
			t.Errorf("u2 transaction %s leaked into u1 response", txn.TxnID)
		}
	}
}

func TestQuery_AppendsHistory(t *testing.T) {
	fake := &fakeLLM{answer: "done"}
	hist := &recordingHistory{}
	eng, _ := newTestEngine(t, fake, hist)
	ingest(t, eng, "u1", upiCredits())

	if _, err := eng.Query(context.Background(), models.QueryRequest{
		UserID: "u1", Prompt: "show credits above ₹10",
	}); err != nil {
		t.Fatal(err)
	}
	events, _ := hist.List(context.Background(), "u1", 10)
	if len(events) != 1 || events[0].Answer != "done" {
		t.Errorf("history not recorded: %+v", events)
	}
}

// Streaming completeness: chunks concatenate to the unary answer, and
// the event order is metadata, chunks, metadata_final, done.
func TestQueryStream_MatchesUnary(t *testing.T) {
	fake := &fakeLLM{answer: "Here are your matching transactions, neatly summarized."}
	eng, _ := newTestEngine(t, fake, nil)
	ingest(t, eng, "u1", upiCredits())

	req := models.QueryRequest{UserID: "u1", Prompt: "show credits above ₹1000"}

	unary, err := eng.Query(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	var events []string
	var streamed strings.Builder
	err = eng.QueryStream(context.Background(), req, func(event string, payload any) error {
		events = append(events, event)
		if chunk, ok := payload.(models.StreamChunk); ok {
			streamed.WriteString(chunk.Text)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if streamed.String() != unary.Answer {
		t.Errorf("streamed answer differs from unary:\nstream: %q\nunary:  %q", streamed.String(), unary.Answer)
	}
	if events[0] != "metadata" {
		t.Errorf("first event = %s, want metadata", events[0])
	}
	if events[len(events)-1] != "done" || events[len(events)-2] != "metadata_final" {
		t.Errorf("tail events = %v", events[len(events)-2:])
	}
	for _, e := range events[1 : len(events)-2] {
		if e != "chunk" {
			t.Errorf("unexpected mid-stream event %s", e)
		}
	}
}

func TestQueryStream_StatisticalSkipsLLM(t *testing.T) {
	fake := &fakeLLM{answer: "nope"}
	eng, _ := newTestEngine(t, fake, nil)
	ingest(t, eng, "u1", upiCredits())

	var sawChunk bool
	err := eng.QueryStream(context.Background(), models.QueryRequest{
		UserID: "u1", Prompt: "how many credits in total?",
	}, func(event string, payload any) error {
		if event == "chunk" {
			sawChunk = true
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if c, s := fake.calls(); c != 0 || s != 0 {
		t.Error("statistical stream must not touch the LLM")
	}
	if !sawChunk {
		t.Error("statistical stream should still deliver the answer as a chunk")
	}
}

func TestQueryStream_ErrorEvent(t *testing.T) {
	fake := &fakeLLM{answer: "x"}
	eng, _ := newTestEngine(t, fake, nil)

	var events []string
	_ = eng.QueryStream(context.Background(), models.QueryRequest{
		UserID: "ghost", Prompt: "show transactions",
	}, func(event string, payload any) error {
		events = append(events, event)
		if event == "error" {
			se := payload.(models.StreamError)
			if se.ErrorKind != models.ErrNotIngested {
				t.Errorf("error_kind = %s, want NOT_INGESTED", se.ErrorKind)
			}
		}
		return nil
	})
	if len(events) != 1 || events[0] != "error" {
		t.Errorf("expected a single error event, got %v", events)
	}
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return string(rune('0'+i/10)) + string(rune('0'+i%10))
}
