package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/fintalk/fintalk/internal/corpus"
	"github.com/fintalk/fintalk/internal/embed"
	"github.com/fintalk/fintalk/internal/models"
)

func buildSnapshot(t *testing.T, txns []models.Transaction) *corpus.Snapshot {
	t.Helper()
	store := corpus.NewStore(embed.NewLocalEncoder("test"), 0, 0)
	snap, err := store.BuildEphemeral(context.Background(), txns)
	if err != nil {
		t.Fatalf("build snapshot: %v", err)
	}
	return snap
}

func testKernel() *Kernel {
	return NewKernel(embed.NewLocalEncoder("test"), 50, 200)
}

func TestKernel_VectorSearchPostFilter(t *testing.T) {
	txns := []models.Transaction{
		{TxnID: "T1", Amount: 500, Type: "DEBIT", Mode: "UPI", Date: "2024-03-01", Narration: "Zomato food"},
		{TxnID: "T2", Amount: 20000, Type: "DEBIT", Mode: "FT", Date: "2024-03-05", Narration: "Rent"},
		{TxnID: "T3", Amount: 900, Type: "CREDIT", Mode: "UPI", Date: "2024-03-07", Narration: "Zomato refund"},
	}
	snap := buildSnapshot(t, txns)

	f := models.FilterSpec{Types: []string{models.TypeDebit}}
	res, err := testKernel().Run(context.Background(), models.ModeVectorSearch, "zomato food order", f, snap)
	if err != nil {
		t.Fatalf("vector search failed: %v", err)
	}

	// Filter soundness: everything returned satisfies the predicate.
	for _, d := range res.Display {
		if d.Txn.NormalizedType() != models.TypeDebit {
			t.Errorf("non-debit %s leaked through the post-filter", d.Txn.TxnID)
		}
	}
	if res.Stats == nil || res.Stats.Count != res.MatchingCount {
		t.Errorf("vector mode should report a bare count")
	}
}

func TestKernel_StatisticalMatchesReference(t *testing.T) {
	var txns []models.Transaction
	for i := 0; i < 5; i++ {
		txns = append(txns, models.Transaction{
			TxnID: fmt.Sprintf("T%d", i), Amount: 2000, Type: "DEBIT", Mode: "UPI", Date: "2024-03-01",
		})
	}
	snap := buildSnapshot(t, txns)

	res, err := testKernel().Run(context.Background(), models.ModeStatistical, "कुल कितने डेबिट हुए?", models.FilterSpec{}, snap)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.Count != 5 || res.Stats.Total != 10000 {
		t.Errorf("stats = {count %d, total %.0f}, want {5, 10000}", res.Stats.Count, res.Stats.Total)
	}
	if len(res.ContextDocs) != 0 {
		t.Error("statistical mode must not prepare LLM context")
	}
}

func TestKernel_AnalyticalSampleBounded(t *testing.T) {
	var txns []models.Transaction
	for i := 0; i < 300; i++ {
		txns = append(txns, models.Transaction{
			TxnID:  fmt.Sprintf("T%03d", i),
			Amount: float64(i + 1),
			Type:   "DEBIT",
			Mode:   "UPI",
			Date:   fmt.Sprintf("2024-%02d-10", i%12+1),
		})
	}
	snap := buildSnapshot(t, txns)

	res, err := testKernel().Run(context.Background(), models.ModeAnalytical, "summarize my spending", models.FilterSpec{}, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ContextDocs) > analyticalSampleCap {
		t.Errorf("sample of %d exceeds the %d cap", len(res.ContextDocs), analyticalSampleCap)
	}
	if res.MatchingCount != 300 {
		t.Errorf("matching count = %d, want 300", res.MatchingCount)
	}
	if res.Stats.Monthly == nil || len(res.Stats.Monthly) != 12 {
		t.Errorf("expected 12 monthly buckets, got %d", len(res.Stats.Monthly))
	}

	// The largest amounts must be in the sample.
	found := false
	for _, d := range res.ContextDocs {
		if d.Txn.TxnID == "T299" {
			found = true
		}
	}
	if !found {
		t.Error("top-by-amount document missing from the analytical sample")
	}

	// And the sample must span months, not just the top amounts.
	months := map[string]bool{}
	for _, d := range res.ContextDocs {
		months[d.Txn.When().Format("2006-01")] = true
	}
	if len(months) < 6 {
		t.Errorf("sample covers only %d months", len(months))
	}
}

func TestKernel_SmartFullCeiling(t *testing.T) {
	var txns []models.Transaction
	for i := 0; i < 250; i++ {
		txns = append(txns, models.Transaction{
			TxnID: fmt.Sprintf("T%03d", i), Amount: float64(i), Type: "DEBIT", Mode: "UPI",
			Date: "2024-03-01",
		})
	}
	snap := buildSnapshot(t, txns)

	f := models.FilterSpec{Types: []string{models.TypeDebit}}
	res, err := testKernel().Run(context.Background(), models.ModeSmartFull, "show my debits", f, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ContextDocs) != 200 {
		t.Errorf("context should be truncated to the ceiling, got %d", len(res.ContextDocs))
	}
	if res.MatchingCount != 250 {
		t.Errorf("matching count = %d, want 250", res.MatchingCount)
	}
	if res.Stats.Count != 250 {
		t.Errorf("stats count = %d, want 250", res.Stats.Count)
	}
}

func TestKernel_SmartFullTopN(t *testing.T) {
	txns := []models.Transaction{
		{TxnID: "T1", Amount: 100, Type: "DEBIT", Mode: "UPI", Date: "2024-03-01"},
		{TxnID: "T2", Amount: 5000, Type: "DEBIT", Mode: "UPI", Date: "2024-03-02"},
		{TxnID: "T3", Amount: 12000, Type: "DEBIT", Mode: "UPI", Date: "2024-03-03"},
	}
	snap := buildSnapshot(t, txns)

	n := 2
	f := models.FilterSpec{
		Types: []string{models.TypeDebit}, TopN: &n,
		SortField: models.SortByAmount, SortOrder: models.SortDesc,
	}
	res, err := testKernel().Run(context.Background(), models.ModeSmartFull, "top 2 debits", f, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Display) != 2 || res.Display[0].Txn.TxnID != "T3" || res.Display[1].Txn.TxnID != "T2" {
		ids := make([]string, len(res.Display))
		for i, d := range res.Display {
			ids[i] = d.Txn.TxnID
		}
		t.Errorf("expected [T3 T2], got %v", ids)
	}
}
