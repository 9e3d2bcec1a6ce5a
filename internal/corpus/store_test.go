package corpus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fintalk/fintalk/internal/embed"
	"github.com/fintalk/fintalk/internal/models"
)

func newTestStore(maxDocs int) *Store {
	return NewStore(embed.NewLocalEncoder("test"), maxDocs, time.Hour)
}

func makeTxns(prefix string, n int) []models.Transaction {
	txns := make([]models.Transaction, n)
	for i := range txns {
		txns[i] = models.Transaction{
			TxnID:  fmt.Sprintf("%s-%d", prefix, i),
			Amount: float64(100 + i),
			Type:   "DEBIT",
			Mode:   "UPI",
			Date:   "2024-03-01",
		}
	}
	return txns
}

func TestStore_ReplaceAndSnapshot(t *testing.T) {
	store := newTestStore(0)
	ctx := context.Background()

	count, err := store.Replace(ctx, "u1", makeTxns("a", 5))
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 ingested, got %d", count)
	}

	snap, ok := store.Snapshot("u1")
	if !ok {
		t.Fatal("snapshot missing after replace")
	}
	if snap.Count() != 5 {
		t.Errorf("expected 5 documents, got %d", snap.Count())
	}
	// Document i and vector i are created together; the text must match
	// the canonical rendering of its own record.
	for i, doc := range snap.Documents() {
		if doc.Text != FormatTransaction(doc.Txn) {
			t.Errorf("document %d text out of sync with its metadata", i)
		}
	}
}

func TestStore_SnapshotMissingUser(t *testing.T) {
	store := newTestStore(0)
	if _, ok := store.Snapshot("ghost"); ok {
		t.Error("expected no snapshot for a user that never ingested")
	}
}

func TestStore_ReplaceIsAtomic(t *testing.T) {
	store := newTestStore(0)
	ctx := context.Background()

	a := makeTxns("a", 10)
	b := makeTxns("b", 7)
	if _, err := store.Replace(ctx, "u1", a); err != nil {
		t.Fatalf("seed replace failed: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers must only ever observe generation a or generation b in
	// full, never a mix of the two.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, ok := store.Snapshot("u1")
				if !ok {
					t.Error("snapshot vanished mid-replace")
					return
				}
				docs := snap.Documents()
				if len(docs) != 10 && len(docs) != 7 {
					t.Errorf("observed torn snapshot of %d documents", len(docs))
					return
				}
				prefix := docs[0].Txn.TxnID[:1]
				for _, d := range docs {
					if d.Txn.TxnID[:1] != prefix {
						t.Errorf("observed mixed generations: %s vs %s", prefix, d.Txn.TxnID)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		txns := a
		if i%2 == 1 {
			txns = b
		}
		if _, err := store.Replace(ctx, "u1", txns); err != nil {
			t.Fatalf("replace %d failed: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestStore_ConcurrentCreateSameUser(t *testing.T) {
	store := newTestStore(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Replace(ctx, "same", makeTxns("x", 3)); err != nil {
				t.Errorf("concurrent replace failed: %v", err)
			}
		}()
	}
	wg.Wait()

	snap, ok := store.Snapshot("same")
	if !ok || snap.Count() != 3 {
		t.Fatalf("expected one 3-document store, got ok=%v", ok)
	}
}

func TestStore_PerUserIsolation(t *testing.T) {
	store := newTestStore(0)
	ctx := context.Background()

	if _, err := store.Replace(ctx, "u1", makeTxns("u1", 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Replace(ctx, "u2", makeTxns("u2", 5)); err != nil {
		t.Fatal(err)
	}

	count1, _, _ := store.Status("u1")
	count2, _, _ := store.Status("u2")
	if count1 != 10 || count2 != 5 {
		t.Fatalf("expected counts 10/5, got %d/%d", count1, count2)
	}

	snap, _ := store.Snapshot("u1")
	for _, d := range snap.Documents() {
		if d.Txn.TxnID[:2] != "u1" {
			t.Errorf("u2 document leaked into u1 store: %s", d.Txn.TxnID)
		}
	}
}

func TestStore_CorpusCeiling(t *testing.T) {
	store := newTestStore(3)
	_, err := store.Replace(context.Background(), "u1", makeTxns("a", 4))
	if err == nil {
		t.Fatal("expected CORPUS_TOO_LARGE")
	}
	var ae *models.AppError
	if !errors.As(err, &ae) || ae.Kind != models.ErrCorpusTooLarge {
		t.Errorf("expected CORPUS_TOO_LARGE kind, got %v", err)
	}
	// A failed ingest must not leave a partial store behind.
	if _, ok := store.Snapshot("u1"); ok {
		t.Error("partial store visible after failed ingest")
	}
}

func TestSnapshot_SearchFindsLexicalMatch(t *testing.T) {
	store := newTestStore(0)
	ctx := context.Background()

	txns := []models.Transaction{
		{TxnID: "T1", Amount: 500, Type: "DEBIT", Mode: "UPI", Date: "2024-03-01", Narration: "Zomato food order"},
		{TxnID: "T2", Amount: 20000, Type: "DEBIT", Mode: "FT", Date: "2024-03-05", Narration: "Monthly rent"},
	}
	if _, err := store.Replace(ctx, "u1", txns); err != nil {
		t.Fatal(err)
	}
	snap, _ := store.Snapshot("u1")

	encoder := embed.NewLocalEncoder("test")
	vector, err := encoder.EmbedQuery(ctx, "zomato food order transaction")
	if err != nil {
		t.Fatal(err)
	}
	hits, err := snap.Search(ctx, vector, 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].Txn.TxnID != "T1" {
		t.Errorf("expected the food transaction first, got %s", hits[0].Txn.TxnID)
	}
}

func TestStore_EphemeralNotPersisted(t *testing.T) {
	store := newTestStore(0)
	snap, err := store.BuildEphemeral(context.Background(), makeTxns("tmp", 2))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Count() != 2 {
		t.Fatalf("expected 2 docs, got %d", snap.Count())
	}
	if _, ok := store.Snapshot("tmp"); ok {
		t.Error("ephemeral build must not register a user store")
	}
}
