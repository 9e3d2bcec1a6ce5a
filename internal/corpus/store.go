package corpus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/fintalk/fintalk/internal/embed"
	"github.com/fintalk/fintalk/internal/models"
)

// Snapshot is one immutable generation of a user's corpus: the ordered
// documents and the vector collection built from them. Document i owns
// vector i; the pair is created atomically and never mutated.
type Snapshot struct {
	docs      []models.Document
	col       *chromem.Collection
	createdAt time.Time
	updatedAt time.Time
}

// Documents returns the ordered source-of-truth document list.
func (s *Snapshot) Documents() []models.Document { return s.docs }

// CreatedAt reports when this generation was built.
func (s *Snapshot) CreatedAt() time.Time { return s.createdAt }

// Count returns the number of documents.
func (s *Snapshot) Count() int { return len(s.docs) }

// UpdatedAt reports when this generation was committed.
func (s *Snapshot) UpdatedAt() time.Time { return s.updatedAt }

// Revision is a stable identifier of this generation, used as a cache
// key component for deterministic answers.
func (s *Snapshot) Revision() string {
	return strconv.FormatInt(s.updatedAt.UnixNano(), 36)
}

// Search runs an approximate nearest-neighbor query against the
// snapshot's collection and maps hits back to documents, most similar
// first.
func (s *Snapshot) Search(ctx context.Context, vector []float32, k int) ([]models.Document, error) {
	if len(s.docs) == 0 || k <= 0 {
		return nil, nil
	}
	if k > len(s.docs) {
		k = len(s.docs)
	}
	results, err := s.col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	out := make([]models.Document, 0, len(results))
	for _, res := range results {
		idx, err := strconv.Atoi(res.ID)
		if err != nil || idx < 0 || idx >= len(s.docs) {
			continue
		}
		out = append(out, s.docs[idx])
	}
	return out, nil
}

// entry is the per-user slot in the store map. The snapshot pointer is
// swapped atomically so readers are lock-free; the mutex serializes
// concurrent replaces for the same user (last commit wins).
type entry struct {
	mu         sync.Mutex
	snap       atomic.Pointer[Snapshot]
	lastAccess atomic.Int64
}

// Store manages all per-user corpora. It is the sole shared mutable
// structure of the engine; every other component reads snapshots.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*entry
	embedder embed.Provider
	maxDocs  int
	ttl      time.Duration
}

// NewStore creates the per-user store manager.
func NewStore(embedder embed.Provider, maxDocs int, ttl time.Duration) *Store {
	return &Store{
		users:    make(map[string]*entry),
		embedder: embedder,
		maxDocs:  maxDocs,
		ttl:      ttl,
	}
}

// getOrCreate returns the user's slot, constructing it at most once
// under concurrent callers (double-checked, as the vector stores in
// the rest of the stack do).
func (s *Store) getOrCreate(userID string) *entry {
	s.mu.RLock()
	e, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.users[userID]; ok {
		return e
	}
	e = &entry{}
	e.lastAccess.Store(time.Now().UnixNano())
	s.users[userID] = e
	return e
}

// build embeds the transactions and assembles a fresh snapshot off to
// the side. Nothing is visible to readers until the commit swap.
func (s *Store) build(ctx context.Context, txns []models.Transaction) (*Snapshot, error) {
	if s.maxDocs > 0 && len(txns) > s.maxDocs {
		return nil, models.NewError(models.ErrCorpusTooLarge,
			fmt.Sprintf("corpus of %d documents exceeds the %d ceiling", len(txns), s.maxDocs))
	}

	docs := make([]models.Document, len(txns))
	texts := make([]string, len(txns))
	for i, t := range txns {
		docs[i] = MakeDocument(t)
		texts[i] = docs[i].Text
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}

	// Each snapshot owns its own in-memory DB, which makes replace a
	// plain pointer swap with no cross-generation cleanup.
	db := chromem.NewDB()
	col, err := db.CreateCollection("txns", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	if len(docs) > 0 {
		cdocs := make([]chromem.Document, len(docs))
		for i := range docs {
			cdocs[i] = chromem.Document{
				ID:        strconv.Itoa(i),
				Content:   docs[i].Text,
				Embedding: vectors[i],
			}
		}
		if err := col.AddDocuments(ctx, cdocs, maxIndexConcurrency); err != nil {
			return nil, fmt.Errorf("index documents: %w", err)
		}
	}

	now := time.Now().UTC()
	return &Snapshot{docs: docs, col: col, createdAt: now, updatedAt: now}, nil
}

const maxIndexConcurrency = 4

// Replace atomically replaces the user's corpus with the given
// transactions. Concurrent readers observe either the previous
// generation or the new one in full, never a mix. A failed build
// leaves the previous generation untouched.
func (s *Store) Replace(ctx context.Context, userID string, txns []models.Transaction) (int, error) {
	snap, err := s.build(ctx, txns)
	if err != nil {
		return 0, err
	}

	e := s.getOrCreate(userID)
	e.mu.Lock()
	e.snap.Store(snap)
	e.mu.Unlock()
	e.lastAccess.Store(time.Now().UnixNano())

	log.Info().Str("user_id", userID).Int("documents", len(txns)).Msg("corpus replaced")
	return len(txns), nil
}

// BuildEphemeral assembles a snapshot that is never registered in the
// store, for inline context_data whose lifetime is a single call.
func (s *Store) BuildEphemeral(ctx context.Context, txns []models.Transaction) (*Snapshot, error) {
	return s.build(ctx, txns)
}

// Snapshot returns the user's current corpus generation, or false when
// the user has never ingested (or was evicted).
func (s *Store) Snapshot(userID string) (*Snapshot, bool) {
	s.mu.RLock()
	e, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	snap := e.snap.Load()
	if snap == nil {
		return nil, false
	}
	e.lastAccess.Store(time.Now().UnixNano())
	return snap, true
}

// Status reports ingestion state for /status.
func (s *Store) Status(userID string) (count int, updatedAt time.Time, ingested bool) {
	snap, ok := s.Snapshot(userID)
	if !ok {
		return 0, time.Time{}, false
	}
	return snap.Count(), snap.updatedAt, true
}

// Drop removes a user's corpus entirely.
func (s *Store) Drop(userID string) {
	s.mu.Lock()
	delete(s.users, userID)
	s.mu.Unlock()
}

// StartSweeper evicts stores idle past the TTL until ctx is cancelled.
// Eviction is safe: a store is rebuildable from a re-ingest.
func (s *Store) StartSweeper(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.ttl / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.ttl).UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, e := range s.users {
		if e.lastAccess.Load() < cutoff {
			delete(s.users, userID)
			log.Info().Str("user_id", userID).Msg("evicted idle corpus")
		}
	}
}
