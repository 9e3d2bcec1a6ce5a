package rag

import (
	"context"
	"fmt"
	"sort"

	"github.com/fintalk/fintalk/internal/corpus"
	"github.com/fintalk/fintalk/internal/embed"
	"github.com/fintalk/fintalk/internal/models"
)

// analyticalSampleCap bounds the representative documents handed to the
// LLM in ANALYTICAL mode so the prompt stays inside a sane token budget.
const analyticalSampleCap = 60

// analyticalTopShare of the sample is reserved for the largest amounts;
// the rest is spread across months.
const analyticalTopShare = 20

// Result is what a mode produces for the orchestrator: the LLM context
// subset, the statistics for the mode, and the ordered display set.
type Result struct {
	ContextDocs   []models.Document
	Stats         *models.Statistics
	MatchingCount int
	Display       []models.Document
}

// Kernel runs the per-mode retrieval and aggregation.
type Kernel struct {
	embedder     embed.Provider
	topK         int
	smartCeiling int
}

// NewKernel builds the kernel with the configured bounds.
func NewKernel(embedder embed.Provider, topK, smartCeiling int) *Kernel {
	if topK <= 0 {
		topK = 50
	}
	if smartCeiling <= 0 {
		smartCeiling = 200
	}
	return &Kernel{embedder: embedder, topK: topK, smartCeiling: smartCeiling}
}

// Run dispatches to the pipeline selected by the classifier.
func (k *Kernel) Run(ctx context.Context, mode models.QueryMode, prompt string, f models.FilterSpec, snap *corpus.Snapshot) (*Result, error) {
	switch mode {
	case models.ModeVectorSearch:
		return k.vectorSearch(ctx, prompt, f, snap)
	case models.ModeAnalytical:
		return k.analytical(f, snap), nil
	case models.ModeStatistical:
		return k.statistical(f, snap), nil
	case models.ModeSmartFull:
		return k.smartFull(f, snap), nil
	}
	return nil, fmt.Errorf("unknown query mode %q", mode)
}

// vectorSearch embeds the prompt, takes the k nearest documents and
// post-filters them with the FilterSpec. Similarity order is preserved.
func (k *Kernel) vectorSearch(ctx context.Context, prompt string, f models.FilterSpec, snap *corpus.Snapshot) (*Result, error) {
	vector, err := k.embedder.EmbedQuery(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("embed prompt: %w", err)
	}
	n := k.topK
	if snap.Count() < n {
		n = snap.Count()
	}
	hits, err := snap.Search(ctx, vector, n)
	if err != nil {
		return nil, err
	}
	matched := FilterDocuments(hits, f)
	return &Result{
		ContextDocs:   matched,
		Stats:         &models.Statistics{Count: len(matched)},
		MatchingCount: len(matched),
		Display:       matched,
	}, nil
}

// analytical scans the whole corpus, aggregates everything, and picks a
// bounded representative sample for the LLM: the largest amounts plus a
// stratified slice of each month.
func (k *Kernel) analytical(f models.FilterSpec, snap *corpus.Snapshot) *Result {
	matched := FilterDocuments(snap.Documents(), f)
	stats := ComputeStatistics(matched, true)

	display := make([]models.Document, len(matched))
	copy(display, matched)
	SortDocuments(display, f.SortField, f.SortOrder)

	return &Result{
		ContextDocs:   analyticalSample(matched),
		Stats:         stats,
		MatchingCount: len(matched),
		Display:       display,
	}
}

// analyticalSample keeps at most analyticalSampleCap documents: the top
// amounts first, then a round-robin walk over the months so every part
// of the period is represented.
func analyticalSample(matched []models.Document) []models.Document {
	if len(matched) <= analyticalSampleCap {
		return matched
	}

	sample := TopByAmount(matched, analyticalTopShare)
	seen := make(map[string]bool, len(sample))
	for _, d := range sample {
		seen[d.Txn.TxnID] = true
	}

	byMonth := make(map[string][]models.Document)
	var months []string
	for _, d := range matched {
		if seen[d.Txn.TxnID] {
			continue
		}
		key := "unknown"
		if when := d.Txn.When(); !when.IsZero() {
			key = when.Format("2006-01")
		}
		if _, ok := byMonth[key]; !ok {
			months = append(months, key)
		}
		byMonth[key] = append(byMonth[key], d)
	}
	sort.Strings(months)

	for len(sample) < analyticalSampleCap {
		progressed := false
		for _, m := range months {
			if len(byMonth[m]) == 0 {
				continue
			}
			sample = append(sample, byMonth[m][0])
			byMonth[m] = byMonth[m][1:]
			progressed = true
			if len(sample) == analyticalSampleCap {
				break
			}
		}
		if !progressed {
			break
		}
	}
	return sample
}

// statistical is the fast path: aggregate only, no LLM context at all.
func (k *Kernel) statistical(f models.FilterSpec, snap *corpus.Snapshot) *Result {
	matched := FilterDocuments(snap.Documents(), f)
	stats := ComputeStatistics(matched, true)

	display := make([]models.Document, len(matched))
	copy(display, matched)
	SortDocuments(display, f.SortField, f.SortOrder)

	return &Result{
		Stats:         stats,
		MatchingCount: len(matched),
		Display:       display,
	}
}

// smartFull scans with the filter and hands the result set to the LLM,
// truncated by the requested ordering once it exceeds the ceiling.
func (k *Kernel) smartFull(f models.FilterSpec, snap *corpus.Snapshot) *Result {
	matched := FilterDocuments(snap.Documents(), f)

	ordered := make([]models.Document, len(matched))
	copy(ordered, matched)
	SortDocuments(ordered, f.SortField, f.SortOrder)
	if f.TopN != nil && *f.TopN > 0 && len(ordered) > *f.TopN {
		ordered = ordered[:*f.TopN]
	}

	contextDocs := ordered
	if len(contextDocs) > k.smartCeiling {
		contextDocs = contextDocs[:k.smartCeiling]
	}

	return &Result{
		ContextDocs:   contextDocs,
		Stats:         ComputeStatistics(ordered, false),
		MatchingCount: len(ordered),
		Display:       ordered,
	}
}
