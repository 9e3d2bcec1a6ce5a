package rag

import (
	"sort"
	"strings"
	"time"

	"github.com/fintalk/fintalk/internal/models"
)

// Matches evaluates the FilterSpec against one transaction: predicates
// are ANDed across fields and ORed inside each set-valued field.
func Matches(t models.Transaction, f models.FilterSpec) bool {
	if f.DateFrom != nil || f.DateTo != nil {
		when := t.When()
		if when.IsZero() {
			return false
		}
		d := time.Date(when.Year(), when.Month(), when.Day(), 0, 0, 0, 0, time.UTC)
		if f.DateFrom != nil && d.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && d.After(*f.DateTo) {
			return false
		}
	}
	if f.AmountMin != nil && t.Amount < *f.AmountMin {
		return false
	}
	if f.AmountMax != nil && t.Amount > *f.AmountMax {
		return false
	}
	if len(f.Types) > 0 && !containsFold(f.Types, t.NormalizedType()) {
		return false
	}
	if len(f.Modes) > 0 && !containsFold(f.Modes, t.NormalizedMode()) {
		return false
	}
	if len(f.Accounts) > 0 {
		ok := false
		for _, acc := range f.Accounts {
			if acc != "" && (strings.Contains(t.AccountNumber, acc) || strings.Contains(t.AccountID, acc)) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.TxnIDs) > 0 && !containsFold(f.TxnIDs, t.TxnID) {
		return false
	}
	return true
}

func containsFold(set []string, value string) bool {
	for _, v := range set {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

// FilterDocuments scans the corpus in order and keeps the documents the
// FilterSpec admits.
func FilterDocuments(docs []models.Document, f models.FilterSpec) []models.Document {
	var out []models.Document
	for _, d := range docs {
		if Matches(d.Txn, f) {
			out = append(out, d)
		}
	}
	return out
}

// ComputeStatistics aggregates the tuple for a filtered set. When full
// is false only the overall numbers are produced (the SMART_FULL and
// VECTOR_SEARCH paths); full adds the per-type, per-mode and monthly
// breakdowns.
func ComputeStatistics(docs []models.Document, full bool) *models.Statistics {
	stats := &models.Statistics{}
	for _, d := range docs {
		t := d.Txn
		stats.Count++
		stats.Total += t.Amount
		if stats.Min == nil || t.Amount < *stats.Min {
			v := t.Amount
			stats.Min = &v
		}
		if stats.Max == nil || t.Amount > *stats.Max {
			v := t.Amount
			stats.Max = &v
		}
	}
	if stats.Count > 0 {
		stats.Average = stats.Total / float64(stats.Count)
	}
	if !full || stats.Count == 0 {
		return stats
	}

	stats.ByType = make(map[string]models.GroupStats)
	stats.ByMode = make(map[string]models.GroupStats)
	stats.Monthly = make(map[string]models.MonthStats)
	for _, d := range docs {
		t := d.Txn
		if typ := t.NormalizedType(); typ != "" {
			g := stats.ByType[typ]
			g.Count++
			g.Sum += t.Amount
			stats.ByType[typ] = g
		}
		if mode := t.NormalizedMode(); mode != "" {
			g := stats.ByMode[mode]
			g.Count++
			g.Sum += t.Amount
			stats.ByMode[mode] = g
		}
		if when := t.When(); !when.IsZero() {
			key := when.Format("2006-01")
			m := stats.Monthly[key]
			m.Count++
			switch t.NormalizedType() {
			case models.TypeCredit:
				m.CreditSum += t.Amount
			case models.TypeDebit:
				m.DebitSum += t.Amount
			}
			m.Net = m.CreditSum - m.DebitSum
			stats.Monthly[key] = m
		}
	}
	return stats
}

// SortDocuments orders docs by the FilterSpec's sort, defaulting to
// date descending. Amount sorts break ties by date descending, then
// txnId ascending, so orderings are total and reproducible.
func SortDocuments(docs []models.Document, field, order string) {
	byDateDesc := func(a, b models.Transaction) bool {
		wa, wb := a.When(), b.When()
		if !wa.Equal(wb) {
			return wa.After(wb)
		}
		return a.TxnID < b.TxnID
	}
	switch field {
	case models.SortByAmount:
		sort.SliceStable(docs, func(i, j int) bool {
			a, b := docs[i].Txn, docs[j].Txn
			if a.Amount != b.Amount {
				if order == models.SortAsc {
					return a.Amount < b.Amount
				}
				return a.Amount > b.Amount
			}
			return byDateDesc(a, b)
		})
	default:
		sort.SliceStable(docs, func(i, j int) bool {
			a, b := docs[i].Txn, docs[j].Txn
			if order == models.SortAsc {
				return byDateDesc(b, a)
			}
			return byDateDesc(a, b)
		})
	}
}

// TopByAmount returns the n largest documents without disturbing the
// input order.
func TopByAmount(docs []models.Document, n int) []models.Document {
	sorted := make([]models.Document, len(docs))
	copy(sorted, docs)
	SortDocuments(sorted, models.SortByAmount, models.SortDesc)
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
