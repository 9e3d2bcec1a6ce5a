package models

import (
	"fmt"
	"strings"
	"time"
)

// Transaction types carried by the corpus. The sign of cash-flow lives
// here exclusively; Amount is never negative.
const (
	TypeCredit = "CREDIT"
	TypeDebit  = "DEBIT"
)

// Payment modes. Unknown or missing modes normalize to ModeOthers.
const (
	ModeUPI    = "UPI"
	ModeFT     = "FT"
	ModeNEFT   = "NEFT"
	ModeIMPS   = "IMPS"
	ModeRTGS   = "RTGS"
	ModeCash   = "CASH"
	ModeCard   = "CARD"
	ModeATM    = "ATM"
	ModeOthers = "OTHERS"
)

// KnownModes lists every mode the engine recognizes.
var KnownModes = []string{ModeUPI, ModeFT, ModeNEFT, ModeIMPS, ModeRTGS, ModeCash, ModeCard, ModeATM, ModeOthers}

// Transaction is a semi-structured bank transaction record as received
// at ingest. Any field may be missing; normalization degrades gracefully.
type Transaction struct {
	TxnID         string   `json:"txnId"`
	AccountID     string   `json:"accountId,omitempty"`
	AccountNumber string   `json:"accountNumber,omitempty"`
	CreatedAt     string   `json:"createdAt,omitempty"`
	Date          string   `json:"date,omitempty"`
	Amount        float64  `json:"amount"`
	Type          string   `json:"type,omitempty"`
	PkGSI1        string   `json:"pk_GSI_1,omitempty"`
	Mode          string   `json:"mode,omitempty"`
	Narration     string   `json:"narration,omitempty"`
	Balance       *float64 `json:"balance,omitempty"`
	RefNumber     string   `json:"refNumber,omitempty"`
}

// dateLayouts covers the datetime shapes upstream aggregators emit.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02 Jan 2006",
	"02-01-2006",
}

// When parses the transaction's timestamp, preferring createdAt over
// date. Returns the zero time when neither parses.
func (t Transaction) When() time.Time {
	for _, raw := range []string{t.CreatedAt, t.Date} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Time{}
}

// NormalizedType resolves the CREDIT/DEBIT direction, either from the
// type field or from a composite attribute like "TYPE#CREDIT".
func (t Transaction) NormalizedType() string {
	typ := strings.ToUpper(strings.TrimSpace(t.Type))
	if typ == "" && t.PkGSI1 != "" {
		if idx := strings.LastIndex(t.PkGSI1, "#"); idx >= 0 {
			typ = strings.ToUpper(strings.TrimSpace(t.PkGSI1[idx+1:]))
		}
	}
	switch typ {
	case TypeCredit, TypeDebit:
		return typ
	}
	return ""
}

// NormalizedMode uppercases the payment mode and folds anything
// unrecognized into OTHERS. Empty stays empty so filters can skip it.
func (t Transaction) NormalizedMode() string {
	mode := strings.ToUpper(strings.TrimSpace(t.Mode))
	if mode == "" {
		return ""
	}
	for _, known := range KnownModes {
		if mode == known {
			return mode
		}
	}
	return ModeOthers
}

// Document is the atomic unit of embedding and of LLM context: the
// canonical text rendering plus the original typed record as metadata.
type Document struct {
	Text string      `json:"text"`
	Txn  Transaction `json:"metadata"`
}

// QueryMode is the closed set of execution pipelines.
type QueryMode string

const (
	ModeVectorSearch QueryMode = "VECTOR_SEARCH"
	ModeAnalytical   QueryMode = "ANALYTICAL"
	ModeStatistical  QueryMode = "STATISTICAL"
	ModeSmartFull    QueryMode = "SMART_FULL"
)

// Language of a prompt, per the detector's heuristics.
type Language string

const (
	LangEnglish  Language = "en"
	LangHindi    Language = "hi-Deva"
	LangHinglish Language = "hi-Latn"
)

// Sort fields and orders recognized by FilterSpec.
const (
	SortByAmount = "amount"
	SortByDate   = "date"
	SortAsc      = "asc"
	SortDesc     = "desc"
)

// FilterSpec is the structured result of rule-based filter extraction.
// Predicates are conjunctive across fields and disjunctive within the
// set-valued ones. Absent fields are simply unset, never errors.
type FilterSpec struct {
	DateFrom  *time.Time `json:"date_from,omitempty"`
	DateTo    *time.Time `json:"date_to,omitempty"` // inclusive
	AmountMin *float64   `json:"amount_min,omitempty"`
	AmountMax *float64   `json:"amount_max,omitempty"`
	Types     []string   `json:"type_in,omitempty"`
	Modes     []string   `json:"mode_in,omitempty"`
	Accounts  []string   `json:"account_in,omitempty"`
	TxnIDs    []string   `json:"txn_id_in,omitempty"`
	TopN      *int       `json:"top_n,omitempty"`
	SortField string     `json:"sort_field,omitempty"`
	SortOrder string     `json:"sort_order,omitempty"`
	Keywords  []string   `json:"free_text_keywords,omitempty"`
}

// Empty reports whether no predicate is set. Keywords and ordering
// alone do not count as predicates.
func (f FilterSpec) Empty() bool {
	return f.DateFrom == nil && f.DateTo == nil &&
		f.AmountMin == nil && f.AmountMax == nil &&
		len(f.Types) == 0 && len(f.Modes) == 0 &&
		len(f.Accounts) == 0 && len(f.TxnIDs) == 0
}

// Describe renders the applied predicates as short human-readable
// strings for filters_applied and for the prompt bullet list.
func (f FilterSpec) Describe() []string {
	var out []string
	if f.DateFrom != nil && f.DateTo != nil {
		out = append(out, fmt.Sprintf("date between %s and %s", f.DateFrom.Format("2006-01-02"), f.DateTo.Format("2006-01-02")))
	} else if f.DateFrom != nil {
		out = append(out, "date >= "+f.DateFrom.Format("2006-01-02"))
	} else if f.DateTo != nil {
		out = append(out, "date <= "+f.DateTo.Format("2006-01-02"))
	}
	if f.AmountMin != nil && f.AmountMax != nil && *f.AmountMin == *f.AmountMax {
		out = append(out, fmt.Sprintf("amount = %.2f", *f.AmountMin))
	} else {
		if f.AmountMin != nil {
			out = append(out, fmt.Sprintf("amount >= %.0f", *f.AmountMin))
		}
		if f.AmountMax != nil {
			out = append(out, fmt.Sprintf("amount <= %.0f", *f.AmountMax))
		}
	}
	if len(f.Types) > 0 {
		out = append(out, "type="+strings.Join(f.Types, "|"))
	}
	if len(f.Modes) > 0 {
		out = append(out, "mode="+strings.Join(f.Modes, "|"))
	}
	if len(f.Accounts) > 0 {
		out = append(out, "account="+strings.Join(f.Accounts, "|"))
	}
	if len(f.TxnIDs) > 0 {
		out = append(out, "txn_id="+strings.Join(f.TxnIDs, "|"))
	}
	if f.TopN != nil {
		out = append(out, fmt.Sprintf("top %d by %s %s", *f.TopN, f.SortField, f.SortOrder))
	}
	return out
}

// GroupStats aggregates one bucket of a type or mode breakdown.
type GroupStats struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
}

// MonthStats aggregates one YYYY-MM bucket.
type MonthStats struct {
	Count     int     `json:"count"`
	CreditSum float64 `json:"credit_sum"`
	DebitSum  float64 `json:"debit_sum"`
	Net       float64 `json:"net"`
}

// Statistics is the aggregation tuple computed by the kernel.
type Statistics struct {
	Count   int                   `json:"count"`
	Total   float64               `json:"total"`
	Average float64               `json:"average"`
	Min     *float64              `json:"min,omitempty"`
	Max     *float64              `json:"max,omitempty"`
	ByType  map[string]GroupStats `json:"by_type,omitempty"`
	ByMode  map[string]GroupStats `json:"by_mode,omitempty"`
	Monthly map[string]MonthStats `json:"monthly,omitempty"`
}

// Pagination describes the page slice returned in a RagResponse.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// RagResponse is the wire shape of /query and /prompt.
type RagResponse struct {
	QueryID                   string        `json:"query_id"`
	Mode                      QueryMode     `json:"mode"`
	Answer                    string        `json:"answer"`
	MatchingTransactionsCount int           `json:"matching_transactions_count"`
	FiltersApplied            []string      `json:"filters_applied"`
	Transactions              []Transaction `json:"transactions"`
	Pagination                Pagination    `json:"pagination"`
	Statistics                *Statistics   `json:"statistics,omitempty"`
}

// IngestRequest is the body of POST /ingest.
type IngestRequest struct {
	UserID      string        `json:"user_id"`
	ContextData []Transaction `json:"context_data"`
}

// QueryRequest is the body of /query, /prompt and /query/stream.
// ContextData, when present, is ingested ephemerally for this call only.
type QueryRequest struct {
	Prompt      string        `json:"prompt"`
	UserID      string        `json:"user_id"`
	ContextData []Transaction `json:"context_data,omitempty"`
	Page        int           `json:"page,omitempty"`
	PageSize    int           `json:"page_size,omitempty"`
	ShowAll     bool          `json:"show_all,omitempty"`
}

// HistoryEvent is one append-only chat history entry.
type HistoryEvent struct {
	UserID    string    `json:"user_id"`
	Prompt    string    `json:"prompt"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamMetadata is the first SSE event of /query/stream.
type StreamMetadata struct {
	Mode                      QueryMode `json:"mode"`
	MatchingTransactionsCount int       `json:"matching_transactions_count"`
	FiltersApplied            []string  `json:"filters_applied"`
}

// StreamChunk carries one text fragment of the model output.
type StreamChunk struct {
	Text string `json:"text"`
}

// StreamFinal closes the data portion of a stream with the statistics
// and pagination computed for the query.
type StreamFinal struct {
	Statistics *Statistics `json:"statistics"`
	Pagination Pagination  `json:"pagination"`
}

// StreamError is the single terminal error event of a failed stream.
type StreamError struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}
