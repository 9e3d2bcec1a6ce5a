package corpus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fintalk/fintalk/internal/models"
)

// Field labels of the canonical rendering. The same text feeds both
// the embedder and the LLM context, so there is a single source of
// truth and no train/serve skew.
const (
	labelTxnID     = "Transaction ID"
	labelAccount   = "Account Number"
	labelDate      = "Date"
	labelAmount    = "Amount"
	labelType      = "Type"
	labelMode      = "Mode"
	labelNarration = "Narration"
	labelBalance   = "Balance"
	labelRef       = "Reference Number"
)

// FormatTransaction renders a transaction to its canonical multi-line
// text: id, account, date (YYYY-MM-DD), amount with the rupee symbol
// and two decimals, type, mode, narration, then any extras.
func FormatTransaction(t models.Transaction) string {
	var b strings.Builder
	writeLine := func(label, value string) {
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}

	writeLine(labelTxnID, t.TxnID)
	writeLine(labelAccount, t.AccountNumber)
	date := ""
	if when := t.When(); !when.IsZero() {
		date = when.Format("2006-01-02")
	}
	writeLine(labelDate, date)
	writeLine(labelAmount, fmt.Sprintf("₹%.2f", t.Amount))
	writeLine(labelType, t.NormalizedType())
	writeLine(labelMode, t.NormalizedMode())
	writeLine(labelNarration, t.Narration)
	if t.Balance != nil {
		writeLine(labelBalance, fmt.Sprintf("₹%.2f", *t.Balance))
	}
	if t.RefNumber != "" {
		writeLine(labelRef, t.RefNumber)
	}
	return strings.TrimRight(b.String(), "\n")
}

// MakeDocument pairs the canonical text with the typed record.
func MakeDocument(t models.Transaction) models.Document {
	return models.Document{Text: FormatTransaction(t), Txn: t}
}

// ParseDocumentText is the inverse of FormatTransaction for the
// standard fields. Unknown lines are ignored.
func ParseDocumentText(text string) models.Transaction {
	var t models.Transaction
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch label {
		case labelTxnID:
			t.TxnID = value
		case labelAccount:
			t.AccountNumber = value
		case labelDate:
			t.Date = value
		case labelAmount:
			t.Amount = parseRupees(value)
		case labelType:
			t.Type = value
		case labelMode:
			t.Mode = value
		case labelNarration:
			t.Narration = value
		case labelBalance:
			bal := parseRupees(value)
			t.Balance = &bal
		case labelRef:
			t.RefNumber = value
		}
	}
	return t
}

func parseRupees(value string) float64 {
	value = strings.TrimPrefix(strings.TrimSpace(value), "₹")
	amount, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return amount
}
