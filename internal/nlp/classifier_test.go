package nlp

import (
	"testing"
	"time"

	"github.com/fintalk/fintalk/internal/models"
)

func classify(t *testing.T, prompt string) models.QueryMode {
	t.Helper()
	f := ExtractFilters(prompt, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	return Classify(prompt, f)
}

func TestClassify_Statistical(t *testing.T) {
	for _, prompt := range []string{
		"How many UPI transactions did I make?",
		"What is the total amount spent last month?",
		"average transaction size",
		"कुल कितने डेबिट हुए?",
		"kitne transactions hue is maheene",
	} {
		if mode := classify(t, prompt); mode != models.ModeStatistical {
			t.Errorf("%q: expected STATISTICAL, got %s", prompt, mode)
		}
	}
}

func TestClassify_Analytical(t *testing.T) {
	for _, prompt := range []string{
		"Summarize my spending last month",
		"Give me an overview of my transactions",
		"Analyze my spending patterns",
		"any unusual transactions this year?",
		"scan my account for anomalies",
	} {
		if mode := classify(t, prompt); mode != models.ModeAnalytical {
			t.Errorf("%q: expected ANALYTICAL, got %s", prompt, mode)
		}
	}
}

func TestClassify_AnalyticalBeatsStatistical(t *testing.T) {
	// Narrative words win even when an aggregation word is present.
	if mode := classify(t, "Summarize my total spending"); mode != models.ModeAnalytical {
		t.Errorf("expected ANALYTICAL, got %s", mode)
	}
}

func TestClassify_VectorSearch(t *testing.T) {
	for _, prompt := range []string{
		"Show the food transaction",
		"find the transaction where I paid rent",
		"show me transaction id TXN-17",
	} {
		if mode := classify(t, prompt); mode != models.ModeVectorSearch {
			t.Errorf("%q: expected VECTOR_SEARCH, got %s", prompt, mode)
		}
	}
}

func TestClassify_SmartFull(t *testing.T) {
	for _, prompt := range []string{
		"Mujhe ₹1000 se zyada wali UPI transactions dikhao",
		"all debits above 500 last month",
	} {
		if mode := classify(t, prompt); mode != models.ModeSmartFull {
			t.Errorf("%q: expected SMART_FULL, got %s", prompt, mode)
		}
	}
}

func TestClassify_DefaultIsVectorSearch(t *testing.T) {
	if mode := classify(t, "anything interesting lately"); mode != models.ModeVectorSearch {
		t.Errorf("expected VECTOR_SEARCH default, got %s", mode)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	prompt := "Summarize my spending last month"
	first := classify(t, prompt)
	for i := 0; i < 10; i++ {
		if got := classify(t, prompt); got != first {
			t.Fatalf("classification changed between calls: %s vs %s", first, got)
		}
	}
}
