package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fintalk/fintalk/internal/llm"
	"github.com/fintalk/fintalk/internal/models"
)

// contextCharBudget caps the characters spent on context documents
// (roughly 4 chars per token). Statistics are never truncated; context
// is dropped from the tail once the budget runs out.
const contextCharBudget = 24000

const systemPrompt = `You are a careful financial analyst answering questions about a user's own bank transactions.
Format answers as markdown, using tables when they make the numbers clearer.
Always reply in the same language as the user's question.
Never invent, estimate or extrapolate transactions that are not present in the provided context.`

var languageDirectives = map[models.Language]string{
	models.LangEnglish:  "Answer in English.",
	models.LangHindi:    "उत्तर हिंदी (देवनागरी) में दें।",
	models.LangHinglish: "Answer in Hinglish (Hindi written in Roman script), matching the user's tone.",
}

// Bundle carries everything the assembler folds into the two-message
// prompt contract.
type Bundle struct {
	Prompt      string
	Language    models.Language
	Mode        models.QueryMode
	Filters     []string
	Stats       *models.Statistics
	ContextDocs []models.Document
}

// Assemble builds the system+user message pair: language directive,
// the user's question, applied filters, the statistics block for the
// aggregating modes, then the context documents under the budget.
func Assemble(b Bundle) []llm.Message {
	var user strings.Builder
	user.WriteString(languageDirectives[b.Language])
	user.WriteString("\n\nQuestion: ")
	user.WriteString(b.Prompt)
	user.WriteString("\n")

	if len(b.Filters) > 0 {
		user.WriteString("\nFilters applied to the transactions below:\n")
		for _, f := range b.Filters {
			user.WriteString("- ")
			user.WriteString(f)
			user.WriteString("\n")
		}
	}

	if b.Stats != nil && (b.Mode == models.ModeAnalytical || b.Mode == models.ModeSmartFull) {
		user.WriteString("\nAggregate statistics over all matching transactions:\n")
		user.WriteString(renderStatistics(b.Stats))
	}

	if len(b.ContextDocs) > 0 {
		user.WriteString("\nMatching transactions:\n")
		budget := contextCharBudget
		for i, doc := range b.ContextDocs {
			block := fmt.Sprintf("\n[%d]\n%s\n", i+1, doc.Text)
			if len(block) > budget {
				break
			}
			user.WriteString(block)
			budget -= len(block)
		}
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// renderStatistics lays the tuple out as plain labeled lines; the model
// reshapes them into prose or tables as the answer requires.
func renderStatistics(s *models.Statistics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "count: %d\n", s.Count)
	fmt.Fprintf(&b, "total: ₹%.2f\n", s.Total)
	fmt.Fprintf(&b, "average: ₹%.2f\n", s.Average)
	if s.Min != nil {
		fmt.Fprintf(&b, "min: ₹%.2f\n", *s.Min)
	}
	if s.Max != nil {
		fmt.Fprintf(&b, "max: ₹%.2f\n", *s.Max)
	}
	if len(s.ByType) > 0 {
		b.WriteString("by type:\n")
		for _, key := range sortedKeys(s.ByType) {
			g := s.ByType[key]
			fmt.Fprintf(&b, "  %s: %d transactions, ₹%.2f\n", key, g.Count, g.Sum)
		}
	}
	if len(s.ByMode) > 0 {
		b.WriteString("by mode:\n")
		for _, key := range sortedKeys(s.ByMode) {
			g := s.ByMode[key]
			fmt.Fprintf(&b, "  %s: %d transactions, ₹%.2f\n", key, g.Count, g.Sum)
		}
	}
	if len(s.Monthly) > 0 {
		b.WriteString("monthly:\n")
		months := make([]string, 0, len(s.Monthly))
		for m := range s.Monthly {
			months = append(months, m)
		}
		sort.Strings(months)
		for _, m := range months {
			g := s.Monthly[m]
			fmt.Fprintf(&b, "  %s: %d transactions, credit ₹%.2f, debit ₹%.2f, net ₹%.2f\n",
				m, g.Count, g.CreditSum, g.DebitSum, g.Net)
		}
	}
	return b.String()
}

func sortedKeys(m map[string]models.GroupStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
