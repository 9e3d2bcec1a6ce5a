package nlp

import (
	"regexp"
	"strings"

	"github.com/fintalk/fintalk/internal/models"
)

// Signal words for the analytical pipeline, in all three scripts.
var reAnalytical = regexp.MustCompile(strings.Join([]string{
	`\bsummari[sz]e\b`, `\bsummary\b`, `\boverview\b`, `\banaly[sz]e\b`,
	`\banalysis\b`, `\bpatterns?\b`, `\btrends?\b`, `\bunusual\b`,
	`\banomal\w*`, `\bscan\b`, `\binsights?\b`, `\bbreakdown\b`,
	`\bhabits?\b`, `\bvishleshan\b`, `\bsamjhao\b`,
	`विश्लेषण`, `सारांश`, `रुझान`, `असामान्य`,
}, "|"))

// Signal words for the statistical fast path.
var reStatistical = regexp.MustCompile(strings.Join([]string{
	`\bcount\b`, `\bhow\s+many\b`, `\bhow\s+much\b`, `\btotal\b`,
	`\bsum\b`, `\baverage\b`, `\bavg\b`, `\bminimum\b`, `\bmaximum\b`,
	`\bmin\b`, `\bmax\b`, `\bkitna\b`, `\bkitne\b`, `\bkul\b`,
	`कितना`, `कितने`, `कुल`, `औसत`, `जोड़`,
}, "|"))

// A specific-lookup phrasing: "find/show me the transaction where ...".
var reLookup = regexp.MustCompile(
	`\b(?:find|show(?:\s+me)?|search(?:\s+for)?|locate|get|dhundo|khojo|ढूंढो|खोजो)\b[^.?!]*\b(?:transaction|txn|लेनदेन)\b(?:[^s]|$)`)

// Classify selects exactly one execution pipeline for the prompt. The
// decision is a pure function of the prompt text and the extracted
// FilterSpec, so repeated calls always agree.
func Classify(prompt string, f models.FilterSpec) models.QueryMode {
	lower := strings.ToLower(prompt)

	// Narrative requests win over bare aggregation words: "summarize my
	// total spending" wants prose, not a single number.
	if reAnalytical.MatchString(lower) {
		return models.ModeAnalytical
	}
	if reStatistical.MatchString(lower) {
		return models.ModeStatistical
	}
	if len(f.TxnIDs) > 0 || reLookup.MatchString(lower) {
		return models.ModeVectorSearch
	}
	if !f.Empty() {
		return models.ModeSmartFull
	}
	return models.ModeVectorSearch
}
