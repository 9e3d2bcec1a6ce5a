package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"

	"github.com/fintalk/fintalk/internal/models"
)

// answerTTL bounds how long a cached statistical answer may outlive the
// corpus generation it was computed from.
const answerTTL = 15 * time.Minute

// AnswerGenerator synthesizes the STATISTICAL fast-path reply without
// touching the LLM. Output is deterministic for a fixed statistics
// tuple and language, so it is cached.
type AnswerGenerator struct {
	cache *ristretto.Cache[string, string]
}

// NewAnswerGenerator builds the generator with its answer cache.
func NewAnswerGenerator() (*AnswerGenerator, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 10_000,
		MaxCost:     4 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("answer cache: %w", err)
	}
	return &AnswerGenerator{cache: cache}, nil
}

// Answer renders the statistics in the detected language. cacheKey must
// bind the corpus revision, the filter fingerprint and the language.
func (g *AnswerGenerator) Answer(stats *models.Statistics, lang models.Language, cacheKey string) string {
	if cached, ok := g.cache.Get(cacheKey); ok {
		return cached
	}
	answer := renderAnswer(stats, lang)
	g.cache.SetWithTTL(cacheKey, answer, int64(len(answer)), answerTTL)
	return answer
}

type answerWording struct {
	verdictNone string
	verdict     string // fmt: count, total
	metric      string
	value       string
	count       string
	total       string
	average     string
	min         string
	max         string
	byType      string
	byMode      string
}

var wordings = map[models.Language]answerWording{
	models.LangEnglish: {
		verdictNone: "No transactions match your query.",
		verdict:     "Found **%s** matching transactions totalling **₹%s**.",
		metric:      "Metric", value: "Value",
		count: "Count", total: "Total", average: "Average",
		min: "Minimum", max: "Maximum",
		byType: "By type", byMode: "By mode",
	},
	models.LangHindi: {
		verdictNone: "आपके प्रश्न से मेल खाता कोई लेनदेन नहीं मिला।",
		verdict:     "कुल **%s** लेनदेन मिले, कुल राशि **₹%s**।",
		metric:      "विवरण", value: "मान",
		count: "संख्या", total: "कुल राशि", average: "औसत",
		min: "न्यूनतम", max: "अधिकतम",
		byType: "प्रकार के अनुसार", byMode: "माध्यम के अनुसार",
	},
	models.LangHinglish: {
		verdictNone: "Aapke sawaal se milta koi transaction nahi mila.",
		verdict:     "**%s** matching transactions mile, total **₹%s**.",
		metric:      "Metric", value: "Value",
		count: "Count", total: "Total", average: "Average",
		min: "Minimum", max: "Maximum",
		byType: "Type ke hisaab se", byMode: "Mode ke hisaab se",
	},
}

func renderAnswer(stats *models.Statistics, lang models.Language) string {
	w, ok := wordings[lang]
	if !ok {
		w = wordings[models.LangEnglish]
	}
	if stats == nil || stats.Count == 0 {
		return w.verdictNone
	}

	var b strings.Builder
	fmt.Fprintf(&b, w.verdict, humanize.Comma(int64(stats.Count)), money(stats.Total))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "| %s | %s |\n|---|---|\n", w.metric, w.value)
	fmt.Fprintf(&b, "| %s | %s |\n", w.count, humanize.Comma(int64(stats.Count)))
	fmt.Fprintf(&b, "| %s | ₹%s |\n", w.total, money(stats.Total))
	fmt.Fprintf(&b, "| %s | ₹%s |\n", w.average, money(stats.Average))
	if stats.Min != nil {
		fmt.Fprintf(&b, "| %s | ₹%s |\n", w.min, money(*stats.Min))
	}
	if stats.Max != nil {
		fmt.Fprintf(&b, "| %s | ₹%s |\n", w.max, money(*stats.Max))
	}

	if len(stats.ByType) > 1 {
		b.WriteString("\n")
		fmt.Fprintf(&b, "| %s | %s | ₹ |\n|---|---|---|\n", w.byType, w.count)
		for _, key := range groupKeys(stats.ByType) {
			g := stats.ByType[key]
			fmt.Fprintf(&b, "| %s | %s | %s |\n", key, humanize.Comma(int64(g.Count)), money(g.Sum))
		}
	}
	if len(stats.ByMode) > 1 {
		b.WriteString("\n")
		fmt.Fprintf(&b, "| %s | %s | ₹ |\n|---|---|---|\n", w.byMode, w.count)
		for _, key := range groupKeys(stats.ByMode) {
			g := stats.ByMode[key]
			fmt.Fprintf(&b, "| %s | %s | %s |\n", key, humanize.Comma(int64(g.Count)), money(g.Sum))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func money(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}

func groupKeys(m map[string]models.GroupStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
