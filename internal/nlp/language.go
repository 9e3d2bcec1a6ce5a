package nlp

import (
	"strings"

	"github.com/fintalk/fintalk/internal/models"
)

// hinglishKeywords is the fixed Roman-script Hindi vocabulary that
// flags a prompt as Hinglish when no Devanagari is present.
var hinglishKeywords = map[string]bool{
	"mujhe": true, "saari": true, "dikhao": true, "batao": true,
	"kitna": true, "kitne": true, "kaha": true, "paisa": true,
	"kharcha": true, "mera": true, "meri": true, "mere": true,
	"pichle": true,
}

// DetectLanguage classifies a prompt as English, Devanagari Hindi or
// Roman-script Hinglish. The result controls only instruction wording,
// never content filtering.
func DetectLanguage(prompt string) models.Language {
	for _, r := range prompt {
		if r >= 0x0900 && r <= 0x097F {
			return models.LangHindi
		}
	}
	for _, tok := range strings.Fields(strings.ToLower(prompt)) {
		tok = strings.Trim(tok, ".,!?;:\"'")
		if hinglishKeywords[tok] {
			return models.LangHinglish
		}
	}
	return models.LangEnglish
}
