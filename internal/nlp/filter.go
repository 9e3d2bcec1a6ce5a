package nlp

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fintalk/fintalk/internal/models"
)

// ExtractFilters parses a natural-language prompt into a FilterSpec.
// Rule-based and side-effect free; clauses it does not recognize are
// simply absent from the result. now anchors relative date phrases.
func ExtractFilters(prompt string, now time.Time) models.FilterSpec {
	var f models.FilterSpec
	lower := strings.ToLower(prompt)
	now = now.UTC()

	amountSpans := extractAmounts(lower, &f)
	extractDates(lower, now, &f)
	extractTypes(lower, &f)
	extractModes(lower, &f)
	extractAccountsAndIDs(prompt, lower, amountSpans, &f)
	extractOrdering(lower, &f)
	f.Keywords = extractKeywords(lower)
	return f
}

// --- amounts ---

// amountToken matches a money literal with an optional currency marker:
// "₹1,000", "rs 500", "5000 rupees", "1200.50".
const amountToken = `(?:₹|rs\.?\s*|inr\s*)?([0-9][0-9,]*(?:\.[0-9]+)?)(?:\s*(?:rupees?|rupaye|rs\.?|inr))?`

var (
	reBetween = regexp.MustCompile(`between\s+` + amountToken + `\s+(?:and|aur|to|-)\s+` + amountToken)
	reAbove   = regexp.MustCompile(`(?:above|over|greater\s+than|more\s+than|at\s+least|exceeding|upwards\s+of|se\s+upar\s+wali)\s+` + amountToken)
	reBelow   = regexp.MustCompile(`(?:below|under|less\s+than|at\s+most|up\s*to|within)\s+` + amountToken)
	reZyada   = regexp.MustCompile(amountToken + `\s+se\s+(?:zyada|jyada|upar|adhik)`)
	reKam     = regexp.MustCompile(amountToken + `\s+se\s+(?:kam|neeche|niche)`)
	reExact   = regexp.MustCompile(`(?:₹|rs\.?\s*|inr\s*)([0-9][0-9,]*(?:\.[0-9]+)?)|([0-9][0-9,]*(?:\.[0-9]+)?)\s*(?:rupees?|rupaye)`)
)

func parseAmount(raw string) (float64, bool) {
	raw = strings.ReplaceAll(raw, ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// extractAmounts fills the amount range and returns the byte spans the
// amount clauses consumed, so account-number extraction can skip them.
func extractAmounts(lower string, f *models.FilterSpec) [][]int {
	var spans [][]int

	if m := reBetween.FindStringSubmatchIndex(lower); m != nil {
		lo, okLo := parseAmount(lower[m[2]:m[3]])
		hi, okHi := parseAmount(lower[m[4]:m[5]])
		if okLo && okHi {
			if lo > hi {
				lo, hi = hi, lo
			}
			f.AmountMin, f.AmountMax = &lo, &hi
			spans = append(spans, []int{m[0], m[1]})
		}
	}
	for _, re := range []*regexp.Regexp{reAbove, reZyada} {
		if m := re.FindStringSubmatchIndex(lower); m != nil && f.AmountMin == nil {
			if v, ok := parseAmount(lower[m[2]:m[3]]); ok {
				f.AmountMin = &v
				spans = append(spans, []int{m[0], m[1]})
			}
		}
	}
	for _, re := range []*regexp.Regexp{reBelow, reKam} {
		if m := re.FindStringSubmatchIndex(lower); m != nil && f.AmountMax == nil {
			if v, ok := parseAmount(lower[m[2]:m[3]]); ok {
				f.AmountMax = &v
				spans = append(spans, []int{m[0], m[1]})
			}
		}
	}

	// A lone currency-marked amount with no qualifier is an exact match.
	if f.AmountMin == nil && f.AmountMax == nil {
		if m := reExact.FindStringSubmatchIndex(lower); m != nil {
			raw := ""
			if m[2] >= 0 {
				raw = lower[m[2]:m[3]]
			} else if m[4] >= 0 {
				raw = lower[m[4]:m[5]]
			}
			if v, ok := parseAmount(raw); ok {
				f.AmountMin, f.AmountMax = &v, &v
				spans = append(spans, []int{m[0], m[1]})
			}
		}
	}
	return spans
}

// --- dates ---

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

const monthAlt = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var (
	reQualifier  = `(?:(since|from|after|before|until|till|upto)\s+)?`
	reISODate    = regexp.MustCompile(reQualifier + `\b(\d{4})-(\d{2})-(\d{2})\b`)
	reDayMonth   = regexp.MustCompile(reQualifier + `\b(\d{1,2})(?:st|nd|rd|th)?\s+(` + monthAlt + `)\s+(\d{4})\b`)
	reMonthDay   = regexp.MustCompile(reQualifier + `\b(` + monthAlt + `)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	reMonthYear  = regexp.MustCompile(`\b(` + monthAlt + `)\s+(\d{4})\b`)
	reYear       = regexp.MustCompile(`\b(?:in|during|year|for)\s+(20\d{2})\b`)
	reLastNDays  = regexp.MustCompile(`\b(?:last|past|pichle|pichhle)\s+(\d+)\s+(?:days?|din(?:on)?)\b`)
	reLastMonth  = regexp.MustCompile(`\blast\s+month\b|\bpich{1,2}le\s+mah(?:ee|i)ne\b|पिछले\s+महीने?`)
	reThisMonth  = regexp.MustCompile(`\bthis\s+month\b|\bis\s+mah(?:ee|i)ne\b|इस\s+महीने?`)
	reLastWeek   = regexp.MustCompile(`\blast\s+week\b|\bpich{1,2}le\s+haft(?:e|a)\b|पिछले\s+हफ़?्ते`)
	reThisWeek   = regexp.MustCompile(`\bthis\s+week\b|\bis\s+haft(?:e|a)\b|इस\s+हफ़?्ते`)
	reLastYear   = regexp.MustCompile(`\blast\s+year\b|\bpich{1,2}le\s+saal\b|पिछले\s+साल`)
	reThisYear   = regexp.MustCompile(`\bthis\s+year\b|\bis\s+saal\b|इस\s+साल`)
	reYesterday  = regexp.MustCompile(`\byesterday\b|\bkal\b|कल`)
	reToday      = regexp.MustCompile(`\btoday\b|\baaj\b|आज`)
)

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func setRange(f *models.FilterSpec, from, to time.Time) {
	f.DateFrom, f.DateTo = &from, &to
}

// applyQualified interprets the optional since/until qualifier around an
// absolute date; without one, the date becomes an exact-day range.
func applyQualified(f *models.FilterSpec, qualifier string, on time.Time) {
	switch qualifier {
	case "since", "from", "after":
		f.DateFrom = &on
	case "before", "until", "till", "upto":
		f.DateTo = &on
	default:
		setRange(f, on, on)
	}
}

func extractDates(lower string, now time.Time, f *models.FilterSpec) {
	today := day(now)

	switch {
	case reLastMonth.MatchString(lower):
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		setRange(f, first.AddDate(0, -1, 0), first.AddDate(0, 0, -1))
		return
	case reThisMonth.MatchString(lower):
		setRange(f, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), today)
		return
	case reLastWeek.MatchString(lower):
		weekday := int(today.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		monday := today.AddDate(0, 0, -(weekday - 1))
		setRange(f, monday.AddDate(0, 0, -7), monday.AddDate(0, 0, -1))
		return
	case reThisWeek.MatchString(lower):
		weekday := int(today.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		setRange(f, today.AddDate(0, 0, -(weekday-1)), today)
		return
	case reLastYear.MatchString(lower):
		setRange(f,
			time.Date(now.Year()-1, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(now.Year()-1, 12, 31, 0, 0, 0, 0, time.UTC))
		return
	case reThisYear.MatchString(lower):
		setRange(f, time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC), today)
		return
	}

	if m := reLastNDays.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			setRange(f, today.AddDate(0, 0, -n), today)
			return
		}
	}

	if m := reISODate.FindStringSubmatch(lower); m != nil {
		year, _ := strconv.Atoi(m[2])
		month, _ := strconv.Atoi(m[3])
		dd, _ := strconv.Atoi(m[4])
		if month >= 1 && month <= 12 && dd >= 1 && dd <= 31 {
			applyQualified(f, m[1], time.Date(year, time.Month(month), dd, 0, 0, 0, 0, time.UTC))
			return
		}
	}
	if m := reDayMonth.FindStringSubmatch(lower); m != nil {
		dd, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[4])
		if month, ok := monthNames[m[3]]; ok && dd >= 1 && dd <= 31 {
			applyQualified(f, m[1], time.Date(year, month, dd, 0, 0, 0, 0, time.UTC))
			return
		}
	}
	if m := reMonthDay.FindStringSubmatch(lower); m != nil {
		dd, _ := strconv.Atoi(m[3])
		year, _ := strconv.Atoi(m[4])
		if month, ok := monthNames[m[2]]; ok && dd >= 1 && dd <= 31 {
			applyQualified(f, m[1], time.Date(year, month, dd, 0, 0, 0, 0, time.UTC))
			return
		}
	}
	if m := reMonthYear.FindStringSubmatch(lower); m != nil {
		if month, ok := monthNames[m[1]]; ok {
			year, _ := strconv.Atoi(m[2])
			first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
			setRange(f, first, first.AddDate(0, 1, -1))
			return
		}
	}
	if m := reYear.FindStringSubmatch(lower); m != nil {
		year, _ := strconv.Atoi(m[1])
		setRange(f,
			time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC))
		return
	}

	// Bare day words come last so explicit dates win.
	if reYesterday.MatchString(lower) && !reToday.MatchString(lower) {
		y := today.AddDate(0, 0, -1)
		setRange(f, y, y)
		return
	}
	if reToday.MatchString(lower) {
		setRange(f, today, today)
	}
}

// --- types and modes ---

var (
	// "credit card" / "debit card" name the CARD mode, not a direction;
	// they are cut out before type matching.
	reCardPhrase = regexp.MustCompile(`\b(?:credit|debit)\s+card\b`)
	reCredit     = regexp.MustCompile(`\b(?:credits?|credited|incoming|received|deposits?|deposited|jama)\b|क्रेडिट|जमा`)
	reDebit      = regexp.MustCompile(`\b(?:debits?|debited|spent|spends?|spending|paid|payments?|withdrawals?|withdrawn|outgoing|expenses?|kharcha|kharch|kharche)\b|डेबिट|खर्चा?|भुगतान|निकासी`)
)

func extractTypes(lower string, f *models.FilterSpec) {
	stripped := reCardPhrase.ReplaceAllString(lower, " card ")
	if reCredit.MatchString(stripped) {
		f.Types = append(f.Types, models.TypeCredit)
	}
	if reDebit.MatchString(stripped) {
		f.Types = append(f.Types, models.TypeDebit)
	}
}

var modePatterns = []struct {
	re   *regexp.Regexp
	mode string
}{
	{regexp.MustCompile(`\bupi\b|यूपीआई`), models.ModeUPI},
	{regexp.MustCompile(`\bneft\b`), models.ModeNEFT},
	{regexp.MustCompile(`\brtgs\b`), models.ModeRTGS},
	{regexp.MustCompile(`\bimps\b`), models.ModeIMPS},
	{regexp.MustCompile(`\bft\b|\bfund\s+transfers?\b`), models.ModeFT},
	{regexp.MustCompile(`\b(?:credit|debit)\s+card\b|\bcards?\b|कार्ड`), models.ModeCard},
	{regexp.MustCompile(`\bcash\b|नकद|नगद`), models.ModeCash},
	{regexp.MustCompile(`\batm\b|एटीएम`), models.ModeATM},
}

func extractModes(lower string, f *models.FilterSpec) {
	for _, p := range modePatterns {
		if p.re.MatchString(lower) {
			f.Modes = append(f.Modes, p.mode)
		}
	}
}

// --- accounts and transaction ids ---

var (
	reAccountNum = regexp.MustCompile(`\b\d{6,}\b`)
	reTxnID      = regexp.MustCompile(`(?:transaction\s+id|txn\s+id|txn)[\s:#]*([A-Za-z0-9][A-Za-z0-9\-_]{2,})`)
	reQuoted     = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	reHasDigit   = regexp.MustCompile(`\d`)
)

func overlaps(lo, hi int, spans [][]int) bool {
	for _, s := range spans {
		if lo < s[1] && hi > s[0] {
			return true
		}
	}
	return false
}

func extractAccountsAndIDs(prompt, lower string, amountSpans [][]int, f *models.FilterSpec) {
	var idSpans [][]int
	for _, m := range reTxnID.FindAllStringSubmatchIndex(lower, -1) {
		token := prompt[m[2]:m[3]]
		// A long pure-digit token after "txn" is more plausibly an
		// account number; leave it for the account matcher.
		if len(token) >= 6 && strings.TrimFunc(token, isDigit) == "" {
			continue
		}
		f.TxnIDs = appendUnique(f.TxnIDs, token)
		idSpans = append(idSpans, []int{m[0], m[1]})
	}

	for _, m := range reQuoted.FindAllStringSubmatch(prompt, -1) {
		quoted := m[1]
		if quoted == "" {
			quoted = m[2]
		}
		if reAccountNum.MatchString(quoted) && len(strings.TrimFunc(quoted, isDigit)) == 0 {
			f.Accounts = appendUnique(f.Accounts, quoted)
		} else if reHasDigit.MatchString(quoted) {
			f.TxnIDs = appendUnique(f.TxnIDs, quoted)
		}
	}

	for _, m := range reAccountNum.FindAllStringIndex(lower, -1) {
		if overlaps(m[0], m[1], amountSpans) || overlaps(m[0], m[1], idSpans) {
			continue
		}
		f.Accounts = appendUnique(f.Accounts, lower[m[0]:m[1]])
	}
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

// --- ordering ---

var (
	reTopN    = regexp.MustCompile(`\btop\s+(\d+)\b`)
	reHighest = regexp.MustCompile(`\b(?:top|highest|largest|biggest|maximum)\b|\bsabse\s+(?:badi|bada|zyada|mehn?gi)\b|सबसे\s+(?:बड़[ीे]|ज़्यादा|महंग[ीे])`)
	reLowest  = regexp.MustCompile(`\b(?:smallest|lowest|minimum|cheapest)\b|\bsabse\s+(?:choti|chota|kam|sasti)\b|सबसे\s+(?:छोट[ीे]|कम|सस्त[ीे])`)
)

func extractOrdering(lower string, f *models.FilterSpec) {
	n := 0
	if m := reTopN.FindStringSubmatch(lower); m != nil {
		n, _ = strconv.Atoi(m[1])
	}
	switch {
	case reHighest.MatchString(lower):
		if n <= 0 {
			n = 10
		}
		f.TopN = &n
		f.SortField, f.SortOrder = models.SortByAmount, models.SortDesc
	case reLowest.MatchString(lower):
		if n <= 0 {
			n = 10
		}
		f.TopN = &n
		f.SortField, f.SortOrder = models.SortByAmount, models.SortAsc
	}
}

// --- residual keywords ---

// stopwords cover English, Hinglish and Devanagari function words plus
// every token the other extractors already consume. What survives is
// the content vocabulary used to bias SMART_FULL context.
var stopwords = map[string]bool{
	// english
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "i": true, "me": true, "my": true,
	"mine": true, "you": true, "your": true, "we": true, "our": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"from": true, "with": true, "and": true, "or": true, "not": true,
	"all": true, "any": true, "did": true, "do": true, "does": true,
	"have": true, "has": true, "had": true, "what": true, "which": true,
	"when": true, "where": true, "who": true, "why": true, "how": true,
	"show": true, "list": true, "give": true, "get": true, "find": true,
	"tell": true, "please": true, "can": true, "could": true, "would": true,
	"transaction": true, "transactions": true, "txn": true, "txns": true,
	"payment": true, "payments": true, "money": true, "amount": true,
	"rupees": true, "rupee": true, "rs": true, "inr": true,
	"last": true, "this": true, "past": true, "month": true, "months": true,
	"week": true, "weeks": true, "day": true, "days": true, "year": true,
	"years": true, "today": true, "yesterday": true,
	"above": true, "below": true, "over": true, "under": true,
	"between": true, "than": true, "more": true, "less": true,
	"credit": true, "credits": true, "credited": true,
	"debit": true, "debits": true, "debited": true,
	"spent": true, "paid": true, "received": true,
	"upi": true, "neft": true, "rtgs": true, "imps": true, "ft": true,
	"card": true, "cash": true, "atm": true,
	// hinglish
	"mujhe": true, "mera": true, "meri": true, "mere": true, "saari": true,
	"sari": true, "sabhi": true, "dikhao": true, "batao": true, "bataiye": true,
	"kitna": true, "kitne": true, "kaha": true, "kahan": true, "kya": true,
	"wali": true, "wala": true, "wale": true, "se": true, "ka": true,
	"ki": true, "ke": true, "ko": true, "hai": true, "hain": true,
	"hua": true, "hue": true, "huye": true, "tha": true,
	"zyada": true, "jyada": true, "kam": true, "paisa": true, "paise": true,
	"kharcha": true, "kharch": true, "pichle": true, "pichhle": true,
	"maheene": true, "mahine": true, "hafte": true, "aaj": true, "kal": true,
	"aur": true, "par": true, "us": true,
	// devanagari
	"मुझे": true, "मेरा": true, "मेरी": true, "मेरे": true, "सारी": true,
	"सभी": true, "दिखाओ": true, "बताओ": true, "कितना": true, "कितने": true,
	"कुल": true, "क्या": true, "की": true, "के": true, "का": true,
	"को": true, "से": true, "है": true, "हैं": true, "हुए": true,
	"हुआ": true, "था": true, "थे": true, "और": true, "पर": true,
	"पिछले": true, "महीने": true, "इस": true, "आज": true, "कल": true,
	"लेनदेन": true, "रुपये": true, "रुपए": true,
}

var reToken = regexp.MustCompile(`[\p{L}\p{N}]+`)

func extractKeywords(lower string) []string {
	var out []string
	for _, tok := range reToken.FindAllString(lower, -1) {
		if len(tok) < 2 || stopwords[tok] {
			continue
		}
		if !reHasDigit.MatchString(tok) {
			out = appendUnique(out, tok)
		}
	}
	return out
}
