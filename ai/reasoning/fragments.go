package reasoning

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DateLayout is the format of Payload.CurrentDate
const DateLayout = "2006-01-02"

var (
	sentenceEnd  = regexp.MustCompile(`[?!.]\s+`)
	leadingPunct = regexp.MustCompile(`^[("'\[]+`)
	conjunction  = regexp.MustCompile(`(?i)\s+and\s+(what|how|why|when|where|who|which|can|could|should|will|would|is|are|do|does)\b`)
)

// SplitFragments breaks a multi-part question into sub-questions at sentence
// boundaries and at "and" when it introduces a new question. Pieces without
// any letter or digit are dropped, so blank input yields no fragments.
func SplitFragments(question string) []string {
	var out []string
	for _, sentence := range splitKeepingDelimiter(question) {
		for _, part := range splitConjunctions(sentence) {
			part = strings.TrimSpace(part)
			if hasWordChar(part) {
				out = append(out, part)
			}
		}
	}
	return out
}

// abbreviations never end a sentence
var abbreviations = map[string]bool{
	"mr.": true, "mrs.": true, "ms.": true, "dr.": true, "prof.": true,
	"st.": true, "jr.": true, "sr.": true, "e.g.": true, "i.e.": true,
	"etc.": true, "vs.": true, "inc.": true, "ltd.": true, "co.": true,
	"corp.": true, "approx.": true, "no.": true,
}

func splitKeepingDelimiter(s string) []string {
	var parts []string
	prev := 0
	for _, m := range sentenceEnd.FindAllStringIndex(s, -1) {
		if !startsSentence(s[m[1]:]) || endsWithAbbreviation(s[prev:m[0]+1]) {
			continue
		}
		parts = append(parts, s[prev:m[0]+1])
		prev = m[1]
	}
	return append(parts, s[prev:])
}

func startsSentence(rest string) bool {
	r, _ := utf8.DecodeRuneInString(rest)
	return unicode.IsUpper(r) || unicode.IsDigit(r)
}

func endsWithAbbreviation(piece string) bool {
	if !strings.HasSuffix(piece, ".") {
		return false
	}
	word := piece
	if i := strings.LastIndexFunc(piece, unicode.IsSpace); i >= 0 {
		word = piece[i+1:]
	}
	word = leadingPunct.ReplaceAllString(word, "")
	return abbreviations[strings.ToLower(word)]
}

func splitConjunctions(s string) []string {
	var parts []string
	prev := 0
	for _, m := range conjunction.FindAllStringSubmatchIndex(s, -1) {
		parts = append(parts, s[prev:m[0]])
		prev = m[2]
	}
	return append(parts, s[prev:])
}

func hasWordChar(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

var (
	isoDate   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	longDate  = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	monthYear = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{4})\b`)
	bareYear  = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// ReferencesPastDate reports whether text names at least one explicit date
// and every date it names is on or before today. A month counts once it has
// fully elapsed, a bare year once it has ended. Any date still ahead leaves
// the text forward-looking.
func ReferencesPastDate(text string, today time.Time) bool {
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	seen, allPast := false, true
	note := func(past bool) {
		seen = true
		allPast = allPast && past
	}

	for _, m := range isoDate.FindAllString(text, -1) {
		if d, err := time.Parse(DateLayout, m); err == nil {
			note(!d.After(today))
		}
	}
	text = isoDate.ReplaceAllString(text, " ")

	for _, m := range longDate.FindAllStringSubmatch(text, -1) {
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		note(!time.Date(year, months[strings.ToLower(m[1])], day, 0, 0, 0, 0, time.UTC).After(today))
	}
	text = longDate.ReplaceAllString(text, " ")

	for _, m := range monthYear.FindAllStringSubmatch(text, -1) {
		year, _ := strconv.Atoi(m[2])
		lastDay := time.Date(year, months[strings.ToLower(m[1])]+1, 0, 0, 0, 0, 0, time.UTC)
		note(!lastDay.After(today))
	}
	text = monthYear.ReplaceAllString(text, " ")

	for _, m := range bareYear.FindAllString(text, -1) {
		year, _ := strconv.Atoi(m)
		note(year < today.Year())
	}
	return seen && allPast
}

// ApplyDateGuard relabels forward-looking fragments as factual_direct when
// every date they refer to has already passed.
func ApplyDateGuard(f Fragment, currentDate string) Fragment {
	if f.Category != CategoryPredictive && f.Category != CategoryStrategicPlanning {
		return f
	}
	today, err := time.Parse(DateLayout, currentDate)
	if err != nil {
		return f
	}
	if ReferencesPastDate(f.Text, today) {
		f.Category = CategoryFactualDirect
	}
	return f
}
