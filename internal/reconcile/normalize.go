package reconcile

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var placeholders = map[string]struct{}{
	"":     {},
	"n/a":  {},
	"null": {},
	"none": {},
	"-":    {},
	"--":   {},
}

var dateLayouts = []string{
	"1/2/2006",
	"1/2/06",
	"1-2-2006",
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
}

var parenthetical = regexp.MustCompile(`\([^)]*\)`)

// foldText applies compatibility decomposition, strips diacritics, case
// folds and collapses whitespace.
func foldText(value string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, value)
	if err != nil {
		stripped = value
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}

// isPlaceholder reports whether an extracted value means "no value".
func isPlaceholder(value string) bool {
	_, ok := placeholders[foldText(value)]
	return ok
}

// present returns the trimmed value and whether it carries information.
func present(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if isPlaceholder(value) {
		return "", false
	}
	return value, true
}

// normalizeValue produces the comparison form of value for the field kind.
func normalizeValue(kind FieldKind, value string, cat *Catalog) string {
	switch kind {
	case KindDate:
		if d, ok := normalizeDate(value); ok {
			return d
		}
		return foldText(value)
	case KindAmount:
		return normalizeAmount(value)
	case KindName:
		return normalizeName(value)
	case KindAddress:
		return normalizeAddress(value, cat)
	default:
		return foldText(value)
	}
}

// normalizeDate renders recognised date formats as YYYYMMDD.
func normalizeDate(value string) (string, bool) {
	value = strings.Trim(strings.TrimSpace(value), ".;")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("20060102"), true
		}
	}
	return "", false
}

// normalizeAmount drops currency symbols, separators and a zero cents suffix.
func normalizeAmount(value string) string {
	folded := foldText(value)
	folded = strings.TrimPrefix(folded, "usd")
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r == '$' || r == ',' || unicode.IsSpace(r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	out = strings.TrimSuffix(out, ".00")
	out = strings.TrimSuffix(out, ".0")
	return out
}

// normalizeName ignores & , ; . and collapses whitespace.
func normalizeName(value string) string {
	replaced := strings.NewReplacer("&", " ", ";", " ", ",", "", ".", "").Replace(value)
	return foldText(replaced)
}

func normalizeAddress(value string, cat *Catalog) string {
	folded := foldText(value)
	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, token := range tokens {
		if cat != nil {
			if abbr, ok := cat.Addresses.Abbreviations[token]; ok {
				tokens[i] = abbr
			}
		}
	}
	return strings.Join(tokens, " ")
}

// alnum keeps letters and digits only.
func alnum(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// coverageKey normalizes a coverage line key: lowercase, parentheticals
// dropped, catalog stopwords and trailing suffix words dropped, alphanumerics
// only.
func coverageKey(key string, cat *Catalog) string {
	folded := foldText(parenthetical.ReplaceAllString(key, " "))
	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kept := tokens[:0]
	for _, token := range tokens {
		if _, stop := cat.stopwords[token]; !stop {
			kept = append(kept, token)
		}
	}
	tokens = kept
	end := len(tokens)
	for end > 1 {
		if _, drop := cat.suffixes[tokens[end-1]]; !drop {
			break
		}
		end--
	}
	normalized := strings.Join(tokens[:end], "")
	if normalized == "" {
		normalized = alnum(folded)
	}
	return normalized
}
