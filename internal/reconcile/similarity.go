package reconcile

import (
	"strings"

	"github.com/agext/levenshtein"
)

// nameComparison is the outcome of comparing two name-like values.
type nameComparison struct {
	exact      bool
	variation  bool
	similarity float64
	reason     string
}

// compareNames decides whether two normalized names are identical, a
// variation of each other, or different.
func compareNames(a, b string, cat *Catalog) nameComparison {
	if a == b {
		return nameComparison{exact: true, similarity: 1}
	}
	strippedA, strippedB := stripNameSuffixes(a, cat), stripNameSuffixes(b, cat)
	if strippedA != "" && strippedA == strippedB {
		return nameComparison{variation: true, similarity: similarity(a, b), reason: "entity suffix"}
	}
	if ocrCanonical(strippedA, cat) == ocrCanonical(strippedB, cat) {
		return nameComparison{variation: true, similarity: similarity(a, b), reason: "ocr substitution"}
	}
	score := similarity(strippedA, strippedB)
	if score >= cat.NameSimilarityThreshold {
		return nameComparison{variation: true, similarity: score, reason: "edit distance"}
	}
	if substituted(strippedA, strippedB) || substituted(a, b) {
		return nameComparison{variation: true, similarity: score, reason: "character substitution"}
	}
	return nameComparison{similarity: score}
}

// substituted reports whether a and b have the same length and differ only
// in a few positions: up to two for names longer than five characters, one
// for names of four or five.
func substituted(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) != len(rb) || len(ra) < 4 {
		return false
	}
	diff := 0
	for i := range ra {
		if ra[i] != rb[i] {
			diff++
		}
	}
	if len(ra) > 5 {
		return diff > 0 && diff <= 2
	}
	return diff == 1
}

// similarity is 1 minus the normalized edit distance of a and b.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	return levenshtein.Similarity(a, b, nil)
}

// stripNameSuffixes removes trailing entity suffixes such as LLC or INC.
func stripNameSuffixes(name string, cat *Catalog) string {
	tokens := strings.Fields(name)
	end := len(tokens)
	for end > 1 {
		if _, ok := cat.nameSufx[tokens[end-1]]; !ok {
			break
		}
		end--
	}
	return strings.Join(tokens[:end], " ")
}

// ocrCanonical collapses characters OCR commonly confuses onto one form.
func ocrCanonical(name string, cat *Catalog) string {
	if len(cat.ocr) == 0 {
		return name
	}
	return strings.Map(func(r rune) rune {
		if c, ok := cat.ocr[r]; ok {
			return c
		}
		return r
	}, name)
}
