package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"03/15/2024", "20240315"},
		{"3/5/24", "20240305"},
		{"2024-03-15", "20240315"},
		{"March 15, 2024", "20240315"},
		{"Mar 15 2024", "20240315"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := normalizeDate(tc.in)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	_, ok := normalizeDate("sometime next year")
	assert.False(t, ok)
}

func TestNormalizeAmountAndName(t *testing.T) {
	assert.Equal(t, "1000000", normalizeAmount("$1,000,000.00"))
	assert.Equal(t, "1000000", normalizeAmount("1000000"))
	assert.Equal(t, "2500.50", normalizeAmount("$2,500.50"))

	assert.Equal(t, normalizeName("Acme Holdings, Inc."), normalizeName("ACME  HOLDINGS INC"))
	assert.Equal(t, normalizeName("Smith & Jones; LLC"), normalizeName("smith jones llc"))
	assert.Equal(t, "cafe", foldText("  CAFÉ "))
}

func TestPlaceholdersAreAbsent(t *testing.T) {
	for _, v := range []string{"N/A", "null", "NONE", "-", "  "} {
		_, ok := present(v)
		assert.False(t, ok, "expected %q to be treated as absent", v)
	}
	got, ok := present(" ABC ")
	assert.True(t, ok)
	assert.Equal(t, "ABC", got)
}

func TestCoverageKeyNormalization(t *testing.T) {
	cat := DefaultCatalog()
	assert.Equal(t, "eachoccurrence", coverageKey("Each Occurrence Limit", cat))
	assert.Equal(t, "eachoccurrence", coverageKey("EACH OCCURRENCE (per claim)", cat))
	assert.Equal(t, "generalaggregate", coverageKey("General Aggregate", cat))
	assert.Equal(t, "limit", coverageKey("Limit", cat))
}

func TestCompareNames(t *testing.T) {
	cat := DefaultCatalog()

	exact := compareNames("acme holdings", "acme holdings", cat)
	assert.True(t, exact.exact)

	suffix := compareNames(normalizeName("Acme Holdings LLC"), normalizeName("Acme Holdings"), cat)
	assert.True(t, suffix.variation)

	ocr := compareNames(normalizeName("GREENFIELD PROPERTIES"), normalizeName("HREENFIELD PROPERTIES"), cat)
	assert.True(t, ocr.variation)

	digits := compareNames(normalizeName("BOSTON ASSOCIATES"), normalizeName("B0ST0N ASS0CIATES"), cat)
	assert.True(t, digits.variation)

	for _, pair := range [][2]string{
		{"Smith Co", "Smyth Co"},
		{"ACME INC", "ACNE INC"},
		{"Bob Jones", "Bob Jenes"},
		{"Delta Trucking", "Delta Trucklng"},
	} {
		cmp := compareNames(normalizeName(pair[0]), normalizeName(pair[1]), cat)
		assert.True(t, cmp.variation, "%q vs %q", pair[0], pair[1])
	}

	short := compareNames("abc", "abd", cat)
	assert.False(t, short.variation)

	twoOff := compareNames("acme", "acne", cat)
	assert.True(t, twoOff.variation)
	assert.False(t, compareNames("acme", "arne", cat).variation)

	different := compareNames("northwind traders", "contoso pharmacy", cat)
	assert.False(t, different.exact)
	assert.False(t, different.variation)
}
