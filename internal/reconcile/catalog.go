package reconcile

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// FieldSpec declares one reconciled singleton field.
type FieldSpec struct {
	Key     string    `yaml:"key"`
	Label   string    `yaml:"label"`
	Kind    FieldKind `yaml:"kind"`
	Aliases []string  `yaml:"aliases"`
}

// CoverageRules drive coverage key normalization and matching.
type CoverageRules struct {
	Suffixes  []string `yaml:"suffixes"`
	Stopwords []string `yaml:"stopwords"`
	CoreTerms []string `yaml:"core_terms"`
}

// NameRules drive name-variation detection.
type NameRules struct {
	Suffixes []string    `yaml:"suffixes"`
	OCRPairs [][2]string `yaml:"ocr_pairs"`
}

// AddressRules drive address normalization.
type AddressRules struct {
	Abbreviations map[string]string `yaml:"abbreviations"`
}

// Catalog is the declarative input of the reconciler: which fields exist and
// how values are compared.
type Catalog struct {
	NameSimilarityThreshold float64       `yaml:"name_similarity_threshold"`
	Fields                  []FieldSpec   `yaml:"fields"`
	Coverage                CoverageRules `yaml:"coverage"`
	Names                   NameRules     `yaml:"names"`
	Addresses               AddressRules  `yaml:"addresses"`

	aliases   map[string]int
	coreTerms []string
	suffixes  map[string]struct{}
	stopwords map[string]struct{}
	nameSufx  map[string]struct{}
	ocr       map[rune]rune
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// DefaultCatalog returns the embedded catalog. It panics if the embedded
// document is invalid.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = ParseCatalog(defaultCatalogYAML)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("reconcile: embedded catalog: %v", defaultErr))
	}
	return defaultCatalog
}

// LoadCatalog reads a catalog override from disk. An empty path returns the
// embedded default.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and indexes a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := cat.index(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// WithThreshold returns a copy of the catalog using a different name
// similarity threshold. Non-positive values keep the catalog's own.
func (c *Catalog) WithThreshold(threshold float64) *Catalog {
	if threshold <= 0 || threshold == c.NameSimilarityThreshold {
		return c
	}
	clone := *c
	clone.NameSimilarityThreshold = threshold
	return &clone
}

func (c *Catalog) index() error {
	if len(c.Fields) == 0 {
		return errors.New("catalog declares no fields")
	}
	if c.NameSimilarityThreshold <= 0 || c.NameSimilarityThreshold > 1 {
		c.NameSimilarityThreshold = 0.90
	}

	c.aliases = make(map[string]int, len(c.Fields)*3)
	for i, field := range c.Fields {
		key := fieldLookupKey(field.Key)
		if key == "" {
			return fmt.Errorf("catalog field %d has no key", i)
		}
		switch field.Kind {
		case KindText, KindName, KindDate, KindAmount, KindAddress:
		case "":
			c.Fields[i].Kind = KindText
		default:
			return fmt.Errorf("catalog field %q: unknown kind %q", field.Key, field.Kind)
		}
		if field.Label == "" {
			c.Fields[i].Label = field.Key
		}
		for _, alias := range append([]string{field.Key}, field.Aliases...) {
			lookup := fieldLookupKey(alias)
			if prev, ok := c.aliases[lookup]; ok && prev != i {
				return fmt.Errorf("catalog alias %q maps to both %q and %q", alias, c.Fields[prev].Key, field.Key)
			}
			c.aliases[lookup] = i
		}
	}

	c.suffixes = make(map[string]struct{}, len(c.Coverage.Suffixes))
	for _, s := range c.Coverage.Suffixes {
		c.suffixes[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	c.stopwords = make(map[string]struct{}, len(c.Coverage.Stopwords))
	for _, s := range c.Coverage.Stopwords {
		c.stopwords[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	c.coreTerms = c.coreTerms[:0]
	for _, term := range c.Coverage.CoreTerms {
		if normalized := coverageKey(term, c); normalized != "" {
			c.coreTerms = append(c.coreTerms, normalized)
		}
	}

	c.nameSufx = make(map[string]struct{}, len(c.Names.Suffixes))
	for _, s := range c.Names.Suffixes {
		c.nameSufx[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	c.ocr = make(map[rune]rune, len(c.Names.OCRPairs))
	for _, pair := range c.Names.OCRPairs {
		a, b := []rune(strings.ToLower(pair[0])), []rune(strings.ToLower(pair[1]))
		if len(a) != 1 || len(b) != 1 {
			return fmt.Errorf("catalog ocr pair %v must be single characters", pair)
		}
		// Both characters collapse onto the letter so either direction matches.
		canonical := a[0]
		if b[0] >= 'a' && b[0] <= 'z' && !(a[0] >= 'a' && a[0] <= 'z') {
			canonical = b[0]
		}
		c.ocr[a[0]] = canonical
		c.ocr[b[0]] = canonical
	}

	lowered := make(map[string]string, len(c.Addresses.Abbreviations))
	for word, abbr := range c.Addresses.Abbreviations {
		lowered[strings.ToLower(word)] = strings.ToLower(abbr)
	}
	c.Addresses.Abbreviations = lowered
	return nil
}

// lookupField resolves an extracted field key to its catalog entry.
func (c *Catalog) lookupField(key string) (int, bool) {
	idx, ok := c.aliases[fieldLookupKey(key)]
	return idx, ok
}

func fieldLookupKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(key)
	return key
}
