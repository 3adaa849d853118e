package reconcile

import (
	"fmt"
	"strings"
)

const minPrefixMatch = 8

type matchLevel int

const (
	matchExact matchLevel = iota
	matchPrefix
	matchCoreTerm
)

type coverageGroup struct {
	key      string
	category string
	normKey  string
	core     string
	items    map[Role]Coverage
}

func reconcileCoverages(docs map[Role]Document, roles []Role, cat *Catalog) ([]CoverageItem, error) {
	var groups []*coverageGroup

	newGroup := func(role Role, cov Coverage, normKey string) {
		groups = append(groups, &coverageGroup{
			key:      strings.TrimSpace(cov.Key),
			category: cov.Category,
			normKey:  normKey,
			core:     coreTerm(normKey, cat),
			items:    map[Role]Coverage{role: cov},
		})
	}

	for _, role := range roles {
		for i, cov := range docs[role].Coverages {
			if strings.TrimSpace(cov.Key) == "" {
				return nil, fmt.Errorf("%s coverage %d has an empty key", role, i)
			}
			normKey := coverageKey(cov.Key, cat)
			if role == RolePolicy {
				newGroup(role, cov, normKey)
				continue
			}
			if g := findGroup(groups, role, cov, normKey, cat); g != nil {
				g.items[role] = cov
				continue
			}
			newGroup(role, cov, normKey)
		}
	}

	out := make([]CoverageItem, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.item(roles, cat))
	}
	return out, nil
}

// findGroup returns the best unclaimed group for a source line: exact key
// first, then a shared prefix of at least minPrefixMatch characters, then a
// shared catalog core term.
func findGroup(groups []*coverageGroup, role Role, cov Coverage, normKey string, cat *Catalog) *coverageGroup {
	core := coreTerm(normKey, cat)
	for level := matchExact; level <= matchCoreTerm; level++ {
		for _, g := range groups {
			if _, taken := g.items[role]; taken {
				continue
			}
			if !sameCategory(g.category, cov.Category) {
				continue
			}
			if keysMatch(level, g.normKey, normKey, g.core, core) {
				return g
			}
		}
	}
	return nil
}

func keysMatch(level matchLevel, a, b, coreA, coreB string) bool {
	switch level {
	case matchExact:
		return a == b
	case matchPrefix:
		short, long := a, b
		if len(short) > len(long) {
			short, long = long, short
		}
		return len(short) >= minPrefixMatch && strings.HasPrefix(long, short)
	case matchCoreTerm:
		return coreA != "" && coreA == coreB
	}
	return false
}

// coreTerm returns the longest catalog core term contained in the key.
func coreTerm(normKey string, cat *Catalog) string {
	best := ""
	for _, term := range cat.coreTerms {
		if len(term) > len(best) && strings.Contains(normKey, term) {
			best = term
		}
	}
	return best
}

func sameCategory(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return foldText(a) == foldText(b)
}

func (g *coverageGroup) item(roles []Role, cat *Catalog) CoverageItem {
	item := CoverageItem{
		CoverageKey:  g.key,
		Category:     g.category,
		SourceValues: make(map[Role]*string, len(roles)),
		Comparisons:  make(map[Role]PairVerdict, len(roles)-1),
	}
	if policy, ok := g.items[RolePolicy]; ok {
		item.CoverageKey = strings.TrimSpace(policy.Key)
	}

	for _, role := range roles {
		cov, ok := g.items[role]
		if !ok {
			item.SourceValues[role] = nil
			continue
		}
		if item.Category == "" {
			item.Category = cov.Category
		}
		for _, ex := range cov.Evidence {
			if strings.TrimSpace(ex.Text) == "" {
				continue
			}
			item.Evidence = append(item.Evidence, Evidence{Role: role, Section: ex.Section, Excerpt: ex.Text})
		}
		if value, has := present(cov.Value); has {
			item.SourceValues[role] = &value
		} else {
			item.SourceValues[role] = nil
		}
	}

	item.PolicyValue = item.SourceValues[RolePolicy]
	for _, role := range roles {
		if role.IsCertificate() && item.SourceValues[role] != nil {
			item.CertificateValue = item.SourceValues[role]
			break
		}
	}

	for _, role := range roles {
		if role == RolePolicy {
			continue
		}
		if _, ok := g.items[role]; !ok {
			item.Comparisons[role] = absentLine(role, g.items)
			continue
		}
		item.Comparisons[role] = comparePair(KindAmount, item.PolicyValue, item.SourceValues[role], role, cat)
	}
	item.Verdict, item.MatchQualifier = rollUp(item.PolicyValue != nil, item.Comparisons)
	return item
}

// absentLine describes a source that does not list the coverage at all.
func absentLine(role Role, items map[Role]Coverage) PairVerdict {
	if _, ok := items[RolePolicy]; !ok {
		return PairVerdict{Verdict: VerdictNotFound, Note: "Coverage not listed on policy or " + lower(role.Label())}
	}
	return PairVerdict{Verdict: VerdictNotFound, Note: "Coverage listed on policy but not on " + lower(role.Label())}
}
