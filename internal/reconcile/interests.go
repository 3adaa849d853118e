package reconcile

import (
	"fmt"
	"strings"
)

type interestGroup struct {
	normName string
	items    map[Role]Interest
}

func reconcileInterests(docs map[Role]Document, roles []Role, cat *Catalog) []InterestItem {
	var groups []*interestGroup
	for _, role := range roles {
		for _, interest := range docs[role].AdditionalInterests {
			name, ok := present(interest.Name)
			if !ok {
				continue
			}
			normName := normalizeName(name)
			if role != RolePolicy {
				if g := bestInterestGroup(groups, role, normName, cat); g != nil {
					g.items[role] = interest
					continue
				}
			}
			groups = append(groups, &interestGroup{normName: normName, items: map[Role]Interest{role: interest}})
		}
	}

	out := make([]InterestItem, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.item(roles, cat))
	}
	return out
}

// bestInterestGroup picks the unclaimed group whose name is identical, or
// failing that the most similar name within the variation rules.
func bestInterestGroup(groups []*interestGroup, role Role, normName string, cat *Catalog) *interestGroup {
	var best *interestGroup
	bestScore := -1.0
	for _, g := range groups {
		if _, taken := g.items[role]; taken {
			continue
		}
		cmp := compareNames(g.normName, normName, cat)
		if cmp.exact {
			return g
		}
		if cmp.variation && cmp.similarity > bestScore {
			best, bestScore = g, cmp.similarity
		}
	}
	return best
}

func (g *interestGroup) item(roles []Role, cat *Catalog) InterestItem {
	item := InterestItem{
		SourceNames:        make(map[Role]*string, len(roles)),
		SourceAddresses:    make(map[Role]*string, len(roles)),
		Comparisons:        make(map[Role]PairVerdict, len(roles)-1),
		AddressComparisons: make(map[Role]Verdict, len(roles)-1),
	}
	for _, role := range roles {
		interest, ok := g.items[role]
		if !ok {
			item.SourceNames[role] = nil
			item.SourceAddresses[role] = nil
			continue
		}
		name := strings.TrimSpace(interest.Name)
		item.SourceNames[role] = &name
		if addr, has := present(interest.Address); has {
			item.SourceAddresses[role] = &addr
		} else {
			item.SourceAddresses[role] = nil
		}
		if item.Name == "" || role == RolePolicy {
			item.Name = name
		}
		if item.Type == "" {
			item.Type = interest.Type
		}
		if interest.Excerpt != "" {
			item.Evidence = append(item.Evidence, Evidence{Role: role, Section: interest.Section, Excerpt: interest.Excerpt})
		}
	}

	policyName := item.SourceNames[RolePolicy]
	for _, role := range roles {
		if role == RolePolicy {
			continue
		}
		otherName := item.SourceNames[role]
		address := compareAddresses(item.SourceAddresses[RolePolicy], item.SourceAddresses[role], cat)
		item.AddressComparisons[role] = address

		// The name verdict and its qualifier stand on their own; a differing
		// address is reported beside them.
		pair := comparePair(KindName, policyName, otherName, role, cat)
		if pair.Verdict == VerdictMatch && address == VerdictMismatch {
			note := fmt.Sprintf("%s lists %q at %q but policy has %q",
				role.Label(), *otherName, deref(item.SourceAddresses[role]), deref(item.SourceAddresses[RolePolicy]))
			if pair.Note != "" {
				note = pair.Note + "; " + note
			}
			pair.Note = note
		}
		item.Comparisons[role] = pair
	}
	item.Verdict, item.MatchQualifier = rollUp(policyName != nil, item.Comparisons)
	item.AddressVerdict = addressRollUp(item.AddressComparisons)
	return item
}

// addressRollUp is MISMATCH if any source's address differs, MATCH if every
// source agrees, and NOT_FOUND otherwise.
func addressRollUp(comparisons map[Role]Verdict) Verdict {
	if len(comparisons) == 0 {
		return VerdictNotFound
	}
	out := VerdictMatch
	for _, v := range comparisons {
		switch v {
		case VerdictMismatch:
			return VerdictMismatch
		case VerdictNotFound:
			out = VerdictNotFound
		}
	}
	return out
}

// compareAddresses compares addresses independently of the party name.
func compareAddresses(policy, other *string, cat *Catalog) Verdict {
	if policy == nil || other == nil {
		return VerdictNotFound
	}
	if normalizeAddress(*policy, cat) == normalizeAddress(*other, cat) {
		return VerdictMatch
	}
	return VerdictMismatch
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
