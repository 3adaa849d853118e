package reconcile

import "fmt"

func reconcileFields(docs map[Role]Document, roles []Role, cat *Catalog) []ComparisonField {
	indexed := make(map[Role]map[int]Value, len(docs))
	for role, doc := range docs {
		indexed[role] = indexFields(doc, cat)
	}

	out := make([]ComparisonField, 0, len(cat.Fields))
	for idx, spec := range cat.Fields {
		field := ComparisonField{
			FieldKey:     spec.Key,
			Label:        spec.Label,
			Kind:         spec.Kind,
			SourceValues: make(map[Role]*string, len(roles)),
			Comparisons:  make(map[Role]PairVerdict, len(roles)-1),
		}

		for _, role := range roles {
			v, ok := indexed[role][idx]
			if !ok {
				field.SourceValues[role] = nil
				continue
			}
			value, has := present(v.Value)
			if !has {
				field.SourceValues[role] = nil
				continue
			}
			field.SourceValues[role] = &value
			if v.Excerpt != "" {
				field.Evidence = append(field.Evidence, Evidence{Role: role, Section: v.Section, Excerpt: v.Excerpt})
			}
		}

		policyValue := field.SourceValues[RolePolicy]
		for _, role := range roles {
			if role == RolePolicy {
				continue
			}
			field.Comparisons[role] = comparePair(spec.Kind, policyValue, field.SourceValues[role], role, cat)
		}
		field.Verdict, field.MatchQualifier = rollUp(policyValue != nil, field.Comparisons)
		out = append(out, field)
	}
	return out
}

// indexFields maps catalog field positions to the document's values. A key
// equal to the catalog key wins over an alias.
func indexFields(doc Document, cat *Catalog) map[int]Value {
	out := make(map[int]Value, len(doc.Fields))
	exact := make(map[int]bool, len(doc.Fields))
	for key, value := range doc.Fields {
		idx, ok := cat.lookupField(key)
		if !ok {
			continue
		}
		isExact := fieldLookupKey(key) == fieldLookupKey(cat.Fields[idx].Key)
		if _, seen := out[idx]; seen && (exact[idx] || !isExact) {
			continue
		}
		out[idx] = value
		exact[idx] = isExact
	}
	return out
}

// comparePair compares the policy value against one other source.
func comparePair(kind FieldKind, policy, other *string, role Role, cat *Catalog) PairVerdict {
	label := role.Label()
	switch {
	case policy == nil && other == nil:
		return PairVerdict{Verdict: VerdictNotFound, Note: fmt.Sprintf("Neither policy nor %s has a value", lower(label))}
	case policy == nil:
		return PairVerdict{Verdict: VerdictNotFound, Note: fmt.Sprintf("%s has %q but policy has no value", label, *other)}
	case other == nil:
		return PairVerdict{Verdict: VerdictNotFound, Note: fmt.Sprintf("%s has no value but policy has %q", label, *policy)}
	}

	a := normalizeValue(kind, *policy, cat)
	b := normalizeValue(kind, *other, cat)
	if a == b {
		return PairVerdict{Verdict: VerdictMatch, Similarity: 1}
	}
	if kind == KindName {
		cmp := compareNames(a, b, cat)
		if cmp.exact {
			return PairVerdict{Verdict: VerdictMatch, Similarity: 1}
		}
		if cmp.variation {
			return PairVerdict{
				Verdict:    VerdictMatch,
				Qualifier:  QualifierNameVariation,
				Similarity: cmp.similarity,
				Note:       fmt.Sprintf("%s has %q and policy has %q (%s)", label, *other, *policy, cmp.reason),
			}
		}
		return PairVerdict{
			Verdict:    VerdictMismatch,
			Similarity: cmp.similarity,
			Note:       fmt.Sprintf("%s has %q but policy has %q", label, *other, *policy),
		}
	}
	return PairVerdict{Verdict: VerdictMismatch, Note: fmt.Sprintf("%s has %q but policy has %q", label, *other, *policy)}
}

// rollUp collapses per-pair verdicts into the item verdict: MISMATCH over
// NOT_FOUND over MATCH. An absent policy value, or no other source at all,
// yields NOT_FOUND.
func rollUp(policyPresent bool, comparisons map[Role]PairVerdict) (Verdict, Qualifier) {
	if !policyPresent || len(comparisons) == 0 {
		return VerdictNotFound, ""
	}
	verdict := VerdictMatch
	var qualifier Qualifier
	for _, pair := range comparisons {
		switch pair.Verdict {
		case VerdictMismatch:
			verdict = VerdictMismatch
		case VerdictNotFound:
			if verdict != VerdictMismatch {
				verdict = VerdictNotFound
			}
		case VerdictMatch:
			if pair.Qualifier == QualifierNameVariation {
				qualifier = QualifierNameVariation
			}
		}
	}
	if verdict != VerdictMatch {
		qualifier = ""
	}
	return verdict, qualifier
}

func lower(label string) string {
	if label == "" {
		return label
	}
	return string(label[0]|0x20) + label[1:]
}
