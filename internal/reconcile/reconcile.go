package reconcile

import (
	"fmt"
	"strings"

	"qcflow/internal/services"
)

// Reconcile compares every declared field, coverage line and additional
// interest of the policy against each other supplied document. It performs
// no I/O and is safe for concurrent use.
func Reconcile(in Input, cat *Catalog) (*VerdictSet, error) {
	if cat == nil {
		cat = DefaultCatalog()
	}
	if _, ok := in.Documents[RolePolicy]; !ok {
		return nil, services.Wrap(services.ErrReconciliation, "reconcile", "inputs", "policy document is required", nil)
	}

	roles := make([]Role, 0, len(in.Documents))
	for role := range in.Documents {
		if _, err := ParseRole(string(role)); err != nil {
			return nil, services.Wrap(services.ErrReconciliation, "reconcile", "inputs", "invalid source", err)
		}
		roles = append(roles, role)
	}
	SortRoles(roles)

	coverages, err := reconcileCoverages(in.Documents, roles, cat)
	if err != nil {
		return nil, services.Wrap(services.ErrReconciliation, "reconcile", "coverages", "malformed coverage", err)
	}

	set := &VerdictSet{
		Sources:             roles,
		Fields:              reconcileFields(in.Documents, roles, cat),
		Coverages:           coverages,
		AdditionalInterests: reconcileInterests(in.Documents, roles, cat),
	}
	if err := set.check(); err != nil {
		return nil, services.Wrap(services.ErrReconciliation, "reconcile", "verify", "inconsistent verdict set", err)
	}
	set.Summary = set.count()
	return set, nil
}

func (s *VerdictSet) count() SummaryCounts {
	var counts SummaryCounts
	for _, f := range s.Fields {
		counts.Fields.add(f.Verdict, f.MatchQualifier)
	}
	for _, c := range s.Coverages {
		counts.Coverages.add(c.Verdict, c.MatchQualifier)
	}
	for _, i := range s.AdditionalInterests {
		counts.AdditionalInterests.add(i.Verdict, i.MatchQualifier)
	}
	return counts
}

// check enforces the closed verdict set and source attribution of evidence.
func (s *VerdictSet) check() error {
	checkPairs := func(what string, verdict Verdict, pairs map[Role]PairVerdict, evidence []Evidence) error {
		if !verdict.Valid() {
			return fmt.Errorf("%s: verdict %q outside the closed set", what, verdict)
		}
		for role, pair := range pairs {
			if !pair.Verdict.Valid() {
				return fmt.Errorf("%s: %s verdict %q outside the closed set", what, role, pair.Verdict)
			}
		}
		for _, ev := range evidence {
			if strings.TrimSpace(string(ev.Role)) == "" {
				return fmt.Errorf("%s: evidence without a source", what)
			}
		}
		return nil
	}
	for _, f := range s.Fields {
		if err := checkPairs("field "+f.FieldKey, f.Verdict, f.Comparisons, f.Evidence); err != nil {
			return err
		}
	}
	for _, c := range s.Coverages {
		if err := checkPairs("coverage "+c.CoverageKey, c.Verdict, c.Comparisons, c.Evidence); err != nil {
			return err
		}
	}
	for _, i := range s.AdditionalInterests {
		if err := checkPairs("interest "+i.Name, i.Verdict, i.Comparisons, i.Evidence); err != nil {
			return err
		}
	}
	return nil
}
