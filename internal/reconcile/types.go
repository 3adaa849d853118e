package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Role is the document category a value was extracted from.
type Role string

const (
	RolePolicy        Role = "policy"
	RoleCertificate   Role = "certificate"
	RoleCertificateB  Role = "certificate_b"
	RoleAuthorityForm Role = "authority_form"
)

// ParseRole validates a role name. Besides the fixed roles, additional
// certificates are accepted as certificate_c, certificate_d and so on.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RolePolicy, RoleCertificate, RoleAuthorityForm:
		return role, nil
	}
	if role.IsCertificate() {
		return role, nil
	}
	return "", fmt.Errorf("unknown document role %q", value)
}

// IsCertificate reports whether the role is any certificate source.
func (r Role) IsCertificate() bool {
	if r == RoleCertificate {
		return true
	}
	suffix, ok := strings.CutPrefix(string(r), string(RoleCertificate)+"_")
	return ok && len(suffix) == 1 && suffix[0] >= 'a' && suffix[0] <= 'z'
}

// Label is the human readable role name used in notes.
func (r Role) Label() string {
	switch {
	case r == RolePolicy:
		return "Policy"
	case r == RoleCertificate:
		return "Certificate"
	case r == RoleAuthorityForm:
		return "Authority form"
	case r.IsCertificate():
		return "Certificate " + strings.ToUpper(string(r)[len(RoleCertificate)+1:])
	default:
		return string(r)
	}
}

// SortRoles orders roles policy first, then certificates, then authority forms.
func SortRoles(roles []Role) {
	rank := func(r Role) int {
		switch {
		case r == RolePolicy:
			return 0
		case r.IsCertificate():
			return 1
		case r == RoleAuthorityForm:
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(roles, func(i, j int) bool {
		ri, rj := rank(roles[i]), rank(roles[j])
		if ri != rj {
			return ri < rj
		}
		return roles[i] < roles[j]
	})
}

// Verdict is the categorical outcome of comparing a value across sources.
type Verdict string

const (
	VerdictMatch    Verdict = "MATCH"
	VerdictMismatch Verdict = "MISMATCH"
	VerdictNotFound Verdict = "NOT_FOUND"
)

// Valid reports whether v is one of the closed verdict set.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictMatch, VerdictMismatch, VerdictNotFound:
		return true
	}
	return false
}

// Qualifier refines a MATCH verdict.
type Qualifier string

const QualifierNameVariation Qualifier = "NAME_VARIATION"

// FieldKind selects the normalization applied to a field.
type FieldKind string

const (
	KindText    FieldKind = "text"
	KindName    FieldKind = "name"
	KindDate    FieldKind = "date"
	KindAmount  FieldKind = "amount"
	KindAddress FieldKind = "address"
)

// Value is one extracted value with optional attribution. It decodes from a
// bare JSON string or an object.
type Value struct {
	Value   string `json:"value"`
	Excerpt string `json:"excerpt,omitempty"`
	Section string `json:"section,omitempty"`
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*v = Value{Value: plain}
		return nil
	}
	type alias Value
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*v = Value(obj)
	return nil
}

// Excerpt is a supporting text snippet from a named section.
type Excerpt struct {
	Section string `json:"section,omitempty"`
	Text    string `json:"text"`
}

// Coverage is one extracted coverage/limit line.
type Coverage struct {
	Key      string    `json:"key"`
	Category string    `json:"category,omitempty"`
	Value    string    `json:"value"`
	Evidence []Excerpt `json:"evidence,omitempty"`
}

// Interest is a named party such as a loss payee or additional insured.
type Interest struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Type    string `json:"type,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
	Section string `json:"section,omitempty"`
}

// Document is the structured output of extraction for one file.
type Document struct {
	Fields              map[string]Value `json:"fields"`
	Coverages           []Coverage       `json:"coverages,omitempty"`
	AdditionalInterests []Interest       `json:"additionalInterests,omitempty"`
}

// Input is the tuple of documents reconciled for one job.
type Input struct {
	Documents map[Role]Document
}

// Evidence is an excerpt attributed to the role and section it came from.
type Evidence struct {
	Role    Role   `json:"role"`
	Section string `json:"section,omitempty"`
	Excerpt string `json:"excerpt"`
}

// PairVerdict is the policy-vs-source outcome for one comparison.
type PairVerdict struct {
	Verdict    Verdict   `json:"verdict"`
	Qualifier  Qualifier `json:"matchQualifier,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// ComparisonField is one reconciled singleton attribute.
type ComparisonField struct {
	FieldKey       string               `json:"fieldKey"`
	Label          string               `json:"label"`
	Kind           FieldKind            `json:"kind"`
	SourceValues   map[Role]*string     `json:"sourceValues"`
	Comparisons    map[Role]PairVerdict `json:"comparisons"`
	Verdict        Verdict              `json:"verdict"`
	MatchQualifier Qualifier            `json:"matchQualifier,omitempty"`
	Evidence       []Evidence           `json:"evidence,omitempty"`
}

// CoverageItem is one reconciled coverage line. Every extracted line from
// every source lands in exactly one item.
type CoverageItem struct {
	CoverageKey      string               `json:"coverageKey"`
	Category         string               `json:"category,omitempty"`
	PolicyValue      *string              `json:"policyValue"`
	CertificateValue *string              `json:"certificateValue"`
	SourceValues     map[Role]*string     `json:"sourceValues"`
	Comparisons      map[Role]PairVerdict `json:"comparisons"`
	Verdict          Verdict              `json:"verdict"`
	MatchQualifier   Qualifier            `json:"matchQualifier,omitempty"`
	Evidence         []Evidence           `json:"evidence,omitempty"`
}

// InterestItem is one reconciled additional interest.
type InterestItem struct {
	Name               string               `json:"name"`
	Type               string               `json:"type,omitempty"`
	SourceNames        map[Role]*string     `json:"sourceNames"`
	SourceAddresses    map[Role]*string     `json:"sourceAddresses"`
	Comparisons        map[Role]PairVerdict `json:"comparisons"`
	AddressComparisons map[Role]Verdict     `json:"addressComparisons"`
	AddressVerdict     Verdict              `json:"addressVerdict"`
	Verdict            Verdict              `json:"verdict"`
	MatchQualifier     Qualifier            `json:"matchQualifier,omitempty"`
	Evidence           []Evidence           `json:"evidence,omitempty"`
}

// SectionCounts tallies roll-up verdicts for one output section.
type SectionCounts struct {
	Total         int `json:"total"`
	Match         int `json:"match"`
	Mismatch      int `json:"mismatch"`
	NotFound      int `json:"notFound"`
	NameVariation int `json:"nameVariation"`
}

func (c *SectionCounts) add(v Verdict, q Qualifier) {
	c.Total++
	switch v {
	case VerdictMatch:
		c.Match++
	case VerdictMismatch:
		c.Mismatch++
	case VerdictNotFound:
		c.NotFound++
	}
	if q == QualifierNameVariation {
		c.NameVariation++
	}
}

// SummaryCounts aggregates counts per section.
type SummaryCounts struct {
	Fields              SectionCounts `json:"fields"`
	Coverages           SectionCounts `json:"coverages"`
	AdditionalInterests SectionCounts `json:"additionalInterests"`
}

// Mismatches is the number of MISMATCH items across every section.
func (s SummaryCounts) Mismatches() int {
	return s.Fields.Mismatch + s.Coverages.Mismatch + s.AdditionalInterests.Mismatch
}

// VerdictSet is the complete reconciliation output for a job.
type VerdictSet struct {
	Sources             []Role            `json:"sources"`
	Fields              []ComparisonField `json:"comparisonFields"`
	Coverages           []CoverageItem    `json:"coverageItems"`
	AdditionalInterests []InterestItem    `json:"additionalInterests"`
	Summary             SummaryCounts     `json:"summaryCounts"`
}
