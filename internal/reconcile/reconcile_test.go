package reconcile_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcflow/internal/reconcile"
	"qcflow/internal/services"
)

func doc(fields map[string]string) reconcile.Document {
	out := reconcile.Document{Fields: make(map[string]reconcile.Value, len(fields))}
	for k, v := range fields {
		out.Fields[k] = reconcile.Value{Value: v}
	}
	return out
}

func field(t *testing.T, set *reconcile.VerdictSet, key string) reconcile.ComparisonField {
	t.Helper()
	for _, f := range set.Fields {
		if f.FieldKey == key {
			return f
		}
	}
	t.Fatalf("field %q not in verdict set", key)
	return reconcile.ComparisonField{}
}

func TestReconcileFieldVerdicts(t *testing.T) {
	tests := []struct {
		name          string
		policy        map[string]string
		certificate   map[string]string
		key           string
		wantVerdict   reconcile.Verdict
		wantQualifier reconcile.Qualifier
	}{
		{
			name:        "identical after normalization matches",
			policy:      map[string]string{"effective_date": "03/15/2024"},
			certificate: map[string]string{"effective_date": "2024-03-15"},
			key:         "effective_date",
			wantVerdict: reconcile.VerdictMatch,
		},
		{
			name:        "case and whitespace insensitive",
			policy:      map[string]string{"policy_number": "GL  1234-AB"},
			certificate: map[string]string{"policy_number": "gl 1234-ab"},
			key:         "policy_number",
			wantVerdict: reconcile.VerdictMatch,
		},
		{
			name:          "single OCR substitution is a name variation",
			policy:        map[string]string{"named_insured": "GREENFIELD PROPERTIES LLC"},
			certificate:   map[string]string{"named_insured": "HREENFIELD PROPERTIES LLC"},
			key:           "named_insured",
			wantVerdict:   reconcile.VerdictMatch,
			wantQualifier: reconcile.QualifierNameVariation,
		},
		{
			name:          "substitution in a short name is a name variation",
			policy:        map[string]string{"named_insured": "Smith Co"},
			certificate:   map[string]string{"named_insured": "Smyth Co"},
			key:           "named_insured",
			wantVerdict:   reconcile.VerdictMatch,
			wantQualifier: reconcile.QualifierNameVariation,
		},
		{
			name:          "substitution before an entity suffix is a name variation",
			policy:        map[string]string{"named_insured": "ACME INC"},
			certificate:   map[string]string{"named_insured": "ACNE INC"},
			key:           "named_insured",
			wantVerdict:   reconcile.VerdictMatch,
			wantQualifier: reconcile.QualifierNameVariation,
		},
		{
			name:          "substitution in a person name is a name variation",
			policy:        map[string]string{"named_insured": "Bob Jones"},
			certificate:   map[string]string{"named_insured": "Bob Jenes"},
			key:           "named_insured",
			wantVerdict:   reconcile.VerdictMatch,
			wantQualifier: reconcile.QualifierNameVariation,
		},
		{
			name:        "unrelated names mismatch",
			policy:      map[string]string{"named_insured": "Northwind Traders"},
			certificate: map[string]string{"named_insured": "Contoso Pharmacy"},
			key:         "named_insured",
			wantVerdict: reconcile.VerdictMismatch,
		},
		{
			name:        "different amounts mismatch",
			policy:      map[string]string{"total_premium": "$12,500.00"},
			certificate: map[string]string{"total_premium": "$13,500"},
			key:         "total_premium",
			wantVerdict: reconcile.VerdictMismatch,
		},
		{
			name:        "missing on certificate is not found",
			policy:      map[string]string{"insurer": "Contoso Mutual"},
			certificate: map[string]string{},
			key:         "insurer",
			wantVerdict: reconcile.VerdictNotFound,
		},
		{
			name:        "missing on policy is not found",
			policy:      map[string]string{},
			certificate: map[string]string{"insurer": "Contoso Mutual"},
			key:         "insurer",
			wantVerdict: reconcile.VerdictNotFound,
		},
		{
			name:        "placeholder counts as missing",
			policy:      map[string]string{"naic_number": "12345"},
			certificate: map[string]string{"naic": "N/A"},
			key:         "naic_number",
			wantVerdict: reconcile.VerdictNotFound,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			set, err := reconcile.Reconcile(reconcile.Input{Documents: map[reconcile.Role]reconcile.Document{
				reconcile.RolePolicy:      doc(tc.policy),
				reconcile.RoleCertificate: doc(tc.certificate),
			}}, nil)
			require.NoError(t, err)

			f := field(t, set, tc.key)
			assert.Equal(t, tc.wantVerdict, f.Verdict)
			assert.Equal(t, tc.wantQualifier, f.MatchQualifier)
			pair := f.Comparisons[reconcile.RoleCertificate]
			assert.Equal(t, tc.wantVerdict, pair.Verdict)
			assert.Equal(t, tc.wantQualifier, pair.Qualifier)
		})
	}
}

func TestReconcileThreeWayKeepsPerSourceVerdicts(t *testing.T) {
	set, err := reconcile.Reconcile(reconcile.Input{Documents: map[reconcile.Role]reconcile.Document{
		reconcile.RolePolicy:       doc(map[string]string{"policy_number": "PK-001", "insurer": "Contoso Mutual"}),
		reconcile.RoleCertificate:  doc(map[string]string{"policy_number": "PK-001"}),
		reconcile.RoleCertificateB: doc(map[string]string{"policy_number": "PK-002", "insurer": "Contoso Mutual"}),
	}}, nil)
	require.NoError(t, err)

	number := field(t, set, "policy_number")
	assert.Equal(t, reconcile.VerdictMatch, number.Comparisons[reconcile.RoleCertificate].Verdict)
	assert.Equal(t, reconcile.VerdictMismatch, number.Comparisons[reconcile.RoleCertificateB].Verdict)
	assert.Equal(t, reconcile.VerdictMismatch, number.Verdict)
	assert.Contains(t, number.Comparisons[reconcile.RoleCertificateB].Note, "Certificate B has")

	insurer := field(t, set, "insurer")
	assert.Equal(t, reconcile.VerdictNotFound, insurer.Comparisons[reconcile.RoleCertificate].Verdict)
	assert.Equal(t, reconcile.VerdictMatch, insurer.Comparisons[reconcile.RoleCertificateB].Verdict)
	assert.Nil(t, insurer.SourceValues[reconcile.RoleCertificate])

	assert.Equal(t, []reconcile.Role{reconcile.RolePolicy, reconcile.RoleCertificate, reconcile.RoleCertificateB}, set.Sources)
}

func TestReconcileFieldAliasesAndEvidence(t *testing.T) {
	policy := reconcile.Document{Fields: map[string]reconcile.Value{
		"Insured Name": {Value: "Northwind Traders", Excerpt: "Named Insured: Northwind Traders", Section: "declarations"},
	}}
	cert := reconcile.Document{Fields: map[string]reconcile.Value{
		"named_insured": {Value: "NORTHWIND TRADERS", Excerpt: "INSURED NORTHWIND TRADERS"},
	}}
	set, err := reconcile.Reconcile(reconcile.Input{Documents: map[reconcile.Role]reconcile.Document{
		reconcile.RolePolicy:      policy,
		reconcile.RoleCertificate: cert,
	}}, nil)
	require.NoError(t, err)

	f := field(t, set, "named_insured")
	assert.Equal(t, reconcile.VerdictMatch, f.Verdict)
	assert.Empty(t, f.MatchQualifier)
	require.Len(t, f.Evidence, 2)
	for _, ev := range f.Evidence {
		assert.NotEmpty(t, ev.Role)
	}
	assert.Equal(t, "declarations", f.Evidence[0].Section)
}

func TestReconcileCoveragesReportEveryLineOnce(t *testing.T) {
	policy := reconcile.Document{Coverages: []reconcile.Coverage{
		{Key: "Each Occurrence", Value: "$1,000,000", Evidence: []reconcile.Excerpt{
			{Section: "declarations", Text: "Each Occurrence $1,000,000"},
			{Section: "endorsements", Text: "Amended each occurrence limit 1,000,000"},
		}},
		{Key: "General Aggregate Limit (Other Than Products)", Value: "$2,000,000"},
		{Key: "Medical Expense (Any One Person)", Value: "$5,000"},
		{Key: "Damage to Rented Premises", Value: "$100,000"},
	}}
	cert := reconcile.Document{Coverages: []reconcile.Coverage{
		{Key: "EACH OCCURRENCE LIMIT", Value: "1000000"},
		{Key: "GENERAL AGGREGATE", Value: "$3,000,000"},
		{Key: "MED EXP (Any one person)", Value: "$5,000"},
		{Key: "Liquor Liability", Value: "$1,000,000"},
	}}
	set, err := reconcile.Reconcile(reconcile.Input{Documents: map[reconcile.Role]reconcile.Document{
		reconcile.RolePolicy:      policy,
		reconcile.RoleCertificate: cert,
	}}, nil)
	require.NoError(t, err)

	byKey := make(map[string]reconcile.CoverageItem)
	for _, item := range set.Coverages {
		byKey[item.CoverageKey] = item
	}
	// Four policy lines plus the certificate-only liquor line. The abbreviated
	// medical line cannot be paired and stands alone as well.
	require.Len(t, set.Coverages, 6)

	occ := byKey["Each Occurrence"]
	assert.Equal(t, reconcile.VerdictMatch, occ.Verdict)
	require.NotNil(t, occ.CertificateValue)
	assert.Equal(t, "1000000", *occ.CertificateValue)
	require.Len(t, occ.Evidence, 2)
	assert.Equal(t, "endorsements", occ.Evidence[1].Section)
	assert.Equal(t, reconcile.RolePolicy, occ.Evidence[1].Role)

	agg := byKey["General Aggregate Limit (Other Than Products)"]
	assert.Equal(t, reconcile.VerdictMismatch, agg.Verdict)

	rented := byKey["Damage to Rented Premises"]
	assert.Equal(t, reconcile.VerdictNotFound, rented.Verdict)
	assert.Nil(t, rented.CertificateValue)

	liquor := byKey["Liquor Liability"]
	assert.Equal(t, reconcile.VerdictNotFound, liquor.Verdict)
	assert.Nil(t, liquor.PolicyValue)
	require.NotNil(t, liquor.CertificateValue)

	lines := 0
	for _, item := range set.Coverages {
		for _, v := range item.SourceValues {
			if v != nil {
				lines++
			}
		}
	}
	assert.Equal(t, len(policy.Coverages)+len(cert.Coverages), lines)
	assert.Equal(t, 6, set.Summary.Coverages.Total)
	assert.Equal(t, 1, set.Summary.Coverages.Mismatch)
}

func TestReconcileCoveragePrefixAndCoreTermMatching(t *testing.T) {
	policy := reconcile.Document{Coverages: []reconcile.Coverage{
		{Key: "Products-Completed Operations Aggregate", Value: "$2,000,000"},
		{Key: "Personal and Advertising Injury", Value: "$1,000,000"},
	}}
	cert := reconcile.Document{Coverages: []reconcile.Coverage{
		{Key: "Products Completed Operations", Value: "$2,000,000"},
		{Key: "Personal & Advertising Injury Limit", Value: "$1,000,000"},
	}}
	set, err := reconcile.Reconcile(reconcile.Input{Documents: map[reconcile.Role]reconcile.Document{
		reconcile.RolePolicy:      policy,
		reconcile.RoleCertificate: cert,
	}}, nil)
	require.NoError(t, err)
	require.Len(t, set.Coverages, 2)
	for _, item := range set.Coverages {
		assert.Equal(t, reconcile.VerdictMatch, item.Verdict, item.CoverageKey)
	}
}

func TestReconcileAdditionalInterests(t *testing.T) {
	policy := reconcile.Document{AdditionalInterests: []reconcile.Interest{
		{Name: "DGR Holding LLC", Address: "123 Main Street, Atlanta, GA 30303", Type: "Additional Insured", Excerpt: "DGR HOLDING LLC, 123 MAIN STREET", Section: "endorsements"},
		{Name: "First Federal Bank", Address: "9 Harbor Road, Savannah, GA"},
	}}
	cert := reconcile.Document{AdditionalInterests: []reconcile.Interest{
		{Name: "DGR HOLDING", Address: "123 Main St Atlanta GA 30303"},
		{Name: "First Federal Bank", Address: "10 Harbor Road, Savannah, GA"},
		{Name: "Unknown Lender"},
	}}
	set, err := reconcile.Reconcile(reconcile.Input{Documents: map[reconcile.Role]reconcile.Document{
		reconcile.RolePolicy:      policy,
		reconcile.RoleCertificate: cert,
	}}, nil)
	require.NoError(t, err)
	require.Len(t, set.AdditionalInterests, 3)

	dgr := set.AdditionalInterests[0]
	assert.Equal(t, "DGR Holding LLC", dgr.Name)
	assert.Equal(t, reconcile.VerdictMatch, dgr.Verdict)
	assert.Equal(t, reconcile.QualifierNameVariation, dgr.MatchQualifier)
	assert.Equal(t, reconcile.VerdictMatch, dgr.AddressComparisons[reconcile.RoleCertificate])

	assert.Equal(t, reconcile.VerdictMatch, dgr.AddressVerdict)

	bank := set.AdditionalInterests[1]
	assert.Equal(t, reconcile.VerdictMatch, bank.Verdict)
	assert.Empty(t, bank.MatchQualifier)
	assert.Equal(t, reconcile.VerdictMismatch, bank.AddressComparisons[reconcile.RoleCertificate])
	assert.Equal(t, reconcile.VerdictMismatch, bank.AddressVerdict)
	assert.Contains(t, bank.Comparisons[reconcile.RoleCertificate].Note, "10 Harbor Road")

	unknown := set.AdditionalInterests[2]
	assert.Equal(t, reconcile.VerdictNotFound, unknown.Verdict)

	assert.Equal(t, 1, set.Summary.AdditionalInterests.NameVariation)
}

func TestReconcileInterestKeepsNameVariationWhenAddressDiffers(t *testing.T) {
	set, err := reconcile.Reconcile(reconcile.Input{Documents: map[reconcile.Role]reconcile.Document{
		reconcile.RolePolicy: {AdditionalInterests: []reconcile.Interest{
			{Name: "GOLDING BANK LLC", Address: "1 Main St"},
		}},
		reconcile.RoleCertificate: {AdditionalInterests: []reconcile.Interest{
			{Name: "HOLDING BANK LLC", Address: "9 Oak Ave"},
		}},
	}}, nil)
	require.NoError(t, err)
	require.Len(t, set.AdditionalInterests, 1)

	item := set.AdditionalInterests[0]
	pair := item.Comparisons[reconcile.RoleCertificate]
	assert.Equal(t, reconcile.VerdictMatch, pair.Verdict)
	assert.Equal(t, reconcile.QualifierNameVariation, pair.Qualifier)
	assert.Equal(t, reconcile.VerdictMatch, item.Verdict)
	assert.Equal(t, reconcile.QualifierNameVariation, item.MatchQualifier)
	assert.Equal(t, reconcile.VerdictMismatch, item.AddressComparisons[reconcile.RoleCertificate])
	assert.Equal(t, reconcile.VerdictMismatch, item.AddressVerdict)
	assert.Contains(t, pair.Note, "9 Oak Ave")
	assert.Equal(t, 1, set.Summary.AdditionalInterests.NameVariation)
}

func TestReconcileRequiresPolicy(t *testing.T) {
	_, err := reconcile.Reconcile(reconcile.Input{Documents: map[reconcile.Role]reconcile.Document{
		reconcile.RoleCertificate: doc(nil),
	}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrReconciliation))
}

func TestReconcileRejectsEmptyCoverageKey(t *testing.T) {
	_, err := reconcile.Reconcile(reconcile.Input{Documents: map[reconcile.Role]reconcile.Document{
		reconcile.RolePolicy: {Coverages: []reconcile.Coverage{{Key: " ", Value: "1"}}},
	}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrReconciliation))
}

func TestDecodeDocumentAcceptsShorthandValues(t *testing.T) {
	raw := json.RawMessage(`{"fields":{"named_insured":"Acme","policy_number":{"value":"P-1","excerpt":"Policy P-1","section":"declarations"}}}`)
	d, err := reconcile.DecodeDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, "Acme", d.Fields["named_insured"].Value)
	assert.Equal(t, "declarations", d.Fields["policy_number"].Section)

	_, err = reconcile.DecodeDocument(json.RawMessage(`{"unexpected":true}`))
	assert.True(t, errors.Is(err, services.ErrReconciliation))
}

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"policy", "certificate", "Certificate_B", "certificate_c", "authority_form"} {
		_, err := reconcile.ParseRole(valid)
		assert.NoError(t, err, valid)
	}
	for _, invalid := range []string{"", "binder", "certificate_bb", "certificate_1"} {
		_, err := reconcile.ParseRole(invalid)
		assert.Error(t, err, invalid)
	}
	assert.Equal(t, "Certificate B", reconcile.RoleCertificateB.Label())
}

func TestCatalogOverride(t *testing.T) {
	cat, err := reconcile.ParseCatalog([]byte(`
name_similarity_threshold: 0.5
fields:
  - key: insured
    kind: name
`))
	require.NoError(t, err)
	set, err := reconcile.Reconcile(reconcile.Input{Documents: map[reconcile.Role]reconcile.Document{
		reconcile.RolePolicy:      doc(map[string]string{"insured": "Fabrikam"}),
		reconcile.RoleCertificate: doc(map[string]string{"insured": "Fabrikam Grp"}),
	}}, cat)
	require.NoError(t, err)
	require.Len(t, set.Fields, 1)
	assert.Equal(t, reconcile.QualifierNameVariation, set.Fields[0].MatchQualifier)

	_, err = reconcile.ParseCatalog([]byte(`fields: [{key: a, kind: colour}]`))
	assert.Error(t, err)
}
