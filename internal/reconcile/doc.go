// Package reconcile compares structured documents extracted from a policy and
// its certificates and authority forms.
//
// Reconcile is a pure function. For every catalog field, coverage line and
// additional interest it reports one verdict per policy-vs-source pair plus a
// roll-up verdict, with source-attributed evidence and summary counts. Name
// variations (entity suffixes, OCR confusions, small edit distances) are
// reported as MATCH qualified with NAME_VARIATION. The field catalog is
// declarative YAML; an embedded default ships with the package.
package reconcile
