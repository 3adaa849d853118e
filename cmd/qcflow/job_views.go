package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"qcflow/internal/api"
	"qcflow/internal/reconcile"
)

const missingValue = "-"

func printStatus(cmd *cobra.Command, status *api.StatusResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintln(out, renderSectionHeader("Job "+status.JobID, colorize))
	fmt.Fprintln(out, renderStatusLine("State", jobStateKind(status.State), string(status.State), colorize))
	fmt.Fprintln(out, renderStatusLine("Ready", statusInfo, yesNo(status.Ready), colorize))
	fmt.Fprintln(out, renderStatusLine("Documents", statusInfo,
		fmt.Sprintf("%d/%d extracted, %d failed", status.CompletedFileCount, status.ExpectedFileCount, status.FailedFileCount), colorize))
	if status.Message != "" {
		fmt.Fprintln(out, renderStatusLine("Message", statusInfo, status.Message, colorize))
	}
	if status.Error != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, status.Error, colorize))
	}
	if status.SheetURL != "" {
		fmt.Fprintln(out, renderStatusLine("Sheet", statusOK, status.SheetURL, colorize))
	}
	for _, f := range status.Files {
		message := string(f.Status)
		if f.Error != "" {
			message += ": " + f.Error
		}
		label := string(f.Role)
		if f.FileName != "" {
			label += " (" + f.FileName + ")"
		}
		fmt.Fprintln(out, renderStatusLine(label, fileStatusKind(f.Status), message, colorize))
	}
}

func printFinalize(cmd *cobra.Command, result api.FinalizeResponse) {
	out := cmd.OutOrStdout()
	switch {
	case result.InProgress:
		fmt.Fprintf(out, "Finalize of job %s is already in progress; retry shortly\n", result.JobID)
		return
	case result.Cached:
		fmt.Fprintf(out, "Job %s was already finalized\n", result.JobID)
	default:
		fmt.Fprintf(out, "Job %s finalized\n", result.JobID)
	}
	if result.VerdictSummary != nil {
		fmt.Fprintln(out, summaryLine(*result.VerdictSummary))
	}
	if result.SheetURL != "" {
		fmt.Fprintf(out, "Sheet: %s\n", result.SheetURL)
	}
}

func printResults(cmd *cobra.Command, results api.ResultsResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	merged := results.Merged
	if merged == nil {
		fmt.Fprintf(out, "Job %s has no verdicts\n", results.JobID)
		return
	}
	others := otherSources(merged.Sources)

	fmt.Fprintln(out, renderSectionHeader("Fields", colorize))
	rows := make([][]string, 0, len(merged.Fields))
	for _, f := range merged.Fields {
		row := []string{f.Label, display(f.SourceValues[reconcile.RolePolicy])}
		for _, role := range others {
			row = append(row, display(f.SourceValues[role]))
		}
		rows = append(rows, append(row, verdictLabel(f.Verdict, f.MatchQualifier)))
	}
	fmt.Fprintln(out, renderTable(sourceHeaders("Field", nil, others), rows, nil))

	fmt.Fprintln(out, renderSectionHeader("Coverages", colorize))
	rows = rows[:0]
	for _, c := range merged.Coverages {
		row := []string{c.CoverageKey, c.Category, display(c.PolicyValue)}
		for _, role := range others {
			row = append(row, display(c.SourceValues[role]))
		}
		rows = append(rows, append(row, verdictLabel(c.Verdict, c.MatchQualifier)))
	}
	fmt.Fprintln(out, renderTable(sourceHeaders("Coverage", []string{"Category"}, others), rows, nil))

	if len(merged.AdditionalInterests) > 0 {
		fmt.Fprintln(out, renderSectionHeader("Additional interests", colorize))
		rows = rows[:0]
		for _, item := range merged.AdditionalInterests {
			row := []string{item.Name, item.Type, display(item.SourceNames[reconcile.RolePolicy])}
			for _, role := range others {
				row = append(row, display(item.SourceNames[role]))
			}
			rows = append(rows, append(row, verdictLabel(item.Verdict, item.MatchQualifier)))
		}
		fmt.Fprintln(out, renderTable(sourceHeaders("Interest", []string{"Type"}, others), rows, nil))
	}

	fmt.Fprintln(out, summaryLine(results.SummaryCounts))
	if results.SheetURL != "" {
		fmt.Fprintf(out, "Sheet: %s\n", results.SheetURL)
	}
}

func otherSources(sources []reconcile.Role) []reconcile.Role {
	out := make([]reconcile.Role, 0, len(sources))
	for _, role := range sources {
		if role != reconcile.RolePolicy {
			out = append(out, role)
		}
	}
	return out
}

func sourceHeaders(first string, extra []string, others []reconcile.Role) []string {
	headers := append([]string{first}, extra...)
	headers = append(headers, reconcile.RolePolicy.Label())
	for _, role := range others {
		headers = append(headers, role.Label())
	}
	return append(headers, "Verdict")
}

func verdictLabel(v reconcile.Verdict, q reconcile.Qualifier) string {
	if q == reconcile.QualifierNameVariation {
		return string(v) + " (name variation)"
	}
	return string(v)
}

func display(value *string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return missingValue
	}
	return *value
}

func summaryLine(counts reconcile.SummaryCounts) string {
	section := func(name string, c reconcile.SectionCounts) string {
		return name + " " + strconv.Itoa(c.Match) + "/" + strconv.Itoa(c.Total) + " match"
	}
	return fmt.Sprintf("Summary: %s, %s, %s; %d mismatches",
		section("fields", counts.Fields),
		section("coverages", counts.Coverages),
		section("interests", counts.AdditionalInterests),
		counts.Mismatches(),
	)
}
