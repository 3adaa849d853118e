package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"qcflow/internal/logging"
	"qcflow/internal/reconcile"
	"qcflow/internal/services"
)

const (
	sheetSummary   = "Summary"
	sheetFields    = "Fields"
	sheetCoverages = "Coverages"
	sheetInterests = "Additional Interests"
)

// Workbook writes verdict sets as XLSX files.
type Workbook struct {
	dir    string
	logger *slog.Logger
}

// NewWorkbook constructs a workbook sink rooted at dir.
func NewWorkbook(dir string, logger *slog.Logger) *Workbook {
	return &Workbook{dir: dir, logger: logging.NewComponentLogger(logger, "sink")}
}

// Path returns the workbook location for a job.
func (w *Workbook) Path(jobID string) string {
	return filepath.Join(w.dir, "qc-"+jobID+".xlsx")
}

// Push renders the workbook and writes it in place of any previous copy.
func (w *Workbook) Push(ctx context.Context, jobID string, verdicts *reconcile.VerdictSet) (string, error) {
	if verdicts == nil {
		return "", services.Wrap(services.ErrInvalidRequest, "sink", "push", "no verdicts to publish", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", services.Wrap(services.ErrSinkUnavailable, "sink", "push", "cancelled", err)
	}
	start := time.Now()

	f, err := Render(jobID, verdicts)
	if err != nil {
		return "", services.Wrap(services.ErrSinkUnavailable, "sink", "render", "build workbook", err)
	}
	defer f.Close()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrSinkUnavailable, "sink", "push", "create export directory", err)
	}
	final := w.Path(jobID)
	tmp := final + ".tmp"
	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", services.Wrap(services.ErrSinkUnavailable, "sink", "render", "encode workbook", err)
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", services.Wrap(services.ErrSinkUnavailable, "sink", "push", "write workbook", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", services.Wrap(services.ErrSinkUnavailable, "sink", "push", "publish workbook", err)
	}

	abs, err := filepath.Abs(final)
	if err != nil {
		abs = final
	}
	sheetURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	logging.WithContext(services.WithJobID(ctx, jobID), w.logger).Info("workbook published",
		logging.String(logging.FieldEventType, "sink_push"),
		logging.String("sheet_url", sheetURL),
		logging.Int("fields", len(verdicts.Fields)),
		logging.Int("coverages", len(verdicts.Coverages)),
		logging.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return sheetURL, nil
}

// Render builds the in-memory workbook for a verdict set.
func Render(jobID string, verdicts *reconcile.VerdictSet) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, err
	}
	for _, name := range []string{sheetFields, sheetCoverages, sheetInterests} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}
	if err := writeSummary(f, jobID, verdicts); err != nil {
		return nil, err
	}
	if err := writeFields(f, verdicts); err != nil {
		return nil, err
	}
	if err := writeCoverages(f, verdicts); err != nil {
		return nil, err
	}
	if err := writeInterests(f, verdicts); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)
	return f, nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func writeSummary(f *excelize.File, jobID string, v *reconcile.VerdictSet) error {
	if err := writeRow(f, sheetSummary, 1, "Job", jobID); err != nil {
		return err
	}
	sources := make([]string, 0, len(v.Sources))
	for _, role := range v.Sources {
		sources = append(sources, role.Label())
	}
	if err := writeRow(f, sheetSummary, 2, "Sources", strings.Join(sources, ", ")); err != nil {
		return err
	}
	if err := writeRow(f, sheetSummary, 4, "Section", "Total", "Match", "Mismatch", "Not found", "Name variation"); err != nil {
		return err
	}
	sections := []struct {
		name   string
		counts reconcile.SectionCounts
	}{
		{sheetFields, v.Summary.Fields},
		{sheetCoverages, v.Summary.Coverages},
		{sheetInterests, v.Summary.AdditionalInterests},
	}
	for i, s := range sections {
		c := s.counts
		if err := writeRow(f, sheetSummary, 5+i, s.name, c.Total, c.Match, c.Mismatch, c.NotFound, c.NameVariation); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheetSummary, "A", "A", 22)
}

// sourceHeaders returns one value column per source and one comparison
// column per non-policy source.
func sourceHeaders(sources []reconcile.Role) (values, pairs []string) {
	for _, role := range sources {
		values = append(values, role.Label())
		if role != reconcile.RolePolicy {
			pairs = append(pairs, "vs "+role.Label())
		}
	}
	return values, pairs
}

func pairCells(sources []reconcile.Role, values map[reconcile.Role]*string, cmp map[reconcile.Role]reconcile.PairVerdict) (cells []any, notes []string) {
	for _, role := range sources {
		cells = append(cells, deref(values[role]))
	}
	for _, role := range sources {
		if role == reconcile.RolePolicy {
			continue
		}
		pair := cmp[role]
		cells = append(cells, pairLabel(pair))
		if pair.Note != "" {
			notes = append(notes, pair.Note)
		}
	}
	return cells, notes
}

func writeFields(f *excelize.File, v *reconcile.VerdictSet) error {
	values, pairs := sourceHeaders(v.Sources)
	header := append([]any{"Field", "Verdict"}, toAny(values)...)
	header = append(header, toAny(pairs)...)
	header = append(header, "Notes")
	if err := writeRow(f, sheetFields, 1, header...); err != nil {
		return err
	}
	for i, field := range v.Fields {
		cells, notes := pairCells(v.Sources, field.SourceValues, field.Comparisons)
		row := append([]any{field.Label, verdictLabel(field.Verdict, field.MatchQualifier)}, cells...)
		row = append(row, strings.Join(notes, "; "))
		if err := writeRow(f, sheetFields, i+2, row...); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheetFields, "A", "A", 28)
}

func writeCoverages(f *excelize.File, v *reconcile.VerdictSet) error {
	values, pairs := sourceHeaders(v.Sources)
	header := append([]any{"Coverage", "Category", "Verdict"}, toAny(values)...)
	header = append(header, toAny(pairs)...)
	header = append(header, "Notes")
	if err := writeRow(f, sheetCoverages, 1, header...); err != nil {
		return err
	}
	for i, item := range v.Coverages {
		cells, notes := pairCells(v.Sources, item.SourceValues, item.Comparisons)
		row := append([]any{item.CoverageKey, item.Category, verdictLabel(item.Verdict, item.MatchQualifier)}, cells...)
		row = append(row, strings.Join(notes, "; "))
		if err := writeRow(f, sheetCoverages, i+2, row...); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheetCoverages, "A", "A", 32)
}

func writeInterests(f *excelize.File, v *reconcile.VerdictSet) error {
	values, pairs := sourceHeaders(v.Sources)
	header := append([]any{"Name", "Type", "Verdict", "Address"}, toAny(values)...)
	header = append(header, toAny(pairs)...)
	header = append(header, "Notes")
	if err := writeRow(f, sheetInterests, 1, header...); err != nil {
		return err
	}
	for i, item := range v.AdditionalInterests {
		cells, notes := pairCells(v.Sources, item.SourceNames, item.Comparisons)
		row := append([]any{item.Name, item.Type, verdictLabel(item.Verdict, item.MatchQualifier), string(item.AddressVerdict)}, cells...)
		row = append(row, strings.Join(notes, "; "))
		if err := writeRow(f, sheetInterests, i+2, row...); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheetInterests, "A", "A", 32)
}

func verdictLabel(v reconcile.Verdict, q reconcile.Qualifier) string {
	if q != "" {
		return fmt.Sprintf("%s (%s)", v, q)
	}
	return string(v)
}

func pairLabel(p reconcile.PairVerdict) string {
	if p.Verdict == "" {
		return ""
	}
	return verdictLabel(p.Verdict, p.Qualifier)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
