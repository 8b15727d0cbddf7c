package services

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"trial-etl/models"
)

// Verletzungskategorien, wie sie in ValidationReport.Violations und im Log erscheinen.
const (
	ViolationNullKey          = "null_key"
	ViolationDuplicateKey     = "duplicate_key"
	ViolationAffectedAtRisk   = "num_affected > num_at_risk"
	ViolationEventsAffected   = "num_events < num_affected"
	ViolationInvalidSerious   = "invalid serious flag"
	ViolationInvalidAEFlag    = "invalid has_adverse_events flag"
	ViolationNegativeCount    = "negative count corrected"
	ViolationMissingCountZero = "missing count defaulted"
)

// ValidationOptions steuern die Eliminierungs-Policy der Schlüsselprüfung.
type ValidationOptions struct {
	EliminateNulls      bool `json:"eliminate_nulls"`
	EliminateDuplicates bool `json:"eliminate_duplicates"`
}

// DefaultValidationOptions entfernt sowohl Null- als auch Duplikat-Schlüssel.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{EliminateNulls: true, EliminateDuplicates: true}
}

// ValidationReport fasst eine Validierung einer Tabelle zusammen.
type ValidationReport struct {
	Table      string         `json:"table"`
	RowsIn     int            `json:"rows_in"`
	RowsOut    int            `json:"rows_out"`
	Violations map[string]int `json:"violations"`
}

func newReport(table string, rowsIn int) ValidationReport {
	return ValidationReport{Table: table, RowsIn: rowsIn, Violations: map[string]int{}}
}

func (r *ValidationReport) add(category string, n int) {
	if n > 0 {
		r.Violations[category] += n
	}
}

// Validator prüft Schlüsselintegrität und Domänenregeln der flachen Tabellen.
// Die Funktionen arbeiten ausschließlich auf ihren Argumenten; Eingaben werden nie verändert.
type Validator struct {
	Logger *zap.Logger
}

// NewValidator erstellt einen neuen Validator.
func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{Logger: logger}
}

// keyed ist jeder Datensatz mit einem natürlichen Schlüssel.
type keyed interface {
	NaturalKey() []string
}

// checkKeys entfernt je nach Policy Zeilen mit leerem Schlüsselteil und danach Duplikate.
// Die erste Zeile eines Schlüssels gewinnt. Das Ergebnis ist immer eine neue, dichte Slice.
func checkKeys[T keyed](rows []T, opts ValidationOptions, report *ValidationReport) []T {
	out := make([]T, 0, len(rows))
	nulls := 0
	for _, row := range rows {
		if hasNullKeyPart(row.NaturalKey()) {
			nulls++
			if opts.EliminateNulls {
				continue
			}
		}
		out = append(out, row)
	}
	report.add(ViolationNullKey, nulls)

	seen := make(map[string]struct{}, len(out))
	deduped := make([]T, 0, len(out))
	dups := 0
	for _, row := range out {
		k := strings.Join(row.NaturalKey(), "\x1f")
		if _, ok := seen[k]; ok {
			dups++
			if opts.EliminateDuplicates {
				continue
			}
		}
		seen[k] = struct{}{}
		deduped = append(deduped, row)
	}
	report.add(ViolationDuplicateKey, dups)
	return deduped
}

func hasNullKeyPart(parts []string) bool {
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return true
		}
	}
	return false
}

// ValidateStudies prüft die Studientabelle (Schlüssel: nct_id).
func (v *Validator) ValidateStudies(rows []models.Study, opts ValidationOptions) ([]models.Study, ValidationReport) {
	report := newReport(models.Study{}.TableName(), len(rows))
	out := checkKeys(rows, opts, &report)
	return out, v.finish(report, len(out), opts)
}

// ValidateConditions prüft die Indikationstabelle (Schlüssel: nct_id, condition).
func (v *Validator) ValidateConditions(rows []models.Condition, opts ValidationOptions) ([]models.Condition, ValidationReport) {
	report := newReport(models.Condition{}.TableName(), len(rows))
	out := checkKeys(rows, opts, &report)
	return out, v.finish(report, len(out), opts)
}

// ValidatePhases prüft die Phasentabelle (Schlüssel: nct_id, phase).
func (v *Validator) ValidatePhases(rows []models.Phase, opts ValidationOptions) ([]models.Phase, ValidationReport) {
	report := newReport(models.Phase{}.TableName(), len(rows))
	out := checkKeys(rows, opts, &report)
	return out, v.finish(report, len(out), opts)
}

// ValidateAdverseEvents prüft Schlüssel (nct_id, group_id, ae_term, serious) und die Domänenregeln
// num_affected <= num_at_risk, num_events >= num_affected und serious ∈ {0,1}.
// Verletzende Zeilen werden entfernt. Fehlt ein Operand, greift die jeweilige Regel nicht.
func (v *Validator) ValidateAdverseEvents(rows []models.AdverseEvent, opts ValidationOptions) ([]models.AdverseEvent, ValidationReport) {
	report := newReport(models.AdverseEvent{}.TableName(), len(rows))
	keyedRows := checkKeys(rows, opts, &report)

	out := make([]models.AdverseEvent, 0, len(keyedRows))
	for _, ae := range keyedRows {
		switch {
		case ae.NumAffected != nil && ae.NumAtRisk != nil && *ae.NumAffected > *ae.NumAtRisk:
			report.add(ViolationAffectedAtRisk, 1)
		case ae.NumEvents != nil && ae.NumAffected != nil && *ae.NumEvents < *ae.NumAffected:
			report.add(ViolationEventsAffected, 1)
		case ae.Serious != models.Serious && ae.Serious != models.NonSerious:
			report.add(ViolationInvalidSerious, 1)
		default:
			out = append(out, ae)
		}
	}
	return out, v.finish(report, len(out), opts)
}

// ValidateAdverseEventGroups prüft Schlüssel (nct_id, group_id). Fehlende Zählwerte werden auf 0 gesetzt,
// negative auf ihren Betrag korrigiert. Zeilen werden in diesem Schritt nie verworfen.
func (v *Validator) ValidateAdverseEventGroups(rows []models.AdverseEventGroup, opts ValidationOptions) ([]models.AdverseEventGroup, ValidationReport) {
	report := newReport(models.AdverseEventGroup{}.TableName(), len(rows))
	keyedRows := checkKeys(rows, opts, &report)

	out := make([]models.AdverseEventGroup, len(keyedRows))
	for i, g := range keyedRows {
		for _, c := range g.Counts() {
			switch {
			case *c == nil:
				*c = models.IntPtr(0)
				report.add(ViolationMissingCountZero, 1)
			case **c < 0:
				// Neuer Zeiger, damit die Eingabe unverändert bleibt.
				*c = models.IntPtr(-**c)
				report.add(ViolationNegativeCount, 1)
			}
		}
		out[i] = g
	}
	return out, v.finish(report, len(out), opts)
}

// ValidateDataSources prüft Schlüssel (nct_id, retrieval_date) und das Flag has_adverse_events ∈ {0,1}.
func (v *Validator) ValidateDataSources(rows []models.DataSource, opts ValidationOptions) ([]models.DataSource, ValidationReport) {
	report := newReport(models.DataSource{}.TableName(), len(rows))
	keyedRows := checkKeys(rows, opts, &report)

	out := make([]models.DataSource, 0, len(keyedRows))
	for _, d := range keyedRows {
		if d.HasAdverseEvents != 0 && d.HasAdverseEvents != 1 {
			report.add(ViolationInvalidAEFlag, 1)
			continue
		}
		out = append(out, d)
	}
	return out, v.finish(report, len(out), opts)
}

// ValidateTables validiert alle Tabellen eines Laufs.
func (v *Validator) ValidateTables(t models.Tables, opts ValidationOptions) (models.Tables, []ValidationReport) {
	var (
		out     models.Tables
		reports = make([]ValidationReport, 0, 6)
		r       ValidationReport
	)
	out.Studies, r = v.ValidateStudies(t.Studies, opts)
	reports = append(reports, r)
	out.Conditions, r = v.ValidateConditions(t.Conditions, opts)
	reports = append(reports, r)
	out.Phases, r = v.ValidatePhases(t.Phases, opts)
	reports = append(reports, r)
	out.AdverseEventGroups, r = v.ValidateAdverseEventGroups(t.AdverseEventGroups, opts)
	reports = append(reports, r)
	out.AdverseEvents, r = v.ValidateAdverseEvents(t.AdverseEvents, opts)
	reports = append(reports, r)
	out.DataSources, r = v.ValidateDataSources(t.DataSources, opts)
	reports = append(reports, r)
	return out, reports
}

// finish loggt jede verletzte Regel genau einmal mit ihrer Anzahl und aktualisiert die Metriken.
func (v *Validator) finish(report ValidationReport, rowsOut int, opts ValidationOptions) ValidationReport {
	report.RowsOut = rowsOut
	log := v.Logger.With(zap.String("table", report.Table))

	categories := make([]string, 0, len(report.Violations))
	for c := range report.Violations {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		n := report.Violations[c]
		log.Warn("Validierungsregel verletzt",
			zap.String("violation", c),
			zap.Int("count", n),
			zap.Bool("eliminate_nulls", opts.EliminateNulls),
			zap.Bool("eliminate_duplicates", opts.EliminateDuplicates))
		validationViolations.WithLabelValues(report.Table, c).Add(float64(n))
	}

	log.Info("Validierung abgeschlossen", zap.Int("rows_in", report.RowsIn), zap.Int("rows_remaining", rowsOut))
	return report
}
