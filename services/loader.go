package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trial-etl/models"
)

// DefaultLoadBatchSize ist die Größe eines Insert-Batches, bevor auf zeilenweises Einfügen zurückgefallen wird.
const DefaultLoadBatchSize = 200

// TableLoadReport beschreibt das Ergebnis des inkrementellen Ladens einer Tabelle.
type TableLoadReport struct {
	Table     string `json:"table"`
	Attempted int    `json:"attempted"`
	Inserted  int    `json:"inserted"`
	Skipped   int    `json:"skipped"` // natürlicher Schlüssel bereits vorhanden
	Failed    int    `json:"failed"`  // Constraint-Verletzung, z.B. unbekannte Studie
}

// LoadReport fasst alle Tabellen eines Load-Vorgangs in Ladereihenfolge zusammen.
type LoadReport struct {
	Tables []TableLoadReport `json:"tables"`
}

// Table liefert den Bericht einer Tabelle.
func (r LoadReport) Table(name string) TableLoadReport {
	for _, t := range r.Tables {
		if t.Table == name {
			return t
		}
	}
	return TableLoadReport{Table: name}
}

// Inserted summiert die neu eingefügten Zeilen über alle Tabellen.
func (r LoadReport) Inserted() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Inserted
	}
	return n
}

// Loader führt den inkrementellen "insert if absent"-Merge validierter Tabellen in den Store aus.
// Bestehende Zeilen werden nie aktualisiert.
type Loader struct {
	DB        *gorm.DB
	Logger    *zap.Logger
	BatchSize int
}

// NewLoader erstellt einen neuen Loader.
func NewLoader(db *gorm.DB, logger *zap.Logger) *Loader {
	return &Loader{DB: db, Logger: logger, BatchSize: DefaultLoadBatchSize}
}

// Load lädt alle Tabellen in fremdschlüsselsicherer Reihenfolge: studies, conditions, phases, ae_groups, aes, data_sources.
// Jede Tabelle wird in einer eigenen Transaktion committet. Ein Fehler bricht den Load ab;
// bereits committete Tabellen bleiben erhalten und sind bei Wiederholung idempotent.
func (l *Loader) Load(ctx context.Context, t models.Tables) (LoadReport, error) {
	var report LoadReport
	steps := []struct {
		table string
		run   func(*gorm.DB) (TableLoadReport, error)
	}{
		{models.Study{}.TableName(), func(db *gorm.DB) (TableLoadReport, error) { return insertIfAbsent(db, l, t.Studies) }},
		{models.Condition{}.TableName(), func(db *gorm.DB) (TableLoadReport, error) { return insertIfAbsent(db, l, t.Conditions) }},
		{models.Phase{}.TableName(), func(db *gorm.DB) (TableLoadReport, error) { return insertIfAbsent(db, l, t.Phases) }},
		{models.AdverseEventGroup{}.TableName(), func(db *gorm.DB) (TableLoadReport, error) {
			return insertIfAbsent(db, l, t.AdverseEventGroups)
		}},
		{models.AdverseEvent{}.TableName(), func(db *gorm.DB) (TableLoadReport, error) { return insertIfAbsent(db, l, t.AdverseEvents) }},
		{models.DataSource{}.TableName(), func(db *gorm.DB) (TableLoadReport, error) { return insertIfAbsent(db, l, t.DataSources) }},
	}

	for _, step := range steps {
		var tr TableLoadReport
		err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			tr, err = step.run(tx)
			return err
		})
		tr.Table = step.table
		if err != nil {
			return report, fmt.Errorf("tabelle %s laden: %w", step.table, err)
		}

		loadedRows.WithLabelValues(tr.Table, "inserted").Add(float64(tr.Inserted))
		loadedRows.WithLabelValues(tr.Table, "skipped").Add(float64(tr.Skipped))
		loadedRows.WithLabelValues(tr.Table, "failed").Add(float64(tr.Failed))
		l.Logger.Info("Tabelle inkrementell geladen",
			zap.String("table", tr.Table),
			zap.Int("attempted", tr.Attempted),
			zap.Int("inserted", tr.Inserted),
			zap.Int("skipped_existing", tr.Skipped),
			zap.Int("failed", tr.Failed))
		report.Tables = append(report.Tables, tr)
	}
	return report, nil
}

// insertIfAbsent fügt rows mit ON CONFLICT DO NOTHING ein. Jeder Batch läuft in einem Savepoint;
// schlägt er fehl, wird er zeilenweise wiederholt, sodass nur die verletzende Zeile verworfen wird.
func insertIfAbsent[T any](tx *gorm.DB, l *Loader, rows []T) (TableLoadReport, error) {
	report := TableLoadReport{Attempted: len(rows)}
	if len(rows) == 0 {
		return report, nil
	}

	batchSize := l.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultLoadBatchSize
	}

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		batch := freshRows(rows[start:end])

		var inserted int64
		err := tx.Transaction(func(sp *gorm.DB) error {
			res := sp.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch)
			inserted = res.RowsAffected
			return res.Error
		})
		if err == nil {
			report.Inserted += int(inserted)
			continue
		}
		if tx.Error != nil {
			return report, tx.Error
		}

		l.Logger.Debug("Batch verletzt Constraint, wiederhole zeilenweise", zap.Int("batch_start", start), zap.Error(err))
		for i := range batch {
			row := freshRows(batch[i : i+1])
			err := tx.Transaction(func(sp *gorm.DB) error {
				res := sp.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
				inserted = res.RowsAffected
				return res.Error
			})
			if err != nil {
				report.Failed++
				l.Logger.Warn("Zeile verletzt Constraint und wird übersprungen",
					zap.Int("row", start+i),
					zap.Any("record", row[0]),
					zap.Error(err))
				continue
			}
			report.Inserted += int(inserted)
		}
	}

	report.Skipped = report.Attempted - report.Inserted - report.Failed
	return report, nil
}

// freshRows kopiert rows und setzt die Surrogat-ID zurück, damit nur der natürliche Schlüssel entscheidet
// und die Eingabe des Aufrufers nicht mit IDs beschrieben wird.
func freshRows[T any](rows []T) []T {
	out := make([]T, len(rows))
	copy(out, rows)
	for i := range out {
		switch r := any(&out[i]).(type) {
		case *models.Study:
			r.ID = 0
		case *models.Condition:
			r.ID = 0
		case *models.Phase:
			r.ID = 0
		case *models.AdverseEventGroup:
			r.ID = 0
		case *models.AdverseEvent:
			r.ID = 0
		case *models.DataSource:
			r.ID = 0
		}
	}
	return out
}
