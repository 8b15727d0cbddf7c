package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"trial-etl/models"
)

// Verzeichnisse der tabellarischen Übergabe-Artefakte.
const (
	ProcessedDir = "processed"
	ValidatedDir = "validated"
)

// TableStore schreibt und liest die flachen Tabellen als CSV.
// processed/ ist die Ausgabe des Flatteners, validated/ die des Validators.
type TableStore struct {
	Root string
}

// NewTableStore erstellt einen TableStore unterhalb von root.
func NewTableStore(root string) *TableStore {
	return &TableStore{Root: root}
}

type csvCodec[T any] struct {
	header []string
	encode func(T) []string
	decode func(rec []string) (T, error)
}

var studyCodec = csvCodec[models.Study]{
	header: []string{"nct_id", "title", "last_updated"},
	encode: func(s models.Study) []string {
		return []string{s.NCTID, s.Title, formatTime(s.LastUpdated)}
	},
	decode: func(rec []string) (models.Study, error) {
		t, err := parseTime(rec[2])
		return models.Study{NCTID: rec[0], Title: rec[1], LastUpdated: t}, err
	},
}

var conditionCodec = csvCodec[models.Condition]{
	header: []string{"nct_id", "condition"},
	encode: func(c models.Condition) []string { return []string{c.NCTID, c.Condition} },
	decode: func(rec []string) (models.Condition, error) {
		return models.Condition{NCTID: rec[0], Condition: rec[1]}, nil
	},
}

var phaseCodec = csvCodec[models.Phase]{
	header: []string{"nct_id", "phase"},
	encode: func(p models.Phase) []string { return []string{p.NCTID, p.Phase} },
	decode: func(rec []string) (models.Phase, error) {
		return models.Phase{NCTID: rec[0], Phase: rec[1]}, nil
	},
}

var adverseEventCodec = csvCodec[models.AdverseEvent]{
	header: []string{"nct_id", "group_id", "ae_term", "organ_system", "vocabulary", "assessment_type",
		"serious", "num_affected", "num_events", "num_at_risk", "last_updated"},
	encode: func(a models.AdverseEvent) []string {
		return []string{a.NCTID, a.GroupID, a.Term, a.OrganSystem, a.Vocabulary, a.AssessmentType,
			strconv.Itoa(a.Serious), formatInt(a.NumAffected), formatInt(a.NumEvents), formatInt(a.NumAtRisk),
			formatTime(a.LastUpdated)}
	},
	decode: func(rec []string) (models.AdverseEvent, error) {
		a := models.AdverseEvent{NCTID: rec[0], GroupID: rec[1], Term: rec[2], OrganSystem: rec[3],
			Vocabulary: rec[4], AssessmentType: rec[5]}
		var err error
		if a.Serious, err = strconv.Atoi(rec[6]); err != nil {
			return a, fmt.Errorf("serious: %w", err)
		}
		if a.NumAffected, err = parseInt(rec[7]); err != nil {
			return a, fmt.Errorf("num_affected: %w", err)
		}
		if a.NumEvents, err = parseInt(rec[8]); err != nil {
			return a, fmt.Errorf("num_events: %w", err)
		}
		if a.NumAtRisk, err = parseInt(rec[9]); err != nil {
			return a, fmt.Errorf("num_at_risk: %w", err)
		}
		a.LastUpdated, err = parseTime(rec[10])
		return a, err
	},
}

var adverseEventGroupCodec = csvCodec[models.AdverseEventGroup]{
	header: []string{"nct_id", "group_id", "group_title", "group_description",
		"num_death_affected", "num_death_at_risk", "num_serious_affected", "num_serious_at_risk",
		"num_other_affected", "num_other_at_risk"},
	encode: func(g models.AdverseEventGroup) []string {
		rec := []string{g.NCTID, g.GroupID, g.GroupTitle, g.GroupDescription}
		for _, c := range g.Counts() {
			rec = append(rec, formatInt(*c))
		}
		return rec
	},
	decode: func(rec []string) (models.AdverseEventGroup, error) {
		g := models.AdverseEventGroup{NCTID: rec[0], GroupID: rec[1], GroupTitle: rec[2], GroupDescription: rec[3]}
		for i, c := range g.Counts() {
			v, err := parseInt(rec[4+i])
			if err != nil {
				return g, fmt.Errorf("spalte %d: %w", 4+i, err)
			}
			*c = v
		}
		return g, nil
	},
}

var dataSourceCodec = csvCodec[models.DataSource]{
	header: []string{"nct_id", "api_version", "retrieval_date", "has_adverse_events"},
	encode: func(d models.DataSource) []string {
		date := ""
		if !d.RetrievalDate.IsZero() {
			date = d.RetrievalDate.UTC().Format(DateLayout)
		}
		return []string{d.NCTID, d.APIVersion, date, strconv.Itoa(d.HasAdverseEvents)}
	},
	decode: func(rec []string) (models.DataSource, error) {
		d := models.DataSource{NCTID: rec[0], APIVersion: rec[1]}
		if rec[2] != "" {
			t, err := time.Parse(DateLayout, rec[2])
			if err != nil {
				return d, fmt.Errorf("retrieval_date: %w", err)
			}
			d.RetrievalDate = t
		}
		var err error
		if d.HasAdverseEvents, err = strconv.Atoi(rec[3]); err != nil {
			return d, fmt.Errorf("has_adverse_events: %w", err)
		}
		return d, nil
	},
}

// Dateinamen je Tabelle; validierte Dateien tragen das Präfix "validated_".
var tableFiles = struct {
	studies, conditions, phases, aes, aeGroups, dataSources string
}{"studies.csv", "conditions.csv", "phases.csv", "ae.csv", "ae_groups.csv", "data_sources.csv"}

func (s *TableStore) path(stageDir, file string) string {
	if stageDir == ValidatedDir {
		file = "validated_" + file
	}
	return filepath.Join(s.Root, stageDir, file)
}

// WriteProcessed schreibt die Ausgabe des Flatteners.
func (s *TableStore) WriteProcessed(t models.Tables) error { return s.write(ProcessedDir, t) }

// WriteValidated schreibt die Ausgabe des Validators.
func (s *TableStore) WriteValidated(t models.Tables) error { return s.write(ValidatedDir, t) }

// ReadProcessed liest die Ausgabe des Flatteners.
func (s *TableStore) ReadProcessed() (models.Tables, error) { return s.read(ProcessedDir) }

// ReadValidated liest die Ausgabe des Validators.
func (s *TableStore) ReadValidated() (models.Tables, error) { return s.read(ValidatedDir) }

func (s *TableStore) write(stageDir string, t models.Tables) error {
	if err := writeCSV(s.path(stageDir, tableFiles.studies), studyCodec, t.Studies); err != nil {
		return err
	}
	if err := writeCSV(s.path(stageDir, tableFiles.conditions), conditionCodec, t.Conditions); err != nil {
		return err
	}
	if err := writeCSV(s.path(stageDir, tableFiles.phases), phaseCodec, t.Phases); err != nil {
		return err
	}
	if err := writeCSV(s.path(stageDir, tableFiles.aes), adverseEventCodec, t.AdverseEvents); err != nil {
		return err
	}
	if err := writeCSV(s.path(stageDir, tableFiles.aeGroups), adverseEventGroupCodec, t.AdverseEventGroups); err != nil {
		return err
	}
	return writeCSV(s.path(stageDir, tableFiles.dataSources), dataSourceCodec, t.DataSources)
}

func (s *TableStore) read(stageDir string) (models.Tables, error) {
	var (
		t   models.Tables
		err error
	)
	if t.Studies, err = readCSV(s.path(stageDir, tableFiles.studies), studyCodec); err != nil {
		return t, err
	}
	if t.Conditions, err = readCSV(s.path(stageDir, tableFiles.conditions), conditionCodec); err != nil {
		return t, err
	}
	if t.Phases, err = readCSV(s.path(stageDir, tableFiles.phases), phaseCodec); err != nil {
		return t, err
	}
	if t.AdverseEvents, err = readCSV(s.path(stageDir, tableFiles.aes), adverseEventCodec); err != nil {
		return t, err
	}
	if t.AdverseEventGroups, err = readCSV(s.path(stageDir, tableFiles.aeGroups), adverseEventGroupCodec); err != nil {
		return t, err
	}
	t.DataSources, err = readCSV(s.path(stageDir, tableFiles.dataSources), dataSourceCodec)
	return t, err
}

func writeCSV[T any](path string, codec csvCodec[T], rows []T) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(codec.header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(codec.encode(row)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("%s schreiben: %w", filepath.Base(path), err)
	}
	return nil
}

func readCSV[T any](path string, codec csvCodec[T]) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrSnapshotMissing)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(codec.header)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: header fehlt", filepath.Base(path))
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	rows := []T{}
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		row, err := codec.decode(rec)
		if err != nil {
			return nil, fmt.Errorf("%s zeile %d: %w", filepath.Base(path), line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func parseInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
