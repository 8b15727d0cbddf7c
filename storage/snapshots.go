package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DateLayout ist das Format des Abrufdatums in Dateinamen und in last_updated.txt.
const DateLayout = "2006-01-02"

// ErrSnapshotMissing wird zurückgegeben, wenn ein erwartetes Artefakt nicht existiert.
var ErrSnapshotMissing = errors.New("snapshot missing")

var slugRE = regexp.MustCompile(`[^a-z0-9]+`)

// ConditionSlug macht aus einem Suchbegriff einen dateinamentauglichen Schlüssel ("Breast Cancer" -> "breast-cancer").
func ConditionSlug(condition string) string {
	return strings.Trim(slugRE.ReplaceAllString(strings.ToLower(condition), "-"), "-")
}

// RunManifest beschreibt einen abgeschlossenen Fetch-Lauf und verweist auf dessen Studien-Snapshot.
type RunManifest struct {
	RetrievalDate string `json:"retrieval_date"`
	Condition     string `json:"condition"`
	Registry      string `json:"registry"`
	APIVersion    string `json:"api_version"`
}

// Date liefert das Abrufdatum als Zeitpunkt (UTC, Mitternacht).
func (m RunManifest) Date() (time.Time, error) {
	t, err := time.Parse(DateLayout, m.RetrievalDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("abrufdatum %q nicht lesbar: %w", m.RetrievalDate, err)
	}
	return t.UTC(), nil
}

// SnapshotStore persistiert die Roh-Antworten der Registry als Übergabeformat zwischen Fetch und Flatten.
// Studienlisten sind nach Datum und Suchbegriff getrennt, damit mehrere Indikationen eines Tages nebeneinander bestehen.
// Adverse-Events-Dokumente hängen nur an der Studie und werden zwischen Indikationen geteilt.
//
// Layout unterhalb von Root:
//
//	raw/studies/studies_<date>_<condition-slug>.json
//	raw/adverse_events/<date>/<nct_id>.json
//	raw/runs/<date>_<condition-slug>.json
//	raw/last_run.json
//	raw/last_updated.txt
type SnapshotStore struct {
	Root     string
	Archiver Archiver
	Logger   *zap.Logger
}

// NewSnapshotStore erstellt einen SnapshotStore. archiver darf nil sein.
func NewSnapshotStore(root string, archiver Archiver, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{Root: root, Archiver: archiver, Logger: logger}
}

func (s *SnapshotStore) studiesPath(date, condition string) string {
	name := fmt.Sprintf("studies_%s.json", date)
	if slug := ConditionSlug(condition); slug != "" {
		name = fmt.Sprintf("studies_%s_%s.json", date, slug)
	}
	return filepath.Join(s.Root, "raw", "studies", name)
}

func (s *SnapshotStore) manifestPath(date, condition string) string {
	return filepath.Join(s.Root, "raw", "runs", fmt.Sprintf("%s_%s.json", date, ConditionSlug(condition)))
}

func (s *SnapshotStore) latestManifestPath() string {
	return filepath.Join(s.Root, "raw", "last_run.json")
}

func (s *SnapshotStore) adverseEventsDir(date string) string {
	return filepath.Join(s.Root, "raw", "adverse_events", date)
}

func (s *SnapshotStore) retrievalDatePath() string {
	return filepath.Join(s.Root, "raw", "last_updated.txt")
}

// SaveStudies schreibt die Studienliste eines Laufs unverändert als JSON-Array.
func (s *SnapshotStore) SaveStudies(ctx context.Context, date, condition string, studies []json.RawMessage) error {
	if studies == nil {
		studies = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(studies, "", "  ")
	if err != nil {
		return err
	}
	return s.write(ctx, s.studiesPath(date, condition), data)
}

// SaveAdverseEvents schreibt das Adverse-Events-Dokument einer Studie.
func (s *SnapshotStore) SaveAdverseEvents(ctx context.Context, date, nctID string, doc json.RawMessage) error {
	if nctID == "" || strings.ContainsAny(nctID, `/\`) || strings.Contains(nctID, "..") {
		return fmt.Errorf("ungültige nct_id %q", nctID)
	}
	return s.write(ctx, filepath.Join(s.adverseEventsDir(date), nctID+".json"), doc)
}

// SaveManifest schließt einen Fetch-Lauf ab: Manifest je Lauf, Verweis auf den letzten Lauf und last_updated.txt.
func (s *SnapshotStore) SaveManifest(ctx context.Context, m RunManifest) error {
	if _, err := m.Date(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := s.write(ctx, s.manifestPath(m.RetrievalDate, m.Condition), data); err != nil {
		return err
	}
	if err := s.write(ctx, s.latestManifestPath(), data); err != nil {
		return err
	}
	return s.write(ctx, s.retrievalDatePath(), []byte(m.RetrievalDate))
}

// LatestManifest liest das Manifest des zuletzt abgeschlossenen Fetch-Laufs.
func (s *SnapshotStore) LatestManifest() (RunManifest, error) {
	return s.readManifest(s.latestManifestPath())
}

// Manifest liest das Manifest eines bestimmten Laufs.
func (s *SnapshotStore) Manifest(date, condition string) (RunManifest, error) {
	return s.readManifest(s.manifestPath(date, condition))
}

func (s *SnapshotStore) readManifest(path string) (RunManifest, error) {
	var m RunManifest
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, fmt.Errorf("%s: %w", filepath.Base(path), ErrSnapshotMissing)
	}
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%s nicht lesbar: %w", filepath.Base(path), err)
	}
	return m, nil
}

// LoadRetrievalDate liest das Abrufdatum des letzten Laufs aus last_updated.txt.
func (s *SnapshotStore) LoadRetrievalDate() (time.Time, error) {
	data, err := os.ReadFile(s.retrievalDatePath())
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, fmt.Errorf("last_updated.txt: %w", ErrSnapshotMissing)
	}
	if err != nil {
		return time.Time{}, err
	}
	return RunManifest{RetrievalDate: strings.TrimSpace(string(data))}.Date()
}

// LoadStudies liest die Studienliste eines Laufs.
func (s *SnapshotStore) LoadStudies(date, condition string) ([]json.RawMessage, error) {
	path := s.studiesPath(date, condition)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrSnapshotMissing)
	}
	if err != nil {
		return nil, err
	}
	var studies []json.RawMessage
	if err := json.Unmarshal(data, &studies); err != nil {
		return nil, fmt.Errorf("%s nicht lesbar: %w", filepath.Base(path), err)
	}
	return studies, nil
}

// LoadAdverseEvents liest alle Adverse-Events-Dokumente eines Laufs, keyed nach nct_id.
func (s *SnapshotStore) LoadAdverseEvents(date string) (map[string]json.RawMessage, error) {
	dir := s.adverseEventsDir(date)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	docs := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		docs[strings.TrimSuffix(name, ".json")] = json.RawMessage(data)
	}
	return docs, nil
}

// write schreibt atomar über eine temporäre Datei und spiegelt optional nach S3.
func (s *SnapshotStore) write(ctx context.Context, path string, data []byte) error {
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	if s.Archiver == nil {
		return nil
	}
	key, err := filepath.Rel(filepath.Join(s.Root, "raw"), path)
	if err != nil {
		key = filepath.Base(path)
	}
	link, err := s.Archiver.Archive(ctx, filepath.ToSlash(key), data)
	if err != nil {
		// Der Spiegel ist optional, die lokale Datei ist maßgeblich.
		s.Logger.Warn("Spiegeln des Snapshots fehlgeschlagen", zap.String("key", key), zap.Error(err))
		return nil
	}
	s.Logger.Debug("Snapshot gespiegelt", zap.String("link", link))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("verzeichnis anlegen: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
