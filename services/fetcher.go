package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trial-etl/providers"
	"trial-etl/providers/clinicaltrials"
	"trial-etl/storage"
)

// FetchResult fasst einen Fetch-Lauf zusammen.
type FetchResult struct {
	RetrievalDate      string   `json:"retrieval_date"`
	Condition          string   `json:"condition"`
	Studies            int      `json:"studies"`
	AdverseDocuments   int      `json:"adverse_documents"`
	MissingAdverseDocs []string `json:"missing_adverse_documents,omitempty"`
	StudySearchFailed  bool     `json:"study_search_failed"`
}

// FetchService kümmert sich um die Orchestrierung des Fetch-Schritts: Studienliste holen,
// je Studie das Adverse-Events-Dokument holen und alles als Roh-Snapshot ablegen.
type FetchService struct {
	Registry  providers.Registry
	Snapshots *storage.SnapshotStore
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewFetchService erstellt eine neue Instanz des FetchService.
func NewFetchService(registry providers.Registry, snapshots *storage.SnapshotStore, logger *zap.Logger) *FetchService {
	return &FetchService{
		Registry:  registry,
		Snapshots: snapshots,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Run führt den Fetch-Schritt für eine Indikation aus. Fehler einzelner Registry-Abfragen werden geloggt
// und als "keine Daten" behandelt; nur Fehler beim Schreiben der Snapshots brechen den Lauf ab.
func (f *FetchService) Run(ctx context.Context, condition string) (FetchResult, error) {
	date := f.Now().UTC().Format(storage.DateLayout)
	log := f.Logger.With(zap.String("condition", condition), zap.String("retrieval_date", date), zap.String("registry", f.Registry.Name()))
	log.Info("Starte Fetch-Prozess.")

	result := FetchResult{RetrievalDate: date, Condition: condition}

	studies, err := f.Registry.SearchStudies(ctx, condition)
	if err != nil {
		log.Warn("Studiensuche lieferte keine Daten, Lauf wird mit leerer Liste fortgesetzt", zap.Error(err))
		fetchFailures.WithLabelValues("studies").Inc()
		result.StudySearchFailed = true
		studies = nil
	}
	if err := f.Snapshots.SaveStudies(ctx, date, condition, studies); err != nil {
		return result, fmt.Errorf("studien-snapshot schreiben: %w", err)
	}
	result.Studies = len(studies)

	for i, raw := range studies {
		doc, err := clinicaltrials.ParseStudy(raw)
		nctID := ""
		if err == nil {
			nctID = NormalizeIdentifier(doc.NCTID())
		}
		if nctID == "" {
			log.Warn("Studie ohne nctId, Adverse Events werden nicht abgefragt", zap.Int("index", i))
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		aeDoc, err := f.Registry.FetchAdverseEvents(ctx, nctID)
		if err != nil {
			if errors.Is(err, providers.ErrNoData) {
				log.Info("Keine Adverse-Events-Daten für Studie", zap.String("nct_id", nctID), zap.Error(err))
			} else {
				log.Warn("Abruf der Adverse Events fehlgeschlagen", zap.String("nct_id", nctID), zap.Error(err))
			}
			fetchFailures.WithLabelValues("adverse_events").Inc()
			result.MissingAdverseDocs = append(result.MissingAdverseDocs, nctID)
			continue
		}
		if err := f.Snapshots.SaveAdverseEvents(ctx, date, nctID, aeDoc); err != nil {
			return result, fmt.Errorf("adverse-events-snapshot %s schreiben: %w", nctID, err)
		}
		result.AdverseDocuments++
	}

	manifest := storage.RunManifest{
		RetrievalDate: date,
		Condition:     condition,
		Registry:      f.Registry.Name(),
		APIVersion:    f.Registry.APIVersion(),
	}
	if err := f.Snapshots.SaveManifest(ctx, manifest); err != nil {
		return result, fmt.Errorf("lauf-manifest schreiben: %w", err)
	}

	log.Info("Fetch-Prozess abgeschlossen",
		zap.Int("studies", result.Studies),
		zap.Int("adverse_documents", result.AdverseDocuments),
		zap.Int("missing_adverse_documents", len(result.MissingAdverseDocs)))
	return result, nil
}

// RawRun sind die Roh-Snapshots eines Fetch-Laufs, wie sie der Flatten-Schritt braucht.
type RawRun struct {
	Manifest      storage.RunManifest
	RetrievalDate time.Time
	Studies       []json.RawMessage
	AdverseEvents map[string]json.RawMessage
}

// LoadRun liest die Roh-Snapshots des zuletzt abgeschlossenen Fetch-Laufs. Ist condition gesetzt und
// weicht sie vom letzten Lauf ab, wird der Lauf dieser Indikation vom selben Abrufdatum gelesen.
func (f *FetchService) LoadRun(condition string) (RawRun, error) {
	var run RawRun
	manifest, err := f.Snapshots.LatestManifest()
	if err != nil {
		return run, err
	}
	if condition != "" && storage.ConditionSlug(condition) != storage.ConditionSlug(manifest.Condition) {
		if manifest, err = f.Snapshots.Manifest(manifest.RetrievalDate, condition); err != nil {
			return run, err
		}
	}
	run.Manifest = manifest
	if run.RetrievalDate, err = manifest.Date(); err != nil {
		return run, err
	}
	if run.Studies, err = f.Snapshots.LoadStudies(manifest.RetrievalDate, manifest.Condition); err != nil {
		return run, err
	}
	if run.AdverseEvents, err = f.Snapshots.LoadAdverseEvents(manifest.RetrievalDate); err != nil {
		return run, err
	}
	return run, nil
}
