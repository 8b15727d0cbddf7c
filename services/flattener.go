package services

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"trial-etl/models"
	"trial-etl/providers/clinicaltrials"
)

// FlattenReport zählt, was beim Flatten übersprungen wurde.
type FlattenReport struct {
	StudiesSkipped           int `json:"studies_skipped"`
	AdverseDocumentsSkipped  int `json:"adverse_documents_skipped"`
	StudiesWithoutConditions int `json:"studies_without_conditions"`
	StudiesWithoutPhases     int `json:"studies_without_phases"`
	EventsWithoutTerm        int `json:"events_without_term"`
	EventsWithoutStats       int `json:"events_without_stats"`
}

// Flattener wandelt verschachtelte Studien- und Adverse-Event-Dokumente in flache Tabellen um.
type Flattener struct {
	Logger *zap.Logger
}

// NewFlattener erstellt einen neuen Flattener.
func NewFlattener(logger *zap.Logger) *Flattener {
	return &Flattener{Logger: logger}
}

// Flatten erzeugt die Tabellen eines Laufs. Alle Zeilen tragen runDate als last_updated.
// aeDocs ist nach nct_id indiziert; Studien ohne Dokument liefern keine AE-Zeilen.
// Jede Studie bekommt eine data_sources-Zeile mit Abrufdatum, apiVersion und AE-Verfügbarkeit.
func (f *Flattener) Flatten(runDate time.Time, apiVersion string, studies []json.RawMessage, aeDocs map[string]json.RawMessage) (models.Tables, FlattenReport) {
	var (
		tables models.Tables
		report FlattenReport
	)
	lastUpdated := runDate.UTC()

	for i, raw := range studies {
		doc, err := clinicaltrials.ParseStudy(raw)
		if err != nil {
			f.Logger.Warn("Studiendokument nicht lesbar, wird übersprungen", zap.Int("index", i), zap.Error(err))
			report.StudiesSkipped++
			continue
		}
		nctID := NormalizeIdentifier(doc.NCTID())
		if nctID == "" {
			f.Logger.Warn("Studiendokument ohne nctId, wird übersprungen", zap.Int("index", i))
			report.StudiesSkipped++
			continue
		}
		f.flattenStudy(nctID, doc, lastUpdated, &tables, &report)

		source := models.DataSource{NCTID: nctID, APIVersion: apiVersion, RetrievalDate: lastUpdated, HasAdverseEvents: 0}
		if raw, ok := aeDocs[nctID]; ok {
			module, err := clinicaltrials.ParseAdverseEvents(raw)
			if err != nil {
				f.Logger.Warn("Adverse-Events-Dokument nicht lesbar, wird übersprungen", zap.String("nct_id", nctID), zap.Error(err))
				report.AdverseDocumentsSkipped++
			} else {
				f.flattenAdverseEvents(nctID, module, lastUpdated, &tables, &report)
				source.HasAdverseEvents = 1
			}
		}
		tables.DataSources = append(tables.DataSources, source)
	}

	f.Logger.Info("Flatten abgeschlossen",
		zap.Int("studies", len(tables.Studies)),
		zap.Int("conditions", len(tables.Conditions)),
		zap.Int("phases", len(tables.Phases)),
		zap.Int("aes", len(tables.AdverseEvents)),
		zap.Int("ae_groups", len(tables.AdverseEventGroups)),
		zap.Int("data_sources", len(tables.DataSources)),
		zap.Any("report", report))
	return tables, report
}

func (f *Flattener) flattenStudy(nctID string, doc *clinicaltrials.StudyDocument, lastUpdated time.Time, t *models.Tables, report *FlattenReport) {
	ps := doc.ProtocolSection
	ts := lastUpdated
	t.Studies = append(t.Studies, models.Study{
		NCTID:       nctID,
		Title:       NormalizeLabel(ps.IdentificationModule.BriefTitle),
		LastUpdated: &ts,
	})

	// Fehlende Module überspringen nur die jeweilige Extraktion für diese Studie.
	if ps.ConditionsModule == nil {
		f.Logger.Debug("Studie ohne conditionsModule", zap.String("nct_id", nctID))
		report.StudiesWithoutConditions++
	} else {
		for _, c := range ps.ConditionsModule.Conditions {
			t.Conditions = append(t.Conditions, models.Condition{NCTID: nctID, Condition: NormalizeLabel(c)})
		}
	}

	if ps.DesignModule == nil || len(ps.DesignModule.Phases) == 0 {
		report.StudiesWithoutPhases++
		return
	}
	for _, p := range ps.DesignModule.Phases {
		t.Phases = append(t.Phases, models.Phase{NCTID: nctID, Phase: NormalizeLabel(p)})
	}
}

func (f *Flattener) flattenAdverseEvents(nctID string, module *clinicaltrials.AdverseEventsModule, lastUpdated time.Time, t *models.Tables, report *FlattenReport) {
	f.appendEvents(nctID, module.SeriousEvents, models.Serious, lastUpdated, t, report)
	f.appendEvents(nctID, module.OtherEvents, models.NonSerious, lastUpdated, t, report)

	for _, g := range module.EventGroups {
		t.AdverseEventGroups = append(t.AdverseEventGroups, models.AdverseEventGroup{
			NCTID:              nctID,
			GroupID:            NormalizeIdentifier(g.ID),
			GroupTitle:         NormalizeLabel(g.Title),
			GroupDescription:   NormalizeLabel(g.Description),
			NumDeathAffected:   g.DeathsNumAffected,
			NumDeathAtRisk:     g.DeathsNumAtRisk,
			NumSeriousAffected: g.SeriousNumAffected,
			NumSeriousAtRisk:   g.SeriousNumAtRisk,
			NumOtherAffected:   g.OtherNumAffected,
			NumOtherAtRisk:     g.OtherNumAtRisk,
		})
	}
}

// appendEvents erzeugt eine Zeile pro (Term, Arm). Ein Zusammenfassen der Arme ist ausdrücklich falsch,
// da sonst keine Inzidenz je Arm berechnet werden kann.
func (f *Flattener) appendEvents(nctID string, events []clinicaltrials.EventDocument, serious int, lastUpdated time.Time, t *models.Tables, report *FlattenReport) {
	for _, ev := range events {
		term := NormalizeLabel(ev.Term)
		if term == "" {
			report.EventsWithoutTerm++
			continue
		}
		if len(ev.Stats) == 0 {
			report.EventsWithoutStats++
			continue
		}
		for _, st := range ev.Stats {
			ts := lastUpdated
			t.AdverseEvents = append(t.AdverseEvents, models.AdverseEvent{
				NCTID:          nctID,
				GroupID:        NormalizeIdentifier(st.GroupID),
				Term:           term,
				OrganSystem:    NormalizeLabel(ev.OrganSystem),
				Vocabulary:     NormalizeLabel(ev.SourceVocabulary),
				AssessmentType: NormalizeLabel(ev.AssessmentType),
				Serious:        serious,
				NumAffected:    st.NumAffected,
				NumEvents:      st.NumEvents,
				NumAtRisk:      st.NumAtRisk,
				LastUpdated:    &ts,
			})
		}
	}
}
