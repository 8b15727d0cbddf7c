// Package clinicaltrials enthält die Logik für die Interaktion mit der ClinicalTrials.gov API v2
// sowie die expliziten Zwischen-Records für Studien- und Adverse-Event-Dokumente.
package clinicaltrials

import (
	"encoding/json"
)

// StudiesResponse repräsentiert die JSON-Antwort von GET /studies.
type StudiesResponse struct {
	Studies       []json.RawMessage `json:"studies"`
	NextPageToken string            `json:"nextPageToken"`
}

// StudyDocument ist ein einzelnes Studiendokument. Alle Module sind optional.
type StudyDocument struct {
	ProtocolSection *ProtocolSection `json:"protocolSection"`
	ResultsSection  *ResultsSection  `json:"resultsSection"`
}

// ProtocolSection enthält die Stammdaten einer Studie.
type ProtocolSection struct {
	IdentificationModule *IdentificationModule `json:"identificationModule"`
	ConditionsModule     *ConditionsModule     `json:"conditionsModule"`
	DesignModule         *DesignModule         `json:"designModule"`
}

// IdentificationModule trägt Registry-ID und Titel.
type IdentificationModule struct {
	NCTID      string `json:"nctId"`
	BriefTitle string `json:"briefTitle"`
}

// ConditionsModule listet die Indikationen einer Studie.
type ConditionsModule struct {
	Conditions []string `json:"conditions"`
}

// DesignModule listet u.a. die Studienphasen.
type DesignModule struct {
	Phases []string `json:"phases"`
}

// ResultsSection wird nur für den Abruf des Adverse-Events-Moduls benötigt.
type ResultsSection struct {
	AdverseEventsModule json.RawMessage `json:"adverseEventsModule"`
}

// AdverseEventsModule ist das Adverse-Events-Dokument einer Studie.
type AdverseEventsModule struct {
	FrequencyThreshold string               `json:"frequencyThreshold"`
	TimeFrame          string               `json:"timeFrame"`
	Description        string               `json:"description"`
	EventGroups        []EventGroupDocument `json:"eventGroups"`
	SeriousEvents      []EventDocument      `json:"seriousEvents"`
	OtherEvents        []EventDocument      `json:"otherEvents"`
}

// EventGroupDocument beschreibt einen Arm mit seinen aggregierten Zahlen.
type EventGroupDocument struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	DeathsNumAffected  *int   `json:"deathsNumAffected"`
	DeathsNumAtRisk    *int   `json:"deathsNumAtRisk"`
	SeriousNumAffected *int   `json:"seriousNumAffected"`
	SeriousNumAtRisk   *int   `json:"seriousNumAtRisk"`
	OtherNumAffected   *int   `json:"otherNumAffected"`
	OtherNumAtRisk     *int   `json:"otherNumAtRisk"`
}

// EventDocument ist ein Ereignis auf Term-Ebene mit Statistiken je Arm.
type EventDocument struct {
	Term             string       `json:"term"`
	OrganSystem      string       `json:"organSystem"`
	SourceVocabulary string       `json:"sourceVocabulary"`
	AssessmentType   string       `json:"assessmentType"`
	Stats            []EventStats `json:"stats"`
}

// EventStats sind die Zahlen eines Terms für genau einen Arm.
type EventStats struct {
	GroupID     string `json:"groupId"`
	NumEvents   *int   `json:"numEvents"`
	NumAffected *int   `json:"numAffected"`
	NumAtRisk   *int   `json:"numAtRisk"`
}

// ParseStudy dekodiert ein rohes Studiendokument.
func ParseStudy(raw json.RawMessage) (*StudyDocument, error) {
	var doc StudyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseAdverseEvents dekodiert ein rohes Adverse-Events-Modul.
func ParseAdverseEvents(raw json.RawMessage) (*AdverseEventsModule, error) {
	var module AdverseEventsModule
	if err := json.Unmarshal(raw, &module); err != nil {
		return nil, err
	}
	return &module, nil
}

// NCTID liefert die Registry-ID eines Dokuments oder "" wenn sie fehlt.
func (d *StudyDocument) NCTID() string {
	if d == nil || d.ProtocolSection == nil || d.ProtocolSection.IdentificationModule == nil {
		return ""
	}
	return d.ProtocolSection.IdentificationModule.NCTID
}
