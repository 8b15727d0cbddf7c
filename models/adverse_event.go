package models

import (
	"strconv"
	"time"
)

// Werte des Schweregrad-Flags.
const (
	NonSerious = 0
	Serious    = 1
)

// AdverseEvent ist eine Beobachtung auf Term-Ebene für genau einen Arm einer Studie.
type AdverseEvent struct {
	ID             uint   `json:"id" gorm:"primaryKey"`
	NCTID          string `json:"nct_id" gorm:"column:nct_id;not null"`
	GroupID        string `json:"group_id" gorm:"column:group_id;not null"`
	Term           string `json:"ae_term" gorm:"column:ae_term;not null"`
	OrganSystem    string `json:"organ_system,omitempty" gorm:"column:organ_system"`
	Vocabulary     string `json:"vocabulary,omitempty" gorm:"column:vocabulary"`
	AssessmentType string `json:"assessment_type,omitempty" gorm:"column:assessment_type"`
	Serious        int    `json:"serious" gorm:"column:serious;not null"`

	NumAffected *int       `json:"num_affected" gorm:"column:num_affected"`
	NumEvents   *int       `json:"num_events" gorm:"column:num_events"`
	NumAtRisk   *int       `json:"num_at_risk" gorm:"column:num_at_risk"`
	LastUpdated *time.Time `json:"last_updated,omitempty" gorm:"column:last_updated"`
}

func (AdverseEvent) TableName() string {
	return "aes"
}

func (a AdverseEvent) NaturalKey() []string {
	return []string{a.NCTID, a.GroupID, a.Term, strconv.Itoa(a.Serious)}
}
