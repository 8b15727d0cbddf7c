package models

import (
	"time"
)

// Study repräsentiert eine registrierte klinische Studie.
type Study struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	NCTID       string     `json:"nct_id" gorm:"column:nct_id;not null"`
	Title       string     `json:"title" gorm:"column:title;not null"`
	LastUpdated *time.Time `json:"last_updated,omitempty" gorm:"column:last_updated"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Study) TableName() string {
	return "studies"
}

// NaturalKey liefert die Spalten, über die dedupliziert wird.
func (s Study) NaturalKey() []string {
	return []string{s.NCTID}
}
