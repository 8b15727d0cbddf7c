package models

import (
	"time"
)

// DataSource hält die Herkunft einer Studie je Abruf: wann, über welche API-Version und ob Adverse Events vorlagen.
type DataSource struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	NCTID            string    `json:"nct_id" gorm:"column:nct_id;not null"`
	APIVersion       string    `json:"api_version" gorm:"column:api_version"`
	RetrievalDate    time.Time `json:"retrieval_date" gorm:"column:retrieval_date;not null"`
	HasAdverseEvents int       `json:"has_adverse_events" gorm:"column:has_adverse_events;not null"`
}

func (DataSource) TableName() string {
	return "data_sources"
}

func (d DataSource) NaturalKey() []string {
	date := ""
	if !d.RetrievalDate.IsZero() {
		date = d.RetrievalDate.UTC().Format("2006-01-02")
	}
	return []string{d.NCTID, date}
}
