package models

import (
	"time"
)

// SchemaMetadata protokolliert, welche Schema-Version wann angewendet wurde.
type SchemaMetadata struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	SchemaVersion string    `json:"schema_version" gorm:"column:schema_version;not null"`
	AppliedAt     time.Time `json:"applied_at" gorm:"column:applied_at;not null"`
}

func (SchemaMetadata) TableName() string {
	return "schema_metadata"
}
