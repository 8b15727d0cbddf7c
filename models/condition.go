package models

// Condition ist ein Krankheits-/Indikations-Label einer Studie.
type Condition struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	NCTID     string `json:"nct_id" gorm:"column:nct_id;not null"`
	Condition string `json:"condition" gorm:"column:condition;not null"`
}

func (Condition) TableName() string {
	return "conditions"
}

func (c Condition) NaturalKey() []string {
	return []string{c.NCTID, c.Condition}
}
