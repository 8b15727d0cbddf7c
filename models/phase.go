package models

// Phase ist ein Studienphasen-Label (z.B. "PHASE2") einer Studie.
type Phase struct {
	ID    uint   `json:"id" gorm:"primaryKey"`
	NCTID string `json:"nct_id" gorm:"column:nct_id;not null"`
	Phase string `json:"phase" gorm:"column:phase;not null"`
}

func (Phase) TableName() string {
	return "phases"
}

func (p Phase) NaturalKey() []string {
	return []string{p.NCTID, p.Phase}
}
