package models

// AdverseEventGroup repräsentiert einen Behandlungsarm ("Event Group") einer Studie
// mit den aggregierten Betroffenen-/Risiko-Zahlen für Todesfälle, schwere und sonstige Ereignisse.
// Fehlende Zahlen sind nil, bis der Validator sie auf 0 setzt.
type AdverseEventGroup struct {
	ID               uint   `json:"id" gorm:"primaryKey"`
	NCTID            string `json:"nct_id" gorm:"column:nct_id;not null"`
	GroupID          string `json:"group_id" gorm:"column:group_id;not null"`
	GroupTitle       string `json:"group_title" gorm:"column:group_title"`
	GroupDescription string `json:"group_description" gorm:"column:group_description;type:text"`

	NumDeathAffected   *int `json:"num_death_affected" gorm:"column:num_death_affected"`
	NumDeathAtRisk     *int `json:"num_death_at_risk" gorm:"column:num_death_at_risk"`
	NumSeriousAffected *int `json:"num_serious_affected" gorm:"column:num_serious_affected"`
	NumSeriousAtRisk   *int `json:"num_serious_at_risk" gorm:"column:num_serious_at_risk"`
	NumOtherAffected   *int `json:"num_other_affected" gorm:"column:num_other_affected"`
	NumOtherAtRisk     *int `json:"num_other_at_risk" gorm:"column:num_other_at_risk"`
}

func (AdverseEventGroup) TableName() string {
	return "ae_groups"
}

func (g AdverseEventGroup) NaturalKey() []string {
	return []string{g.NCTID, g.GroupID}
}

// Counts gibt Zeiger auf die sechs Zählfelder in fester Reihenfolge zurück.
func (g *AdverseEventGroup) Counts() []**int {
	return []**int{
		&g.NumDeathAffected, &g.NumDeathAtRisk,
		&g.NumSeriousAffected, &g.NumSeriousAtRisk,
		&g.NumOtherAffected, &g.NumOtherAtRisk,
	}
}
