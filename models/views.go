package models

// AERatePerArm ist eine Zeile der View ae_rate_per_arm.
type AERatePerArm struct {
	NCTID       string   `json:"nct_id" gorm:"column:nct_id"`
	GroupID     string   `json:"group_id" gorm:"column:group_id"`
	GroupTitle  string   `json:"group_title" gorm:"column:group_title"`
	Term        string   `json:"ae_term" gorm:"column:ae_term"`
	Serious     int      `json:"serious" gorm:"column:serious"`
	NumAffected *int     `json:"num_affected" gorm:"column:num_affected"`
	NumAtRisk   *int     `json:"num_at_risk" gorm:"column:num_at_risk"`
	AERate      *float64 `json:"ae_rate" gorm:"column:ae_rate"`
}

func (AERatePerArm) TableName() string { return "ae_rate_per_arm" }

// SeriousAESummary ist eine Zeile der View serious_ae_summary.
type SeriousAESummary struct {
	NCTID           string `json:"nct_id" gorm:"column:nct_id"`
	SeriousAECount  int64  `json:"serious_ae_count" gorm:"column:serious_ae_count"`
	SeriousAffected *int64 `json:"serious_affected" gorm:"column:serious_affected"`
	SeriousEvents   *int64 `json:"serious_events" gorm:"column:serious_events"`
}

func (SeriousAESummary) TableName() string { return "serious_ae_summary" }
