package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trial-etl/models"
)

// SchemaVersion ist die Version des relationalen Schemas, die ApplySchema stempelt.
const SchemaVersion = "1.1.0"

// Tabellen in Fremdschlüssel-Reihenfolge: studies vor allen abhängigen Tabellen.
// {{id}} wird je Dialekt durch die Surrogat-Schlüssel-Definition ersetzt.
var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS schema_metadata (
		id {{id}},
		schema_version TEXT NOT NULL UNIQUE,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS studies (
		id {{id}},
		nct_id TEXT NOT NULL,
		title TEXT NOT NULL,
		last_updated TIMESTAMP,
		CONSTRAINT uq_studies_nct_id UNIQUE (nct_id)
	)`,
	`CREATE TABLE IF NOT EXISTS conditions (
		id {{id}},
		nct_id TEXT NOT NULL,
		condition TEXT NOT NULL,
		CONSTRAINT uq_conditions_natural_key UNIQUE (nct_id, condition),
		CONSTRAINT fk_conditions_study FOREIGN KEY (nct_id) REFERENCES studies(nct_id) ON DELETE RESTRICT
	)`,
	`CREATE TABLE IF NOT EXISTS phases (
		id {{id}},
		nct_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		CONSTRAINT uq_phases_natural_key UNIQUE (nct_id, phase),
		CONSTRAINT fk_phases_study FOREIGN KEY (nct_id) REFERENCES studies(nct_id) ON DELETE RESTRICT
	)`,
	`CREATE TABLE IF NOT EXISTS ae_groups (
		id {{id}},
		nct_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		group_title TEXT,
		group_description TEXT,
		num_death_affected INTEGER NOT NULL DEFAULT 0 CHECK (num_death_affected >= 0),
		num_death_at_risk INTEGER NOT NULL DEFAULT 0 CHECK (num_death_at_risk >= 0),
		num_serious_affected INTEGER NOT NULL DEFAULT 0 CHECK (num_serious_affected >= 0),
		num_serious_at_risk INTEGER NOT NULL DEFAULT 0 CHECK (num_serious_at_risk >= 0),
		num_other_affected INTEGER NOT NULL DEFAULT 0 CHECK (num_other_affected >= 0),
		num_other_at_risk INTEGER NOT NULL DEFAULT 0 CHECK (num_other_at_risk >= 0),
		CONSTRAINT uq_ae_groups_natural_key UNIQUE (nct_id, group_id),
		CONSTRAINT fk_ae_groups_study FOREIGN KEY (nct_id) REFERENCES studies(nct_id) ON DELETE RESTRICT
	)`,
	`CREATE TABLE IF NOT EXISTS aes (
		id {{id}},
		nct_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		ae_term TEXT NOT NULL,
		organ_system TEXT,
		vocabulary TEXT,
		assessment_type TEXT,
		serious INTEGER NOT NULL CHECK (serious IN (0, 1)),
		num_affected INTEGER CHECK (num_affected >= 0),
		num_events INTEGER CHECK (num_events >= 0),
		num_at_risk INTEGER CHECK (num_at_risk >= 0),
		last_updated TIMESTAMP,
		CONSTRAINT uq_aes_natural_key UNIQUE (nct_id, group_id, ae_term, serious),
		CONSTRAINT fk_aes_study FOREIGN KEY (nct_id) REFERENCES studies(nct_id) ON DELETE RESTRICT
	)`,
	`CREATE TABLE IF NOT EXISTS data_sources (
		id {{id}},
		nct_id TEXT NOT NULL,
		api_version TEXT,
		retrieval_date TIMESTAMP NOT NULL,
		has_adverse_events INTEGER NOT NULL CHECK (has_adverse_events IN (0, 1)),
		CONSTRAINT uq_data_sources_natural_key UNIQUE (nct_id, retrieval_date),
		CONSTRAINT fk_data_sources_study FOREIGN KEY (nct_id) REFERENCES studies(nct_id) ON DELETE RESTRICT
	)`,
}

var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS idx_phases_phase ON phases(phase)`,
	`CREATE INDEX IF NOT EXISTS idx_conditions_condition ON conditions(condition)`,
	`CREATE INDEX IF NOT EXISTS idx_aes_term ON aes(ae_term)`,
	`CREATE INDEX IF NOT EXISTS idx_aes_arm ON aes(nct_id, group_id)`,
}

// Views werden bei jeder Abfrage neu berechnet und nie vom Loader materialisiert.
var viewDDL = map[string]string{
	"ae_rate_per_arm": `
		SELECT
			ae.nct_id,
			ae.group_id,
			g.group_title,
			ae.ae_term,
			ae.serious,
			ae.num_affected,
			ae.num_at_risk,
			CASE WHEN ae.num_at_risk > 0
				THEN CAST(ae.num_affected AS DOUBLE PRECISION) / ae.num_at_risk
			END AS ae_rate
		FROM aes ae
		JOIN studies s ON s.nct_id = ae.nct_id
		LEFT JOIN ae_groups g ON g.nct_id = ae.nct_id AND g.group_id = ae.group_id`,
	"serious_ae_summary": `
		SELECT
			nct_id,
			COUNT(*) AS serious_ae_count,
			SUM(num_affected) AS serious_affected,
			SUM(num_events) AS serious_events
		FROM aes
		WHERE serious = 1
		GROUP BY nct_id`,
}

// ViewNames in Anlagereihenfolge.
var ViewNames = []string{"ae_rate_per_arm", "serious_ae_summary"}

// SchemaResult beschreibt das Ergebnis von ApplySchema.
type SchemaResult struct {
	Version string `json:"version"`
	Stamped bool   `json:"stamped"`
}

// ApplySchema legt Tabellen, Indizes und Views an und stempelt die Schema-Version.
// Mehrfaches Ausführen gegen eine bestehende Datenbank ist ein No-op.
func ApplySchema(ctx context.Context, db *gorm.DB, logger *zap.Logger) (SchemaResult, error) {
	dialect := db.Dialector.Name()
	idColumn, viewPrefix := "BIGSERIAL PRIMARY KEY", "CREATE OR REPLACE VIEW"
	if dialect == "sqlite" {
		idColumn, viewPrefix = "INTEGER PRIMARY KEY AUTOINCREMENT", "CREATE VIEW IF NOT EXISTS"
	}

	result := SchemaResult{Version: SchemaVersion}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range tableDDL {
			if err := tx.Exec(strings.ReplaceAll(stmt, "{{id}}", idColumn)).Error; err != nil {
				return fmt.Errorf("tabelle anlegen: %w", err)
			}
		}
		for _, stmt := range indexDDL {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index anlegen: %w", err)
			}
		}
		for _, name := range ViewNames {
			if err := tx.Exec(fmt.Sprintf("%s %s AS %s", viewPrefix, name, viewDDL[name])).Error; err != nil {
				return fmt.Errorf("view %s anlegen: %w", name, err)
			}
		}

		stamp := models.SchemaMetadata{SchemaVersion: SchemaVersion, AppliedAt: time.Now().UTC()}
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "schema_version"}}, DoNothing: true}).Create(&stamp)
		if res.Error != nil {
			return fmt.Errorf("schema-version stempeln: %w", res.Error)
		}
		result.Stamped = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return result, err
	}

	logger.Info("Schema angewendet",
		zap.String("dialect", dialect),
		zap.String("version", SchemaVersion),
		zap.Bool("newly_stamped", result.Stamped))
	return result, nil
}

// AppliedSchemaVersions liefert alle gestempelten Versionen in Anwendungsreihenfolge.
func AppliedSchemaVersions(ctx context.Context, db *gorm.DB) ([]models.SchemaMetadata, error) {
	var out []models.SchemaMetadata
	err := db.WithContext(ctx).Order("applied_at, id").Find(&out).Error
	return out, err
}
