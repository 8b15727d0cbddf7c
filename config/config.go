package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Unterstützte Datenbank-Treiber.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
// Sie wird explizit an jede Pipeline-Stufe übergeben, es gibt keinen globalen Zustand.
type Config struct {
	DBDriver   string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"clinical_trials"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/clinical_trials.db"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	RegistryBaseURL    string        `envconfig:"REGISTRY_BASE_URL" default:"https://clinicaltrials.gov/api/v2"`
	RegistryPageSize   int           `envconfig:"REGISTRY_PAGE_SIZE" default:"50"`
	RegistryMaxPages   int           `envconfig:"REGISTRY_MAX_PAGES" default:"1"`
	RegistryTimeout    time.Duration `envconfig:"REGISTRY_TIMEOUT" default:"10s"`
	RegistryAggFilters string        `envconfig:"REGISTRY_AGG_FILTERS" default:"results:with,status:com"`

	// Kommagetrennte Liste der Suchbegriffe für geplante Läufe, z.B. "Oncology,Leukemia"
	Conditions   string `envconfig:"CONDITIONS" default:"Oncology"`
	DataDir      string `envconfig:"DATA_DIR" default:"data"`
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`

	ValidateEliminateNulls      bool `envconfig:"VALIDATE_ELIMINATE_NULLS" default:"true"`
	ValidateEliminateDuplicates bool `envconfig:"VALIDATE_ELIMINATE_DUPLICATES" default:"true"`

	// Optionaler S3-Spiegel für Roh-Snapshots und Backups
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" default:"eu-central-1"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`

	KeepBackups int `envconfig:"KEEP_BACKUPS" default:"4"`
}

// sqliteURI baut eine file:-URI; "?", "#" und "%" im Pfad werden escaped, damit sie nicht als Parameter gelesen werden.
func (c *Config) sqliteURI(params string) string {
	return "file:" + (&url.URL{Path: c.SQLitePath}).EscapedPath() + "?" + params
}

// DSN gibt den Data Source Name für die schreibende Verbindung zurück.
func (c *Config) DSN() string {
	if c.DBDriver == DriverSQLite {
		return c.sqliteURI("_foreign_keys=on&_busy_timeout=5000")
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// ReadOnlyDSN gibt einen DSN für lesende Clients zurück, die nicht mit einem laufenden Load konkurrieren dürfen.
func (c *Config) ReadOnlyDSN() string {
	if c.DBDriver == DriverSQLite {
		return c.sqliteURI("mode=ro&_foreign_keys=on&_busy_timeout=5000")
	}
	return c.DSN() + " options='-c default_transaction_read_only=on'"
}

// ConditionList gibt die konfigurierten Suchbegriffe ohne Leereinträge zurück.
func (c *Config) ConditionList() []string {
	var out []string
	for _, cond := range strings.Split(c.Conditions, ",") {
		if cond = strings.TrimSpace(cond); cond != "" {
			out = append(out, cond)
		}
	}
	return out
}

// ArchiveEnabled meldet, ob ein S3-Spiegel konfiguriert ist.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3URL != "" && c.ArchiveS3Bucket != ""
}

// Validate prüft Werte, die envconfig nicht selbst abdecken kann.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if c.DBUser == "" {
			return fmt.Errorf("DB_USER ist für den Treiber %q erforderlich", c.DBDriver)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH darf nicht leer sein")
		}
	default:
		return fmt.Errorf("unbekannter DB_DRIVER %q", c.DBDriver)
	}
	if _, err := url.ParseRequestURI(c.RegistryBaseURL); err != nil {
		return fmt.Errorf("REGISTRY_BASE_URL ungültig: %w", err)
	}
	if c.RegistryPageSize <= 0 || c.RegistryMaxPages <= 0 {
		return fmt.Errorf("REGISTRY_PAGE_SIZE und REGISTRY_MAX_PAGES müssen positiv sein")
	}
	if c.RegistryTimeout <= 0 {
		return fmt.Errorf("REGISTRY_TIMEOUT muss positiv sein")
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return &c, err
	}
	return &c, c.Validate()
}
