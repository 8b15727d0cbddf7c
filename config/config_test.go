package config

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "https://clinicaltrials.gov/api/v2", cfg.RegistryBaseURL)
	assert.Equal(t, 10*time.Second, cfg.RegistryTimeout)
	assert.True(t, cfg.ValidateEliminateNulls)
	assert.True(t, cfg.ValidateEliminateDuplicates)
	assert.Equal(t, []string{"Oncology"}, cfg.ConditionList())
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_USER", "etl")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "db")
	t.Setenv("CONDITIONS", " Oncology, ,Leukemia ")
	t.Setenv("REGISTRY_TIMEOUT", "3s")
	t.Setenv("VALIDATE_ELIMINATE_DUPLICATES", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Oncology", "Leukemia"}, cfg.ConditionList())
	assert.Equal(t, 3*time.Second, cfg.RegistryTimeout)
	assert.False(t, cfg.ValidateEliminateDuplicates)
	assert.Equal(t, "host=db user=etl password=secret dbname=clinical_trials port=5432 sslmode=disable", cfg.DSN())
	assert.Contains(t, cfg.ReadOnlyDSN(), "default_transaction_read_only=on")
}

func TestSQLiteDSN(t *testing.T) {
	cfg := &Config{DBDriver: DriverSQLite, SQLitePath: "data/ct.db"}
	assert.Equal(t, "file:data/ct.db?_foreign_keys=on&_busy_timeout=5000", cfg.DSN())
	assert.Contains(t, cfg.ReadOnlyDSN(), "mode=ro")
}

func TestSQLiteDSNEscapesPath(t *testing.T) {
	cfg := &Config{DBDriver: DriverSQLite, SQLitePath: "/srv/etl data/ct?mode=memory#1%.db"}
	assert.Equal(t, "file:/srv/etl%20data/ct%3Fmode=memory%231%25.db?_foreign_keys=on&_busy_timeout=5000", cfg.DSN())
	assert.Equal(t, "file:/srv/etl%20data/ct%3Fmode=memory%231%25.db?mode=ro&_foreign_keys=on&_busy_timeout=5000", cfg.ReadOnlyDSN())

	u, err := url.Parse(cfg.ReadOnlyDSN())
	require.NoError(t, err)
	assert.Equal(t, "ro", u.Query().Get("mode"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Config{
		DBDriver: DriverSQLite, SQLitePath: "x.db", RegistryBaseURL: "https://example.org",
		RegistryPageSize: 1, RegistryMaxPages: 1, RegistryTimeout: time.Second,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.DBDriver = "mysql"
	assert.Error(t, bad.Validate())

	bad = base
	bad.DBDriver = DriverPostgres
	assert.Error(t, bad.Validate(), "postgres needs DB_USER")

	bad = base
	bad.RegistryMaxPages = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.RegistryBaseURL = "not a url"
	assert.Error(t, bad.Validate())
}
