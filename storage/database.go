package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trial-etl/config"
)

// OpenDatabase öffnet den persistenten Store. Mit readOnly entsteht eine Verbindung, über die
// Leser (z.B. die View-Endpunkte) nicht mit einem laufenden Load konkurrieren können.
func OpenDatabase(cfg *config.Config, readOnly bool) (*gorm.DB, error) {
	dsn := cfg.DSN()
	if readOnly {
		dsn = cfg.ReadOnlyDSN()
	}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	case config.DriverSQLite:
		if !readOnly {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o750); err != nil {
				return nil, fmt.Errorf("verzeichnis für sqlite anlegen: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unbekannter DB_DRIVER %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if cfg.DBDriver == config.DriverSQLite && !readOnly {
		// SQLite erlaubt nur einen Schreiber; Savepoints müssen auf derselben Verbindung laufen.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
