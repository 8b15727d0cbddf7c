package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trial-etl/models"
)

// newTestDB öffnet eine frische In-Memory-SQLite-Datenbank mit aktivierten Fremdschlüsseln und angewendetem Schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	_, err = ApplySchema(context.Background(), db, zap.NewNop())
	require.NoError(t, err)
	return db
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func validGroup(nctID, groupID string) models.AdverseEventGroup {
	return models.AdverseEventGroup{
		NCTID: nctID, GroupID: groupID, GroupTitle: "Arm " + groupID,
		NumDeathAffected: models.IntPtr(0), NumDeathAtRisk: models.IntPtr(50),
		NumSeriousAffected: models.IntPtr(3), NumSeriousAtRisk: models.IntPtr(50),
		NumOtherAffected: models.IntPtr(10), NumOtherAtRisk: models.IntPtr(50),
	}
}

func event(nctID, groupID, term string, serious int, affected, atRisk int) models.AdverseEvent {
	return models.AdverseEvent{
		NCTID: nctID, GroupID: groupID, Term: term, Serious: serious,
		NumAffected: models.IntPtr(affected), NumEvents: models.IntPtr(affected), NumAtRisk: models.IntPtr(atRisk),
	}
}
