package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trial-etl/models"
)

func sampleTables() models.Tables {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return models.Tables{
		Studies:    []models.Study{{NCTID: "NCT0001", Title: "A, \"quoted\" title", LastUpdated: &ts}},
		Conditions: []models.Condition{{NCTID: "NCT0001", Condition: "Leukemia"}},
		Phases:     []models.Phase{{NCTID: "NCT0001", Phase: "PHASE2"}},
		AdverseEvents: []models.AdverseEvent{{
			NCTID: "NCT0001", GroupID: "EG000", Term: "Nausea", OrganSystem: "Gastrointestinal disorders",
			Vocabulary: "MedDRA", AssessmentType: "SYSTEMATIC_ASSESSMENT", Serious: models.Serious,
			NumAffected: models.IntPtr(5), NumAtRisk: models.IntPtr(50), LastUpdated: &ts,
		}},
		AdverseEventGroups: []models.AdverseEventGroup{{
			NCTID: "NCT0001", GroupID: "EG000", GroupTitle: "Arm A", GroupDescription: "line one\nline two",
			NumDeathAffected: models.IntPtr(0), NumSeriousAtRisk: models.IntPtr(50),
		}},
		DataSources: []models.DataSource{{NCTID: "NCT0001", APIVersion: "v2", RetrievalDate: ts, HasAdverseEvents: 1}},
	}
}

func TestTableStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewTableStore(root)
	in := sampleTables()

	require.NoError(t, store.WriteProcessed(in))
	for _, name := range []string{"studies.csv", "conditions.csv", "phases.csv", "ae.csv", "ae_groups.csv", "data_sources.csv"} {
		assert.FileExists(t, filepath.Join(root, ProcessedDir, name))
	}

	out, err := store.ReadProcessed()
	require.NoError(t, err)
	require.Len(t, out.Studies, 1)
	assert.Equal(t, in.Studies[0].Title, out.Studies[0].Title)
	assert.True(t, in.Studies[0].LastUpdated.Equal(*out.Studies[0].LastUpdated))
	assert.Equal(t, in.Conditions, out.Conditions)
	assert.Equal(t, in.Phases, out.Phases)

	ae := out.AdverseEvents[0]
	assert.Equal(t, 5, *ae.NumAffected)
	assert.Nil(t, ae.NumEvents)
	assert.Equal(t, 50, *ae.NumAtRisk)
	assert.Equal(t, models.Serious, ae.Serious)

	g := out.AdverseEventGroups[0]
	assert.Equal(t, "line one\nline two", g.GroupDescription)
	assert.Equal(t, 0, *g.NumDeathAffected)
	assert.Nil(t, g.NumDeathAtRisk)
	assert.Equal(t, 50, *g.NumSeriousAtRisk)

	require.Len(t, out.DataSources, 1)
	src := out.DataSources[0]
	assert.Equal(t, "v2", src.APIVersion)
	assert.Equal(t, 1, src.HasAdverseEvents)
	assert.True(t, in.DataSources[0].RetrievalDate.Equal(src.RetrievalDate))
}

func TestValidatedFilesArePrefixed(t *testing.T) {
	root := t.TempDir()
	store := NewTableStore(root)
	require.NoError(t, store.WriteValidated(sampleTables()))
	assert.FileExists(t, filepath.Join(root, ValidatedDir, "validated_ae.csv"))

	_, err := store.ReadProcessed()
	assert.ErrorIs(t, err, ErrSnapshotMissing)

	out, err := store.ReadValidated()
	require.NoError(t, err)
	assert.Len(t, out.AdverseEvents, 1)
}

func TestEmptyTablesRoundTrip(t *testing.T) {
	store := NewTableStore(t.TempDir())
	require.NoError(t, store.WriteProcessed(models.Tables{}))
	out, err := store.ReadProcessed()
	require.NoError(t, err)
	assert.Empty(t, out.Studies)
	assert.Empty(t, out.AdverseEvents)
}

func TestReadRejectsMalformedCounts(t *testing.T) {
	root := t.TempDir()
	store := NewTableStore(root)
	require.NoError(t, store.WriteProcessed(sampleTables()))

	bad := "nct_id,group_id,ae_term,organ_system,vocabulary,assessment_type,serious,num_affected,num_events,num_at_risk,last_updated\n" +
		"NCT0001,EG000,Nausea,,,,1,five,,50,\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ProcessedDir, "ae.csv"), []byte(bad), 0o600))

	_, err := store.ReadProcessed()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_affected")
}
