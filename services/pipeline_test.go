package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trial-etl/config"
	"trial-etl/models"
	"trial-etl/providers"
	"trial-etl/storage"
)

// fakeRegistry liefert feste Dokumente statt die Registry abzufragen.
type fakeRegistry struct {
	studies   []json.RawMessage
	searchErr error
	aes       map[string]json.RawMessage
	aeCalls   []string
}

func (f *fakeRegistry) Name() string { return "fake" }

func (f *fakeRegistry) APIVersion() string { return "v2" }

func (f *fakeRegistry) SearchStudies(context.Context, string) ([]json.RawMessage, error) {
	return f.studies, f.searchErr
}

func (f *fakeRegistry) FetchAdverseEvents(_ context.Context, nctID string) (json.RawMessage, error) {
	f.aeCalls = append(f.aeCalls, nctID)
	doc, ok := f.aes[nctID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", nctID, providers.ErrNoData)
	}
	return doc, nil
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		studies: []json.RawMessage{
			raw(`{"protocolSection":{"identificationModule":{"nctId":"NCT0001","briefTitle":"A"},
				"conditionsModule":{"conditions":["Leukemia"]},"designModule":{"phases":["PHASE2"]}}}`),
			raw(`{"protocolSection":{"identificationModule":{"nctId":"NCT0002","briefTitle":"B"},
				"conditionsModule":{"conditions":["Lymphoma"]}}}`),
		},
		aes: map[string]json.RawMessage{
			"NCT0001": raw(`{"eventGroups":[{"id":"EG000","title":"Arm A","seriousNumAffected":3,"seriousNumAtRisk":50}],
				"seriousEvents":[
					{"term":"Nausea","stats":[{"groupId":"EG000","numEvents":6,"numAffected":5,"numAtRisk":50}]},
					{"term":"Sepsis","stats":[{"groupId":"EG000","numAffected":10,"numAtRisk":5}]}]}`),
		},
	}
}

func newTestPipeline(t *testing.T, registry providers.Registry) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{DataDir: dir, ValidateEliminateNulls: true, ValidateEliminateDuplicates: true}
	logger := zap.NewNop()

	fetch := NewFetchService(registry, storage.NewSnapshotStore(dir, nil, logger), logger)
	fetch.Now = func() time.Time { return time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC) }
	p := NewPipeline(cfg, fetch, NewLoader(newTestDB(t), logger), storage.NewTableStore(dir), logger)
	return p, dir
}

func TestPipelineRunsAllStages(t *testing.T) {
	registry := newFakeRegistry()
	p, _ := newTestPipeline(t, registry)

	res, err := p.Run(context.Background(), RunOptions{Condition: "Oncology"})
	require.NoError(t, err)
	assert.Equal(t, StageLoaded, res.Stage)
	assert.NotEqual(t, "", res.RunID.String())
	assert.Empty(t, res.Error)
	require.NotNil(t, res.FinishedAt)

	require.NotNil(t, res.Fetch)
	assert.Equal(t, "2024-05-01", res.Fetch.RetrievalDate)
	assert.Equal(t, 2, res.Fetch.Studies)
	assert.Equal(t, 1, res.Fetch.AdverseDocuments)
	assert.Equal(t, []string{"NCT0002"}, res.Fetch.MissingAdverseDocs)
	assert.Equal(t, []string{"NCT0001", "NCT0002"}, registry.aeCalls)

	require.Len(t, res.Validation, 6)
	require.NotNil(t, res.Load)
	aes := res.Load.Table("aes")
	assert.Equal(t, 1, aes.Inserted, "Sepsis row violates num_affected <= num_at_risk")
	assert.Equal(t, 2, res.Load.Table("studies").Inserted)
	assert.Equal(t, 2, res.Load.Table("data_sources").Inserted)

	var sources []models.DataSource
	require.NoError(t, p.Loader.DB.Order("nct_id").Find(&sources).Error)
	require.Len(t, sources, 2)
	assert.Equal(t, 1, sources[0].HasAdverseEvents)
	assert.Equal(t, 0, sources[1].HasAdverseEvents)
	assert.Equal(t, "v2", sources[0].APIVersion)
	assert.Equal(t, "2024-05-01", sources[0].RetrievalDate.UTC().Format("2006-01-02"))

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, res.RunID, latest.RunID)
	assert.False(t, latest.Running)
}

func TestPipelineResumesFromLaterStage(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeRegistry())
	ctx := context.Background()

	_, err := p.Run(ctx, RunOptions{Condition: "Oncology"})
	require.NoError(t, err)

	res, err := p.Run(ctx, RunOptions{From: StageValidated})
	require.NoError(t, err)
	assert.Nil(t, res.Fetch)
	assert.Nil(t, res.Flatten)
	assert.Len(t, res.Validation, 6)
	assert.Zero(t, res.Load.Inserted(), "reloading the same artifacts inserts nothing")

	res, err = p.Run(ctx, RunOptions{From: StageLoaded})
	require.NoError(t, err)
	assert.Nil(t, res.Validation)
	assert.Equal(t, StageLoaded, res.Stage)
}

func TestPipelineFailsWhenArtifactsAreMissing(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeRegistry())

	res, err := p.Run(context.Background(), RunOptions{From: StageFlattened})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrSnapshotMissing)
	assert.Contains(t, err.Error(), "flatten")
	assert.Equal(t, Stage(""), res.Stage)
	assert.NotEmpty(t, res.Error)
}

func TestPipelineContinuesWithEmptyStudyList(t *testing.T) {
	registry := &fakeRegistry{searchErr: fmt.Errorf("timeout: %w", providers.ErrNoData)}
	p, dir := newTestPipeline(t, registry)

	res, err := p.Run(context.Background(), RunOptions{Condition: "Oncology"})
	require.NoError(t, err)
	assert.True(t, res.Fetch.StudySearchFailed)
	assert.Zero(t, res.Load.Inserted())

	studies, err := storage.NewSnapshotStore(dir, nil, zap.NewNop()).LoadStudies("2024-05-01", "Oncology")
	require.NoError(t, err)
	assert.Empty(t, studies)
}

func TestPipelineSingleRun(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeRegistry())
	p.running = true

	_, err := p.Run(context.Background(), RunOptions{Condition: "Oncology"})
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = p.Start(context.Background(), RunOptions{Condition: "Oncology"})
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestPipelineRejectsFetchWithoutCondition(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeRegistry())
	_, err := p.Run(context.Background(), RunOptions{})
	assert.Error(t, err)
	_, ok := p.Latest()
	assert.False(t, ok)
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage("")
	require.NoError(t, err)
	assert.Equal(t, StageFetched, s)

	s, err = ParseStage(" validated ")
	require.NoError(t, err)
	assert.Equal(t, StageValidated, s)

	_, err = ParseStage("EXTRACTED")
	assert.Error(t, err)
}

func TestFlattenedArtifactsMatchLoadedStore(t *testing.T) {
	p, dir := newTestPipeline(t, newFakeRegistry())
	_, err := p.Run(context.Background(), RunOptions{Condition: "Oncology"})
	require.NoError(t, err)

	validated, err := storage.NewTableStore(dir).ReadValidated()
	require.NoError(t, err)
	assert.EqualValues(t, len(validated.AdverseEvents), countRows(t, p.Loader.DB, &models.AdverseEvent{}))
	assert.EqualValues(t, len(validated.AdverseEventGroups), countRows(t, p.Loader.DB, &models.AdverseEventGroup{}))
}

func TestSameDayRunsKeepTheirOwnStudyLists(t *testing.T) {
	oncology := newFakeRegistry()
	p, dir := newTestPipeline(t, oncology)
	ctx := context.Background()

	res, err := p.Run(ctx, RunOptions{Condition: "Oncology"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetch.Studies)

	p.Fetcher.Registry = &fakeRegistry{studies: oncology.studies[:1], aes: oncology.aes}
	res, err = p.Run(ctx, RunOptions{Condition: "Leukemia"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetch.Studies)

	snapshots := storage.NewSnapshotStore(dir, nil, zap.NewNop())
	studies, err := snapshots.LoadStudies("2024-05-01", "Oncology")
	require.NoError(t, err)
	assert.Len(t, studies, 2)
	studies, err = snapshots.LoadStudies("2024-05-01", "Leukemia")
	require.NoError(t, err)
	assert.Len(t, studies, 1)

	res, err = p.Run(ctx, RunOptions{From: StageFlattened, Condition: "Oncology"})
	require.NoError(t, err)
	assert.Equal(t, "Oncology", res.Condition)
	require.NotNil(t, res.Flatten)
	flattened, err := storage.NewTableStore(dir).ReadProcessed()
	require.NoError(t, err)
	assert.Len(t, flattened.Studies, 2)

	res, err = p.Run(ctx, RunOptions{From: StageFlattened})
	require.NoError(t, err)
	assert.Equal(t, "Leukemia", res.Condition)
	flattened, err = storage.NewTableStore(dir).ReadProcessed()
	require.NoError(t, err)
	assert.Len(t, flattened.Studies, 1)
}

func TestFlattenFailsForConditionNeverFetched(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeRegistry())
	ctx := context.Background()
	_, err := p.Run(ctx, RunOptions{Condition: "Oncology"})
	require.NoError(t, err)

	_, err = p.Run(ctx, RunOptions{From: StageFlattened, Condition: "Melanoma"})
	assert.ErrorIs(t, err, storage.ErrSnapshotMissing)
}
