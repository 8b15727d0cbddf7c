package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"trial-etl/models"
)

func TestValidateAdverseEventsDropsAffectedAboveAtRisk(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	v := NewValidator(zap.New(core))

	rows := []models.AdverseEvent{
		event("NCT0001", "EG000", "Nausea", models.Serious, 10, 5),
		event("NCT0001", "EG001", "Nausea", models.Serious, 2, 40),
	}
	out, report := v.ValidateAdverseEvents(rows, DefaultValidationOptions())

	require.Len(t, out, 1)
	assert.Equal(t, "EG001", out[0].GroupID)
	assert.Equal(t, map[string]int{ViolationAffectedAtRisk: 1}, report.Violations)
	assert.Equal(t, 2, report.RowsIn)
	assert.Equal(t, 1, report.RowsOut)

	entries := logs.FilterMessage("Validierungsregel verletzt").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, ViolationAffectedAtRisk, fields["violation"])
	assert.EqualValues(t, 1, fields["count"])
	assert.Equal(t, "aes", fields["table"])
}

func TestValidateAdverseEventsDomainRules(t *testing.T) {
	fewerEvents := event("NCT0001", "EG000", "Fatigue", models.NonSerious, 4, 10)
	fewerEvents.NumEvents = models.IntPtr(2)
	badFlag := event("NCT0001", "EG000", "Rash", 2, 1, 10)
	missingAtRisk := event("NCT0001", "EG000", "Cough", models.NonSerious, 99, 0)
	missingAtRisk.NumAtRisk = nil
	ok := event("NCT0001", "EG000", "Nausea", models.NonSerious, 1, 10)

	in := []models.AdverseEvent{fewerEvents, badFlag, missingAtRisk, ok}
	out, report := NewValidator(zap.NewNop()).ValidateAdverseEvents(in, DefaultValidationOptions())

	require.Len(t, out, 2)
	assert.Equal(t, "Cough", out[0].Term)
	assert.Equal(t, "Nausea", out[1].Term)
	assert.Equal(t, 1, report.Violations[ViolationEventsAffected])
	assert.Equal(t, 1, report.Violations[ViolationInvalidSerious])

	for _, ae := range out {
		if ae.NumAffected != nil && ae.NumAtRisk != nil {
			assert.LessOrEqual(t, *ae.NumAffected, *ae.NumAtRisk)
		}
		if ae.NumAffected != nil && ae.NumEvents != nil {
			assert.GreaterOrEqual(t, *ae.NumEvents, *ae.NumAffected)
		}
		assert.Contains(t, []int{models.NonSerious, models.Serious}, ae.Serious)
	}
}

func TestCheckKeysPolicies(t *testing.T) {
	rows := []models.Condition{
		{NCTID: "NCT0001", Condition: "Leukemia"},
		{NCTID: "NCT0001", Condition: "Leukemia"},
		{NCTID: "", Condition: "Lymphoma"},
		{NCTID: "NCT0002", Condition: " "},
	}
	v := NewValidator(zap.NewNop())

	out, report := v.ValidateConditions(rows, DefaultValidationOptions())
	assert.Len(t, out, 1)
	assert.Equal(t, 2, report.Violations[ViolationNullKey])
	assert.Equal(t, 1, report.Violations[ViolationDuplicateKey])

	out, report = v.ValidateConditions(rows, ValidationOptions{})
	assert.Len(t, out, 4, "violations are reported but kept when elimination is off")
	assert.Equal(t, 2, report.Violations[ViolationNullKey])
	assert.Equal(t, 1, report.Violations[ViolationDuplicateKey])
}

func TestValidateKeepsFirstDuplicate(t *testing.T) {
	first := models.Study{NCTID: "NCT0001", Title: "first"}
	second := models.Study{NCTID: "NCT0001", Title: "second"}
	out, _ := NewValidator(zap.NewNop()).ValidateStudies([]models.Study{first, second}, DefaultValidationOptions())
	require.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Title)
}

func TestValidateAdverseEventGroupsCorrectsCounts(t *testing.T) {
	g := models.AdverseEventGroup{
		NCTID: "NCT0001", GroupID: "EG000",
		NumDeathAffected: models.IntPtr(-3),
		NumDeathAtRisk:   models.IntPtr(40),
	}
	in := []models.AdverseEventGroup{g}
	out, report := NewValidator(zap.NewNop()).ValidateAdverseEventGroups(in, DefaultValidationOptions())

	require.Len(t, out, 1)
	for _, c := range out[0].Counts() {
		require.NotNil(t, *c)
		assert.GreaterOrEqual(t, **c, 0)
	}
	assert.Equal(t, 3, *out[0].NumDeathAffected)
	assert.Equal(t, 1, report.Violations[ViolationNegativeCount])
	assert.Equal(t, 4, report.Violations[ViolationMissingCountZero])

	// Die Eingabe bleibt unverändert.
	assert.Equal(t, -3, *in[0].NumDeathAffected)
	assert.Nil(t, in[0].NumOtherAtRisk)
}

func TestValidateTablesReportsEveryTable(t *testing.T) {
	tables := models.Tables{
		Studies:            []models.Study{{NCTID: "NCT0001", Title: "A"}},
		AdverseEventGroups: []models.AdverseEventGroup{validGroup("NCT0001", "EG000")},
		AdverseEvents:      []models.AdverseEvent{event("NCT0001", "EG000", "Nausea", models.Serious, 1, 50)},
	}
	out, reports := NewValidator(zap.NewNop()).ValidateTables(tables, DefaultValidationOptions())
	require.Len(t, reports, 6)
	assert.Len(t, out.Studies, 1)
	assert.Len(t, out.AdverseEvents, 1)
	assert.Empty(t, out.Conditions)
	for _, r := range reports {
		assert.Empty(t, r.Violations, r.Table)
	}
}

func TestValidateDataSources(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	in := []models.DataSource{
		{NCTID: "NCT0001", APIVersion: "v2", RetrievalDate: ts, HasAdverseEvents: 1},
		{NCTID: "NCT0001", APIVersion: "v2", RetrievalDate: ts, HasAdverseEvents: 1},
		{NCTID: "NCT0002", APIVersion: "v2", RetrievalDate: ts, HasAdverseEvents: 3},
		{NCTID: " ", APIVersion: "v2", RetrievalDate: ts},
		{NCTID: "NCT0003", APIVersion: "v2"},
	}
	out, report := NewValidator(zap.NewNop()).ValidateDataSources(in, DefaultValidationOptions())

	require.Len(t, out, 1)
	assert.Equal(t, "NCT0001", out[0].NCTID)
	assert.Equal(t, "data_sources", report.Table)
	assert.Equal(t, 1, report.Violations[ViolationInvalidAEFlag])
}
