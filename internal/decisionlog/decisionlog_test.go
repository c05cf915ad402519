package decisionlog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryml/internal/database"
	"sentryml/internal/models"
)

func newMockLog(t *testing.T) (*Log, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return New(&database.DB{DB: sqlDB}), mock
}

func TestAppend_InsertsFullRow(t *testing.T) {
	log, mock := newMockLog(t)
	mock.ExpectExec("INSERT INTO retraining_decisions").WillReturnResult(sqlmock.NewResult(1, 1))

	gate := models.GateConcurrentPromotion
	drift := 0.4
	err := log.Append(context.Background(), models.RetrainingDecision{
		DecisionID:     "dec-1",
		DecidedAt:      time.Now(),
		ModelName:      "credit-risk",
		TriggerReason:  models.TriggerScheduled,
		Action:         models.ActionReject,
		FailedGate:     &gate,
		Reason:         "concurrent promotion",
		FeatureDriftRatio: &drift,
		LabeledSamples: 500,
		CoveragePct:    40.0,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_NilPointerFieldsPersistAsNull(t *testing.T) {
	log, mock := newMockLog(t)
	mock.ExpectExec("INSERT INTO retraining_decisions").
		WithArgs(
			"dec-2", sqlmock.AnyArg(), "credit-risk", "scheduled", "skip",
			nil, "too few samples", nil, nil,
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil,
			nil, nil, nil,
			nil,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := log.Append(context.Background(), models.RetrainingDecision{
		DecisionID:    "dec-2",
		DecidedAt:     time.Now(),
		ModelName:     "credit-risk",
		TriggerReason: models.TriggerScheduled,
		Action:        models.ActionSkip,
		Reason:        "too few samples",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestPromotion_NoPromotionReturnsNilNil(t *testing.T) {
	log, mock := newMockLog(t)
	mock.ExpectQuery("SELECT decision_id, decided_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"decision_id", "decided_at", "model_name", "trigger_reason", "action",
			"failed_gate", "reason", "feature_drift_ratio", "num_drifted_features",
			"labeled_samples", "coverage_pct", "shadow_model_version",
			"production_model_version", "f1_improvement_pct", "brier_change",
			"evaluation_artifact_ref",
		}))

	d, err := log.LatestPromotion(context.Background(), "credit-risk")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestLatestPromotion_ReturnsScannedRowWithNullableFields(t *testing.T) {
	log, mock := newMockLog(t)
	now := time.Now()
	cols := []string{
		"decision_id", "decided_at", "model_name", "trigger_reason", "action",
		"failed_gate", "reason", "feature_drift_ratio", "num_drifted_features",
		"labeled_samples", "coverage_pct", "shadow_model_version",
		"production_model_version", "f1_improvement_pct", "brier_change",
		"evaluation_artifact_ref",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"dec-3", now, "credit-risk", "scheduled", "promote",
		nil, "promoted", 0.1, 2,
		500, 45.0, "v2",
		"v1", 3.5, -0.01,
		"artifact-ref-1",
	)
	mock.ExpectQuery("SELECT decision_id, decided_at").WillReturnRows(rows)

	d, err := log.LatestPromotion(context.Background(), "credit-risk")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "dec-3", d.DecisionID)
	assert.Nil(t, d.FailedGate)
	require.NotNil(t, d.FeatureDriftRatio)
	assert.Equal(t, 0.1, *d.FeatureDriftRatio)
	require.NotNil(t, d.NumDriftedFeatures)
	assert.Equal(t, 2, *d.NumDriftedFeatures)
	require.NotNil(t, d.ShadowModelVersion)
	assert.Equal(t, "v2", *d.ShadowModelVersion)
	assert.Equal(t, "artifact-ref-1", d.EvaluationArtifactRef)
}

func TestNullableHelpers_NilPointersReturnNil(t *testing.T) {
	assert.Nil(t, nullableGateLabel(nil))
	assert.Nil(t, nullableFloat(nil))
	assert.Nil(t, nullableInt(nil))
	assert.Nil(t, nullableString(nil))
	assert.Nil(t, nullableStringValue(""))
}

func TestNullableHelpers_SetPointersReturnDereferencedValue(t *testing.T) {
	gate := models.GateLabel("G4")
	f := 0.3
	i := 5
	s := "v1"
	assert.Equal(t, "G4", nullableGateLabel(&gate))
	assert.Equal(t, 0.3, nullableFloat(&f))
	assert.Equal(t, 5, nullableInt(&i))
	assert.Equal(t, "v1", nullableString(&s))
	assert.Equal(t, "ref", nullableStringValue("ref"))
}
