package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryml/internal/apperrors"
	"sentryml/internal/database"
	"sentryml/internal/models"
)

func newMockLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return New(&database.DB{DB: sqlDB}), mock
}

func samplePrediction() models.PredictionRecord {
	return models.PredictionRecord{
		PredictionID:         "pred-1",
		CreatedAt:            time.Now(),
		ModelName:            "credit-risk",
		ModelVersion:         "v1",
		Features:             map[string]float64{"age": 30},
		PredictedClass:       1,
		PredictedProbability: 0.8,
		RequestSource:        "api",
	}
}

func TestAppendPrediction_InsertsOnConflictDoNothing(t *testing.T) {
	led, mock := newMockLedger(t)
	mock.ExpectExec("INSERT INTO predictions").WillReturnResult(sqlmock.NewResult(1, 1))

	err := led.AppendPrediction(context.Background(), samplePrediction())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendPrediction_TransientErrorIsWrapped(t *testing.T) {
	led, mock := newMockLedger(t)
	mock.ExpectExec("INSERT INTO predictions").WillReturnError(errors.New("timeout"))

	err := led.AppendPrediction(context.Background(), samplePrediction())
	require.Error(t, err)
	var transient *apperrors.TransientStorageError
	assert.ErrorAs(t, err, &transient)
}

func TestAppendLabel_UnknownPredictionReturnsSentinelError(t *testing.T) {
	led, mock := newMockLedger(t)
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := led.AppendLabel(context.Background(), models.LabelRecord{PredictionID: "missing"})
	assert.ErrorIs(t, err, ErrUnknownPrediction)
}

func TestAppendLabel_AlreadyLabeledReturnsSentinelError(t *testing.T) {
	led, mock := newMockLedger(t)
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO labels").WillReturnResult(sqlmock.NewResult(0, 0))

	err := led.AppendLabel(context.Background(), models.LabelRecord{PredictionID: "pred-1", TrueClass: 1})
	assert.ErrorIs(t, err, ErrAlreadyLabeled)
}

func TestAppendLabel_InsertsWhenPredictionExistsAndUnlabeled(t *testing.T) {
	led, mock := newMockLedger(t)
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO labels").WillReturnResult(sqlmock.NewResult(0, 1))

	err := led.AppendLabel(context.Background(), models.LabelRecord{PredictionID: "pred-1", TrueClass: 1})
	require.NoError(t, err)
}

func TestLoadPredictionsSince_StreamsRowsInOrder(t *testing.T) {
	led, mock := newMockLedger(t)
	cols := []string{
		"prediction_id", "created_at", "model_name", "model_version", "features",
		"feature_labels", "predicted_class", "predicted_probability",
		"request_source", "response_time_ms",
	}
	now := time.Now()
	rows := sqlmock.NewRows(cols).
		AddRow("pred-1", now, "credit-risk", "v1", `{"age":30}`, nil, 1, 0.8, "api", nil).
		AddRow("pred-2", now, "credit-risk", "v1", `{"age":40}`, nil, 0, 0.2, "api", nil)
	mock.ExpectQuery("SELECT prediction_id, created_at").WillReturnRows(rows)

	cursor, err := led.LoadPredictionsSince(context.Background(), "credit-risk", now.Add(-time.Hour), now)
	require.NoError(t, err)
	defer cursor.Close()

	var got []models.PredictionRecord
	for cursor.Next() {
		got = append(got, cursor.Value())
	}
	require.NoError(t, cursor.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "pred-1", got[0].PredictionID)
	assert.Equal(t, 30.0, got[0].Features["age"])
	assert.Equal(t, "pred-2", got[1].PredictionID)
}

func TestJoinLabeled_StreamsPairedRows(t *testing.T) {
	led, mock := newMockLedger(t)
	cols := []string{
		"prediction_id", "created_at", "model_name", "model_version", "features",
		"feature_labels", "predicted_class", "predicted_probability",
		"request_source", "response_time_ms",
		"true_class", "label_observed_at", "label_source", "days_delayed",
	}
	now := time.Now()
	rows := sqlmock.NewRows(cols).
		AddRow("pred-1", now, "credit-risk", "v1", `{"age":30}`, nil, 1, 0.8, "api", nil, 1, now, "ops", 2.5)
	mock.ExpectQuery("SELECT p.prediction_id, p.created_at").WillReturnRows(rows)

	cursor, err := led.JoinLabeled(context.Background(), "credit-risk", now.Add(-time.Hour), now)
	require.NoError(t, err)
	defer cursor.Close()

	require.True(t, cursor.Next())
	lp := cursor.Value()
	assert.Equal(t, "pred-1", lp.Prediction.PredictionID)
	assert.Equal(t, 1, lp.Label.TrueClass)
	assert.Equal(t, "pred-1", lp.Label.PredictionID)
	require.NoError(t, cursor.Err())
}

func TestCoverageStats_ComputesCoverageFraction(t *testing.T) {
	led, mock := newMockLedger(t)
	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"num_predictions", "num_labeled"}).AddRow(100, 40))

	n, labeled, coverage, err := led.CoverageStats(context.Background(), "credit-risk", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, 40, labeled)
	assert.InDelta(t, 0.4, coverage, 1e-9)
}

func TestCoverageStats_ZeroPredictionsHasZeroCoverage(t *testing.T) {
	led, mock := newMockLedger(t)
	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"num_predictions", "num_labeled"}).AddRow(0, 0))

	_, _, coverage, err := led.CoverageStats(context.Background(), "credit-risk", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0.0, coverage)
}
