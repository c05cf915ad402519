package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryml/internal/apperrors"
	"sentryml/internal/database"
	"sentryml/internal/models"
)

func newMockRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return New(&database.DB{DB: sqlDB}), mock
}

func TestRegisterCandidate_InsertsStagingRow(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectExec("INSERT INTO model_versions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := reg.RegisterCandidate(context.Background(), models.ModelVersion{
		ModelName: "credit-risk", Version: "v1", TrainedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterCandidate_TransientErrorIsWrapped(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectExec("INSERT INTO model_versions").
		WillReturnError(errors.New("connection reset"))

	err := reg.RegisterCandidate(context.Background(), models.ModelVersion{ModelName: "credit-risk", Version: "v1"})
	require.Error(t, err)
	var transient *apperrors.TransientStorageError
	assert.ErrorAs(t, err, &transient)
}

func TestGetProduction_NoRowsReturnsNilNil(t *testing.T) {
	reg, mock := newMockRegistry(t)
	cols := []string{
		"model_name", "version", "stage", "trained_at", "promoted_at", "archived_at",
		"training_run_reference", "trigger_reason", "f1_score", "brier_score",
		"num_training_samples", "feature_drift_ratio_at_training", "decision_id", "model_blob_ref",
	}
	mock.ExpectQuery("SELECT model_name, version, stage").
		WillReturnRows(sqlmock.NewRows(cols))

	mv, err := reg.GetProduction(context.Background(), "credit-risk")
	require.NoError(t, err)
	assert.Nil(t, mv)
}

func TestGetProduction_ReturnsScannedRow(t *testing.T) {
	reg, mock := newMockRegistry(t)
	cols := []string{
		"model_name", "version", "stage", "trained_at", "promoted_at", "archived_at",
		"training_run_reference", "trigger_reason", "f1_score", "brier_score",
		"num_training_samples", "feature_drift_ratio_at_training", "decision_id", "model_blob_ref",
	}
	now := time.Now()
	rows := sqlmock.NewRows(cols).AddRow(
		"credit-risk", "v1", "Production", now, now, nil,
		"run-1", "scheduled", 0.8, 0.1, 500, 0.05, nil, "blob-1",
	)
	mock.ExpectQuery("SELECT model_name, version, stage").WillReturnRows(rows)

	mv, err := reg.GetProduction(context.Background(), "credit-risk")
	require.NoError(t, err)
	require.NotNil(t, mv)
	assert.Equal(t, "v1", mv.Version)
	assert.Equal(t, models.StageProduction, mv.Stage)
	assert.NotNil(t, mv.PromotedAt)
	assert.Nil(t, mv.ArchivedAt)
	assert.Nil(t, mv.DecisionID)
}

func TestPromote_CommitsArchiveAndRaiseInOneTransaction(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE model_versions SET stage = 'Archived'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE model_versions SET stage = 'Production'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := reg.Promote(context.Background(), "credit-risk", "v2", "decision-1", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromote_UniqueViolationOnRaiseIsRegistryConflict(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE model_versions SET stage = 'Archived'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE model_versions SET stage = 'Production'").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := reg.Promote(context.Background(), "credit-risk", "v2", "decision-1", time.Now())
	require.Error(t, err)
	var conflict *apperrors.RegistryConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestPromote_ZeroRowsAffectedIsInvariantViolation(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE model_versions SET stage = 'Archived'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE model_versions SET stage = 'Production'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := reg.Promote(context.Background(), "credit-risk", "v2", "decision-1", time.Now())
	require.Error(t, err)
	var invariant *apperrors.InvariantViolationError
	assert.ErrorAs(t, err, &invariant)
}

func TestRollback_CommitsArchiveAndRaiseInOneTransaction(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE model_versions SET stage = 'Archived'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE model_versions SET stage = 'Production'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := reg.Rollback(context.Background(), "credit-risk", "v1", "decision-rollback-1", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollback_UnknownVersionIsInvariantViolation(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE model_versions SET stage = 'Archived'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE model_versions SET stage = 'Production'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := reg.Rollback(context.Background(), "credit-risk", "does-not-exist", "decision-rollback-1", time.Now())
	require.Error(t, err)
	var invariant *apperrors.InvariantViolationError
	assert.ErrorAs(t, err, &invariant)
}

func TestRollback_UniqueViolationOnRaiseIsRegistryConflict(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE model_versions SET stage = 'Archived'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE model_versions SET stage = 'Production'").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := reg.Rollback(context.Background(), "credit-risk", "v1", "decision-rollback-1", time.Now())
	require.Error(t, err)
	var conflict *apperrors.RegistryConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestReject_ArchivesStagingCandidate(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectExec("UPDATE model_versions SET stage = 'Archived', archived_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := reg.Reject(context.Background(), "credit-risk", "v2", "decision-1", time.Now())
	require.NoError(t, err)
}

func TestJanitor_SweepReturnsArchivedCount(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	j := NewJanitor(&database.DB{DB: sqlDB}, 7*24*time.Hour)
	mock.ExpectExec("UPDATE model_versions SET stage = 'Archived'").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := j.Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
