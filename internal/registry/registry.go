// Package registry is C5's mutating half: the only component permitted to
// change a ModelVersion's Stage. Promotion is a single transaction that
// archives the current Production row and raises the candidate to
// Production; the partial unique index on model_versions(model_name) WHERE
// stage = 'Production' (internal/database schema) is the real enforcement
// of invariant I1, so a concurrent promotion loses the race at the database
// layer and surfaces here as a RegistryConflictError rather than as a
// read-modify-write bug. Grounded on the teacher's BeginTx/Commit/Rollback
// convention in internal/database/postgres.go.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"sentryml/internal/apperrors"
	"sentryml/internal/database"
	"sentryml/internal/models"
)

const pqUniqueViolation = "23505"

// Registry is the Postgres-backed implementation of C5's registry half.
type Registry struct {
	db *database.DB
}

// New wraps a connected database.DB.
func New(db *database.DB) *Registry {
	return &Registry{db: db}
}

// RegisterCandidate inserts a new Staging row for a freshly trained model.
func (r *Registry) RegisterCandidate(ctx context.Context, mv models.ModelVersion) error {
	mv.Stage = models.StageStaging
	const q = `
		INSERT INTO model_versions (
			model_name, version, stage, trained_at, training_run_reference,
			trigger_reason, f1_score, brier_score, num_training_samples,
			feature_drift_ratio_at_training, decision_id, model_blob_ref
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`
	_, err := r.db.ExecContext(ctx, q,
		mv.ModelName, mv.Version, mv.Stage, mv.TrainedAt, mv.TrainingRunReference,
		mv.TriggerReason, mv.F1Score, mv.BrierScore, mv.NumTrainingSamples,
		mv.FeatureDriftRatioAtTraining, mv.DecisionID, mv.ModelBlobRef,
	)
	if err != nil {
		return apperrors.NewTransientStorageError("RegisterCandidate", err)
	}
	return nil
}

// GetProduction returns the current Production ModelVersion for modelName,
// or (nil, nil) if none exists yet (the bootstrap case, S1).
func (r *Registry) GetProduction(ctx context.Context, modelName string) (*models.ModelVersion, error) {
	const q = `
		SELECT model_name, version, stage, trained_at, promoted_at, archived_at,
		       training_run_reference, trigger_reason, f1_score, brier_score,
		       num_training_samples, feature_drift_ratio_at_training, decision_id,
		       model_blob_ref
		FROM model_versions
		WHERE model_name = $1 AND stage = 'Production'
	`
	row := r.db.QueryRowContext(ctx, q, modelName)
	mv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewTransientStorageError("GetProduction", err)
	}
	return mv, nil
}

func scanVersion(row *sql.Row) (*models.ModelVersion, error) {
	var mv models.ModelVersion
	var promotedAt, archivedAt sql.NullTime
	var decisionID sql.NullString
	err := row.Scan(
		&mv.ModelName, &mv.Version, &mv.Stage, &mv.TrainedAt, &promotedAt, &archivedAt,
		&mv.TrainingRunReference, &mv.TriggerReason, &mv.F1Score, &mv.BrierScore,
		&mv.NumTrainingSamples, &mv.FeatureDriftRatioAtTraining, &decisionID, &mv.ModelBlobRef,
	)
	if err != nil {
		return nil, err
	}
	if promotedAt.Valid {
		mv.PromotedAt = &promotedAt.Time
	}
	if archivedAt.Valid {
		mv.ArchivedAt = &archivedAt.Time
	}
	if decisionID.Valid {
		mv.DecisionID = &decisionID.String
	}
	return &mv, nil
}

// Promote archives the current Production row (if any) for modelName and
// raises (modelName, version) from Staging to Production, all within one
// transaction. A concurrent promotion that already committed for this
// model_name surfaces as a RegistryConflictError; the caller records a
// reject decision with failed_gate = concurrent_promotion and does not
// retry automatically.
func (r *Registry) Promote(ctx context.Context, modelName, version, decisionID string, promotedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewTransientStorageError("Promote.begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE model_versions SET stage = 'Archived', archived_at = $1
		 WHERE model_name = $2 AND stage = 'Production'`,
		promotedAt, modelName,
	)
	if err != nil {
		return apperrors.NewTransientStorageError("Promote.archive", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET stage = 'Production', promoted_at = $1, decision_id = $2
		 WHERE model_name = $3 AND version = $4 AND stage = 'Staging'`,
		promotedAt, decisionID, modelName, version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return apperrors.NewRegistryConflictError(modelName, err)
		}
		return apperrors.NewTransientStorageError("Promote.raise", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewTransientStorageError("Promote.rowsAffected", err)
	}
	if rows == 0 {
		return apperrors.NewInvariantViolationError(modelName, fmt.Sprintf("candidate version %s is not in Staging", version))
	}

	if err := tx.Commit(); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return apperrors.NewRegistryConflictError(modelName, err)
		}
		return apperrors.NewTransientStorageError("Promote.commit", err)
	}
	return nil
}

// Rollback archives the current Production row (if any) for modelName and
// re-raises (modelName, version) from Archived back to Production, all
// within one transaction. This is the manual "Archived -> Production"
// transition of C5's promotion state machine: a human-initiated
// re-promotion of a prior version, never triggered automatically. Returns
// an InvariantViolationError if version is not currently Archived, and a
// RegistryConflictError if a concurrent promotion wins the race.
func (r *Registry) Rollback(ctx context.Context, modelName, version, decisionID string, promotedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewTransientStorageError("Rollback.begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE model_versions SET stage = 'Archived', archived_at = $1
		 WHERE model_name = $2 AND stage = 'Production'`,
		promotedAt, modelName,
	)
	if err != nil {
		return apperrors.NewTransientStorageError("Rollback.archive", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET stage = 'Production', promoted_at = $1, archived_at = NULL, decision_id = $2
		 WHERE model_name = $3 AND version = $4 AND stage = 'Archived'`,
		promotedAt, decisionID, modelName, version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return apperrors.NewRegistryConflictError(modelName, err)
		}
		return apperrors.NewTransientStorageError("Rollback.raise", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewTransientStorageError("Rollback.rowsAffected", err)
	}
	if rows == 0 {
		return apperrors.NewInvariantViolationError(modelName, fmt.Sprintf("version %s is not an Archived model_version", version))
	}

	if err := tx.Commit(); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return apperrors.NewRegistryConflictError(modelName, err)
		}
		return apperrors.NewTransientStorageError("Rollback.commit", err)
	}
	return nil
}

// Reject marks a Staging candidate as Archived without ever promoting it.
func (r *Registry) Reject(ctx context.Context, modelName, version string, decisionID string, rejectedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE model_versions SET stage = 'Archived', archived_at = $1, decision_id = $2
		 WHERE model_name = $3 AND version = $4 AND stage = 'Staging'`,
		rejectedAt, decisionID, modelName, version,
	)
	if err != nil {
		return apperrors.NewTransientStorageError("Reject", err)
	}
	return nil
}

// Janitor archives Staging rows older than ttl that were never promoted or
// explicitly rejected, preventing an unbounded buildup of abandoned
// candidates from repeated skip/reject decisions.
type Janitor struct {
	db  *database.DB
	ttl time.Duration
}

// NewJanitor returns a Janitor that sweeps Staging rows older than ttl.
func NewJanitor(db *database.DB, ttl time.Duration) *Janitor {
	return &Janitor{db: db, ttl: ttl}
}

// Sweep archives stale Staging rows and returns how many were archived.
func (j *Janitor) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-j.ttl)
	res, err := j.db.ExecContext(ctx,
		`UPDATE model_versions SET stage = 'Archived', archived_at = $1
		 WHERE stage = 'Staging' AND trained_at < $2`,
		now, cutoff,
	)
	if err != nil {
		return 0, apperrors.NewTransientStorageError("Janitor.Sweep", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewTransientStorageError("Janitor.Sweep.rowsAffected", err)
	}
	return int(rows), nil
}
