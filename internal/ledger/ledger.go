// Package ledger implements C2, the append-only prediction and label store.
// Reads stream via a pull-based cursor over *sql.Rows rather than buffering
// a window into memory, following the teacher's row-scanning idiom in
// internal/database/risk_assessment_repository.go generalized to a
// streaming iterator. Writes are atomic single-statement inserts, erroring
// on the conditions spec §4.2 names (DuplicateId is treated as a no-op per
// the at-least-once append contract in §6, not an error).
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sentryml/internal/apperrors"
	"sentryml/internal/database"
	"sentryml/internal/models"
)

var (
	// ErrUnknownPrediction is returned by AppendLabel when no prediction
	// with the given id exists.
	ErrUnknownPrediction = errors.New("unknown prediction")
	// ErrAlreadyLabeled is returned by AppendLabel when the prediction
	// already has a label (invariant: no prediction has more than one
	// label).
	ErrAlreadyLabeled = errors.New("prediction already labeled")
)

// Ledger is C2's implementation over Postgres.
type Ledger struct {
	db *database.DB
}

// New wraps a connected database.DB.
func New(db *database.DB) *Ledger {
	return &Ledger{db: db}
}

// AppendPrediction inserts record, treating a duplicate prediction_id as a
// no-op per the at-least-once append contract (§6, R1).
func (l *Ledger) AppendPrediction(ctx context.Context, record models.PredictionRecord) error {
	featuresJSON, err := json.Marshal(record.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	var labelsJSON []byte
	if len(record.FeatureLabels) > 0 {
		labelsJSON, err = json.Marshal(record.FeatureLabels)
		if err != nil {
			return fmt.Errorf("marshal feature labels: %w", err)
		}
	}

	const q = `
		INSERT INTO predictions (
			prediction_id, created_at, model_name, model_version, features,
			feature_labels, predicted_class, predicted_probability,
			request_source, response_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (prediction_id) DO NOTHING
	`
	_, err = l.db.ExecContext(ctx, q,
		record.PredictionID, record.CreatedAt, record.ModelName, record.ModelVersion,
		string(featuresJSON), nullableJSON(labelsJSON), record.PredictedClass,
		record.PredictedProbability, record.RequestSource, record.ResponseTimeMs,
	)
	if err != nil {
		return apperrors.NewTransientStorageError("AppendPrediction", err)
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// AppendLabel inserts a label for an existing prediction, failing if the
// prediction does not exist or already has a label.
func (l *Ledger) AppendLabel(ctx context.Context, record models.LabelRecord) error {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM predictions WHERE prediction_id = $1)`,
		record.PredictionID,
	).Scan(&exists)
	if err != nil {
		return apperrors.NewTransientStorageError("AppendLabel.checkPrediction", err)
	}
	if !exists {
		return ErrUnknownPrediction
	}

	const q = `
		INSERT INTO labels (prediction_id, true_class, label_observed_at, label_source, days_delayed)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (prediction_id) DO NOTHING
	`
	res, err := l.db.ExecContext(ctx, q,
		record.PredictionID, record.TrueClass, record.LabelObservedAt,
		record.LabelSource, record.DaysDelayed,
	)
	if err != nil {
		return apperrors.NewTransientStorageError("AppendLabel.insert", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewTransientStorageError("AppendLabel.rowsAffected", err)
	}
	if rows == 0 {
		return ErrAlreadyLabeled
	}
	return nil
}

// PredictionCursor is a pull-based, restartable iterator over a prediction
// window, ordered by created_at ascending then prediction_id ascending per
// §4.2. Callers must call Close when done, even on early termination.
type PredictionCursor struct {
	rows *sql.Rows
	cur  models.PredictionRecord
	err  error
}

// Next advances the cursor. It returns false at end of stream or on error;
// callers must check Err() after a false return.
func (c *PredictionCursor) Next() bool {
	if !c.rows.Next() {
		return false
	}
	var featuresJSON, labelsJSON sql.NullString
	var rec models.PredictionRecord
	c.err = c.rows.Scan(
		&rec.PredictionID, &rec.CreatedAt, &rec.ModelName, &rec.ModelVersion,
		&featuresJSON, &labelsJSON, &rec.PredictedClass, &rec.PredictedProbability,
		&rec.RequestSource, &rec.ResponseTimeMs,
	)
	if c.err != nil {
		return false
	}
	if featuresJSON.Valid {
		if err := json.Unmarshal([]byte(featuresJSON.String), &rec.Features); err != nil {
			c.err = fmt.Errorf("unmarshal features: %w", err)
			return false
		}
	}
	if labelsJSON.Valid {
		if err := json.Unmarshal([]byte(labelsJSON.String), &rec.FeatureLabels); err != nil {
			c.err = fmt.Errorf("unmarshal feature labels: %w", err)
			return false
		}
	}
	c.cur = rec
	return true
}

// Value returns the record loaded by the most recent successful Next call.
func (c *PredictionCursor) Value() models.PredictionRecord { return c.cur }

// Err returns the first error encountered, if any.
func (c *PredictionCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

// Close releases the underlying *sql.Rows.
func (c *PredictionCursor) Close() error { return c.rows.Close() }

// LoadPredictionsSince streams predictions in [windowStart, windowEnd] for
// modelName, ordered by created_at then prediction_id.
func (l *Ledger) LoadPredictionsSince(ctx context.Context, modelName string, windowStart, windowEnd time.Time) (*PredictionCursor, error) {
	const q = `
		SELECT prediction_id, created_at, model_name, model_version, features,
		       feature_labels, predicted_class, predicted_probability,
		       request_source, response_time_ms
		FROM predictions
		WHERE model_name = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC, prediction_id ASC
	`
	rows, err := l.db.QueryContext(ctx, q, modelName, windowStart, windowEnd)
	if err != nil {
		return nil, apperrors.NewTransientStorageError("LoadPredictionsSince", err)
	}
	return &PredictionCursor{rows: rows}, nil
}

// LabeledCursor streams (PredictionRecord, LabelRecord) pairs.
type LabeledCursor struct {
	rows *sql.Rows
	cur  models.LabeledPrediction
	err  error
}

func (c *LabeledCursor) Next() bool {
	if !c.rows.Next() {
		return false
	}
	var featuresJSON, labelsJSON sql.NullString
	var lp models.LabeledPrediction
	c.err = c.rows.Scan(
		&lp.Prediction.PredictionID, &lp.Prediction.CreatedAt, &lp.Prediction.ModelName,
		&lp.Prediction.ModelVersion, &featuresJSON, &labelsJSON,
		&lp.Prediction.PredictedClass, &lp.Prediction.PredictedProbability,
		&lp.Prediction.RequestSource, &lp.Prediction.ResponseTimeMs,
		&lp.Label.TrueClass, &lp.Label.LabelObservedAt, &lp.Label.LabelSource, &lp.Label.DaysDelayed,
	)
	if c.err != nil {
		return false
	}
	lp.Label.PredictionID = lp.Prediction.PredictionID
	if featuresJSON.Valid {
		if err := json.Unmarshal([]byte(featuresJSON.String), &lp.Prediction.Features); err != nil {
			c.err = fmt.Errorf("unmarshal features: %w", err)
			return false
		}
	}
	if labelsJSON.Valid {
		if err := json.Unmarshal([]byte(labelsJSON.String), &lp.Prediction.FeatureLabels); err != nil {
			c.err = fmt.Errorf("unmarshal feature labels: %w", err)
			return false
		}
	}
	c.cur = lp
	return true
}

func (c *LabeledCursor) Value() models.LabeledPrediction { return c.cur }
func (c *LabeledCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}
func (c *LabeledCursor) Close() error { return c.rows.Close() }

// JoinLabeled streams predictions in the window that have a label, inner
// joined on prediction_id, ordered by created_at then prediction_id.
func (l *Ledger) JoinLabeled(ctx context.Context, modelName string, windowStart, windowEnd time.Time) (*LabeledCursor, error) {
	const q = `
		SELECT p.prediction_id, p.created_at, p.model_name, p.model_version, p.features,
		       p.feature_labels, p.predicted_class, p.predicted_probability,
		       p.request_source, p.response_time_ms,
		       l.true_class, l.label_observed_at, l.label_source, l.days_delayed
		FROM predictions p
		JOIN labels l ON l.prediction_id = p.prediction_id
		WHERE p.model_name = $1 AND p.created_at >= $2 AND p.created_at <= $3
		ORDER BY p.created_at ASC, p.prediction_id ASC
	`
	rows, err := l.db.QueryContext(ctx, q, modelName, windowStart, windowEnd)
	if err != nil {
		return nil, apperrors.NewTransientStorageError("JoinLabeled", err)
	}
	return &LabeledCursor{rows: rows}, nil
}

// CoverageStats computes (num_predictions, num_labeled, coverage_fraction)
// for the window in one pass.
func (l *Ledger) CoverageStats(ctx context.Context, modelName string, windowStart, windowEnd time.Time) (numPredictions, numLabeled int, coverageFraction float64, err error) {
	const q = `
		SELECT
			COUNT(*) AS num_predictions,
			COUNT(l.prediction_id) AS num_labeled
		FROM predictions p
		LEFT JOIN labels l ON l.prediction_id = p.prediction_id
		WHERE p.model_name = $1 AND p.created_at >= $2 AND p.created_at <= $3
	`
	row := l.db.QueryRowContext(ctx, q, modelName, windowStart, windowEnd)
	if scanErr := row.Scan(&numPredictions, &numLabeled); scanErr != nil {
		return 0, 0, 0, apperrors.NewTransientStorageError("CoverageStats", scanErr)
	}
	if numPredictions > 0 {
		coverageFraction = float64(numLabeled) / float64(numPredictions)
	}
	return numPredictions, numLabeled, coverageFraction, nil
}
