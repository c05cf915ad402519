// Package decisionlog persists E5 RetrainingDecision rows, one per
// orchestration invocation regardless of outcome. Grounded on the same
// repository-with-JSON-marshal-and-sentinel-error convention the teacher
// uses in internal/database/risk_assessment_repository.go.
package decisionlog

import (
	"context"
	"database/sql"
	"errors"

	"sentryml/internal/apperrors"
	"sentryml/internal/database"
	"sentryml/internal/models"
)

// ErrDecisionNotFound is the package's not-found sentinel for E5 rows. No
// method in this package returns it: LatestPromotion reports "no matching
// row" as (nil, nil).
var ErrDecisionNotFound = errors.New("retraining decision not found")

// Log is the Postgres-backed implementation of the E5 repository.
type Log struct {
	db *database.DB
}

// New wraps a connected database.DB.
func New(db *database.DB) *Log {
	return &Log{db: db}
}

// Append inserts a new decision row. Decision rows are never updated after
// insertion; every retry or correction creates a new DecisionID.
func (l *Log) Append(ctx context.Context, d models.RetrainingDecision) error {
	const q = `
		INSERT INTO retraining_decisions (
			decision_id, decided_at, model_name, trigger_reason, action,
			failed_gate, reason, feature_drift_ratio, num_drifted_features,
			labeled_samples, coverage_pct, shadow_model_version,
			production_model_version, f1_improvement_pct, brier_change,
			evaluation_artifact_ref
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`
	_, err := l.db.ExecContext(ctx, q,
		d.DecisionID, d.DecidedAt, d.ModelName, d.TriggerReason, d.Action,
		nullableGateLabel(d.FailedGate), d.Reason, nullableFloat(d.FeatureDriftRatio),
		nullableInt(d.NumDriftedFeatures), d.LabeledSamples, d.CoveragePct,
		nullableString(d.ShadowModelVersion), nullableString(d.ProductionModelVersion),
		nullableFloat(d.F1ImprovementPct), nullableFloat(d.BrierChange),
		nullableStringValue(d.EvaluationArtifactRef),
	)
	if err != nil {
		return apperrors.NewTransientStorageError("decisionlog.Append", err)
	}
	return nil
}

func nullableGateLabel(g *models.GateLabel) interface{} {
	if g == nil {
		return nil
	}
	return string(*g)
}
func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
func nullableInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}
func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
func nullableStringValue(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// LatestPromotion returns the most recent decision with Action == Promote
// for modelName, used by the promotion-cooldown gate (G3).
func (l *Log) LatestPromotion(ctx context.Context, modelName string) (*models.RetrainingDecision, error) {
	const q = `
		SELECT decision_id, decided_at, model_name, trigger_reason, action,
		       failed_gate, reason, feature_drift_ratio, num_drifted_features,
		       labeled_samples, coverage_pct, shadow_model_version,
		       production_model_version, f1_improvement_pct, brier_change,
		       evaluation_artifact_ref
		FROM retraining_decisions
		WHERE model_name = $1 AND action = 'promote'
		ORDER BY decided_at DESC
		LIMIT 1
	`
	row := l.db.QueryRowContext(ctx, q, modelName)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewTransientStorageError("decisionlog.LatestPromotion", err)
	}
	return d, nil
}

func scanDecision(row *sql.Row) (*models.RetrainingDecision, error) {
	var d models.RetrainingDecision
	var failedGate, shadowVersion, prodVersion, evalRef sql.NullString
	var driftRatio, f1Improvement, brierChange sql.NullFloat64
	var numDrifted sql.NullInt64

	err := row.Scan(
		&d.DecisionID, &d.DecidedAt, &d.ModelName, &d.TriggerReason, &d.Action,
		&failedGate, &d.Reason, &driftRatio, &numDrifted,
		&d.LabeledSamples, &d.CoveragePct, &shadowVersion, &prodVersion,
		&f1Improvement, &brierChange, &evalRef,
	)
	if err != nil {
		return nil, err
	}
	if failedGate.Valid {
		g := models.GateLabel(failedGate.String)
		d.FailedGate = &g
	}
	if driftRatio.Valid {
		d.FeatureDriftRatio = &driftRatio.Float64
	}
	if numDrifted.Valid {
		n := int(numDrifted.Int64)
		d.NumDriftedFeatures = &n
	}
	if shadowVersion.Valid {
		d.ShadowModelVersion = &shadowVersion.String
	}
	if prodVersion.Valid {
		d.ProductionModelVersion = &prodVersion.String
	}
	if f1Improvement.Valid {
		d.F1ImprovementPct = &f1Improvement.Float64
	}
	if brierChange.Valid {
		d.BrierChange = &brierChange.Float64
	}
	if evalRef.Valid {
		d.EvaluationArtifactRef = evalRef.String
	}
	return &d, nil
}
