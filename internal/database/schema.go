package database

import (
	"context"
	"fmt"
)

// schemaDDL creates the five Postgres tables backing E2-E6, including the
// partial-unique index enforcing invariant I1 (at most one Production row
// per model_name) at the storage layer, per spec §6's explicit requirement
// that no core logic may rely on an application-level check for this.
// Grounded on the teacher's migrations.go InitializeMigrationTable raw-DDL
// idiom (CREATE TABLE IF NOT EXISTS, executed via ExecContext).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS predictions (
	prediction_id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	model_name TEXT NOT NULL,
	model_version TEXT NOT NULL,
	features JSONB NOT NULL,
	feature_labels JSONB,
	predicted_class INT NOT NULL,
	predicted_probability DOUBLE PRECISION NOT NULL,
	request_source TEXT NOT NULL,
	response_time_ms BIGINT
);
CREATE INDEX IF NOT EXISTS idx_predictions_model_created ON predictions (model_name, created_at);

CREATE TABLE IF NOT EXISTS labels (
	prediction_id TEXT PRIMARY KEY REFERENCES predictions(prediction_id),
	true_class INT NOT NULL,
	label_observed_at TIMESTAMPTZ NOT NULL,
	label_source TEXT NOT NULL,
	days_delayed DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS monitoring_metrics (
	run_id TEXT PRIMARY KEY,
	run_at TIMESTAMPTZ NOT NULL UNIQUE,
	model_name TEXT NOT NULL,
	lookback_hours INT NOT NULL,
	num_predictions INT NOT NULL,
	positive_rate DOUBLE PRECISION NOT NULL,
	probability_mean DOUBLE PRECISION NOT NULL,
	probability_std DOUBLE PRECISION NOT NULL,
	entropy DOUBLE PRECISION NOT NULL,
	dataset_drift_detected BOOLEAN NOT NULL,
	feature_drift_ratio DOUBLE PRECISION NOT NULL,
	num_drifted_features INT NOT NULL,
	num_evaluated_features INT NOT NULL,
	reason TEXT,
	drift_artifact_ref TEXT
);
CREATE INDEX IF NOT EXISTS idx_monitoring_metrics_model_run ON monitoring_metrics (model_name, run_at DESC);

CREATE TABLE IF NOT EXISTS retraining_decisions (
	decision_id TEXT PRIMARY KEY,
	decided_at TIMESTAMPTZ NOT NULL,
	model_name TEXT NOT NULL,
	trigger_reason TEXT NOT NULL,
	action TEXT NOT NULL,
	failed_gate TEXT,
	reason TEXT NOT NULL,
	feature_drift_ratio DOUBLE PRECISION,
	num_drifted_features INT,
	labeled_samples INT NOT NULL,
	coverage_pct DOUBLE PRECISION NOT NULL,
	shadow_model_version TEXT,
	production_model_version TEXT,
	f1_improvement_pct DOUBLE PRECISION,
	brier_change DOUBLE PRECISION,
	evaluation_artifact_ref TEXT
);
CREATE INDEX IF NOT EXISTS idx_retraining_decisions_model_decided ON retraining_decisions (model_name, decided_at DESC);

CREATE TABLE IF NOT EXISTS model_versions (
	model_name TEXT NOT NULL,
	version TEXT NOT NULL,
	stage TEXT NOT NULL,
	trained_at TIMESTAMPTZ NOT NULL,
	promoted_at TIMESTAMPTZ,
	archived_at TIMESTAMPTZ,
	training_run_reference TEXT NOT NULL,
	trigger_reason TEXT NOT NULL,
	f1_score DOUBLE PRECISION NOT NULL,
	brier_score DOUBLE PRECISION NOT NULL,
	num_training_samples INT NOT NULL,
	feature_drift_ratio_at_training DOUBLE PRECISION NOT NULL,
	decision_id TEXT,
	model_blob_ref TEXT NOT NULL,
	PRIMARY KEY (model_name, version)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_model_versions_one_production
	ON model_versions (model_name) WHERE stage = 'Production';
`

// EnsureSchema creates the core tables and indexes if they do not already
// exist. Idempotent; safe to call on every process start.
func EnsureSchema(ctx context.Context, db *DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
