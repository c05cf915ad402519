// Package models defines the data-model entities (E1-E6) shared by every
// component: the reference baseline, the prediction/label ledger rows, the
// monitoring metric and retraining decision records, and the model registry
// row. None of these types carry behavior; they are passed between packages
// by value or pointer and persisted verbatim by the repositories under
// internal/database, internal/ledger, internal/decisionlog and
// internal/registry.
package models

import "time"

// SemanticType tags a feature column with the statistical treatment it
// receives during drift evaluation.
type SemanticType string

const (
	SemanticContinuous  SemanticType = "continuous"
	SemanticOrdinal     SemanticType = "ordinal"
	SemanticCategorical SemanticType = "categorical"
)

// FeatureColumn is one entry of a ReferenceBaseline's feature schema.
type FeatureColumn struct {
	Name         string       `json:"name"`
	SemanticType SemanticType `json:"semantic_type"`
}

// ReferenceBaseline is E1: the frozen distributional null hypothesis used by
// the monitoring engine and the authoritative feature schema used by the
// orchestrator. Immutable after Bootstrap.
type ReferenceBaseline struct {
	ReferenceID   string          `json:"reference_id"`
	FeatureSchema []FeatureColumn `json:"feature_schema"`
	RowCount      int             `json:"row_count"`
	ContentDigest string          `json:"content_digest"`
	CreatedAt     time.Time       `json:"created_at"`
	Rows          []FeatureRow    `json:"rows"`
}

// FeatureRow is one reference or windowed observation: at most one value per
// FeatureSchema column, keyed by column name. Values are stored as float64 for continuous and
// ordinal columns and as string for categorical columns; RowKey is the
// canonical sort key used when serializing the baseline for digesting.
type FeatureRow struct {
	RowKey string             `json:"row_key"`
	Values map[string]float64 `json:"values,omitempty"`
	Labels map[string]string  `json:"labels,omitempty"`
}

// PredictionRecord is E2: one served prediction. Append-only, deduplicated
// on PredictionID.
type PredictionRecord struct {
	PredictionID         string             `json:"prediction_id" db:"prediction_id"`
	CreatedAt            time.Time          `json:"created_at" db:"created_at"`
	ModelName            string             `json:"model_name" db:"model_name"`
	ModelVersion         string             `json:"model_version" db:"model_version"`
	Features             map[string]float64 `json:"features" db:"features"`
	FeatureLabels        map[string]string  `json:"feature_labels,omitempty" db:"feature_labels"`
	PredictedClass       int                `json:"predicted_class" db:"predicted_class"`
	PredictedProbability float64            `json:"predicted_probability" db:"predicted_probability"`
	RequestSource        string             `json:"request_source" db:"request_source"`
	ResponseTimeMs       *int64             `json:"response_time_ms,omitempty" db:"response_time_ms"`
}

// LabelRecord is E3: a late-arriving ground-truth label for a prediction.
// Append-only, sparse, at most one per PredictionID.
type LabelRecord struct {
	PredictionID     string    `json:"prediction_id" db:"prediction_id"`
	TrueClass        int       `json:"true_class" db:"true_class"`
	LabelObservedAt  time.Time `json:"label_observed_at" db:"label_observed_at"`
	LabelSource      string    `json:"label_source" db:"label_source"`
	DaysDelayed      float64   `json:"days_delayed" db:"days_delayed"`
}

// LabeledPrediction pairs a PredictionRecord with its LabelRecord, as
// returned by the ledger's JoinLabeled query.
type LabeledPrediction struct {
	Prediction PredictionRecord
	Label      LabelRecord
}

// MonitoringMetric is E4: one row per monitoring tick.
type MonitoringMetric struct {
	RunID                   string    `json:"run_id" db:"run_id"`
	RunAt                   time.Time `json:"run_at" db:"run_at"`
	ModelName               string    `json:"model_name" db:"model_name"`
	LookbackHours           int       `json:"lookback_hours" db:"lookback_hours"`
	NumPredictions          int       `json:"num_predictions" db:"num_predictions"`
	PositiveRate            float64   `json:"positive_rate" db:"positive_rate"`
	ProbabilityMean         float64   `json:"probability_mean" db:"probability_mean"`
	ProbabilityStd          float64   `json:"probability_std" db:"probability_std"`
	Entropy                 float64   `json:"entropy" db:"entropy"`
	DatasetDriftDetected    bool      `json:"dataset_drift_detected" db:"dataset_drift_detected"`
	FeatureDriftRatio       float64   `json:"feature_drift_ratio" db:"feature_drift_ratio"`
	NumDriftedFeatures      int       `json:"num_drifted_features" db:"num_drifted_features"`
	NumEvaluatedFeatures    int       `json:"num_evaluated_features" db:"num_evaluated_features"`
	Reason                  string    `json:"reason,omitempty" db:"reason"`
	DriftArtifactRef        string    `json:"drift_artifact_ref,omitempty" db:"drift_artifact_ref"`
}

// TriggerReason enumerates the three sources that can start a retraining
// orchestration run.
type TriggerReason string

const (
	TriggerScheduled  TriggerReason = "scheduled"
	TriggerManual     TriggerReason = "manual"
	TriggerDriftAlert TriggerReason = "drift_alert"
)

// DecisionAction is the outcome recorded on a RetrainingDecision.
type DecisionAction string

const (
	ActionTrain   DecisionAction = "train"
	ActionSkip    DecisionAction = "skip"
	ActionPromote DecisionAction = "promote"
	ActionReject  DecisionAction = "reject"
)

// GateLabel identifies which of the six gates rejected a candidate, or the
// C4-level concurrent_promotion failure that never reaches the gate function.
type GateLabel string

const (
	GateSampleValidity       GateLabel = "G1"
	GateLabelCoverage        GateLabel = "G2"
	GatePromotionCooldown    GateLabel = "G3"
	GatePerformanceGain      GateLabel = "G4"
	GateCalibrationHold      GateLabel = "G5"
	GateSegmentFairness      GateLabel = "G6"
	GateConcurrentPromotion  GateLabel = "concurrent_promotion"
)

// RetrainingDecision is E5: one row per orchestration invocation, whether or
// not training ran.
type RetrainingDecision struct {
	DecisionID             string         `json:"decision_id" db:"decision_id"`
	DecidedAt              time.Time      `json:"decided_at" db:"decided_at"`
	ModelName              string         `json:"model_name" db:"model_name"`
	TriggerReason          TriggerReason  `json:"trigger_reason" db:"trigger_reason"`
	Action                 DecisionAction `json:"action" db:"action"`
	FailedGate             *GateLabel     `json:"failed_gate,omitempty" db:"failed_gate"`
	Reason                 string         `json:"reason" db:"reason"`
	FeatureDriftRatio      *float64       `json:"feature_drift_ratio,omitempty" db:"feature_drift_ratio"`
	NumDriftedFeatures     *int           `json:"num_drifted_features,omitempty" db:"num_drifted_features"`
	LabeledSamples         int            `json:"labeled_samples" db:"labeled_samples"`
	CoveragePct            float64        `json:"coverage_pct" db:"coverage_pct"`
	ShadowModelVersion     *string        `json:"shadow_model_version,omitempty" db:"shadow_model_version"`
	ProductionModelVersion *string        `json:"production_model_version,omitempty" db:"production_model_version"`
	F1ImprovementPct       *float64       `json:"f1_improvement_pct,omitempty" db:"f1_improvement_pct"`
	BrierChange            *float64       `json:"brier_change,omitempty" db:"brier_change"`
	EvaluationArtifactRef  string         `json:"evaluation_artifact_ref,omitempty" db:"evaluation_artifact_ref"`
}

// Stage is the governance state of a ModelVersion row.
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// ModelVersion is E6: the governance row, keyed by (ModelName, Version).
// Only internal/registry may mutate Stage.
type ModelVersion struct {
	ModelName                    string        `json:"model_name" db:"model_name"`
	Version                      string        `json:"version" db:"version"`
	Stage                        Stage         `json:"stage" db:"stage"`
	TrainedAt                    time.Time     `json:"trained_at" db:"trained_at"`
	PromotedAt                   *time.Time    `json:"promoted_at,omitempty" db:"promoted_at"`
	ArchivedAt                   *time.Time    `json:"archived_at,omitempty" db:"archived_at"`
	TrainingRunReference         string        `json:"training_run_reference" db:"training_run_reference"`
	TriggerReason                TriggerReason `json:"trigger_reason" db:"trigger_reason"`
	F1Score                      float64       `json:"f1_score" db:"f1_score"`
	BrierScore                   float64       `json:"brier_score" db:"brier_score"`
	NumTrainingSamples           int           `json:"num_training_samples" db:"num_training_samples"`
	FeatureDriftRatioAtTraining  float64       `json:"feature_drift_ratio_at_training" db:"feature_drift_ratio_at_training"`
	DecisionID                   *string       `json:"decision_id,omitempty" db:"decision_id"`
	ModelBlobRef                 string        `json:"model_blob_ref" db:"model_blob_ref"`
}

// TrainMetrics is the minimum metric set a Trainer must return, per the
// external training-function contract (spec §6). Additional fields are
// allowed and stored verbatim in Extra.
type TrainMetrics struct {
	F1        float64            `json:"f1"`
	Brier     float64            `json:"brier"`
	Precision float64            `json:"precision"`
	Recall    float64            `json:"recall"`
	AUC       float64            `json:"auc"`
	Extra     map[string]float64 `json:"extra,omitempty"`
}
