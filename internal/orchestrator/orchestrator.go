// Package orchestrator implements C4, the retraining orchestrator: on a
// trigger it assembles a temporal train/replay split over the labeled
// ledger, invokes the external training function to produce a shadow
// candidate, replays both the current production model and the shadow
// against held-out rows, and hands the evidence package to C5's gate
// function. Grounded on the teacher's per-resource mutual-exclusion lock
// pattern (internal/api/middleware rate limiter's per-key lock map)
// generalized here to a per-model-name orchestration lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentryml/internal/apperrors"
	"sentryml/internal/artifacts"
	"sentryml/internal/config"
	"sentryml/internal/decisionlog"
	"sentryml/internal/gate"
	"sentryml/internal/ledger"
	"sentryml/internal/models"
	"sentryml/internal/observability"
	"sentryml/internal/registry"
	"sentryml/internal/training"
)

// EvaluationDetail is the full evidence package persisted as the
// evaluation artifact referenced by RetrainingDecision.EvaluationArtifactRef.
type EvaluationDetail struct {
	Evidence gate.Evidence `json:"evidence"`
	Verdict  gate.Verdict  `json:"verdict"`
}

// Orchestrator is C4's implementation.
type Orchestrator struct {
	ledger    *ledger.Ledger
	registry  *registry.Registry
	decisions *decisionlog.Log
	artifacts *artifacts.Store
	trainer   training.Trainer
	scorer    training.Scorer
	cfg       config.Decision
	logger    *observability.Logger
	metrics   *observability.Metrics

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New wires C4's collaborators. trainer and scorer are typically the same
// concrete value (e.g. *training.LinearScorer).
func New(led *ledger.Ledger, reg *registry.Registry, decisions *decisionlog.Log, artifactStore *artifacts.Store, trainer training.Trainer, scorer training.Scorer, cfg config.Decision, logger *observability.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		ledger: led, registry: reg, decisions: decisions, artifacts: artifactStore,
		trainer: trainer, scorer: scorer, cfg: cfg, logger: logger, metrics: metrics,
		locks: make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) lockFor(modelName string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[modelName]
	if !ok {
		l = &sync.Mutex{}
		o.locks[modelName] = l
	}
	return l
}

// Run executes one orchestration pass for modelName in response to
// trigger. At most one Run may be in flight per modelName; a contending
// call is dropped immediately with a skip decision rather than queued.
func (o *Orchestrator) Run(ctx context.Context, modelName string, trigger models.TriggerReason, seed int64, now time.Time) (models.RetrainingDecision, error) {
	lock := o.lockFor(modelName)
	if !lock.TryLock() {
		return o.persistSkip(ctx, modelName, trigger, now, 0, 0, nil, "contending trigger dropped")
	}
	defer lock.Unlock()

	logger := o.logger.WithComponent("orchestrator").WithFields("model_name", modelName)

	windowStart := now.Add(-time.Duration(o.cfg.TrainingWindowH) * time.Hour)
	numPredictions, numLabeled, coverageFraction, err := o.ledger.CoverageStats(ctx, modelName, windowStart, now)
	if err != nil {
		return models.RetrainingDecision{}, err
	}
	coveragePct := coverageFraction * 100
	_ = numPredictions

	if numLabeled < o.cfg.MinSamplesForDecision {
		gateLabel := models.GateSampleValidity
		return o.persistSkip(ctx, modelName, trigger, now, numLabeled, coveragePct, &gateLabel,
			fmt.Sprintf("labeled_samples %d < %d", numLabeled, o.cfg.MinSamplesForDecision))
	}
	if coveragePct < o.cfg.MinCoveragePct {
		gateLabel := models.GateLabelCoverage
		return o.persistSkip(ctx, modelName, trigger, now, numLabeled, coveragePct, &gateLabel,
			fmt.Sprintf("coverage_pct %.2f < %.2f", coveragePct, o.cfg.MinCoveragePct))
	}

	production, err := o.registry.GetProduction(ctx, modelName)
	if err != nil {
		return models.RetrainingDecision{}, err
	}

	cursor, err := o.ledger.JoinLabeled(ctx, modelName, windowStart, now)
	if err != nil {
		return models.RetrainingDecision{}, err
	}
	var labeled []models.LabeledPrediction
	for cursor.Next() {
		labeled = append(labeled, cursor.Value())
	}
	cursorErr := cursor.Err()
	cursor.Close()
	if cursorErr != nil {
		return models.RetrainingDecision{}, apperrors.NewTransientStorageError("Run.streamLabeled", cursorErr)
	}

	testCount := int(float64(len(labeled)) * o.cfg.TestFraction)
	trainSet := labeled[:len(labeled)-testCount]
	replaySet := labeled[len(labeled)-testCount:]
	if len(trainSet) == 0 || len(replaySet) == 0 {
		return o.persistSkip(ctx, modelName, trigger, now, numLabeled, coveragePct, nil, "empty_partition")
	}

	trainRows := toFeatureRows(trainSet)
	replayRows := toFeatureRows(replaySet)

	trainCtx := ctx
	if o.cfg.TrainingTimeoutS > 0 {
		var cancel context.CancelFunc
		trainCtx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.TrainingTimeoutS)*time.Second)
		defer cancel()
	}

	shadowBlobRef, shadowTrainMetrics, err := o.trainer.Train(trainCtx, trainRows, replayRows, seed)
	if err != nil {
		if errors.Is(trainCtx.Err(), context.DeadlineExceeded) {
			logger.WithError(err).Warn("training timed out")
			return o.persistSkip(ctx, modelName, trigger, now, numLabeled, coveragePct, nil, "training_timeout")
		}
		logger.WithError(err).Warn("training failed")
		return o.persistSkip(ctx, modelName, trigger, now, numLabeled, coveragePct, nil, "training_failed")
	}

	version := uuid.NewString()
	candidate := models.ModelVersion{
		ModelName:                   modelName,
		Version:                     version,
		TrainedAt:                   now,
		TrainingRunReference:        version,
		TriggerReason:               trigger,
		F1Score:                     shadowTrainMetrics.F1,
		BrierScore:                  shadowTrainMetrics.Brier,
		NumTrainingSamples:          len(trainRows),
		FeatureDriftRatioAtTraining: 0,
		ModelBlobRef:                shadowBlobRef,
	}
	if err := o.registry.RegisterCandidate(ctx, candidate); err != nil {
		return models.RetrainingDecision{}, err
	}

	decisionID := uuid.NewString()

	if production == nil {
		verdict := gate.Bootstrap()
		return o.finalize(ctx, modelName, version, decisionID, trigger, now, numLabeled, coveragePct, verdict, gate.Evidence{}, nil)
	}

	evidence, err := o.buildEvidence(ctx, modelName, production, shadowBlobRef, trainSet, replaySet, numLabeled, coveragePct, now)
	if err != nil {
		return models.RetrainingDecision{}, err
	}

	verdict := gate.Evaluate(evidence)
	return o.finalize(ctx, modelName, version, decisionID, trigger, now, numLabeled, coveragePct, verdict, evidence, production)
}

func (o *Orchestrator) buildEvidence(ctx context.Context, modelName string, production *models.ModelVersion, shadowBlobRef string, trainSet, replaySet []models.LabeledPrediction, numLabeled int, coveragePct float64, now time.Time) (gate.Evidence, error) {
	daysSince := float64(1<<62) // effectively +Inf for a never-promoted model
	if production.PromotedAt != nil {
		daysSince = now.Sub(*production.PromotedAt).Hours() / 24
	}

	var prodCounts, shadowCounts classificationCounts
	trainingValues := make(map[string][]float64)
	type row struct {
		lp          models.LabeledPrediction
		shadowClass int
		shadowProb  float64
	}
	var scored []row

	for _, lp := range trainSet {
		for feature, value := range lp.Prediction.Features {
			trainingValues[feature] = append(trainingValues[feature], value)
		}
	}

	for _, lp := range replaySet {
		prodCounts.add(lp.Prediction.PredictedClass, lp.Label.TrueClass, lp.Prediction.PredictedProbability)

		featureRow := models.FeatureRow{Values: lp.Prediction.Features, Labels: lp.Prediction.FeatureLabels}
		shadowClass, shadowProb, err := o.scorer.Score(ctx, shadowBlobRef, featureRow)
		if err != nil {
			return gate.Evidence{}, fmt.Errorf("score shadow candidate: %w", err)
		}
		shadowCounts.add(shadowClass, lp.Label.TrueClass, shadowProb)
		scored = append(scored, row{lp: lp, shadowClass: shadowClass, shadowProb: shadowProb})
	}

	cuts := segmentCuts(o.cfg.SegmentSpecs, trainingValues)

	segmentGroups := make(map[string]*struct {
		prod, shadow classificationCounts
	})
	for _, spec := range o.cfg.SegmentSpecs {
		for _, s := range scored {
			value, ok := s.lp.Prediction.Features[spec.Feature]
			if !ok {
				continue
			}
			bucket := gate.BucketOf(value, cuts[spec.Feature])
			name := segmentName(spec.Feature, bucket)
			g, ok := segmentGroups[name]
			if !ok {
				g = &struct{ prod, shadow classificationCounts }{}
				segmentGroups[name] = g
			}
			g.prod.add(s.lp.Prediction.PredictedClass, s.lp.Label.TrueClass, s.lp.Prediction.PredictedProbability)
			g.shadow.add(s.shadowClass, s.lp.Label.TrueClass, s.shadowProb)
		}
	}

	segmentNames := make([]string, 0, len(segmentGroups))
	for name := range segmentGroups {
		segmentNames = append(segmentNames, name)
	}
	sort.Strings(segmentNames)

	segments := make([]gate.SegmentEvidence, 0, len(segmentNames))
	for _, name := range segmentNames {
		g := segmentGroups[name]
		insufficient := g.prod.n < o.cfg.SegmentMin || g.shadow.n < o.cfg.SegmentMin
		segments = append(segments, gate.SegmentEvidence{
			Name:         name,
			Insufficient: insufficient,
			ProductionF1: g.prod.f1(),
			ShadowF1:     g.shadow.f1(),
		})
	}

	return gate.Evidence{
		NumSamples:             numLabeled,
		CoveragePct:            coveragePct,
		DaysSinceLastPromotion: daysSince,
		ProductionF1:           prodCounts.f1(),
		ShadowF1:               shadowCounts.f1(),
		ProductionBrier:        prodCounts.brier(),
		ShadowBrier:            shadowCounts.brier(),
		Segments:               segments,
		MinSamplesForDecision:  o.cfg.MinSamplesForDecision,
		MinCoveragePct:         o.cfg.MinCoveragePct,
		PromotionCooldownDays:  o.cfg.PromotionCooldownDays,
		MinF1ImprovementPct:    o.cfg.MinF1ImprovementPct,
		MaxBrierDegradation:    o.cfg.MaxBrierDegradation,
		MinSegmentF1DropPct:    o.cfg.MinSegmentF1DropPct,
	}, nil
}

func (o *Orchestrator) finalize(ctx context.Context, modelName, shadowVersion, decisionID string, trigger models.TriggerReason, now time.Time, numLabeled int, coveragePct float64, verdict gate.Verdict, evidence gate.Evidence, production *models.ModelVersion) (models.RetrainingDecision, error) {
	detail := EvaluationDetail{Evidence: evidence, Verdict: verdict}
	artifactRef, err := o.artifacts.Put(ctx, detail)
	if err != nil {
		return models.RetrainingDecision{}, err
	}

	decision := models.RetrainingDecision{
		DecisionID:            decisionID,
		DecidedAt:             now,
		ModelName:             modelName,
		TriggerReason:         trigger,
		FailedGate:            verdict.FailedGate,
		Reason:                verdict.Reason,
		LabeledSamples:        numLabeled,
		CoveragePct:           coveragePct,
		ShadowModelVersion:    &shadowVersion,
		EvaluationArtifactRef: artifactRef,
	}
	if production != nil {
		decision.ProductionModelVersion = &production.Version
		f1Improvement := relativeChangePct(evidence.ProductionF1, evidence.ShadowF1)
		brierChange := evidence.ShadowBrier - evidence.ProductionBrier
		decision.F1ImprovementPct = &f1Improvement
		decision.BrierChange = &brierChange
	}

	if verdict.Action == models.ActionPromote {
		if err := o.registry.Promote(ctx, modelName, shadowVersion, decisionID, now); err != nil {
			var conflict *apperrors.RegistryConflictError
			if errors.As(err, &conflict) {
				label := models.GateConcurrentPromotion
				decision.Action = models.ActionReject
				decision.FailedGate = &label
				decision.Reason = "concurrent promotion lost the commit race"
				if rejectErr := o.registry.Reject(ctx, modelName, shadowVersion, decisionID, now); rejectErr != nil {
					return models.RetrainingDecision{}, rejectErr
				}
				if err := o.decisions.Append(ctx, decision); err != nil {
					return models.RetrainingDecision{}, err
				}
				o.recordMetrics(modelName, decision)
				return decision, nil
			}
			return models.RetrainingDecision{}, err
		}
		decision.Action = models.ActionPromote
		if o.metrics != nil {
			o.metrics.RecordPromotion(modelName)
		}
	} else {
		decision.Action = models.ActionReject
		if err := o.registry.Reject(ctx, modelName, shadowVersion, decisionID, now); err != nil {
			return models.RetrainingDecision{}, err
		}
	}

	if err := o.decisions.Append(ctx, decision); err != nil {
		return models.RetrainingDecision{}, err
	}
	o.recordMetrics(modelName, decision)
	return decision, nil
}

func (o *Orchestrator) persistSkip(ctx context.Context, modelName string, trigger models.TriggerReason, now time.Time, numLabeled int, coveragePct float64, failedGate *models.GateLabel, reason string) (models.RetrainingDecision, error) {
	decision := models.RetrainingDecision{
		DecisionID:     uuid.NewString(),
		DecidedAt:      now,
		ModelName:      modelName,
		TriggerReason:  trigger,
		Action:         models.ActionSkip,
		FailedGate:     failedGate,
		Reason:         reason,
		LabeledSamples: numLabeled,
		CoveragePct:    coveragePct,
	}
	if err := o.decisions.Append(ctx, decision); err != nil {
		return models.RetrainingDecision{}, err
	}
	o.recordMetrics(modelName, decision)
	return decision, nil
}

func (o *Orchestrator) recordMetrics(modelName string, d models.RetrainingDecision) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordOrchestrationRun(modelName, string(d.Action))
	failedGate := ""
	if d.FailedGate != nil {
		failedGate = string(*d.FailedGate)
	}
	o.metrics.RecordGateOutcome(modelName, failedGate)
}

func relativeChangePct(before, after float64) float64 {
	if before == 0 {
		return 0
	}
	return (after - before) / before * 100
}

func toFeatureRows(labeled []models.LabeledPrediction) []models.FeatureRow {
	rows := make([]models.FeatureRow, len(labeled))
	for i, lp := range labeled {
		labels := make(map[string]string, len(lp.Prediction.FeatureLabels)+1)
		for k, v := range lp.Prediction.FeatureLabels {
			labels[k] = v
		}
		labels["true_class"] = fmt.Sprintf("%d", lp.Label.TrueClass)
		rows[i] = models.FeatureRow{
			RowKey: lp.Prediction.PredictionID,
			Values: lp.Prediction.Features,
			Labels: labels,
		}
	}
	return rows
}

