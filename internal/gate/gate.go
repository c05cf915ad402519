// Package gate implements C5's pure half: the six-gate promotion decision
// function. It performs no I/O — the orchestrator assembles the evidence
// package and persists the verdict and any artifact. Grounded on the
// teacher's validation-rule-chain style in internal/validation (ordered
// checks, first failure wins) generalized from request validation to
// model-promotion evidence.
package gate

import (
	"fmt"
	"math"

	"sentryml/internal/models"
)

// SegmentEvidence is one segment's replay evidence, or an abstention flag
// when the segment did not meet segment_min on both sides.
type SegmentEvidence struct {
	Name              string
	Insufficient      bool
	ProductionF1      float64
	ShadowF1          float64
}

// Evidence is the full input to the gate function, assembled by C4.
type Evidence struct {
	NumSamples             int
	CoveragePct            float64
	DaysSinceLastPromotion float64 // +Inf if never promoted
	ProductionF1           float64
	ShadowF1               float64
	ProductionBrier        float64
	ShadowBrier            float64
	Segments               []SegmentEvidence

	MinSamplesForDecision int
	MinCoveragePct        float64
	PromotionCooldownDays int
	MinF1ImprovementPct   float64
	MaxBrierDegradation   float64
	MinSegmentF1DropPct   float64
}

// Verdict is the gate function's deterministic output.
type Verdict struct {
	Action     models.DecisionAction
	FailedGate *models.GateLabel
	Reason     string
}

// Evaluate runs the six gates in order, short-circuiting on the first
// failure. Calling it twice with the same Evidence yields an identical
// Verdict (P6): the function reads only its arguments and does no I/O.
func Evaluate(e Evidence) Verdict {
	if e.NumSamples < e.MinSamplesForDecision {
		return reject(models.GateSampleValidity, fmt.Sprintf("num_samples %d < %d", e.NumSamples, e.MinSamplesForDecision))
	}
	if e.CoveragePct < e.MinCoveragePct {
		return reject(models.GateLabelCoverage, fmt.Sprintf("coverage_pct %.2f < %.2f", e.CoveragePct, e.MinCoveragePct))
	}
	if e.DaysSinceLastPromotion < float64(e.PromotionCooldownDays) {
		return reject(models.GatePromotionCooldown, fmt.Sprintf("days_since_last_promotion %.2f < %d", e.DaysSinceLastPromotion, e.PromotionCooldownDays))
	}
	if e.ProductionF1 == 0 {
		return reject(models.GatePerformanceGain, "production_f1 is zero, cannot compute relative improvement")
	}
	f1Gain := (e.ShadowF1 - e.ProductionF1) / e.ProductionF1
	minGain := e.MinF1ImprovementPct / 100
	if f1Gain < minGain {
		return reject(models.GatePerformanceGain, fmt.Sprintf("f1 improvement %.4f < required %.4f", f1Gain, minGain))
	}
	brierDelta := e.ShadowBrier - e.ProductionBrier
	if brierDelta > e.MaxBrierDegradation {
		return reject(models.GateCalibrationHold, fmt.Sprintf("brier degraded by %.4f > allowed %.4f", brierDelta, e.MaxBrierDegradation))
	}
	for _, seg := range e.Segments {
		if seg.Insufficient {
			continue
		}
		if seg.ProductionF1 == 0 {
			continue
		}
		segGain := (seg.ShadowF1 - seg.ProductionF1) / seg.ProductionF1
		floor := -e.MinSegmentF1DropPct / 100
		if segGain < floor {
			return reject(models.GateSegmentFairness, fmt.Sprintf("segment %s f1 change %.4f below floor %.4f", seg.Name, segGain, floor))
		}
	}
	return Verdict{Action: models.ActionPromote, FailedGate: nil, Reason: "all gates passed"}
}

func reject(label models.GateLabel, reason string) Verdict {
	l := label
	return Verdict{Action: models.ActionReject, FailedGate: &l, Reason: reason}
}

// Bootstrap returns the fixed verdict used when no Production version
// exists yet: gates 3-6 are bypassed and S is promoted unconditionally.
func Bootstrap() Verdict {
	return Verdict{Action: models.ActionPromote, FailedGate: nil, Reason: "bootstrap"}
}

// PercentileCuts computes the cut points for bucketing values into
// len(cuts)+1 segments given sorted percentile fractions, e.g. {1/3, 2/3}
// for tertiles. values must be sorted ascending.
func PercentileCuts(sortedValues []float64, cuts []float64) []float64 {
	out := make([]float64, len(cuts))
	n := len(sortedValues)
	if n == 0 {
		return out
	}
	for i, c := range cuts {
		idx := int(math.Round(c * float64(n-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		out[i] = sortedValues[idx]
	}
	return out
}

// BucketOf returns which of len(cuts)+1 buckets value falls into, given
// ascending cut points.
func BucketOf(value float64, cuts []float64) int {
	for i, c := range cuts {
		if value < c {
			return i
		}
	}
	return len(cuts)
}
