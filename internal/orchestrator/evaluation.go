package orchestrator

import (
	"sort"
	"strconv"

	"sentryml/internal/config"
	"sentryml/internal/gate"
)

// classificationCounts accumulates a binary confusion matrix.
type classificationCounts struct {
	tp, fp, fn, tn int
	brierSum       float64
	n              int
}

func (c *classificationCounts) add(predictedClass, trueClass int, probability float64) {
	switch {
	case predictedClass == 1 && trueClass == 1:
		c.tp++
	case predictedClass == 1 && trueClass == 0:
		c.fp++
	case predictedClass == 0 && trueClass == 1:
		c.fn++
	default:
		c.tn++
	}
	diff := probability - float64(trueClass)
	c.brierSum += diff * diff
	c.n++
}

func (c *classificationCounts) f1() float64 {
	precision := safeDiv(float64(c.tp), float64(c.tp+c.fp))
	recall := safeDiv(float64(c.tp), float64(c.tp+c.fn))
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func (c *classificationCounts) brier() float64 {
	if c.n == 0 {
		return 0
	}
	return c.brierSum / float64(c.n)
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// segmentCuts computes, for each configured SegmentSpec, the percentile cut
// points over trainingRows' feature values. The same cuts are applied to
// both production and shadow replay-set rows so the two models are
// compared over identical segment boundaries.
func segmentCuts(specs []config.SegmentSpec, trainingValues map[string][]float64) map[string][]float64 {
	cuts := make(map[string][]float64, len(specs))
	for _, spec := range specs {
		values := append([]float64{}, trainingValues[spec.Feature]...)
		sort.Float64s(values)
		cuts[spec.Feature] = gate.PercentileCuts(values, spec.PercentileCuts)
	}
	return cuts
}

func segmentName(feature string, bucket int) string {
	return feature + "#" + strconv.Itoa(bucket)
}
