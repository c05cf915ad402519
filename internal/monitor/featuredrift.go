package monitor

import (
	"context"

	"sentryml/internal/models"
)

const minNonNullPerSide = 30

// evaluateFeatureDrift compares the reference rows against the window's
// predictions for every column in schema, returning the full per-feature
// detail, the names of drifted features, and the count of evaluated
// (non-excluded) features.
func evaluateFeatureDrift(schema []models.FeatureColumn, referenceRows []models.FeatureRow, windowRows []models.PredictionRecord, pThreshold, effectFloor float64) ([]FeatureDriftDetail, []string, int) {
	details := make([]FeatureDriftDetail, 0, len(schema))
	var drifted []string
	evaluated := 0

	for _, col := range schema {
		switch col.SemanticType {
		case models.SemanticContinuous, models.SemanticOrdinal:
			refValues := continuousValues(referenceRows, col.Name)
			winValues := continuousValuesFromPredictions(windowRows, col.Name)
			if len(refValues) < minNonNullPerSide || len(winValues) < minNonNullPerSide {
				details = append(details, FeatureDriftDetail{Feature: col.Name, Excluded: true})
				continue
			}
			d := ksStatistic(refValues, winValues)
			p := ksPValue(d, len(refValues), len(winValues))
			effect := normalizedWasserstein(refValues, winValues)
			isDrifted := p < pThreshold && effect >= effectFloor
			details = append(details, FeatureDriftDetail{
				Feature: col.Name, Drifted: isDrifted, PValue: p, EffectSize: effect,
			})
			evaluated++
			if isDrifted {
				drifted = append(drifted, col.Name)
			}

		case models.SemanticCategorical:
			refCounts := categoricalCounts(referenceRows, col.Name)
			winCounts := categoricalCountsFromPredictions(windowRows, col.Name)
			refN, winN := sumCounts(refCounts), sumCounts(winCounts)
			if refN < minNonNullPerSide || winN < minNonNullPerSide {
				details = append(details, FeatureDriftDetail{Feature: col.Name, Excluded: true})
				continue
			}
			_, p := chiSquaredTest(refCounts, winCounts)
			effect := totalVariationDistance(refCounts, winCounts)
			isDrifted := p < pThreshold && effect >= effectFloor
			details = append(details, FeatureDriftDetail{
				Feature: col.Name, Drifted: isDrifted, PValue: p, EffectSize: effect,
			})
			evaluated++
			if isDrifted {
				drifted = append(drifted, col.Name)
			}
		}
	}
	return details, drifted, evaluated
}

func continuousValues(rows []models.FeatureRow, feature string) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v, ok := r.Values[feature]; ok {
			out = append(out, v)
		}
	}
	return out
}

func continuousValuesFromPredictions(rows []models.PredictionRecord, feature string) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v, ok := r.Features[feature]; ok {
			out = append(out, v)
		}
	}
	return out
}

func categoricalCounts(rows []models.FeatureRow, feature string) map[string]int {
	counts := make(map[string]int)
	for _, r := range rows {
		if v, ok := r.Labels[feature]; ok {
			counts[v]++
		}
	}
	return counts
}

func categoricalCountsFromPredictions(rows []models.PredictionRecord, feature string) map[string]int {
	counts := make(map[string]int)
	for _, r := range rows {
		if v, ok := r.FeatureLabels[feature]; ok {
			counts[v]++
		}
	}
	return counts
}

func sumCounts(counts map[string]int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}

// Trend returns the rolling drift-ratio trend for modelName: up to
// trend_window_size most recent feature_drift_ratio values, oldest first,
// used by cmd/sentryctl's status display.
func (m *Monitor) Trend(ctx context.Context, modelName string) ([]float64, error) {
	recent, err := m.repo.recentDriftRatios(ctx, modelName, m.cfg.TrendWindowSize)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}
