// Package training defines the external training-function contract C4
// consumes (Train(training_rows, test_rows, seed) -> (model_blob, metrics))
// and a deterministic reference implementation used by the bootstrap path,
// internal tests, and cmd/orchestrator's daemon. A production deployment
// is expected to supply its own Trainer backed by a real modeling stack;
// this package's job is the contract and a model-agnostic scorer, not a
// competitive classifier.
package training

import (
	"context"
	"fmt"
	"math"
	"sort"

	"sentryml/internal/models"
)

// Trainer is the external collaborator C4 calls to produce a shadow model.
// Implementations must be deterministic given the same rows and seed.
type Trainer interface {
	Train(ctx context.Context, trainingRows, testRows []models.FeatureRow, seed int64) (modelBlobRef string, metrics models.TrainMetrics, err error)
}

// Scorer re-scores an already-trained model against a row. C4 uses this to
// evaluate the shadow candidate on the replay set independently per
// segment; the production model's replay-set predictions are never
// rescored, per spec, so only the shadow side needs this collaborator.
type Scorer interface {
	Score(ctx context.Context, modelBlobRef string, row models.FeatureRow) (predictedClass int, probability float64, err error)
}

// BlobStore is the subset of artifacts.Store a Trainer needs to persist and
// reload a serialized model.
type BlobStore interface {
	Put(ctx context.Context, body interface{}) (string, error)
	Get(ctx context.Context, ref string, out interface{}) error
}

// LinearScorer is a deterministic reference Trainer and Scorer: it fits
// per-feature weights by a closed-form correlation-with-label estimate (not
// gradient descent, so it is exactly reproducible across platforms) and
// scores rows with a logistic link. It exists to exercise the full C4/C5
// pipeline without depending on an external modeling service.
type LinearScorer struct {
	FeatureOrder []string
	Blobs        BlobStore
}

// Blob is the serialized form of a fitted LinearScorer model, stored by
// model_blob_ref and reloaded at serving time.
type Blob struct {
	FeatureOrder []string           `json:"feature_order"`
	Weights      map[string]float64 `json:"weights"`
	Bias         float64            `json:"bias"`
}

// Train fits weights on trainingRows and evaluates on testRows, returning a
// content-addressed reference to the serialized Blob.
func (s *LinearScorer) Train(ctx context.Context, trainingRows, testRows []models.FeatureRow, seed int64) (string, models.TrainMetrics, error) {
	blob := fit(trainingRows, s.FeatureOrder, seed)
	metrics := evaluate(blob, testRows)

	ref, err := s.Blobs.Put(ctx, blob)
	if err != nil {
		return "", models.TrainMetrics{}, fmt.Errorf("persist model blob: %w", err)
	}
	return ref, metrics, nil
}

// Score reloads the blob referenced by modelBlobRef and scores row.
func (s *LinearScorer) Score(ctx context.Context, modelBlobRef string, row models.FeatureRow) (int, float64, error) {
	var blob Blob
	if err := s.Blobs.Get(ctx, modelBlobRef, &blob); err != nil {
		return 0, 0, fmt.Errorf("load model blob: %w", err)
	}
	p := Score(blob, row)
	class := 0
	if p >= 0.5 {
		class = 1
	}
	return class, p, nil
}

func fit(rows []models.FeatureRow, featureOrder []string, seed int64) Blob {
	blob := Blob{FeatureOrder: featureOrder, Weights: make(map[string]float64)}
	if len(rows) == 0 {
		return blob
	}

	var posCount int
	for _, r := range rows {
		if r.Labels["true_class"] == "1" {
			posCount++
		}
	}
	baseRate := float64(posCount) / float64(len(rows))
	baseRate = clamp(baseRate, 1e-6, 1-1e-6)
	blob.Bias = math.Log(baseRate / (1 - baseRate))

	seedJitter := float64(seed%997) / 1e7 // deterministic tie-break, no behavioral effect at scale

	for _, feature := range featureOrder {
		var sumX, sumXY, sumX2, n float64
		for _, r := range rows {
			x, ok := r.Values[feature]
			if !ok {
				continue
			}
			y := 0.0
			if r.Labels["true_class"] == "1" {
				y = 1.0
			}
			sumX += x
			sumXY += x * y
			sumX2 += x * x
			n++
		}
		if n == 0 {
			continue
		}
		meanX := sumX / n
		meanY := sumXY / n
		varX := sumX2/n - meanX*meanX
		if varX <= 0 {
			continue
		}
		cov := meanY - meanX*baseRate
		blob.Weights[feature] = (cov / varX) + seedJitter
	}
	return blob
}

// Score returns the predicted probability of the positive class for row.
func Score(blob Blob, row models.FeatureRow) float64 {
	z := blob.Bias
	for _, f := range blob.FeatureOrder {
		if w, ok := blob.Weights[f]; ok {
			z += w * row.Values[f]
		}
	}
	return 1 / (1 + math.Exp(-z))
}

func evaluate(blob Blob, rows []models.FeatureRow) models.TrainMetrics {
	var tp, fp, fn, tn int
	var brierSum float64
	probs := make([]float64, 0, len(rows))
	labels := make([]int, 0, len(rows))

	for _, r := range rows {
		p := Score(blob, r)
		y := 0
		if r.Labels["true_class"] == "1" {
			y = 1
		}
		pred := 0
		if p >= 0.5 {
			pred = 1
		}
		switch {
		case pred == 1 && y == 1:
			tp++
		case pred == 1 && y == 0:
			fp++
		case pred == 0 && y == 1:
			fn++
		default:
			tn++
		}
		diff := p - float64(y)
		brierSum += diff * diff
		probs = append(probs, p)
		labels = append(labels, y)
	}

	precision := safeDiv(float64(tp), float64(tp+fp))
	recall := safeDiv(float64(tp), float64(tp+fn))
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	brier := 0.0
	if len(rows) > 0 {
		brier = brierSum / float64(len(rows))
	}

	return models.TrainMetrics{
		F1:        f1,
		Brier:     brier,
		Precision: precision,
		Recall:    recall,
		AUC:       auc(probs, labels),
	}
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// auc computes the rank-based area under the ROC curve (Mann-Whitney U
// form), avoiding a threshold sweep.
func auc(probs []float64, labels []int) float64 {
	type pair struct {
		p float64
		y int
	}
	pairs := make([]pair, len(probs))
	for i := range probs {
		pairs[i] = pair{probs[i], labels[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].p < pairs[j].p })

	var posCount, negCount float64
	var rankSum float64
	for i, p := range pairs {
		rank := float64(i + 1)
		if p.y == 1 {
			posCount++
			rankSum += rank
		} else {
			negCount++
		}
	}
	if posCount == 0 || negCount == 0 {
		return 0.5
	}
	u := rankSum - posCount*(posCount+1)/2
	return u / (posCount * negCount)
}
