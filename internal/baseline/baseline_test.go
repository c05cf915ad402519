package baseline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryml/internal/apperrors"
	"sentryml/internal/models"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.db")
	baselinePath := filepath.Join(dir, "baseline.json")
	s, err := Open(manifestPath, baselinePath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, baselinePath
}

func sampleBaseline() models.ReferenceBaseline {
	return models.ReferenceBaseline{
		ReferenceID: "ref-1",
		FeatureSchema: []models.FeatureColumn{
			{Name: "age", SemanticType: models.SemanticContinuous},
		},
		Rows: []models.FeatureRow{
			{RowKey: "r1", Values: map[string]float64{"age": 30}},
			{RowKey: "r2", Values: map[string]float64{"age": 40}},
		},
		CreatedAt: time.Now(),
	}
}

func TestStore_BootstrapThenLoadRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	b := sampleBaseline()

	require.NoError(t, s.Bootstrap(context.Background(), b))

	loaded, err := s.Load(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "ref-1", loaded.ReferenceID)
	assert.Equal(t, 2, loaded.RowCount)
	assert.NotEmpty(t, loaded.ContentDigest)
}

func TestStore_LoadUsesCacheOnSecondCall(t *testing.T) {
	s, _ := openTestStore(t)
	b := sampleBaseline()
	require.NoError(t, s.Bootstrap(context.Background(), b))

	first, err := s.Load(context.Background(), "ref-1")
	require.NoError(t, err)

	// tamper with the manifest digest only; the watched file is untouched,
	// so the cache stays valid and a cached Load must not notice.
	_, err = s.manifestDB.Exec(`UPDATE reference_manifest SET content_digest = 'tampered' WHERE reference_id = 'ref-1'`)
	require.NoError(t, err)

	second, err := s.Load(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, first.ContentDigest, second.ContentDigest)
}

func TestStore_LoadUnknownReferenceIDFails(t *testing.T) {
	s, _ := openTestStore(t)
	b := sampleBaseline()
	require.NoError(t, s.Bootstrap(context.Background(), b))

	_, err := s.Load(context.Background(), "no-such-ref")
	require.Error(t, err)
	var integrity *apperrors.IntegrityError
	assert.ErrorAs(t, err, &integrity)
}

func TestStore_LoadDetectsDigestMismatch(t *testing.T) {
	s, baselinePath := openTestStore(t)
	b := sampleBaseline()
	require.NoError(t, s.Bootstrap(context.Background(), b))

	tampered := sampleBaseline()
	tampered.Rows[0].Values["age"] = 999
	data, err := json.Marshal(tampered)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(baselinePath, data, 0o644))

	_, err = s.Load(context.Background(), "ref-1")
	require.Error(t, err)
	var integrity *apperrors.IntegrityError
	assert.ErrorAs(t, err, &integrity)
}

func TestCanonicalDigest_IsOrderIndependentAcrossRows(t *testing.T) {
	a := sampleBaseline()
	b := sampleBaseline()
	b.Rows[0], b.Rows[1] = b.Rows[1], b.Rows[0]

	assert.Equal(t, canonicalDigest(&a), canonicalDigest(&b))
}

func TestCanonicalDigest_DiffersWhenValuesDiffer(t *testing.T) {
	a := sampleBaseline()
	b := sampleBaseline()
	b.Rows[0].Values["age"] = 31

	assert.NotEqual(t, canonicalDigest(&a), canonicalDigest(&b))
}
