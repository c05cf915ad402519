package modelcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryml/internal/config"
	"sentryml/internal/models"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c := New(config.CacheConfig{
		Addr:             mr.Addr(),
		ProductionTTL:    time.Minute,
		PromotionChannel: "model_promoted",
	}, nil)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestGetProduction_CallsLoaderOnCacheMiss(t *testing.T) {
	c, _ := newTestCache(t)
	calls := 0
	loader := func(ctx context.Context) (*models.ModelVersion, error) {
		calls++
		return &models.ModelVersion{ModelName: "credit-risk", Version: "v1"}, nil
	}

	mv, err := c.GetProduction(context.Background(), "credit-risk", loader)
	require.NoError(t, err)
	require.NotNil(t, mv)
	assert.Equal(t, "v1", mv.Version)
	assert.Equal(t, 1, calls)
}

func TestGetProduction_SecondCallHitsCacheNotLoader(t *testing.T) {
	c, _ := newTestCache(t)
	calls := 0
	loader := func(ctx context.Context) (*models.ModelVersion, error) {
		calls++
		return &models.ModelVersion{ModelName: "credit-risk", Version: "v1"}, nil
	}

	_, err := c.GetProduction(context.Background(), "credit-risk", loader)
	require.NoError(t, err)
	_, err = c.GetProduction(context.Background(), "credit-risk", loader)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestGetProduction_CachesNegativeResultWhenNoProduction(t *testing.T) {
	c, _ := newTestCache(t)
	calls := 0
	loader := func(ctx context.Context) (*models.ModelVersion, error) {
		calls++
		return nil, nil
	}

	mv, err := c.GetProduction(context.Background(), "credit-risk", loader)
	require.NoError(t, err)
	assert.Nil(t, mv)

	mv, err = c.GetProduction(context.Background(), "credit-risk", loader)
	require.NoError(t, err)
	assert.Nil(t, mv)
	assert.Equal(t, 1, calls)
}

func TestInvalidate_ForcesLoaderOnNextCall(t *testing.T) {
	c, _ := newTestCache(t)
	calls := 0
	loader := func(ctx context.Context) (*models.ModelVersion, error) {
		calls++
		return &models.ModelVersion{ModelName: "credit-risk", Version: "v1"}, nil
	}

	_, err := c.GetProduction(context.Background(), "credit-risk", loader)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(context.Background(), "credit-risk"))

	_, err = c.GetProduction(context.Background(), "credit-risk", loader)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWatchPromotions_InvalidatesOnPublish(t *testing.T) {
	c, _ := newTestCache(t)
	calls := 0
	loader := func(ctx context.Context) (*models.ModelVersion, error) {
		calls++
		return &models.ModelVersion{ModelName: "credit-risk", Version: "v1"}, nil
	}

	_, err := c.GetProduction(context.Background(), "credit-risk", loader)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.WatchPromotions(ctx)
	time.Sleep(20 * time.Millisecond) // let the subscribe establish before publishing

	require.NoError(t, c.PublishPromotion(context.Background(), "credit-risk"))

	require.Eventually(t, func() bool {
		_, err := c.GetProduction(context.Background(), "credit-risk", loader)
		return err == nil && calls == 2
	}, time.Second, 10*time.Millisecond)
}

func TestCacheKey_IsNamespacedByModelName(t *testing.T) {
	assert.Equal(t, "production:credit-risk", cacheKey("credit-risk"))
}
