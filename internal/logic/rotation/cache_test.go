package rotation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vehiclemarket/adrotation/internal/db"
	"github.com/vehiclemarket/adrotation/internal/models"
	"github.com/vehiclemarket/adrotation/internal/observability"
)

// setupTestRedis spins up an in-memory Redis and wraps it in a RedisStore.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *db.RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	store := &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: s.Addr()}),
	}
	return s, store
}

// stubConfigs serves fixed rotation configs.
type stubConfigs struct {
	configs map[string]*models.RotationConfig
	err     error
}

func (s *stubConfigs) GetConfigBySection(ctx context.Context, section string) (*models.RotationConfig, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.configs[section], nil
}

func (s *stubConfigs) ListConfiguredSections(ctx context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	sections := make([]string, 0, len(s.configs))
	for section := range s.configs {
		sections = append(sections, section)
	}
	return sections, nil
}

func testCache(t *testing.T, store *db.RedisStore, src *stubSource, configs *stubConfigs) *Cache {
	t.Helper()
	engine := NewEngine(src, zap.NewNop())
	return NewCache(store, engine, configs, zap.NewNop(), observability.NewNoOpRegistry())
}

func homepageConfigs(cfg *models.RotationConfig) *stubConfigs {
	return &stubConfigs{configs: map[string]*models.RotationConfig{"homepage": cfg}}
}

func requireResultsEqual(t *testing.T, want, got *models.RotationResult) {
	t.Helper()
	require.Equal(t, want.PlacementSection, got.PlacementSection)
	require.Equal(t, want.Algorithm, got.Algorithm)
	require.True(t, want.GeneratedAt.Equal(got.GeneratedAt),
		"generated at %s != %s", want.GeneratedAt, got.GeneratedAt)
	require.Len(t, got.Items, len(want.Items))
	for i := range want.Items {
		require.Equal(t, want.Items[i].CampaignID, got.Items[i].CampaignID)
		require.Equal(t, want.Items[i].VehicleID, got.Items[i].VehicleID)
		require.Equal(t, want.Items[i].OwnerID, got.Items[i].OwnerID)
		require.Equal(t, want.Items[i].OwnerType, got.Items[i].OwnerType)
		require.Equal(t, want.Items[i].Position, got.Items[i].Position)
		require.True(t, want.Items[i].Score.Equal(got.Items[i].Score),
			"item %d score %s != %s", i, want.Items[i].Score, got.Items[i].Score)
	}
}

func TestGetRotationMissComputesAndCaches(t *testing.T) {
	fixNow(t)
	ms, store := setupTestRedis(t)
	defer ms.Close()

	src := &stubSource{campaigns: []models.Campaign{activeCampaign(1), activeCampaign(2)}}
	cfg := equalWeightsConfig(models.AlgorithmCTROptimized, 5)
	cache := testCache(t, store, src, homepageConfigs(cfg))

	result, err := cache.GetRotation(context.Background(), "homepage")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Items, 2)
	require.Equal(t, 1, src.calls)

	// The computed result landed in Redis with the config-derived TTL.
	require.True(t, ms.Exists("rotation:homepage"))
	require.Equal(t, 5*time.Minute, ms.TTL("rotation:homepage"))

	// A second call is served from the cache without touching the source.
	cached, err := cache.GetRotation(context.Background(), "homepage")
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)
	requireResultsEqual(t, result, cached)
}

func TestGetRotationCacheKeyIsLowercased(t *testing.T) {
	fixNow(t)
	ms, store := setupTestRedis(t)
	defer ms.Close()

	src := &stubSource{campaigns: []models.Campaign{activeCampaign(1)}}
	cfg := equalWeightsConfig(models.AlgorithmCTROptimized, 5)
	configs := &stubConfigs{configs: map[string]*models.RotationConfig{"Homepage": cfg}}
	cache := testCache(t, store, src, configs)

	_, err := cache.GetRotation(context.Background(), "Homepage")
	require.NoError(t, err)
	require.True(t, ms.Exists("rotation:homepage"))
}

func TestGetRotationNoConfig(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()

	cache := testCache(t, store, &stubSource{}, &stubConfigs{})
	result, err := cache.GetRotation(context.Background(), "sidebar")
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestGetRotationInactiveConfig(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()

	cfg := equalWeightsConfig(models.AlgorithmCTROptimized, 5)
	cfg.Active = false
	cache := testCache(t, store, &stubSource{}, homepageConfigs(cfg))

	result, err := cache.GetRotation(context.Background(), "homepage")
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestGetRotationStoreDownComputesDirectly(t *testing.T) {
	fixNow(t)
	ms, store := setupTestRedis(t)

	src := &stubSource{campaigns: []models.Campaign{activeCampaign(1)}}
	cfg := equalWeightsConfig(models.AlgorithmCTROptimized, 5)
	cache := testCache(t, store, src, homepageConfigs(cfg))

	// Kill Redis before the first read. The caller still gets a full result.
	ms.Close()
	result, err := cache.GetRotation(context.Background(), "homepage")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Items, 1)
	require.Equal(t, 1, result.Items[0].CampaignID)

	// And it matches what the engine returns when called directly.
	direct, err := NewEngine(src, zap.NewNop()).ComputeRotation(context.Background(), "homepage", cfg)
	require.NoError(t, err)
	requireResultsEqual(t, direct, result)
}

func TestRefreshRotationStoreDownStillReturnsResult(t *testing.T) {
	fixNow(t)
	ms, store := setupTestRedis(t)

	src := &stubSource{campaigns: []models.Campaign{activeCampaign(1)}}
	cfg := equalWeightsConfig(models.AlgorithmBudgetPriority, 5)
	cache := testCache(t, store, src, homepageConfigs(cfg))

	ms.Close()
	result, err := cache.RefreshRotation(context.Background(), "homepage")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Items, 1)
}

func TestGetRotationMalformedPayloadRecomputes(t *testing.T) {
	fixNow(t)
	ms, store := setupTestRedis(t)
	defer ms.Close()

	src := &stubSource{campaigns: []models.Campaign{activeCampaign(1)}}
	cfg := equalWeightsConfig(models.AlgorithmCTROptimized, 5)
	cache := testCache(t, store, src, homepageConfigs(cfg))

	require.NoError(t, ms.Set("rotation:homepage", "{not json"))

	result, err := cache.GetRotation(context.Background(), "homepage")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Items, 1)
	require.Equal(t, 1, src.calls)

	// The corrupt entry was overwritten by the recomputed result.
	raw, err := ms.Get("rotation:homepage")
	require.NoError(t, err)
	require.Contains(t, raw, `"algorithm"`)
}

func TestRefreshRotationConfigSourceErrorPropagates(t *testing.T) {
	ms, store := setupTestRedis(t)
	defer ms.Close()

	configs := &stubConfigs{err: context.DeadlineExceeded}
	cache := testCache(t, store, &stubSource{}, configs)

	_, err := cache.RefreshRotation(context.Background(), "homepage")
	require.Error(t, err)
}

func TestCachedResultRoundTripsExactly(t *testing.T) {
	fixNow(t)
	ms, store := setupTestRedis(t)
	defer ms.Close()

	src := &stubSource{campaigns: []models.Campaign{
		activeCampaign(1, func(c *models.Campaign) {
			c.QualityScore = decimal.NewFromFloat(0.73)
			c.OwnerType = models.OwnerTypeDealer
		}),
		activeCampaign(2),
	}}
	cfg := equalWeightsConfig(models.AlgorithmBudgetPriority, 5)
	cache := testCache(t, store, src, homepageConfigs(cfg))

	fresh, err := cache.RefreshRotation(context.Background(), "homepage")
	require.NoError(t, err)

	cached, err := cache.GetRotation(context.Background(), "homepage")
	require.NoError(t, err)
	requireResultsEqual(t, fresh, cached)
}

func TestInvalidate(t *testing.T) {
	fixNow(t)
	ms, store := setupTestRedis(t)
	defer ms.Close()

	src := &stubSource{campaigns: []models.Campaign{activeCampaign(1)}}
	cfg := equalWeightsConfig(models.AlgorithmCTROptimized, 5)
	cache := testCache(t, store, src, homepageConfigs(cfg))

	_, err := cache.RefreshRotation(context.Background(), "homepage")
	require.NoError(t, err)
	require.True(t, ms.Exists("rotation:homepage"))

	cache.Invalidate(context.Background(), "homepage")
	require.False(t, ms.Exists("rotation:homepage"))
}

func TestInvalidateAll(t *testing.T) {
	fixNow(t)
	ms, store := setupTestRedis(t)
	defer ms.Close()

	src := &stubSource{campaigns: []models.Campaign{activeCampaign(1)}}
	configs := &stubConfigs{configs: map[string]*models.RotationConfig{
		"homepage": equalWeightsConfig(models.AlgorithmCTROptimized, 5),
		"sidebar":  equalWeightsConfig(models.AlgorithmRoundRobin, 3),
	}}
	cache := testCache(t, store, src, configs)

	for _, section := range []string{"homepage", "sidebar"} {
		_, err := cache.RefreshRotation(context.Background(), section)
		require.NoError(t, err)
	}
	require.True(t, ms.Exists("rotation:homepage"))
	require.True(t, ms.Exists("rotation:sidebar"))

	cache.InvalidateAll(context.Background())
	require.False(t, ms.Exists("rotation:homepage"))
	require.False(t, ms.Exists("rotation:sidebar"))
}

func TestInvalidateStoreDownIsSilent(t *testing.T) {
	ms, store := setupTestRedis(t)
	cache := testCache(t, store, &stubSource{}, &stubConfigs{})

	ms.Close()
	// Must not panic or error out.
	cache.Invalidate(context.Background(), "homepage")
	cache.InvalidateAll(context.Background())
}
