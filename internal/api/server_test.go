package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vehiclemarket/adrotation/internal/analytics"
	"github.com/vehiclemarket/adrotation/internal/config"
	"github.com/vehiclemarket/adrotation/internal/db"
	"github.com/vehiclemarket/adrotation/internal/logic/rotation"
	"github.com/vehiclemarket/adrotation/internal/models"
	"github.com/vehiclemarket/adrotation/internal/observability"
)

type stubCampaigns struct {
	campaigns []models.Campaign
}

func (s *stubCampaigns) GetCampaignsByPlacement(ctx context.Context, section string) ([]models.Campaign, error) {
	return s.campaigns, nil
}

type stubConfigs struct {
	configs map[string]*models.RotationConfig
}

func (s *stubConfigs) GetConfigBySection(ctx context.Context, section string) (*models.RotationConfig, error) {
	return s.configs[section], nil
}

func (s *stubConfigs) ListConfiguredSections(ctx context.Context) ([]string, error) {
	sections := make([]string, 0, len(s.configs))
	for section := range s.configs {
		sections = append(sections, section)
	}
	return sections, nil
}

type testEnv struct {
	server    *Server
	router    http.Handler
	redis     *miniredis.Miniredis
	analytics *analytics.MockAnalytics
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	ms, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(ms.Close)

	store := &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: ms.Addr()}),
	}

	now := time.Now()
	campaigns := &stubCampaigns{campaigns: []models.Campaign{
		{
			ID:               1,
			VehicleID:        1001,
			OwnerID:          7,
			OwnerType:        models.OwnerTypeDealer,
			PlacementSection: "homepage",
			Status:           models.CampaignStatusActive,
			TotalBudget:      decimal.NewFromInt(100),
			SpentBudget:      decimal.NewFromInt(20),
			QualityScore:     decimal.NewFromFloat(0.7),
			ExpiresAt:        now.Add(24 * time.Hour),
			CreatedAt:        now.Add(-time.Hour),
		},
	}}
	quarter := decimal.NewFromFloat(0.25)
	configs := &stubConfigs{configs: map[string]*models.RotationConfig{
		"homepage": {
			PlacementSection:       "homepage",
			Algorithm:              models.AlgorithmCTROptimized,
			MaxVehiclesShown:       5,
			WeightRemainingBudget:  quarter,
			WeightCtr:              quarter,
			WeightQualityScore:     quarter,
			WeightRecency:          quarter,
			RefreshIntervalMinutes: 5,
			Active:                 true,
		},
	}}

	logger := zap.NewNop()
	metrics := observability.NewNoOpRegistry()
	engine := rotation.NewEngine(campaigns, logger)
	cache := rotation.NewCache(store, engine, configs, logger, metrics)
	mock := analytics.NewMockAnalytics()

	server := NewServer(logger, cache, mock, metrics, config.Config{})
	return &testEnv{
		server:    server,
		router:    server.Router(),
		redis:     ms,
		analytics: mock,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestGetRotation(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/rotation/homepage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result models.RotationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "homepage", result.PlacementSection)
	require.Equal(t, models.AlgorithmCTROptimized, result.Algorithm)
	require.Len(t, result.Items, 1)
	require.Equal(t, 1, result.Items[0].CampaignID)
	require.Equal(t, 1001, result.Items[0].VehicleID)
	require.Equal(t, 1, result.Items[0].Position)

	require.True(t, env.redis.Exists("rotation:homepage"))
}

func TestGetRotationUnknownSection(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/rotation/sidebar", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.RotationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "sidebar", result.PlacementSection)
	require.Empty(t, result.Items)
}

func TestRefreshRotation(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/rotation/homepage/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.RotationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Items, 1)
	require.True(t, env.redis.Exists("rotation:homepage"))
}

func TestInvalidateRotation(t *testing.T) {
	env := setupTestServer(t)

	env.do(t, http.MethodGet, "/rotation/homepage", nil)
	require.True(t, env.redis.Exists("rotation:homepage"))

	rec := env.do(t, http.MethodDelete, "/rotation/homepage", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, env.redis.Exists("rotation:homepage"))
}

func TestInvalidateAllRotations(t *testing.T) {
	env := setupTestServer(t)

	env.do(t, http.MethodGet, "/rotation/homepage", nil)
	require.True(t, env.redis.Exists("rotation:homepage"))

	rec := env.do(t, http.MethodDelete, "/rotation", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, env.redis.Exists("rotation:homepage"))
}

func TestImpressionEvent(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/event/impression", map[string]any{
		"campaign_id": 1,
		"placement":   "homepage",
		"owner_type":  models.OwnerTypeDealer,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	n, err := env.analytics.CountImpressions(context.Background(), 1, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestClickEvent(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/event/click", map[string]any{
		"campaign_id": 1,
		"placement":   "homepage",
		"owner_type":  models.OwnerTypePrivate,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	n, err := env.analytics.CountClicks(context.Background(), 1, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestEventRejectsBadPayload(t *testing.T) {
	env := setupTestServer(t)

	for _, body := range []map[string]any{
		{"placement": "homepage"},             // missing campaign id
		{"campaign_id": 0, "placement": "hp"}, // non-positive campaign id
		{"campaign_id": 1},                    // missing placement
	} {
		rec := env.do(t, http.MethodPost, "/event/impression", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %v", body)
	}

	req := httptest.NewRequest(http.MethodPost, "/event/click", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventRecordFailure(t *testing.T) {
	env := setupTestServer(t)
	env.analytics.RecordErr = context.DeadlineExceeded

	rec := env.do(t, http.MethodPost, "/event/impression", map[string]any{
		"campaign_id": 1,
		"placement":   "homepage",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCampaignCreatedInvalidatesSection(t *testing.T) {
	env := setupTestServer(t)

	env.do(t, http.MethodGet, "/rotation/homepage", nil)
	require.True(t, env.redis.Exists("rotation:homepage"))

	rec := env.do(t, http.MethodPost, "/event/campaign-created", map[string]any{
		"campaign_id": 2,
		"placement":   "homepage",
		"owner_type":  models.OwnerTypePrivate,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.False(t, env.redis.Exists("rotation:homepage"))
}

func TestHealthz(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
