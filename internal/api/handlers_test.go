package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdblens/server/config"
	"hdblens/server/internal/cache"
	"hdblens/server/internal/database"
	"hdblens/server/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupHandler(t *testing.T) (*Handler, *database.Database, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	logger := testLogger()
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), logger)

	cfg := &config.Config{}
	cfg.Server.SyncSecret = "test-secret"
	cfg.Scoring.EnrichBatchLimit = 50

	// The trigger-auth and read paths under test never reach the orchestrator
	return NewHandler(cfg, db, c, nil, logger), db, mr
}

func TestSyncTriggerRejectsMissingSecret(t *testing.T) {
	handler, _, _ := setupHandler(t)
	router := SetupRouter(handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSyncTriggerRejectsWrongSecret(t *testing.T) {
	handler, _, _ := setupHandler(t)
	router := SetupRouter(handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync?secret=wrong", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Rejection happens before any state mutation
	state, err := handler.db.GetSyncState(models.SyncKindTransactions)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, state.Status)
}

func TestEnrichTriggerRejectsWithoutConfiguredSecret(t *testing.T) {
	handler, _, _ := setupHandler(t)
	handler.cfg.Server.SyncSecret = ""
	router := SetupRouter(handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/enrich?secret=anything", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetSyncStatus(t *testing.T) {
	handler, db, _ := setupHandler(t)
	router := SetupRouter(handler)

	require.NoError(t, db.ClaimSyncRunning(models.SyncKindTransactions, time.Now()))
	require.NoError(t, db.FinishSync(models.SyncKindTransactions, 17, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sync-status", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.SyncStatusCompleted, body["status"])
	assert.EqualValues(t, 17, body["records_processed"])
	assert.Empty(t, body["error_message"])
}

func TestGetStatisticsReadThroughCache(t *testing.T) {
	handler, db, mr := setupHandler(t)
	router := SetupRouter(handler)

	require.NoError(t, db.ReplaceStatistics([]models.Statistics{{
		Town: "BEDOK", FlatType: "4 ROOM", Month: "2025-06",
		TransactionCount: 4, MedianPrice: 250, UpdatedAt: time.Now(),
	}}))

	fetch := func() map[string]interface{} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/statistics?town=BEDOK&flat_type=4+ROOM", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body
	}

	assert.Equal(t, "fresh", fetch()["source"])
	assert.Equal(t, "cache", fetch()["source"], "second read within the TTL hits the cache")

	mr.FastForward(cache.TTLTrend + time.Minute)
	assert.Equal(t, "fresh", fetch()["source"], "expired entries are recomputed")
}

func TestGetScores(t *testing.T) {
	handler, db, _ := setupHandler(t)
	router := SetupRouter(handler)

	require.NoError(t, db.UpsertScore(&models.UnitScore{
		Block: "101", StreetName: "ANG MO KIO AVE 3", Town: "ANG MO KIO", FlatType: "4 ROOM",
		CompositeScore: 72.5, ComputedAt: time.Now(),
	}))
	require.NoError(t, db.UpsertScore(&models.UnitScore{
		Block: "55", StreetName: "BEDOK NORTH RD", Town: "BEDOK", FlatType: "4 ROOM",
		CompositeScore: 80.1, ComputedAt: time.Now(),
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/scores?limit=10", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Source string             `json:"source"`
		Scores []models.UnitScore `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Scores, 2)
	assert.Equal(t, "55", body.Scores[0].Block, "ranked by composite score descending")
}
