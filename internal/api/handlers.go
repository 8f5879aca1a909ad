package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hdblens/server/config"
	"hdblens/server/internal/cache"
	"hdblens/server/internal/database"
	"hdblens/server/internal/models"
	"hdblens/server/internal/syncer"
)

type Handler struct {
	cfg          *config.Config
	db           *database.Database
	cache        *cache.Cache
	orchestrator *syncer.Orchestrator
	logger       *logrus.Logger
}

func NewHandler(cfg *config.Config, db *database.Database, c *cache.Cache, orchestrator *syncer.Orchestrator, logger *logrus.Logger) *Handler {
	return &Handler{
		cfg:          cfg,
		db:           db,
		cache:        c,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// authorized checks the shared sync secret from header or query parameter.
// Unauthorized triggers are rejected before any state mutation.
func (h *Handler) authorized(c *gin.Context) bool {
	if h.cfg.Server.SyncSecret == "" {
		h.logger.Error("Sync secret not configured, rejecting trigger")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sync trigger not configured"})
		return false
	}

	secret := c.GetHeader("X-Sync-Secret")
	if secret == "" {
		secret = c.Query("secret")
	}
	if secret != h.cfg.Server.SyncSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid sync secret"})
		return false
	}
	return true
}

// TriggerSync runs the full synchronization pipeline.
func (h *Handler) TriggerSync(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	result, err := h.orchestrator.RunSync(c.Request.Context())
	if errors.Is(err, syncer.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Sync trigger failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "sync failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"records_fetched":  result.Fetched,
		"records_inserted": result.Inserted,
		"duration_ms":      result.Duration.Milliseconds(),
	})
}

// TriggerEnrich runs the smaller-batch enrichment-only pipeline.
func (h *Handler) TriggerEnrich(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	limit := h.cfg.Scoring.EnrichBatchLimit
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 && v <= h.cfg.Scoring.EnrichBatchLimit {
		limit = v
	}

	start := nowMillis()
	units, err := h.orchestrator.RunEnrichment(c.Request.Context(), limit)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "enrichment already in progress"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Enrichment trigger failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "enrichment failed",
			"details": err.Error(),
		})
		return
	}

	if units == nil {
		units = []syncer.EnrichedUnit{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"processed":   len(units),
		"duration_ms": nowMillis() - start,
		"details":     units,
	})
}

// GetSyncStatus reports the last recorded state of the transaction sync.
func (h *Handler) GetSyncStatus(c *gin.Context) {
	state, err := h.db.GetSyncState(models.SyncKindTransactions)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read sync state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sync state"})
		return
	}
	if state == nil {
		c.JSON(http.StatusOK, gin.H{"status": models.SyncStatusPending})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"last_sync_at":      state.LastRunAt,
		"status":            state.Status,
		"records_processed": state.RecordsProcessed,
		"error_message":     state.ErrorMessage,
	})
}

// GetStatistics serves the per-town aggregates with read-through caching.
// The payload's source field reports whether it came from cache or fresh.
func (h *Handler) GetStatistics(c *gin.Context) {
	town := c.Query("town")
	flatType := c.Query("flat_type")
	key := cache.Key("trend", town, flatType)

	var cached []models.Statistics
	if hit, err := h.cache.GetJSON(c.Request.Context(), key, &cached); err == nil && hit {
		c.JSON(http.StatusOK, gin.H{"source": "cache", "statistics": cached})
		return
	}

	rows, err := h.db.GetStatistics(town, flatType, 200)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get statistics"})
		return
	}

	h.cache.SetJSON(c.Request.Context(), key, rows, cache.TTLTrend)
	c.JSON(http.StatusOK, gin.H{"source": "fresh", "statistics": rows})
}

// GetScores serves the top-ranked unit scores, cached under the score TTL.
func (h *Handler) GetScores(c *gin.Context) {
	town := c.Query("town")
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20
	}

	key := cache.Key("scores", town, strconv.Itoa(limit))
	var cached []models.UnitScore
	if hit, err := h.cache.GetJSON(c.Request.Context(), key, &cached); err == nil && hit {
		c.JSON(http.StatusOK, gin.H{"source": "cache", "scores": cached})
		return
	}

	rows, err := h.db.GetTopScores(town, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get scores")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get scores"})
		return
	}

	h.cache.SetJSON(c.Request.Context(), key, rows, cache.TTLScores)
	c.JSON(http.StatusOK, gin.H{"source": "fresh", "scores": rows})
}

// GetTowns lists the towns present in the imported data.
func (h *Handler) GetTowns(c *gin.Context) {
	towns, err := h.db.GetTowns()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list towns")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list towns"})
		return
	}
	c.JSON(http.StatusOK, towns)
}
