package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/api/dto"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/dispatch"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
)

// AdmitSearch handles POST /api/v1/searches requests
func (h *SearchHandler) AdmitSearch(c *gin.Context) {
	var req dto.AdmitSearchRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid admit request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.cache.AdmitOrQueue(c.Request.Context(), req.Query)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyQuery):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Query must not be blank"})
		case errors.Is(err, dispatch.ErrQueueFull):
			h.logger.Warn("Admission rejected: submission queue full", slog.String("query", req.Query))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Submission queue is full, retry shortly"})
		default:
			h.logger.Error("Failed to admit search", slog.String("query", req.Query), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to admit search"})
		}
		return
	}

	h.logger.Info("Search admitted",
		slog.String("request_id", result.Entry.RequestID),
		slog.String("status", string(result.Entry.Status)),
		slog.Bool("cached", result.Reused),
	)

	code := http.StatusAccepted
	if result.Reused {
		code = http.StatusOK
	}
	c.JSON(code, dto.AdmitSearchResponse{
		SearchStatusResponse: dto.FromEntry(result.Entry),
		Cached:               result.Reused,
	})
}

// GetSearch handles GET /api/v1/searches/:id requests. The id may be
// either a provider job id or a request id.
func (h *SearchHandler) GetSearch(c *gin.Context) {
	id := c.Param("id")

	entry, err := h.cache.StatusByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Search not found"})
			return
		}
		h.logger.Error("Failed to get search", slog.String("id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get search"})
		return
	}

	c.JSON(http.StatusOK, dto.FromEntry(entry))
}

// GetSearchByQuery handles GET /api/v1/searches?query= requests
func (h *SearchHandler) GetSearchByQuery(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing query parameter"})
		return
	}

	entry, err := h.cache.StatusByQuery(c.Request.Context(), query)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Search not found"})
		case errors.Is(err, domain.ErrEmptyQuery):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Query must not be blank"})
		default:
			h.logger.Error("Failed to get search by query", slog.String("query", query), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get search"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.FromEntry(entry))
}

// PurgeExpired handles POST /api/v1/searches/purge requests
func (h *SearchHandler) PurgeExpired(c *gin.Context) {
	removed, err := h.cache.Purge(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to purge expired entries", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge expired entries"})
		return
	}

	h.logger.Info("Purged expired entries", slog.Int("removed", removed))
	c.JSON(http.StatusOK, dto.PurgeResponse{Removed: removed})
}

// ProviderWebhook handles POST /api/v1/webhooks/provider callbacks.
// The provider is acknowledged as soon as the notification is queued;
// dataset fetching happens on the worker pool.
func (h *SearchHandler) ProviderWebhook(c *gin.Context) {
	if h.webhookToken != "" && c.Query("token") != h.webhookToken {
		h.logger.Warn("Webhook rejected: invalid token", slog.String("remote_addr", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook token"})
		return
	}

	var notification dto.WebhookNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		h.logger.Error("Invalid webhook body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	if notification.JobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobId is required"})
		return
	}

	task := dispatch.Task{
		Kind:           dispatch.TaskIngest,
		JobID:          notification.JobID,
		DatasetID:      notification.DatasetID,
		QueryHint:      notification.QueryHint(),
		ProviderFailed: notification.Failed(),
		FailureReason:  notification.FailureReason(),
	}

	if err := h.dispatch.Enqueue(task); err != nil {
		if errors.Is(err, dispatch.ErrQueueFull) {
			h.logger.Warn("Webhook rejected: ingest queue full", slog.String("job_id", notification.JobID))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ingestion queue is full, retry shortly"})
			return
		}
		h.logger.Error("Failed to queue webhook notification", slog.String("job_id", notification.JobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue notification"})
		return
	}

	h.logger.Info("Webhook notification queued",
		slog.String("job_id", notification.JobID),
		slog.String("event_type", notification.EventType),
		slog.Bool("failed", task.ProviderFailed),
	)

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
