// audit.go implements handlers for querying the audit trail and triggering
// on-demand retention cleanup.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
	"github.com/audit-sentinel/audit-sentinel/internal/db/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Cleaner is the retention surface the cleanup endpoint drives.
type Cleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// AuditHandler handles audit trail API requests
type AuditHandler struct {
	repo          *repositories.AuditRepository
	cleaner       Cleaner
	retentionDays int
}

// NewAuditHandler creates a new audit handler. retentionDays is the default
// window used when a cleanup request does not specify one.
func NewAuditHandler(repo *repositories.AuditRepository, cleaner Cleaner, retentionDays int) *AuditHandler {
	return &AuditHandler{
		repo:          repo,
		cleaner:       cleaner,
		retentionDays: retentionDays,
	}
}

// ListResponse is the paginated response for audit queries
type ListResponse struct {
	Entries []*models.AuditEntry `json:"entries"`
	Total   int                  `json:"total"`
	HasMore bool                 `json:"has_more"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// List returns audit entries matching the query filters, newest first.
//
// Query parameters: actor_id, action, target_id, date_from, date_to (RFC3339),
// search (substring match across actor, action, target, and metadata),
// limit (default 50, max 500), offset.
func (h *AuditHandler) List(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, offset, err := parsePagination(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, total, hasMore, err := h.repo.List(c.Request.Context(), filters, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query audit entries"})
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Entries: entries,
		Total:   total,
		HasMore: hasMore,
		Limit:   limit,
		Offset:  offset,
	})
}

// Get returns a single audit entry by ID.
func (h *AuditHandler) Get(c *gin.Context) {
	entry, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repositories.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Audit entry not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit entry"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// Stats returns aggregate counts over a timeframe.
//
// The timeframe query parameter accepts "24h" (default), "7d", or "30d".
func (h *AuditHandler) Stats(c *gin.Context) {
	timeframe := c.DefaultQuery("timeframe", "24h")

	var window time.Duration
	switch timeframe {
	case "24h":
		window = 24 * time.Hour
	case "7d":
		window = 7 * 24 * time.Hour
	case "30d":
		window = 30 * 24 * time.Hour
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timeframe (must be 24h, 7d, or 30d)"})
		return
	}

	stats, err := h.repo.Stats(c.Request.Context(), time.Now().UTC().Add(-window))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to aggregate audit stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"timeframe": timeframe,
		"stats":     stats,
	})
}

// CleanupRequest is the optional body for on-demand retention runs
type CleanupRequest struct {
	RetentionDays int `json:"retention_days"`
}

// Cleanup triggers an immediate retention run. Without a body it uses the
// configured retention window; an explicit retention_days may tighten it.
func (h *AuditHandler) Cleanup(c *gin.Context) {
	days := h.retentionDays

	var req CleanupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.RetentionDays != 0 {
			days = req.RetentionDays
		}
	}

	if days < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "retention_days must be at least 1"})
		return
	}

	deleted, err := h.cleaner.Cleanup(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted":        deleted,
		"retention_days": days,
	})
}

func parseFilters(c *gin.Context) (repositories.AuditFilters, error) {
	var filters repositories.AuditFilters

	if v := c.Query("actor_id"); v != "" {
		filters.ActorID = &v
	}
	if v := c.Query("action"); v != "" {
		action := models.Action(v)
		if !action.Valid() {
			return filters, errors.New("unknown action: " + v)
		}
		filters.Action = &action
	}
	if v := c.Query("target_id"); v != "" {
		filters.TargetID = &v
	}
	if v := c.Query("date_from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errors.New("date_from must be RFC3339")
		}
		filters.DateFrom = &ts
	}
	if v := c.Query("date_to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errors.New("date_to must be RFC3339")
		}
		filters.DateTo = &ts
	}
	if v := c.Query("search"); v != "" {
		filters.SearchTerm = &v
	}

	return filters, nil
}

func parsePagination(c *gin.Context) (limit, offset int, err error) {
	limit = defaultPageSize
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}

	if v := c.Query("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}

	return limit, offset, nil
}
