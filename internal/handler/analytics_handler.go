package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	"github.com/noah-isme/syllabus-tracker-api/pkg/response"
)

type analyticsService interface {
	Fleet(ctx context.Context) (*models.FleetAnalytics, bool, error)
	Users(ctx context.Context, page, pageSize int) ([]models.UserProgressSummary, *models.Pagination, bool, error)
	User(ctx context.Context, userID string) (*models.UserAnalytics, bool, error)
	SystemMetrics() models.AnalyticsSystemMetrics
}

// AnalyticsHandler exposes the admin progress rollups.
type AnalyticsHandler struct {
	analytics analyticsService
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(analytics analyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Fleet godoc
// @Summary Fleet analytics
// @Description Fleet stats, KRA, yearly and branch groups plus the per-user table
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/analytics [get]
func (h *AnalyticsHandler) Fleet(c *gin.Context) {
	start := time.Now()
	fleet, hit, err := h.analytics.Fleet(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := metaWithTiming(c, start, hit)
	if fleet.FetchFailures > 0 {
		meta["partial"] = true
	}
	response.JSON(c, http.StatusOK, fleet, nil, meta)
}

// Users godoc
// @Summary Paginated user progress table
// @Tags Admin
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/analytics/users [get]
func (h *AnalyticsHandler) Users(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	start := time.Now()
	users, pagination, hit, err := h.analytics.Users(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination, metaWithTiming(c, start, hit))
}

// User godoc
// @Summary User analytics
// @Tags Admin
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/analytics/users/{id} [get]
func (h *AnalyticsHandler) User(c *gin.Context) {
	start := time.Now()
	analytics, hit, err := h.analytics.User(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, analytics, nil, metaWithTiming(c, start, hit))
}

// System godoc
// @Summary Process instrumentation snapshot
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/analytics/system [get]
func (h *AnalyticsHandler) System(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.analytics.SystemMetrics(), nil)
}
