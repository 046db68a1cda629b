package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	"github.com/noah-isme/syllabus-tracker-api/internal/service"
	appErrors "github.com/noah-isme/syllabus-tracker-api/pkg/errors"
	"github.com/noah-isme/syllabus-tracker-api/pkg/response"
)

type progressService interface {
	Overview(ctx context.Context, userID string) (*service.ProgressOverview, error)
	Subject(ctx context.Context, userID, subjectID string) (*service.SubjectProgressDetail, error)
	SetModule(ctx context.Context, userID, subjectID string, moduleIndex int, completed bool) (*service.SubjectProgressDetail, error)
	SetTopic(ctx context.Context, userID, subjectID string, moduleIndex, topicIndex int, completed bool) (*service.SubjectProgressDetail, error)
	Dashboard(ctx context.Context, userID string, query service.DashboardQuery) (*service.Dashboard, error)
	KPIs(ctx context.Context, userID string) (*models.UserAnalytics, error)
	Export(ctx context.Context, userID, format string) (*service.ExportFile, error)
}

// toggleRequest is the body of module and topic toggles.
type toggleRequest struct {
	Completed *bool `json:"completed" binding:"required"`
}

// ProgressHandler exposes the caller's own progress.
type ProgressHandler struct {
	service progressService
}

// NewProgressHandler constructs the handler.
func NewProgressHandler(svc progressService) *ProgressHandler {
	return &ProgressHandler{service: svc}
}

// Overview godoc
// @Summary Own progress record
// @Description Raw progress record plus the boolean per-module view
// @Tags Progress
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /progress [get]
func (h *ProgressHandler) Overview(c *gin.Context) {
	claims, ok := requireUser(c)
	if !ok {
		return
	}
	overview, err := h.service.Overview(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}

// Dashboard godoc
// @Summary Progress dashboard
// @Description Subjects in scope with progress. Omitting semester applies the saved preference.
// @Tags Progress
// @Produce json
// @Param branch query string false "Branch"
// @Param year query int false "Year"
// @Param semester query string false "Semester number or all"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /progress/dashboard [get]
func (h *ProgressHandler) Dashboard(c *gin.Context) {
	claims, ok := requireUser(c)
	if !ok {
		return
	}
	query, err := parseDashboardQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	start := time.Now()
	dashboard, err := h.service.Dashboard(c.Request.Context(), claims.UserID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil, metaWithTiming(c, start, false))
}

// Subject godoc
// @Summary Subject progress
// @Tags Progress
// @Produce json
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /progress/subjects/{id} [get]
func (h *ProgressHandler) Subject(c *gin.Context) {
	claims, ok := requireUser(c)
	if !ok {
		return
	}
	detail, err := h.service.Subject(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// SetModule godoc
// @Summary Toggle module completion
// @Tags Progress
// @Accept json
// @Produce json
// @Param id path string true "Subject ID"
// @Param index path int true "Module index"
// @Param payload body toggleRequest true "Completion flag"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /progress/subjects/{id}/modules/{index} [put]
func (h *ProgressHandler) SetModule(c *gin.Context) {
	claims, ok := requireUser(c)
	if !ok {
		return
	}
	moduleIndex, ok := indexParam(c, "index")
	if !ok {
		return
	}
	completed, ok := bindToggle(c)
	if !ok {
		return
	}
	detail, err := h.service.SetModule(c.Request.Context(), claims.UserID, c.Param("id"), moduleIndex, completed)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// SetTopic godoc
// @Summary Toggle topic completion
// @Tags Progress
// @Accept json
// @Produce json
// @Param id path string true "Subject ID"
// @Param index path int true "Module index"
// @Param topic path int true "Topic index"
// @Param payload body toggleRequest true "Completion flag"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /progress/subjects/{id}/modules/{index}/topics/{topic} [put]
func (h *ProgressHandler) SetTopic(c *gin.Context) {
	claims, ok := requireUser(c)
	if !ok {
		return
	}
	moduleIndex, ok := indexParam(c, "index")
	if !ok {
		return
	}
	topicIndex, ok := indexParam(c, "topic")
	if !ok {
		return
	}
	completed, ok := bindToggle(c)
	if !ok {
		return
	}
	detail, err := h.service.SetTopic(c.Request.Context(), claims.UserID, c.Param("id"), moduleIndex, topicIndex, completed)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// KPIs godoc
// @Summary Own KPIs
// @Description Per-subject KPI rows with semester and year rollups
// @Tags Progress
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /progress/kpis [get]
func (h *ProgressHandler) KPIs(c *gin.Context) {
	claims, ok := requireUser(c)
	if !ok {
		return
	}
	start := time.Now()
	analytics, err := h.service.KPIs(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, analytics, nil, metaWithTiming(c, start, false))
}

// Export godoc
// @Summary Export own KPIs
// @Tags Progress
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /progress/kpis/export [get]
func (h *ProgressHandler) Export(c *gin.Context) {
	claims, ok := requireUser(c)
	if !ok {
		return
	}
	file, err := h.service.Export(c.Request.Context(), claims.UserID, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func bindToggle(c *gin.Context) (bool, bool) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "completed flag is required"))
		return false, false
	}
	return *req.Completed, true
}

func parseDashboardQuery(c *gin.Context) (service.DashboardQuery, error) {
	query := service.DashboardQuery{Branch: strings.TrimSpace(c.Query("branch"))}
	if raw := strings.TrimSpace(c.Query("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil || year < 1 {
			return query, appErrors.Clone(appErrors.ErrValidation, "year must be a positive integer")
		}
		query.Year = year
	}
	if raw, present := c.GetQuery("semester"); present && strings.TrimSpace(raw) != "" {
		semester, ok := models.ParseSemesterFilter(raw)
		if !ok {
			return query, appErrors.Clone(appErrors.ErrValidation, `semester must be "all" or a positive integer`)
		}
		query.Semester = &semester
	}
	return query, nil
}
