package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	"github.com/noah-isme/syllabus-tracker-api/internal/service"
	appErrors "github.com/noah-isme/syllabus-tracker-api/pkg/errors"
	"github.com/noah-isme/syllabus-tracker-api/pkg/response"
)

type catalogService interface {
	Tree(ctx context.Context) (models.CatalogTree, bool, error)
	Subject(ctx context.Context, id string) (*models.Subject, error)
	Import(ctx context.Context, tree models.CatalogTree) (*service.CatalogImportSummary, error)
}

// CatalogHandler serves the syllabus catalog.
type CatalogHandler struct {
	service catalogService
}

// NewCatalogHandler constructs the handler.
func NewCatalogHandler(svc catalogService) *CatalogHandler {
	return &CatalogHandler{service: svc}
}

// Tree godoc
// @Summary Catalog tree
// @Description Branch, year, semester and subject hierarchy
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /catalog/tree [get]
func (h *CatalogHandler) Tree(c *gin.Context) {
	start := time.Now()
	tree, hit, err := h.service.Tree(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tree, nil, metaWithTiming(c, start, hit))
}

// Subject godoc
// @Summary Catalog subject
// @Tags Catalog
// @Produce json
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /catalog/subjects/{id} [get]
func (h *CatalogHandler) Subject(c *gin.Context) {
	subject, err := h.service.Subject(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subject, nil)
}

// Import godoc
// @Summary Import catalog
// @Description Validates and upserts a full catalog tree
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body models.CatalogTree true "Catalog tree"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/catalog [post]
func (h *CatalogHandler) Import(c *gin.Context) {
	var tree models.CatalogTree
	if err := c.ShouldBindJSON(&tree); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid catalog payload"))
		return
	}
	summary, err := h.service.Import(c.Request.Context(), tree)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
