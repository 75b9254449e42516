package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/checkride-sync/internal/dto"
	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
	"github.com/noah-isme/checkride-sync/pkg/response"
)

type templateCatalog interface {
	Version() string
	Template(id string) (models.Template, bool)
	TemplateByLegacyID(legacyID string) (models.Template, bool)
	Templates() []models.Template
	ByCategory(category models.Category) []models.Template
}

// TemplateHandler exposes the bundled template library.
type TemplateHandler struct {
	catalog templateCatalog
}

// NewTemplateHandler builds a new handler.
func NewTemplateHandler(catalog templateCatalog) *TemplateHandler {
	return &TemplateHandler{catalog: catalog}
}

// List godoc
// @Summary List templates
// @Tags Templates
// @Produce json
// @Param category query string false "Category or synonym (PPL, instrument, cpl, review...)"
// @Success 200 {object} response.Envelope
// @Router /templates [get]
func (h *TemplateHandler) List(c *gin.Context) {
	var templates []models.Template
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		templates = h.catalog.ByCategory(models.NormalizeCategory(category))
	} else {
		templates = h.catalog.Templates()
	}
	items := make([]dto.TemplateSummary, 0, len(templates))
	for _, tpl := range templates {
		items = append(items, dto.TemplateSummary{
			ID:        tpl.ID,
			LegacyID:  tpl.LegacyID,
			Name:      tpl.Name,
			Category:  string(tpl.Category),
			Phase:     tpl.Phase,
			ItemCount: len(tpl.Items),
		})
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"libraryVersion": h.catalog.Version(), "total": len(items)})
}

// Get godoc
// @Summary Get a template with its items
// @Tags Templates
// @Produce json
// @Param id path string true "Template ID or legacy identifier"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /templates/{id} [get]
func (h *TemplateHandler) Get(c *gin.Context) {
	id := c.Param("id")
	tpl, ok := h.catalog.Template(id)
	if !ok {
		tpl, ok = h.catalog.TemplateByLegacyID(id)
	}
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "template not found"))
		return
	}
	response.JSON(c, http.StatusOK, tpl)
}
