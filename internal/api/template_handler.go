package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvforge/internal/catalog"
)

// TemplateHandler exposes the template catalog to the editor.
type TemplateHandler struct {
	catalog *catalog.Catalog
}

func NewTemplateHandler(c *catalog.Catalog) *TemplateHandler {
	return &TemplateHandler{catalog: c}
}

// List returns every template, free ones first.
func (h *TemplateHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.List())
}

func (h *TemplateHandler) Get(c *gin.Context) {
	tpl, ok := h.catalog.Lookup(c.Param("id"))
	if !ok {
		NotFound(c, "template not found")
		return
	}
	c.JSON(http.StatusOK, tpl)
}
