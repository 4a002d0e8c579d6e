package catalog

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/categories", h.ListCategories)
}

// GET /categories
func (h *Handler) ListCategories(c *gin.Context) {
	items, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		log.Printf("[ERROR] catalog.stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "INTERNAL", "message": "store read failed"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}
