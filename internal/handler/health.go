package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health godoc
// @Summary      Health check
// @Description  Reports liveness and which backends are wired
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{
		"status": "healthy",
		"ml":     h.trainer != nil,
		"cache":  h.weights != nil,
	}
	if h.holder != nil {
		if ens, version := h.holder.Load(); ens != nil {
			body["ensemble"] = gin.H{"mode": ens.Mode(), "version": version}
		}
	}
	c.JSON(http.StatusOK, body)
}
