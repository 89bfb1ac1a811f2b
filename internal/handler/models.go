package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/open-gamma/backend/internal/model"
	"github.com/open-gamma/backend/internal/service"
)

// ListModels godoc
// @Summary List selectable chat models
// @Tags chat
// @Produce json
// @Success 200 {object} model.ModelListResponse
// @Router /api/v1/models [get]
func ListModels(chat *service.ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, model.ModelListResponse{
			Models:  service.AvailableModels,
			Default: chat.DefaultModel(),
		})
	}
}
