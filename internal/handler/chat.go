package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/open-gamma/backend/internal/model"
	"github.com/open-gamma/backend/internal/service"
	"github.com/sirupsen/logrus"
)

type ChatHandler struct {
	svc *service.ChatService
}

func NewChatHandler(svc *service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

type deltaEvent struct {
	Text string `json:"text"`
}

// Chat godoc
// @Summary Stream a chat completion
// @Description Streams the model response as server-sent events: "delta" events carry text, then one "done" or "error" event.
// @Tags chat
// @Accept json
// @Produce text/event-stream
// @Security SessionCookie
// @Param request body model.ChatRequest true "Conversation so far"
// @Success 200 {string} string "event stream"
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if _, err := h.svc.Validate(req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}

	err := h.svc.Stream(ctx, user.ID, req, func(text string) error {
		start()
		c.SSEvent("delta", deltaEvent{Text: text})
		c.Writer.Flush()
		return ctx.Err()
	})
	if err != nil {
		if !started {
			if errors.Is(err, service.ErrInvalidChatRequest) {
				c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request body"})
				return
			}
			logrus.WithError(err).WithField("user_id", user.ID).Error("Chat request failed")
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Internal Server Error"})
			return
		}
		if ctx.Err() == nil {
			c.SSEvent("error", model.ErrorResponse{Error: "stream interrupted"})
			c.Writer.Flush()
		}
		return
	}

	start()
	c.SSEvent("done", model.StatusResponse{Status: "done"})
	c.Writer.Flush()
}
