package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/open-gamma/backend/internal/model"
	"github.com/open-gamma/backend/internal/service"
	"github.com/sirupsen/logrus"
)

type ChatsHandler struct {
	svc *service.ChatHistoryService
}

func NewChatsHandler(svc *service.ChatHistoryService) *ChatsHandler {
	return &ChatsHandler{svc: svc}
}

// GetChats godoc
// @Summary List chats
// @Description Returns the caller's chats, most recently updated first.
// @Tags chats
// @Produce json
// @Security SessionCookie
// @Success 200 {object} model.ChatListResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/chats [get]
func (h *ChatsHandler) GetChats(c *gin.Context) {
	user := GetAuthUser(c)
	chats, err := h.svc.List(c.Request.Context(), user.ID)
	if err != nil {
		writeChatsError(c, err, "Failed to fetch chats")
		return
	}
	c.JSON(http.StatusOK, model.ChatListResponse{Chats: chats})
}

// CreateChat godoc
// @Summary Create a chat
// @Tags chats
// @Accept json
// @Produce json
// @Security SessionCookie
// @Param request body model.CreateChatRequest false "Title and model"
// @Success 201 {object} model.ChatEnvelope
// @Failure 401 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/chats [post]
func (h *ChatsHandler) CreateChat(c *gin.Context) {
	user := GetAuthUser(c)

	var req model.CreateChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request"})
			return
		}
	}

	chat, err := h.svc.Create(c.Request.Context(), user.ID, req)
	if err != nil {
		writeChatsError(c, err, "Failed to create chat")
		return
	}
	c.JSON(http.StatusCreated, model.ChatEnvelope{Chat: chat})
}

// GetChat godoc
// @Summary Get a chat with its messages
// @Tags chats
// @Produce json
// @Security SessionCookie
// @Param id path string true "Chat ID"
// @Success 200 {object} model.ChatDetailEnvelope
// @Failure 401 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/chats/{id} [get]
func (h *ChatsHandler) GetChat(c *gin.Context) {
	user := GetAuthUser(c)
	chat, err := h.svc.Get(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		writeChatsError(c, err, "Failed to fetch chat")
		return
	}
	c.JSON(http.StatusOK, model.ChatDetailEnvelope{Chat: chat})
}

// UpdateChat godoc
// @Summary Update chat title or model
// @Tags chats
// @Accept json
// @Produce json
// @Security SessionCookie
// @Param id path string true "Chat ID"
// @Param request body model.UpdateChatRequest true "Fields to change"
// @Success 200 {object} model.ChatEnvelope
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/chats/{id} [put]
func (h *ChatsHandler) UpdateChat(c *gin.Context) {
	user := GetAuthUser(c)

	var req model.UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request"})
		return
	}

	chat, err := h.svc.Update(c.Request.Context(), user.ID, c.Param("id"), req)
	if err != nil {
		writeChatsError(c, err, "Failed to update chat")
		return
	}
	c.JSON(http.StatusOK, model.ChatEnvelope{Chat: chat})
}

// DeleteChat godoc
// @Summary Delete a chat
// @Tags chats
// @Produce json
// @Security SessionCookie
// @Param id path string true "Chat ID"
// @Success 200 {object} model.SuccessResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/chats/{id} [delete]
func (h *ChatsHandler) DeleteChat(c *gin.Context) {
	user := GetAuthUser(c)
	if err := h.svc.Delete(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		writeChatsError(c, err, "Failed to delete chat")
		return
	}
	c.JSON(http.StatusOK, model.SuccessResponse{Success: true})
}

// SaveMessages godoc
// @Summary Replace chat messages
// @Description Replaces the stored transcript. A chat still titled "New Chat" is renamed after the first user message.
// @Tags chats
// @Accept json
// @Produce json
// @Security SessionCookie
// @Param id path string true "Chat ID"
// @Param request body model.SaveMessagesRequest true "Full transcript"
// @Success 200 {object} model.SaveMessagesResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/chats/{id}/messages [post]
func (h *ChatsHandler) SaveMessages(c *gin.Context) {
	user := GetAuthUser(c)

	var req model.SaveMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Messages array is required"})
		return
	}

	res, err := h.svc.SaveMessages(c.Request.Context(), user.ID, c.Param("id"), req.Messages)
	if err != nil {
		writeChatsError(c, err, "Failed to save messages")
		return
	}
	c.JSON(http.StatusOK, res)
}

func writeChatsError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrChatNotFound):
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "Chat not found"})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Messages array is required"})
	default:
		logrus.WithError(err).Error(fallback)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: fallback})
	}
}
