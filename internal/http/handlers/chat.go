package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coursekb/coursekb-backend/internal/http/middleware"
	"github.com/coursekb/coursekb-backend/internal/http/response"
	"github.com/coursekb/coursekb-backend/internal/platform/apierr"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
	"github.com/coursekb/coursekb-backend/internal/services"
)

type ChatHandler struct {
	log         *logger.Logger
	chatService services.ChatAgentService
}

func NewChatHandler(log *logger.Logger, chatService services.ChatAgentService) *ChatHandler {
	return &ChatHandler{
		log:         log.With("handler", "ChatHandler"),
		chatService: chatService,
	}
}

type chatRequest struct {
	Message string                 `json:"message"`
	History []services.ChatMessage `json:"history"`
}

// POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, errors.New("missing user identity"))
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInputError, err)
		return
	}

	resp, err := h.chatService.Chat(c.Request.Context(), userID, req.Message, req.History)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, resp)
}
