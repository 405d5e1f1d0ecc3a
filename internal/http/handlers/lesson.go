package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursekb/coursekb-backend/internal/http/middleware"
	"github.com/coursekb/coursekb-backend/internal/http/response"
	"github.com/coursekb/coursekb-backend/internal/platform/apierr"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
	"github.com/coursekb/coursekb-backend/internal/services"
)

type LessonHandler struct {
	log              *logger.Logger
	retrievalService services.RetrievalService
}

func NewLessonHandler(log *logger.Logger, retrievalService services.RetrievalService) *LessonHandler {
	return &LessonHandler{
		log:              log.With("handler", "LessonHandler"),
		retrievalService: retrievalService,
	}
}

// GET /api/lessons/:id
func (h *LessonHandler) GetLesson(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, errors.New("missing user identity"))
		return
	}
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInputError, errors.New("lesson id is not valid"))
		return
	}

	lesson, err := h.retrievalService.ReadLesson(c.Request.Context(), lessonID, userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if lesson == nil {
		response.RespondError(c, http.StatusNotFound, apierr.CodeNotFound, errors.New("lesson not found"))
		return
	}
	response.RespondOK(c, lesson)
}
