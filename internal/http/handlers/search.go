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

type SearchHandler struct {
	log              *logger.Logger
	retrievalService services.RetrievalService
}

func NewSearchHandler(log *logger.Logger, retrievalService services.RetrievalService) *SearchHandler {
	return &SearchHandler{
		log:              log.With("handler", "SearchHandler"),
		retrievalService: retrievalService,
	}
}

type searchRequest struct {
	Query               string  `json:"query"`
	Limit               int     `json:"limit"`
	SimilarityThreshold float64 `json:"similarityThreshold"`
	CourseID            string  `json:"courseId"`
}

// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, errors.New("missing user identity"))
		return
	}

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInputError, err)
		return
	}

	opts := services.SearchOptions{
		Limit:               req.Limit,
		SimilarityThreshold: req.SimilarityThreshold,
	}
	if req.CourseID != "" {
		courseID, err := uuid.Parse(req.CourseID)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeInputError, errors.New("courseId is not a valid id"))
			return
		}
		opts.CourseID = courseID
	}

	results, err := h.retrievalService.Search(c.Request.Context(), req.Query, userID, opts)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"results": results, "count": len(results)})
}
