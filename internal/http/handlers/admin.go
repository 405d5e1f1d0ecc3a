package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursekb/coursekb-backend/internal/http/response"
	"github.com/coursekb/coursekb-backend/internal/ingestion/chunker"
	"github.com/coursekb/coursekb-backend/internal/platform/apierr"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
	"github.com/coursekb/coursekb-backend/internal/services"
)

// AdminHandler exposes the ingestion side: chunking lessons and filling in
// embeddings. These endpoints sit behind the admin role.
type AdminHandler struct {
	log              *logger.Logger
	chunkingService  services.LessonChunkingService
	embeddingService services.LessonEmbeddingService
	sweepConcurrency int
}

func NewAdminHandler(
	log *logger.Logger,
	chunkingService services.LessonChunkingService,
	embeddingService services.LessonEmbeddingService,
	sweepConcurrency int,
) *AdminHandler {
	return &AdminHandler{
		log:              log.With("handler", "AdminHandler"),
		chunkingService:  chunkingService,
		embeddingService: embeddingService,
		sweepConcurrency: sweepConcurrency,
	}
}

type chunkRequest struct {
	TargetSize int `json:"targetSize"`
	Overlap    int `json:"overlap"`
	MinSize    int `json:"minSize"`
	MaxSize    int `json:"maxSize"`
}

func (r chunkRequest) options() chunker.Options {
	return chunker.Options{
		TargetSize: r.TargetSize,
		Overlap:    r.Overlap,
		MinSize:    r.MinSize,
		MaxSize:    r.MaxSize,
	}
}

// POST /api/admin/lessons/:id/chunk
func (h *AdminHandler) ChunkLesson(c *gin.Context) {
	lessonID, ok := parseLessonID(c)
	if !ok {
		return
	}
	var req chunkRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeInputError, err)
			return
		}
	}

	res, err := h.chunkingService.ChunkLesson(c.Request.Context(), lessonID, req.options())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/admin/lessons/chunk-all
func (h *AdminHandler) ChunkAllLessons(c *gin.Context) {
	var req chunkRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeInputError, err)
			return
		}
	}

	res, err := h.chunkingService.ChunkAllLessons(c.Request.Context(), req.options())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/admin/lessons/:id/chunks
func (h *AdminHandler) GetLessonChunks(c *gin.Context) {
	lessonID, ok := parseLessonID(c)
	if !ok {
		return
	}
	chunks, err := h.chunkingService.GetLessonChunks(c.Request.Context(), lessonID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chunks": chunks, "count": len(chunks)})
}

// POST /api/admin/lessons/:id/embed
func (h *AdminHandler) EmbedLesson(c *gin.Context) {
	lessonID, ok := parseLessonID(c)
	if !ok {
		return
	}
	res, err := h.embeddingService.EmbedLesson(c.Request.Context(), lessonID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/admin/lessons/:id/reembed
func (h *AdminHandler) ReEmbedLesson(c *gin.Context) {
	lessonID, ok := parseLessonID(c)
	if !ok {
		return
	}
	res, err := h.embeddingService.ReEmbedLesson(c.Request.Context(), lessonID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/admin/embeddings/sweep
// The sweep outlives the request; progress is visible via stats, logs and
// the sweep event channel.
func (h *AdminHandler) EmbedSweep(c *gin.Context) {
	go func() {
		if _, err := h.embeddingService.EmbedAllChunks(context.Background(), h.sweepConcurrency); err != nil {
			h.log.Error("Embedding sweep failed", "error", err)
		}
	}()
	response.RespondAccepted(c, gin.H{"status": "processing"})
}

// GET /api/admin/embeddings/stats?lesson_id=...
func (h *AdminHandler) EmbeddingStats(c *gin.Context) {
	lessonID := uuid.Nil
	if raw := c.Query("lesson_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeInputError, errors.New("lesson_id is not valid"))
			return
		}
		lessonID = id
	}

	stats, err := h.embeddingService.GetEmbeddingStats(c.Request.Context(), lessonID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, stats)
}

func parseLessonID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInputError, errors.New("lesson id is not valid"))
		return uuid.Nil, false
	}
	return id, true
}
