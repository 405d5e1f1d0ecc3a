package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/coursekb/coursekb-backend/internal/data/repos/learning"
	types "github.com/coursekb/coursekb-backend/internal/domain"
	"github.com/coursekb/coursekb-backend/internal/platform/apierr"
	"github.com/coursekb/coursekb-backend/internal/platform/embed"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

type EmbedLessonResult struct {
	LessonID       uuid.UUID `json:"lesson_id"`
	ChunksEmbedded int       `json:"chunks_embedded"`
	ChunksSkipped  int       `json:"chunks_skipped"`
	ChunksFailed   int       `json:"chunks_failed"`
}

type EmbedAllResult struct {
	LessonsProcessed int `json:"lessons_processed"`
	LessonsFailed    int `json:"lessons_failed"`
	ChunksEmbedded   int `json:"chunks_embedded"`
	ChunksFailed     int `json:"chunks_failed"`
}

type EmbeddingStats struct {
	TotalChunks      int64 `json:"total_chunks"`
	EmbeddedChunks   int64 `json:"embedded_chunks"`
	UnembeddedChunks int64 `json:"unembedded_chunks"`
	PercentComplete  int   `json:"percent_complete"`
}

// LessonEmbeddingService fills in chunk vectors. A chunk is written as soon
// as its vector arrives, so a failed sweep leaves completed work in place.
type LessonEmbeddingService interface {
	EmbedChunk(ctx context.Context, chunkID uuid.UUID) error
	EmbedLesson(ctx context.Context, lessonID uuid.UUID) (EmbedLessonResult, error)
	ReEmbedLesson(ctx context.Context, lessonID uuid.UUID) (EmbedLessonResult, error)
	// EmbedAllChunks sweeps every unembedded chunk, lesson by lesson, with
	// at most lessonConcurrency lessons in flight. Lesson-level failures
	// are counted, not fatal.
	EmbedAllChunks(ctx context.Context, lessonConcurrency int) (EmbedAllResult, error)
	// GetEmbeddingStats reports progress; a nil lessonID means corpus-wide.
	GetEmbeddingStats(ctx context.Context, lessonID uuid.UUID) (EmbeddingStats, error)
}

type lessonEmbeddingService struct {
	db        *gorm.DB
	log       *logger.Logger
	embedder  embed.Client
	chunkRepo learning.LessonChunkRepo
	notifier  SweepNotifier
}

func NewLessonEmbeddingService(
	db *gorm.DB,
	log *logger.Logger,
	embedder embed.Client,
	chunkRepo learning.LessonChunkRepo,
	notifier SweepNotifier,
) LessonEmbeddingService {
	if notifier == nil {
		notifier = NewNoopSweepNotifier()
	}
	return &lessonEmbeddingService{
		db:        db,
		log:       log.With("service", "LessonEmbeddingService"),
		embedder:  embedder,
		chunkRepo: chunkRepo,
		notifier:  notifier,
	}
}

// EmbedChunk embeds one chunk. Already-embedded chunks are left untouched.
func (s *lessonEmbeddingService) EmbedChunk(ctx context.Context, chunkID uuid.UUID) error {
	chunk, err := s.chunkRepo.GetByID(ctx, nil, chunkID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apierr.NotFound("chunk %s not found", chunkID)
	}
	if err != nil {
		return err
	}
	if len(chunk.Embedding) > 0 {
		return nil
	}

	vec, err := s.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		return apierr.Provider(err)
	}
	raw, err := types.MarshalEmbedding(vec)
	if err != nil {
		return err
	}
	return s.chunkRepo.UpdateEmbedding(ctx, nil, chunk.ID, raw)
}

func (s *lessonEmbeddingService) EmbedLesson(ctx context.Context, lessonID uuid.UUID) (EmbedLessonResult, error) {
	result := EmbedLessonResult{LessonID: lessonID}

	total, embedded, err := s.chunkRepo.Count(ctx, nil, lessonID)
	if err != nil {
		return result, err
	}
	result.ChunksSkipped = int(embedded)
	if total == 0 {
		return result, apierr.Input("lesson %s has no chunks; chunk it first", lessonID)
	}

	chunks, err := s.chunkRepo.GetUnembedded(ctx, nil, lessonID)
	if err != nil {
		return result, err
	}
	if len(chunks) == 0 {
		return result, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return result, apierr.Provider(err)
	}

	for i, c := range chunks {
		raw, err := types.MarshalEmbedding(vectors[i])
		if err == nil {
			err = s.chunkRepo.UpdateEmbedding(ctx, nil, c.ID, raw)
		}
		if err != nil {
			result.ChunksFailed++
			s.log.Warn("Failed to store chunk embedding", "chunk_id", c.ID, "error", err)
			continue
		}
		result.ChunksEmbedded++
	}
	return result, nil
}

// ReEmbedLesson drops existing vectors first, then embeds everything fresh.
func (s *lessonEmbeddingService) ReEmbedLesson(ctx context.Context, lessonID uuid.UUID) (EmbedLessonResult, error) {
	if err := s.chunkRepo.ClearEmbeddingsByLessonID(ctx, nil, lessonID); err != nil {
		return EmbedLessonResult{LessonID: lessonID}, err
	}
	return s.EmbedLesson(ctx, lessonID)
}

func (s *lessonEmbeddingService) EmbedAllChunks(ctx context.Context, lessonConcurrency int) (EmbedAllResult, error) {
	if lessonConcurrency <= 0 {
		lessonConcurrency = 2
	}

	pending, err := s.chunkRepo.GetUnembedded(ctx, nil, uuid.Nil)
	if err != nil {
		return EmbedAllResult{}, err
	}

	var lessonIDs []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, c := range pending {
		if !seen[c.LessonID] {
			seen[c.LessonID] = true
			lessonIDs = append(lessonIDs, c.LessonID)
		}
	}

	var (
		mu     sync.Mutex
		result EmbedAllResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lessonConcurrency)
	for _, lessonID := range lessonIDs {
		lessonID := lessonID
		g.Go(func() error {
			res, err := s.EmbedLesson(gctx, lessonID)

			mu.Lock()
			if err != nil {
				result.LessonsFailed++
				s.log.Warn("Lesson embedding failed during sweep", "lesson_id", lessonID, "error", err)
			} else {
				result.LessonsProcessed++
			}
			result.ChunksEmbedded += res.ChunksEmbedded
			result.ChunksFailed += res.ChunksFailed
			event := SweepEvent{
				LessonsDone:    result.LessonsProcessed + result.LessonsFailed,
				LessonsTotal:   len(lessonIDs),
				ChunksEmbedded: result.ChunksEmbedded,
				ChunksFailed:   result.ChunksFailed,
				At:             time.Now().UTC(),
			}
			mu.Unlock()

			s.notifier.Publish(gctx, event)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	s.log.Info("Embedding sweep finished",
		"lessons_processed", result.LessonsProcessed,
		"lessons_failed", result.LessonsFailed,
		"chunks_embedded", result.ChunksEmbedded,
		"chunks_failed", result.ChunksFailed,
	)
	return result, nil
}

func (s *lessonEmbeddingService) GetEmbeddingStats(ctx context.Context, lessonID uuid.UUID) (EmbeddingStats, error) {
	total, embedded, err := s.chunkRepo.Count(ctx, nil, lessonID)
	if err != nil {
		return EmbeddingStats{}, err
	}
	stats := EmbeddingStats{
		TotalChunks:      total,
		EmbeddedChunks:   embedded,
		UnembeddedChunks: total - embedded,
	}
	if total > 0 {
		stats.PercentComplete = int(embedded * 100 / total)
	}
	return stats, nil
}
