package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/coursekb/coursekb-backend/internal/data/repos/learning"
	types "github.com/coursekb/coursekb-backend/internal/domain"
	"github.com/coursekb/coursekb-backend/internal/ingestion/chunker"
	"github.com/coursekb/coursekb-backend/internal/platform/apierr"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

type ChunkLessonResult struct {
	LessonID      uuid.UUID `json:"lesson_id"`
	ChunksCreated int       `json:"chunks_created"`
	ChunksDeleted int       `json:"chunks_deleted"`
	Error         string    `json:"error,omitempty"`
}

type ChunkAllResult struct {
	TotalLessons  int                 `json:"total_lessons"`
	Succeeded     int                 `json:"succeeded"`
	Failed        int                 `json:"failed"`
	ChunksCreated int                 `json:"chunks_created"`
	Results       []ChunkLessonResult `json:"results"`
}

// LessonChunkingService turns lesson content into stored chunks. Chunking a
// lesson replaces its previous chunks atomically; readers never observe a
// half-replaced lesson.
type LessonChunkingService interface {
	ChunkLesson(ctx context.Context, lessonID uuid.UUID, opts chunker.Options) (ChunkLessonResult, error)
	ChunkLessons(ctx context.Context, lessonIDs []uuid.UUID, opts chunker.Options) []ChunkLessonResult
	ChunkAllLessons(ctx context.Context, opts chunker.Options) (ChunkAllResult, error)
	IsLessonChunked(ctx context.Context, lessonID uuid.UUID) (bool, error)
	GetLessonChunks(ctx context.Context, lessonID uuid.UUID) ([]*types.LessonChunk, error)
}

type lessonChunkingService struct {
	db         *gorm.DB
	log        *logger.Logger
	lessonRepo learning.LessonRepo
	chunkRepo  learning.LessonChunkRepo
}

func NewLessonChunkingService(
	db *gorm.DB,
	log *logger.Logger,
	lessonRepo learning.LessonRepo,
	chunkRepo learning.LessonChunkRepo,
) LessonChunkingService {
	return &lessonChunkingService{
		db:         db,
		log:        log.With("service", "LessonChunkingService"),
		lessonRepo: lessonRepo,
		chunkRepo:  chunkRepo,
	}
}

func (s *lessonChunkingService) ChunkLesson(ctx context.Context, lessonID uuid.UUID, opts chunker.Options) (ChunkLessonResult, error) {
	result := ChunkLessonResult{LessonID: lessonID}

	lesson, err := s.lessonRepo.GetByID(ctx, nil, lessonID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return result, apierr.NotFound("lesson %s not found", lessonID)
	}
	if err != nil {
		return result, err
	}
	if strings.TrimSpace(lesson.Content) == "" {
		return result, apierr.Input("lesson %s has no content to chunk", lessonID)
	}

	pieces := chunker.Split(lesson.Content, opts)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted, err := s.chunkRepo.DeleteByLessonID(ctx, tx, lessonID)
		if err != nil {
			return err
		}
		result.ChunksDeleted = int(deleted)

		rows := make([]*types.LessonChunk, len(pieces))
		for i, p := range pieces {
			rows[i] = &types.LessonChunk{
				LessonID:   lessonID,
				Content:    p.Content,
				ChunkIndex: p.Index,
			}
		}
		if _, err := s.chunkRepo.Create(ctx, tx, rows); err != nil {
			if isUniqueViolation(err) {
				return apierr.New(409, "conflict", errors.New("chunk replacement raced with another writer"))
			}
			return err
		}
		result.ChunksCreated = len(rows)
		return nil
	})
	if err != nil {
		return ChunkLessonResult{LessonID: lessonID}, err
	}

	s.log.Info("Chunked lesson",
		"lesson_id", lessonID.String(),
		"chunks_created", result.ChunksCreated,
		"chunks_deleted", result.ChunksDeleted,
	)
	return result, nil
}

// ChunkLessons chunks each lesson independently; one failure does not stop
// the rest.
func (s *lessonChunkingService) ChunkLessons(ctx context.Context, lessonIDs []uuid.UUID, opts chunker.Options) []ChunkLessonResult {
	results := make([]ChunkLessonResult, 0, len(lessonIDs))
	for _, id := range lessonIDs {
		res, err := s.ChunkLesson(ctx, id, opts)
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

func (s *lessonChunkingService) ChunkAllLessons(ctx context.Context, opts chunker.Options) (ChunkAllResult, error) {
	ids, err := s.lessonRepo.GetAllIDs(ctx, nil)
	if err != nil {
		return ChunkAllResult{}, err
	}

	out := ChunkAllResult{
		TotalLessons: len(ids),
		Results:      s.ChunkLessons(ctx, ids, opts),
	}
	for _, r := range out.Results {
		if r.Error != "" {
			out.Failed++
			continue
		}
		out.Succeeded++
		out.ChunksCreated += r.ChunksCreated
	}
	return out, nil
}

func (s *lessonChunkingService) IsLessonChunked(ctx context.Context, lessonID uuid.UUID) (bool, error) {
	total, _, err := s.chunkRepo.Count(ctx, nil, lessonID)
	if err != nil {
		return false, err
	}
	return total > 0, nil
}

func (s *lessonChunkingService) GetLessonChunks(ctx context.Context, lessonID uuid.UUID) ([]*types.LessonChunk, error) {
	return s.chunkRepo.GetByLessonID(ctx, nil, lessonID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
