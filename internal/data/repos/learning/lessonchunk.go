package learning

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/coursekb/coursekb-backend/internal/domain"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

// ChunkHit is a chunk row joined with its lesson, module and course, as
// loaded for similarity scoring.
type ChunkHit struct {
	ChunkID      uuid.UUID
	ChunkContent string
	ChunkIndex   int
	Embedding    datatypes.JSON
	LessonID     uuid.UUID
	LessonTitle  string
	ModuleID     uuid.UUID
	ModuleTitle  string
	CourseID     uuid.UUID
	CourseTitle  string
}

type LessonChunkRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chunks []*types.LessonChunk) ([]*types.LessonChunk, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LessonChunk, error)
	GetByLessonID(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID) ([]*types.LessonChunk, error)
	GetUnembedded(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID) ([]*types.LessonChunk, error)
	DeleteByLessonID(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID) (int64, error)
	ClearEmbeddingsByLessonID(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID) error
	UpdateEmbedding(ctx context.Context, tx *gorm.DB, id uuid.UUID, embedding datatypes.JSON) error
	Count(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID) (total int64, embedded int64, err error)
	GetEmbeddedByCourseIDs(ctx context.Context, tx *gorm.DB, courseIDs []uuid.UUID, limit, offset int) ([]*ChunkHit, error)
}

type lessonChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLessonChunkRepo(db *gorm.DB, baseLog *logger.Logger) LessonChunkRepo {
	return &lessonChunkRepo{db: db, log: baseLog.With("repo", "LessonChunkRepo")}
}

func (r *lessonChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.LessonChunk) ([]*types.LessonChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.LessonChunk{}, nil
	}

	// Keep batches small because Content is large
	const batchSize = 100

	if err := transaction.WithContext(ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *lessonChunkRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LessonChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var chunk types.LessonChunk
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&chunk).Error; err != nil {
		return nil, err
	}
	return &chunk, nil
}

func (r *lessonChunkRepo) GetByLessonID(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID) ([]*types.LessonChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.LessonChunk
	if err := transaction.WithContext(ctx).
		Where("lesson_id = ?", lessonID).
		Order("chunk_index ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetUnembedded returns chunks without a stored vector. A nil lessonID
// returns them corpus-wide, ordered by lesson for grouped processing.
func (r *lessonChunkRepo) GetUnembedded(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID) ([]*types.LessonChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Where("embedding IS NULL")
	if lessonID != uuid.Nil {
		q = q.Where("lesson_id = ?", lessonID).Order("chunk_index ASC")
	} else {
		q = q.Order("lesson_id, chunk_index ASC")
	}
	var results []*types.LessonChunk
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *lessonChunkRepo) DeleteByLessonID(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("lesson_id = ?", lessonID).
		Delete(&types.LessonChunk{})
	return res.RowsAffected, res.Error
}

func (r *lessonChunkRepo) ClearEmbeddingsByLessonID(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.LessonChunk{}).
		Where("lesson_id = ?", lessonID).
		Updates(map[string]interface{}{
			"embedding":  nil,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *lessonChunkRepo) UpdateEmbedding(ctx context.Context, tx *gorm.DB, id uuid.UUID, embedding datatypes.JSON) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.LessonChunk{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"embedding":  embedding,
			"updated_at": time.Now().UTC(),
		}).Error
}

// Count reports total and embedded chunk counts, lesson-scoped when lessonID
// is non-nil, corpus-wide otherwise.
func (r *lessonChunkRepo) Count(ctx context.Context, tx *gorm.DB, lessonID uuid.UUID) (int64, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	base := transaction.WithContext(ctx).Model(&types.LessonChunk{})
	if lessonID != uuid.Nil {
		base = base.Where("lesson_id = ?", lessonID)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	var embedded int64
	if err := base.Session(&gorm.Session{}).Where("embedding IS NOT NULL").Count(&embedded).Error; err != nil {
		return 0, 0, err
	}
	return total, embedded, nil
}

// GetEmbeddedByCourseIDs loads candidate chunks for similarity scoring:
// embedded chunks whose course is in courseIDs, joined with lesson, module
// and course titles. Rows come back in a stable (lesson_id, chunk_index)
// order so callers can page through the full candidate set with
// limit/offset. Scoring happens in the service layer.
func (r *lessonChunkRepo) GetEmbeddedByCourseIDs(ctx context.Context, tx *gorm.DB, courseIDs []uuid.UUID, limit, offset int) ([]*ChunkHit, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var hits []*ChunkHit
	if len(courseIDs) == 0 {
		return hits, nil
	}
	q := transaction.WithContext(ctx).
		Table("lesson_chunk AS lc").
		Select(`lc.id AS chunk_id, lc.content AS chunk_content, lc.chunk_index AS chunk_index, lc.embedding AS embedding,
			l.id AS lesson_id, l.title AS lesson_title,
			m.id AS module_id, m.title AS module_title,
			c.id AS course_id, c.title AS course_title`).
		Joins("JOIN lesson l ON l.id = lc.lesson_id AND l.deleted_at IS NULL").
		Joins("JOIN course_module m ON m.id = l.module_id AND m.deleted_at IS NULL").
		Joins("JOIN course c ON c.id = m.course_id AND c.deleted_at IS NULL").
		Where("c.id IN ?", courseIDs).
		Where("lc.embedding IS NOT NULL").
		Order("lc.lesson_id, lc.chunk_index ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Scan(&hits).Error; err != nil {
		return nil, err
	}
	return hits, nil
}
