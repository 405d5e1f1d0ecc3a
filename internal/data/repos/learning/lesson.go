package learning

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/coursekb/coursekb-backend/internal/domain"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

// LessonWithContext is a lesson joined with its module and course, used for
// enrollment-checked reads.
type LessonWithContext struct {
	LessonID    uuid.UUID
	LessonTitle string
	Content     string
	ModuleID    uuid.UUID
	ModuleTitle string
	CourseID    uuid.UUID
	CourseTitle string
}

type LessonRepo interface {
	Create(ctx context.Context, tx *gorm.DB, lesson *types.Lesson) (*types.Lesson, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Lesson, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Lesson, error)
	GetAllIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error)
	// GetAuthorized loads a lesson with its hierarchy, only when userID holds
	// a confirmed enrollment in the owning course. Returns (nil, nil) when
	// the lesson does not exist or the user is not enrolled; callers cannot
	// tell the two apart.
	GetAuthorized(ctx context.Context, tx *gorm.DB, lessonID, userID uuid.UUID) (*LessonWithContext, error)
}

type lessonRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLessonRepo(db *gorm.DB, baseLog *logger.Logger) LessonRepo {
	return &lessonRepo{db: db, log: baseLog.With("repo", "LessonRepo")}
}

func (r *lessonRepo) Create(ctx context.Context, tx *gorm.DB, lesson *types.Lesson) (*types.Lesson, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(lesson).Error; err != nil {
		return nil, err
	}
	return lesson, nil
}

func (r *lessonRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Lesson, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var lesson types.Lesson
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&lesson).Error; err != nil {
		return nil, err
	}
	return &lesson, nil
}

func (r *lessonRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Lesson, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Lesson
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *lessonRepo) GetAllIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if err := transaction.WithContext(ctx).
		Model(&types.Lesson{}).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *lessonRepo) GetAuthorized(ctx context.Context, tx *gorm.DB, lessonID, userID uuid.UUID) (*LessonWithContext, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row LessonWithContext
	res := transaction.WithContext(ctx).
		Table("lesson AS l").
		Select(`l.id AS lesson_id, l.title AS lesson_title, l.content AS content,
			m.id AS module_id, m.title AS module_title,
			c.id AS course_id, c.title AS course_title`).
		Joins("JOIN course_module m ON m.id = l.module_id AND m.deleted_at IS NULL").
		Joins("JOIN course c ON c.id = m.course_id AND c.deleted_at IS NULL").
		Joins("JOIN enrollment e ON e.course_id = c.id").
		Where("l.id = ? AND l.deleted_at IS NULL", lessonID).
		Where("e.user_id = ? AND e.status = ?", userID, types.EnrollmentConfirmed).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row, nil
}
