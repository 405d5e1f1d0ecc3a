package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/coursekb/coursekb-backend/internal/domain"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:       uuid.New(),
		Email:    email,
		Password: "pw",
		FullName: "Test User",
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedCourse(tb testing.TB, ctx context.Context, tx *gorm.DB, title string) *types.Course {
	tb.Helper()
	c := &types.Course{
		ID:    uuid.New(),
		Title: title,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed course: %v", err)
	}
	return c
}

func SeedModule(tb testing.TB, ctx context.Context, tx *gorm.DB, courseID uuid.UUID, title string) *types.CourseModule {
	tb.Helper()
	m := &types.CourseModule{
		ID:       uuid.New(),
		CourseID: courseID,
		Title:    title,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed module: %v", err)
	}
	return m
}

func SeedLesson(tb testing.TB, ctx context.Context, tx *gorm.DB, moduleID uuid.UUID, title, content string) *types.Lesson {
	tb.Helper()
	l := &types.Lesson{
		ID:       uuid.New(),
		ModuleID: moduleID,
		Title:    title,
		Content:  content,
	}
	if err := tx.WithContext(ctx).Create(l).Error; err != nil {
		tb.Fatalf("seed lesson: %v", err)
	}
	return l
}

func SeedChunk(tb testing.TB, ctx context.Context, tx *gorm.DB, lessonID uuid.UUID, index int, content string, embedding []float32) *types.LessonChunk {
	tb.Helper()
	c := &types.LessonChunk{
		ID:         uuid.New(),
		LessonID:   lessonID,
		ChunkIndex: index,
		Content:    content,
	}
	if embedding != nil {
		raw, err := types.MarshalEmbedding(embedding)
		if err != nil {
			tb.Fatalf("marshal embedding: %v", err)
		}
		c.Embedding = raw
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chunk: %v", err)
	}
	return c
}

func SeedEnrollment(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID, status string) *types.Enrollment {
	tb.Helper()
	e := &types.Enrollment{
		ID:       uuid.New(),
		UserID:   userID,
		CourseID: courseID,
		Status:   status,
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed enrollment: %v", err)
	}
	return e
}

// SeedHierarchy creates user -> course -> module -> lesson with a confirmed
// enrollment, the common starting point for retrieval tests.
func SeedHierarchy(tb testing.TB, ctx context.Context, tx *gorm.DB, lessonContent string) (*types.User, *types.Course, *types.CourseModule, *types.Lesson) {
	tb.Helper()
	u := SeedUser(tb, ctx, tx, "student@example.com")
	c := SeedCourse(tb, ctx, tx, "Networking 101")
	m := SeedModule(tb, ctx, tx, c.ID, "Module 1")
	l := SeedLesson(tb, ctx, tx, m.ID, "Lesson 1", lessonContent)
	SeedEnrollment(tb, ctx, tx, u.ID, c.ID, types.EnrollmentConfirmed)
	return u, c, m, l
}
