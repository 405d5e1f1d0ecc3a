package learning

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/coursekb/coursekb-backend/internal/data/repos/testutil"
	types "github.com/coursekb/coursekb-backend/internal/domain"
)

func TestLessonChunkRepoCreateAndGet(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonChunkRepo(db, testutil.Logger(t))

	_, _, _, lesson := testutil.SeedHierarchy(t, ctx, db, "body")

	chunks := []*types.LessonChunk{
		{LessonID: lesson.ID, ChunkIndex: 1, Content: "second"},
		{LessonID: lesson.ID, ChunkIndex: 0, Content: "first"},
	}
	if _, err := repo.Create(ctx, nil, chunks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.GetByLessonID(ctx, nil, lesson.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Content != "first" || got[1].Content != "second" {
		t.Fatalf("chunks not ordered by index: %+v", got)
	}

	single, err := repo.GetByID(ctx, nil, got[0].ID)
	if err != nil || single.Content != "first" {
		t.Fatalf("GetByID failed: (%+v, %v)", single, err)
	}
}

func TestLessonChunkRepoCreateEmpty(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonChunkRepo(db, testutil.Logger(t))

	got, err := repo.Create(ctx, nil, nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty create should be a no-op, got (%v, %v)", got, err)
	}
}

func TestLessonChunkRepoUniqueIndex(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonChunkRepo(db, testutil.Logger(t))

	_, _, _, lesson := testutil.SeedHierarchy(t, ctx, db, "body")
	testutil.SeedChunk(t, ctx, db, lesson.ID, 0, "first", nil)

	_, err := repo.Create(ctx, nil, []*types.LessonChunk{
		{LessonID: lesson.ID, ChunkIndex: 0, Content: "duplicate"},
	})
	if err == nil {
		t.Fatal("expected unique index violation on duplicate (lesson, index)")
	}
}

func TestLessonChunkRepoGetUnembedded(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonChunkRepo(db, testutil.Logger(t))

	_, _, module, lessonA := testutil.SeedHierarchy(t, ctx, db, "body")
	lessonB := testutil.SeedLesson(t, ctx, db, module.ID, "Lesson 2", "body")

	testutil.SeedChunk(t, ctx, db, lessonA.ID, 0, "a0", []float32{1, 2})
	testutil.SeedChunk(t, ctx, db, lessonA.ID, 1, "a1", nil)
	testutil.SeedChunk(t, ctx, db, lessonB.ID, 0, "b0", nil)

	scoped, err := repo.GetUnembedded(ctx, nil, lessonA.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Content != "a1" {
		t.Fatalf("unexpected scoped result: %+v", scoped)
	}

	all, err := repo.GetUnembedded(ctx, nil, uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 unembedded chunks corpus-wide, got %d", len(all))
	}
}

func TestLessonChunkRepoDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonChunkRepo(db, testutil.Logger(t))

	_, _, _, lesson := testutil.SeedHierarchy(t, ctx, db, "body")
	testutil.SeedChunk(t, ctx, db, lesson.ID, 0, "c0", []float32{1})
	testutil.SeedChunk(t, ctx, db, lesson.ID, 1, "c1", []float32{2})

	if err := repo.ClearEmbeddingsByLessonID(ctx, nil, lesson.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total, embedded, err := repo.Count(ctx, nil, lesson.ID)
	if err != nil || total != 2 || embedded != 0 {
		t.Fatalf("clear left counts (%d, %d, %v)", total, embedded, err)
	}

	deleted, err := repo.DeleteByLessonID(ctx, nil, lesson.ID)
	if err != nil || deleted != 2 {
		t.Fatalf("expected 2 deleted, got (%d, %v)", deleted, err)
	}
}

func TestLessonChunkRepoUpdateEmbedding(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonChunkRepo(db, testutil.Logger(t))

	_, _, _, lesson := testutil.SeedHierarchy(t, ctx, db, "body")
	chunk := testutil.SeedChunk(t, ctx, db, lesson.ID, 0, "c0", nil)

	raw, err := types.MarshalEmbedding([]float32{0.5, 0.25})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.UpdateEmbedding(ctx, nil, chunk.ID, raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := repo.GetByID(ctx, nil, chunk.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vec, err := types.ParseEmbedding(stored.Embedding)
	if err != nil || len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("embedding round trip failed: (%v, %v)", vec, err)
	}
}

func TestLessonChunkRepoGetEmbeddedByCourseIDs(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonChunkRepo(db, testutil.Logger(t))

	_, course, _, lesson := testutil.SeedHierarchy(t, ctx, db, "body")
	testutil.SeedChunk(t, ctx, db, lesson.ID, 0, "embedded", []float32{1})
	testutil.SeedChunk(t, ctx, db, lesson.ID, 1, "pending", nil)

	otherCourse := testutil.SeedCourse(t, ctx, db, "Databases 201")
	otherModule := testutil.SeedModule(t, ctx, db, otherCourse.ID, "Module 1")
	otherLesson := testutil.SeedLesson(t, ctx, db, otherModule.ID, "Lesson 1", "body")
	testutil.SeedChunk(t, ctx, db, otherLesson.ID, 0, "other course", []float32{1})

	hits, err := repo.GetEmbeddedByCourseIDs(ctx, nil, []uuid.UUID{course.ID}, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	hit := hits[0]
	if hit.ChunkContent != "embedded" || hit.LessonTitle != "Lesson 1" || hit.CourseTitle != "Networking 101" {
		t.Fatalf("join columns wrong: %+v", hit)
	}
}

func TestLessonChunkRepoGetEmbeddedByCourseIDsPaging(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonChunkRepo(db, testutil.Logger(t))

	_, course, _, lesson := testutil.SeedHierarchy(t, ctx, db, "body")
	for i := 0; i < 5; i++ {
		testutil.SeedChunk(t, ctx, db, lesson.ID, i, fmt.Sprintf("chunk %d", i), []float32{1})
	}

	var seen []int
	for offset := 0; ; offset += 2 {
		hits, err := repo.GetEmbeddedByCourseIDs(ctx, nil, []uuid.UUID{course.ID}, 2, offset)
		if err != nil {
			t.Fatalf("unexpected error at offset %d: %v", offset, err)
		}
		for _, h := range hits {
			seen = append(seen, h.ChunkIndex)
		}
		if len(hits) < 2 {
			break
		}
	}
	if len(seen) != 5 {
		t.Fatalf("paging missed rows: got indices %v", seen)
	}
	for i, idx := range seen {
		if idx != i {
			t.Fatalf("pages out of order: got indices %v", seen)
		}
	}
}

func TestLessonChunkRepoExcludesSoftDeletedLessons(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonChunkRepo(db, testutil.Logger(t))

	_, course, _, lesson := testutil.SeedHierarchy(t, ctx, db, "body")
	testutil.SeedChunk(t, ctx, db, lesson.ID, 0, "embedded", []float32{1})

	if err := db.WithContext(ctx).Delete(&types.Lesson{}, "id = ?", lesson.ID).Error; err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	hits, err := repo.GetEmbeddedByCourseIDs(ctx, nil, []uuid.UUID{course.ID}, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("soft-deleted lesson leaked %d chunks", len(hits))
	}
}

func TestLessonChunkRepoGetEmbeddedByCourseIDsEmptyFilter(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonChunkRepo(db, testutil.Logger(t))

	hits, err := repo.GetEmbeddedByCourseIDs(ctx, nil, nil, 0, 0)
	if err != nil || len(hits) != 0 {
		t.Fatalf("empty course filter should return nothing, got (%v, %v)", hits, err)
	}
}
