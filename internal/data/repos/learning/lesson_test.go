package learning

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/coursekb/coursekb-backend/internal/data/repos/testutil"
	types "github.com/coursekb/coursekb-backend/internal/domain"
)

func TestLessonRepoGetAllIDs(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonRepo(db, testutil.Logger(t))

	_, _, module, lesson := testutil.SeedHierarchy(t, ctx, db, "body")
	second := testutil.SeedLesson(t, ctx, db, module.ID, "Lesson 2", "body")

	ids, err := repo.GetAllIDs(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	found := map[uuid.UUID]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found[lesson.ID] || !found[second.ID] {
		t.Fatalf("ids missing seeded lessons: %v", ids)
	}
}

func TestLessonRepoGetAuthorized(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonRepo(db, testutil.Logger(t))

	user, course, module, lesson := testutil.SeedHierarchy(t, ctx, db, "authorized body")

	row, err := repo.GetAuthorized(ctx, nil, lesson.ID, user.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row == nil {
		t.Fatal("expected row for confirmed enrollment")
	}
	if row.Content != "authorized body" || row.ModuleID != module.ID || row.CourseID != course.ID {
		t.Fatalf("unexpected row: %+v", row)
	}

	// No enrollment at all.
	stranger := testutil.SeedUser(t, ctx, db, "stranger@example.com")
	row, err = repo.GetAuthorized(ctx, nil, lesson.ID, stranger.ID)
	if err != nil || row != nil {
		t.Fatalf("expected (nil, nil) without enrollment, got (%+v, %v)", row, err)
	}

	// Pending enrollment is not enough.
	pending := testutil.SeedUser(t, ctx, db, "pending@example.com")
	testutil.SeedEnrollment(t, ctx, db, pending.ID, course.ID, types.EnrollmentPending)
	row, err = repo.GetAuthorized(ctx, nil, lesson.ID, pending.ID)
	if err != nil || row != nil {
		t.Fatalf("expected (nil, nil) for pending enrollment, got (%+v, %v)", row, err)
	}

	// Missing lesson looks the same as missing enrollment.
	row, err = repo.GetAuthorized(ctx, nil, uuid.New(), user.ID)
	if err != nil || row != nil {
		t.Fatalf("expected (nil, nil) for missing lesson, got (%+v, %v)", row, err)
	}
}

func TestLessonRepoGetAuthorizedExcludesSoftDeleted(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewLessonRepo(db, testutil.Logger(t))

	user, _, _, lesson := testutil.SeedHierarchy(t, ctx, db, "body")
	if err := db.WithContext(ctx).Delete(&types.Lesson{}, "id = ?", lesson.ID).Error; err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	row, err := repo.GetAuthorized(ctx, nil, lesson.ID, user.ID)
	if err != nil || row != nil {
		t.Fatalf("soft-deleted lesson must be invisible, got (%+v, %v)", row, err)
	}
}

func TestEnrollmentRepoGetConfirmedCourseIDs(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := NewEnrollmentRepo(db, testutil.Logger(t))

	user, course, _, _ := testutil.SeedHierarchy(t, ctx, db, "body")
	rejectedCourse := testutil.SeedCourse(t, ctx, db, "Rejected 101")
	testutil.SeedEnrollment(t, ctx, db, user.ID, rejectedCourse.ID, types.EnrollmentRejected)

	ids, err := repo.GetConfirmedCourseIDs(ctx, nil, user.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != course.ID {
		t.Fatalf("expected only the confirmed course, got %v", ids)
	}
}
