package services

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursekb/coursekb-backend/internal/data/repos/learning"
	types "github.com/coursekb/coursekb-backend/internal/domain"
	"github.com/coursekb/coursekb-backend/internal/platform/apierr"
	"github.com/coursekb/coursekb-backend/internal/platform/embed"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

const (
	DefaultSearchLimit         = 10
	DefaultSimilarityThreshold = 0.70

	// candidatePageSize bounds how many embedded chunks are held in memory
	// at once while scoring. Search pages through the full authorized
	// candidate set, so no chunk is ever excluded from ranking.
	candidatePageSize = 2000
)

type Ref struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

type ChunkRef struct {
	ID         uuid.UUID `json:"id"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunkIndex"`
}

type SearchResult struct {
	Chunk      ChunkRef `json:"chunk"`
	Lesson     Ref      `json:"lesson"`
	Module     Ref      `json:"module"`
	Course     Ref      `json:"course"`
	Similarity float64  `json:"similarity"`
}

type SearchOptions struct {
	Limit               int
	SimilarityThreshold float64
	CourseID            uuid.UUID
}

type LessonContent struct {
	Lesson struct {
		ID      uuid.UUID `json:"id"`
		Title   string    `json:"title"`
		Content string    `json:"content"`
	} `json:"lesson"`
	Module Ref `json:"module"`
	Course Ref `json:"course"`
}

// RetrievalService answers semantic queries over course content, scoped to
// the caller's confirmed enrollments.
type RetrievalService interface {
	Search(ctx context.Context, query string, userID uuid.UUID, opts SearchOptions) ([]SearchResult, error)
	// ReadLesson returns (nil, nil) when the lesson does not exist or the
	// user is not enrolled; the two cases are deliberately identical.
	ReadLesson(ctx context.Context, lessonID, userID uuid.UUID) (*LessonContent, error)
}

type retrievalService struct {
	db             *gorm.DB
	log            *logger.Logger
	embedder       embed.Client
	lessonRepo     learning.LessonRepo
	chunkRepo      learning.LessonChunkRepo
	enrollmentRepo learning.EnrollmentRepo
	pageSize       int
}

func NewRetrievalService(
	db *gorm.DB,
	log *logger.Logger,
	embedder embed.Client,
	lessonRepo learning.LessonRepo,
	chunkRepo learning.LessonChunkRepo,
	enrollmentRepo learning.EnrollmentRepo,
) RetrievalService {
	return &retrievalService{
		db:             db,
		log:            log.With("service", "RetrievalService"),
		embedder:       embedder,
		lessonRepo:     lessonRepo,
		chunkRepo:      chunkRepo,
		enrollmentRepo: enrollmentRepo,
		pageSize:       candidatePageSize,
	}
}

func (s *retrievalService) Search(ctx context.Context, query string, userID uuid.UUID, opts SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apierr.Input("query cannot be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}

	queryVec, err := s.embedder.Embed(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, apierr.Provider(err)
	}

	enrolled, err := s.enrollmentRepo.GetConfirmedCourseIDs(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if len(enrolled) == 0 {
		return []SearchResult{}, nil
	}

	courseFilter := enrolled
	if opts.CourseID != uuid.Nil {
		if !containsUUID(enrolled, opts.CourseID) {
			return nil, apierr.NotEnrolled("you are not enrolled in this course")
		}
		courseFilter = []uuid.UUID{opts.CourseID}
	}

	results := make([]SearchResult, 0, opts.Limit)
	for offset := 0; ; offset += s.pageSize {
		hits, err := s.chunkRepo.GetEmbeddedByCourseIDs(ctx, nil, courseFilter, s.pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			vec, err := types.ParseEmbedding(hit.Embedding)
			if err != nil || len(vec) != len(queryVec) {
				s.log.Warn("Skipping chunk with unreadable embedding", "chunk_id", hit.ChunkID, "error", err)
				continue
			}
			sim := cosine(queryVec, vec)
			if sim < opts.SimilarityThreshold {
				continue
			}
			results = append(results, SearchResult{
				Chunk: ChunkRef{
					ID:         hit.ChunkID,
					Content:    hit.ChunkContent,
					ChunkIndex: hit.ChunkIndex,
				},
				Lesson:     Ref{ID: hit.LessonID, Title: hit.LessonTitle},
				Module:     Ref{ID: hit.ModuleID, Title: hit.ModuleTitle},
				Course:     Ref{ID: hit.CourseID, Title: hit.CourseTitle},
				Similarity: sim,
			})
		}
		if len(hits) < s.pageSize {
			break
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (s *retrievalService) ReadLesson(ctx context.Context, lessonID, userID uuid.UUID) (*LessonContent, error) {
	row, err := s.lessonRepo.GetAuthorized(ctx, nil, lessonID, userID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	var out LessonContent
	out.Lesson.ID = row.LessonID
	out.Lesson.Title = row.LessonTitle
	out.Lesson.Content = row.Content
	out.Module = Ref{ID: row.ModuleID, Title: row.ModuleTitle}
	out.Course = Ref{ID: row.CourseID, Title: row.CourseTitle}
	return &out, nil
}

func containsUUID(list []uuid.UUID, id uuid.UUID) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
