package services

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/coursekb/coursekb-backend/internal/platform/embed"
	"github.com/coursekb/coursekb-backend/internal/platform/openai"
)

// vec builds a sparse test vector with ones at the given indices. Cosine
// between two of these is easy to reason about: vec(0) vs vec(0) is 1,
// vec(0) vs vec(1) is 0, vec(0) vs vec(0,1) is ~0.707.
func vec(hot ...int) []float32 {
	v := make([]float32, embed.Dimensions)
	for _, i := range hot {
		v[i] = 1
	}
	return v
}

type fakeEmbedder struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	calls int
}

var _ embed.Client = (*fakeEmbedder)(nil)

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

// fakeLLM replays scripted completions in order. A nil entry in errs means
// the corresponding reply succeeds.
type fakeLLM struct {
	replies []openai.Message
	errs    []error

	classifyObj map[string]any
	classifyErr error

	calls [][]openai.Message
}

var _ openai.Client = (*fakeLLM)(nil)

func (f *fakeLLM) ChatCompletion(_ context.Context, messages []openai.Message, _ []openai.Tool) (openai.Message, error) {
	f.calls = append(f.calls, messages)
	i := len(f.calls) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.Message{}, f.errs[i]
	}
	if i >= len(f.replies) {
		return openai.Message{Role: "assistant"}, nil
	}
	return f.replies[i], nil
}

func (f *fakeLLM) GenerateJSON(_ context.Context, _, _ string) (map[string]any, error) {
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return f.classifyObj, nil
}

type fakeRetrieval struct {
	results   []SearchResult
	searchErr error
	lesson    *LessonContent
	readErr   error

	queries []string
	opts    []SearchOptions
}

var _ RetrievalService = (*fakeRetrieval)(nil)

func (f *fakeRetrieval) Search(_ context.Context, query string, _ uuid.UUID, opts SearchOptions) ([]SearchResult, error) {
	f.queries = append(f.queries, query)
	f.opts = append(f.opts, opts)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeRetrieval) ReadLesson(_ context.Context, _, _ uuid.UUID) (*LessonContent, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.lesson, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []SweepEvent
}

func (n *captureNotifier) Publish(_ context.Context, event SweepEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func sampleResult(course, module, lesson string, index int, content string, similarity float64) SearchResult {
	return SearchResult{
		Chunk:      ChunkRef{ID: uuid.New(), Content: content, ChunkIndex: index},
		Lesson:     Ref{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(lesson)), Title: lesson},
		Module:     Ref{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(module)), Title: module},
		Course:     Ref{ID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(course)), Title: course},
		Similarity: similarity,
	}
}
