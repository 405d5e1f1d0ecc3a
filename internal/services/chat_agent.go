package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coursekb/coursekb-backend/internal/platform/apierr"
	"github.com/coursekb/coursekb-backend/internal/platform/envutil"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
	"github.com/coursekb/coursekb-backend/internal/platform/openai"
)

type ChatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type ChatSource struct {
	CourseID   uuid.UUID `json:"courseId"`
	Course     string    `json:"course"`
	ModuleID   uuid.UUID `json:"moduleId"`
	Module     string    `json:"module"`
	LessonID   uuid.UUID `json:"lessonId"`
	Lesson     string    `json:"lesson"`
	Chunk      string    `json:"chunk"`
	Similarity float64   `json:"similarity"`
}

type ChatResponse struct {
	Answer  string       `json:"answer"`
	Sources []ChatSource `json:"sources"`
}

// ChatAgentService answers questions about course content through an LLM
// tool loop over the retrieval layer. Every answer is grounded in the
// caller's confirmed enrollments; the model never sees content the user
// could not read directly.
type ChatAgentService interface {
	Chat(ctx context.Context, userID uuid.UUID, message string, history []ChatMessage) (ChatResponse, error)
}

const (
	toolSearch     = "search_course_content"
	toolReadLesson = "read_lesson_content"

	historyWindow   = 6
	maxToolRounds   = 5
	toolSearchLimit = 5

	// Answers whose supporting chunks average below this similarity are
	// treated as unsupported and replaced with noContextMessage.
	defaultRelevanceThreshold = 0.70
)

const noContextMessage = "I couldn't find this topic inside your enrolled courses. " +
	"It may live in a course you haven't joined yet. Please enroll in the relevant " +
	"course (or ask an admin for access) and then try again."

const systemPrompt = `You are a study assistant for an online course platform. You answer questions using ONLY content from the user's enrolled courses.

Rules:
- Always call the ` + toolSearch + ` tool before answering a content question. Never answer from your own knowledge.
- When a search result is promising but truncated, call ` + toolReadLesson + ` to read the full lesson before answering.
- Ground every statement in the retrieved content and mention which lesson or course it came from.
- If the tools return no relevant content, tell the user the topic is not in their enrolled courses and that they should enroll in the relevant course (or ask an admin for access). Do not suggest exploring other resources and do not answer from general knowledge.
- Keep answers focused and concise. Use markdown formatting where it helps.`

const smallTalkPrompt = `You are a friendly study assistant for an online course platform. The user is making small talk rather than asking about course content. Reply briefly and warmly, and offer to help with questions about their enrolled courses.`

const classifyPrompt = `Decide whether the user's message requires searching course content to answer, or is small talk (a greeting, thanks, or chit-chat). Respond with a JSON object: {"needsSearch": true|false, "reason": "<short reason>"}.`

type chatAgentService struct {
	log                *logger.Logger
	llm                openai.Client
	retrieval          RetrievalService
	relevanceThreshold float64
}

func NewChatAgentService(log *logger.Logger, llm openai.Client, retrieval RetrievalService) ChatAgentService {
	return &chatAgentService{
		log:                log.With("service", "ChatAgentService"),
		llm:                llm,
		retrieval:          retrieval,
		relevanceThreshold: envutil.GetEnvAsFloat("CHAT_RELEVANCE_THRESHOLD", defaultRelevanceThreshold, log),
	}
}

func (s *chatAgentService) Chat(ctx context.Context, userID uuid.UUID, message string, history []ChatMessage) (ChatResponse, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatResponse{}, apierr.Input("message cannot be empty")
	}

	needsSearch, classifier := s.classify(ctx, message)
	s.log.Debug("Classified chat message", "needs_search", needsSearch, "classifier", classifier)

	if !needsSearch {
		return s.smallTalk(ctx, message, history), nil
	}

	msgs := []openai.Message{{Role: "system", Content: systemPrompt}}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, openai.Message{Role: "user", Content: message})

	var (
		collected []SearchResult
		searched  bool
		answer    string
	)

	for round := 0; round < maxToolRounds; round++ {
		reply, err := s.llm.ChatCompletion(ctx, msgs, chatTools())
		if err != nil {
			s.log.Warn("Chat completion failed, falling back to retrieved content", "error", err)
			return s.fallbackResponse(ctx, userID, message, history, collected, searched), nil
		}
		if len(reply.ToolCalls) == 0 {
			answer = strings.TrimSpace(reply.Content)
			break
		}

		msgs = append(msgs, reply)
		for _, tc := range reply.ToolCalls {
			payload, hits, wasSearch := s.executeTool(ctx, userID, tc)
			if wasSearch {
				searched = true
				collected = append(collected, hits...)
			}
			msgs = append(msgs, openai.Message{Role: "tool", Content: payload, ToolCallID: tc.ID})
		}
	}

	// A model that skips the search tool entirely is answering from its own
	// knowledge. Retrieve once ourselves and make it answer again from that.
	if !searched {
		results, err := s.retrieval.Search(ctx, message, userID, SearchOptions{Limit: toolSearchLimit})
		if err != nil {
			s.log.Warn("Direct search after unsearched answer failed", "error", err)
			return ChatResponse{Answer: noContextMessage, Sources: []ChatSource{}}, nil
		}
		searched = true
		collected = results
		if len(results) > 0 {
			msgs = append(msgs, openai.Message{
				Role: "user",
				Content: "Relevant excerpts from my enrolled courses:\n\n" + contextBlock(results) +
					"\n\nUsing only these excerpts, answer my original question: " + message,
			})
			if reply, err := s.llm.ChatCompletion(ctx, msgs, nil); err == nil && strings.TrimSpace(reply.Content) != "" {
				answer = strings.TrimSpace(reply.Content)
			} else {
				answer = buildFallbackAnswer(collected, history)
			}
		}
	}

	if answer == "" {
		return s.fallbackResponse(ctx, userID, message, history, collected, searched), nil
	}

	if len(collected) == 0 {
		return ChatResponse{Answer: correctNoResultsAnswer(answer), Sources: []ChatSource{}}, nil
	}

	if meanSimilarity(collected) < s.relevanceThreshold {
		s.log.Debug("Retrieved content below relevance threshold, withholding answer",
			"mean_similarity", meanSimilarity(collected))
		return ChatResponse{Answer: noContextMessage, Sources: []ChatSource{}}, nil
	}

	return ChatResponse{Answer: answer, Sources: dedupeSources(collected)}, nil
}

func (s *chatAgentService) smallTalk(ctx context.Context, message string, history []ChatMessage) ChatResponse {
	msgs := []openai.Message{{Role: "system", Content: smallTalkPrompt}}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, openai.Message{Role: "user", Content: message})

	reply, err := s.llm.ChatCompletion(ctx, msgs, nil)
	if err != nil || strings.TrimSpace(reply.Content) == "" {
		return ChatResponse{
			Answer:  "Hi! I can help you with questions about your enrolled courses. What would you like to know?",
			Sources: []ChatSource{},
		}
	}
	return ChatResponse{Answer: strings.TrimSpace(reply.Content), Sources: []ChatSource{}}
}

// classify decides whether the message needs retrieval. The model is asked
// first; on any failure a greeting heuristic decides instead.
func (s *chatAgentService) classify(ctx context.Context, message string) (bool, string) {
	obj, err := s.llm.GenerateJSON(ctx, classifyPrompt, message)
	if err == nil {
		if v, ok := obj["needsSearch"].(bool); ok {
			return v, "model"
		}
	}
	return !isGreeting(message), "heuristic"
}

var greetings = []string{
	"hi", "hello", "hey", "yo", "sup", "good morning", "good afternoon",
	"good evening", "how are you", "what's up", "thanks", "thank you",
	"bye", "goodbye",
}

func isGreeting(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	if len(m) >= 30 {
		return false
	}
	for _, g := range greetings {
		if strings.HasPrefix(m, g) {
			return true
		}
	}
	return false
}

func historyMessages(history []ChatMessage) []openai.Message {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	out := make([]openai.Message, 0, len(history))
	for _, h := range history {
		role := h.Role
		if role != "user" && role != "assistant" {
			continue
		}
		out = append(out, openai.Message{Role: role, Content: h.Content})
	}
	return out
}

func chatTools() []openai.Tool {
	return []openai.Tool{
		{
			Name:        toolSearch,
			Description: "Semantic search over the user's enrolled course content. Returns matching chunks with their course, module and lesson.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "What to search for.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results (default 5).",
					},
					"similarityThreshold": map[string]any{
						"type":        "number",
						"description": "Minimum similarity between 0 and 1.",
					},
					"courseId": map[string]any{
						"type":        "string",
						"description": "Restrict the search to one enrolled course.",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        toolReadLesson,
			Description: "Read the full content of one lesson from the user's enrolled courses.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"lessonId": map[string]any{
						"type":        "string",
						"description": "The lesson id, as returned by " + toolSearch + ".",
					},
				},
				"required": []string{"lessonId"},
			},
		},
	}
}

type searchToolArgs struct {
	Query               string  `json:"query"`
	Limit               int     `json:"limit"`
	SimilarityThreshold float64 `json:"similarityThreshold"`
	CourseID            string  `json:"courseId"`
}

type readLessonToolArgs struct {
	LessonID string `json:"lessonId"`
}

// executeTool runs one tool call and returns its JSON payload. Payloads
// carry tool-level errors as {"error": ...} so the model can recover;
// provider internals never reach it. searched reports whether a search
// actually executed, not merely that one was attempted.
func (s *chatAgentService) executeTool(ctx context.Context, userID uuid.UUID, tc openai.ToolCall) (payload string, hits []SearchResult, searched bool) {
	switch tc.Name {
	case toolSearch:
		return s.runSearchTool(ctx, userID, tc.Arguments)
	case toolReadLesson:
		return s.runReadLessonTool(ctx, userID, tc.Arguments), nil, false
	default:
		return errorPayload(fmt.Sprintf("unknown tool %q", tc.Name)), nil, false
	}
}

func (s *chatAgentService) runSearchTool(ctx context.Context, userID uuid.UUID, rawArgs string) (string, []SearchResult, bool) {
	var args searchToolArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return errorPayload("invalid search arguments"), nil, false
	}

	opts := SearchOptions{
		Limit:               args.Limit,
		SimilarityThreshold: args.SimilarityThreshold,
	}
	if opts.Limit <= 0 {
		opts.Limit = toolSearchLimit
	}
	if strings.TrimSpace(args.CourseID) != "" {
		courseID, err := uuid.Parse(args.CourseID)
		if err != nil {
			return errorPayload("courseId is not a valid id"), nil, false
		}
		opts.CourseID = courseID
	}

	results, err := s.retrieval.Search(ctx, args.Query, userID, opts)
	if err != nil {
		s.log.Warn("Search tool failed", "error", err)
		if ae := apierr.From(err); ae.Code == apierr.CodeInputError || ae.Code == apierr.CodeNotEnrolled {
			return errorPayload(ae.Err.Error()), nil, false
		}
		return errorPayload("search is temporarily unavailable"), nil, false
	}

	if len(results) == 0 {
		empty := map[string]any{
			"results": []any{},
			"count":   0,
			"message": "No matching content found in the user's enrolled courses for this query.",
		}
		raw, _ := json.Marshal(empty)
		return string(raw), nil, true
	}

	items := make([]map[string]any, len(results))
	for i, r := range results {
		items[i] = map[string]any{
			"course":     r.Course.Title,
			"module":     r.Module.Title,
			"lesson":     r.Lesson.Title,
			"lessonId":   r.Lesson.ID.String(),
			"content":    r.Chunk.Content,
			"similarity": r.Similarity,
		}
	}
	out := map[string]any{
		"results":           items,
		"count":             len(results),
		"mostRelatedCourse": mostRelatedCourse(results),
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return errorPayload("failed to encode search results"), nil, true
	}
	return string(raw), results, true
}

func (s *chatAgentService) runReadLessonTool(ctx context.Context, userID uuid.UUID, rawArgs string) string {
	var args readLessonToolArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return errorPayload("invalid read arguments")
	}
	lessonID, err := uuid.Parse(args.LessonID)
	if err != nil {
		return errorPayload("lessonId is not a valid id")
	}

	lesson, err := s.retrieval.ReadLesson(ctx, lessonID, userID)
	if err != nil {
		s.log.Warn("Read lesson tool failed", "error", err)
		return errorPayload("reading the lesson is temporarily unavailable")
	}
	if lesson == nil {
		return errorPayload("lesson not found in the user's enrolled courses")
	}

	raw, err := json.Marshal(lesson)
	if err != nil {
		return errorPayload("failed to encode lesson content")
	}
	return string(raw)
}

func errorPayload(msg string) string {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return string(raw)
}

// mostRelatedCourse names the course contributing the most results, a hint
// the model uses when the user's question straddles courses.
func mostRelatedCourse(results []SearchResult) map[string]any {
	counts := map[uuid.UUID]int{}
	titles := map[uuid.UUID]string{}
	var best uuid.UUID
	for _, r := range results {
		counts[r.Course.ID]++
		titles[r.Course.ID] = r.Course.Title
		if best == uuid.Nil || counts[r.Course.ID] > counts[best] {
			best = r.Course.ID
		}
	}
	return map[string]any{
		"courseId":    best.String(),
		"courseTitle": titles[best],
		"resultCount": counts[best],
	}
}

// fallbackResponse answers without the model, straight from retrieved
// chunks. Used when the completions API is down mid-conversation.
func (s *chatAgentService) fallbackResponse(ctx context.Context, userID uuid.UUID, message string, history []ChatMessage, collected []SearchResult, searched bool) ChatResponse {
	if !searched {
		results, err := s.retrieval.Search(ctx, message, userID, SearchOptions{Limit: toolSearchLimit})
		if err != nil {
			s.log.Warn("Fallback search failed", "error", err)
			return ChatResponse{Answer: noContextMessage, Sources: []ChatSource{}}
		}
		collected = results
	}
	if len(collected) == 0 {
		return ChatResponse{Answer: noContextMessage, Sources: []ChatSource{}}
	}
	return ChatResponse{
		Answer:  buildFallbackAnswer(collected, history),
		Sources: dedupeSources(collected),
	}
}

// buildFallbackAnswer renders the top results as readable excerpts grouped
// by lesson, in the order lessons first appear.
func buildFallbackAnswer(results []SearchResult, history []ChatMessage) string {
	top := results
	if len(top) > 5 {
		top = top[:5]
	}

	type lessonGroup struct {
		course string
		module string
		lesson string
		chunks []ChunkRef
	}
	var order []uuid.UUID
	groups := map[uuid.UUID]*lessonGroup{}
	for _, r := range top {
		g, ok := groups[r.Lesson.ID]
		if !ok {
			g = &lessonGroup{course: r.Course.Title, module: r.Module.Title, lesson: r.Lesson.Title}
			groups[r.Lesson.ID] = g
			order = append(order, r.Lesson.ID)
		}
		g.chunks = append(g.chunks, r.Chunk)
	}

	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Here's more of what I found in your courses:\n\n")
	} else {
		b.WriteString("Here's what I found in your courses:\n\n")
	}

	for _, id := range order {
		g := groups[id]
		sort.SliceStable(g.chunks, func(i, j int) bool {
			return g.chunks[i].ChunkIndex < g.chunks[j].ChunkIndex
		})
		seen := map[string]bool{}
		var parts []string
		for _, c := range g.chunks {
			if seen[c.Content] {
				continue
			}
			seen[c.Content] = true
			parts = append(parts, c.Content)
		}
		fmt.Fprintf(&b, "**%s - %s - %s**\n\n%s\n\n", g.course, g.module, g.lesson, strings.Join(parts, " "))
	}

	if len(order) == 1 {
		g := groups[order[0]]
		fmt.Fprintf(&b, "This comes from the lesson \"%s\" in your course \"%s\".", g.lesson, g.course)
	} else {
		fmt.Fprintf(&b, "These excerpts come from %d lessons across your enrolled courses.", len(order))
	}
	return b.String()
}

// correctNoResultsAnswer guards against the model improvising when search
// came back empty: anything that does not point the user at enrollment, or
// that suggests looking elsewhere, is replaced wholesale.
func correctNoResultsAnswer(answer string) string {
	lower := strings.ToLower(answer)
	if !strings.Contains(lower, "enroll") {
		return noContextMessage
	}
	for _, phrase := range []string{"suggest exploring", "i suggest", "explore"} {
		if strings.Contains(lower, phrase) {
			return noContextMessage
		}
	}
	return answer
}

func meanSimilarity(results []SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Similarity
	}
	return sum / float64(len(results))
}

func contextBlock(results []SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s - %s - %s\n%s\n\n", i+1, r.Course.Title, r.Module.Title, r.Lesson.Title, r.Chunk.Content)
	}
	return strings.TrimSpace(b.String())
}

func dedupeSources(results []SearchResult) []ChatSource {
	type key struct {
		lessonID uuid.UUID
		chunk    string
	}
	seen := map[key]bool{}
	out := make([]ChatSource, 0, len(results))
	for _, r := range results {
		k := key{lessonID: r.Lesson.ID, chunk: r.Chunk.Content}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ChatSource{
			CourseID:   r.Course.ID,
			Course:     r.Course.Title,
			ModuleID:   r.Module.ID,
			Module:     r.Module.Title,
			LessonID:   r.Lesson.ID,
			Lesson:     r.Lesson.Title,
			Chunk:      r.Chunk.Content,
			Similarity: r.Similarity,
		})
	}
	return out
}
