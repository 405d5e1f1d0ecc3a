package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/coursekb/coursekb-backend/internal/data/repos/testutil"
	"github.com/coursekb/coursekb-backend/internal/platform/apierr"
	"github.com/coursekb/coursekb-backend/internal/platform/openai"
)

func newChatForTest(t *testing.T, llm *fakeLLM, retrieval *fakeRetrieval) ChatAgentService {
	t.Helper()
	return NewChatAgentService(testutil.Logger(t), llm, retrieval)
}

func searchCall(id, args string) openai.Message {
	return openai.Message{
		Role:      "assistant",
		ToolCalls: []openai.ToolCall{{ID: id, Name: toolSearch, Arguments: args}},
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	svc := newChatForTest(t, &fakeLLM{}, &fakeRetrieval{})
	_, err := svc.Chat(context.Background(), uuid.New(), "  ", nil)
	if ae := apierr.From(err); ae.Code != apierr.CodeInputError {
		t.Fatalf("expected input_error, got %v", err)
	}
}

func TestChatSmallTalk(t *testing.T) {
	llm := &fakeLLM{
		classifyObj: map[string]any{"needsSearch": false, "reason": "greeting"},
		replies:     []openai.Message{{Role: "assistant", Content: "Hey! Ready to study?"}},
	}
	retrieval := &fakeRetrieval{}
	svc := newChatForTest(t, llm, retrieval)

	resp, err := svc.Chat(context.Background(), uuid.New(), "hi there", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "Hey! Ready to study?" {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Fatalf("small talk must carry no sources, got %d", len(resp.Sources))
	}
	if len(retrieval.queries) != 0 {
		t.Fatal("small talk must not hit retrieval")
	}
}

func TestChatToolLoop(t *testing.T) {
	results := []SearchResult{
		sampleResult("Networking 101", "Transport", "TCP Basics", 0, "SYN, SYN-ACK, ACK.", 0.91),
		sampleResult("Networking 101", "Transport", "TCP Basics", 1, "The handshake establishes sequence numbers.", 0.85),
	}
	llm := &fakeLLM{
		classifyObj: map[string]any{"needsSearch": true},
		replies: []openai.Message{
			searchCall("call_1", `{"query":"tcp handshake"}`),
			{Role: "assistant", Content: "The TCP handshake has three steps."},
		},
	}
	retrieval := &fakeRetrieval{results: results}
	svc := newChatForTest(t, llm, retrieval)

	resp, err := svc.Chat(context.Background(), uuid.New(), "How does the TCP handshake work?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "The TCP handshake has three steps." {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(resp.Sources))
	}
	if resp.Sources[0].Course != "Networking 101" || resp.Sources[0].Lesson != "TCP Basics" {
		t.Fatalf("unexpected source: %+v", resp.Sources[0])
	}
	if len(retrieval.queries) != 1 || retrieval.queries[0] != "tcp handshake" {
		t.Fatalf("unexpected search queries: %v", retrieval.queries)
	}
	if retrieval.opts[0].Limit != toolSearchLimit {
		t.Fatalf("expected default tool limit, got %d", retrieval.opts[0].Limit)
	}

	// Second completion must carry the tool result back to the model.
	second := llm.calls[1]
	var sawToolResult bool
	for _, m := range second {
		if m.Role == "tool" && m.ToolCallID == "call_1" && strings.Contains(m.Content, "SYN, SYN-ACK, ACK.") {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatal("tool result was not fed back into the conversation")
	}
}

func TestChatDeduplicatesSources(t *testing.T) {
	dup := sampleResult("Networking 101", "Transport", "TCP Basics", 0, "Same chunk.", 0.9)
	llm := &fakeLLM{
		classifyObj: map[string]any{"needsSearch": true},
		replies: []openai.Message{
			searchCall("call_1", `{"query":"tcp"}`),
			searchCall("call_2", `{"query":"handshake"}`),
			{Role: "assistant", Content: "Answer."},
		},
	}
	retrieval := &fakeRetrieval{results: []SearchResult{dup}}
	svc := newChatForTest(t, llm, retrieval)

	resp, err := svc.Chat(context.Background(), uuid.New(), "tcp handshake?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected deduplicated sources, got %d", len(resp.Sources))
	}
}

func TestChatNoResultsAnswerCorrection(t *testing.T) {
	llm := &fakeLLM{
		classifyObj: map[string]any{"needsSearch": true},
		replies: []openai.Message{
			searchCall("call_1", `{"query":"quantum entanglement"}`),
			{Role: "assistant", Content: "I suggest exploring some physics textbooks instead."},
		},
	}
	retrieval := &fakeRetrieval{}
	svc := newChatForTest(t, llm, retrieval)

	resp, err := svc.Chat(context.Background(), uuid.New(), "Explain quantum entanglement", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != noContextMessage {
		t.Fatalf("expected the no-context message, got %q", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(resp.Sources))
	}
}

func TestChatNoResultsEnrollAnswerKept(t *testing.T) {
	llm := &fakeLLM{
		classifyObj: map[string]any{"needsSearch": true},
		replies: []openai.Message{
			searchCall("call_1", `{"query":"quantum entanglement"}`),
			{Role: "assistant", Content: "That topic isn't in your courses; please enroll in the physics course first."},
		},
	}
	svc := newChatForTest(t, llm, &fakeRetrieval{})

	resp, err := svc.Chat(context.Background(), uuid.New(), "Explain quantum entanglement", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Answer, "please enroll in the physics course") {
		t.Fatalf("well-formed no-results answer was replaced: %q", resp.Answer)
	}
}

func TestChatLowRelevanceWithheld(t *testing.T) {
	weak := []SearchResult{
		sampleResult("Networking 101", "Transport", "TCP Basics", 0, "Vaguely related.", 0.42),
	}
	llm := &fakeLLM{
		classifyObj: map[string]any{"needsSearch": true},
		replies: []openai.Message{
			searchCall("call_1", `{"query":"cooking pasta","similarityThreshold":0.3}`),
			{Role: "assistant", Content: "Here is how to cook pasta."},
		},
	}
	svc := newChatForTest(t, llm, &fakeRetrieval{results: weak})

	resp, err := svc.Chat(context.Background(), uuid.New(), "How do I cook pasta?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != noContextMessage {
		t.Fatalf("weakly supported answer should be withheld, got %q", resp.Answer)
	}
}

func TestChatFallbackOnCompletionFailure(t *testing.T) {
	results := []SearchResult{
		sampleResult("Networking 101", "Transport", "TCP Basics", 1, "Second chunk.", 0.88),
		sampleResult("Networking 101", "Transport", "TCP Basics", 0, "First chunk.", 0.84),
	}
	llm := &fakeLLM{
		classifyErr: errors.New("provider down"),
		errs:        []error{errors.New("provider down")},
	}
	retrieval := &fakeRetrieval{results: results}
	svc := newChatForTest(t, llm, retrieval)

	resp, err := svc.Chat(context.Background(), uuid.New(), "How does the TCP handshake work?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Answer, "**Networking 101 - Transport - TCP Basics**") {
		t.Fatalf("fallback answer missing lesson header: %q", resp.Answer)
	}
	if !strings.Contains(resp.Answer, "First chunk. Second chunk.") {
		t.Fatalf("fallback chunks not ordered by index: %q", resp.Answer)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("expected sources on fallback, got %d", len(resp.Sources))
	}
}

func TestChatFallbackWithoutResults(t *testing.T) {
	llm := &fakeLLM{
		classifyErr: errors.New("provider down"),
		errs:        []error{errors.New("provider down")},
	}
	svc := newChatForTest(t, llm, &fakeRetrieval{})

	resp, err := svc.Chat(context.Background(), uuid.New(), "How does the TCP handshake work?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != noContextMessage {
		t.Fatalf("expected the no-context message, got %q", resp.Answer)
	}
}

func TestChatUnsearchedAnswerIsRegrounded(t *testing.T) {
	results := []SearchResult{
		sampleResult("Networking 101", "Transport", "TCP Basics", 0, "SYN first.", 0.9),
	}
	llm := &fakeLLM{
		classifyObj: map[string]any{"needsSearch": true},
		replies: []openai.Message{
			{Role: "assistant", Content: "From my general knowledge, TCP uses a handshake."},
			{Role: "assistant", Content: "Per your course, the handshake starts with SYN."},
		},
	}
	retrieval := &fakeRetrieval{results: results}
	svc := newChatForTest(t, llm, retrieval)

	resp, err := svc.Chat(context.Background(), uuid.New(), "How does the TCP handshake work?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "Per your course, the handshake starts with SYN." {
		t.Fatalf("expected regrounded answer, got %q", resp.Answer)
	}
	if len(retrieval.queries) != 1 {
		t.Fatalf("expected one direct search, got %d", len(retrieval.queries))
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected sources from the direct search, got %d", len(resp.Sources))
	}
}

func TestChatHistoryWindow(t *testing.T) {
	llm := &fakeLLM{
		classifyObj: map[string]any{"needsSearch": false},
		replies:     []openai.Message{{Role: "assistant", Content: "Hi again!"}},
	}
	svc := newChatForTest(t, llm, &fakeRetrieval{})

	history := make([]ChatMessage, 10)
	for i := range history {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history[i] = ChatMessage{Role: role, Content: "turn"}
	}

	if _, err := svc.Chat(context.Background(), uuid.New(), "hello", history); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// system + trimmed history + current message
	if got := len(llm.calls[0]); got != 1+historyWindow+1 {
		t.Fatalf("expected %d messages, got %d", 1+historyWindow+1, got)
	}
}

func TestChatSearchToolErrorPayloads(t *testing.T) {
	llm := &fakeLLM{
		classifyObj: map[string]any{"needsSearch": true},
		replies: []openai.Message{
			searchCall("call_1", `{"query":"x","courseId":"not-a-uuid"}`),
			{Role: "assistant", Content: "ok"},
		},
	}
	retrieval := &fakeRetrieval{}
	svc := newChatForTest(t, llm, retrieval)

	if _, err := svc.Chat(context.Background(), uuid.New(), "question about a course", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(retrieval.queries) != 1 {
		// One direct search after the bad tool call produced no results.
		t.Fatalf("expected the direct fallback search only, got %d", len(retrieval.queries))
	}

	var sawErrorPayload bool
	for _, m := range llm.calls[1] {
		if m.Role == "tool" && strings.Contains(m.Content, `"error"`) {
			sawErrorPayload = true
		}
	}
	if !sawErrorPayload {
		t.Fatal("invalid tool arguments should produce an error payload")
	}
}

func TestIsGreeting(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"hi", true},
		{"Hello there", true},
		{"thanks!", true},
		{"What is a TCP handshake?", false},
		{"hey, can you explain how routing tables are built in detail", false},
	}
	for _, tc := range cases {
		if got := isGreeting(tc.in); got != tc.want {
			t.Errorf("isGreeting(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestBuildFallbackAnswerGroupsByLesson(t *testing.T) {
	results := []SearchResult{
		sampleResult("Networking 101", "Transport", "TCP Basics", 1, "beta", 0.9),
		sampleResult("Networking 101", "Routing", "BGP", 0, "gamma", 0.85),
		sampleResult("Networking 101", "Transport", "TCP Basics", 0, "alpha", 0.8),
		sampleResult("Networking 101", "Transport", "TCP Basics", 0, "alpha", 0.8),
	}

	answer := buildFallbackAnswer(results, nil)
	if !strings.HasPrefix(answer, "Here's what I found in your courses:") {
		t.Fatalf("unexpected intro: %q", answer)
	}
	if !strings.Contains(answer, "alpha beta") {
		t.Fatalf("chunks not sorted and deduplicated within lesson: %q", answer)
	}
	tcp := strings.Index(answer, "TCP Basics")
	bgp := strings.Index(answer, "BGP")
	if tcp == -1 || bgp == -1 || tcp > bgp {
		t.Fatalf("lessons not in first-seen order: %q", answer)
	}
	if !strings.Contains(answer, "2 lessons") {
		t.Fatalf("multi-lesson outro missing: %q", answer)
	}

	withHistory := buildFallbackAnswer(results[:1], []ChatMessage{{Role: "user", Content: "before"}})
	if !strings.HasPrefix(withHistory, "Here's more of what I found") {
		t.Fatalf("history intro missing: %q", withHistory)
	}
	if !strings.Contains(withHistory, `the lesson "TCP Basics"`) {
		t.Fatalf("single-lesson outro missing: %q", withHistory)
	}
}

func TestMostRelatedCourse(t *testing.T) {
	results := []SearchResult{
		sampleResult("Networking 101", "Transport", "TCP Basics", 0, "a", 0.9),
		sampleResult("Databases 201", "Indexes", "B-Trees", 0, "b", 0.88),
		sampleResult("Networking 101", "Routing", "BGP", 0, "c", 0.85),
	}
	got := mostRelatedCourse(results)
	if got["courseTitle"] != "Networking 101" {
		t.Fatalf("expected Networking 101, got %v", got["courseTitle"])
	}
	if got["resultCount"] != 2 {
		t.Fatalf("expected 2 results, got %v", got["resultCount"])
	}
}
