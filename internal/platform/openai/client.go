// Package openai is a hand-rolled client for the chat completions API,
// covering only what the chat orchestrator needs: tool-calling completions
// and single-shot JSON generation.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coursekb/coursekb-backend/internal/platform/envutil"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

// Message is one turn of a chat completion exchange. ToolCalls is set on
// assistant messages that request tool execution; ToolCallID is set on tool
// result messages.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes a function the model may call. Parameters is a JSON schema.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Client interface {
	// ChatCompletion runs one completion over the full message list. When
	// tools are provided the model may answer with tool calls instead of
	// content; the caller owns the tool loop.
	ChatCompletion(ctx context.Context, messages []Message, tools []Tool) (Message, error)

	// GenerateJSON asks for a single JSON object response.
	GenerateJSON(ctx context.Context, system, user string) (map[string]any, error)
}

type client struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	model       string
	temperature *float64
	httpClient  *http.Client
	maxRetries  int
}

func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(envutil.GetEnv("OPENAI_API_KEY", "", log))
	if apiKey == "" {
		return nil, errors.New("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(envutil.GetEnv("OPENAI_BASE_URL", "https://api.openai.com", log)), "/")
	model := strings.TrimSpace(envutil.GetEnv("OPENAI_MODEL", "gpt-4o-mini", log))
	temperature := ParseTemperature(envutil.GetEnv("OPENAI_TEMPERATURE", "", log), 0.2)
	timeoutSec := envutil.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 120, log)
	maxRetries := envutil.GetEnvAsInt("OPENAI_MAX_RETRIES", 3, log)

	if log == nil {
		return nil, errors.New("logger required")
	}

	return &client{
		log:         log.With("client", "openai"),
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:  maxRetries,
	}, nil
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolDef struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionsRequest struct {
	Model          string          `json:"model"`
	Temperature    *float64        `json:"temperature,omitempty"`
	Messages       []wireMessage   `json:"messages"`
	Tools          []wireToolDef   `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
}

func (c *client) ChatCompletion(ctx context.Context, messages []Message, tools []Tool) (Message, error) {
	req := chatCompletionsRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    toWireMessages(messages),
	}
	if len(tools) > 0 {
		req.Tools = toWireTools(tools)
		req.ToolChoice = "auto"
	}

	var resp chatCompletionsResponse
	if err := c.do(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return Message{}, err
	}
	if len(resp.Choices) == 0 {
		return Message{}, errors.New("openai: response has no choices")
	}
	return fromWireMessage(resp.Choices[0].Message), nil
}

func (c *client) GenerateJSON(ctx context.Context, system, user string) (map[string]any, error) {
	req := chatCompletionsRequest{
		Model:       c.model,
		Temperature: f64ptr(0.1),
		Messages: []wireMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var resp chatCompletionsResponse
	if err := c.do(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("openai: empty response content")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, fmt.Errorf("openai: parsing model JSON: %w", err)
	}
	return obj, nil
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (c *client) doOnce(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai decode error: %w", err)
	}
	return nil
}

func (c *client) do(ctx context.Context, path string, body, out any) error {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = c.doOnce(ctx, path, body, out)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == c.maxRetries {
			return lastErr
		}
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", backoff.String(),
			"error", lastErr.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

func isRetryable(err error) bool {
	var he *httpError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Transport-level failures are worth a retry.
	return true
}

func toWireMessages(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []Tool) []wireToolDef {
	out := make([]wireToolDef, len(tools))
	for i, t := range tools {
		out[i].Type = "function"
		out[i].Function.Name = t.Name
		out[i].Function.Description = t.Description
		out[i].Function.Parameters = t.Parameters
	}
	return out
}

func fromWireMessage(wm wireMessage) Message {
	m := Message{Role: wm.Role, Content: wm.Content, ToolCallID: wm.ToolCallID}
	for _, tc := range wm.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return m
}

func f64ptr(v float64) *float64 { return &v }

// ParseTemperature keeps env parsing tolerant: "off"/"none" disable the
// parameter entirely.
func ParseTemperature(raw string, def float64) *float64 {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return f64ptr(def)
	case "off", "none", "nil", "false":
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f64ptr(f)
	}
	return f64ptr(def)
}
