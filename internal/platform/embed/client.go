// Package embed talks to the embedding provider over HTTP. The provider
// exposes a single endpoint taking {"input": text} and returning a 384-dim
// vector; everything else here is pacing, retries and validation.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coursekb/coursekb-backend/internal/platform/envutil"
	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

// Dimensions is the vector size the provider model (gte-small) produces.
// Stored vectors and query vectors must both match it.
const Dimensions = 384

type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	URL                string
	APIKey             string
	Model              string
	MinRequestInterval time.Duration
	BatchSize          int
	MaxRetries         int
	RequestTimeout     time.Duration
}

type HTTPClient struct {
	cfg     Config
	httpc   *http.Client
	limiter *minIntervalLimiter
	log     *logger.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewClient(cfg Config, log *logger.Logger) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("embed: URL is not set")
	}
	if cfg.Model == "" {
		cfg.Model = "gte-small"
	}
	if cfg.MinRequestInterval <= 0 {
		cfg.MinRequestInterval = 100 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.RequestTimeout},
		limiter: &minIntervalLimiter{interval: cfg.MinRequestInterval},
		log:     log.With("client", "embed"),
	}, nil
}

func NewClientFromEnv(log *logger.Logger) (*HTTPClient, error) {
	return NewClient(Config{
		URL:                envutil.GetEnv("EMBEDDING_URL", "", log),
		APIKey:             envutil.GetEnv("EMBEDDING_API_KEY", "", log),
		Model:              envutil.GetEnv("EMBEDDING_MODEL", "gte-small", log),
		MinRequestInterval: time.Duration(envutil.GetEnvAsInt("EMBEDDING_MIN_INTERVAL_MS", 100, log)) * time.Millisecond,
		BatchSize:          envutil.GetEnvAsInt("EMBEDDING_BATCH_SIZE", 10, log),
		MaxRetries:         envutil.GetEnvAsInt("EMBEDDING_MAX_RETRIES", 3, log),
	}, log)
}

// Embed embeds a single text. The input must be non-blank and the returned
// vector must have exactly Dimensions finite values.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("embed: text cannot be empty")
	}
	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}
	vec, err := c.call(ctx, strings.TrimSpace(text))
	if err != nil {
		return nil, err
	}
	if err := ValidateVector(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds texts in provider batches, preserving input order. Items
// of one batch go out concurrently; if any of them fails, the whole batch is
// retried item by item with linear backoff. An item that still fails after
// the retry budget fails the call.
func (c *HTTPClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := c.limiter.wait(ctx); err != nil {
			return nil, err
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				vec, err := c.call(gctx, strings.TrimSpace(texts[i]))
				if err != nil {
					return err
				}
				if err := ValidateVector(vec); err != nil {
					return err
				}
				out[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			c.log.Warn("Batch embedding failed, falling back to per-item requests", "batch_start", start, "error", err)
			if err := c.embedItems(ctx, texts, out, start, end); err != nil {
				return nil, err
			}
		}

		if end < len(texts) {
			if err := sleepCtx(ctx, 200*time.Millisecond); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// embedItems is the sequential fallback for a failed batch. Retries are
// linear: 1s after the first failure, 2s after the second, and so on.
func (c *HTTPClient) embedItems(ctx context.Context, texts []string, out [][]float32, start, end int) error {
	retryCount := 0
	for i := start; i < end; i++ {
		if out[i] != nil {
			continue
		}
		for {
			if err := c.limiter.wait(ctx); err != nil {
				return err
			}
			vec, err := c.call(ctx, strings.TrimSpace(texts[i]))
			if err == nil {
				if err = ValidateVector(vec); err == nil {
					out[i] = vec
					break
				}
			}
			retryCount++
			if retryCount > c.cfg.MaxRetries {
				return fmt.Errorf("embed: failed after %d retries: %w", c.cfg.MaxRetries, err)
			}
			if err := sleepCtx(ctx, time.Duration(retryCount)*time.Second); err != nil {
				return err
			}
		}
	}
	return nil
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *HTTPClient) call(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Input: text, Model: c.cfg.Model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("embed: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embed: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var wrapped embedResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Embedding != nil {
		return wrapped.Embedding, nil
	}
	var bare []float32
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, nil
	}
	return nil, errors.New("embed: unexpected response format from provider")
}

// ValidateVector checks dimensionality and that every value is finite.
func ValidateVector(v []float32) error {
	if len(v) != Dimensions {
		return fmt.Errorf("embed: invalid embedding dimensions: expected %d, got %d", Dimensions, len(v))
	}
	for i, f := range v {
		f64 := float64(f)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return fmt.Errorf("embed: embedding value at index %d is not finite", i)
		}
	}
	return nil
}

// minIntervalLimiter spaces provider requests at least interval apart,
// process-wide across all callers of one client.
type minIntervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func (l *minIntervalLimiter) wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	next := l.last.Add(l.interval)
	var d time.Duration
	if next.After(now) {
		d = next.Sub(now)
		l.last = next
	} else {
		l.last = now
	}
	l.mu.Unlock()
	if d <= 0 {
		return nil
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
