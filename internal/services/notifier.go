package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

// SweepEvent describes progress of a corpus-wide embedding sweep.
type SweepEvent struct {
	LessonsDone    int       `json:"lessons_done"`
	LessonsTotal   int       `json:"lessons_total"`
	ChunksEmbedded int       `json:"chunks_embedded"`
	ChunksFailed   int       `json:"chunks_failed"`
	At             time.Time `json:"at"`
}

// SweepNotifier publishes sweep progress to interested listeners. Publishing
// is best-effort; failures are logged, never propagated.
type SweepNotifier interface {
	Publish(ctx context.Context, event SweepEvent)
}

const sweepChannel = "embedding:sweep"

type redisSweepNotifier struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedisSweepNotifier(client *redis.Client, log *logger.Logger) SweepNotifier {
	return &redisSweepNotifier{client: client, log: log.With("service", "SweepNotifier")}
}

func (n *redisSweepNotifier) Publish(ctx context.Context, event SweepEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Warn("Failed to encode sweep event", "error", err)
		return
	}
	if err := n.client.Publish(ctx, sweepChannel, payload).Err(); err != nil {
		n.log.Warn("Failed to publish sweep event", "error", err)
	}
}

type noopSweepNotifier struct{}

func NewNoopSweepNotifier() SweepNotifier { return noopSweepNotifier{} }

func (noopSweepNotifier) Publish(context.Context, SweepEvent) {}
