// Package feed keeps the most recent events for the dashboard.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"faceattend/internal/attendance"
	"faceattend/internal/notify"
	"faceattend/internal/observability"
	"faceattend/internal/queue"
)

// DefaultSize is the number of events kept when no size is configured.
const DefaultSize = 50

// Feed is a capped, newest-first list of events.
type Feed interface {
	Push(ctx context.Context, evt attendance.Event) error
	Recent(ctx context.Context, n int) ([]attendance.Event, error)
}

// Memory is a process-local feed.
type Memory struct {
	mu     sync.Mutex
	size   int
	events []attendance.Event
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	return &Memory{size: size}
}

func (m *Memory) Push(_ context.Context, evt attendance.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append([]attendance.Event{evt}, m.events...)
	if len(m.events) > m.size {
		m.events = m.events[:m.size]
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, n int) ([]attendance.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	return append([]attendance.Event(nil), m.events[:n]...), nil
}

// Redis keeps the feed in a capped redis list shared by api and worker.
type Redis struct {
	client *redis.Client
	key    string
	size   int
}

func NewRedis(client *redis.Client, key string, size int) *Redis {
	if key == "" {
		key = "faceattend:feed"
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Redis{client: client, key: key, size: size}
}

func (r *Redis) Push(ctx context.Context, evt attendance.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, int64(r.size-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push feed: %w", err)
	}
	return nil
}

func (r *Redis) Recent(ctx context.Context, n int) ([]attendance.Event, error) {
	if n <= 0 || n > r.size {
		n = r.size
	}
	raw, err := r.client.LRange(ctx, r.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	out := make([]attendance.Event, 0, len(raw))
	for _, s := range raw {
		var evt attendance.Event
		if err := json.Unmarshal([]byte(s), &evt); err != nil {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// Consume pushes every queued event into f until ctx is done or the queue
// closes. Undecodable messages are logged and skipped.
func Consume(ctx context.Context, q queue.Queue, f Feed, logger *zap.Logger) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		evt, err := notify.Decode(msg)
		if err != nil {
			logger.Warn("skipping event", zap.String("type", msg.Type), zap.Error(err))
			continue
		}
		if err := f.Push(ctx, evt); err != nil {
			logger.Error("feed push failed", zap.String("type", evt.Type), zap.Error(err))
			continue
		}
		observability.FeedEvents.WithLabelValues(evt.Type).Inc()
	}
	return ctx.Err()
}
