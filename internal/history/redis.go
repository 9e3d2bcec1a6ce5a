package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fintalk/fintalk/internal/models"
)

// maxEntriesPerUser caps the per-user list so the history never grows
// unbounded.
const maxEntriesPerUser = 1000

// RedisStore keeps each user's history in a Redis list, newest first.
type RedisStore struct {
	client *redis.Client
}

func openRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStore wraps an existing client; used by tests with miniredis.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func historyKey(userID string) string {
	return "chat:" + userID
}

// Append pushes one event and trims the list to its cap.
func (s *RedisStore) Append(ctx context.Context, userID, prompt, answer string, ts time.Time) error {
	event := models.HistoryEvent{UserID: userID, Prompt: prompt, Answer: answer, Timestamp: ts.UTC()}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal history event: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, historyKey(userID), payload)
	pipe.LTrim(ctx, historyKey(userID), 0, maxEntriesPerUser-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// List returns up to limit events, newest first.
func (s *RedisStore) List(ctx context.Context, userID string, limit int) ([]models.HistoryEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := s.client.LRange(ctx, historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	events := make([]models.HistoryEvent, 0, len(raw))
	for _, item := range raw {
		var event models.HistoryEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
