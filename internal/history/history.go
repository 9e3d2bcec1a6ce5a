package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fintalk/fintalk/internal/models"
)

// Store is the append-only chat history contract. Appends are
// best-effort by policy: the orchestrator logs failures and never
// fails a query over them.
type Store interface {
	Append(ctx context.Context, userID, prompt, answer string, ts time.Time) error
	List(ctx context.Context, userID string, limit int) ([]models.HistoryEvent, error)
	Close() error
}

// Open selects a backend from the connection URL scheme. An empty URL
// disables history entirely.
func Open(ctx context.Context, url string) (Store, error) {
	switch {
	case url == "":
		return Noop{}, nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return openRedis(ctx, url)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return openPostgres(ctx, url)
	}
	return nil, fmt.Errorf("unsupported chat history URL scheme: %s", url)
}

// Noop drops every append and lists nothing.
type Noop struct{}

func (Noop) Append(context.Context, string, string, string, time.Time) error { return nil }

func (Noop) List(context.Context, string, int) ([]models.HistoryEvent, error) { return nil, nil }

func (Noop) Close() error { return nil }
