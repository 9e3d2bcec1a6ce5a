package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/fintalk/fintalk/internal/models"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS chat_history (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	answer TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_history_user_ts ON chat_history (user_id, ts DESC);`

// PostgresStore appends history rows through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure chat_history table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Append(ctx context.Context, userID, prompt, answer string, ts time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_history (user_id, prompt, answer, ts) VALUES ($1, $2, $3, $4)`,
		userID, prompt, answer, ts.UTC())
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]models.HistoryEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, prompt, answer, ts FROM chat_history WHERE user_id = $1 ORDER BY ts DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var events []models.HistoryEvent
	for rows.Next() {
		var event models.HistoryEvent
		if err := rows.Scan(&event.UserID, &event.Prompt, &event.Answer, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
