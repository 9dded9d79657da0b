package postgres

import (
	"context"
	"fmt"

	"quiz-session-sync/internal/domain"

	"github.com/jackc/pgx/v4/pgxpool"
)

// AttemptStore writes attempt history. Replays of the same (local_session_id, user_id) overwrite
// the row instead of adding one.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) UpsertAttempt(ctx context.Context, r domain.AttemptRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO user_quiz_attempts
		(user_id, local_session_id, mode, category_id, score, total_questions, accuracy, duration_sec, completed_at, source)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
		ON CONFLICT (local_session_id, user_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			category_id = EXCLUDED.category_id,
			score = EXCLUDED.score,
			total_questions = EXCLUDED.total_questions,
			accuracy = EXCLUDED.accuracy,
			duration_sec = EXCLUDED.duration_sec,
			completed_at = EXCLUDED.completed_at,
			source = EXCLUDED.source,
			synced_at = now()`,
		r.UserID, r.LocalSessionID, r.Mode, r.CategoryID, r.Score, r.TotalQuestions, r.Accuracy, r.DurationSec,
		r.CompletedAt, r.Source)
	if err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

// CountAttempts reports how many history rows exist for a user.
func (s *AttemptStore) CountAttempts(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_quiz_attempts WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}
