package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codeduel/duel-backend/pkg/database"
)

type DailyLimitRepository struct {
	db *database.DB
}

func NewDailyLimitRepository(db *database.DB) *DailyLimitRepository {
	return &DailyLimitRepository{db: db}
}

// MatchesPlayed 해당 날짜(UTC)에 치른 매치 수
func (r *DailyLimitRepository) MatchesPlayed(ctx context.Context, userID string, date time.Time) (int, error) {
	var played int
	err := r.db.QueryRowContext(ctx,
		`SELECT matches_played FROM daily_limits WHERE user_id = $1 AND date = $2`,
		userID, date.Format("2006-01-02"),
	).Scan(&played)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get daily limit: %w", err)
	}

	return played, nil
}

// Increment 하루 카운터 +1 (없으면 생성)
func (r *DailyLimitRepository) Increment(ctx context.Context, userID string, date time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_limits (user_id, date, matches_played)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, date) DO UPDATE
		SET matches_played = daily_limits.matches_played + 1
	`, userID, date.Format("2006-01-02"))

	if err != nil {
		return fmt.Errorf("failed to increment daily limit: %w", err)
	}

	return nil
}
