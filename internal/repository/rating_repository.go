package repository

import (
	"context"
	"fmt"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/pkg/database"
)

const ratingColumns = `user_id, mode, rating, volatility, matches_played, wins, losses,
	peak_rating, current_win_streak, updated_at`

type RatingRepository struct {
	db *database.DB
}

func NewRatingRepository(db *database.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

// GetOrCreate 레이팅 조회. 첫 요청이면 기본값(1200/32)으로 생성
func (r *RatingRepository) GetOrCreate(ctx context.Context, userID string, mode models.MatchType) (*models.PlayerRating, error) {
	initial := models.NewPlayerRating(userID, mode)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO player_ratings (user_id, mode, rating, volatility, peak_rating)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, mode) DO NOTHING
	`, userID, mode, initial.Rating, initial.Volatility, initial.PeakRating)
	if err != nil {
		return nil, fmt.Errorf("failed to create rating: %w", err)
	}

	rating := &models.PlayerRating{}
	err = r.db.QueryRowContext(ctx,
		`SELECT `+ratingColumns+` FROM player_ratings WHERE user_id = $1 AND mode = $2`,
		userID, mode,
	).Scan(
		&rating.UserID,
		&rating.Mode,
		&rating.Rating,
		&rating.Volatility,
		&rating.MatchesPlayed,
		&rating.Wins,
		&rating.Losses,
		&rating.PeakRating,
		&rating.CurrentWinStreak,
		&rating.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get rating: %w", err)
	}

	return rating, nil
}

// ApplyUpdates 기록 삽입과 레이팅 갱신을 하나의 트랜잭션으로.
// (match_id, user_id) 기록이 이미 있으면 그 참가자의 레이팅은 건드리지 않는다
func (r *RatingRepository) ApplyUpdates(ctx context.Context, updates []models.RatingUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	applied := 0
	for _, u := range updates {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO rating_history (user_id, match_id, mode, rating_before, rating_after, delta)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (match_id, user_id) DO NOTHING
		`, u.UserID, u.MatchID, u.Mode, u.RatingBefore, u.RatingAfter, u.Delta)
		if err != nil {
			return 0, fmt.Errorf("failed to insert rating history: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			continue
		}

		next := u.Next
		_, err = tx.ExecContext(ctx, `
			INSERT INTO player_ratings (`+ratingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
			ON CONFLICT (user_id, mode) DO UPDATE
			SET rating = EXCLUDED.rating,
			    volatility = EXCLUDED.volatility,
			    matches_played = EXCLUDED.matches_played,
			    wins = EXCLUDED.wins,
			    losses = EXCLUDED.losses,
			    peak_rating = EXCLUDED.peak_rating,
			    current_win_streak = EXCLUDED.current_win_streak,
			    updated_at = NOW()
		`,
			next.UserID,
			next.Mode,
			next.Rating,
			next.Volatility,
			next.MatchesPlayed,
			next.Wins,
			next.Losses,
			next.PeakRating,
			next.CurrentWinStreak,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to update rating: %w", err)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return applied, nil
}

// History 최근 변동 기록 (최신순)
func (r *RatingRepository) History(ctx context.Context, userID string, mode models.MatchType, limit int) ([]*models.RatingHistory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, match_id, mode, rating_before, rating_after, delta, created_at
		FROM rating_history
		WHERE user_id = $1 AND mode = $2
		ORDER BY created_at DESC, id
		LIMIT $3
	`, userID, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get rating history: %w", err)
	}
	defer rows.Close()

	history := []*models.RatingHistory{}
	for rows.Next() {
		h := &models.RatingHistory{}
		if err := rows.Scan(
			&h.ID,
			&h.UserID,
			&h.MatchID,
			&h.Mode,
			&h.RatingBefore,
			&h.RatingAfter,
			&h.Delta,
			&h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rating history: %w", err)
		}
		history = append(history, h)
	}

	return history, rows.Err()
}
