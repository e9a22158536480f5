package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/pkg/database"
)

type ProblemRepository struct {
	db *database.DB
}

func NewProblemRepository(db *database.DB) *ProblemRepository {
	return &ProblemRepository{db: db}
}

// ListByRating 레이팅 구간 [minRating, maxRating] 의 문제
func (r *ProblemRepository) ListByRating(ctx context.Context, minRating, maxRating int) ([]*models.Problem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, rating, topics
		FROM problems
		WHERE rating BETWEEN $1 AND $2
		ORDER BY rating, id
	`, minRating, maxRating)
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	defer rows.Close()

	var problems []*models.Problem
	for rows.Next() {
		p := &models.Problem{}
		if err := rows.Scan(&p.ID, &p.Title, &p.Rating, pq.Array(&p.Topics)); err != nil {
			return nil, fmt.Errorf("failed to scan problem: %w", err)
		}
		problems = append(problems, p)
	}

	return problems, rows.Err()
}

// LastSeen since 이후 userIDs 중 누군가 본 문제별 가장 최근 노출 시각
func (r *ProblemRepository) LastSeen(ctx context.Context, userIDs []string, since time.Time) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT problem_id, MAX(seen_at)
		FROM problem_exposures
		WHERE user_id = ANY($1) AND seen_at >= $2
		GROUP BY problem_id
	`, pq.Array(userIDs), since)
	if err != nil {
		return nil, fmt.Errorf("failed to get problem exposures: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]time.Time)
	for rows.Next() {
		var (
			id string
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan problem exposure: %w", err)
		}
		seen[id] = at
	}

	return seen, rows.Err()
}

// RecordExposure 노출 시각 기록 (다시 보면 갱신)
func (r *ProblemRepository) RecordExposure(ctx context.Context, userID string, problemIDs []string, at time.Time) error {
	if len(problemIDs) == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO problem_exposures (user_id, problem_id, seen_at)
		SELECT $1, unnest($2::text[]), $3
		ON CONFLICT (user_id, problem_id) DO UPDATE SET seen_at = EXCLUDED.seen_at
	`, userID, pq.Array(problemIDs), at)

	if err != nil {
		return fmt.Errorf("failed to record problem exposure: %w", err)
	}

	return nil
}

// Upsert 문제 추가/갱신 (시드 도구용)
func (r *ProblemRepository) Upsert(ctx context.Context, problem *models.Problem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO problems (id, title, rating, topics)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
		    rating = EXCLUDED.rating,
		    topics = EXCLUDED.topics
	`, problem.ID, problem.Title, problem.Rating, pq.Array(problem.Topics))

	if err != nil {
		return fmt.Errorf("failed to upsert problem: %w", err)
	}

	return nil
}
