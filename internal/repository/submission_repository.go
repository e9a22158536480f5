package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/pkg/database"
)

const submissionColumns = `id, match_id, user_id, problem_id, verdict, created_at, judged_at`

type SubmissionRepository struct {
	db *database.DB
}

func NewSubmissionRepository(db *database.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var (
		sub      models.Submission
		judgedAt sql.NullTime
	)
	err := row.Scan(
		&sub.ID,
		&sub.MatchID,
		&sub.UserID,
		&sub.ProblemID,
		&sub.Verdict,
		&sub.CreatedAt,
		&judgedAt,
	)
	if err != nil {
		return nil, err
	}
	if judgedAt.Valid {
		sub.JudgedAt = &judgedAt.Time
	}
	return &sub, nil
}

// Create 새 제출 (pending)
func (r *SubmissionRepository) Create(ctx context.Context, sub *models.Submission) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO submissions (match_id, user_id, problem_id, verdict, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, sub.MatchID, sub.UserID, sub.ProblemID, sub.Verdict, sub.CreatedAt).Scan(&sub.ID)

	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}

	return nil
}

// FindByID ID로 제출 조회
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	if !isUUID(id) {
		return nil, nil
	}

	sub, err := scanSubmission(r.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	return sub, nil
}

// UpdateVerdict pending 인 제출에만 판정 기록
func (r *SubmissionRepository) UpdateVerdict(ctx context.Context, id string, verdict models.Verdict, judgedAt time.Time) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE submissions
		SET verdict = $2, judged_at = $3
		WHERE id = $1 AND verdict = 'pending'
	`, id, verdict, judgedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update verdict: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// ListByMatch 매치의 모든 제출 (오래된 순)
func (r *SubmissionRepository) ListByMatch(ctx context.Context, matchID string) ([]*models.Submission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE match_id = $1 ORDER BY created_at, id`,
		matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}
