package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/pkg/database"
)

const matchColumns = `id, match_type, mode, state, player1_id, player2_id, rating, problem_ids,
	fog_of_progress, winner_id, end_reason, created_at, started_at, finished_at`

// MatchRepository Postgres 매치 저장소. 상태 전이는 WHERE 절 조건부 UPDATE/DELETE 로만 일어나고
// RowsAffected 로 반영 여부를 판단한다
type MatchRepository struct {
	db *database.DB
}

func NewMatchRepository(db *database.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var (
		m          models.Match
		player2ID  sql.NullString
		winnerID   sql.NullString
		endReason  sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&m.ID,
		&m.MatchType,
		&m.Mode,
		&m.State,
		&m.Player1ID,
		&player2ID,
		&m.Rating,
		pq.Array(&m.ProblemIDs),
		&m.FogOfProgress,
		&winnerID,
		&endReason,
		&m.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if player2ID.Valid {
		m.Player2ID = &player2ID.String
	}
	if winnerID.Valid {
		m.WinnerID = &winnerID.String
	}
	if endReason.Valid {
		reason := models.EndReason(endReason.String)
		m.EndReason = &reason
	}
	if startedAt.Valid {
		m.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		m.FinishedAt = &finishedAt.Time
	}
	return &m, nil
}

func (r *MatchRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*models.Match, error) {
	match, err := scanMatch(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return match, nil
}

func (r *MatchRepository) queryMany(ctx context.Context, query string, args ...interface{}) ([]*models.Match, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

func (r *MatchRepository) affected(result sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("failed to %s match: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// Create waiting 매치 생성
func (r *MatchRepository) Create(ctx context.Context, match *models.Match) error {
	query := `
		INSERT INTO matches (match_type, mode, state, player1_id, rating, problem_ids, fog_of_progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		match.MatchType,
		match.Mode,
		match.State,
		match.Player1ID,
		match.Rating,
		pq.Array(match.ProblemIDs),
		match.FogOfProgress,
		match.CreatedAt,
	).Scan(&match.ID)

	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}

	return nil
}

// FindByID ID로 매치 조회
func (r *MatchRepository) FindByID(ctx context.Context, id string) (*models.Match, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.queryOne(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id)
}

// FindWaitingCandidate 레이팅 윈도우 안의 waiting 매치. 가까운 레이팅, 오래된 순
func (r *MatchRepository) FindWaitingCandidate(ctx context.Context, q models.CandidateQuery) (*models.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE match_type = $1
		  AND mode = $2
		  AND state = 'waiting'
		  AND player2_id IS NULL
		  AND rating BETWEEN $3 AND $4
		  AND player1_id <> $5
		ORDER BY ABS(rating - $6), created_at
		LIMIT 1
	`
	return r.queryOne(ctx, query, q.MatchType, q.Mode, q.MinRating, q.MaxRating, q.ExcludeID, q.Center)
}

// FindOpenByPlayer 참가 중인 waiting/live 매치
func (r *MatchRepository) FindOpenByPlayer(ctx context.Context, userID string, matchType models.MatchType, mode models.MatchMode) (*models.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE match_type = $1
		  AND mode = $2
		  AND state IN ('waiting', 'live')
		  AND (player1_id = $3 OR player2_id = $3)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.queryOne(ctx, query, matchType, mode, userID)
}

// CountWaiting 큐 크기
func (r *MatchRepository) CountWaiting(ctx context.Context, matchType models.MatchType, mode models.MatchMode) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matches WHERE match_type = $1 AND mode = $2 AND state = 'waiting'`,
		matchType, mode,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count waiting matches: %w", err)
	}
	return count, nil
}

// ClaimWaiting player2 자리를 조건부로 차지. 동시에 여러 요청이 와도 한 행만 갱신된다
func (r *MatchRepository) ClaimWaiting(ctx context.Context, matchID, player2ID string, startedAt time.Time) (bool, error) {
	if !isUUID(matchID) {
		return false, nil
	}
	query := `
		UPDATE matches
		SET player2_id = $2,
		    state = 'live',
		    started_at = $3
		WHERE id = $1
		  AND state = 'waiting'
		  AND player2_id IS NULL
		  AND player1_id <> $2
	`
	result, err := r.db.ExecContext(ctx, query, matchID, player2ID, startedAt)
	return r.affected(result, err, "claim")
}

// CancelWaiting 아직 상대가 없는 자신의 매치 삭제
func (r *MatchRepository) CancelWaiting(ctx context.Context, matchID, player1ID string) (bool, error) {
	if !isUUID(matchID) {
		return false, nil
	}
	query := `
		DELETE FROM matches
		WHERE id = $1
		  AND state = 'waiting'
		  AND player2_id IS NULL
		  AND player1_id = $2
	`
	result, err := r.db.ExecContext(ctx, query, matchID, player1ID)
	return r.affected(result, err, "cancel")
}

// Finish live -> finished
func (r *MatchRepository) Finish(ctx context.Context, matchID string, outcome models.MatchOutcome, finishedAt time.Time) (bool, error) {
	if !isUUID(matchID) {
		return false, nil
	}
	query := `
		UPDATE matches
		SET state = 'finished',
		    winner_id = $2,
		    end_reason = $3,
		    finished_at = $4
		WHERE id = $1
		  AND state = 'live'
	`
	result, err := r.db.ExecContext(ctx, query, matchID, outcome.WinnerID, outcome.Reason, finishedAt)
	return r.affected(result, err, "finish")
}

// DeleteStaleWaiting createdBefore 이전에 만들어진 waiting 매치 삭제 후 반환
func (r *MatchRepository) DeleteStaleWaiting(ctx context.Context, createdBefore time.Time) ([]*models.Match, error) {
	query := `
		DELETE FROM matches
		WHERE state = 'waiting'
		  AND player2_id IS NULL
		  AND created_at < $1
		RETURNING ` + matchColumns
	return r.queryMany(ctx, query, createdBefore)
}

// ListExpiredLive startedBefore 이전에 시작된 live 매치
func (r *MatchRepository) ListExpiredLive(ctx context.Context, startedBefore time.Time, limit int) ([]*models.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE state = 'live'
		  AND started_at <= $1
		ORDER BY started_at
		LIMIT $2
	`
	return r.queryMany(ctx, query, startedBefore, limit)
}
