package service

import (
	"context"
	"time"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/pkg/distributed"
)

// MatchStore 매치 저장소. 상태 전이는 모두 조건부 쓰기이며 bool 은 실제로 반영됐는지를 뜻한다.
// 조회 메서드는 없으면 nil, nil 을 반환한다.
type MatchStore interface {
	Create(ctx context.Context, match *models.Match) error
	FindByID(ctx context.Context, id string) (*models.Match, error)
	FindWaitingCandidate(ctx context.Context, q models.CandidateQuery) (*models.Match, error)
	FindOpenByPlayer(ctx context.Context, userID string, matchType models.MatchType, mode models.MatchMode) (*models.Match, error)
	CountWaiting(ctx context.Context, matchType models.MatchType, mode models.MatchMode) (int, error)

	// ClaimWaiting waiting 이고 player2 가 비어 있을 때만 live 로 전환
	ClaimWaiting(ctx context.Context, matchID, player2ID string, startedAt time.Time) (bool, error)
	// CancelWaiting 아직 claim 되지 않은 player1 자신의 매치만 삭제
	CancelWaiting(ctx context.Context, matchID, player1ID string) (bool, error)
	// Finish live 일 때만 finished 로 전환
	Finish(ctx context.Context, matchID string, outcome models.MatchOutcome, finishedAt time.Time) (bool, error)

	DeleteStaleWaiting(ctx context.Context, createdBefore time.Time) ([]*models.Match, error)
	ListExpiredLive(ctx context.Context, startedBefore time.Time, limit int) ([]*models.Match, error)
}

type RatingStore interface {
	GetOrCreate(ctx context.Context, userID string, mode models.MatchType) (*models.PlayerRating, error)
	// ApplyUpdates 하나의 트랜잭션으로 반영. (matchId, userId) 기록이 이미 있으면 건너뛰고, 새로 반영된 수를 반환
	ApplyUpdates(ctx context.Context, updates []models.RatingUpdate) (int, error)
	History(ctx context.Context, userID string, mode models.MatchType, limit int) ([]*models.RatingHistory, error)
}

type DailyLimitStore interface {
	MatchesPlayed(ctx context.Context, userID string, date time.Time) (int, error)
	Increment(ctx context.Context, userID string, date time.Time) error
}

type ProblemStore interface {
	ListByRating(ctx context.Context, minRating, maxRating int) ([]*models.Problem, error)
	// LastSeen since 이후 userIDs 중 누군가에게 노출된 문제 -> 가장 최근 노출 시각
	LastSeen(ctx context.Context, userIDs []string, since time.Time) (map[string]time.Time, error)
	RecordExposure(ctx context.Context, userID string, problemIDs []string, at time.Time) error
	Upsert(ctx context.Context, problem *models.Problem) error
}

type SubmissionStore interface {
	Create(ctx context.Context, sub *models.Submission) error
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	// UpdateVerdict pending 일 때만 판정 기록
	UpdateVerdict(ctx context.Context, id string, verdict models.Verdict, judgedAt time.Time) (bool, error)
	ListByMatch(ctx context.Context, matchID string) ([]*models.Submission, error)
}

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

// Publisher 베스트 에포트 브로드캐스트 (websocket hub 또는 Redis broadcaster)
type Publisher interface {
	Publish(topic, kind string, payload interface{})
}

// Eligibility 구독/쿼터 확인
type Eligibility interface {
	IsEligibleForRankedPlay(ctx context.Context, userID string) (bool, error)
	// DailyMatchesRemaining unlimited 가 true 면 remaining 은 의미 없음
	DailyMatchesRemaining(ctx context.Context, userID string) (remaining int, unlimited bool, err error)
}

// SettlementQueue 실패한 레이팅 정산 재시도 큐
type SettlementQueue interface {
	Enqueue(ctx context.Context, job *distributed.Job) error
	Drain(ctx context.Context, backoff time.Duration, handler func(ctx context.Context, job *distributed.Job) error) (int, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, interface{}) {}
