package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/pkg/distributed"
)

// settlementJob 재시도 큐에 넣는 정산 작업
type settlementJob struct {
	MatchID   string           `json:"matchId"`
	MatchType models.MatchType `json:"matchType"`
	Player1ID string           `json:"player1Id"`
	Player2ID string           `json:"player2Id"`
	WinnerID  string           `json:"winnerId"`
}

// RatingService 종료된 매치의 레이팅 정산
type RatingService struct {
	store       RatingStore
	engine      RatingEngine
	queue       SettlementQueue
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
}

// NewRatingService queue 가 nil 이면 실패한 정산을 재시도하지 않는다
func NewRatingService(store RatingStore, engine RatingEngine, queue SettlementQueue, maxAttempts int, logger *zap.Logger) *RatingService {
	return &RatingService{
		store:       store,
		engine:      engine,
		queue:       queue,
		maxAttempts: maxAttempts,
		retryDelay:  30 * time.Second,
		logger:      logger,
	}
}

// Settle 승패가 난 매치의 레이팅 반영. 무승부(WinnerID == nil)는 반영하지 않는다.
// 같은 매치로 여러 번 호출해도 (matchId, userId) 기록 덕분에 한 번만 반영된다.
func (s *RatingService) Settle(ctx context.Context, match *models.Match, outcome models.MatchOutcome) ([]models.RatingUpdate, error) {
	if outcome.WinnerID == nil {
		s.logger.Info("Match ended in a draw, ratings unchanged", zap.String("match_id", match.ID))
		return nil, nil
	}
	if match.Player2ID == nil {
		return nil, fmt.Errorf("%w: match %s has no opponent", ErrInvalidInput, match.ID)
	}

	job := settlementJob{
		MatchID:   match.ID,
		MatchType: match.MatchType,
		Player1ID: match.Player1ID,
		Player2ID: *match.Player2ID,
		WinnerID:  *outcome.WinnerID,
	}

	updates, err := s.settle(ctx, job)
	if err != nil {
		if !errors.Is(err, ErrInvalidInput) {
			s.deferSettlement(ctx, job, err)
		}
		return nil, err
	}
	return updates, nil
}

func (s *RatingService) settle(ctx context.Context, job settlementJob) ([]models.RatingUpdate, error) {
	winningTeam := models.Team1
	switch job.WinnerID {
	case job.Player1ID:
	case job.Player2ID:
		winningTeam = models.Team2
	default:
		return nil, fmt.Errorf("%w: winner %s is not in match %s", ErrInvalidInput, job.WinnerID, job.MatchID)
	}

	var r1, r2 *models.PlayerRating
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		r1, err = s.store.GetOrCreate(gctx, job.Player1ID, job.MatchType)
		return err
	})
	g.Go(func() error {
		var err error
		r2, err = s.store.GetOrCreate(gctx, job.Player2ID, job.MatchType)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load ratings: %w", err)
	}

	updates, err := s.engine.ApplyResult(job.MatchID, job.MatchType, []Participant{
		{Rating: *r1, Team: models.Team1},
		{Rating: *r2, Team: models.Team2},
	}, winningTeam)
	if err != nil {
		return nil, err
	}

	applied, err := s.store.ApplyUpdates(ctx, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to persist rating updates: %w", err)
	}
	if applied == 0 {
		s.logger.Info("Ratings already settled for match", zap.String("match_id", job.MatchID))
	}

	s.logger.Info("Ratings settled",
		zap.String("match_id", job.MatchID),
		zap.String("winner_id", job.WinnerID),
		zap.Int("applied", applied))

	return updates, nil
}

func (s *RatingService) deferSettlement(ctx context.Context, job settlementJob, cause error) {
	if s.queue == nil {
		s.logger.Error("Rating settlement failed", zap.String("match_id", job.MatchID), zap.Error(cause))
		return
	}

	payload, err := json.Marshal(job)
	if err != nil {
		s.logger.Error("Failed to marshal settlement job", zap.Error(err))
		return
	}

	if err := s.queue.Enqueue(ctx, &distributed.Job{
		ID:          job.MatchID,
		Payload:     payload,
		MaxAttempts: s.maxAttempts,
		LastError:   cause.Error(),
	}); err != nil {
		s.logger.Error("Failed to enqueue settlement retry",
			zap.String("match_id", job.MatchID), zap.Error(err))
		return
	}

	s.logger.Warn("Rating settlement deferred",
		zap.String("match_id", job.MatchID), zap.Error(cause))
}

// RetryDeferred 재시도 큐에 쌓인 정산 처리. 처리된 개수 반환
func (s *RatingService) RetryDeferred(ctx context.Context) (int, error) {
	if s.queue == nil {
		return 0, nil
	}

	return s.queue.Drain(ctx, s.retryDelay, func(ctx context.Context, j *distributed.Job) error {
		var job settlementJob
		if err := json.Unmarshal(j.Payload, &job); err != nil {
			return fmt.Errorf("corrupt settlement job %s: %w", j.ID, err)
		}
		_, err := s.settle(ctx, job)
		return err
	})
}

// GetRating 모드별 현재 레이팅 (없으면 기본값으로 생성)
func (s *RatingService) GetRating(ctx context.Context, userID string, mode models.MatchType) (*models.PlayerRating, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: mode %q", ErrInvalidInput, mode)
	}
	return s.store.GetOrCreate(ctx, userID, mode)
}

// History 최근 레이팅 변동 기록
func (s *RatingService) History(ctx context.Context, userID string, mode models.MatchType, limit int) ([]*models.RatingHistory, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: mode %q", ErrInvalidInput, mode)
	}
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}
	return s.store.History(ctx, userID, mode, limit)
}
