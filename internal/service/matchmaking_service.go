package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codeduel/duel-backend/internal/models"
)

// MatchTicket RequestMatch 결과
type MatchTicket struct {
	MatchID             string            `json:"matchId"`
	Joined              bool              `json:"joined"`
	State               models.MatchState `json:"state"`
	WaitEstimateSeconds *int              `json:"waitEstimateSeconds,omitempty"`
	Match               *models.Match     `json:"match"`
}

type MatchmakingConfig struct {
	// 레이팅 윈도우 반폭: 판수가 SettleMatches 에 가까워질수록 WindowMax 에서 WindowMin 으로 좁아진다
	WindowMin     int
	WindowMax     int
	SettleMatches int

	BaseWaitEstimate time.Duration
	FogOfProgress    bool
}

// MatchExpirer 제한 시간이 지난 live 매치 종료 (MatchService.FinishExpired)
type MatchExpirer interface {
	FinishExpired(ctx context.Context, match *models.Match) (bool, error)
}

// ProblemPicker 문제 세트 선택 + 노출 기록
type ProblemPicker interface {
	SelectProblems(ctx context.Context, targetRating, count int, excludeRecentlySeenBy []string, topicDiversity bool) ([]string, error)
	RecordExposure(ctx context.Context, userID string, problemIDs []string) error
}

// MatchmakingService waiting 매치를 찾아 조건부로 참가하거나, 없으면 새로 만든다.
// 동시성 안전성은 전적으로 MatchStore 의 조건부 쓰기에서 나온다 (프로세스 내 락 없음).
type MatchmakingService struct {
	matches     MatchStore
	ratings     RatingStore
	limits      DailyLimitStore
	problems    ProblemPicker
	eligibility Eligibility
	expirer     MatchExpirer
	publisher   Publisher
	cfg         MatchmakingConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewMatchmakingService(
	matches MatchStore,
	ratings RatingStore,
	limits DailyLimitStore,
	problems ProblemPicker,
	eligibility Eligibility,
	expirer MatchExpirer,
	publisher Publisher,
	cfg MatchmakingConfig,
	logger *zap.Logger,
) *MatchmakingService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &MatchmakingService{
		matches:     matches,
		ratings:     ratings,
		limits:      limits,
		problems:    problems,
		eligibility: eligibility,
		expirer:     expirer,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// RatingWindow 판수에 따른 윈도우 반폭
func (s *MatchmakingService) RatingWindow(matchesPlayed int) int {
	if s.cfg.SettleMatches <= 0 || matchesPlayed >= s.cfg.SettleMatches {
		return s.cfg.WindowMin
	}
	span := s.cfg.WindowMax - s.cfg.WindowMin
	return s.cfg.WindowMin + span*(s.cfg.SettleMatches-matchesPlayed)/s.cfg.SettleMatches
}

// RequestMatch 매칭 요청. 같은 타입/모드의 진행 중 매치가 있으면 그것을 돌려주므로 재시도해도 안전하다
func (s *MatchmakingService) RequestMatch(ctx context.Context, userID string, matchType models.MatchType, mode models.MatchMode) (*MatchTicket, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if !matchType.Valid() || !mode.Valid() {
		return nil, fmt.Errorf("%w: matchType=%q mode=%q", ErrInvalidInput, matchType, mode)
	}
	if matchType == models.MatchType3v3 {
		return nil, fmt.Errorf("%w: 3v3 queueing", ErrNotImplemented)
	}

	if mode == models.MatchModeRanked {
		ok, err := s.eligibility.IsEligibleForRankedPlay(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to check eligibility: %w", err)
		}
		if !ok {
			return nil, ErrRequiresUpgrade
		}
	}

	open, err := s.openMatch(ctx, userID, matchType, mode)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return s.ticket(open, open.State == models.MatchStateLive, nil), nil
	}

	remaining, unlimited, err := s.eligibility.DailyMatchesRemaining(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check daily limit: %w", err)
	}
	if !unlimited && remaining <= 0 {
		return nil, ErrLimitReached
	}

	rating, err := s.ratings.GetOrCreate(ctx, userID, matchType)
	if err != nil {
		return nil, fmt.Errorf("failed to load rating: %w", err)
	}

	w := s.RatingWindow(rating.MatchesPlayed)
	candidate, err := s.matches.FindWaitingCandidate(ctx, models.CandidateQuery{
		MatchType: matchType,
		Mode:      mode,
		MinRating: rating.Rating - w,
		MaxRating: rating.Rating + w,
		Center:    rating.Rating,
		ExcludeID: userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search waiting matches: %w", err)
	}

	if candidate != nil {
		match, err := s.claim(ctx, candidate, userID)
		if err == nil {
			return s.ticket(match, true, nil), nil
		}
		if err != ErrAlreadyClaimed {
			return nil, err
		}
		// 경쟁에서 짐: 같은 행은 재시도하지 않고 새 매치를 만든다
		s.logger.Debug("Lost claim race, creating a new match",
			zap.String("match_id", candidate.ID),
			zap.String("user_id", userID))
	}

	return s.create(ctx, userID, matchType, mode, rating)
}

// openMatch 진행 중인 자기 매치. 제한 시간이 지난 live 매치는 여기서 종료시키고 없는 것으로 본다
func (s *MatchmakingService) openMatch(ctx context.Context, userID string, matchType models.MatchType, mode models.MatchMode) (*models.Match, error) {
	open, err := s.matches.FindOpenByPlayer(ctx, userID, matchType, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open match: %w", err)
	}
	if open == nil || open.State != models.MatchStateLive || s.expirer == nil {
		return open, nil
	}

	finished, err := s.expirer.FinishExpired(ctx, open)
	if err != nil {
		return nil, fmt.Errorf("failed to finish expired match: %w", err)
	}
	if finished {
		return nil, nil
	}

	// 아직 진행 중이거나, 다른 호출자가 먼저 종료시켰다
	current, err := s.matches.FindByID(ctx, open.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload open match: %w", err)
	}
	if current == nil || current.State == models.MatchStateFinished {
		return nil, nil
	}
	return current, nil
}

func (s *MatchmakingService) claim(ctx context.Context, candidate *models.Match, userID string) (*models.Match, error) {
	startedAt := s.now().UTC()
	ok, err := s.matches.ClaimWaiting(ctx, candidate.ID, userID, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to claim match: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyClaimed
	}

	match, err := s.matches.FindByID(ctx, candidate.ID)
	if err != nil || match == nil {
		// 참가는 이미 확정됨. 후보 데이터로 응답을 구성한다
		match = candidate
		match.State = models.MatchStateLive
		match.Player2ID = &userID
		match.StartedAt = &startedAt
	}

	s.logger.Info("Match joined",
		zap.String("match_id", match.ID),
		zap.String("player1_id", match.Player1ID),
		zap.String("player2_id", userID))

	// 참가가 성립한 매치는 두 참가자 모두의 일일 쿼터를 소비한다
	day := models.QuotaDate(startedAt)
	for _, uid := range []string{match.Player1ID, userID} {
		if err := s.limits.Increment(ctx, uid, day); err != nil {
			s.logger.Error("Failed to increment daily limit", zap.String("user_id", uid), zap.Error(err))
		}
	}
	if err := s.problems.RecordExposure(ctx, userID, match.ProblemIDs); err != nil {
		s.logger.Warn("Failed to record problem exposure", zap.String("user_id", userID), zap.Error(err))
	}

	waiting := s.countWaiting(ctx, match.MatchType, match.Mode)
	s.publisher.Publish(models.QueueTopic(match.Mode), models.EventMatchFound, models.QueueUpdate{
		MatchType: match.MatchType,
		Mode:      match.Mode,
		Waiting:   waiting,
		MatchID:   match.ID,
		Player1ID: match.Player1ID,
		Player2ID: userID,
	})
	s.publisher.Publish(models.BattleTopic(match.ID), models.EventStateChange, models.BattleUpdate{
		MatchID:   match.ID,
		State:     match.State,
		StartedAt: match.StartedAt,
	})
	s.publishQueueSize(match.MatchType, match.Mode, waiting)

	return match, nil
}

func (s *MatchmakingService) create(ctx context.Context, userID string, matchType models.MatchType, mode models.MatchMode, rating *models.PlayerRating) (*MatchTicket, error) {
	problemIDs, err := s.problems.SelectProblems(ctx, rating.Rating, models.ProblemsPerMatch, []string{userID}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select problems: %w", err)
	}

	match := &models.Match{
		MatchType:     matchType,
		Mode:          mode,
		State:         models.MatchStateWaiting,
		Player1ID:     userID,
		Rating:        rating.Rating,
		ProblemIDs:    problemIDs,
		FogOfProgress: s.cfg.FogOfProgress,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.matches.Create(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	if err := s.problems.RecordExposure(ctx, userID, problemIDs); err != nil {
		s.logger.Warn("Failed to record problem exposure", zap.String("user_id", userID), zap.Error(err))
	}

	waiting := s.countWaiting(ctx, matchType, mode)
	s.publishQueueSize(matchType, mode, waiting)

	s.logger.Info("Waiting match created",
		zap.String("match_id", match.ID),
		zap.String("user_id", userID),
		zap.Int("rating", rating.Rating),
		zap.Int("waiting", waiting))

	// 대기 중인 매치가 많을수록 상대가 들어오는 데 오래 걸린다 (힌트일 뿐)
	estimate := int((s.cfg.BaseWaitEstimate * time.Duration(max(waiting, 1))).Seconds())
	return s.ticket(match, false, &estimate), nil
}

// CancelWaiting 아직 상대가 없는 자신의 waiting 매치 취소
func (s *MatchmakingService) CancelWaiting(ctx context.Context, userID, matchID string) error {
	if userID == "" {
		return ErrUnauthorized
	}

	ok, err := s.matches.CancelWaiting(ctx, matchID, userID)
	if err != nil {
		return fmt.Errorf("failed to cancel match: %w", err)
	}
	if ok {
		s.logger.Info("Waiting match cancelled", zap.String("match_id", matchID), zap.String("user_id", userID))
		// 삭제된 매치의 타입/모드는 알 수 없으므로 1v1 큐 전체를 갱신
		for _, mode := range []models.MatchMode{models.MatchModeRanked, models.MatchModeUnranked} {
			s.publishQueueSize(models.MatchType1v1, mode, s.countWaiting(ctx, models.MatchType1v1, mode))
		}
		return nil
	}

	match, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		return fmt.Errorf("failed to get match: %w", err)
	}
	switch {
	case match == nil:
		return ErrMatchNotFound
	case match.Player1ID != userID:
		return ErrNotParticipant
	default:
		// 취소 직전에 누군가 참가함
		return ErrAlreadyClaimed
	}
}

// PublishQueueSize reaper 등 외부에서 큐 크기 변경을 알릴 때
func (s *MatchmakingService) PublishQueueSize(ctx context.Context, matchType models.MatchType, mode models.MatchMode) {
	s.publishQueueSize(matchType, mode, s.countWaiting(ctx, matchType, mode))
}

func (s *MatchmakingService) publishQueueSize(matchType models.MatchType, mode models.MatchMode, waiting int) {
	s.publisher.Publish(models.QueueTopic(mode), models.EventQueueSize, models.QueueUpdate{
		MatchType: matchType,
		Mode:      mode,
		Waiting:   waiting,
	})
}

func (s *MatchmakingService) countWaiting(ctx context.Context, matchType models.MatchType, mode models.MatchMode) int {
	n, err := s.matches.CountWaiting(ctx, matchType, mode)
	if err != nil {
		s.logger.Warn("Failed to count waiting matches", zap.Error(err))
		return 0
	}
	return n
}

func (s *MatchmakingService) ticket(match *models.Match, joined bool, waitEstimate *int) *MatchTicket {
	return &MatchTicket{
		MatchID:             match.ID,
		Joined:              joined,
		State:               match.State,
		WaitEstimateSeconds: waitEstimate,
		Match:               match,
	}
}
