package service

import (
	"context"
	"fmt"
	"time"

	"github.com/codeduel/duel-backend/internal/models"
)

// EligibilityService 플랜/권한 기반 ranked 자격과 일일 쿼터
type EligibilityService struct {
	users          UserStore
	limits         DailyLimitStore
	freeDailyLimit int
	now            func() time.Time
}

func NewEligibilityService(users UserStore, limits DailyLimitStore, freeDailyLimit int) *EligibilityService {
	return &EligibilityService{
		users:          users,
		limits:         limits,
		freeDailyLimit: freeDailyLimit,
		now:            time.Now,
	}
}

func (s *EligibilityService) user(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// IsEligibleForRankedPlay premium 또는 admin
func (s *EligibilityService) IsEligibleForRankedPlay(ctx context.Context, userID string) (bool, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Privileged(), nil
}

// DailyMatchesRemaining free 플랜만 제한. 오늘(UTC) 이미 치른 매치 수를 뺀 값
func (s *EligibilityService) DailyMatchesRemaining(ctx context.Context, userID string) (int, bool, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if user.Privileged() {
		return 0, true, nil
	}

	played, err := s.limits.MatchesPlayed(ctx, userID, models.QuotaDate(s.now()))
	if err != nil {
		return 0, false, fmt.Errorf("failed to read daily limit: %w", err)
	}

	remaining := s.freeDailyLimit - played
	if remaining < 0 {
		remaining = 0
	}
	return remaining, false, nil
}
