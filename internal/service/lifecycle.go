package service

import (
	"fmt"
	"time"

	"github.com/codeduel/duel-backend/internal/models"
)

// CanTransition waiting -> live -> finished 만 허용
func CanTransition(from, to models.MatchState) bool {
	switch from {
	case models.MatchStateWaiting:
		return to == models.MatchStateLive
	case models.MatchStateLive:
		return to == models.MatchStateFinished
	}
	return false
}

// Transition 메모리상의 매치 상태 변경. 저장소는 같은 규칙을 조건부 쓰기로 강제한다
func Transition(match *models.Match, to models.MatchState) error {
	if !CanTransition(match.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, match.State, to)
	}
	match.State = to
	return nil
}

// PhaseClock live 매치의 단계를 startedAt 으로부터 계산 (별도 타이머 없음)
type PhaseClock struct {
	Duration       time.Duration
	PressureWindow time.Duration
}

// Deadline 제한 시간이 끝나는 시각. live 가 아니면 zero
func (c PhaseClock) Deadline(match *models.Match) time.Time {
	if match.StartedAt == nil {
		return time.Time{}
	}
	return match.StartedAt.Add(c.Duration)
}

// Remaining 남은 시간 (음수 없음)
func (c PhaseClock) Remaining(match *models.Match, now time.Time) time.Duration {
	if match.State != models.MatchStateLive || match.StartedAt == nil {
		return 0
	}
	left := c.Deadline(match).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Expired 제한 시간이 지난 live 매치
func (c PhaseClock) Expired(match *models.Match, now time.Time) bool {
	return match.State == models.MatchStateLive &&
		match.StartedAt != nil &&
		!now.Before(c.Deadline(match))
}

// Phase live 매치에서만 값이 있다
func (c PhaseClock) Phase(match *models.Match, now time.Time) models.Phase {
	if match.State != models.MatchStateLive || match.StartedAt == nil {
		return ""
	}

	switch left := c.Deadline(match).Sub(now); {
	case left <= 0:
		return models.PhaseExpired
	case left <= c.PressureWindow:
		return models.PhasePressure
	default:
		return models.PhaseNormal
	}
}
