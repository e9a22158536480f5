package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeduel/duel-backend/internal/models"
)

func TestCanTransition(t *testing.T) {
	states := []models.MatchState{models.MatchStateWaiting, models.MatchStateLive, models.MatchStateFinished}
	allowed := map[[2]models.MatchState]bool{
		{models.MatchStateWaiting, models.MatchStateLive}:  true,
		{models.MatchStateLive, models.MatchStateFinished}: true,
	}

	for _, from := range states {
		for _, to := range states {
			assert.Equal(t, allowed[[2]models.MatchState{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransition(t *testing.T) {
	m := &models.Match{State: models.MatchStateWaiting}

	require.NoError(t, Transition(m, models.MatchStateLive))
	require.NoError(t, Transition(m, models.MatchStateFinished))
	assert.Equal(t, models.MatchStateFinished, m.State)

	err := Transition(m, models.MatchStateLive)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.MatchStateFinished, m.State)
}

func TestPhaseClock(t *testing.T) {
	clock := PhaseClock{Duration: 40 * time.Minute, PressureWindow: 5 * time.Minute}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	live := &models.Match{State: models.MatchStateLive, StartedAt: &start}

	tests := []struct {
		elapsed   time.Duration
		phase     models.Phase
		remaining time.Duration
	}{
		{0, models.PhaseNormal, 40 * time.Minute},
		{34*time.Minute + 59*time.Second, models.PhaseNormal, 5*time.Minute + time.Second},
		{35 * time.Minute, models.PhasePressure, 5 * time.Minute},
		{39 * time.Minute, models.PhasePressure, time.Minute},
		{40 * time.Minute, models.PhaseExpired, 0},
		{2 * time.Hour, models.PhaseExpired, 0},
	}
	for _, tt := range tests {
		now := start.Add(tt.elapsed)
		assert.Equal(t, tt.phase, clock.Phase(live, now), "elapsed=%s", tt.elapsed)
		assert.Equal(t, tt.remaining, clock.Remaining(live, now), "elapsed=%s", tt.elapsed)
		assert.Equal(t, tt.phase == models.PhaseExpired, clock.Expired(live, now), "elapsed=%s", tt.elapsed)
	}

	waiting := &models.Match{State: models.MatchStateWaiting}
	assert.Equal(t, models.Phase(""), clock.Phase(waiting, start))
	assert.False(t, clock.Expired(waiting, start.Add(time.Hour)))
	assert.True(t, clock.Deadline(waiting).IsZero())

	finished := &models.Match{State: models.MatchStateFinished, StartedAt: &start}
	assert.Equal(t, models.Phase(""), clock.Phase(finished, start.Add(time.Hour)))
	assert.False(t, clock.Expired(finished, start.Add(time.Hour)))
}
