package service

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeduel/duel-backend/internal/models"
)

func player(id string, rating, played, volatility int) models.PlayerRating {
	r := models.NewPlayerRating(id, models.MatchType1v1)
	r.Rating = rating
	r.PeakRating = rating
	r.MatchesPlayed = played
	r.Volatility = volatility
	return r
}

func TestRatingEngine_KFactor(t *testing.T) {
	engine := NewRatingEngine()

	tests := []struct {
		name       string
		played     int
		volatility int
		expectedK  int
	}{
		{"provisional ignores volatility", 0, 16, 40},
		{"last provisional match", 19, 20, 40},
		{"established high volatility", 20, 36, 40},
		{"established boundary 35 is base", 20, 35, 32},
		{"established base", 50, 30, 32},
		{"established boundary 25 is base", 50, 25, 32},
		{"established low volatility", 50, 24, 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.KFactor(tt.played, tt.volatility); got != tt.expectedK {
				t.Errorf("KFactor(%d, %d) = %d, want %d", tt.played, tt.volatility, got, tt.expectedK)
			}
		})
	}
}

func TestRatingEngine_ExpectedScoreIsComplementary(t *testing.T) {
	engine := NewRatingEngine()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		a := float64(rng.Intn(3000))
		b := float64(rng.Intn(3000))
		sum := engine.ExpectedScore(a, b) + engine.ExpectedScore(b, a)
		assert.InDelta(t, 1.0, sum, 1e-12, "E(%v,%v)+E(%v,%v)", a, b, b, a)
	}

	assert.InDelta(t, 0.5, engine.ExpectedScore(1500, 1500), 1e-12)
	assert.InDelta(t, 0.4284, engine.ExpectedScore(1200, 1250), 1e-4)
}

// 1200(K=40) 이 1250(K=40) 을 이긴 경우
func TestRatingEngine_ApplyResult_UpsetWin(t *testing.T) {
	engine := NewRatingEngine()

	updates, err := engine.ApplyResult("m1", models.MatchType1v1, []Participant{
		{Rating: player("a", 1200, 0, 32), Team: models.Team1},
		{Rating: player("b", 1250, 0, 32), Team: models.Team2},
	}, models.Team1)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	a, b := updates[0], updates[1]
	assert.Equal(t, 1223, a.RatingAfter)
	assert.Equal(t, 23, a.Delta)
	assert.Equal(t, 1227, b.RatingAfter)
	assert.Equal(t, -23, b.Delta)

	assert.Equal(t, 40, a.KFactor)
	assert.True(t, a.Won)
	assert.False(t, b.Won)

	// 기대값 0.43 에서 승리: surprise 0.57 > 0.5
	assert.Equal(t, 34, a.VolatilityAfter)
	assert.Equal(t, 34, b.VolatilityAfter)

	assert.Equal(t, 1223, a.Next.PeakRating)
	assert.Equal(t, 1250, b.Next.PeakRating, "peak never decreases")
	assert.Equal(t, 1, a.Next.Wins)
	assert.Equal(t, 1, a.Next.CurrentWinStreak)
	assert.Equal(t, 1, b.Next.Losses)
	assert.Equal(t, 1, b.Next.MatchesPlayed)
	assert.Equal(t, "m1", a.MatchID)
}

func TestRatingEngine_ApplyResult_UnequalKIsAsymmetric(t *testing.T) {
	engine := NewRatingEngine()

	veteran := player("vet", 1500, 100, 20) // K=24
	rookie := player("new", 1500, 3, 32)    // K=40

	updates, err := engine.ApplyResult("m2", models.MatchType1v1, []Participant{
		{Rating: veteran, Team: models.Team1},
		{Rating: rookie, Team: models.Team2},
	}, models.Team1)
	require.NoError(t, err)

	vet, nw := updates[0], updates[1]
	assert.Equal(t, 24, vet.KFactor)
	assert.Equal(t, 40, nw.KFactor)

	assert.Equal(t, 12, vet.Delta)
	assert.Equal(t, -20, nw.Delta)
	assert.NotEqual(t, vet.Delta, -nw.Delta, "deltas must not mirror each other")

	// 각자의 K 에 비례
	ratio := float64(-nw.Delta) / float64(vet.Delta)
	assert.InDelta(t, 40.0/24.0, ratio, 0.05)
}

func TestRatingEngine_ApplyResult_StreakResetsOnLoss(t *testing.T) {
	engine := NewRatingEngine()

	streaker := player("s", 1400, 40, 30)
	streaker.CurrentWinStreak = 4
	streaker.Wins = 10

	updates, err := engine.ApplyResult("m3", models.MatchType1v1, []Participant{
		{Rating: streaker, Team: models.Team1},
		{Rating: player("o", 1400, 40, 30), Team: models.Team2},
	}, models.Team2)
	require.NoError(t, err)

	assert.Equal(t, 0, updates[0].Next.CurrentWinStreak)
	assert.Equal(t, 10, updates[0].Next.Wins)
	assert.Equal(t, 1, updates[0].Next.Losses)
	// 기대값 0.5 에서 패배: 예상 범위 안이므로 변동성 감소
	assert.Equal(t, 29, updates[0].VolatilityAfter)
}

func TestRatingEngine_ApplyResult_TeamsUseMeanButOwnK(t *testing.T) {
	engine := NewRatingEngine()

	updates, err := engine.ApplyResult("m4", models.MatchType3v3, []Participant{
		{Rating: player("a1", 1300, 0, 32), Team: models.Team1},  // K=40
		{Rating: player("a2", 1100, 50, 20), Team: models.Team1}, // K=24
		{Rating: player("b1", 1200, 50, 30), Team: models.Team2}, // K=32
		{Rating: player("b2", 1200, 50, 30), Team: models.Team2},
	}, models.Team1)
	require.NoError(t, err)
	require.Len(t, updates, 4)

	// 두 팀 평균 모두 1200 => expected 0.5
	assert.Equal(t, 20, updates[0].Delta)
	assert.Equal(t, 12, updates[1].Delta)
	assert.Equal(t, -16, updates[2].Delta)
	assert.Equal(t, -16, updates[3].Delta)
	for _, u := range updates {
		assert.Equal(t, models.MatchType3v3, u.Mode)
	}
}

func TestRatingEngine_ApplyResult_Rejects(t *testing.T) {
	engine := NewRatingEngine()
	pair := []Participant{
		{Rating: player("a", 1200, 0, 32), Team: models.Team1},
		{Rating: player("b", 1200, 0, 32), Team: models.Team2},
	}

	_, err := engine.ApplyResult("m", models.MatchType1v1, pair, 0)
	assert.ErrorIs(t, err, ErrDrawNotRated)

	_, err = engine.ApplyResult("m", models.MatchType1v1, pair, 3)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = engine.ApplyResult("m", models.MatchType1v1, pair[:1], models.Team1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRatingEngine_RoundingIsSymmetric(t *testing.T) {
	engine := NewRatingEngine()

	// 같은 레이팅, K=40: 정확히 +20 / -20
	updates, err := engine.ApplyResult("m", models.MatchType1v1, []Participant{
		{Rating: player("a", 1000, 0, 32), Team: models.Team1},
		{Rating: player("b", 1000, 0, 32), Team: models.Team2},
	}, models.Team2)
	require.NoError(t, err)
	assert.Equal(t, -20, updates[0].Delta)
	assert.Equal(t, 20, updates[1].Delta)

	// 반올림은 0 에서 멀어지는 방향 (부호와 무관하게 같은 크기)
	assert.Equal(t, 3.0, math.Round(2.5))
	assert.Equal(t, -3.0, math.Round(-2.5))
}

func TestRatingEngine_VolatilityStaysInBoundsProperty(t *testing.T) {
	engine := NewRatingEngine()
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 200; run++ {
		a := player("a", 800+rng.Intn(1600), rng.Intn(60), models.MinVolatility+rng.Intn(25))
		b := player("b", 800+rng.Intn(1600), rng.Intn(60), models.MinVolatility+rng.Intn(25))

		for i := 0; i < 100; i++ {
			winner := models.Team1 + rng.Intn(2)
			updates, err := engine.ApplyResult("m", models.MatchType1v1, []Participant{
				{Rating: a, Team: models.Team1},
				{Rating: b, Team: models.Team2},
			}, winner)
			require.NoError(t, err)

			a, b = updates[0].Next, updates[1].Next
			for _, r := range []models.PlayerRating{a, b} {
				if r.Volatility < models.MinVolatility || r.Volatility > models.MaxVolatility {
					t.Fatalf("volatility out of bounds: %d", r.Volatility)
				}
			}
		}
	}
}

func FuzzRatingEngine_NextVolatility(f *testing.F) {
	f.Add(32, 1.0, 0.43)
	f.Add(40, 1.0, 0.01)
	f.Add(16, 0.0, 0.5)
	f.Add(-5, 0.0, 0.99)
	f.Add(1000, 1.0, 0.2)

	engine := NewRatingEngine()
	f.Fuzz(func(t *testing.T, volatility int, actual, expected float64) {
		next := engine.NextVolatility(volatility, actual, expected)
		if next < models.MinVolatility || next > models.MaxVolatility {
			t.Fatalf("NextVolatility(%d, %v, %v) = %d out of [%d,%d]",
				volatility, actual, expected, next, models.MinVolatility, models.MaxVolatility)
		}
	})
}
