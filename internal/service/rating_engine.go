package service

import (
	"fmt"
	"math"

	"github.com/codeduel/duel-backend/internal/models"
)

// Participant 레이팅 계산에 참여하는 플레이어와 소속 팀
type Participant struct {
	Rating models.PlayerRating
	Team   int
}

// RatingEngine 변동성 기반 K-factor 를 쓰는 ELO 계산기.
// 상태가 없으므로 값으로 주입해서 쓴다.
type RatingEngine struct {
	HighK int
	BaseK int
	LowK  int

	// ProvisionalMatches 이 판수 미만이면 항상 HighK
	ProvisionalMatches int
	// 변동성이 HighVolatility 초과면 HighK, LowVolatility 미만이면 LowK
	HighVolatility int
	LowVolatility  int

	SurpriseThreshold float64
	VolatilityUp      int
	VolatilityDown    int
}

func NewRatingEngine() RatingEngine {
	return RatingEngine{
		HighK:              40,
		BaseK:              32,
		LowK:               24,
		ProvisionalMatches: 20,
		HighVolatility:     35,
		LowVolatility:      25,
		SurpriseThreshold:  0.5,
		VolatilityUp:       2,
		VolatilityDown:     1,
	}
}

// ExpectedScore A 가 B 를 이길 기대 확률
func (e RatingEngine) ExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

// KFactor 판수와 변동성에 따른 K
func (e RatingEngine) KFactor(matchesPlayed, volatility int) int {
	switch {
	case matchesPlayed < e.ProvisionalMatches:
		return e.HighK
	case volatility > e.HighVolatility:
		return e.HighK
	case volatility < e.LowVolatility:
		return e.LowK
	default:
		return e.BaseK
	}
}

// NextVolatility 예상 밖 결과면 올리고 아니면 내린다. [16, 40] 으로 고정
func (e RatingEngine) NextVolatility(volatility int, actual, expected float64) int {
	next := volatility - e.VolatilityDown
	if math.Abs(actual-expected) > e.SurpriseThreshold {
		next = volatility + e.VolatilityUp
	}
	return clamp(next, models.MinVolatility, models.MaxVolatility)
}

// ApplyResult 승패 결과로 각 참가자의 새 레이팅 계산 (저장은 하지 않음).
// 팀 레이팅은 평균이고 기대값/실제값은 팀 단위로 한 번만 계산한 뒤
// 각 멤버에게 자신의 레이팅과 K 로 적용한다.
func (e RatingEngine) ApplyResult(matchID string, mode models.MatchType, participants []Participant, winningTeam int) ([]models.RatingUpdate, error) {
	if winningTeam == 0 {
		return nil, ErrDrawNotRated
	}
	if winningTeam != models.Team1 && winningTeam != models.Team2 {
		return nil, fmt.Errorf("%w: winning team %d", ErrInvalidInput, winningTeam)
	}

	sums := map[int]float64{}
	counts := map[int]int{}
	for _, p := range participants {
		if p.Team != models.Team1 && p.Team != models.Team2 {
			return nil, fmt.Errorf("%w: team %d", ErrInvalidInput, p.Team)
		}
		sums[p.Team] += float64(p.Rating.Rating)
		counts[p.Team]++
	}
	if counts[models.Team1] == 0 || counts[models.Team2] == 0 {
		return nil, fmt.Errorf("%w: both teams need at least one player", ErrInvalidInput)
	}

	mean1 := sums[models.Team1] / float64(counts[models.Team1])
	mean2 := sums[models.Team2] / float64(counts[models.Team2])
	expected1 := e.ExpectedScore(mean1, mean2)

	expected := map[int]float64{
		models.Team1: expected1,
		models.Team2: 1 - expected1,
	}

	updates := make([]models.RatingUpdate, 0, len(participants))
	for _, p := range participants {
		won := p.Team == winningTeam
		actual := 0.0
		if won {
			actual = 1.0
		}

		cur := p.Rating
		k := e.KFactor(cur.MatchesPlayed, cur.Volatility)
		delta := int(math.Round(float64(k) * (actual - expected[p.Team])))

		next := cur
		next.Mode = mode
		next.Rating = cur.Rating + delta
		next.Volatility = e.NextVolatility(cur.Volatility, actual, expected[p.Team])
		next.MatchesPlayed++
		if won {
			next.Wins++
			next.CurrentWinStreak++
		} else {
			next.Losses++
			next.CurrentWinStreak = 0
		}
		if next.Rating > next.PeakRating {
			next.PeakRating = next.Rating
		}

		updates = append(updates, models.RatingUpdate{
			UserID:           cur.UserID,
			Mode:             mode,
			MatchID:          matchID,
			RatingBefore:     cur.Rating,
			RatingAfter:      next.Rating,
			Delta:            delta,
			VolatilityBefore: cur.Volatility,
			VolatilityAfter:  next.Volatility,
			KFactor:          k,
			Won:              won,
			Next:             next,
		})
	}

	return updates, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
