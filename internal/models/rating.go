package models

import "time"

const (
	DefaultRating     = 1200
	DefaultVolatility = 32
	MinVolatility     = 16
	MaxVolatility     = 40
)

type PlayerRating struct {
	UserID           string    `json:"userId" db:"user_id"`
	Mode             MatchType `json:"mode" db:"mode"`
	Rating           int       `json:"rating" db:"rating"`
	Volatility       int       `json:"volatility" db:"volatility"`
	MatchesPlayed    int       `json:"matchesPlayed" db:"matches_played"`
	Wins             int       `json:"wins" db:"wins"`
	Losses           int       `json:"losses" db:"losses"`
	PeakRating       int       `json:"peakRating" db:"peak_rating"`
	CurrentWinStreak int       `json:"currentWinStreak" db:"current_win_streak"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

// NewPlayerRating 첫 요청 시 생성되는 기본 레이팅
func NewPlayerRating(userID string, mode MatchType) PlayerRating {
	return PlayerRating{
		UserID:     userID,
		Mode:       mode,
		Rating:     DefaultRating,
		Volatility: DefaultVolatility,
		PeakRating: DefaultRating,
	}
}

// RatingUpdate 레이팅 엔진 계산 결과 (한 참가자 기준)
type RatingUpdate struct {
	UserID           string       `json:"userId"`
	Mode             MatchType    `json:"mode"`
	MatchID          string       `json:"matchId"`
	RatingBefore     int          `json:"ratingBefore"`
	RatingAfter      int          `json:"ratingAfter"`
	Delta            int          `json:"delta"`
	VolatilityBefore int          `json:"volatilityBefore"`
	VolatilityAfter  int          `json:"volatilityAfter"`
	KFactor          int          `json:"kFactor"`
	Won              bool         `json:"won"`
	Next             PlayerRating `json:"-"`
}

type RatingHistory struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"userId" db:"user_id"`
	MatchID      string    `json:"matchId" db:"match_id"`
	Mode         MatchType `json:"mode" db:"mode"`
	RatingBefore int       `json:"ratingBefore" db:"rating_before"`
	RatingAfter  int       `json:"ratingAfter" db:"rating_after"`
	Delta        int       `json:"delta" db:"delta"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
