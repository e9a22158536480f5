package models

import "time"

// DailyLimit free 플랜 일일 매치 쿼터 (UTC 기준 날짜별)
type DailyLimit struct {
	UserID        string    `json:"userId" db:"user_id"`
	Date          time.Time `json:"date" db:"date"`
	MatchesPlayed int       `json:"matchesPlayed" db:"matches_played"`
}

// QuotaDate 쿼터 집계에 쓰는 날짜 (UTC 자정)
func QuotaDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
