package models

import "time"

type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

type Submission struct {
	ID        string     `json:"id" db:"id"`
	MatchID   string     `json:"matchId" db:"match_id"`
	UserID    string     `json:"userId" db:"user_id"`
	ProblemID string     `json:"problemId" db:"problem_id"`
	Verdict   Verdict    `json:"verdict" db:"verdict"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	JudgedAt  *time.Time `json:"judgedAt,omitempty" db:"judged_at"`
}

// ScoreboardEntry 참가자별 해결 현황
type ScoreboardEntry struct {
	UserID   string   `json:"userId"`
	Solved   int      `json:"solved"`
	Problems []string `json:"problems,omitempty"`
	Hidden   bool     `json:"hidden,omitempty"`
}
