package models

import "time"

type MatchType string

const (
	MatchType1v1 MatchType = "1v1"
	MatchType3v3 MatchType = "3v3"
)

// Valid 지원하는 매치 타입인지 확인
func (t MatchType) Valid() bool {
	return t == MatchType1v1 || t == MatchType3v3
}

type MatchMode string

const (
	MatchModeRanked   MatchMode = "ranked"
	MatchModeUnranked MatchMode = "unranked"
)

func (m MatchMode) Valid() bool {
	return m == MatchModeRanked || m == MatchModeUnranked
}

type MatchState string

const (
	MatchStateWaiting  MatchState = "waiting"
	MatchStateLive     MatchState = "live"
	MatchStateFinished MatchState = "finished"
)

// Phase live 상태에서만 의미가 있는 파생 단계 (저장하지 않음)
type Phase string

const (
	PhaseNormal   Phase = "normal"
	PhasePressure Phase = "pressure"
	PhaseExpired  Phase = "expired"
)

type EndReason string

const (
	EndReasonTimeLimit EndReason = "time_limit"
	EndReasonForfeit   EndReason = "forfeit"
	EndReasonAllSolved EndReason = "all_solved"
)

// ProblemsPerMatch 매치 생성 시 고정되는 문제 수
const ProblemsPerMatch = 3

type Match struct {
	ID            string     `json:"id" db:"id"`
	MatchType     MatchType  `json:"matchType" db:"match_type"`
	Mode          MatchMode  `json:"mode" db:"mode"`
	State         MatchState `json:"state" db:"state"`
	Player1ID     string     `json:"player1Id" db:"player1_id"`
	Player2ID     *string    `json:"player2Id,omitempty" db:"player2_id"`
	Rating        int        `json:"rating" db:"rating"` // player1 rating snapshot for the window search
	ProblemIDs    []string   `json:"problemIds" db:"problem_ids"`
	FogOfProgress bool       `json:"fogOfProgress" db:"fog_of_progress"`
	WinnerID      *string    `json:"winnerId,omitempty" db:"winner_id"`
	EndReason     *EndReason `json:"endReason,omitempty" db:"end_reason"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	StartedAt     *time.Time `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty" db:"finished_at"`
}

// HasPlayer 참가자 여부 확인
func (m *Match) HasPlayer(userID string) bool {
	if userID == "" {
		return false
	}
	if m.Player1ID == userID {
		return true
	}
	return m.Player2ID != nil && *m.Player2ID == userID
}

// Opponent 상대 플레이어 ID (없으면 빈 문자열)
func (m *Match) Opponent(userID string) string {
	switch {
	case m.Player1ID == userID && m.Player2ID != nil:
		return *m.Player2ID
	case m.Player2ID != nil && *m.Player2ID == userID:
		return m.Player1ID
	}
	return ""
}

// HasProblem 문제 세트에 포함되는지 확인
func (m *Match) HasProblem(problemID string) bool {
	for _, id := range m.ProblemIDs {
		if id == problemID {
			return true
		}
	}
	return false
}

// CandidateQuery waiting 매치 검색 조건
type CandidateQuery struct {
	MatchType MatchType
	Mode      MatchMode
	MinRating int
	MaxRating int
	Center    int
	ExcludeID string // the requesting player
}

// MatchOutcome 매치 종료 결과. WinnerID가 nil이면 무승부
type MatchOutcome struct {
	WinnerID *string
	Reason   EndReason
}
