package models

import (
	"fmt"
	"strings"
	"time"
)

// 브로드캐스트 메시지 종류
const (
	EventQueueSize        = "queue_size"
	EventMatchFound       = "match_found"
	EventStateChange      = "state_change"
	EventSubmission       = "submission"
	EventVerdict          = "verdict"
	EventScoreboardUpdate = "scoreboard_update"
	EventCodeUpdate       = "code_update"
	EventChatMessage      = "chat_message"
)

// 1v1 에서 player1 은 team 1, player2 는 team 2
const (
	Team1 = 1
	Team2 = 2
)

// QueueTopic queue:<mode>
func QueueTopic(mode MatchMode) string {
	return "queue:" + string(mode)
}

// BattleTopic battle:<matchId>
func BattleTopic(matchID string) string {
	return "battle:" + matchID
}

// TeamTopic battle:<matchId>:team:<teamId>
func TeamTopic(matchID string, team int) string {
	return fmt.Sprintf("battle:%s:team:%d", matchID, team)
}

// Topic 파싱된 토픽
type Topic struct {
	Kind    string // "queue" or "battle"
	Mode    MatchMode
	MatchID string
	Team    int // 0 이면 팀 토픽 아님
}

// ParseTopic 클라이언트가 보낸 토픽 문자열 해석
func ParseTopic(s string) (Topic, error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 2 && parts[0] == "queue":
		mode := MatchMode(parts[1])
		if !mode.Valid() {
			return Topic{}, fmt.Errorf("unknown queue mode %q", parts[1])
		}
		return Topic{Kind: "queue", Mode: mode}, nil

	case len(parts) == 2 && parts[0] == "battle" && parts[1] != "":
		return Topic{Kind: "battle", MatchID: parts[1]}, nil

	case len(parts) == 4 && parts[0] == "battle" && parts[1] != "" && parts[2] == "team":
		var team int
		if _, err := fmt.Sscanf(parts[3], "%d", &team); err != nil || (team != Team1 && team != Team2) {
			return Topic{}, fmt.Errorf("invalid team %q", parts[3])
		}
		return Topic{Kind: "battle", MatchID: parts[1], Team: team}, nil
	}
	return Topic{}, fmt.Errorf("invalid topic %q", s)
}

// TeamOf 참가자의 팀 번호 (참가자가 아니면 0)
func (m *Match) TeamOf(userID string) int {
	switch {
	case userID == "":
		return 0
	case m.Player1ID == userID:
		return Team1
	case m.Player2ID != nil && *m.Player2ID == userID:
		return Team2
	}
	return 0
}

// QueueUpdate queue:<mode> 토픽 페이로드
type QueueUpdate struct {
	MatchType MatchType `json:"matchType"`
	Mode      MatchMode `json:"mode"`
	Waiting   int       `json:"waiting"`
	MatchID   string    `json:"matchId,omitempty"`
	Player1ID string    `json:"player1Id,omitempty"`
	Player2ID string    `json:"player2Id,omitempty"`
}

// BattleUpdate battle:<matchId> 상태 변경 페이로드
type BattleUpdate struct {
	MatchID       string         `json:"matchId"`
	State         MatchState     `json:"state"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	WinnerID      *string        `json:"winnerId,omitempty"`
	EndReason     *EndReason     `json:"endReason,omitempty"`
	RatingChanges []RatingUpdate `json:"ratingChanges,omitempty"`
}

// SubmissionEvent submission / verdict 페이로드
type SubmissionEvent struct {
	MatchID      string  `json:"matchId"`
	SubmissionID string  `json:"submissionId"`
	UserID       string  `json:"userId"`
	ProblemID    string  `json:"problemId"`
	Verdict      Verdict `json:"verdict"`
}

type ScoreboardUpdate struct {
	MatchID string            `json:"matchId"`
	Entries []ScoreboardEntry `json:"entries"`
	Final   bool              `json:"final"`
}

type ChatMessage struct {
	ID      string    `json:"id"`
	MatchID string    `json:"matchId"`
	UserID  string    `json:"userId"`
	Team    int       `json:"team,omitempty"`
	Text    string    `json:"text"`
	SentAt  time.Time `json:"sentAt"`
}

type CodeUpdate struct {
	ID        string    `json:"id"`
	MatchID   string    `json:"matchId"`
	UserID    string    `json:"userId"`
	Team      int       `json:"team,omitempty"`
	ProblemID string    `json:"problemId"`
	Code      string    `json:"code"`
	SentAt    time.Time `json:"sentAt"`
}
