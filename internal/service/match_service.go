package service

import (
	"context"
	"fmt"
	"time"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/pkg/logger"
)

// MatchView 클라이언트가 보는 매치 상태. phase/remaining 은 요청 시점에 계산된다
type MatchView struct {
	Match            *models.Match            `json:"match"`
	Phase            models.Phase             `json:"phase,omitempty"`
	RemainingSeconds int64                    `json:"remainingSeconds"`
	Scoreboard       []models.ScoreboardEntry `json:"scoreboard"`
}

// MatchService live 매치 진행 (제출, 판정, 기권, 종료)
type MatchService struct {
	matches     MatchStore
	submissions SubmissionStore
	ratings     *RatingService
	publisher   Publisher
	clock       PhaseClock
	now         func() time.Time
}

func NewMatchService(
	matches MatchStore,
	submissions SubmissionStore,
	ratings *RatingService,
	publisher Publisher,
	clock PhaseClock,
) *MatchService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &MatchService{
		matches:     matches,
		submissions: submissions,
		ratings:     ratings,
		publisher:   publisher,
		clock:       clock,
		now:         time.Now,
	}
}

func (s *MatchService) load(ctx context.Context, matchID string) (*models.Match, error) {
	match, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}
	return match, nil
}

// loadLive 제한 시간이 지난 live 매치는 여기서 종료시킨다 (조회하는 누구든 트리거 가능)
func (s *MatchService) loadLive(ctx context.Context, matchID string) (*models.Match, error) {
	match, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if s.clock.Expired(match, s.now()) {
		if _, err := s.FinishExpired(ctx, match); err != nil {
			return nil, err
		}
		return s.load(ctx, matchID)
	}
	return match, nil
}

// GetMatch 매치 상태 + 단계 + 스코어보드.
// fog of progress 가 켜진 매치는 종료 전까지 조회자 이외의 진행 상황을 숨긴다.
func (s *MatchService) GetMatch(ctx context.Context, viewerID, matchID string) (*MatchView, error) {
	match, err := s.loadLive(ctx, matchID)
	if err != nil {
		return nil, err
	}

	board, err := s.scoreboard(ctx, match)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &MatchView{
		Match:            match,
		Phase:            s.clock.Phase(match, now),
		RemainingSeconds: int64(s.clock.Remaining(match, now).Seconds()),
		Scoreboard:       s.visibleTo(match, board, viewerID),
	}, nil
}

// Submit 제출 접수 (판정은 외부 judge 가 RecordVerdict 로 알려준다)
func (s *MatchService) Submit(ctx context.Context, userID, matchID, problemID string) (*models.Submission, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}

	match, err := s.loadLive(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.HasPlayer(userID) {
		return nil, ErrNotParticipant
	}
	if match.State != models.MatchStateLive {
		return nil, ErrMatchNotLive
	}
	if !match.HasProblem(problemID) {
		return nil, ErrProblemNotInMatch
	}

	sub := &models.Submission{
		MatchID:   matchID,
		UserID:    userID,
		ProblemID: problemID,
		Verdict:   models.VerdictPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}

	topic := models.BattleTopic(matchID)
	if match.FogOfProgress {
		topic = models.TeamTopic(matchID, match.TeamOf(userID))
	}
	s.publisher.Publish(topic, models.EventSubmission, models.SubmissionEvent{
		MatchID:      matchID,
		SubmissionID: sub.ID,
		UserID:       userID,
		ProblemID:    problemID,
		Verdict:      sub.Verdict,
	})

	return sub, nil
}

// RecordVerdict judge 콜백. pending 제출에만 한 번 기록되고, 같은 판정의 재전송은 무시된다
func (s *MatchService) RecordVerdict(ctx context.Context, submissionID string, verdict models.Verdict) (*models.Submission, error) {
	if verdict != models.VerdictAccepted && verdict != models.VerdictRejected {
		return nil, fmt.Errorf("%w: verdict %q", ErrInvalidInput, verdict)
	}

	sub, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if sub == nil {
		return nil, ErrSubmissionNotFound
	}

	ok, err := s.submissions.UpdateVerdict(ctx, submissionID, verdict, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to record verdict: %w", err)
	}
	if !ok {
		if sub.Verdict == verdict {
			return sub, nil
		}
		return nil, ErrAlreadyJudged
	}
	sub.Verdict = verdict

	match, err := s.load(ctx, sub.MatchID)
	if err != nil {
		return nil, err
	}

	event := models.SubmissionEvent{
		MatchID:      match.ID,
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ProblemID:    sub.ProblemID,
		Verdict:      verdict,
	}

	board, err := s.scoreboard(ctx, match)
	if err != nil {
		return nil, err
	}

	if match.FogOfProgress && match.State != models.MatchStateFinished {
		// 본인 팀 토픽으로만
		team := match.TeamOf(sub.UserID)
		s.publisher.Publish(models.TeamTopic(match.ID, team), models.EventVerdict, event)
		s.publisher.Publish(models.TeamTopic(match.ID, team), models.EventScoreboardUpdate, models.ScoreboardUpdate{
			MatchID: match.ID,
			Entries: s.visibleTo(match, board, sub.UserID),
		})
	} else {
		s.publisher.Publish(models.BattleTopic(match.ID), models.EventVerdict, event)
		s.publisher.Publish(models.BattleTopic(match.ID), models.EventScoreboardUpdate, models.ScoreboardUpdate{
			MatchID: match.ID,
			Entries: board,
		})
	}

	if verdict == models.VerdictAccepted && match.State == models.MatchStateLive {
		for _, entry := range board {
			if entry.UserID == sub.UserID && entry.Solved >= len(match.ProblemIDs) {
				winner := sub.UserID
				if _, err := s.finish(ctx, match, models.MatchOutcome{WinnerID: &winner, Reason: models.EndReasonAllSolved}); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	return sub, nil
}

// Forfeit 기권. 상대가 승리한다
func (s *MatchService) Forfeit(ctx context.Context, userID, matchID string) (*models.Match, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}

	match, err := s.loadLive(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.HasPlayer(userID) {
		return nil, ErrNotParticipant
	}
	if match.State != models.MatchStateLive {
		return nil, fmt.Errorf("%w: cannot forfeit a %s match", ErrInvalidTransition, match.State)
	}

	// 다른 종료 조건이 먼저 반영됐으면 그 결과를 그대로 돌려준다
	winner := match.Opponent(userID)
	if _, err := s.finish(ctx, match, models.MatchOutcome{WinnerID: &winner, Reason: models.EndReasonForfeit}); err != nil {
		return nil, err
	}
	return s.load(ctx, matchID)
}

// FinishExpired 제한 시간 종료. 더 많이 푼 쪽이 승리하고 같으면 무승부(레이팅 변동 없음)
func (s *MatchService) FinishExpired(ctx context.Context, match *models.Match) (bool, error) {
	if !s.clock.Expired(match, s.now()) {
		return false, nil
	}

	board, err := s.scoreboard(ctx, match)
	if err != nil {
		return false, err
	}

	outcome := models.MatchOutcome{Reason: models.EndReasonTimeLimit}
	if len(board) == 2 && board[0].Solved != board[1].Solved {
		winner := board[0].UserID
		if board[1].Solved > board[0].Solved {
			winner = board[1].UserID
		}
		outcome.WinnerID = &winner
	}

	return s.finish(ctx, match, outcome)
}

// finish 조건부 live -> finished. 이긴 호출자만 레이팅 정산과 브로드캐스트를 수행한다
func (s *MatchService) finish(ctx context.Context, match *models.Match, outcome models.MatchOutcome) (bool, error) {
	finishedAt := s.now().UTC()
	ok, err := s.matches.Finish(ctx, match.ID, outcome, finishedAt)
	if err != nil {
		return false, fmt.Errorf("failed to finish match: %w", err)
	}
	if !ok {
		logger.Debug("Match already finished by another caller", "matchId", match.ID)
		return false, nil
	}

	// CAS 를 이긴 뒤에는 재조회가 실패해도 정산은 반드시 진행
	finished, err := s.load(ctx, match.ID)
	if err != nil {
		logger.Warn("Failed to reload finished match, using local copy", "matchId", match.ID, "error", err)
		finished = finishedCopy(match, outcome, finishedAt)
	}

	logger.Info("Match finished",
		"matchId", finished.ID,
		"reason", outcome.Reason,
		"winnerId", finished.WinnerID)

	var changes []models.RatingUpdate
	if finished.Mode == models.MatchModeRanked && s.ratings != nil {
		changes, err = s.ratings.Settle(ctx, finished, outcome)
		if err != nil {
			// 재시도 큐가 처리. 매치 종료 자체는 이미 확정됨
			logger.Error("Rating settlement failed", "matchId", finished.ID, "error", err)
		}
	}

	s.publisher.Publish(models.BattleTopic(finished.ID), models.EventStateChange, models.BattleUpdate{
		MatchID:       finished.ID,
		State:         finished.State,
		StartedAt:     finished.StartedAt,
		WinnerID:      finished.WinnerID,
		EndReason:     finished.EndReason,
		RatingChanges: changes,
	})

	if board, err := s.scoreboard(ctx, finished); err == nil {
		s.publisher.Publish(models.BattleTopic(finished.ID), models.EventScoreboardUpdate, models.ScoreboardUpdate{
			MatchID: finished.ID,
			Entries: board,
			Final:   true,
		})
	}

	return true, nil
}

// finishedCopy Finish 가 기록한 것과 같은 필드를 메모리에서 채운 사본
func finishedCopy(match *models.Match, outcome models.MatchOutcome, finishedAt time.Time) *models.Match {
	cp := *match
	cp.ProblemIDs = append([]string(nil), match.ProblemIDs...)
	cp.State = models.MatchStateFinished
	cp.WinnerID = outcome.WinnerID
	reason := outcome.Reason
	cp.EndReason = &reason
	cp.FinishedAt = &finishedAt
	return &cp
}

// scoreboard 참가자별로 accepted 된 서로 다른 문제 수
func (s *MatchService) scoreboard(ctx context.Context, match *models.Match) ([]models.ScoreboardEntry, error) {
	players := []string{match.Player1ID}
	if match.Player2ID != nil {
		players = append(players, *match.Player2ID)
	}

	subs, err := s.submissions.ListByMatch(ctx, match.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	solved := make(map[string]map[string]bool, len(players))
	for _, p := range players {
		solved[p] = map[string]bool{}
	}
	for _, sub := range subs {
		if sub.Verdict != models.VerdictAccepted || !match.HasProblem(sub.ProblemID) {
			continue
		}
		// 종료 이후에 채점된 제출은 결과에 반영되지 않는다
		if match.FinishedAt != nil && sub.JudgedAt != nil && sub.JudgedAt.After(*match.FinishedAt) {
			continue
		}
		if set, ok := solved[sub.UserID]; ok {
			set[sub.ProblemID] = true
		}
	}

	board := make([]models.ScoreboardEntry, 0, len(players))
	for _, p := range players {
		entry := models.ScoreboardEntry{UserID: p}
		for _, id := range match.ProblemIDs {
			if solved[p][id] {
				entry.Problems = append(entry.Problems, id)
			}
		}
		entry.Solved = len(entry.Problems)
		board = append(board, entry)
	}
	return board, nil
}

// visibleTo fog 가 켜진 진행 중 매치면 viewer 이외의 항목을 가린다
func (s *MatchService) visibleTo(match *models.Match, board []models.ScoreboardEntry, viewerID string) []models.ScoreboardEntry {
	if !match.FogOfProgress || match.State == models.MatchStateFinished {
		return board
	}

	out := make([]models.ScoreboardEntry, len(board))
	for i, entry := range board {
		if entry.UserID == viewerID {
			out[i] = entry
			continue
		}
		out[i] = models.ScoreboardEntry{UserID: entry.UserID, Hidden: true}
	}
	return out
}

// CanSubscribe 실시간 토픽 구독 권한. battle 토픽은 참가자만, 팀 토픽은 해당 팀만
func (s *MatchService) CanSubscribe(ctx context.Context, userID, topic string) error {
	t, err := models.ParseTopic(topic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if t.Kind == "queue" {
		return nil
	}

	match, err := s.load(ctx, t.MatchID)
	if err != nil {
		return err
	}

	team := match.TeamOf(userID)
	if team == 0 {
		return ErrNotParticipant
	}
	if t.Team != 0 && t.Team != team {
		return ErrNotParticipant
	}
	return nil
}
