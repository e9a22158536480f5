package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codeduel/duel-backend/internal/models"
)

const (
	maxChatLength = 500
	maxCodeBytes  = 64 * 1024
)

// battleTopic team 이 0 이면 매치 전체, 아니면 자기 팀 토픽. 다른 팀 토픽은 거부
func battleTopic(match *models.Match, userID string, team int) (string, int, error) {
	own := match.TeamOf(userID)
	if own == 0 {
		return "", 0, ErrNotParticipant
	}
	switch team {
	case 0:
		return models.BattleTopic(match.ID), 0, nil
	case own:
		return models.TeamTopic(match.ID, own), own, nil
	}
	return "", 0, ErrNotParticipant
}

// SendChat 매치 채팅. 저장하지 않고 브로드캐스트만 한다
func (s *MatchService) SendChat(ctx context.Context, userID, matchID, text string, team int) (*models.ChatMessage, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > maxChatLength {
		return nil, fmt.Errorf("%w: chat message must be 1-%d characters", ErrInvalidInput, maxChatLength)
	}

	match, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.State == models.MatchStateWaiting {
		return nil, ErrMatchNotLive
	}

	topic, team, err := battleTopic(match, userID, team)
	if err != nil {
		return nil, err
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	msg := &models.ChatMessage{
		ID:      id,
		MatchID: matchID,
		UserID:  userID,
		Team:    team,
		Text:    text,
		SentAt:  s.now().UTC(),
	}
	s.publisher.Publish(topic, models.EventChatMessage, msg)
	return msg, nil
}

// SendCode 코드 에디터 동기화. fog 매치에서는 항상 자기 팀 토픽으로만 보낸다
func (s *MatchService) SendCode(ctx context.Context, userID, matchID, problemID, code string, team int) (*models.CodeUpdate, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if len(code) > maxCodeBytes {
		return nil, fmt.Errorf("%w: code exceeds %d bytes", ErrInvalidInput, maxCodeBytes)
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

	if match.FogOfProgress {
		team = match.TeamOf(userID)
	}
	topic, team, err := battleTopic(match, userID, team)
	if err != nil {
		return nil, err
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate update id: %w", err)
	}

	update := &models.CodeUpdate{
		ID:        id,
		MatchID:   matchID,
		UserID:    userID,
		Team:      team,
		ProblemID: problemID,
		Code:      code,
		SentAt:    s.now().UTC(),
	}
	s.publisher.Publish(topic, models.EventCodeUpdate, update)
	return update, nil
}
