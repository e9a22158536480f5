package service

import "errors"

// Common service errors
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("resource not found")
	ErrNotImplemented = errors.New("not implemented")
)

// User service specific errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserAlreadyExists  = errors.New("user already exists")
)

// Matchmaking errors
var (
	// ErrRequiresUpgrade ranked 매치는 구독이 필요함
	ErrRequiresUpgrade = errors.New("ranked play requires an upgraded plan")
	// ErrLimitReached free 플랜 일일 매치 수 소진
	ErrLimitReached = errors.New("daily match limit reached")
	// ErrAlreadyClaimed 다른 요청이 먼저 매치를 가져감. RequestMatch 내부에서 흡수된다
	ErrAlreadyClaimed = errors.New("match already claimed")
)

// Match lifecycle errors
var (
	ErrMatchNotFound      = errors.New("match not found")
	ErrMatchNotLive       = errors.New("match is not live")
	ErrInvalidTransition  = errors.New("invalid match state transition")
	ErrNotParticipant     = errors.New("not a participant of this match")
	ErrProblemNotInMatch  = errors.New("problem is not part of this match")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrAlreadyJudged      = errors.New("submission already judged")
)

// Rating errors
var (
	ErrDrawNotRated = errors.New("draws are not rated")
)

// Problem selection errors
var (
	ErrNotEnoughProblems = errors.New("not enough problems in corpus")
)
