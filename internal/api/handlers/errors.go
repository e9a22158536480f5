package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeduel/duel-backend/internal/service"
	"github.com/codeduel/duel-backend/pkg/logger"
)

// errorResponse 에러 응답 본문. code 는 클라이언트 분기용
type errorResponse struct {
	Error           string `json:"error"`
	Code            string `json:"code"`
	UpgradeRequired bool   `json:"upgradeRequired,omitempty"`
	LimitReached    bool   `json:"limitReached,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// 순서대로 errors.Is 검사
var errorMappings = []errorMapping{
	{service.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{service.ErrRequiresUpgrade, http.StatusForbidden, "requires_upgrade"},
	{service.ErrLimitReached, http.StatusForbidden, "limit_reached"},
	{service.ErrNotParticipant, http.StatusForbidden, "not_participant"},
	{service.ErrMatchNotFound, http.StatusNotFound, "match_not_found"},
	{service.ErrSubmissionNotFound, http.StatusNotFound, "submission_not_found"},
	{service.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{service.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{service.ErrMatchNotLive, http.StatusConflict, "match_not_live"},
	{service.ErrAlreadyJudged, http.StatusConflict, "already_judged"},
	{service.ErrUserAlreadyExists, http.StatusConflict, "user_exists"},
	{service.ErrProblemNotInMatch, http.StatusBadRequest, "problem_not_in_match"},
	{service.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{service.ErrNotImplemented, http.StatusNotImplemented, "not_implemented"},
	{service.ErrNotEnoughProblems, http.StatusServiceUnavailable, "not_enough_problems"},
}

// statusFor 서비스 에러 -> HTTP 상태/코드
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// respondError 서비스 에러를 응답으로 변환. 5xx 는 내부 메시지를 숨긴다
func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)

	resp := errorResponse{
		Error:           err.Error(),
		Code:            code,
		UpgradeRequired: code == "requires_upgrade",
		LimitReached:    code == "limit_reached",
	}
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		logger.Error("Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		resp.Error = http.StatusText(status)
	}

	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
		Error: err.Error(),
		Code:  "invalid_input",
	})
}

// currentUserID auth 미들웨어가 넣은 사용자 ID
func currentUserID(c *gin.Context) string {
	return c.GetString("userId")
}
