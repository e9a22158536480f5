package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/internal/service"
)

type MatchHandler struct {
	matchmaking  *service.MatchmakingService
	matchService *service.MatchService
}

func NewMatchHandler(matchmaking *service.MatchmakingService, matchService *service.MatchService) *MatchHandler {
	return &MatchHandler{
		matchmaking:  matchmaking,
		matchService: matchService,
	}
}

type QueueRequest struct {
	MatchType models.MatchType `json:"matchType" binding:"required"`
	Mode      models.MatchMode `json:"mode" binding:"required"`
}

type SubmitRequest struct {
	ProblemID string `json:"problemId" binding:"required"`
}

type ChatRequest struct {
	Text   string `json:"text" binding:"required"`
	TeamID int    `json:"teamId"`
}

type CodeRequest struct {
	ProblemID string `json:"problemId" binding:"required"`
	Code      string `json:"code"`
	TeamID    int    `json:"teamId"`
}

// RequestMatch 대기열 진입. 기존 매치가 있으면 그대로 반환
func (h *MatchHandler) RequestMatch(c *gin.Context) {
	var req QueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ticket, err := h.matchmaking.RequestMatch(c.Request.Context(), currentUserID(c), req.MatchType, req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if !ticket.Joined && ticket.WaitEstimateSeconds != nil {
		status = http.StatusAccepted
	}
	c.JSON(status, ticket)
}

// CancelQueue 아직 상대가 없는 자기 매치 취소
func (h *MatchHandler) CancelQueue(c *gin.Context) {
	if err := h.matchmaking.CancelWaiting(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetMatch 매치 상태 + phase + 스코어보드
func (h *MatchHandler) GetMatch(c *gin.Context) {
	view, err := h.matchService.GetMatch(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// Forfeit 기권. 상대가 승리한다
func (h *MatchHandler) Forfeit(c *gin.Context) {
	match, err := h.matchService.Forfeit(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, match)
}

// Submit 풀이 제출. 판정은 judge 콜백으로 들어온다
func (h *MatchHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sub, err := h.matchService.Submit(c.Request.Context(), currentUserID(c), c.Param("id"), req.ProblemID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, sub)
}

func (h *MatchHandler) SendChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.matchService.SendChat(c.Request.Context(), currentUserID(c), c.Param("id"), req.Text, req.TeamID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

func (h *MatchHandler) SendCode(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	update, err := h.matchService.SendCode(c.Request.Context(), currentUserID(c), c.Param("id"), req.ProblemID, req.Code, req.TeamID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": update.ID, "problemId": update.ProblemID, "sentAt": update.SentAt})
}
