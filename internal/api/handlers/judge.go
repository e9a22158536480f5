package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/internal/service"
)

// JudgeHandler 외부 채점기 콜백
type JudgeHandler struct {
	matchService *service.MatchService
}

func NewJudgeHandler(matchService *service.MatchService) *JudgeHandler {
	return &JudgeHandler{matchService: matchService}
}

type VerdictRequest struct {
	Verdict models.Verdict `json:"verdict" binding:"required,oneof=accepted rejected"`
}

// RecordVerdict 제출 판정 기록. 이미 판정된 제출은 409
func (h *JudgeHandler) RecordVerdict(c *gin.Context) {
	var req VerdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sub, err := h.matchService.RecordVerdict(c.Request.Context(), c.Param("id"), req.Verdict)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}
