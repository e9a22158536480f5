package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/internal/service"
)

type RatingHandler struct {
	ratingService *service.RatingService
}

func NewRatingHandler(ratingService *service.RatingService) *RatingHandler {
	return &RatingHandler{ratingService: ratingService}
}

func modeQuery(c *gin.Context) (models.MatchType, error) {
	mode := models.MatchType(c.DefaultQuery("mode", string(models.MatchType1v1)))
	if !mode.Valid() {
		return "", fmt.Errorf("unknown mode %q", mode)
	}
	return mode, nil
}

// GetMyRating 내 레이팅 (없으면 기본값으로 생성)
func (h *RatingHandler) GetMyRating(c *gin.Context) {
	mode, err := modeQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	rating, err := h.ratingService.GetRating(c.Request.Context(), currentUserID(c), mode)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rating)
}

// GetMyHistory 최근 레이팅 변동 내역
func (h *RatingHandler) GetMyHistory(c *gin.Context) {
	mode, err := modeQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	history, err := h.ratingService.History(c.Request.Context(), currentUserID(c), mode, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"mode":    mode,
		"history": history,
	})
}
