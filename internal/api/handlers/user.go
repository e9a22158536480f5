package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeduel/duel-backend/internal/service"
)

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// GetCurrentUser 현재 사용자 정보 + ranked 자격 + 남은 일일 매치 수
func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	profile, err := h.userService.GetProfile(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}
