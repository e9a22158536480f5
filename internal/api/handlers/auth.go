package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeduel/duel-backend/internal/models"
	"github.com/codeduel/duel-backend/internal/service"
	jwtutil "github.com/codeduel/duel-backend/pkg/jwt"
	"github.com/codeduel/duel-backend/pkg/logger"
)

type AuthHandler struct {
	userService *service.UserService
	jwtManager  *jwtutil.JWTManager
}

func NewAuthHandler(userService *service.UserService, jwtManager *jwtutil.JWTManager) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		jwtManager:  jwtManager,
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login 로그인
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.userService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	h.issueToken(c, http.StatusOK, user)
	logger.Info("User logged in", "userId", user.ID)
}

// Register 회원가입 (free 플랜으로 시작)
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	h.issueToken(c, http.StatusCreated, user)
	logger.Info("User registered", "userId", user.ID, "username", user.Username)
}

func (h *AuthHandler) issueToken(c *gin.Context, status int, user *models.User) {
	token, err := h.jwtManager.Generate(user.ID, user.Username, string(user.Plan), string(user.Role))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(status, AuthResponse{Token: token, User: user})
}
