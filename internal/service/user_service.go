package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/codeduel/duel-backend/internal/models"
)

const minPasswordLength = 8

type UserService struct {
	userRepo    UserStore
	eligibility Eligibility
}

func NewUserService(userRepo UserStore, eligibility Eligibility) *UserService {
	return &UserService{
		userRepo:    userRepo,
		eligibility: eligibility,
	}
}

// Register 새 사용자 등록 (free 플랜, user 권한)
func (s *UserService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	// 입력 검증
	if username == "" || email == "" || len(password) < minPasswordLength {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email", ErrInvalidInput)
	}

	// 이메일 중복 확인
	existingUser, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existingUser != nil {
		return nil, ErrUserAlreadyExists
	}

	// 사용자명 중복 확인
	existingUser, err = s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing username: %w", err)
	}
	if existingUser != nil {
		return nil, ErrUserAlreadyExists
	}

	passwordHash, err := models.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Plan:         models.PlanFree,
		Role:         models.RoleUser,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Login 로그인
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// GetByID ID로 사용자 조회
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	return user, nil
}

// UserProfile 사용자 + 매칭 자격
type UserProfile struct {
	User                  *models.User `json:"user"`
	RankedEligible        bool         `json:"rankedEligible"`
	DailyMatchesRemaining *int         `json:"dailyMatchesRemaining"` // nil 이면 무제한
}

// GetProfile 내 정보 조회
func (s *UserService) GetProfile(ctx context.Context, id string) (*UserProfile, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ranked, err := s.eligibility.IsEligibleForRankedPlay(ctx, id)
	if err != nil {
		return nil, err
	}
	remaining, unlimited, err := s.eligibility.DailyMatchesRemaining(ctx, id)
	if err != nil {
		return nil, err
	}

	profile := &UserProfile{User: user, RankedEligible: ranked}
	if !unlimited {
		profile.DailyMatchesRemaining = &remaining
	}
	return profile, nil
}
