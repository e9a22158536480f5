package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeduel/duel-backend/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{service.ErrRequiresUpgrade, http.StatusForbidden, "requires_upgrade"},
		{fmt.Errorf("request match: %w", service.ErrLimitReached), http.StatusForbidden, "limit_reached"},
		{service.ErrNotParticipant, http.StatusForbidden, "not_participant"},
		{service.ErrMatchNotFound, http.StatusNotFound, "match_not_found"},
		{service.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
		{service.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{fmt.Errorf("%w: unknown match type", service.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{service.ErrNotImplemented, http.StatusNotImplemented, "not_implemented"},
		{errors.New("connection refused"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func respond(err error) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/matches/queue", nil)
	respondError(c, err)
	return w
}

func TestRespondError_UpgradeAndLimitFlags(t *testing.T) {
	w := respond(service.ErrRequiresUpgrade)
	require.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "requires_upgrade", body["code"])
	assert.Equal(t, true, body["upgradeRequired"])
	assert.NotContains(t, body, "limitReached")

	w = respond(service.ErrLimitReached)
	body = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["limitReached"])
	assert.NotContains(t, body, "upgradeRequired")
}

func TestRespondError_HidesInternalDetail(t *testing.T) {
	w := respond(errors.New("pq: password authentication failed"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
	assert.Contains(t, w.Body.String(), `"code":"internal"`)
}
