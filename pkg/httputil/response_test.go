package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-ops/pkg/errors"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NotFound("session", nil), http.StatusNotFound},
		{errors.BadRequest("bad", nil), http.StatusBadRequest},
		{errors.Unauthorized(nil), http.StatusUnauthorized},
		{errors.Forbidden("no"), http.StatusForbidden},
		{errors.Conflict("slot taken"), http.StatusConflict},
		{errors.InvalidStateTransition("session", "completed", "active"), http.StatusConflict},
		{errors.AlreadyClaimed("a"), http.StatusConflict},
		{errors.GracePeriodExpired("a"), http.StatusConflict},
		{errors.NotAssigned("a"), http.StatusConflict},
		{fmt.Errorf("failed to query: %w", errors.StoreUnavailable(nil)), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), tt.err.Error())
	}
}

func TestRespondWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondWithError(c, errors.AlreadyClaimed("a-1"))

	require.Equal(t, http.StatusConflict, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "ALREADY_CLAIMED", resp.Code)
	assert.Equal(t, "assignment a-1 is already claimed", resp.Message)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	RespondWithError(c, fmt.Errorf("password=hunter2"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
}
