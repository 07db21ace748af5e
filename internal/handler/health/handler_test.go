package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/clinic-ops/internal/repository/memory"
)

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memory.NewStore()

	r := gin.New()
	NewHandler(store).RegisterRoutes(r.Group(""))

	get := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("/health/live"))
	assert.Equal(t, http.StatusOK, get("/health/ready"))

	store.SetUnavailable(errors.New("network down"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready"))
	assert.Equal(t, http.StatusOK, get("/health/live"))
}
