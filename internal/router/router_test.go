package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	assignmenthandler "github.com/jwalitptl/clinic-ops/internal/handler/assignment"
	authhandler "github.com/jwalitptl/clinic-ops/internal/handler/auth"
	dialysishandler "github.com/jwalitptl/clinic-ops/internal/handler/dialysis"
	"github.com/jwalitptl/clinic-ops/internal/handler/health"
	"github.com/jwalitptl/clinic-ops/internal/middleware"
	"github.com/jwalitptl/clinic-ops/internal/repository/memory"
	"github.com/jwalitptl/clinic-ops/internal/service/assignment"
	authservice "github.com/jwalitptl/clinic-ops/internal/service/auth"
	"github.com/jwalitptl/clinic-ops/internal/service/dialysis"
	"github.com/jwalitptl/clinic-ops/pkg/auth"
	"github.com/jwalitptl/clinic-ops/pkg/security"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type apiClient struct {
	t      *testing.T
	engine *gin.Engine
}

func (a apiClient) call(method, path, token string, body interface{}) (int, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (a apiClient) login(email, password string) string {
	a.t.Helper()
	code, env := a.call(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(a.t, http.StatusOK, code, env.Message)
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(a.t, json.Unmarshal(env.Data, &resp))
	return resp.AccessToken
}

func idOf(t *testing.T, env envelope) string {
	t.Helper()
	var v struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &v))
	require.NotEmpty(t, v.ID)
	return v.ID
}

func newTestAPI(t *testing.T) apiClient {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	authSvc := authservice.NewService(store, auth.NewJWTService("test-secret", "clinic-ops", time.Hour), security.NewBcryptHasher(bcrypt.MinCost), nil)
	require.NoError(t, authSvc.EnsureBootstrapAdmin(ctx, "admin@unit.test", "admin-password", "Head Nurse"))

	r, err := NewRouter(middleware.NewAuthMiddleware(authSvc), Handlers{
		Auth:       authhandler.NewHandler(authSvc),
		Dialysis:   dialysishandler.NewHandler(dialysis.NewService(store, dialysis.Options{})),
		Assignment: assignmenthandler.NewHandler(assignment.NewService(store, assignment.Options{})),
		Health:     health.NewHandler(store),
	}, RouterConfig{Mode: gin.TestMode, CORSConfig: middleware.DefaultCORSConfig(nil)})
	require.NoError(t, err)
	r.Setup()

	return apiClient{t: t, engine: r.Engine()}
}

func TestDialysisFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login("admin@unit.test", "admin-password")

	code, _ := api.call(http.MethodGet, "/api/v1/dialysis/machines", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := api.call(http.MethodPost, "/api/v1/staff", admin, gin.H{
		"name": "Ana Reyes", "email": "ana@unit.test", "password": "nurse-password", "role": "nurse",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	nurse := api.login("ana@unit.test", "nurse-password")

	code, _ = api.call(http.MethodPost, "/api/v1/dialysis/machines", nurse, gin.H{"machineNumber": "3"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = api.call(http.MethodPost, "/api/v1/dialysis/machines", admin, gin.H{"machineNumber": "3", "brand": "Fresenius"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	machineID := idOf(t, env)

	code, env = api.call(http.MethodPost, "/api/v1/dialysis/patients", admin, gin.H{"name": "Juan Dela Cruz", "age": 61, "accessType": "AVF"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	patientID := idOf(t, env)

	code, env = api.call(http.MethodPost, "/api/v1/dialysis/sessions", nurse, gin.H{
		"patientId": patientID, "machineId": machineID, "sessionDate": "2026-02-08", "scheduledTime": "8:00",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	schedule := gin.H{"patientId": patientID, "machineId": machineID, "sessionDate": "2026-02-08", "scheduledTime": "08:00"}
	code, env = api.call(http.MethodPost, "/api/v1/dialysis/sessions", nurse, schedule)
	require.Equal(t, http.StatusCreated, code, env.Message)
	sessionID := idOf(t, env)

	code, env = api.call(http.MethodPost, "/api/v1/dialysis/sessions", nurse, schedule)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Code)

	code, env = api.call(http.MethodGet, "/api/v1/dialysis/slots?date=2026-02-08&time=08:00", nurse, nil)
	require.Equal(t, http.StatusOK, code)
	var booked []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &booked))
	assert.Len(t, booked, 1)

	vitals := gin.H{"weight": 68.5, "temp": 36.7, "pulse": 78, "bpSystolic": 140, "bpDiastolic": 90}
	code, env = api.call(http.MethodPost, "/api/v1/dialysis/sessions/"+sessionID+"/start", nurse, vitals)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = api.call(http.MethodPost, "/api/v1/dialysis/sessions/"+sessionID+"/checkpoints", nurse, gin.H{
		"bloodPressure": "130/85", "pulse": 80, "temperature": 36.8,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, _ = api.call(http.MethodPut, "/api/v1/dialysis/machines/"+machineID+"/status", admin, gin.H{"status": "maintenance"})
	assert.Equal(t, http.StatusConflict, code)

	code, env = api.call(http.MethodPost, "/api/v1/dialysis/sessions/"+sessionID+"/end", nurse, gin.H{"postVitals": vitals})
	require.Equal(t, http.StatusOK, code, env.Message)
	var ended struct {
		Status       string        `json:"status"`
		DuringVitals []interface{} `json:"duringVitals"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &ended))
	assert.Equal(t, "completed", ended.Status)
	assert.Len(t, ended.DuringVitals, 1)

	code, env = api.call(http.MethodPost, "/api/v1/dialysis/sessions/"+sessionID+"/cancel", nurse, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", env.Code)

	code, env = api.call(http.MethodGet, "/api/v1/dialysis/report", nurse, nil)
	require.Equal(t, http.StatusOK, code)
	var report struct {
		Sessions struct {
			Total     int `json:"total"`
			Completed int `json:"completed"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.Sessions.Total)
	assert.Equal(t, 1, report.Sessions.Completed)

	code, _ = api.call(http.MethodGet, "/api/v1/dialysis/sessions/missing", nurse, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAssignmentBoardOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login("admin@unit.test", "admin-password")

	for _, email := range []string{"ana@unit.test", "ben@unit.test"} {
		code, env := api.call(http.MethodPost, "/api/v1/staff", admin, gin.H{
			"name": email, "email": email, "password": "nurse-password", "role": "nurse",
		})
		require.Equal(t, http.StatusCreated, code, env.Message)
	}
	ana := api.login("ana@unit.test", "nurse-password")
	ben := api.login("ben@unit.test", "nurse-password")

	code, env := api.call(http.MethodPost, "/api/v1/assignments", ana, gin.H{"patientName": "Maria Santos", "labType": "CBC"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	id := idOf(t, env)

	code, env = api.call(http.MethodPost, "/api/v1/assignments/"+id+"/claim", ana, nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = api.call(http.MethodPost, "/api/v1/assignments/"+id+"/claim", ben, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_CLAIMED", env.Code)

	code, _ = api.call(http.MethodPost, "/api/v1/assignments/"+id+"/release", ben, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = api.call(http.MethodGet, "/api/v1/assignments?filter=mine", ana, nil)
	require.Equal(t, http.StatusOK, code)
	var board struct {
		Items []struct {
			ID         string `json:"id"`
			CanRelease bool   `json:"canRelease"`
		} `json:"items"`
		Counts struct {
			Mine int `json:"mine"`
		} `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &board))
	require.Len(t, board.Items, 1)
	assert.True(t, board.Items[0].CanRelease)
	assert.Equal(t, 1, board.Counts.Mine)

	code, _ = api.call(http.MethodGet, "/api/v1/assignments?filter=everything", ana, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = api.call(http.MethodPost, "/api/v1/assignments/"+id+"/complete", ana, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = api.call(http.MethodPost, "/api/v1/assignments/"+id+"/complete", ana, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "NOT_ASSIGNED", env.Code)
}

func TestHealthIsPublic(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
