package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeshield/internal/config"
	"typeshield/internal/logging"
	"typeshield/internal/metrics"
	"typeshield/internal/security"
	"typeshield/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Security.LoginRatePerMin = 600
	cfg.Security.LoginBurst = 100

	st, err := store.Open(cfg.Storage.Path, cfg.BusyTimeout())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log, err := logging.New(&logging.Config{Level: logging.LevelError})
	require.NoError(t, err)

	srv, err := New(cfg, st, log, metrics.NewAuthMetrics(metrics.NewRegistry("typeshield")))
	require.NoError(t, err)
	return srv
}

func behaviourBody(dwell, flight []float64, total float64, device string) map[string]any {
	return map[string]any{
		"dwell_times":  dwell,
		"flight_times": flight,
		"total_time":   total,
		"error_count":  0,
		"device_type":  device,
	}
}

func referenceBehaviour() map[string]any {
	return behaviourBody(
		[]float64{100, 110, 105, 95, 102, 98, 107, 101},
		[]float64{80, 85, 90, 82, 88, 79, 84},
		1300,
		"precise",
	)
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func register(t *testing.T, h http.Handler, username, password string, b map[string]any) {
	t.Helper()
	rec := postJSON(t, h, "/api/register", map[string]any{
		"username": username, "password": password, "behaviour": b,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	register(t, h, "alice", "s3cret-passphrase", referenceBehaviour())

	rec := postJSON(t, h, "/api/login", map[string]any{
		"username": "alice", "password": "s3cret-passphrase",
		"behaviour": referenceBehaviour(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Authenticated)
	require.NotNil(t, resp.Score)
	assert.InDelta(t, 100.0, resp.Score.Similarity, 0.01)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLoginWrongPassword(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	register(t, h, "alice", "s3cret-passphrase", referenceBehaviour())

	rec := postJSON(t, h, "/api/login", map[string]any{
		"username": "alice", "password": "wrong-passphrase",
		"behaviour": referenceBehaviour(),
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Authenticated)
	assert.Equal(t, "invalid_credentials", resp.Category)
	assert.Nil(t, resp.Score, "no behavioural score for a failed password")
}

func TestLoginUnknownUser(t *testing.T) {
	srv := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/login", map[string]any{
		"username": "nobody", "password": "whatever-pass",
		"behaviour": referenceBehaviour(),
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_credentials", resp.Category,
		"unknown users look identical to wrong passwords")
}

func TestLoginBehaviourMismatch(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	register(t, h, "alice", "s3cret-passphrase", referenceBehaviour())

	// Triple every timing: trips the tempo guard.
	rec := postJSON(t, h, "/api/login", map[string]any{
		"username": "alice", "password": "s3cret-passphrase",
		"behaviour": behaviourBody(
			[]float64{300, 330, 315, 285, 306, 294, 321, 303},
			[]float64{240, 255, 270, 246, 264, 237, 252},
			3900,
			"precise",
		),
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "behavioural_mismatch", resp.Category)
	require.NotNil(t, resp.Score)
	assert.NotEmpty(t, resp.Reasons)
}

func TestSchemaRejectsBadPayloads(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name      string
		behaviour map[string]any
	}{
		{"negative dwell", behaviourBody([]float64{100, -5}, []float64{80}, 500, "precise")},
		{"unknown device", behaviourBody([]float64{100}, []float64{}, 500, "touchscreen")},
		{"empty dwell", behaviourBody([]float64{}, []float64{}, 500, "precise")},
		{"missing total", map[string]any{
			"dwell_times": []float64{100}, "flight_times": []float64{}, "device_type": "precise",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h, "/api/register", map[string]any{
				"username": "bob", "password": "valid-password", "behaviour": tt.behaviour,
			})
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	register(t, h, "alice", "s3cret-passphrase", referenceBehaviour())

	rec := postJSON(t, h, "/api/register", map[string]any{
		"username": "alice", "password": "other-password", "behaviour": referenceBehaviour(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterRejectsBadUsername(t *testing.T) {
	srv := newTestServer(t)

	rec := postJSON(t, srv.Handler(), "/api/register", map[string]any{
		"username": "a b", "password": "valid-password", "behaviour": referenceBehaviour(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttemptsRequiresSession(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/attempts", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAttemptsHistory(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	register(t, h, "alice", "s3cret-passphrase", referenceBehaviour())

	postJSON(t, h, "/api/login", map[string]any{
		"username": "alice", "password": "wrong-passphrase",
		"behaviour": referenceBehaviour(),
	})
	rec := postJSON(t, h, "/api/login", map[string]any{
		"username": "alice", "password": "s3cret-passphrase",
		"behaviour": referenceBehaviour(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest("GET", "/api/attempts", nil)
	req.AddCookie(cookie)
	attemptsRec := httptest.NewRecorder()
	h.ServeHTTP(attemptsRec, req)
	require.Equal(t, http.StatusOK, attemptsRec.Code)

	var resp attemptsResponse
	require.NoError(t, json.Unmarshal(attemptsRec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, int64(1), resp.Success)
	assert.Equal(t, int64(1), resp.Failure)
	require.Len(t, resp.Recent, 2)
	assert.Equal(t, "success", resp.Recent[0].Outcome, "newest first")
	require.NotNil(t, resp.Recent[0].Score)
}

func TestLogoutEndsSession(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	register(t, h, "alice", "s3cret-passphrase", referenceBehaviour())
	rec := postJSON(t, h, "/api/login", map[string]any{
		"username": "alice", "password": "s3cret-passphrase",
		"behaviour": referenceBehaviour(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := rec.Result().Cookies()[0]

	logoutReq := httptest.NewRequest("POST", "/api/logout", nil)
	logoutReq.AddCookie(cookie)
	logoutRec := httptest.NewRecorder()
	h.ServeHTTP(logoutRec, logoutReq)
	require.Equal(t, http.StatusOK, logoutRec.Code)

	req := httptest.NewRequest("GET", "/api/attempts", nil)
	req.AddCookie(cookie)
	afterRec := httptest.NewRecorder()
	h.ServeHTTP(afterRec, req)
	assert.Equal(t, http.StatusUnauthorized, afterRec.Code)
}

func TestLoginRateLimited(t *testing.T) {
	srv := newTestServer(t)
	srv.limiter = security.NewLoginLimiter(0.001, 2)
	h := srv.Handler()

	register(t, h, "alice", "s3cret-passphrase", referenceBehaviour())

	for i := 0; i < 2; i++ {
		rec := postJSON(t, h, "/api/login", map[string]any{
			"username": "alice", "password": fmt.Sprintf("wrong-%d-passw", i),
			"behaviour": referenceBehaviour(),
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := postJSON(t, h, "/api/login", map[string]any{
		"username": "alice", "password": "s3cret-passphrase",
		"behaviour": referenceBehaviour(),
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	register(t, h, "alice", "s3cret-passphrase", referenceBehaviour())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "typeshield_registrations_total 1")
}
