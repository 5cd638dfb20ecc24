package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"warden/logger"
	"warden/risk"
	"warden/scheduler"
)

type fakeScheduler struct {
	snap    scheduler.Snapshot
	paused  bool
	level   risk.Level
	cleared bool
}

func (f *fakeScheduler) Snapshot() scheduler.Snapshot { return f.snap }
func (f *fakeScheduler) Pause()                       { f.paused = true }
func (f *fakeScheduler) Resume()                      { f.paused = false }
func (f *fakeScheduler) Paused() bool                 { return f.paused }
func (f *fakeScheduler) ClearCircuitBreaker()         { f.cleared = true }
func (f *fakeScheduler) RiskLevel() risk.Level         { return f.level }

func newTestServer(fake *fakeScheduler) *Server {
	return New(Config{JWTSecret: "test-secret"}, fake, logger.Nop())
}

func TestHealthz_ReturnsOK(t *testing.T) {
	s := newTestServer(&fakeScheduler{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatus_ReflectsSnapshot(t *testing.T) {
	fake := &fakeScheduler{snap: scheduler.Snapshot{RiskLevel: risk.Warning, PortfolioValue: 950}}
	s := newTestServer(fake)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "WARNING", body["risk_level"])
	assert.Equal(t, 950.0, body["portfolio_value"])
}

func TestControl_RejectsMissingToken(t *testing.T) {
	s := newTestServer(&fakeScheduler{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/pause", nil)
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginThenControl_PauseSucceedsWithValidToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.DefaultCost)
	require.NoError(t, err)

	fake := &fakeScheduler{}
	s := New(Config{JWTSecret: "test-secret", OperatorPasswordHash: string(hash)}, fake, logger.Nop())

	token := loginAndGetToken(t, s, "correct-horse")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/pause", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, fake.paused)
}

func TestLogin_RejectsWrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.DefaultCost)
	s := New(Config{JWTSecret: "test-secret", OperatorPasswordHash: string(hash)}, &fakeScheduler{}, logger.Nop())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClearBreaker_RejectedDuringBlackSwanFreeze(t *testing.T) {
	fake := &fakeScheduler{level: risk.BlackSwanFreeze}
	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.DefaultCost)
	s := New(Config{JWTSecret: "test-secret", OperatorPasswordHash: string(hash)}, fake, logger.Nop())

	token := loginAndGetToken(t, s, "pw")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/clear-breaker", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, fake.cleared)
}

func TestClearBreaker_SucceedsOutsideFreezeOrEmergency(t *testing.T) {
	fake := &fakeScheduler{level: risk.CircuitBreakerLv}
	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.DefaultCost)
	s := New(Config{JWTSecret: "test-secret", OperatorPasswordHash: string(hash)}, fake, logger.Nop())

	token := loginAndGetToken(t, s, "pw")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/clear-breaker", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, fake.cleared)
}

func loginAndGetToken(t *testing.T, s *Server, password string) string {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"password":"`+password+`"}`))
	req.Header.Set("Content-Type", "application/json")
	s.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["token"].(string)
}
