package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealthChecker() {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestSetComponent(t *testing.T) {
	resetHealthChecker()

	SetComponent("catalog", true, "connected")

	require.Len(t, healthChecker.components, 1)

	comp := healthChecker.components["catalog"]
	assert.True(t, comp.Healthy)
	assert.Equal(t, "connected", comp.Message)
}

func TestSetComponentReplacesPriorState(t *testing.T) {
	resetHealthChecker()

	SetComponent("scheduler", true, "ok")
	SetComponent("scheduler", false, "tick loop exited")

	comp := healthChecker.components["scheduler"]
	assert.False(t, comp.Healthy)
	assert.Equal(t, "tick loop exited", comp.Message)
}

func TestGetHealth_AllHealthy(t *testing.T) {
	resetHealthChecker()
	SetVersion("1.0.0")

	SetComponent("catalog", true, "")
	SetComponent("auth", true, "")

	health := GetHealth()

	assert.Equal(t, "healthy", health.Status)
	assert.Len(t, health.Components, 2)
	assert.Equal(t, "1.0.0", health.Version)
}

func TestGetHealth_OneUnhealthy(t *testing.T) {
	resetHealthChecker()

	SetComponent("catalog", true, "")
	SetComponent("policy", false, "compile failed")

	health := GetHealth()

	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: compile failed", health.Components["policy"])
}

func TestGetReadiness_AllReady(t *testing.T) {
	resetHealthChecker()

	SetComponent("catalog", true, "")
	SetComponent("auth", true, "")
	SetComponent("policy", true, "")

	readiness := GetReadiness()

	assert.Equal(t, "ready", readiness.Status)
}

func TestGetReadiness_MissingCriticalComponent(t *testing.T) {
	resetHealthChecker()

	SetComponent("catalog", true, "")
	// auth and policy not yet reported

	readiness := GetReadiness()

	assert.Equal(t, "not_ready", readiness.Status)
	assert.NotEmpty(t, readiness.Message)
}

func TestGetReadiness_CriticalComponentUnhealthy(t *testing.T) {
	resetHealthChecker()

	SetComponent("catalog", false, "schema revision mismatch")
	SetComponent("auth", true, "")
	SetComponent("policy", true, "")

	readiness := GetReadiness()

	assert.Equal(t, "not_ready", readiness.Status)
}

func TestGetReadiness_IgnoresNonCriticalComponents(t *testing.T) {
	resetHealthChecker()

	SetComponent("catalog", true, "")
	SetComponent("auth", true, "")
	SetComponent("policy", true, "")
	SetComponent("scheduler", false, "stalled")

	readiness := GetReadiness()

	assert.Equal(t, "ready", readiness.Status)
}

func TestHealthHandler(t *testing.T) {
	resetHealthChecker()
	SetVersion("test")

	SetComponent("catalog", true, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	HealthHandler()(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))

	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealthChecker()

	SetComponent("auth", false, "signing keyring invalid")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	HealthHandler()(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))

	assert.Equal(t, "unhealthy", health.Status)
}

func TestReadyHandler(t *testing.T) {
	resetHealthChecker()

	SetComponent("catalog", true, "")
	SetComponent("auth", true, "")
	SetComponent("policy", true, "")

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	ReadyHandler()(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var readiness HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readiness))

	assert.Equal(t, "ready", readiness.Status)
}

func TestReadyHandler_NotReady(t *testing.T) {
	resetHealthChecker()

	SetComponent("catalog", true, "")
	// auth and policy not yet reported

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	ReadyHandler()(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var readiness HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readiness))

	assert.Equal(t, "not_ready", readiness.Status)
}

func TestLivenessHandler(t *testing.T) {
	resetHealthChecker()

	req := httptest.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()

	LivenessHandler()(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	assert.Equal(t, "alive", response["status"])
	assert.NotEmpty(t, response["uptime"])
}
