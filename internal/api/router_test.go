package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm-kernel/internal/config"
	"github.com/moai-flow/swarm-kernel/internal/swarmkernel"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestRouter(t *testing.T) *gin.Engine {
	cfg := config.Default()
	cfg.Patterns.Root = t.TempDir()
	k, err := swarmkernel.New(cfg, testLogger())
	require.NoError(t, err)
	return NewRouter(k, cfg.API, testLogger())
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLiveness(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitTopology(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(router, http.MethodPost, "/api/v1/topology/init", initTopologyRequest{
		Mode:          "star",
		SigningSecret: "swarm-secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "star", info["type"])

	rec = doJSON(router, http.MethodPost, "/api/v1/agents", registerAgentRequest{
		AgentID:   "agent-1",
		AgentType: "worker",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var agent map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))
	assert.Contains(t, agent["metadata"], "credential")
}

func TestRegisterAndUnregisterAgent(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/v1/agents", registerAgentRequest{
		AgentID:   "agent-1",
		AgentType: "worker",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/v1/agents", registerAgentRequest{
		AgentID:   "agent-1",
		AgentType: "worker",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(router, http.MethodDelete, "/api/v1/agents/agent-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRegisterAgentSanitizesMetadata(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/v1/agents", registerAgentRequest{
		AgentID:   "agent-xss",
		AgentType: "worker",
		Metadata:  map[string]interface{}{"note": "<script>alert(1)</script>hi"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hi", body["metadata"].(map[string]interface{})["note"])
}

func TestStatusEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(router, http.MethodGet, "/api/v1/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "topology")
	assert.Contains(t, body, "resources")
	assert.Contains(t, body, "health")
}

func TestBudgetEndpoint_UnknownSwarm(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(router, http.MethodGet, "/api/v1/budget?swarm=does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReportEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(router, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPatternsAnalyzeEndpoint_InvalidDays(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(router, http.MethodGet, "/api/v1/patterns/analyze?days=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatternsAnalyzeEndpoint_Default(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(router, http.MethodGet, "/api/v1/patterns/analyze", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProposeConsensus_RequiresPayload(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(router, http.MethodPost, "/api/v1/consensus/propose", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
