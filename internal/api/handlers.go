package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/moai-flow/swarm-kernel/internal/consensus"
	"github.com/moai-flow/swarm-kernel/internal/eventstream"
	"github.com/moai-flow/swarm-kernel/internal/swarmerrors"
	"github.com/moai-flow/swarm-kernel/internal/swarmkernel"
	"github.com/moai-flow/swarm-kernel/internal/topology"
)

type handlers struct {
	kernel *swarmkernel.Kernel
	logger *logrus.Logger
	upgrader websocket.Upgrader
}

func newHandlers(k *swarmkernel.Kernel, logger *logrus.Logger) *handlers {
	return &handlers{
		kernel: k,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// liveness is a bare process-alive probe, distinct from /api/v1/health's
// agent health report.
func (h *handlers) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusForKind maps the kernel's error taxonomy onto HTTP status codes,
// the "thin translation layer" mentioned in the error-handling design.
func statusForKind(err error) int {
	kind, ok := swarmerrors.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case swarmerrors.InvalidArgument:
		return http.StatusBadRequest
	case swarmerrors.Duplicate:
		return http.StatusConflict
	case swarmerrors.CapacityExceeded:
		return http.StatusTooManyRequests
	case swarmerrors.Timeout:
		return http.StatusGatewayTimeout
	case swarmerrors.NotInitialized:
		return http.StatusServiceUnavailable
	case swarmerrors.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type registerAgentRequest struct {
	AgentID      string                 `json:"agent_id" binding:"required"`
	AgentType    string                 `json:"agent_type" binding:"required"`
	Capabilities []string               `json:"capabilities"`
	ParentID     string                 `json:"parent_id"`
	Layer        int                    `json:"layer"`
	Metadata     map[string]interface{} `json:"metadata"`
}

func (h *handlers) registerAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	agent, err := h.kernel.Topology.RegisterAgent(req.AgentID, req.AgentType, req.Capabilities, topology.RegisterOptions{
		Metadata: req.Metadata,
		ParentID: req.ParentID,
		Layer:    req.Layer,
	})
	if err != nil {
		errorResponse(c, statusForKind(err), err)
		return
	}
	h.kernel.IngestEvent("agent_registered", req.AgentID, req.Metadata)
	c.JSON(http.StatusCreated, agent)
}

func (h *handlers) unregisterAgent(c *gin.Context) {
	agentID := c.Param("id")
	if err := h.kernel.Topology.UnregisterAgent(agentID); err != nil {
		errorResponse(c, statusForKind(err), err)
		return
	}
	h.kernel.IngestEvent("agent_unregistered", agentID, nil)
	c.Status(http.StatusNoContent)
}

type initTopologyRequest struct {
	Mode          string `json:"mode" binding:"required"`
	SigningSecret string `json:"signing_secret"`
	Reason        string `json:"reason"`
}

// initTopology backs `swarm init <topology>`: switches the live mode and,
// when a signing secret is supplied (e.g. from an interactive masked
// prompt), enables capability-token minting for every agent registered
// from this point on.
func (h *handlers) initTopology(c *gin.Context) {
	var req initTopologyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "cli_init"
	}
	if err := h.kernel.Topology.Migrate(topology.Mode(req.Mode), reason); err != nil {
		errorResponse(c, statusForKind(err), err)
		return
	}
	if req.SigningSecret != "" {
		h.kernel.Topology.SetSigningSecret(req.SigningSecret)
	}

	c.JSON(http.StatusOK, h.kernel.Topology.GetTopologyInfo())
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"topology":  h.kernel.Topology.GetTopologyInfo(),
		"resources": h.kernel.Resources.GetResourceUsage(),
		"health":    h.kernel.Health.Snapshot(),
	})
}

type proposeConsensusRequest struct {
	Payload      map[string]interface{} `json:"payload" binding:"required"`
	Algorithm    string                 `json:"algorithm"`
	TimeoutMs    int64                  `json:"timeout_ms"`
	Participants []string               `json:"participants"`
}

func (h *handlers) proposeConsensus(c *gin.Context) {
	var req proposeConsensusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	result, err := h.kernel.Consensus.RequestConsensus(req.Payload, consensus.Options{
		Algorithm:    req.Algorithm,
		TimeoutMs:    req.TimeoutMs,
		Participants: req.Participants,
	})
	if err != nil {
		errorResponse(c, statusForKind(err), err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) budget(c *gin.Context) {
	usage := h.kernel.Resources.GetResourceUsage()
	swarmID := c.Query("swarm")
	if swarmID == "" {
		c.JSON(http.StatusOK, usage)
		return
	}
	b, ok := usage.Swarms[swarmID]
	if !ok {
		errorResponse(c, http.StatusNotFound, swarmerrors.NewInvalidArgument("unknown_swarm", fmt.Sprintf("swarm %q has no budget", swarmID)))
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *handlers) healthReport(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"agents":      h.kernel.Health.Snapshot(),
		"bottlenecks": h.kernel.Resources.GetBottlenecks(),
	})
}

func (h *handlers) patternsAnalyze(c *gin.Context) {
	windowMs := int64(7 * 24 * 60 * 60 * 1000)
	if daysParam := c.Query("days"); daysParam != "" {
		days, err := strconv.Atoi(daysParam)
		if err != nil || days <= 0 {
			errorResponse(c, http.StatusBadRequest, swarmerrors.NewInvalidArgument("invalid_days", "days must be a positive integer"))
			return
		}
		windowMs = int64(days) * 24 * 60 * 60 * 1000
	}

	c.JSON(http.StatusOK, gin.H{
		"performance": h.kernel.Bottleneck.AnalyzePerformance(windowMs, time.Now()),
		"slow_agents": h.kernel.Bottleneck.SlowAgents(),
		"patterns":    h.kernel.Learner.Patterns(),
	})
}

// events upgrades the connection to the observability WebSocket feed.
func (h *handlers) events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("event stream upgrade failed")
		return
	}
	client := eventstream.NewClient(h.kernel.Events, conn, h.logger)
	h.kernel.Events.RegisterClient(client)

	go client.WritePump()
	client.ReadPump()
}
