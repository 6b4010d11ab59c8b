package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/agent"
)

// agentService is the subset of agent.Service the HTTP layer depends on.
type agentService interface {
	Register(ctx context.Context, req agent.RegisterRequest) (*agent.RegisterResult, error)
	Verify(ctx context.Context, req agent.VerifyRequest) (*agent.Agent, error)
	Get(ctx context.Context, agentID string) (*agent.Agent, error)
	List(ctx context.Context, status string, limit, offset int) ([]*agent.Agent, error)
	UpdateTier(ctx context.Context, agentID string, tier agent.Tier) (*agent.Agent, error)
	UpdateStatus(ctx context.Context, agentID string, status agent.Status) (*agent.Agent, error)
	UpdatePermissions(ctx context.Context, agentID string, permissions []string) (*agent.Agent, error)
	Revoke(ctx context.Context, agentID string) (*agent.Agent, error)
}

// AgentHandler serves the /v1/agents routes.
type AgentHandler struct {
	svc       agentService
	authLimit gin.HandlerFunc
	logger    *zap.Logger
}

// NewAgentHandler creates a new AgentHandler. authLimit is applied to the
// credential-presenting register/verify routes in addition to the router's
// general rate limit, since they're the likeliest brute-force target.
func NewAgentHandler(svc agentService, authLimit gin.HandlerFunc, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{svc: svc, authLimit: authLimit, logger: logger}
}

// Register wires the agent routes onto the given router group.
func (h *AgentHandler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.POST("/register", h.authLimit, h.RegisterAgent)
		agents.POST("/verify", h.authLimit, h.VerifyAgent)
		agents.GET("", h.ListAgents)
		agents.GET("/:id", h.GetAgent)
		agents.PUT("/:id/tier", h.UpdateTier)
		agents.PUT("/:id/status", h.UpdateStatus)
		agents.PUT("/:id/permissions", h.UpdatePermissions)
		agents.DELETE("/:id", h.RevokeAgent)
	}
}

func (h *AgentHandler) RegisterAgent(c *gin.Context) {
	var req agent.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *AgentHandler) VerifyAgent(c *gin.Context) {
	var req agent.VerifyRequest
	if !bindJSON(c, &req) {
		return
	}
	resolved, err := h.svc.Verify(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

func (h *AgentHandler) GetAgent(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	a, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *AgentHandler) ListAgents(c *gin.Context) {
	limit, offset := pagination(c)
	status := c.Query("status")
	agents, err := h.svc.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents, "limit": limit, "offset": offset})
}

func (h *AgentHandler) UpdateTier(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Tier agent.Tier `json:"tier" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.svc.UpdateTier(c.Request.Context(), id, req.Tier)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *AgentHandler) UpdateStatus(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status agent.Status `json:"status" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.svc.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *AgentHandler) UpdatePermissions(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Permissions []string `json:"permissions" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.svc.UpdatePermissions(c.Request.Context(), id, req.Permissions)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *AgentHandler) RevokeAgent(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	a, err := h.svc.Revoke(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
