package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/apperr"
	"github.com/trustvault/trustvault/internal/webhook"
)

// supportedWebhookEvents is returned by GET /v1/webhooks/events so
// integrators can discover valid subscription values without reading docs.
var supportedWebhookEvents = []string{
	webhook.EventAgentTierUpdated,
	webhook.EventAgentStatusUpdated,
	webhook.EventAgentPermissionsUpdated,
	webhook.EventPersonaCreated,
	webhook.EventPersonaUpdated,
	webhook.EventDriftWarning,
	webhook.EventDriftRevoked,
}

// webhookService is the subset of webhook.Service the HTTP layer depends on.
type webhookService interface {
	Register(ctx context.Context, agentID string, req webhook.RegisterRequest) (*webhook.RegisterResult, error)
	List(ctx context.Context, agentID string) ([]*webhook.Endpoint, error)
	Delete(ctx context.Context, agentID string, id uuid.UUID) error
	SetActive(ctx context.Context, agentID string, id uuid.UUID, active bool) error
	RotateSecret(ctx context.Context, agentID string, id uuid.UUID) (string, error)
	Deliveries(ctx context.Context, endpointID uuid.UUID, limit int) ([]*webhook.Delivery, error)
}

// WebhookHandler serves the /v1/agents/:id/webhooks routes.
type WebhookHandler struct {
	svc    webhookService
	auth   gin.HandlerFunc
	logger *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc webhookService, auth gin.HandlerFunc, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, auth: auth, logger: logger}
}

// Register wires the webhook routes onto the given router group.
func (h *WebhookHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/webhooks/events", h.SupportedEvents)

	agents := rg.Group("/agents/:id/webhooks")
	{
		agents.POST("", h.auth, h.RegisterWebhook)
		agents.GET("", h.auth, h.ListWebhooks)
		agents.DELETE("/:webhook_id", h.auth, h.DeleteWebhook)
		agents.PUT("/:webhook_id/active", h.auth, h.SetActive)
		agents.POST("/:webhook_id/rotate-secret", h.auth, h.RotateSecret)
		agents.GET("/:webhook_id/deliveries", h.auth, h.ListDeliveries)
	}
}

func (h *WebhookHandler) SupportedEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": supportedWebhookEvents})
}

func (h *WebhookHandler) RegisterWebhook(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	var req webhook.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.svc.Register(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	endpoints, err := h.svc.List(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": endpoints})
}

func (h *WebhookHandler) webhookID(c *gin.Context) (uuid.UUID, bool) {
	raw, ok := requireParam(c, "webhook_id")
	if !ok {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(c, apperr.Validation("invalid webhook id", apperr.FieldError{Field: "webhook_id", Message: "must be a uuid"}))
		return uuid.UUID{}, false
	}
	return id, true
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	agentID, ok := requireParam(c, "id")
	if !ok {
		return
	}
	webhookID, ok := h.webhookID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), agentID, webhookID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WebhookHandler) SetActive(c *gin.Context) {
	agentID, ok := requireParam(c, "id")
	if !ok {
		return
	}
	webhookID, ok := h.webhookID(c)
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.svc.SetActive(c.Request.Context(), agentID, webhookID, req.Active); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *WebhookHandler) RotateSecret(c *gin.Context) {
	agentID, ok := requireParam(c, "id")
	if !ok {
		return
	}
	webhookID, ok := h.webhookID(c)
	if !ok {
		return
	}
	secret, err := h.svc.RotateSecret(c.Request.Context(), agentID, webhookID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret})
}

func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	_, ok := requireParam(c, "id")
	if !ok {
		return
	}
	webhookID, ok := h.webhookID(c)
	if !ok {
		return
	}
	limit, _ := pagination(c)
	deliveries, err := h.svc.Deliveries(c.Request.Context(), webhookID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}
