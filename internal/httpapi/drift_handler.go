package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/apperr"
	"github.com/trustvault/trustvault/internal/drift"
)

// driftService is the subset of drift.Service the HTTP layer depends on.
type driftService interface {
	IngestPing(ctx context.Context, agentID string, req drift.PingRequest) (*drift.PingResult, error)
	DriftScore(ctx context.Context, agentID string) (*drift.ScoreResult, error)
	History(ctx context.Context, agentID, metric string, limit, offset int) ([]*drift.HealthPing, int, error)
	GetConfig(ctx context.Context, agentID string) (*drift.Config, error)
	UpdateConfig(ctx context.Context, cfg drift.Config) (*drift.Config, error)
}

// DriftHandler serves the /v1/drift routes.
type DriftHandler struct {
	svc    driftService
	auth   gin.HandlerFunc
	logger *zap.Logger
}

// NewDriftHandler creates a new DriftHandler.
func NewDriftHandler(svc driftService, auth gin.HandlerFunc, logger *zap.Logger) *DriftHandler {
	return &DriftHandler{svc: svc, auth: auth, logger: logger}
}

// Register wires the drift routes onto the given router group.
func (h *DriftHandler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/drift/:id")
	{
		agents.POST("/health-ping", h.auth, h.HealthPing)
		agents.GET("/drift-score", h.DriftScore)
		agents.GET("/drift-history", h.DriftHistory)
		agents.PUT("/drift-config", h.auth, h.UpdateConfig)
		agents.GET("/drift-config", h.GetConfig)
	}
}

func (h *DriftHandler) HealthPing(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, apperr.Validation("could not read request body", apperr.FieldError{Field: "body", Message: err.Error()}))
		return
	}

	if sig := c.GetHeader("X-Ping-Signature"); sig != "" {
		if !verifyPingSignature(body, apiKeyFromContext(c), sig) {
			writeError(c, apperr.Unauthorized("ping signature mismatch"))
			return
		}
	}

	var req drift.PingRequest
	if err := bindJSONBytes(c, body, &req); err != nil {
		writeError(c, apperr.Validation("invalid request body", apperr.FieldError{Field: "body", Message: err.Error()}))
		return
	}

	result, err := h.svc.IngestPing(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func verifyPingSignature(body []byte, apiKey, header string) bool {
	presented := strings.TrimPrefix(header, "sha256=")
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return len(presented) == len(expected) && subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

func (h *DriftHandler) DriftScore(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	result, err := h.svc.DriftScore(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *DriftHandler) DriftHistory(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	limit, offset := pagination(c)
	metric := c.Query("metric")

	pings, total, err := h.svc.History(c.Request.Context(), id, metric, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("format") == "csv" {
		csv, err := driftHistoryCSV(pings)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="drift-history.csv"`)
		c.Data(http.StatusOK, "text/csv", csv)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pings": pings, "total": total, "limit": limit, "offset": offset})
}

func (h *DriftHandler) GetConfig(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	cfg, err := h.svc.GetConfig(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *DriftHandler) UpdateConfig(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	var cfg drift.Config
	if !bindJSON(c, &cfg) {
		return
	}
	cfg.AgentID = id

	updated, err := h.svc.UpdateConfig(c.Request.Context(), cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
