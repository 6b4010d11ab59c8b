package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/apperr"
	"github.com/trustvault/trustvault/internal/persona"
)

const maxImportUploadBytes = 1 << 20

// personaService is the subset of persona.Service the HTTP layer depends on.
type personaService interface {
	Register(ctx context.Context, agentID, apiKey string, req persona.RegisterRequest) (*persona.Persona, error)
	Update(ctx context.Context, agentID, apiKey string, req persona.UpdateRequest) (*persona.UpdateResult, error)
	Get(ctx context.Context, agentID string) (*persona.Persona, error)
	VerifyIntegrity(ctx context.Context, agentID, apiKey string) (*persona.VerifyResult, error)
	History(ctx context.Context, agentID string, limit, offset int, descending bool) ([]*persona.HistoryEntry, int, error)
	ExportBundle(ctx context.Context, agentID string) ([]byte, error)
	ImportBundle(ctx context.Context, agentID, apiKey string, data []byte) (*persona.Persona, error)
}

// PersonaHandler serves the /v1/agents/:id/persona routes.
type PersonaHandler struct {
	svc    personaService
	auth   gin.HandlerFunc
	logger *zap.Logger
}

// NewPersonaHandler creates a new PersonaHandler. auth is the middleware
// that resolves X-Api-Key into the request context for mutating routes.
func NewPersonaHandler(svc personaService, auth gin.HandlerFunc, logger *zap.Logger) *PersonaHandler {
	return &PersonaHandler{svc: svc, auth: auth, logger: logger}
}

// Register wires the persona routes onto the given router group.
func (h *PersonaHandler) Register(rg *gin.RouterGroup) {
	agents := rg.Group("/agents/:id/persona")
	{
		agents.POST("", h.auth, h.RegisterPersona)
		agents.GET("", h.GetPersona)
		agents.PUT("", h.auth, h.UpdatePersona)
		agents.POST("/verify", h.auth, h.VerifyPersona)
		agents.GET("/history", h.GetHistory)
		agents.GET("/export", h.ExportPersona)
		agents.POST("/import", h.auth, h.ImportPersona)
	}
}

func (h *PersonaHandler) RegisterPersona(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	var req persona.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	p, err := h.svc.Register(c.Request.Context(), id, apiKeyFromContext(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *PersonaHandler) GetPersona(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}

	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	etag := `"` + p.Hash + `"`
	c.Header("ETag", etag)
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}

	resp := gin.H{
		"agent_id":    p.AgentID,
		"version":     p.Version,
		"personality": p.Personality,
		"guardrails":  p.Guardrails,
		"constraints": p.Constraints,
		"persona_hash": p.Hash,
		"updated_at":  p.UpdatedAt,
	}
	if c.Query("include_prompt") == "true" {
		resp["prompt"] = persona.RenderPrompt(p.Version, p.Personality, p.Guardrails, p.Constraints)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PersonaHandler) UpdatePersona(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	var req persona.UpdateRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.svc.Update(c.Request.Context(), id, apiKeyFromContext(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PersonaHandler) VerifyPersona(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	result, err := h.svc.VerifyIntegrity(c.Request.Context(), id, apiKeyFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *PersonaHandler) GetHistory(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	limit, offset := pagination(c)
	descending := c.DefaultQuery("order", "desc") != "asc"

	entries, total, err := h.svc.History(c.Request.Context(), id, limit, offset, descending)
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("format") == "csv" {
		csv, err := persona.HistoryCSV(entries)
		if err != nil {
			writeError(c, fmt.Errorf("render csv: %w", err))
			return
		}
		c.Header("Content-Disposition", `attachment; filename="persona-history.csv"`)
		c.Data(http.StatusOK, "text/csv", []byte(csv))
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total, "limit": limit, "offset": offset})
}

func (h *PersonaHandler) ExportPersona(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}
	bundle, err := h.svc.ExportBundle(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="persona-bundle.zip"`)
	c.Data(http.StatusOK, "application/zip", bundle)
}

func (h *PersonaHandler) ImportPersona(c *gin.Context) {
	id, ok := requireParam(c, "id")
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("bundle")
	if err != nil {
		writeError(c, apperr.Validation("missing multipart field", apperr.FieldError{Field: "bundle", Message: "required"}))
		return
	}
	if fileHeader.Size > maxImportUploadBytes {
		writeError(c, apperr.TooLarge("bundle exceeds maximum import size"))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		writeError(c, fmt.Errorf("open uploaded bundle: %w", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImportUploadBytes+1))
	if err != nil {
		writeError(c, fmt.Errorf("read uploaded bundle: %w", err))
		return
	}

	p, err := h.svc.ImportBundle(c.Request.Context(), id, apiKeyFromContext(c), data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
