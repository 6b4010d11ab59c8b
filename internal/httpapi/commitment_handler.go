package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/agent"
	"github.com/trustvault/trustvault/internal/apperr"
	"github.com/trustvault/trustvault/internal/commitment"
)

// commitmentService is the subset of commitment.Service the HTTP layer
// depends on.
type commitmentService interface {
	Register(ctx context.Context, agentID, apiKey string, expiresAt *time.Time) (*commitment.RegisterResult, error)
	VerifyHash(ctx context.Context, digest, preimageHash string) *commitment.VerifyResult
	VerifyGroth16(ctx context.Context, digest string, proof commitment.Proof, publicSignals []string) (*commitment.VerifyResult, error)
	Revoke(ctx context.Context, digest string) error
	ActiveCount(ctx context.Context) (int, error)
}

// CommitmentHandler serves the /v1/zkp routes.
type CommitmentHandler struct {
	svc      commitmentService
	verifier AgentVerifier
	logger   *zap.Logger
}

// NewCommitmentHandler creates a new CommitmentHandler.
func NewCommitmentHandler(svc commitmentService, verifier AgentVerifier, logger *zap.Logger) *CommitmentHandler {
	return &CommitmentHandler{svc: svc, verifier: verifier, logger: logger}
}

// Register wires the commitment routes onto the given router group.
func (h *CommitmentHandler) Register(rg *gin.RouterGroup) {
	zkp := rg.Group("/zkp")
	{
		zkp.POST("/register-commitment", h.RegisterCommitment)
		zkp.POST("/verify-anonymous", h.VerifyAnonymous)
		zkp.DELETE("/commitment/:commitment", h.RevokeCommitment)
		zkp.GET("/active-count", h.ActiveCount)
	}
}

type registerCommitmentRequest struct {
	AgentID   string     `json:"agent_id" binding:"required"`
	APIKey    string     `json:"api_key" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *CommitmentHandler) RegisterCommitment(c *gin.Context) {
	var req registerCommitmentRequest
	if !bindJSON(c, &req) {
		return
	}

	if _, err := h.verifier.Verify(c.Request.Context(), agent.VerifyRequest{AgentID: req.AgentID, APIKey: req.APIKey}); err != nil {
		writeError(c, err)
		return
	}

	result, err := h.svc.Register(c.Request.Context(), req.AgentID, req.APIKey, req.ExpiresAt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type verifyAnonymousRequest struct {
	Commitment    string            `json:"commitment" binding:"required"`
	PreimageHash  string            `json:"preimage_hash,omitempty"`
	Proof         *commitment.Proof `json:"proof,omitempty"`
	PublicSignals []string          `json:"public_signals,omitempty"`
}

func (h *CommitmentHandler) VerifyAnonymous(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	var req verifyAnonymousRequest
	if !bindJSON(c, &req) {
		return
	}

	mode := c.DefaultQuery("mode", "hash")
	switch mode {
	case "hash":
		if req.PreimageHash == "" {
			writeError(c, apperr.Validation("preimage_hash required in hash mode", apperr.FieldError{Field: "preimage_hash", Message: "required"}))
			return
		}
		result := h.svc.VerifyHash(c.Request.Context(), req.Commitment, req.PreimageHash)
		c.JSON(http.StatusOK, result)
	case "zkp":
		if req.Proof == nil {
			writeError(c, apperr.Validation("proof required in zkp mode", apperr.FieldError{Field: "proof", Message: "required"}))
			return
		}
		result, err := h.svc.VerifyGroth16(c.Request.Context(), req.Commitment, *req.Proof, req.PublicSignals)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	default:
		writeError(c, apperr.Validation("unknown verification mode", apperr.FieldError{Field: "mode", Message: "must be hash or zkp"}))
	}
}

func (h *CommitmentHandler) RevokeCommitment(c *gin.Context) {
	digest, ok := requireParam(c, "commitment")
	if !ok {
		return
	}
	if err := h.svc.Revoke(c.Request.Context(), digest); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *CommitmentHandler) ActiveCount(c *gin.Context) {
	n, err := h.svc.ActiveCount(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_count": n})
}
