package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/agent"
	"github.com/trustvault/trustvault/internal/apperr"
	"github.com/trustvault/trustvault/internal/ratelimit"
)

const (
	ctxAgentKey  = "trustvault_agent"
	ctxAPIKeyKey = "trustvault_api_key"
)

// AgentVerifier resolves a presented API key to its owning agent.
type AgentVerifier interface {
	Verify(ctx context.Context, req agent.VerifyRequest) (*agent.Agent, error)
}

// corsMiddleware builds the CORS middleware from the configured allowed
// origins.
func corsMiddleware(allowOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Api-Key", "If-None-Match"},
		ExposeHeaders:    []string{"ETag", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: !containsWildcard(allowOrigins),
		MaxAge:           12 * time.Hour,
	}
	return cors.New(cfg)
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// securityHeaders sets a fixed set of defensive response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// bodySizeLimit bounds the request body to maxBytes.
func bodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// requestLogger logs each request's method, path, status, and latency.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// rateLimited enforces a named sliding-window limiter keyed by client IP,
// setting the standard X-RateLimit-* headers on every response.
func rateLimited(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := limiter.Allow(c.ClientIP())
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			abortWithError(c, apperr.New(apperr.KindRateLimited, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}

// RequireAPIKey exports requireAPIKey for wiring from cmd/trustvaultd, where
// the concrete agent.Service is constructed.
func RequireAPIKey(verifier AgentVerifier) gin.HandlerFunc {
	return requireAPIKey(verifier)
}

// RateLimited exports rateLimited for wiring from cmd/trustvaultd.
func RateLimited(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return rateLimited(limiter)
}

// requireAPIKey resolves the X-Api-Key header against the :id path
// parameter's agent and attaches both the agent and the raw key to the
// request context. The raw key is needed downstream for persona signing
// and ping signature verification, since only its hash is ever persisted.
func requireAPIKey(verifier AgentVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Api-Key")
		if key == "" {
			abortWithError(c, apperr.Unauthorized("missing X-Api-Key header"))
			return
		}

		agentID := c.Param("id")
		resolved, err := verifier.Verify(c.Request.Context(), agent.VerifyRequest{AgentID: agentID, APIKey: key})
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(ctxAgentKey, resolved)
		c.Set(ctxAPIKeyKey, key)
		c.Next()
	}
}

// agentFromContext returns the agent attached by requireAPIKey.
func agentFromContext(c *gin.Context) *agent.Agent {
	v, ok := c.Get(ctxAgentKey)
	if !ok {
		return nil
	}
	a, _ := v.(*agent.Agent)
	return a
}

// apiKeyFromContext returns the raw API key attached by requireAPIKey.
func apiKeyFromContext(c *gin.Context) string {
	v, ok := c.Get(ctxAPIKeyKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
