package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trustvault/trustvault/internal/ratelimit"
)

// registrar is satisfied by every domain handler.
type registrar interface {
	Register(rg *gin.RouterGroup)
}

// RouterConfig bundles everything needed to assemble the gin engine.
type RouterConfig struct {
	CORSAllowOrigins []string
	BodyLimitBytes   int64
	Limiters         *ratelimit.Registry
	Health           healthChecker
	Logger           *zap.Logger

	Agent      *AgentHandler
	Persona    *PersonaHandler
	Commitment *CommitmentHandler
	Drift      *DriftHandler
	Webhook    *WebhookHandler
}

// NewRouter assembles the full gin engine: global middleware, health and
// metrics endpoints, and every versioned domain route group.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(cfg.Logger))
	r.Use(corsMiddleware(cfg.CORSAllowOrigins))
	r.Use(securityHeaders())
	r.Use(bodySizeLimit(cfg.BodyLimitBytes))
	r.Use(prometheusMiddleware())

	r.GET("/health", healthHandler(cfg.Health))
	r.GET("/metrics", metricsHandler())

	v1 := r.Group("/v1")
	v1.Use(rateLimited(cfg.Limiters.General))
	for _, h := range []registrar{cfg.Agent, cfg.Persona, cfg.Commitment, cfg.Drift, cfg.Webhook} {
		h.Register(v1)
	}

	return r
}
