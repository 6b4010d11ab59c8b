package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trustvault/trustvault/internal/health"
)

// healthChecker is the subset of health.Checker the HTTP layer depends on.
type healthChecker interface {
	Check(ctx context.Context) health.Result
}

// healthHandler returns the GET /health handler. It responds 503 when any
// dependency check is unhealthy so load balancers and orchestrators treat
// the instance as not ready.
func healthHandler(checker healthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := checker.Check(c.Request.Context())

		status := http.StatusOK
		if result.Status != health.StatusOK {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	}
}
