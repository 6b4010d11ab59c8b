// Package health reports process liveness and dependency readiness for the
// GET /health endpoint.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pinger is the minimal dependency-check capability a Checker probes. A
// *pgxpool.Pool already satisfies this via its Ping method.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the overall result of a health check.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// Result is the JSON body returned by GET /health.
type Result struct {
	Status Status            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Checker probes the database dependency and reports overall readiness.
type Checker struct {
	db      Pinger
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Checker. timeout bounds each dependency probe; it defaults
// to 2 seconds if zero or negative.
func New(db Pinger, timeout time.Duration, logger *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{db: db, timeout: timeout, logger: logger}
}

// Check probes every dependency and returns the aggregate result. The
// overall status is degraded if any individual check fails.
func (c *Checker) Check(ctx context.Context) Result {
	checks := make(map[string]string)
	status := StatusOK

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		checks["database"] = "unreachable: " + err.Error()
		status = StatusDegraded
		c.logger.Warn("health: database check failed", zap.Error(err))
	} else {
		checks["database"] = "ok"
	}

	return Result{Status: status, Checks: checks}
}
