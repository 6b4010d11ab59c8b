package ratelimit

import "time"

// Registry holds the named limiters used across the HTTP surface: "general"
// for most routes and "auth" for credential-presenting routes.
type Registry struct {
	General *Limiter
	Auth    *Limiter
}

// NewRegistry builds the standard general/auth limiter pair.
func NewRegistry(generalLimit, authLimit int, generalWindow, authWindow time.Duration) *Registry {
	return &Registry{
		General: New(generalLimit, generalWindow),
		Auth:    New(authLimit, authWindow),
	}
}

// DefaultRegistry builds the spec-default pair: 100 requests/15min general,
// 10 requests/15min auth.
func DefaultRegistry() *Registry {
	return NewRegistry(100, 10, 15*time.Minute, 15*time.Minute)
}

// Evict sweeps both limiters and returns the total number of buckets
// removed. Intended to run on a schedule (every 5 minutes per spec).
func (r *Registry) Evict() int {
	return r.General.Evict() + r.Auth.Evict()
}
