package models

import (
	"fmt"
	"time"
)

// EndpointClass groups routes that share a request budget.
type EndpointClass string

const (
	// ClassRead covers profile, proof and credential lookups.
	ClassRead EndpointClass = "read"
	// ClassWrite covers issuance, recomputation, proof generation, reveals
	// and oracle deliveries.
	ClassWrite EndpointClass = "write"
)

// Limit is a sliding-window budget.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// NewIPRateLimitKey builds the bucket key for one client IP and class.
func NewIPRateLimitKey(ip string, class EndpointClass) string {
	return fmt.Sprintf("ip:%s:%s", ip, class)
}
