// Package health provides health check utilities for services.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusOK indicates the component is healthy.
	StatusOK Status = "OK"
	// StatusDown indicates the component is unhealthy.
	StatusDown Status = "DOWN"
	// StatusDegraded indicates the component is partially healthy.
	StatusDegraded Status = "DEGRADED"
)

// Check represents a health check function.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency_ms"`
}

// Response represents the overall health response.
type Response struct {
	Status     Status                     `json:"status"`
	Message    string                     `json:"message,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker manages health checks for a service.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	version string
	message string
	timeout time.Duration
}

// Option is a functional option for configuring the Checker.
type Option func(*Checker)

// WithVersion sets the service version.
func WithVersion(version string) Option {
	return func(c *Checker) {
		c.version = version
	}
}

// WithMessage sets a fixed message included in every response.
func WithMessage(message string) Option {
	return func(c *Checker) {
		c.message = message
	}
}

// WithTimeout sets the timeout for individual health checks.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		c.timeout = timeout
	}
}

// NewChecker creates a new health checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register adds a health check for a component.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

type result struct {
	name   string
	health ComponentHealth
}

// Check runs all health checks concurrently and returns the overall health.
func (c *Checker) Check(ctx context.Context) Response {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	response := c.baseResponse()
	response.Components = make(map[string]ComponentHealth, len(checks))

	if len(checks) == 0 {
		return response
	}

	var wg sync.WaitGroup
	results := make(chan result, len(checks))

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			health := check(checkCtx)
			health.Latency = time.Since(start)

			results <- result{name, health}
		}(name, check)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		response.Components[r.name] = r.health

		switch r.health.Status {
		case StatusDown:
			response.Status = StatusDown
		case StatusDegraded:
			if response.Status != StatusDown {
				response.Status = StatusDegraded
			}
		}
	}

	return response
}

func (c *Checker) baseResponse() Response {
	return Response{
		Status:    StatusOK,
		Message:   c.message,
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
}

// LivenessHandler reports that the process is serving requests. It never
// consults registered checks.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.baseResponse())
	})
}

// ReadinessHandler runs every registered check and answers 503 when any
// component is down. Component results are included in the body.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := c.Check(r.Context())

		status := http.StatusOK
		if response.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	})
}

func writeJSON(w http.ResponseWriter, status int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// PingCheck creates a health check around a ping function.
func PingCheck(component string, pingFunc func(context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := pingFunc(ctx); err != nil {
			return ComponentHealth{
				Status:  StatusDown,
				Message: component + " connection failed",
				Details: map[string]any{"error": err.Error()},
			}
		}
		return ComponentHealth{
			Status:  StatusOK,
			Message: component + " connection healthy",
		}
	}
}

// ConnectedCheck creates a health check for clients that expose a
// connection flag. A disconnected optional dependency only degrades the
// service.
func ConnectedCheck(component string, connected func() bool) Check {
	return func(_ context.Context) ComponentHealth {
		if !connected() {
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: component + " disconnected",
			}
		}
		return ComponentHealth{
			Status:  StatusOK,
			Message: component + " connected",
		}
	}
}
