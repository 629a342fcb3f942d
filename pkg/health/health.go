// Package health reports whether a worker's collaborators are reachable.
// Each worker registers a Check for Postgres, Kafka, the blob store and,
// when enabled, Redis; the metrics server exposes the result on
// /health/live and /health/ready.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// severity orders statuses so the report can take the worst one.
func (s Status) severity() int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check tests one collaborator.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is what /health/ready returns.
type Report struct {
	Service    string                     `json:"service"`
	Status     Status                     `json:"status"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Checker holds the checks of one worker process.
type Checker struct {
	service string
	started time.Time
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	checks map[string]Check
}

// NewChecker creates a Checker for service. Each check gets at most two
// seconds.
func NewChecker(service string) *Checker {
	return &Checker{
		service: service,
		started: time.Now(),
		timeout: 2 * time.Second,
		logger:  slog.Default().With("component", "health", "service", service),
		checks:  make(map[string]Check),
	}
}

// Register adds or replaces the check for a collaborator.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes all checks concurrently. The overall status is the worst
// component status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(chan struct {
		name string
		ComponentHealth
	}, len(checks))
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			res := check(cctx)
			res.Latency = time.Since(start).Round(time.Millisecond).String()
			results <- struct {
				name string
				ComponentHealth
			}{name, res}
		}()
	}
	wg.Wait()
	close(results)

	report := Report{
		Service:    c.service,
		Status:     StatusUp,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for r := range results {
		report.Components[r.name] = r.ComponentHealth
		if r.Status != StatusUp {
			c.logger.Warn("collaborator unhealthy", "check", r.name, "status", r.Status, "message", r.Message)
		}
		if r.Status.severity() > report.Status.severity() {
			report.Status = r.Status
		}
	}
	return report
}

// LiveHandler answers 200 while the process is serving.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": c.service, "status": "alive"})
	}
}

// ReadyHandler answers 200 only when every collaborator is up.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		code := http.StatusOK
		if report.Status != StatusUp {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
