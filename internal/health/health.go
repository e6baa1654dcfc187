// Package health runs named dependency checks for the /health endpoints.
package health

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Status is the result of one check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a registry whose checks each get timeout to answer.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Register adds a named checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently. Results keep registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, nc := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, r.timeout)
			defer cancel()
			st := nc.check(cctx)
			if st.Name == "" {
				st.Name = nc.name
			}
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()

	healthy = true
	for _, st := range statuses {
		if !st.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseCheck pings the database.
func DatabaseCheck(db Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}

// OpenKeyser is satisfied by *circuitbreaker.Breaker.
type OpenKeyser interface {
	OpenKeys() []string
}

// BreakerCheck is unhealthy while any gateway operation has its breaker open.
func BreakerCheck(name string, b OpenKeyser) Checker {
	return func(context.Context) Status {
		open := b.OpenKeys()
		if len(open) == 0 {
			return Status{Name: name, Healthy: true}
		}
		sort.Strings(open)
		return Status{Name: name, Detail: "circuit open: " + strings.Join(open, ",")}
	}
}

// Response is the body of GET /health.
type Response struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Checks    []Status `json:"checks,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// Handler serves the aggregate check as 200 healthy or 503 degraded.
func (r *Registry) Handler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		healthy, statuses := r.CheckAll(c.Request.Context())
		resp := Response{
			Status:    "healthy",
			Version:   version,
			Checks:    statuses,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}
