package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Check is one dependency probed by the health endpoint.
type Check struct {
	Name     string
	Ping     func(ctx context.Context) error
	Optional bool // failure is reported but does not fail the endpoint
}

// HealthHandler reports whether the service and its dependencies respond.
type HealthHandler struct {
	Checks  []Check
	Timeout time.Duration
	Log     *zap.Logger
}

func NewHealthHandler(log *zap.Logger, checks ...Check) *HealthHandler {
	return &HealthHandler{Checks: checks, Timeout: 2 * time.Second, Log: log}
}

type checkResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health probes every check concurrently.  It answers 200 when all required
// checks pass and 500 otherwise, with a per-check breakdown either way.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		healthy = true
		results = make(map[string]checkResult, len(h.Checks))
	)
	for _, chk := range h.Checks {
		wg.Add(1)
		go func(chk Check) {
			defer wg.Done()
			start := time.Now()
			err := chk.Ping(ctx)
			res := checkResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status, res.Error = "down", "unavailable"
				h.Log.Warn("health check failed", zap.String("check", chk.Name), zap.Error(err))
			}
			mu.Lock()
			defer mu.Unlock()
			results[chk.Name] = res
			if err != nil && !chk.Optional {
				healthy = false
			}
		}(chk)
	}
	wg.Wait()

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "error", http.StatusInternalServerError
	}
	return c.JSON(code, echo.Map{"status": status, "checks": results})
}
