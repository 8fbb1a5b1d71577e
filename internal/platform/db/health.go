package db

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

type poolStatter interface {
	Stats() *PoolStats
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status string     `json:"status"`
	Ledger string     `json:"ledger"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
}

// Check pings the ledger and reports its status.
func Check(ctx context.Context, l Ledger) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	st := HealthStatus{Status: "healthy", Ledger: l.Driver()}
	if ps, ok := l.(poolStatter); ok {
		st.Pool = ps.Stats()
	}
	if err := l.Ping(ctx); err != nil {
		st.Status = "unhealthy"
		st.Error = err.Error()
	}
	return st
}

// HealthHandler serves Check. An unreachable ledger answers 503 because no
// report can be recorded until it returns.
func HealthHandler(l Ledger) echo.HandlerFunc {
	return func(c echo.Context) error {
		st := Check(c.Request().Context(), l)
		if st.Error != "" {
			return c.JSON(http.StatusServiceUnavailable, st)
		}
		return c.JSON(http.StatusOK, st)
	}
}
