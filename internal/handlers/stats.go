package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/repliahq/replia/internal/queue"
)

// StatsHandler exposes worker pool observability.
type StatsHandler struct {
	pool   *queue.Pool
	logger *slog.Logger
}

func NewStatsHandler(log *slog.Logger, pool *queue.Pool) *StatsHandler {
	return &StatsHandler{
		pool:   pool,
		logger: log.With(slog.String("handler", "stats")),
	}
}

func (h *StatsHandler) Register(e *echo.Echo) {
	e.GET("/queue/stats", h.Stats)
}

func (h *StatsHandler) Stats(c echo.Context) error {
	if h.pool == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "worker pool not available")
	}
	return c.JSON(http.StatusOK, h.pool.Stats(c.Request().Context()))
}
