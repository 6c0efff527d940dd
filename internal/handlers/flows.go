package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/repliahq/replia/internal/flow"
)

// FlowsHandler publishes and serves flow definitions.
type FlowsHandler struct {
	store  *flow.Store
	logger *slog.Logger
}

func NewFlowsHandler(log *slog.Logger, store *flow.Store) *FlowsHandler {
	return &FlowsHandler{
		store:  store,
		logger: log.With(slog.String("handler", "flows")),
	}
}

func (h *FlowsHandler) Register(e *echo.Echo) {
	e.POST("/flows/:business_id/publish", h.Publish)
	e.GET("/flows/:business_id", h.Get)
}

// Publish validates and stores a flow definition. A definition with
// structural problems is rejected wholesale; the previously published
// flow stays live.
func (h *FlowsHandler) Publish(c echo.Context) error {
	businessID, err := requireBusinessID(c)
	if err != nil {
		return err
	}
	var def flow.Definition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.store.Publish(c.Request().Context(), businessID, &def); err != nil {
		var verr *flow.ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"error":    "flow validation failed",
				"problems": verr.Problems,
			})
		}
		h.logger.Error("publish flow",
			slog.String("business_id", businessID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not publish flow")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "published"})
}

func (h *FlowsHandler) Get(c echo.Context) error {
	businessID, err := requireBusinessID(c)
	if err != nil {
		return err
	}
	def, err := h.store.Get(c.Request().Context(), businessID)
	if err != nil {
		if errors.Is(err, flow.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no flow published for this business")
		}
		h.logger.Error("get flow",
			slog.String("business_id", businessID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not load flow")
	}
	return c.JSON(http.StatusOK, def)
}
