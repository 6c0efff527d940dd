package server

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/repliahq/replia/internal/handlers"
)

// Server wraps echo with the route set and shared middleware.
type Server struct {
	echo *echo.Echo
	addr string
}

type payloadValidator struct {
	validate *validator.Validate
}

func (v *payloadValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func NewServer(addr string, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler, flowsHandler *handlers.FlowsHandler, statsHandler *handlers.StatsHandler) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = &payloadValidator{validate: validator.New()}
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if webhookHandler != nil {
		webhookHandler.Register(e)
	}
	if flowsHandler != nil {
		flowsHandler.Register(e)
	}
	if statsHandler != nil {
		statsHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
