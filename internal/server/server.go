// Package server exposes the query pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mohammad-safakhou/lectern/config"
	"github.com/mohammad-safakhou/lectern/internal/completion"
	"github.com/mohammad-safakhou/lectern/internal/metrics"
	"github.com/mohammad-safakhou/lectern/internal/rag"
)

const shutdownTimeout = 10 * time.Second

// Chatbot is the query surface the handlers call. *rag.Pipeline implements it.
type Chatbot interface {
	Query(ctx context.Context, req rag.Request) (rag.Response, error)
	ClearSession(ctx context.Context, id string) error
	Health(ctx context.Context) rag.Health
}

// New builds the echo instance with middleware and routes. m may be nil,
// in which case /metrics is not mounted.
func New(cfg config.ServerConfig, bot Chatbot, m *metrics.Metrics, logger zerolog.Logger) *echo.Echo {
	logger = logger.With().Str("component", "http").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(echo.WrapMiddleware(func(h http.Handler) http.Handler {
		return otelhttp.NewHandler(h, "lectern.http")
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	}))
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	e.HTTPErrorHandler = errorHandler(logger)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
	registerDocs(e)

	h := &ChatbotHandler{Bot: bot, Metrics: m}
	h.Register(e.Group("/api/chatbot"))
	return e
}

// errorHandler writes {"error": msg}. Validation maps to 400 and generation
// failure to 503; anything else unexpected is a 500.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := "internal server error"
		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			code = he.Code
			msg = fmt.Sprint(he.Message)
		case errors.Is(err, rag.ErrInvalidRequest):
			code = http.StatusBadRequest
			msg = err.Error()
		case errors.Is(err, completion.ErrGeneration):
			code = http.StatusServiceUnavailable
			msg = "answer generation is temporarily unavailable"
		}
		req := c.Request()
		ev := logger.Warn()
		if code >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Err(err).Int("status", code).Str("method", req.Method).Str("path", req.URL.Path).Str("remote_ip", c.RealIP()).Msg("request failed")
		if c.Response().Committed {
			return
		}
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
