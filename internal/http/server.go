package http

import (
	"context"
	"net/http"

	"github.com/jmehdipour/payment-aggregator/internal/app"
	"github.com/jmehdipour/payment-aggregator/internal/config"
	"github.com/jmehdipour/payment-aggregator/internal/http/middleware"
	"github.com/jmehdipour/payment-aggregator/internal/logger"
	"github.com/jmehdipour/payment-aggregator/internal/metrics"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, a *app.App, zl *zap.Logger) *Server {
	zl = logger.OrNop(zl)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), requestLogger(zl))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// owner-facing admin API
	admin := e.Group("/admin", middleware.AdminMiddleware(cfg.HTTP.AdminToken))
	admin.POST("/projects", createProjectHandler(a.Projects))
	admin.GET("/projects", listProjectsHandler(a.Projects))
	admin.GET("/projects/:id", getProjectHandler(a.Projects))
	admin.PATCH("/projects/:id/status", setProjectStatusHandler(a.Projects))
	admin.DELETE("/projects/:id", deleteProjectHandler(a.Projects))
	admin.POST("/projects/:id/providers", addProviderHandler(a.Projects))
	admin.GET("/projects/:id/providers", adminListProvidersHandler(a.Projects))
	admin.PATCH("/projects/:id/providers/:provider_id", updateProviderHandler(a.Projects))
	admin.DELETE("/projects/:id/providers/:provider_id", removeProviderHandler(a.Projects))

	// project-scoped API
	v1 := e.Group("/v1", middleware.APIKeyMiddleware(a.Gate))
	v1.GET("/providers", listProvidersHandler(a.Projects))
	v1.POST("/payments", createPaymentHandler(a.Payments))
	v1.GET("/payments/:id", getPaymentHandler(a.Payments))
	if a.Attempts != nil {
		v1.GET("/reports/attempts", listAttemptsHandler(a.Attempts))
	}

	return &Server{e: e, log: zl}
}

// echoLevel maps the zap level name onto echo's own logger, used by
// handlers through c.Logger().
func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

func requestLogger(zl *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			zl.Info("http request", fields...)
			return nil
		},
	})
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
