package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/crmkit/tenant-sync/internal/config"
	"github.com/crmkit/tenant-sync/internal/http/middleware"
	"github.com/crmkit/tenant-sync/internal/metrics"
	"github.com/crmkit/tenant-sync/internal/provision"
	"github.com/crmkit/tenant-sync/internal/repository"
	"github.com/crmkit/tenant-sync/internal/service/lifecycle"
	"github.com/crmkit/tenant-sync/internal/service/receiver"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, zlog *zap.Logger) *Server {
	// repos (MySQL)
	tenantsRepo := repository.NewTenantsRepository(mysqlDB)
	outboundRepo := repository.NewOutboundRepository(mysqlDB)
	usersRepo := repository.NewUsersRepository(mysqlDB)

	// repos (ClickHouse)
	attemptsRepo := repository.NewAttemptsRepository(clickhouseDB)

	// services
	prov := provision.NewMySQLProvisioner(mysqlDB)
	lifecycleSvc := lifecycle.New(
		mysqlDB,
		tenantsRepo,
		outboundRepo,
		usersRepo,
		prov,
		zlog,
		cfg.Webhook.TargetURL,
		cfg.Delivery.MaxAttempts,
	)
	receiverSvc := receiver.New(tenantsRepo, zlog, []byte(cfg.Webhook.Secret), cfg.Webhook.Tolerance)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// inbound confirmations: authenticated by HMAC signature, not API key
	e.POST("/webhooks/tenant", webhookHandler(receiverSvc))

	// middlewares
	authMW := middleware.StaticKeyMiddleware(cfg.API.Key)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/tenants", createTenantHandler(lifecycleSvc))
	v1.GET("/tenants", listTenantsHandler(tenantsRepo))
	v1.GET("/tenants/stats", statsHandler(lifecycleSvc))
	v1.GET("/tenants/:id", getTenantHandler(tenantsRepo))
	v1.GET("/tenants/by-subdomain/:subdomain", getTenantBySubdomainHandler(tenantsRepo))
	v1.POST("/tenants/:id/disable", disableTenantHandler(lifecycleSvc))
	v1.POST("/tenants/:id/enable", enableTenantHandler(lifecycleSvc))
	v1.DELETE("/tenants/:id", deleteTenantHandler(lifecycleSvc))
	v1.PUT("/tenants/:id/notes", updateNotesHandler(lifecycleSvc))
	v1.GET("/tenants/:id/events", listTenantEventsHandler(outboundRepo))
	v1.POST("/events/:id/rearm", rearmEventHandler(lifecycleSvc))
	v1.GET("/reports/deliveries", listDeliveriesHandler(attemptsRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
