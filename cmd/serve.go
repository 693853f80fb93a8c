package cmd

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vibast-solutions/ms-go-fulfillment/app/controller"
	"github.com/vibast-solutions/ms-go-fulfillment/app/factory"
	"github.com/vibast-solutions/ms-go-fulfillment/app/gateway"
	"github.com/vibast-solutions/ms-go-fulfillment/app/ratelimit"
	"github.com/vibast-solutions/ms-go-fulfillment/app/repository"
	"github.com/vibast-solutions/ms-go-fulfillment/app/service"
	"github.com/vibast-solutions/ms-go-fulfillment/app/types"
	"github.com/vibast-solutions/ms-go-fulfillment/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP (Echo) server for webhook ingestion and the internal order API.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, fulfillmentService, cleanup := mustCreateFulfillmentService()
	defer cleanup()

	fulfillmentController := controller.NewFulfillmentController(fulfillmentService)

	e := setupHTTPServer(fulfillmentController, cfg.App.APIKey)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(fulfillmentController *controller.FulfillmentController, apiKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/health", fulfillmentController.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// The webhook endpoint authenticates via gateway signature, never API key.
	webhooks := e.Group("/webhooks")
	webhooks.POST("/payment", fulfillmentController.HandlePaymentWebhook)

	orders := e.Group("/orders")
	orders.Use(requireAPIKey(apiKey))
	orders.GET("", fulfillmentController.ListOrders)
	orders.GET("/:id", fulfillmentController.GetOrder)

	return e
}

func requireAPIKey(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if apiKey == "" {
				return ctx.JSON(http.StatusServiceUnavailable, &types.ErrorResponse{Error: "internal api is not configured"})
			}
			provided := strings.TrimSpace(ctx.Request().Header.Get("X-Api-Key"))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "invalid api key"})
			}
			return next(ctx)
		}
	}
}

func mustCreateFulfillmentService() (*config.Config, *service.FulfillmentService, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := factory.ConfigureLogging(cfg.Log.Level); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	orderRepo := repository.NewOrderRepository(db)
	fulfillmentRepo := repository.NewFulfillmentRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)
	deliveryRepo := repository.NewWebhookDeliveryRepository(db)
	deferredRepo := repository.NewDeferredEventRepository(db)
	notificationRepo := repository.NewNotificationJobRepository(db)

	stripeGateway := gateway.NewStripeGateway(gateway.StripeConfig{
		WebhookSecret:             cfg.Gateway.WebhookSecret,
		SecondaryWebhookSecret:    cfg.Gateway.SecondaryWebhookSecret,
		SignatureToleranceSeconds: cfg.Gateway.SignatureToleranceSeconds,
	})

	gatewayRegistry := gateway.NewRegistry(stripeGateway)
	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)

	fulfillmentService := service.NewFulfillmentService(
		orderRepo,
		fulfillmentRepo,
		eventRepo,
		deliveryRepo,
		deferredRepo,
		notificationRepo,
		gatewayRegistry,
		limiter,
		cfg.Fulfillment,
	)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, fulfillmentService, cleanup
}
