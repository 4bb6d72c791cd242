package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"order-fulfillment-service/internal/metrics"
	"order-fulfillment-service/internal/middleware"
	"order-fulfillment-service/internal/service"
)

type RouterDeps struct {
	Orders         *OrderController
	Payments       *PaymentController
	Auth           service.TokenValidator
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	WebhookSecret  string
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Logger, d.Metrics))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	metricsHandler := d.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	// gateway webhook, no token
	r.POST("/payments/callback", middleware.WebhookSignature(d.WebhookSecret), d.Payments.Callback)

	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(d.Auth))

	auth.POST("/orders", d.Orders.CreateOrder)
	auth.GET("/orders/myorders", d.Orders.GetMyOrders)
	auth.GET("/orders/mine", d.Orders.GetMyOrders)
	auth.GET("/orders/:id", d.Orders.GetOrder)
	auth.POST("/payments/initiate", d.Payments.Initiate)
	auth.GET("/payments/verify/:txRef", d.Payments.Verify)

	admin := auth.Group("/")
	admin.Use(middleware.AdminOnly())
	admin.GET("/orders", d.Orders.ListOrders)
	admin.GET("/admin/orders", d.Orders.ListOrders)
	admin.PATCH("/orders/:id/status", d.Orders.UpdateStatus)
	admin.PATCH("/orders/:id/payment", d.Orders.MarkPaid)

	return r
}
