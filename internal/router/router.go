package router

import (
	"time"

	"schoolpay/config"
	"schoolpay/internal/domain"
	"schoolpay/internal/handler"
	"schoolpay/internal/middleware"
	"schoolpay/internal/service"
	"schoolpay/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Deps struct {
	Payments   *service.PaymentService
	Disputes   *service.DisputeService
	Reconciler *service.Reconciler
	Hub        *ws.Hub
	Logger     *zap.Logger
}

func Setup(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	paymentHandler := handler.NewPaymentHandler(d.Payments)
	disputeHandler := handler.NewDisputeHandler(d.Disputes)
	adminHandler := handler.NewAdminHandler(d.Payments, d.Reconciler)
	webhookHandler := handler.NewPaymentWebhookHandler(d.Payments, d.Logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/ws/payments", ws.UpgradePaymentWS(&cfg.JWT, d.Hub))

	v1 := r.Group("/api/v1")
	// Gateway callbacks are authenticated by signature, not JWT.
	v1.POST("/webhooks/payments", webhookHandler.Handle)

	authed := v1.Group("")
	authed.Use(middleware.AuthRequired(&cfg.JWT))
	{
		authed.POST("/payments/initiate",
			middleware.RequireRole(domain.RoleStudent),
			middleware.RateLimitPerUser(middleware.NewInMemoryRateLimiter(10, time.Minute)),
			paymentHandler.Initiate)
		authed.GET("/payments/:id/status", paymentHandler.Status)
		authed.GET("/payments/:id/receipt", paymentHandler.Receipt)
		authed.POST("/disputes", middleware.RateLimitPerUser(middleware.NewInMemoryRateLimiter(10, time.Minute)), disputeHandler.Raise)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.AuthRequired(&cfg.JWT), middleware.AdminRequired())
	{
		admin.POST("/disputes/:id/review", disputeHandler.Review)
		admin.POST("/disputes/:id/resolve", disputeHandler.Resolve)
		admin.GET("/payments/:id/audit", adminHandler.AuditTrail)
		admin.POST("/payments/:id/refund", adminHandler.Refund)
		admin.POST("/reconciliation/run", adminHandler.RunReconciliation)
	}
	return r
}
