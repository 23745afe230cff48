package server

import (
	"net/http"
	"time"

	"drinkshop-backend/internal/config"
	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/infrastructure/bankqr"
	"drinkshop-backend/internal/infrastructure/media"
	"drinkshop-backend/internal/metrics"
	"drinkshop-backend/internal/usecase"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the services the HTTP layer drives. Bank may be nil when QR
// transfers are not configured; the webhook then answers 503.
type Deps struct {
	Auth     *usecase.AuthService
	Orders   *usecase.OrderService
	Payments *usecase.PaymentService
	Refunds  *usecase.RefundService
	Carts    *usecase.CartService
	Console  *usecase.ConsoleService
	Bank     *bankqr.Client
	Media    *media.FSWriter
	Logger   *zap.Logger
}

type Server struct {
	cfg    config.Config
	deps   Deps
	log    *zap.Logger
	engine *gin.Engine
}

func New(cfg config.Config, deps Deps) *Server {
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, deps: deps, log: log, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestID(), accessLog(log), metrics.Middleware(), cors())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", metrics.Handler())
	if s.cfg.MediaDir != "" {
		r.Static("/media", s.cfg.MediaDir)
	}

	api := r.Group("/api")
	api.POST("/auth/register", s.handleRegister)
	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/refresh", s.handleRefresh)
	api.POST("/payments/webhook", s.handleBankWebhook)

	authed := api.Group("")
	authed.Use(authenticate(s.deps.Auth))

	authed.POST("/admin/users", s.handleCreateUser)

	authed.GET("/cart", s.handleGetCart)
	authed.DELETE("/cart", s.handleClearCart)
	authed.POST("/cart/items", s.handleAddCartItem)
	authed.PATCH("/cart/items/:ref", s.handleSetCartQuantity)
	authed.DELETE("/cart/items/:ref", s.handleRemoveCartItem)
	authed.PUT("/cart/promo", s.handleApplyPromo)

	authed.POST("/orders", s.handleCreateOrder)
	authed.POST("/orders/checkout", s.handleCheckout)
	authed.GET("/orders", s.handleOrderHistory)
	authed.GET("/orders/:id", s.handleGetOrder)
	authed.POST("/orders/:id/status", s.handleUpdateStatus)
	authed.POST("/orders/:id/accept", s.handleAcceptDelivery)

	authed.GET("/orders/:id/payment", s.handlePaymentSession)
	authed.POST("/orders/:id/payment/abandon", s.handleAbandonPayment)
	authed.POST("/orders/:id/payment/retry", s.handleRetryPayment)
	authed.POST("/orders/:id/payment/reconcile", s.handleReconcilePayment)

	authed.POST("/orders/:id/refunds", s.handleSubmitRefund)
	authed.POST("/refunds/:id/resolve", s.handleResolveRefund)
	authed.POST("/uploads", s.handleUpload)

	authed.GET("/console/dashboard", s.handleDashboard)
	authed.GET("/console/refunds", s.handleRefundQueue)
	authed.GET("/console/shipper/queues", s.handleShipperQueues)
	authed.GET("/console/shipper/history", s.handleShipperHistory)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// actorOf returns the principal set by authenticate.
func actorOf(c *gin.Context) domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(domain.Actor); ok {
			return a
		}
	}
	return domain.Actor{}
}
