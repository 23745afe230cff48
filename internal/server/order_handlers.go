package server

import (
	"net/http"
	"strings"

	"drinkshop-backend/internal/console"
	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/usecase"

	"github.com/gin-gonic/gin"
)

type updateStatusReq struct {
	Status       domain.OrderStatus `json:"status"`
	CancelReason string             `json:"cancelReason"`
}

func idempotencyKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("Idempotency-Key"))
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req usecase.CreateOrderInput
	if !s.bind(c, &req) {
		return
	}
	req.IdempotencyKey = idempotencyKey(c)
	o, err := s.deps.Orders.Create(c.Request.Context(), actorOf(c), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) handleCheckout(c *gin.Context) {
	var req usecase.CheckoutInput
	if !s.bind(c, &req) {
		return
	}
	req.IdempotencyKey = idempotencyKey(c)
	o, err := s.deps.Orders.Checkout(c.Request.Context(), actorOf(c), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) handleOrderHistory(c *gin.Context) {
	var bucket console.Bucket
	if q := c.Query("bucket"); q != "" {
		b, err := console.ParseBucket(q)
		if err != nil {
			s.fail(c, err)
			return
		}
		bucket = b
	}
	view, err := s.deps.Console.CustomerHistory(c.Request.Context(), actorOf(c), bucket)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	o, err := s.deps.Orders.Get(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	var req updateStatusReq
	if !s.bind(c, &req) {
		return
	}
	o, err := s.deps.Orders.UpdateStatus(c.Request.Context(), actorOf(c), c.Param("id"), req.Status, req.CancelReason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleAcceptDelivery(c *gin.Context) {
	o, err := s.deps.Orders.AcceptDelivery(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
