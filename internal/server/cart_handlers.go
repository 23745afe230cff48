package server

import (
	"net/http"

	"drinkshop-backend/internal/domain"

	"github.com/gin-gonic/gin"
)

type addCartItemReq struct {
	StoreID string `json:"storeId"`
	domain.OrderItem
}

type setQuantityReq struct {
	Quantity int `json:"quantity"`
}

type applyPromoReq struct {
	Code string `json:"code"`
}

func (s *Server) handleGetCart(c *gin.Context) {
	v, err := s.deps.Carts.Get(c.Request.Context(), actorOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleClearCart(c *gin.Context) {
	if err := s.deps.Carts.Clear(c.Request.Context(), actorOf(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAddCartItem(c *gin.Context) {
	var req addCartItemReq
	if !s.bind(c, &req) {
		return
	}
	v, err := s.deps.Carts.AddItem(c.Request.Context(), actorOf(c), req.StoreID, req.OrderItem)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleSetCartQuantity(c *gin.Context) {
	var req setQuantityReq
	if !s.bind(c, &req) {
		return
	}
	v, err := s.deps.Carts.SetQuantity(c.Request.Context(), actorOf(c), c.Param("ref"), req.Quantity)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleRemoveCartItem(c *gin.Context) {
	v, err := s.deps.Carts.RemoveItem(c.Request.Context(), actorOf(c), c.Param("ref"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleApplyPromo(c *gin.Context) {
	var req applyPromoReq
	if !s.bind(c, &req) {
		return
	}
	v, err := s.deps.Carts.ApplyPromo(c.Request.Context(), actorOf(c), req.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
