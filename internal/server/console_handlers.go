package server

import (
	"net/http"
	"strconv"

	"drinkshop-backend/internal/console"
	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/usecase"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleDashboard(c *gin.Context) {
	w, err := console.ParseWindow(c.Query("window"))
	if err != nil {
		s.fail(c, err)
		return
	}
	stats, err := s.deps.Console.Dashboard(c.Request.Context(), actorOf(c), usecase.DashboardInput{
		StoreID: c.Query("storeId"),
		Status:  domain.OrderStatus(c.Query("status")),
		Window:  w,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleRefundQueue(c *gin.Context) {
	orders, err := s.deps.Console.RefundQueue(c.Request.Context(), actorOf(c), c.Query("storeId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": orders})
}

func (s *Server) handleShipperQueues(c *gin.Context) {
	q, err := s.deps.Console.ShipperQueues(c.Request.Context(), actorOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) handleShipperHistory(c *gin.Context) {
	w, err := console.ParseWindow(c.Query("window"))
	if err != nil {
		s.fail(c, err)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(console.DefaultPageSize)))
	p, err := s.deps.Console.ShipperHistory(c.Request.Context(), actorOf(c), w, page, size)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
