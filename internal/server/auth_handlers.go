package server

import (
	"net/http"

	"drinkshop-backend/internal/usecase"

	"github.com/gin-gonic/gin"
)

type loginReq struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req usecase.RegisterInput
	if !s.bind(c, &req) {
		return
	}
	pair, u, err := s.deps.Auth.Register(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tokens": pair, "user": u})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginReq
	if !s.bind(c, &req) {
		return
	}
	pair, u, err := s.deps.Auth.Login(c.Request.Context(), req.Phone, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": pair, "user": u})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshReq
	if !s.bind(c, &req) {
		return
	}
	pair, err := s.deps.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var req usecase.CreateUserInput
	if !s.bind(c, &req) {
		return
	}
	u, err := s.deps.Auth.CreateUser(c.Request.Context(), actorOf(c), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}
