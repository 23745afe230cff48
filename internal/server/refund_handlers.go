package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/infrastructure/media"

	"github.com/gin-gonic/gin"
)

const maxUploadSize = 50 << 20

type resolveRefundReq struct {
	Decision domain.RefundDecision `json:"decision"`
}

func (s *Server) handleSubmitRefund(c *gin.Context) {
	var req domain.RefundSubmission
	if !s.bind(c, &req) {
		return
	}
	r, err := s.deps.Refunds.Submit(c.Request.Context(), actorOf(c), c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) handleResolveRefund(c *gin.Context) {
	var req resolveRefundReq
	if !s.bind(c, &req) {
		return
	}
	r, err := s.deps.Refunds.Resolve(c.Request.Context(), actorOf(c), c.Param("id"), req.Decision)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// handleUpload stores one evidence file and returns the reference a refund
// submission carries.
func (s *Server) handleUpload(c *gin.Context) {
	actor := actorOf(c)
	if actor.Role != domain.RoleCustomer {
		s.fail(c, domain.ErrForbidden)
		return
	}
	if s.deps.Media == nil {
		s.fail(c, errors.New("media storage not configured"))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	fh, err := c.FormFile("file")
	if err != nil {
		s.fail(c, errBadRequest)
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, errBadRequest)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, errBadRequest)
		return
	}
	st, err := s.deps.Media.Write(actor.ID, fh.Filename, data)
	if errors.Is(err, media.ErrUnsupportedType) {
		s.fail(c, fmt.Errorf("%w: only jpg, png, webp, heic, mp4, mov and webm are accepted", domain.ErrInvalidInput))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}
