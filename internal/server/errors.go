package server

import (
	"errors"
	"net/http"

	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/usecase"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errBadRequest marks bodies that could not be decoded at all.
var errBadRequest = errors.New("malformed request body")

func statusOf(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindContention:
		return http.StatusConflict
	case domain.KindSession:
		return http.StatusUnauthorized
	case domain.KindPermission:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func errorBody(c *gin.Context, err error) (int, gin.H) {
	status := statusOf(err)
	code := domain.ErrorCode(err)
	msg := err.Error()
	switch {
	case status == http.StatusBadRequest:
		code = "BadRequest"
	case status == http.StatusInternalServerError:
		msg = "internal error"
	}
	body := gin.H{
		"code":      code,
		"message":   msg,
		"requestId": c.GetString(requestIDKey),
	}
	var dup *usecase.DuplicateCheckoutError
	if errors.As(err, &dup) && dup.OrderID != "" {
		body["orderId"] = dup.OrderID
	}
	return status, gin.H{"error": body}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, body := errorBody(c, err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}

func abortError(c *gin.Context, err error) {
	status, body := errorBody(c, err)
	c.AbortWithStatusJSON(status, body)
}

// bind decodes the JSON body into v, reporting decode failures as 400.
func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		s.fail(c, errBadRequest)
		return false
	}
	return true
}
