package server

import (
	"errors"
	"io"
	"net/http"

	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/usecase"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

func (s *Server) handlePaymentSession(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		ps  *usecase.PaymentSession
		err error
	)
	if c.Query("wait") == "1" || c.Query("wait") == "true" {
		ps, err = s.deps.Payments.Await(ctx, actorOf(c), c.Param("id"))
	} else {
		ps, err = s.deps.Payments.Session(ctx, actorOf(c), c.Param("id"))
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (s *Server) handleAbandonPayment(c *gin.Context) {
	ps, err := s.deps.Payments.Abandon(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (s *Server) handleRetryPayment(c *gin.Context) {
	ps, err := s.deps.Payments.Retry(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (s *Server) handleReconcilePayment(c *gin.Context) {
	var req usecase.ReconcileInput
	if !s.bind(c, &req) {
		return
	}
	o, err := s.deps.Payments.Reconcile(c.Request.Context(), actorOf(c), c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// handleBankWebhook receives the bank's credit notice. Notices that can never
// apply are acknowledged with 200 so the bank stops redelivering them; staff
// settle those through reconcile. Only unexpected failures ask for a retry.
func (s *Server) handleBankWebhook(c *gin.Context) {
	bank := s.deps.Bank
	if bank == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{
			"code":      "GatewayDisabled",
			"message":   "bank transfers are not configured",
			"requestId": c.GetString(requestIDKey),
		}})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.fail(c, errBadRequest)
		return
	}
	if err := bank.VerifySignature(c.GetHeader("X-Timestamp"), body, c.GetHeader("X-Signature")); err != nil {
		s.log.Warn("bank webhook rejected", zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
		s.fail(c, domain.ErrUnauthorized)
		return
	}
	n, err := bank.ParseNotification(body)
	if err != nil {
		s.fail(c, errBadRequest)
		return
	}
	number := n.OrderNumber()
	if number == "" {
		s.log.Warn("bank notice without order number",
			zap.String("transaction_id", n.TransactionID),
			zap.String("description", n.Description),
		)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	o, err := s.deps.Payments.Confirm(c.Request.Context(), number, n.TransactionID, n.Amount)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "confirmed", "orderId": o.ID})
	case errors.Is(err, domain.ErrNotFound), domain.KindOf(err) == domain.KindValidation:
		s.log.Warn("bank notice not applied",
			zap.String("order_number", number),
			zap.String("transaction_id", n.TransactionID),
			zap.String("amount", n.Amount.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "code": domain.ErrorCode(err)})
	default:
		s.fail(c, err)
	}
}
