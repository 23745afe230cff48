package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RefundService struct {
	Repo   OrderRepo
	Events EventPublisher
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *RefundService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Submit attaches a pending refund request to one of the customer's
// terminal orders.
func (s *RefundService) Submit(ctx context.Context, actor domain.Actor, orderID string, sub domain.RefundSubmission) (*domain.RefundRequest, error) {
	if actor.Role != domain.RoleCustomer {
		return nil, fmt.Errorf("%w: only customers request refunds", domain.ErrForbidden)
	}
	if err := sub.Validate(); err != nil {
		metrics.RecordRejection("refund_submit", domain.ErrorCode(err))
		return nil, err
	}
	var created domain.RefundRequest
	o, err := mutateOrder(ctx, s.Repo, orderID, func(o *domain.Order) error {
		if o.CustomerID != actor.ID {
			return domain.NotFound("order")
		}
		if err := o.CanRequestRefund(); err != nil {
			return err
		}
		now := nowFunc(s.Now)
		created = domain.RefundRequest{
			ID:            uuid.NewString(),
			OrderID:       o.ID,
			CustomerID:    actor.ID,
			Reason:        sub.Reason,
			Note:          strings.TrimSpace(sub.Note),
			EvidenceImage: strings.TrimSpace(sub.EvidenceImage),
			EvidenceVideo: strings.TrimSpace(sub.EvidenceVideo),
			Status:        domain.RefundPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		o.RefundRequests = append(o.RefundRequests, created)
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		metrics.RecordRejection("refund_submit", domain.ErrorCode(err))
		return nil, err
	}
	metrics.RecordRefund(string(domain.RefundPending))
	evt := domain.NewOrderEvent(domain.EventRefundSubmitted, o, actor)
	evt.RefundID = created.ID
	s.publish(ctx, evt)
	s.logger().Info("refund submitted",
		zap.String("order_id", o.ID),
		zap.String("refund_id", created.ID),
		zap.String("reason", string(created.Reason)),
	)
	return &created, nil
}

// Resolve approves or rejects a pending request. Both outcomes are final.
func (s *RefundService) Resolve(ctx context.Context, actor domain.Actor, refundID string, decision domain.RefundDecision) (*domain.RefundRequest, error) {
	if actor.Role != domain.RoleStaff && actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only store staff resolve refunds", domain.ErrForbidden)
	}
	status, ok := decision.Status()
	if !ok {
		return nil, fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidInput, decision)
	}
	owner, found, err := s.Repo.GetByRefundID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if !found || !actor.CanManageStore(owner.StoreID) {
		return nil, domain.NotFound("refund request")
	}
	var resolved domain.RefundRequest
	o, err := mutateOrder(ctx, s.Repo, owner.ID, func(o *domain.Order) error {
		r := o.Refund(refundID)
		if r == nil {
			return domain.NotFound("refund request")
		}
		if r.Status != domain.RefundPending {
			return fmt.Errorf("%w: request is %s", domain.ErrRefundResolved, r.Status)
		}
		now := nowFunc(s.Now)
		r.Status = status
		r.ResolvedBy = actor.ID
		r.ResolvedAt = now
		r.UpdatedAt = now
		o.UpdatedAt = now
		resolved = *r
		return nil
	})
	if err != nil {
		metrics.RecordRejection("refund_resolve", domain.ErrorCode(err))
		return nil, err
	}
	metrics.RecordRefund(string(status))
	evt := domain.NewOrderEvent(domain.EventRefundResolved, o, actor)
	evt.RefundID = resolved.ID
	s.publish(ctx, evt)
	s.logger().Info("refund resolved",
		zap.String("order_id", o.ID),
		zap.String("refund_id", resolved.ID),
		zap.String("status", string(status)),
		zap.String("actor_id", actor.ID),
	)
	return &resolved, nil
}

func (s *RefundService) publish(ctx context.Context, evt domain.OrderEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, evt); err != nil {
		s.logger().Error("publish refund event failed", zap.String("order_id", evt.OrderID), zap.Error(err))
	}
}
