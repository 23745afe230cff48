package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/infrastructure/bankqr"
	"drinkshop-backend/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type QRIssuer interface {
	Payload(memo string, amount decimal.Decimal) bankqr.Payload
}

// PaymentSession is the customer-facing view of the QR transfer sub-flow.
type PaymentSession struct {
	OrderID     string              `json:"orderId"`
	OrderNumber string              `json:"orderNumber"`
	OrderStatus domain.OrderStatus  `json:"orderStatus"`
	State       domain.GatewayState `json:"state"`
	Amount      decimal.Decimal     `json:"amount"`
	ExpiresAt   time.Time           `json:"expiresAt,omitempty"`
	PaymentRef  string              `json:"paymentRef,omitempty"`
	QR          *bankqr.Payload     `json:"qr,omitempty"`
}

// PaymentService runs the QR transfer sub-flow. The order stays pending
// while the gateway waits; only an explicit confirmation moves it on.
type PaymentService struct {
	Repo   OrderRepo
	QR     QRIssuer
	Events EventPublisher
	Logger *zap.Logger
	Window time.Duration
	Now    func() time.Time

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func (s *PaymentService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *PaymentService) window() time.Duration {
	if s.Window <= 0 {
		return 30 * time.Second
	}
	return s.Window
}

func (s *PaymentService) prepare(o *domain.Order, now time.Time) {
	o.Gateway = domain.GatewayAwaiting
	o.GatewayExpiresAt = now.Add(s.window())
}

func (s *PaymentService) waiter(orderID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiters == nil {
		s.waiters = make(map[string]chan struct{})
	}
	ch, ok := s.waiters[orderID]
	if !ok {
		ch = make(chan struct{})
		s.waiters[orderID] = ch
	}
	return ch
}

func (s *PaymentService) track(orderID string) { s.waiter(orderID) }

// release wakes everyone blocked in Await for the order.
func (s *PaymentService) release(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waiters[orderID]; ok {
		close(ch)
		delete(s.waiters, orderID)
	}
}

func (s *PaymentService) session(o *domain.Order) *PaymentSession {
	ps := &PaymentSession{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OrderStatus: o.Status,
		State:       o.Gateway,
		Amount:      o.Total,
		PaymentRef:  o.PaymentRef,
	}
	if o.Gateway == domain.GatewayAwaiting {
		ps.ExpiresAt = o.GatewayExpiresAt
		if s.QR != nil {
			p := s.QR.Payload(o.OrderNumber, o.Total)
			ps.QR = &p
		}
	}
	return ps
}

func (s *PaymentService) load(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	o, ok, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok || !canView(actor, o) {
		return nil, domain.NotFound("order")
	}
	if !o.PaymentMethod.RequiresGateway() {
		return nil, fmt.Errorf("%w: order is paid on delivery", domain.ErrGatewayNotActive)
	}
	return o, nil
}

func (s *PaymentService) Session(ctx context.Context, actor domain.Actor, id string) (*PaymentSession, error) {
	o, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.session(o), nil
}

// Await blocks until the gateway leaves awaiting_payment or ctx ends. An
// elapsed window is recorded as payment_timed_out, never as success.
func (s *PaymentService) Await(ctx context.Context, actor domain.Actor, id string) (*PaymentSession, error) {
	for {
		ch := s.waiter(id)
		o, err := s.load(ctx, actor, id)
		if err != nil {
			s.release(id)
			return nil, err
		}
		if o.Gateway != domain.GatewayAwaiting {
			s.release(id)
			return s.session(o), nil
		}
		wait := o.GatewayExpiresAt.Sub(nowFunc(s.Now))
		if wait <= 0 {
			if _, err := s.Expire(ctx, id); err != nil {
				return nil, err
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			if _, err := s.Expire(ctx, id); err != nil {
				return nil, err
			}
		case <-ctx.Done():
			timer.Stop()
			return s.session(o), nil
		}
	}
}

// Confirm records the bank's credit notice for the order carrying
// orderNumber and moves it to processing. Redelivery of the same transaction
// is a no-op.
func (s *PaymentService) Confirm(ctx context.Context, orderNumber, paymentRef string, amount decimal.Decimal) (*domain.Order, error) {
	if orderNumber == "" || paymentRef == "" {
		return nil, fmt.Errorf("%w: order number and payment reference required", domain.ErrInvalidInput)
	}
	found, err := s.Repo.List(ctx, domain.OrderFilter{OrderNumber: orderNumber})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.NotFound("order")
	}
	id := found[0].ID
	o, err := mutateOrder(ctx, s.Repo, id, func(o *domain.Order) error {
		if o.Gateway == domain.GatewayConfirmed && o.PaymentRef == paymentRef {
			return errNoChange
		}
		return s.confirm(o, domain.SystemActor, paymentRef, amount)
	})
	if err != nil {
		metrics.RecordRejection("payment_confirm", domain.ErrorCode(err))
		return nil, err
	}
	s.confirmed(ctx, o, domain.SystemActor)
	return o, nil
}

func (s *PaymentService) confirm(o *domain.Order, actor domain.Actor, paymentRef string, amount decimal.Decimal) error {
	if !o.PaymentMethod.RequiresGateway() || o.Status != domain.OrderPending {
		return fmt.Errorf("%w: order %s is %s", domain.ErrGatewayNotActive, o.OrderNumber, o.Status)
	}
	switch o.Gateway {
	case domain.GatewayAwaiting, domain.GatewayTimedOut, domain.GatewayAbandoned:
	default:
		return fmt.Errorf("%w: gateway is %s", domain.ErrGatewayNotActive, o.Gateway)
	}
	if !amount.Equal(o.Total) {
		return fmt.Errorf("%w: paid %s, due %s", domain.ErrAmountMismatch, amount, o.Total)
	}
	prev := o.Gateway
	o.Gateway = domain.GatewayConfirmed
	o.PaymentRef = paymentRef
	if err := domain.ApplyTransition(o, actor, domain.OrderProcessing, "", nowFunc(s.Now)); err != nil {
		o.Gateway = prev
		o.PaymentRef = ""
		return err
	}
	return nil
}

func (s *PaymentService) confirmed(ctx context.Context, o *domain.Order, actor domain.Actor) {
	s.release(o.ID)
	metrics.RecordPaymentOutcome("confirmed")
	metrics.RecordTransition(string(domain.OrderPending), string(domain.OrderProcessing))
	s.publish(ctx, domain.NewOrderEvent(domain.EventPaymentConfirmed, o, actor))
	s.logger().Info("payment confirmed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("payment_ref", o.PaymentRef),
		zap.String("actor_id", actor.ID),
	)
}

// Expire marks an overdue session payment_timed_out. It reports whether the
// order changed.
func (s *PaymentService) Expire(ctx context.Context, id string) (bool, error) {
	changed := false
	o, err := mutateOrder(ctx, s.Repo, id, func(o *domain.Order) error {
		if o.Gateway != domain.GatewayAwaiting || nowFunc(s.Now).Before(o.GatewayExpiresAt) {
			return errNoChange
		}
		o.Gateway = domain.GatewayTimedOut
		o.UpdatedAt = nowFunc(s.Now)
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.release(o.ID)
		metrics.RecordPaymentOutcome("timed_out")
		s.publish(ctx, domain.NewOrderEvent(domain.EventPaymentTimedOut, o, domain.SystemActor))
		s.logger().Warn("payment timed out", zap.String("order_id", o.ID), zap.String("order_number", o.OrderNumber))
	}
	return changed, nil
}

// SweepExpired expires every overdue awaiting session and returns how many
// were closed.
func (s *PaymentService) SweepExpired(ctx context.Context) (int, error) {
	open, err := s.Repo.List(ctx, domain.OrderFilter{
		Statuses: []domain.OrderStatus{domain.OrderPending},
		Gateway:  domain.GatewayAwaiting,
	})
	if err != nil {
		return 0, err
	}
	now := nowFunc(s.Now)
	n := 0
	for i := range open {
		if now.Before(open[i].GatewayExpiresAt) {
			continue
		}
		changed, err := s.Expire(ctx, open[i].ID)
		if err != nil {
			s.logger().Error("expire payment failed", zap.String("order_id", open[i].ID), zap.Error(err))
			continue
		}
		if changed {
			n++
		}
	}
	return n, nil
}

func (s *PaymentService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger().Error("payment sweep failed", zap.Error(err))
			}
		}
	}
}

// Abandon records that the customer left the payment screen. The order
// itself stays pending.
func (s *PaymentService) Abandon(ctx context.Context, actor domain.Actor, id string) (*PaymentSession, error) {
	changed := false
	o, err := mutateOrder(ctx, s.Repo, id, func(o *domain.Order) error {
		if err := s.ownGateway(actor, o); err != nil {
			return err
		}
		switch o.Gateway {
		case domain.GatewayAbandoned:
			return errNoChange
		case domain.GatewayAwaiting, domain.GatewayTimedOut:
		default:
			return fmt.Errorf("%w: gateway is %s", domain.ErrGatewayNotActive, o.Gateway)
		}
		o.Gateway = domain.GatewayAbandoned
		o.UpdatedAt = nowFunc(s.Now)
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.release(o.ID)
		metrics.RecordPaymentOutcome("abandoned")
		s.publish(ctx, domain.NewOrderEvent(domain.EventPaymentAbandoned, o, actor))
		s.logger().Info("payment abandoned", zap.String("order_id", o.ID), zap.String("actor_id", actor.ID))
	}
	return s.session(o), nil
}

// Retry opens a fresh payment window for an abandoned or timed out session.
func (s *PaymentService) Retry(ctx context.Context, actor domain.Actor, id string) (*PaymentSession, error) {
	o, err := mutateOrder(ctx, s.Repo, id, func(o *domain.Order) error {
		if err := s.ownGateway(actor, o); err != nil {
			return err
		}
		if o.Status != domain.OrderPending {
			return fmt.Errorf("%w: order is %s", domain.ErrGatewayNotActive, o.Status)
		}
		if o.Gateway != domain.GatewayAbandoned && o.Gateway != domain.GatewayTimedOut {
			return fmt.Errorf("%w: gateway is %s", domain.ErrGatewayNotActive, o.Gateway)
		}
		now := nowFunc(s.Now)
		s.prepare(o, now)
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.track(o.ID)
	metrics.RecordPaymentOutcome("retried")
	s.publish(ctx, domain.NewOrderEvent(domain.EventPaymentRetried, o, actor))
	return s.session(o), nil
}

type ReconcileInput struct {
	Paid       bool            `json:"paid"`
	PaymentRef string          `json:"paymentRef"`
	Amount     decimal.Decimal `json:"amount"`
}

// Reconcile lets store staff settle a timed out session by hand once they
// have checked the bank statement.
func (s *PaymentService) Reconcile(ctx context.Context, actor domain.Actor, id string, in ReconcileInput) (*domain.Order, error) {
	if actor.Role != domain.RoleStaff && actor.Role != domain.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	if in.Paid && in.PaymentRef == "" {
		return nil, fmt.Errorf("%w: payment reference required", domain.ErrInvalidInput)
	}
	o, err := mutateOrder(ctx, s.Repo, id, func(o *domain.Order) error {
		if !actor.CanManageStore(o.StoreID) {
			return domain.NotFound("order")
		}
		if o.Gateway != domain.GatewayTimedOut {
			return fmt.Errorf("%w: gateway is %s", domain.ErrGatewayNotActive, o.Gateway)
		}
		if in.Paid {
			return s.confirm(o, actor, in.PaymentRef, in.Amount)
		}
		o.Gateway = domain.GatewayAbandoned
		o.UpdatedAt = nowFunc(s.Now)
		return nil
	})
	if err != nil {
		metrics.RecordRejection("payment_reconcile", domain.ErrorCode(err))
		return nil, err
	}
	if in.Paid {
		s.confirmed(ctx, o, actor)
	} else {
		metrics.RecordPaymentOutcome("abandoned")
		s.publish(ctx, domain.NewOrderEvent(domain.EventPaymentAbandoned, o, actor))
	}
	return o, nil
}

func (s *PaymentService) ownGateway(actor domain.Actor, o *domain.Order) error {
	if actor.Role != domain.RoleCustomer || o.CustomerID != actor.ID {
		return domain.NotFound("order")
	}
	if !o.PaymentMethod.RequiresGateway() {
		return fmt.Errorf("%w: order is paid on delivery", domain.ErrGatewayNotActive)
	}
	return nil
}

func (s *PaymentService) publish(ctx context.Context, evt domain.OrderEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, evt); err != nil {
		s.logger().Error("publish payment event failed", zap.String("type", string(evt.Type)), zap.String("order_id", evt.OrderID), zap.Error(err))
	}
}
