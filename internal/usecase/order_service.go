package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderRepo interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, bool, error)
	// Update persists o when the stored version still equals o.Version and
	// bumps it, otherwise it fails with domain.ErrStaleWrite.
	Update(ctx context.Context, o *domain.Order) error
	List(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error)
	GetByRefundID(ctx context.Context, refundID string) (*domain.Order, bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, evt domain.OrderEvent) error
}

type IdempotencyStore interface {
	// Reserve claims key for ttl. If the key is already held it returns the
	// order id recorded for it, which may be empty, and false.
	Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Complete(ctx context.Context, key, orderID string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type OrderService struct {
	Repo           OrderRepo
	Carts          CartStore
	Promos         PromoBook
	Idempotency    IdempotencyStore
	Payments       *PaymentService
	Events         EventPublisher
	Logger         *zap.Logger
	DeliveryFee    decimal.Decimal
	CheckoutWindow time.Duration
	Now            func() time.Time
}

type CreateOrderInput struct {
	StoreID         string               `json:"storeId"`
	DeliveryAddress string               `json:"deliveryAddress"`
	Phone           string               `json:"phone"`
	PaymentMethod   domain.PaymentMethod `json:"paymentMethod"`
	Items           []domain.OrderItem   `json:"items"`
	PromoCode       string               `json:"promoCode"`
	IdempotencyKey  string               `json:"-"`
}

type CheckoutInput struct {
	DeliveryAddress string               `json:"deliveryAddress"`
	Phone           string               `json:"phone"`
	PaymentMethod   domain.PaymentMethod `json:"paymentMethod"`
	IdempotencyKey  string               `json:"-"`
}

func (s *OrderService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Create turns a cart snapshot into a pending order.
func (s *OrderService) Create(ctx context.Context, actor domain.Actor, in CreateOrderInput) (*domain.Order, error) {
	now := nowFunc(s.Now)
	o, err := s.build(ctx, actor, in, now)
	if err != nil {
		return nil, err
	}
	key, err := s.reserve(ctx, actor, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, actor, o, key, now)
}

// Checkout creates the order from the customer's server-side cart and drops
// the cart once the order exists. The idempotency key is claimed before the
// cart is read so a replay after the cart was cleared still reports the
// first order.
func (s *OrderService) Checkout(ctx context.Context, actor domain.Actor, in CheckoutInput) (*domain.Order, error) {
	if actor.Role != domain.RoleCustomer {
		return nil, domain.ErrForbidden
	}
	key, err := s.reserve(ctx, actor, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	o, err := s.buildFromCart(ctx, actor, in, nowFunc(s.Now))
	if err != nil {
		s.release(ctx, key)
		return nil, err
	}
	o, err = s.persist(ctx, actor, o, key, o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := s.Carts.Delete(ctx, actor.ID); err != nil {
		s.logger().Warn("cart clear failed", zap.String("customer_id", actor.ID), zap.Error(err))
	}
	return o, nil
}

func (s *OrderService) buildFromCart(ctx context.Context, actor domain.Actor, in CheckoutInput, now time.Time) (*domain.Order, error) {
	cart, err := s.Carts.Get(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if cart.Empty() {
		return nil, domain.ErrEmptyCart
	}
	return s.build(ctx, actor, CreateOrderInput{
		StoreID:         cart.StoreID,
		DeliveryAddress: in.DeliveryAddress,
		Phone:           in.Phone,
		PaymentMethod:   in.PaymentMethod,
		Items:           cart.Snapshot(),
		PromoCode:       cart.PromoCode,
		IdempotencyKey:  in.IdempotencyKey,
	}, now)
}

func (s *OrderService) build(ctx context.Context, actor domain.Actor, in CreateOrderInput, now time.Time) (*domain.Order, error) {
	discount := decimal.Zero
	promo := strings.ToUpper(strings.TrimSpace(in.PromoCode))
	if promo != "" {
		p, ok, err := s.lookupPromo(ctx, promo)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown promo code %s", domain.ErrInvalidInput, promo)
		}
		discount = p.Discount(domain.ComputeTotals(in.Items, decimal.Zero, decimal.Zero).Subtotal)
	}
	o, err := domain.NewOrder(actor, domain.NewOrderParams{
		StoreID:         in.StoreID,
		DeliveryAddress: in.DeliveryAddress,
		Phone:           in.Phone,
		PaymentMethod:   in.PaymentMethod,
		Items:           in.Items,
		PromoCode:       promo,
		Discount:        discount,
		DeliveryFee:     s.DeliveryFee,
		IdempotencyKey:  in.IdempotencyKey,
	}, now)
	if err != nil {
		metrics.RecordRejection("create", domain.ErrorCode(err))
		return nil, err
	}
	return o, nil
}

// reserve claims the checkout key for the actor. An empty key disables the
// guard and returns "".
func (s *OrderService) reserve(ctx context.Context, actor domain.Actor, idempotencyKey string) (string, error) {
	if idempotencyKey == "" || s.Idempotency == nil {
		return "", nil
	}
	key := "checkout:" + actor.ID + ":" + idempotencyKey
	existing, ok, err := s.Idempotency.Reserve(ctx, key, s.checkoutWindow())
	if err != nil {
		return "", err
	}
	if !ok {
		metrics.RecordRejection("create", domain.ErrDuplicateCheckout.Code)
		return "", &DuplicateCheckoutError{OrderID: existing}
	}
	return key, nil
}

func (s *OrderService) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.Idempotency.Release(ctx, key); err != nil {
		s.logger().Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *OrderService) persist(ctx context.Context, actor domain.Actor, o *domain.Order, key string, now time.Time) (*domain.Order, error) {
	if o.PaymentMethod.RequiresGateway() && s.Payments != nil {
		s.Payments.prepare(o, now)
	}
	if err := s.Repo.Create(ctx, o); err != nil {
		s.release(ctx, key)
		return nil, err
	}
	if key != "" {
		if err := s.Idempotency.Complete(ctx, key, o.ID, s.checkoutWindow()); err != nil {
			s.logger().Warn("idempotency complete failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if o.PaymentMethod.RequiresGateway() && s.Payments != nil {
		s.Payments.track(o.ID)
	}

	metrics.RecordOrderCreated(string(o.PaymentMethod))
	s.publish(ctx, domain.NewOrderEvent(domain.EventOrderCreated, o, actor))
	s.logger().Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("store_id", o.StoreID),
		zap.String("payment_method", string(o.PaymentMethod)),
		zap.String("total", o.Total.String()),
	)
	return o, nil
}

func (s *OrderService) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	o, ok, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok || !canView(actor, o) {
		return nil, domain.NotFound("order")
	}
	return o, nil
}

// UpdateStatus applies one lifecycle transition. A request for delivering is
// a delivery claim and goes through AcceptDelivery.
func (s *OrderService) UpdateStatus(ctx context.Context, actor domain.Actor, id string, to domain.OrderStatus, cancelReason string) (*domain.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, to)
	}
	if to == domain.OrderDelivering {
		return s.AcceptDelivery(ctx, actor, id)
	}
	var from domain.OrderStatus
	var hadGateway bool
	o, err := mutateOrder(ctx, s.Repo, id, func(o *domain.Order) error {
		if !canView(actor, o) {
			return domain.NotFound("order")
		}
		from = o.Status
		hadGateway = o.Gateway == domain.GatewayAwaiting
		return domain.ApplyTransition(o, actor, to, cancelReason, nowFunc(s.Now))
	})
	if err != nil {
		metrics.RecordRejection("update_status", domain.ErrorCode(err))
		return nil, err
	}
	if hadGateway && o.Gateway != domain.GatewayAwaiting && s.Payments != nil {
		s.Payments.release(o.ID)
	}
	s.transitioned(ctx, o, actor, from, domain.EventStatusChanged)
	return o, nil
}

// AcceptDelivery lets a shipper claim a ready order. Exactly one shipper wins
// a race; the others get domain.ErrAlreadyAssigned.
func (s *OrderService) AcceptDelivery(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	if actor.Role != domain.RoleShipper {
		return nil, fmt.Errorf("%w: only shippers accept deliveries", domain.ErrForbidden)
	}
	var from domain.OrderStatus
	o, err := mutateOrder(ctx, s.Repo, id, func(o *domain.Order) error {
		from = o.Status
		return domain.ApplyTransition(o, actor, domain.OrderDelivering, "", nowFunc(s.Now))
	})
	if err != nil {
		metrics.RecordRejection("accept_delivery", domain.ErrorCode(err))
		if errors.Is(err, domain.ErrAlreadyAssigned) {
			s.logger().Info("delivery already claimed", zap.String("order_id", id), zap.String("shipper_id", actor.ID))
		}
		return nil, err
	}
	s.transitioned(ctx, o, actor, from, domain.EventDeliveryAccepted)
	return o, nil
}

func (s *OrderService) transitioned(ctx context.Context, o *domain.Order, actor domain.Actor, from domain.OrderStatus, evt domain.EventType) {
	metrics.RecordTransition(string(from), string(o.Status))
	s.publish(ctx, domain.NewOrderEvent(evt, o, actor))
	s.logger().Info("order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
		zap.String("actor_id", actor.ID),
		zap.String("role", string(actor.Role)),
	)
}

func (s *OrderService) publish(ctx context.Context, evt domain.OrderEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, evt); err != nil {
		s.logger().Error("publish order event failed", zap.String("type", string(evt.Type)), zap.String("order_id", evt.OrderID), zap.Error(err))
	}
}

func (s *OrderService) lookupPromo(ctx context.Context, code string) (domain.Promo, bool, error) {
	if s.Promos == nil {
		return domain.Promo{}, false, nil
	}
	return s.Promos.Lookup(ctx, code)
}

func (s *OrderService) checkoutWindow() time.Duration {
	if s.CheckoutWindow <= 0 {
		return 2 * time.Minute
	}
	return s.CheckoutWindow
}

// canView scopes order visibility by role. Shippers see the open ready pool
// and the orders they carry.
func canView(actor domain.Actor, o *domain.Order) bool {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem:
		return true
	case domain.RoleStaff:
		return actor.CanManageStore(o.StoreID)
	case domain.RoleCustomer:
		return o.CustomerID == actor.ID
	case domain.RoleShipper:
		return o.ShipperID == actor.ID || (o.Status == domain.OrderReady && o.ShipperID == "")
	}
	return false
}
