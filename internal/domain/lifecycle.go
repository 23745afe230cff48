package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type transition struct {
	from, to OrderStatus
}

// permissions is the single actor × transition table. A pair missing here is
// an invalid transition whoever asks.
var permissions = map[transition][]Role{
	{OrderPending, OrderProcessing}:   {RoleStaff, RoleAdmin, RoleSystem},
	{OrderProcessing, OrderPreparing}: {RoleStaff, RoleAdmin},
	{OrderPreparing, OrderReady}:      {RoleStaff, RoleAdmin},
	{OrderReady, OrderDelivering}:     {RoleShipper},
	{OrderDelivering, OrderCompleted}: {RoleShipper},
	{OrderPending, OrderCancelled}:    {RoleStaff, RoleAdmin},
	{OrderProcessing, OrderCancelled}: {RoleStaff, RoleAdmin},
	{OrderPreparing, OrderCancelled}:  {RoleStaff, RoleAdmin},
	{OrderReady, OrderCancelled}:      {RoleStaff, RoleAdmin},
	{OrderDelivering, OrderCancelled}: {RoleStaff, RoleAdmin},
}

// Transitions lists the statuses reachable from s.
func Transitions(s OrderStatus) []OrderStatus {
	var out []OrderStatus
	for _, to := range AllStatuses {
		if _, ok := permissions[transition{s, to}]; ok {
			out = append(out, to)
		}
	}
	return out
}

// AllowedRoles returns the roles permitted to move an order from -> to, or
// nil when the pair is not a transition at all.
func AllowedRoles(from, to OrderStatus) []Role {
	return permissions[transition{from, to}]
}

// CheckTransition validates a requested status change without mutating the
// order. It is used both server side and by the API client to fail fast.
func CheckTransition(o *Order, actor Actor, to OrderStatus, reason string) error {
	if to == OrderDelivering && o.Status == OrderDelivering && o.ShipperID != "" {
		return ErrAlreadyAssigned
	}
	roles, ok := permissions[transition{o.Status, to}]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	if !hasRole(roles, actor.Role) {
		return fmt.Errorf("%w: %s may not move %s -> %s", ErrForbidden, actor.Role, o.Status, to)
	}
	if actor.Role == RoleStaff && !actor.CanManageStore(o.StoreID) {
		return fmt.Errorf("%w: order belongs to another store", ErrForbidden)
	}
	switch {
	case to == OrderCancelled:
		if strings.TrimSpace(reason) == "" {
			return ErrCancelReasonRequired
		}
	case o.Status == OrderPending && to == OrderProcessing:
		if o.PaymentMethod.RequiresGateway() && o.Gateway != GatewayConfirmed {
			return ErrPaymentNotConfirmed
		}
	case to == OrderDelivering:
		if o.ShipperID != "" {
			return ErrAlreadyAssigned
		}
	case to == OrderCompleted:
		if o.ShipperID != actor.ID {
			return fmt.Errorf("%w: order is assigned to another shipper", ErrForbidden)
		}
	}
	return nil
}

// ApplyTransition checks and then performs the change in place. On error the
// order is left untouched.
func ApplyTransition(o *Order, actor Actor, to OrderStatus, reason string, now time.Time) error {
	if err := CheckTransition(o, actor, to, reason); err != nil {
		return err
	}
	from := o.Status
	o.Status = to
	switch to {
	case OrderCancelled:
		o.CancelReason = strings.TrimSpace(reason)
		if o.Gateway == GatewayAwaiting || o.Gateway == GatewayTimedOut {
			o.Gateway = GatewayAbandoned
		}
	case OrderDelivering:
		o.ShipperID = actor.ID
	}
	o.History = append(o.History, StatusChange{
		From:    from,
		To:      to,
		ActorID: actor.ID,
		Role:    actor.Role,
		Reason:  o.CancelReason,
		At:      now,
	})
	o.UpdatedAt = now
	return nil
}

func hasRole(roles []Role, r Role) bool {
	for _, v := range roles {
		if v == r {
			return true
		}
	}
	return false
}

type NewOrderParams struct {
	StoreID         string
	DeliveryAddress string
	Phone           string
	PaymentMethod   PaymentMethod
	Items           []OrderItem
	PromoCode       string
	Discount        decimal.Decimal
	DeliveryFee     decimal.Decimal
	IdempotencyKey  string
}

// NewOrder is the only way an order enters the lifecycle. It is always born
// pending; QR orders additionally start with the gateway awaiting payment.
func NewOrder(actor Actor, p NewOrderParams, now time.Time) (*Order, error) {
	if actor.Role != RoleCustomer {
		return nil, fmt.Errorf("%w: only customers create orders", ErrForbidden)
	}
	if len(p.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if strings.TrimSpace(p.StoreID) == "" {
		return nil, ErrMissingStore
	}
	if strings.TrimSpace(p.DeliveryAddress) == "" || strings.TrimSpace(p.Phone) == "" {
		return nil, ErrMissingProfile
	}
	if !p.PaymentMethod.Valid() {
		return nil, ErrInvalidPaymentMethod
	}
	for _, it := range p.Items {
		if err := it.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s", err, it.ProductRef)
		}
	}
	id := uuid.New()
	o := &Order{
		ID:              id.String(),
		OrderNumber:     OrderNumber(id, now),
		StoreID:         p.StoreID,
		CustomerID:      actor.ID,
		PromoCode:       p.PromoCode,
		PaymentMethod:   p.PaymentMethod,
		Status:          OrderPending,
		Gateway:         GatewayNone,
		DeliveryAddress: strings.TrimSpace(p.DeliveryAddress),
		Phone:           strings.TrimSpace(p.Phone),
		IdempotencyKey:  p.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.Items = (&Order{Items: p.Items}).Clone().Items
	o.ApplyTotals(ComputeTotals(o.Items, p.Discount, p.DeliveryFee))
	if p.PaymentMethod.RequiresGateway() {
		o.Gateway = GatewayAwaiting
	}
	o.History = []StatusChange{{To: OrderPending, ActorID: actor.ID, Role: actor.Role, At: now}}
	return o, nil
}

// OrderNumber renders the human-readable number printed on receipts and used
// as the transfer memo, e.g. DS261015A1B2C3.
func OrderNumber(id uuid.UUID, at time.Time) string {
	return "DS" + at.Format("060102") + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:6])
}
