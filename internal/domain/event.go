package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated     EventType = "order.created"
	EventStatusChanged    EventType = "order.status_changed"
	EventDeliveryAccepted EventType = "order.delivery_accepted"
	EventPaymentConfirmed EventType = "payment.confirmed"
	EventPaymentTimedOut  EventType = "payment.timed_out"
	EventPaymentAbandoned EventType = "payment.abandoned"
	EventPaymentRetried   EventType = "payment.retried"
	EventRefundSubmitted  EventType = "refund.submitted"
	EventRefundResolved   EventType = "refund.resolved"
)

// OrderEvent is the message published for every lifecycle side effect.
type OrderEvent struct {
	Type        EventType       `json:"type"`
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	StoreID     string          `json:"storeId"`
	CustomerID  string          `json:"customerId"`
	Status      OrderStatus     `json:"status"`
	Gateway     GatewayState    `json:"gateway,omitempty"`
	Total       decimal.Decimal `json:"total"`
	ActorID     string          `json:"actorId,omitempty"`
	Role        Role            `json:"role,omitempty"`
	RefundID    string          `json:"refundId,omitempty"`
	Version     int             `json:"version"`
	At          time.Time       `json:"at"`
}

func NewOrderEvent(t EventType, o *Order, actor Actor) OrderEvent {
	return OrderEvent{
		Type:        t,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		StoreID:     o.StoreID,
		CustomerID:  o.CustomerID,
		Status:      o.Status,
		Gateway:     o.Gateway,
		Total:       o.Total,
		ActorID:     actor.ID,
		Role:        actor.Role,
		Version:     o.Version,
		At:          o.UpdatedAt,
	}
}
