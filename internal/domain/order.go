package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderPreparing  OrderStatus = "preparing"
	OrderReady      OrderStatus = "ready"
	OrderDelivering OrderStatus = "delivering"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

var AllStatuses = []OrderStatus{
	OrderPending, OrderProcessing, OrderPreparing, OrderReady,
	OrderDelivering, OrderCompleted, OrderCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentQRTransfer     PaymentMethod = "qr_transfer"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCashOnDelivery || m == PaymentQRTransfer
}

// RequiresGateway reports whether orders paid this way are held in pending
// until the bank confirms the transfer.
func (m PaymentMethod) RequiresGateway() bool {
	return m == PaymentQRTransfer
}

type GatewayState string

const (
	GatewayNone      GatewayState = "none"
	GatewayAwaiting  GatewayState = "awaiting_payment"
	GatewayConfirmed GatewayState = "confirmed"
	GatewayTimedOut  GatewayState = "payment_timed_out"
	GatewayAbandoned GatewayState = "abandoned"
)

type OrderItem struct {
	ProductRef      string            `json:"productRef"`
	Name            string            `json:"name,omitempty"`
	Quantity        int               `json:"quantity"`
	UnitPrice       decimal.Decimal   `json:"unitPrice"`
	SelectedOptions map[string]string `json:"selectedOptions,omitempty"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// MaxLineQuantity caps the quantity of a single order or cart line.
const MaxLineQuantity = 999

func (i OrderItem) Validate() error {
	if i.ProductRef == "" || i.Quantity < 1 || i.Quantity > MaxLineQuantity || i.UnitPrice.IsNegative() {
		return ErrInvalidItem
	}
	return nil
}

type StatusChange struct {
	From    OrderStatus `json:"from,omitempty"`
	To      OrderStatus `json:"to"`
	ActorID string      `json:"actorId"`
	Role    Role        `json:"role"`
	Reason  string      `json:"reason,omitempty"`
	At      time.Time   `json:"at"`
}

type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"orderNumber"`
	StoreID          string          `json:"storeId"`
	CustomerID       string          `json:"customerId"`
	Items            []OrderItem     `json:"items"`
	PromoCode        string          `json:"promoCode,omitempty"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountAmount   decimal.Decimal `json:"discountAmount"`
	DeliveryFee      decimal.Decimal `json:"deliveryFee"`
	Total            decimal.Decimal `json:"total"`
	PaymentMethod    PaymentMethod   `json:"paymentMethod"`
	Status           OrderStatus     `json:"status"`
	Gateway          GatewayState    `json:"gateway"`
	GatewayExpiresAt time.Time       `json:"gatewayExpiresAt,omitempty"`
	PaymentRef       string          `json:"paymentRef,omitempty"`
	ShipperID        string          `json:"shipperId,omitempty"`
	DeliveryAddress  string          `json:"deliveryAddress"`
	Phone            string          `json:"phone"`
	CancelReason     string          `json:"cancelReason,omitempty"`
	RefundRequests   []RefundRequest `json:"refundRequests"`
	History          []StatusChange  `json:"history,omitempty"`
	IdempotencyKey   string          `json:"-"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	DeliveryFee    decimal.Decimal `json:"deliveryFee"`
	Total          decimal.Decimal `json:"total"`
}

// ComputeTotals derives the monetary fields. The discount is clamped to
// [0, subtotal] so the total can never go negative.
func ComputeTotals(items []OrderItem, discount, deliveryFee decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if deliveryFee.IsNegative() {
		deliveryFee = decimal.Zero
	}
	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		DeliveryFee:    deliveryFee,
		Total:          subtotal.Sub(discount).Add(deliveryFee),
	}
}

func (o *Order) ApplyTotals(t Totals) {
	o.Subtotal = t.Subtotal
	o.DiscountAmount = t.DiscountAmount
	o.DeliveryFee = t.DeliveryFee
	o.Total = t.Total
}

// HasRefund is the secondary "refunded" index: true once any refund request
// exists, whatever the order status.
func (o *Order) HasRefund() bool {
	return len(o.RefundRequests) > 0
}

func (o *Order) PendingRefund() *RefundRequest {
	for i := range o.RefundRequests {
		if o.RefundRequests[i].Status == RefundPending {
			return &o.RefundRequests[i]
		}
	}
	return nil
}

func (o *Order) Refund(id string) *RefundRequest {
	for i := range o.RefundRequests {
		if o.RefundRequests[i].ID == id {
			return &o.RefundRequests[i]
		}
	}
	return nil
}

// RefundLabel is the customer-facing refund marker derived from the most
// recent request.
func (o *Order) RefundLabel() string {
	if len(o.RefundRequests) == 0 {
		return ""
	}
	switch o.RefundRequests[len(o.RefundRequests)-1].Status {
	case RefundApproved:
		return "refunded"
	case RefundRejected:
		return "refund_rejected"
	default:
		return "refund_pending"
	}
}

// Clone returns a deep copy so repositories and callers never share slices.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = make([]OrderItem, len(o.Items))
	for i, it := range o.Items {
		cp.Items[i] = it
		if it.SelectedOptions != nil {
			opts := make(map[string]string, len(it.SelectedOptions))
			for k, v := range it.SelectedOptions {
				opts[k] = v
			}
			cp.Items[i].SelectedOptions = opts
		}
	}
	cp.RefundRequests = append([]RefundRequest(nil), o.RefundRequests...)
	cp.History = append([]StatusChange(nil), o.History...)
	return &cp
}

type OrderFilter struct {
	StoreID     string
	CustomerID  string
	ShipperID   string
	OrderNumber string
	Statuses    []OrderStatus
	Gateway     GatewayState
	Since       time.Time
	Unassigned  bool
}

func (f OrderFilter) Match(o *Order) bool {
	if f.StoreID != "" && o.StoreID != f.StoreID {
		return false
	}
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.ShipperID != "" && o.ShipperID != f.ShipperID {
		return false
	}
	if f.OrderNumber != "" && o.OrderNumber != f.OrderNumber {
		return false
	}
	if f.Gateway != "" && o.Gateway != f.Gateway {
		return false
	}
	if f.Unassigned && o.ShipperID != "" {
		return false
	}
	if !f.Since.IsZero() && o.UpdatedAt.Before(f.Since) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if o.Status == s {
				return true
			}
		}
		return false
	}
	return true
}
