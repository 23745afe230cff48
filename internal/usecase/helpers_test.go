package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/infrastructure/bankqr"
	"drinkshop-backend/internal/infrastructure/cache"
	"drinkshop-backend/internal/infrastructure/repo"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	customer  = domain.Actor{ID: "cus-1", Role: domain.RoleCustomer}
	customer2 = domain.Actor{ID: "cus-2", Role: domain.RoleCustomer}
	staff     = domain.Actor{ID: "stf-1", Role: domain.RoleStaff, StoreID: "store-1"}
	staffB    = domain.Actor{ID: "stf-2", Role: domain.RoleStaff, StoreID: "store-2"}
	admin     = domain.Actor{ID: "adm-1", Role: domain.RoleAdmin}
	shipperA  = domain.Actor{ID: "shp-a", Role: domain.RoleShipper}
	shipperB  = domain.Actor{ID: "shp-b", Role: domain.RoleShipper}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	clock    *fakeClock
	repo     *repo.MemoryOrderRepo
	carts    *cache.MemoryCartStore
	events   *recordingPublisher
	orders   *OrderService
	payments *PaymentService
	refunds  *RefundService
	cart     *CartService
	console  *ConsoleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := newClock()
	orders := repo.NewMemoryOrderRepo()
	carts := cache.NewMemoryCartStore()
	idem := cache.NewMemoryIdempotency()
	idem.Now = clock.Now
	events := &recordingPublisher{}
	promos := NewStaticPromoBook([]domain.Promo{{
		Code:        "welcome10",
		PercentOff:  decimal.NewFromInt(10),
		MinSubtotal: decimal.NewFromInt(50000),
	}})
	qr, err := bankqr.NewClient(bankqr.Config{BankBIN: "970436", AccountNo: "0011001234567", AccountName: "DRINKSHOP"})
	require.NoError(t, err)

	payments := &PaymentService{
		Repo:   orders,
		QR:     qr,
		Events: events,
		Logger: logger,
		Window: 30 * time.Second,
		Now:    clock.Now,
	}
	return &fixture{
		clock:    clock,
		repo:     orders,
		carts:    carts,
		events:   events,
		payments: payments,
		orders: &OrderService{
			Repo:           orders,
			Carts:          carts,
			Promos:         promos,
			Idempotency:    idem,
			Payments:       payments,
			Events:         events,
			Logger:         logger,
			DeliveryFee:    decimal.NewFromInt(5000),
			CheckoutWindow: 2 * time.Minute,
			Now:            clock.Now,
		},
		refunds: &RefundService{Repo: orders, Events: events, Logger: logger, Now: clock.Now},
		cart:    &CartService{Carts: carts, Promos: promos, DeliveryFee: decimal.NewFromInt(5000), Logger: logger},
		console: &ConsoleService{Repo: orders, Location: time.UTC, Now: clock.Now},
	}
}

func orderInput(method domain.PaymentMethod) CreateOrderInput {
	return CreateOrderInput{
		StoreID:         "store-1",
		DeliveryAddress: "12 Nguyen Hue, District 1",
		Phone:           "0901234567",
		PaymentMethod:   method,
		Items: []domain.OrderItem{{
			ProductRef: "milk-tea",
			Name:       "Milk tea",
			Quantity:   2,
			UnitPrice:  decimal.NewFromInt(45000),
		}},
	}
}

func (f *fixture) create(t *testing.T, method domain.PaymentMethod) *domain.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), customer, orderInput(method))
	require.NoError(t, err)
	return o
}

// advance walks an order through the store-side statuses up to target.
func (f *fixture) advance(t *testing.T, id string, target domain.OrderStatus) *domain.Order {
	t.Helper()
	ctx := context.Background()
	var o *domain.Order
	var err error
	for _, s := range []domain.OrderStatus{domain.OrderProcessing, domain.OrderPreparing, domain.OrderReady} {
		o, err = f.orders.UpdateStatus(ctx, staff, id, s, "")
		require.NoError(t, err)
		if s == target {
			return o
		}
	}
	if target == domain.OrderDelivering || target == domain.OrderCompleted {
		o, err = f.orders.AcceptDelivery(ctx, shipperA, id)
		require.NoError(t, err)
	}
	if target == domain.OrderCompleted {
		o, err = f.orders.UpdateStatus(ctx, shipperA, id, domain.OrderCompleted, "")
		require.NoError(t, err)
	}
	return o
}
