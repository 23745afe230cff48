package usecase

import (
	"context"
	"fmt"
	"strings"

	"drinkshop-backend/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CartStore interface {
	// Get returns an empty cart for customers without one.
	Get(ctx context.Context, customerID string) (*domain.Cart, error)
	Save(ctx context.Context, c *domain.Cart) error
	Delete(ctx context.Context, customerID string) error
}

type PromoBook interface {
	Lookup(ctx context.Context, code string) (domain.Promo, bool, error)
}

// StaticPromoBook serves promos loaded from configuration.
type StaticPromoBook map[string]domain.Promo

func NewStaticPromoBook(promos []domain.Promo) StaticPromoBook {
	b := make(StaticPromoBook, len(promos))
	for _, p := range promos {
		code := strings.ToUpper(strings.TrimSpace(p.Code))
		if code == "" {
			continue
		}
		p.Code = code
		b[code] = p
	}
	return b
}

func (b StaticPromoBook) Lookup(_ context.Context, code string) (domain.Promo, bool, error) {
	p, ok := b[strings.ToUpper(strings.TrimSpace(code))]
	return p, ok, nil
}

// CartView is a cart together with the totals checkout would produce.
type CartView struct {
	domain.Cart
	domain.Totals
}

type CartService struct {
	Carts       CartStore
	Promos      PromoBook
	DeliveryFee decimal.Decimal
	Logger      *zap.Logger
}

func (s *CartService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *CartService) Get(ctx context.Context, actor domain.Actor) (*CartView, error) {
	c, err := s.load(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.quote(ctx, c)
}

func (s *CartService) AddItem(ctx context.Context, actor domain.Actor, storeID string, item domain.OrderItem) (*CartView, error) {
	return s.mutate(ctx, actor, func(c *domain.Cart) error {
		return c.Add(storeID, item)
	})
}

func (s *CartService) SetQuantity(ctx context.Context, actor domain.Actor, productRef string, qty int) (*CartView, error) {
	return s.mutate(ctx, actor, func(c *domain.Cart) error {
		return c.SetQuantity(productRef, qty)
	})
}

func (s *CartService) RemoveItem(ctx context.Context, actor domain.Actor, productRef string) (*CartView, error) {
	return s.mutate(ctx, actor, func(c *domain.Cart) error {
		return c.Remove(productRef)
	})
}

// ApplyPromo sets the promo code. An empty code clears it.
func (s *CartService) ApplyPromo(ctx context.Context, actor domain.Actor, code string) (*CartView, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code != "" {
		if _, ok, err := s.lookup(ctx, code); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("%w: unknown promo code %s", domain.ErrInvalidInput, code)
		}
	}
	return s.mutate(ctx, actor, func(c *domain.Cart) error {
		c.PromoCode = code
		return nil
	})
}

func (s *CartService) Clear(ctx context.Context, actor domain.Actor) error {
	if actor.Role != domain.RoleCustomer {
		return domain.ErrForbidden
	}
	return s.Carts.Delete(ctx, actor.ID)
}

func (s *CartService) load(ctx context.Context, actor domain.Actor) (*domain.Cart, error) {
	if actor.Role != domain.RoleCustomer {
		return nil, domain.ErrForbidden
	}
	c, err := s.Carts.Get(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	c.CustomerID = actor.ID
	return c, nil
}

func (s *CartService) mutate(ctx context.Context, actor domain.Actor, fn func(c *domain.Cart) error) (*CartView, error) {
	c, err := s.load(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	if c.Empty() {
		err = s.Carts.Delete(ctx, actor.ID)
	} else {
		err = s.Carts.Save(ctx, c)
	}
	if err != nil {
		s.logger().Error("save cart failed", zap.String("customer_id", actor.ID), zap.Error(err))
		return nil, err
	}
	return s.quote(ctx, c)
}

// quote prices the cart the same way order creation will.
func (s *CartService) quote(ctx context.Context, c *domain.Cart) (*CartView, error) {
	subtotal := domain.ComputeTotals(c.Items, decimal.Zero, decimal.Zero).Subtotal
	discount := decimal.Zero
	if c.PromoCode != "" {
		p, ok, err := s.lookup(ctx, c.PromoCode)
		if err != nil {
			return nil, err
		}
		if ok {
			discount = p.Discount(subtotal)
		}
	}
	fee := s.DeliveryFee
	if c.Empty() {
		fee = decimal.Zero
	}
	return &CartView{Cart: *c, Totals: domain.ComputeTotals(c.Items, discount, fee)}, nil
}

func (s *CartService) lookup(ctx context.Context, code string) (domain.Promo, bool, error) {
	if s.Promos == nil {
		return domain.Promo{}, false, nil
	}
	return s.Promos.Lookup(ctx, code)
}
