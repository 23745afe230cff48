package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Cart is the pre-order selection of one customer. It lives only for the
// session and is dropped once an order is created from it.
type Cart struct {
	CustomerID string      `json:"customerId"`
	StoreID    string      `json:"storeId"`
	Items      []OrderItem `json:"items"`
	PromoCode  string      `json:"promoCode,omitempty"`
}

func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

// Add merges it into the cart. Lines with the same product and options are
// combined. A cart only ever holds one store's products.
func (c *Cart) Add(storeID string, it OrderItem) error {
	if strings.TrimSpace(storeID) == "" {
		return ErrMissingStore
	}
	if err := it.Validate(); err != nil {
		return err
	}
	if c.StoreID != "" && c.StoreID != storeID && !c.Empty() {
		return ErrCartStoreMismatch
	}
	c.StoreID = storeID
	for i := range c.Items {
		if c.Items[i].ProductRef == it.ProductRef && sameOptions(c.Items[i].SelectedOptions, it.SelectedOptions) {
			if c.Items[i].Quantity+it.Quantity > MaxLineQuantity {
				return ErrInvalidItem
			}
			c.Items[i].Quantity += it.Quantity
			c.Items[i].UnitPrice = it.UnitPrice
			return nil
		}
	}
	c.Items = append(c.Items, it)
	return nil
}

// SetQuantity updates the first line for productRef; zero removes it.
func (c *Cart) SetQuantity(productRef string, qty int) error {
	if qty < 0 || qty > MaxLineQuantity {
		return ErrInvalidItem
	}
	for i := range c.Items {
		if c.Items[i].ProductRef != productRef {
			continue
		}
		if qty == 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		} else {
			c.Items[i].Quantity = qty
		}
		c.resetIfEmpty()
		return nil
	}
	return NotFound("cart item")
}

func (c *Cart) Remove(productRef string) error {
	return c.SetQuantity(productRef, 0)
}

func (c *Cart) resetIfEmpty() {
	if c.Empty() {
		c.StoreID = ""
		c.PromoCode = ""
	}
}

// Snapshot copies the cart lines for order creation.
func (c *Cart) Snapshot() []OrderItem {
	o := Order{Items: c.Items}
	return o.Clone().Items
}

func sameOptions(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

type Promo struct {
	Code        string          `json:"code"`
	PercentOff  decimal.Decimal `json:"percentOff"`
	AmountOff   decimal.Decimal `json:"amountOff"`
	MinSubtotal decimal.Decimal `json:"minSubtotal"`
	MaxDiscount decimal.Decimal `json:"maxDiscount"`
}

// Discount returns the promo value for subtotal. Promos below their minimum
// subtotal are worth nothing.
func (p Promo) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.LessThan(p.MinSubtotal) {
		return decimal.Zero
	}
	d := p.AmountOff
	if p.PercentOff.IsPositive() {
		d = d.Add(subtotal.Mul(p.PercentOff).Div(decimal.NewFromInt(100)).Floor())
	}
	if p.MaxDiscount.IsPositive() && d.GreaterThan(p.MaxDiscount) {
		d = p.MaxDiscount
	}
	return d
}
