package cart

import (
	"github.com/arkastore/backend-promo/internal/money"
)

// Item is a single cart line.
type Item struct {
	ProductID  string      `json:"productId"`
	Quantity   int         `json:"quantity"`
	UnitPrice  money.Money `json:"price"`
	CategoryID string      `json:"categoryId,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
}

// Subtotal returns quantity * unit price for the line.
func (it Item) Subtotal() money.Money {
	return it.UnitPrice.MulFloat(float64(it.Quantity))
}

// Pricing carries the cart's monetary summary.
type Pricing struct {
	Subtotal money.Money `json:"subtotal"`
	Total    money.Money `json:"total"`
	Currency string      `json:"currency"`
}

// Cart is the snapshot handed to the promotion engine. The engine never
// mutates it; discount application returns a fresh copy.
type Cart struct {
	ID           string      `json:"id"`
	Items        []Item      `json:"items"`
	Pricing      Pricing     `json:"pricing"`
	ShippingCost money.Money `json:"shippingCost"`
}

// User is the subset of account data the engine evaluates against.
// OrderCount == 0 marks a first purchase.
type User struct {
	ID         string `json:"id"`
	Segment    string `json:"segment,omitempty"`
	OrderCount int    `json:"orderCount"`
	Country    string `json:"country,omitempty"`
}

// Analysis is the derived evaluation context built fresh for every scan.
// It is never cached or persisted.
type Analysis struct {
	Subtotal          money.Money
	Items             []Item
	Categories        map[string]struct{}
	Products          map[string]struct{}
	QuantityByProduct map[string]int
	TotalQuantity     int
	ShippingCost      money.Money
	Currency          string

	Segment       string
	FirstPurchase bool
	Country       string
}

// Analyze derives the evaluation context from a cart and an optional user.
func Analyze(c Cart, u *User) Analysis {
	currency := c.Pricing.Currency
	if currency == "" {
		currency = c.ShippingCost.Currency()
	}
	a := Analysis{
		Subtotal:          c.Pricing.Subtotal,
		Items:             c.Items,
		Categories:        make(map[string]struct{}),
		Products:          make(map[string]struct{}),
		QuantityByProduct: make(map[string]int),
		ShippingCost:      c.ShippingCost,
		Currency:          currency,
	}
	if a.Subtotal.IsZero() && len(c.Items) > 0 {
		subtotal := money.Zero(currency)
		for _, it := range c.Items {
			if sum, err := subtotal.Add(it.Subtotal()); err == nil {
				subtotal = sum
			}
		}
		a.Subtotal = subtotal
	}
	for _, it := range c.Items {
		if it.Quantity <= 0 {
			continue
		}
		a.TotalQuantity += it.Quantity
		if it.ProductID != "" {
			a.Products[it.ProductID] = struct{}{}
			a.QuantityByProduct[it.ProductID] += it.Quantity
		}
		if it.CategoryID != "" {
			a.Categories[it.CategoryID] = struct{}{}
		}
	}
	if u != nil {
		a.Segment = u.Segment
		a.FirstPurchase = u.OrderCount == 0
		a.Country = u.Country
	}
	return a
}

// HasProduct reports whether the cart contains the given product.
func (a Analysis) HasProduct(productID string) bool {
	_, ok := a.Products[productID]
	return ok
}

// ApplyDiscount returns a copy of the cart whose total is reduced by the
// given discount, clamped at zero. The input cart is left untouched.
func ApplyDiscount(c Cart, discount money.Money) (Cart, error) {
	total := c.Pricing.Total
	if total.IsZero() && !c.Pricing.Subtotal.IsZero() {
		total = c.Pricing.Subtotal
	}
	reduced, err := total.Sub(discount)
	if err != nil {
		return Cart{}, err
	}
	if reduced.IsNegative() {
		reduced = money.Zero(total.Currency())
	}
	out := c
	out.Items = append([]Item(nil), c.Items...)
	out.Pricing.Total = reduced
	return out, nil
}
