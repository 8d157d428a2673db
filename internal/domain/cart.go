package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrCartItemNotFound indicates the line item does not exist in the cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartInvalidQuantity indicates a quantity outside the accepted range for the operation.
	ErrCartInvalidQuantity = errors.New("cart: invalid quantity")
)

// CartItem is a single cart line. ConfiguredPrice and ConfiguredCreditCost, when set, override the
// product's base values in totals; they are set at add time and never recomputed implicitly.
type CartItem struct {
	ItemID               string
	Product              Product
	Quantity             int
	ConfiguredPrice      *decimal.Decimal
	ConfiguredCreditCost *int
	Configuration        *ProductConfiguration
	AddedAt              time.Time
}

// UnitPrice returns the configured price or the product base price.
func (i CartItem) UnitPrice() decimal.Decimal {
	if i.ConfiguredPrice != nil {
		return *i.ConfiguredPrice
	}
	return i.Product.Price
}

// UnitCredits returns the configured credit cost or the product base credit cost.
func (i CartItem) UnitCredits() int {
	if i.ConfiguredCreditCost != nil {
		return *i.ConfiguredCreditCost
	}
	return i.Product.CreditCost
}

// SameLine reports whether two items share product and configuration and therefore merge.
func (i CartItem) SameLine(other CartItem) bool {
	return i.Product.ID == other.Product.ID && EqualConfigurations(i.Configuration, other.Configuration)
}

// Cart is a user's single active cart. Totals are always the result of RecomputeTotals.
type Cart struct {
	UserID       string
	Items        []CartItem
	TotalAmount  decimal.Decimal
	TotalCredits int
	Currency     string
	UpdatedAt    time.Time
}

// AddItem merges the item into a matching line or appends it, then recomputes totals. The returned
// item is the resulting line.
func (c *Cart) AddItem(item CartItem) (CartItem, error) {
	if item.Quantity < 1 {
		return CartItem{}, ErrCartInvalidQuantity
	}
	defer c.RecomputeTotals()

	for idx := range c.Items {
		if c.Items[idx].SameLine(item) {
			c.Items[idx].Quantity += item.Quantity
			return c.Items[idx], nil
		}
	}
	c.Items = append(c.Items, item)
	return item, nil
}

// UpdateQuantity sets the quantity of a line. Zero removes the line; negative values are rejected.
func (c *Cart) UpdateQuantity(itemID string, quantity int) error {
	if quantity < 0 {
		return ErrCartInvalidQuantity
	}
	idx := c.indexOf(itemID)
	if idx < 0 {
		return ErrCartItemNotFound
	}
	defer c.RecomputeTotals()

	if quantity == 0 {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
		return nil
	}
	c.Items[idx].Quantity = quantity
	return nil
}

// Reconfigure replaces the configuration and configured prices of a line. When the new
// configuration makes the line identical to another, the two merge into the earlier one.
func (c *Cart) Reconfigure(itemID string, config *ProductConfiguration, price *decimal.Decimal, credits *int) (CartItem, error) {
	idx := c.indexOf(itemID)
	if idx < 0 {
		return CartItem{}, ErrCartItemNotFound
	}
	defer c.RecomputeTotals()

	c.Items[idx].Configuration = config
	c.Items[idx].ConfiguredPrice = price
	c.Items[idx].ConfiguredCreditCost = credits

	for other := range c.Items {
		if other == idx || !c.Items[other].SameLine(c.Items[idx]) {
			continue
		}
		keep, drop := other, idx
		if idx < other {
			keep, drop = idx, other
		}
		c.Items[keep].Quantity += c.Items[drop].Quantity
		merged := c.Items[keep]
		c.Items = append(c.Items[:drop], c.Items[drop+1:]...)
		return merged, nil
	}
	return c.Items[idx], nil
}

// RemoveItem drops a line. Removing an absent item is a no-op; the result reports whether a line
// was removed.
func (c *Cart) RemoveItem(itemID string) bool {
	defer c.RecomputeTotals()
	idx := c.indexOf(itemID)
	if idx < 0 {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return true
}

// Clear empties the cart and zeroes totals.
func (c *Cart) Clear() {
	c.Items = nil
	c.RecomputeTotals()
}

// FindItem returns the line with the given id.
func (c *Cart) FindItem(itemID string) (CartItem, bool) {
	idx := c.indexOf(itemID)
	if idx < 0 {
		return CartItem{}, false
	}
	return c.Items[idx], true
}

// RecomputeTotals derives TotalAmount and TotalCredits from the current lines.
func (c *Cart) RecomputeTotals() {
	amount := decimal.Zero
	credits := 0
	for _, item := range c.Items {
		qty := int64(item.Quantity)
		amount = amount.Add(item.UnitPrice().Mul(decimal.NewFromInt(qty)))
		credits += item.UnitCredits() * item.Quantity
	}
	c.TotalAmount = amount
	c.TotalCredits = credits
}

func (c *Cart) indexOf(itemID string) int {
	for idx, item := range c.Items {
		if item.ItemID == itemID {
			return idx
		}
	}
	return -1
}
