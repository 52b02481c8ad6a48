// Package cart keeps each owner's pending line items. Prices are never stored
// here; checkout resolves them against the ledger.
package cart

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrLineNotFound    = errors.New("cart line not found")
)

// LineKey identifies a line. Adding the same key again merges quantities.
type LineKey struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color,omitempty"`
}

type Line struct {
	LineKey
	Qty int `json:"qty"`
}

type Cart struct {
	OwnerID   string    `json:"owner_id"`
	Lines     []Line    `json:"lines"`
	UpdatedAt time.Time `json:"updated_at"`

	index map[LineKey]int // posisi di Lines
}

func newCart(owner string) *Cart {
	return &Cart{OwnerID: owner, Lines: []Line{}, index: map[LineKey]int{}}
}

func (c *Cart) reindex() {
	c.index = make(map[LineKey]int, len(c.Lines))
	for i, l := range c.Lines {
		c.index[l.LineKey] = i
	}
}

func (c *Cart) add(k LineKey, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if i, ok := c.index[k]; ok {
		c.Lines[i].Qty += qty
		return nil
	}
	c.index[k] = len(c.Lines)
	c.Lines = append(c.Lines, Line{LineKey: k, Qty: qty})
	return nil
}

func (c *Cart) set(k LineKey, qty int) error {
	switch {
	case qty < 0:
		return ErrInvalidQuantity
	case qty == 0:
		return c.remove(k)
	}
	i, ok := c.index[k]
	if !ok {
		return ErrLineNotFound
	}
	c.Lines[i].Qty = qty
	return nil
}

func (c *Cart) remove(k LineKey) error {
	i, ok := c.index[k]
	if !ok {
		return ErrLineNotFound
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	c.reindex()
	return nil
}

// Empty reports whether the cart has no lines.
func (c Cart) Empty() bool { return len(c.Lines) == 0 }

// TotalQty is the number of units across all lines.
func (c Cart) TotalQty() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Qty
	}
	return n
}

func (c *Cart) UnmarshalJSON(b []byte) error {
	type doc Cart
	var d doc
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	*c = Cart(d)
	if c.Lines == nil {
		c.Lines = []Line{}
	}
	c.reindex()
	return nil
}

func (c *Cart) clone() *Cart {
	out := &Cart{OwnerID: c.OwnerID, Lines: append([]Line{}, c.Lines...), UpdatedAt: c.UpdatedAt}
	out.reindex()
	return out
}
