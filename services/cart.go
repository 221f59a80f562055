package services

import "storefront/models"

// CartLine is one product in the cart.
type CartLine struct {
	ProductID int    `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
}

// Cart keeps one line per product, in the order products were first added.
type Cart struct {
	lines []CartLine
}

func NewCart() *Cart {
	return &Cart{}
}

// Add creates a line for productID or increments the existing one. quantity
// must be positive.
func (c *Cart) Add(productID int, title string, quantity int) {
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines[i].Quantity += quantity
			return
		}
	}
	c.lines = append(c.lines, CartLine{ProductID: productID, Title: title, Quantity: quantity})
}

// Lines returns a copy of the cart lines.
func (c *Cart) Lines() []CartLine {
	return append([]CartLine(nil), c.lines...)
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

func (c *Cart) Clear() {
	c.lines = nil
}

// OrderItems turns the cart into the order payload.
func (c *Cart) OrderItems() []models.OrderItemRequest {
	items := make([]models.OrderItemRequest, 0, len(c.lines))
	for _, l := range c.lines {
		items = append(items, models.OrderItemRequest{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return items
}
