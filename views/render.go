// Package views renders the storefront state as the text the page used to
// show: product options, cart lines and order history.
package views

import (
	"fmt"
	"strings"
	"time"

	"storefront/models"
)

// Messages shown in place of empty lists.
const (
	NoStockMessage  = "No products with stock available."
	NoOrdersMessage = "You have no orders in progress."
	DeletedProduct  = "(deleted product)"
)

// Line is one rendered text line.
type Line struct {
	Text string `json:"text"`
	Bold bool   `json:"bold,omitempty"`
}

// ProductOption is one selectable product.
type ProductOption struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Stock int    `json:"stock"`
}

// CartEntry is a cart line joined with its latest cached unit price.
// UnitPrice is nil when the product is no longer cached.
type CartEntry struct {
	ProductID int
	Title     string
	Quantity  int
	UnitPrice *models.Money
}

// CartView is the rendered cart. Total is only rendered when non-empty.
type CartView struct {
	Lines []Line       `json:"lines"`
	Total models.Money `json:"total"`
	Items int          `json:"items"`
}

// OrderView is one rendered order.
type OrderView struct {
	ID    int      `json:"id"`
	Lines []string `json:"lines"`
}

// Text joins the order lines the way the page displayed them.
func (o OrderView) Text() string {
	return strings.Join(o.Lines, "\n")
}

// Renderer holds the display settings.
type Renderer struct {
	Currency   string
	DateLayout string
	Location   *time.Location
}

func NewRenderer(currency, dateLayout string) Renderer {
	return Renderer{Currency: currency, DateLayout: dateLayout, Location: time.Local}
}

// Option renders one product as "<title> (Stock: <n>)".
func (r Renderer) Option(p models.Product) ProductOption {
	return ProductOption{
		ID:    p.ID,
		Label: fmt.Sprintf("%s (Stock: %d)", p.Title, p.StockQuantity),
		Stock: p.StockQuantity,
	}
}

// Options renders the products with stock left.
func (r Renderer) Options(products []models.Product) []ProductOption {
	out := make([]ProductOption, 0, len(products))
	for _, p := range products {
		if p.InStock() {
			out = append(out, r.Option(p))
		}
	}
	return out
}

// Cart renders one line per entry and a bold total line when non-empty.
func (r Renderer) Cart(entries []CartEntry) CartView {
	view := CartView{Lines: make([]Line, 0, len(entries)+1), Items: len(entries)}
	for _, e := range entries {
		text := fmt.Sprintf("%s (x%d)", e.Title, e.Quantity)
		if e.UnitPrice != nil {
			subtotal := e.UnitPrice.Times(e.Quantity)
			view.Total += subtotal
			text += " - " + r.Money(subtotal)
		}
		view.Lines = append(view.Lines, Line{Text: text})
	}
	if len(entries) > 0 {
		view.Lines = append(view.Lines, Line{Text: "Total: " + r.Money(view.Total), Bold: true})
	}
	return view
}

// Orders renders the order history.
func (r Renderer) Orders(orders []models.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, r.Order(o))
	}
	return out
}

// Order renders id and status, then date, total and items when present.
func (r Renderer) Order(o models.Order) OrderView {
	lines := []string{fmt.Sprintf("Order #%d - Status: %s", o.ID, o.Status)}
	if o.CreatedAt != nil {
		lines = append(lines, "Date: "+r.Time(*o.CreatedAt))
	}
	if o.TotalAmount != nil {
		lines = append(lines, "Total: "+r.Money(*o.TotalAmount))
	}
	if o.Items != nil {
		lines = append(lines, "Products:")
		for _, item := range o.Items {
			title := DeletedProduct
			if item.Product != nil {
				title = item.Product.Title
			}
			lines = append(lines, fmt.Sprintf("  - %s x%d", title, item.Quantity))
		}
	}
	return OrderView{ID: o.ID, Lines: lines}
}

// Money formats an amount with the currency symbol, e.g. "€19.90".
func (r Renderer) Money(m models.Money) string {
	return r.Currency + m.String()
}

// Time formats t in the renderer's location.
func (r Renderer) Time(t time.Time) string {
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	layout := r.DateLayout
	if layout == "" {
		layout = time.DateTime
	}
	return t.In(loc).Format(layout)
}
