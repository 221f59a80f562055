package models

// Product is the server-owned catalog entry, cached client-side.
type Product struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Price         Money  `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
}

// InStock reports whether any unit is left.
func (p Product) InStock() bool {
	return p.StockQuantity > 0
}
