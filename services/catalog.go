package services

import "storefront/models"

// Catalog is the client-side copy of the product list. Stock is decremented
// locally when items go into the cart, until the next load.
type Catalog struct {
	products []models.Product
}

func NewCatalog() *Catalog {
	return &Catalog{}
}

// Replace swaps the whole cache for a freshly loaded list.
func (c *Catalog) Replace(products []models.Product) {
	c.products = append([]models.Product(nil), products...)
}

func (c *Catalog) Clear() {
	c.products = nil
}

// Find returns the cached product with id.
func (c *Catalog) Find(id int) (models.Product, bool) {
	for _, p := range c.products {
		if p.ID == id {
			return p, true
		}
	}
	return models.Product{}, false
}

// Take removes quantity units from the cached stock of id.
func (c *Catalog) Take(id, quantity int) {
	for i := range c.products {
		if c.products[i].ID == id {
			c.products[i].StockQuantity -= quantity
			return
		}
	}
}

// Available returns the products with stock left, in server order.
func (c *Catalog) Available() []models.Product {
	out := make([]models.Product, 0, len(c.products))
	for _, p := range c.products {
		if p.InStock() {
			out = append(out, p)
		}
	}
	return out
}

// Price returns the cached unit price of id, nil when the product is not
// in the cache.
func (c *Catalog) Price(id int) *models.Money {
	p, ok := c.Find(id)
	if !ok {
		return nil
	}
	price := p.Price
	return &price
}

func (c *Catalog) Len() int {
	return len(c.products)
}
