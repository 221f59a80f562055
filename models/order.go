package models

import "time"

// Order statuses used by the shop API.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
)

// User is the owner embedded in every order.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// OrderItem is one line of a placed order. Product is nil when the product
// was deleted after the order was placed.
type OrderItem struct {
	ID              int      `json:"id"`
	Product         *Product `json:"product"`
	Quantity        int      `json:"quantity"`
	PriceAtPurchase Money    `json:"price_at_purchase"`
}

// Order is retrieved read-only for display. TotalAmount is nil when the
// API sends null.
type Order struct {
	ID          int         `json:"id"`
	User        *User       `json:"user,omitempty"`
	CreatedAt   *time.Time  `json:"created_at,omitempty"`
	Status      string      `json:"status"`
	TotalAmount *Money      `json:"total_amount"`
	Items       []OrderItem `json:"items"`
}

// OrderItemRequest is one {product_id, quantity} pair of a new order.
type OrderItemRequest struct {
	ProductID int `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// CreateOrderRequest is the payload sent to POST /api/orders/
type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items"`
}
