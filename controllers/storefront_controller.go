package controllers

import (
	"errors"
	"net/http"
	"strconv"

	apperrors "storefront/errors"
	"storefront/logger"
	"storefront/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AddToCartRequest struct {
	ProductID int `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// StorefrontController exposes the storefront actions as a local JSON API.
// Every error response carries the page state next to the message.
type StorefrontController struct {
	storefront services.StorefrontService
}

func NewStorefrontController(svc services.StorefrontService) *StorefrontController {
	return &StorefrontController{storefront: svc}
}

// Health handles GET /health
func (sc *StorefrontController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// State handles GET /state
func (sc *StorefrontController) State(c *gin.Context) {
	c.JSON(http.StatusOK, sc.storefront.State())
}

// Login handles POST /login
func (sc *StorefrontController) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	res, err := sc.storefront.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		sc.respondError(c, err)
		return
	}
	logger.Info(c, "storefront login", zap.String("email", res.Email))
	c.JSON(http.StatusOK, gin.H{"login": res, "state": sc.storefront.State()})
}

// Logout handles POST /logout
func (sc *StorefrontController) Logout(c *gin.Context) {
	sc.storefront.Logout()
	logger.Info(c, "storefront logout")
	c.JSON(http.StatusOK, sc.storefront.State())
}

// Products handles GET /products
func (sc *StorefrontController) Products(c *gin.Context) {
	if !sc.storefront.State().LoggedIn {
		sc.respondError(c, apperrors.ErrNotLoggedIn)
		return
	}
	view, err := sc.storefront.LoadProducts(c.Request.Context())
	if err != nil {
		sc.respondError(c, err)
		return
	}
	logger.Debug(c, "products served", zap.Int("options", len(view.Options)))
	c.JSON(http.StatusOK, view)
}

// Cart handles GET /cart
func (sc *StorefrontController) Cart(c *gin.Context) {
	c.JSON(http.StatusOK, sc.storefront.Cart())
}

// AddToCart handles POST /cart/items
func (sc *StorefrontController) AddToCart(c *gin.Context) {
	var req AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sc.respondError(c, apperrors.Wrap(apperrors.ErrInvalidCartItem, err))
		return
	}

	res, err := sc.storefront.AddToCart(req.ProductID, req.Quantity)
	if err != nil {
		sc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Checkout handles POST /checkout
func (sc *StorefrontController) Checkout(c *gin.Context) {
	res, err := sc.storefront.Checkout(c.Request.Context())
	if err != nil {
		sc.respondError(c, err)
		return
	}
	logger.Info(c, "order placed", zap.Int("order_id", res.OrderID))
	c.JSON(http.StatusCreated, res)
}

// Orders handles GET /orders
func (sc *StorefrontController) Orders(c *gin.Context) {
	view, err := sc.storefront.LoadOrders(c.Request.Context())
	if err != nil {
		sc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Order handles GET /orders/:id
func (sc *StorefrontController) Order(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		sc.respondError(c, apperrors.Wrap(apperrors.ErrInvalidOrderID, err))
		return
	}

	view, err := sc.storefront.GetOrder(c.Request.Context(), id)
	if err != nil {
		sc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// OrderForm handles POST /order-form
func (sc *StorefrontController) OrderForm(c *gin.Context) {
	if err := sc.storefront.ShowOrderForm(); err != nil {
		sc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc.storefront.State())
}

func (sc *StorefrontController) respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	_ = c.Error(err)

	message := "Internal error"
	fields := []zap.Field{zap.String("path", c.FullPath()), zap.Int("status", status)}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
		fields = append(fields, zap.String("detail", appErr.Detail()))
	}
	if kind, ok := apperrors.KindOf(err); ok {
		fields = append(fields, zap.String("kind", string(kind)))
	}

	if status >= http.StatusInternalServerError {
		logger.Error(c, "storefront action failed", err, fields...)
	} else {
		logger.Warn(c, "storefront action rejected", fields...)
	}

	c.JSON(status, gin.H{"error": message, "state": sc.storefront.State()})
}
