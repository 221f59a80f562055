package routes

import (
	"time"

	"storefront/controllers"
	"storefront/middleware"
	"storefront/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Options are the optional parts of the router.
type Options struct {
	// AllowedOrigins are the browser origins that may call the API.
	AllowedOrigins []string
	// Metrics receives per-route request metrics when set.
	Metrics middleware.MetricsRecorder
}

// NewRouter builds the gin engine serving the storefront API.
func NewRouter(svc services.StorefrontService, limiter *middleware.RateLimiter, opts Options, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MetricsMiddleware(opts.Metrics, "storefront"))
	r.Use(middleware.SecurityHeaders())
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", middleware.RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	RegisterStorefrontRoutes(r, controllers.NewStorefrontController(svc), limiter)
	return r
}

func RegisterStorefrontRoutes(r *gin.Engine, controller *controllers.StorefrontController, limiter *middleware.RateLimiter) {
	r.GET("/health", controller.Health)

	api := r.Group("/")
	if limiter != nil {
		api.Use(middleware.RateLimitMiddleware(limiter))
	}
	{
		api.GET("/state", controller.State)
		api.POST("/login", controller.Login)
		api.POST("/logout", controller.Logout)
		api.GET("/products", controller.Products)
		api.GET("/cart", controller.Cart)
		api.POST("/cart/items", controller.AddToCart)
		api.POST("/checkout", controller.Checkout)
		api.GET("/orders", controller.Orders)
		api.GET("/orders/:id", controller.Order)
		api.POST("/order-form", controller.OrderForm)
	}
}
