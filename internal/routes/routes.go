package routes

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/agribazaar/agribazaar-golang/internal/handlers"
	"github.com/agribazaar/agribazaar-golang/internal/middleware"
)

// CORSMiddleware tells the browser the frontend origin is allowed to
// call us with credentials.
func CORSMiddleware() gin.HandlerFunc {
	allowedOrigin := os.Getenv("FRONTEND_ORIGIN")
	if allowedOrigin == "" {
		allowedOrigin = "http://localhost:5173"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func SetupRouter(h *handlers.Handlers) *gin.Engine {
	router := gin.Default()

	router.Use(CORSMiddleware())
	router.Use(middleware.RateLimitMiddleware(rate.Limit(20), 40))

	v1 := router.Group("/v1")
	{
		// --- Ping Route (Public) ---
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong!"})
		})

		// --- Auth Routes (Public) ---
		v1.POST("/auth/register", h.Register)
		v1.POST("/auth/login", h.Login)

		// --- Public Catalog ---
		v1.GET("/products", h.GetProducts)
		v1.GET("/products/:slug", h.GetProductBySlug)

		// --- Payment Provider Webhook (signature-verified, no JWT) ---
		v1.POST("/webhooks/stripe", h.StripeWebhook)

		// --- Internal Routes (shared-secret, for the external cron) ---
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuthMiddleware(os.Getenv("INTERNAL_API_SECRET")))
		{
			internal.POST("/escrow/process-releases", h.ProcessEscrowReleases)
		}

		// --- Protected Routes (Login Required) ---
		auth := v1.Group("/")
		auth.Use(middleware.AuthMiddleware())
		{
			// --- Profile & Addresses ---
			auth.GET("/me", h.GetMyProfile)
			auth.GET("/me/addresses", h.GetMyAddresses)
			auth.POST("/me/addresses", h.AddAddress)

			// --- Notification Routes ---
			auth.GET("/notifications", h.GetMyNotifications)
			auth.PATCH("/notifications/:id/read", h.MarkNotificationAsRead)

			// --- Order Detail (buyer, participating seller, or admin) ---
			auth.GET("/orders/:id", h.GetOrderDetails)

			// --- Buyer Routes ---
			buyer := auth.Group("/")
			buyer.Use(middleware.BuyerMiddleware(h.DB))
			{
				buyer.GET("/cart", h.GetMyCart)
				buyer.POST("/cart/items", h.AddToCart)
				buyer.PATCH("/cart/items/:id", h.UpdateCartItem)
				buyer.DELETE("/cart/items/:id", h.RemoveCartItem)

				buyer.GET("/orders", h.GetMyOrders)
				buyer.POST("/orders/escrow", h.CreateEscrowOrder)
				buyer.POST("/orders/:id/confirm-payment", h.ConfirmPayment)
				buyer.POST("/orders/:id/cancel", h.CancelOrder)
			}

			// --- Escrow Routes (buyer or admin; checked in-handler) ---
			auth.POST("/orders/:id/release-escrow", h.ReleaseEscrowFunds)
			auth.POST("/orders/:id/dispute", h.RaiseDispute)

			// --- Seller Routes ---
			seller := auth.Group("/seller")
			seller.Use(middleware.SellerMiddleware(h.DB))
			{
				seller.POST("/products", h.CreateProduct)
				seller.PATCH("/products/:id/stock", h.UpdateProductStock)
				seller.POST("/payout-account", h.AttachPayoutAccount)
				seller.GET("/orders", h.GetSellerOrders)
				seller.PATCH("/orders/:id/status", h.UpdateSellerOrderStatus)
			}

			// --- Admin Routes ---
			admin := auth.Group("/admin")
			admin.Use(middleware.AdminMiddleware(h.DB))
			{
				admin.POST("/orders/:id/resolve-dispute", h.ResolveDispute)
			}
		}
	}

	return router
}
