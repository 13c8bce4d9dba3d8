package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

//
// --- Cart Handlers (Buyer-Only) ---
//

// ensureCart returns the user's cart id, creating the cart on first use.
func (h *Handlers) ensureCart(userID int64) (int64, error) {
	var cartID int64
	err := h.DB.QueryRow("SELECT id FROM carts WHERE user_id = ?", userID).Scan(&cartID)
	if err == nil {
		return cartID, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	result, err := h.DB.Exec("INSERT INTO carts (user_id) VALUES (?)", userID)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CartItemView is one cart line joined with its product.
type CartItemView struct {
	ItemID       int64  `json:"itemId"`
	ProductID    int64  `json:"productId"`
	ProductName  string `json:"productName"`
	SellerID     int64  `json:"sellerId"`
	Quantity     int    `json:"quantity"`
	SelectedTier int    `json:"selectedTier"`
	Stock        int    `json:"stock"`
}

// GetMyCart is the handler for GET /v1/cart
func (h *Handlers) GetMyCart(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	cartID, err := h.ensureCart(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart"})
		return
	}

	rows, err := h.DB.Query(`
		SELECT ci.id, ci.product_id, p.name, p.seller_id, ci.quantity, ci.selected_tier, p.stock
		FROM cart_items ci
		JOIN products p ON ci.product_id = p.id
		WHERE ci.cart_id = ?
		ORDER BY ci.created_at`, cartID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart items"})
		return
	}
	defer rows.Close()

	items := []CartItemView{}
	for rows.Next() {
		var item CartItemView
		if err := rows.Scan(&item.ItemID, &item.ProductID, &item.ProductName,
			&item.SellerID, &item.Quantity, &item.SelectedTier, &item.Stock); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan cart item"})
			return
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{"cartId": cartID, "items": items})
}

// AddToCartRequest adds or replaces one cart line.
type AddToCartRequest struct {
	ProductID    int64 `json:"productId" binding:"required"`
	Quantity     int   `json:"quantity" binding:"required,min=1"`
	SelectedTier int   `json:"selectedTier"`
}

// AddToCart is the handler for POST /v1/cart/items
func (h *Handlers) AddToCart(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	var req AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	// The product must exist, have the requested tier, and have stock.
	var stock int
	err := h.DB.QueryRow("SELECT stock FROM products WHERE id = ?", req.ProductID).Scan(&stock)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check product"})
		return
	}
	if stock < req.Quantity {
		c.JSON(http.StatusConflict, gin.H{"error": "Not enough stock for this product"})
		return
	}

	var tierCount int
	_ = h.DB.QueryRow("SELECT COUNT(*) FROM product_price_tiers WHERE product_id = ? AND tier_index = ?",
		req.ProductID, req.SelectedTier).Scan(&tierCount)
	if tierCount == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Selected price tier does not exist for this product"})
		return
	}

	cartID, err := h.ensureCart(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart"})
		return
	}

	_, err = h.DB.Exec(`
		INSERT INTO cart_items (cart_id, product_id, quantity, selected_tier)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), selected_tier = VALUES(selected_tier)`,
		cartID, req.ProductID, req.Quantity, req.SelectedTier)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add item to cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Item added to cart"})
}

// UpdateCartItemRequest changes the quantity of an existing line.
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// UpdateCartItem is the handler for PATCH /v1/cart/items/:id
func (h *Handlers) UpdateCartItem(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart item ID"})
		return
	}

	var req UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.DB.Exec(`
		UPDATE cart_items ci
		JOIN carts ca ON ci.cart_id = ca.id
		SET ci.quantity = ?
		WHERE ci.id = ? AND ca.user_id = ?`,
		req.Quantity, itemID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update cart item"})
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cart item updated"})
}

// RemoveCartItem is the handler for DELETE /v1/cart/items/:id
func (h *Handlers) RemoveCartItem(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart item ID"})
		return
	}

	result, err := h.DB.Exec(`
		DELETE ci FROM cart_items ci
		JOIN carts ca ON ci.cart_id = ca.id
		WHERE ci.id = ? AND ca.user_id = ?`, itemID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove cart item"})
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cart item removed"})
}
