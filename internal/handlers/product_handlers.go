package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

//
// --- Product Handlers ---
//

// PriceTierInput is one quantity band of a product's price table.
type PriceTierInput struct {
	MinQty int     `json:"min" binding:"required,min=1"`
	MaxQty *int    `json:"max"`
	Price  float64 `json:"price" binding:"required,gt=0"`
}

// DeliveryTierInput maps a distance band (km) to a delivery price.
type DeliveryTierInput struct {
	MinKM float64  `json:"min"`
	MaxKM *float64 `json:"max"`
	Price float64  `json:"price" binding:"required,gte=0"`
}

// CreateProductRequest is the seller's listing payload.
type CreateProductRequest struct {
	Name          string              `json:"name" binding:"required"`
	Category      string              `json:"category" binding:"required"`
	Image         string              `json:"image"`
	Stock         int                 `json:"stock" binding:"required,min=0"`
	PriceTiers    []PriceTierInput    `json:"priceTiers" binding:"required,min=1,dive"`
	DeliveryTiers []DeliveryTierInput `json:"deliveryCharges" binding:"dive"`
}

// CreateProduct is the handler for POST /v1/seller/products
func (h *Handlers) CreateProduct(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	sellerID := userIDRaw.(int64)

	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tx, err := h.DB.BeginTx(c, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}
	defer tx.Rollback()

	// Slug from the name, suffixed with the insert id for uniqueness.
	baseSlug := slug.Make(req.Name)
	result, err := tx.Exec(`
		INSERT INTO products (seller_id, name, slug, category, image, stock)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sellerID, req.Name, baseSlug+"-pending", req.Category, req.Image, req.Stock)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create product"})
		return
	}
	productID, err := result.LastInsertId()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get new product ID"})
		return
	}
	finalSlug := baseSlug + "-" + strconv.FormatInt(productID, 10)
	if _, err := tx.Exec("UPDATE products SET slug = ? WHERE id = ?", finalSlug, productID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to finalize product slug"})
		return
	}

	for i, tier := range req.PriceTiers {
		_, err := tx.Exec(`
			INSERT INTO product_price_tiers (product_id, tier_index, min_qty, max_qty, price)
			VALUES (?, ?, ?, ?, ?)`,
			productID, i, tier.MinQty, tier.MaxQty, tier.Price)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save price tier"})
			return
		}
	}
	for _, tier := range req.DeliveryTiers {
		_, err := tx.Exec(`
			INSERT INTO product_delivery_tiers (product_id, min_km, max_km, price)
			VALUES (?, ?, ?, ?)`,
			productID, tier.MinKM, tier.MaxKM, tier.Price)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save delivery tier"})
			return
		}
	}

	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit product"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "Product created",
		"productId": productID,
		"slug":      finalSlug,
	})
}

// GetProducts is the handler for GET /v1/products (public catalog)
func (h *Handlers) GetProducts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := `
		SELECT id, seller_id, name, slug, category, image, stock, created_at, updated_at
		FROM products WHERE 1=1`
	args := []any{}
	if category := c.Query("category"); category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	if sellerID := c.Query("sellerId"); sellerID != "" {
		query += " AND seller_id = ?"
		args = append(args, sellerID)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := h.DB.Query(query, args...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch products"})
		return
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.SellerID, &p.Name, &p.Slug, &p.Category,
			&p.Image, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan product"})
			return
		}
		products = append(products, p)
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"page":     page,
		"limit":    limit,
	})
}

// GetProductBySlug is the handler for GET /v1/products/:slug
func (h *Handlers) GetProductBySlug(c *gin.Context) {
	var p models.Product
	err := h.DB.QueryRow(`
		SELECT id, seller_id, name, slug, category, image, stock, created_at, updated_at
		FROM products WHERE slug = ?`, c.Param("slug")).
		Scan(&p.ID, &p.SellerID, &p.Name, &p.Slug, &p.Category, &p.Image, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch product"})
		return
	}

	priceRows, err := h.DB.Query(`
		SELECT id, product_id, tier_index, min_qty, max_qty, price
		FROM product_price_tiers WHERE product_id = ? ORDER BY tier_index`, p.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch price tiers"})
		return
	}
	for priceRows.Next() {
		var t models.PriceTier
		if err := priceRows.Scan(&t.ID, &t.ProductID, &t.TierIndex, &t.MinQty, &t.MaxQty, &t.Price); err != nil {
			priceRows.Close()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan price tier"})
			return
		}
		p.PriceTiers = append(p.PriceTiers, t)
	}
	priceRows.Close()

	deliveryRows, err := h.DB.Query(`
		SELECT id, product_id, min_km, max_km, price
		FROM product_delivery_tiers WHERE product_id = ? ORDER BY min_km`, p.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch delivery tiers"})
		return
	}
	for deliveryRows.Next() {
		var t models.DeliveryTier
		if err := deliveryRows.Scan(&t.ID, &t.ProductID, &t.MinKM, &t.MaxKM, &t.Price); err != nil {
			deliveryRows.Close()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan delivery tier"})
			return
		}
		p.DeliveryTiers = append(p.DeliveryTiers, t)
	}
	deliveryRows.Close()

	c.JSON(http.StatusOK, gin.H{"product": p})
}

// UpdateStockRequest changes a product's stock level.
type UpdateStockRequest struct {
	Stock int `json:"stock" binding:"min=0"`
}

// UpdateProductStock is the handler for PATCH /v1/seller/products/:id/stock
func (h *Handlers) UpdateProductStock(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	sellerID := userIDRaw.(int64)

	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req UpdateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.DB.Exec(
		"UPDATE products SET stock = ? WHERE id = ? AND seller_id = ?",
		req.Stock, productID, sellerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update stock"})
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found or not yours"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Stock updated", "stock": req.Stock})
}
