package handlers

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agribazaar/agribazaar-golang/internal/auth"
	"github.com/agribazaar/agribazaar-golang/internal/geo"
	"github.com/agribazaar/agribazaar-golang/internal/models"
)

//
// --- User & Auth Handlers ---
//

// RegisterRequest creates a buyer or seller account.
type RegisterRequest struct {
	Role     string `json:"role" binding:"required,oneof=buyer seller"`
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required,min=3"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone"`
}

// Register is the handler for POST /v1/auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	var password models.Password
	if err := password.Set(req.Password); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	result, err := h.DB.Exec(`
		INSERT INTO users (role, email, username, password_hash, name, phone)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''))`,
		req.Role, strings.ToLower(req.Email), req.Username, password.Hash, req.Name, req.Phone)
	if err != nil {
		// MySQL duplicate key
		if strings.Contains(err.Error(), "Duplicate entry") {
			c.JSON(http.StatusConflict, gin.H{"error": "Email or username already taken"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}
	userID, _ := result.LastInsertId()

	token, err := auth.GenerateToken(userID, req.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Account created",
		"userId":  userID,
		"role":    req.Role,
		"token":   token,
	})
}

// LoginRequest authenticates by email.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login is the handler for POST /v1/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	var userID int64
	var role, hash string
	err := h.DB.QueryRow(
		"SELECT id, role, password_hash FROM users WHERE email = ?",
		strings.ToLower(req.Email)).Scan(&userID, &role, &hash)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up account"})
		return
	}

	password := models.Password{Hash: hash}
	matches, err := password.Matches(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify password"})
		return
	}
	if !matches {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := auth.GenerateToken(userID, role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"userId":  userID,
		"role":    role,
		"token":   token,
	})
}

// GetMyProfile is the handler for GET /v1/me
func (h *Handlers) GetMyProfile(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	var u models.User
	err := h.DB.QueryRow(`
		SELECT id, role, email, username, name, phone, stripe_account_id, created_at, updated_at
		FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Role, &u.Email, &u.Username, &u.Name, &u.Phone, &u.StripeAccountID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": u})
}

// AddAddressRequest adds an address to the user's address book.
type AddAddressRequest struct {
	Label      string `json:"label"`
	Street     string `json:"street" binding:"required"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state" binding:"required"`
	PostalCode string `json:"postalCode" binding:"required"`
	Country    string `json:"country" binding:"required"`
	IsDefault  bool   `json:"isDefault"`
}

// AddAddress is the handler for POST /v1/me/addresses
//
// The address is geocoded best-effort at save time so checkout can
// compute distances without another round trip to the geocoder. For
// sellers the default address also serves as the shipping origin.
func (h *Handlers) AddAddress(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	var req AddAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Label == "" {
		req.Label = "home"
	}

	addr := models.Address{
		UserID: userID, Label: req.Label,
		Street: req.Street, City: req.City, State: req.State,
		PostalCode: req.PostalCode, Country: req.Country,
		IsDefault: req.IsDefault,
	}
	if h.Geo != nil {
		if coords, err := h.Geo.Geocode(c, geo.BuildFullAddress(addr)); err == nil {
			addr.Latitude, addr.Longitude = &coords.Latitude, &coords.Longitude
		} else {
			h.Logger.Warn().Err(err).Int64("user_id", userID).Msg("Could not geocode address")
		}
	}

	tx, err := h.DB.BeginTx(c, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}
	defer tx.Rollback()

	if addr.IsDefault {
		if _, err := tx.Exec("UPDATE user_addresses SET is_default = FALSE WHERE user_id = ?", userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update default address"})
			return
		}
	} else {
		// First address becomes the default automatically.
		var count int
		_ = tx.QueryRow("SELECT COUNT(*) FROM user_addresses WHERE user_id = ?", userID).Scan(&count)
		if count == 0 {
			addr.IsDefault = true
		}
	}

	result, err := tx.Exec(`
		INSERT INTO user_addresses (user_id, label, street, city, state, postal_code, country, latitude, longitude, is_default)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		addr.UserID, addr.Label, addr.Street, addr.City, addr.State,
		addr.PostalCode, addr.Country, addr.Latitude, addr.Longitude, addr.IsDefault)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save address"})
		return
	}
	addr.ID, _ = result.LastInsertId()

	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit address"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Address saved", "address": addr})
}

// GetMyAddresses is the handler for GET /v1/me/addresses
func (h *Handlers) GetMyAddresses(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	rows, err := h.DB.Query(`
		SELECT id, user_id, label, street, city, state, postal_code, country, latitude, longitude, is_default
		FROM user_addresses WHERE user_id = ? ORDER BY is_default DESC, id`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch addresses"})
		return
	}
	defer rows.Close()

	addresses := []models.Address{}
	for rows.Next() {
		var a models.Address
		if err := rows.Scan(&a.ID, &a.UserID, &a.Label, &a.Street, &a.City, &a.State,
			&a.PostalCode, &a.Country, &a.Latitude, &a.Longitude, &a.IsDefault); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan address"})
			return
		}
		addresses = append(addresses, a)
	}

	c.JSON(http.StatusOK, gin.H{"addresses": addresses})
}

// AttachPayoutAccountRequest links a payment provider connected account.
type AttachPayoutAccountRequest struct {
	StripeAccountID string `json:"stripeAccountId" binding:"required"`
}

// AttachPayoutAccount is the handler for POST /v1/seller/payout-account
//
// A seller without a payout account cannot be part of any checkout; this
// is where the account gets linked.
func (h *Handlers) AttachPayoutAccount(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	sellerID := userIDRaw.(int64)

	var req AttachPayoutAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	if _, err := h.DB.Exec("UPDATE users SET stripe_account_id = ? WHERE id = ?",
		req.StripeAccountID, sellerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to link payout account"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Payout account linked"})
}
