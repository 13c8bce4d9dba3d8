package models

import "time"

// Product is the model for the 'products' table
type Product struct {
	ID        int64     `json:"id" db:"id"`
	SellerID  int64     `json:"sellerId" db:"seller_id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	Category  string    `json:"category" db:"category"`
	Image     string    `json:"image" db:"image"`
	Stock     int       `json:"stock" db:"stock"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// Loaded separately; not columns on the products table.
	PriceTiers    []PriceTier    `json:"priceTiers,omitempty"`
	DeliveryTiers []DeliveryTier `json:"deliveryCharges,omitempty"`
}

// PriceTier is one row of a product's quantity-banded price table.
// TierIndex is what cart items record, so prices stay resolvable even
// if the seller reorders tiers later.
type PriceTier struct {
	ID        int64   `json:"id" db:"id"`
	ProductID int64   `json:"productId" db:"product_id"`
	TierIndex int     `json:"tierIndex" db:"tier_index"`
	MinQty    int     `json:"min" db:"min_qty"`
	MaxQty    *int    `json:"max,omitempty" db:"max_qty"`
	Price     float64 `json:"price" db:"price"`
}

// DeliveryTier maps a distance band (in kilometres) to a delivery price.
// A nil MaxKM means the band is open-ended.
type DeliveryTier struct {
	ID        int64    `json:"id" db:"id"`
	ProductID int64    `json:"productId" db:"product_id"`
	MinKM     float64  `json:"min" db:"min_km"`
	MaxKM     *float64 `json:"max,omitempty" db:"max_km"`
	Price     float64  `json:"price" db:"price"`
}
