package models

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User roles. Sellers additionally carry a Stripe connected-account id so
// they can receive payouts; buyers get a Stripe customer id on their first
// order so the same card can be reused across payment intents.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// User Model with Pointers for Nullable Fields
type User struct {
	ID           int64  `json:"id" db:"id"`
	Role         string `json:"role" db:"role"`
	Email        string `json:"email" db:"email"`
	Username     string `json:"username" db:"username"`
	PasswordHash string `json:"-" db:"password_hash"`
	Name         string `json:"name" db:"name"`

	Phone *string `json:"phone,omitempty" db:"phone"`

	// Payment provider references.
	StripeAccountID  *string `json:"stripeAccountId,omitempty" db:"stripe_account_id"`
	StripeCustomerID *string `json:"-" db:"stripe_customer_id"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Address is the model for the 'user_addresses' table.
// Latitude/longitude are cached geocoding results; nil means unresolved.
type Address struct {
	ID         int64    `json:"id" db:"id"`
	UserID     int64    `json:"userId" db:"user_id"`
	Label      string   `json:"label" db:"label"`
	Street     string   `json:"street" db:"street"`
	City       string   `json:"city" db:"city"`
	State      string   `json:"state" db:"state"`
	PostalCode string   `json:"postalCode" db:"postal_code"`
	Country    string   `json:"country" db:"country"`
	Latitude   *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude  *float64 `json:"longitude,omitempty" db:"longitude"`
	IsDefault  bool     `json:"isDefault" db:"is_default"`
}

// Password Helper (Standard)
type Password struct {
	Plaintext *string
	Hash      string
}

func (p *Password) Set(plaintextPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintextPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.Hash = string(hash)
	p.Plaintext = &plaintextPassword
	return nil
}

func (p *Password) Matches(plaintextPassword string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(p.Hash), []byte(plaintextPassword))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
