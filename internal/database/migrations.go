package database

import (
	"database/sql"
	"fmt"
)

// migrationStatements are applied in order on startup. Every statement is
// idempotent, so a restart against an existing schema is a no-op.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		role VARCHAR(20) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		username VARCHAR(100) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(50) NULL,
		stripe_account_id VARCHAR(255) NULL,
		stripe_customer_id VARCHAR(255) NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	);`,

	`CREATE TABLE IF NOT EXISTS user_addresses (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		label VARCHAR(50) NOT NULL DEFAULT 'home',
		street VARCHAR(255) NOT NULL,
		city VARCHAR(100) NOT NULL,
		state VARCHAR(100) NOT NULL,
		postal_code VARCHAR(20) NOT NULL,
		country VARCHAR(100) NOT NULL,
		latitude DOUBLE NULL,
		longitude DOUBLE NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,

	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		seller_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL UNIQUE,
		category VARCHAR(100) NOT NULL,
		image VARCHAR(512) NOT NULL DEFAULT '',
		stock INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (seller_id) REFERENCES users(id)
	);`,

	`CREATE TABLE IF NOT EXISTS product_price_tiers (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		product_id BIGINT NOT NULL,
		tier_index INT NOT NULL,
		min_qty INT NOT NULL,
		max_qty INT NULL,
		price DOUBLE NOT NULL,
		UNIQUE KEY uq_product_tier (product_id, tier_index),
		FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
	);`,

	`CREATE TABLE IF NOT EXISTS product_delivery_tiers (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		product_id BIGINT NOT NULL,
		min_km DOUBLE NOT NULL,
		max_km DOUBLE NULL,
		price DOUBLE NOT NULL,
		FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
	);`,

	`CREATE TABLE IF NOT EXISTS carts (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,

	`CREATE TABLE IF NOT EXISTS cart_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		cart_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		quantity INT NOT NULL,
		selected_tier INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_cart_product (cart_id, product_id),
		FOREIGN KEY (cart_id) REFERENCES carts(id) ON DELETE CASCADE,
		FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
	);`,

	`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		buyer_id BIGINT NOT NULL,
		total_amount DOUBLE NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		payment_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		payment_method VARCHAR(20) NOT NULL DEFAULT 'card',
		escrow_release_date TIMESTAMP NOT NULL,
		escrow_released_at TIMESTAMP NULL,
		escrow_released_by BIGINT NULL,
		dispute_raised BOOLEAN NOT NULL DEFAULT FALSE,
		dispute_reason TEXT NULL,
		dispute_raised_by BIGINT NULL,
		dispute_raised_at TIMESTAMP NULL,
		dispute_resolved BOOLEAN NOT NULL DEFAULT FALSE,
		dispute_resolution VARCHAR(50) NULL,
		dispute_resolved_by BIGINT NULL,
		dispute_resolved_at TIMESTAMP NULL,
		ship_street VARCHAR(255) NOT NULL DEFAULT '',
		ship_city VARCHAR(100) NOT NULL DEFAULT '',
		ship_state VARCHAR(100) NOT NULL DEFAULT '',
		ship_postal_code VARCHAR(20) NOT NULL DEFAULT '',
		ship_country VARCHAR(100) NOT NULL DEFAULT '',
		ship_latitude DOUBLE NULL,
		ship_longitude DOUBLE NULL,
		contact_name VARCHAR(255) NOT NULL DEFAULT '',
		contact_phone VARCHAR(50) NOT NULL DEFAULT '',
		contact_email VARCHAR(255) NOT NULL DEFAULT '',
		delivery_notes TEXT NULL,
		completed_at TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		KEY idx_orders_buyer (buyer_id),
		KEY idx_orders_release (payment_status, escrow_release_date),
		FOREIGN KEY (buyer_id) REFERENCES users(id)
	);`,

	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		seller_id BIGINT NOT NULL,
		quantity INT NOT NULL,
		tier_index INT NOT NULL DEFAULT 0,
		line_price DOUBLE NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	);`,

	`CREATE TABLE IF NOT EXISTS seller_orders (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		seller_id BIGINT NOT NULL,
		subtotal DOUBLE NOT NULL,
		delivery_charge DOUBLE NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		delivered_at TIMESTAMP NULL,
		UNIQUE KEY uq_order_seller (order_id, seller_id),
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	);`,

	`CREATE TABLE IF NOT EXISTS seller_order_status_history (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		seller_order_id BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL,
		changed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		changed_by BIGINT NOT NULL,
		notes TEXT NULL,
		FOREIGN KEY (seller_order_id) REFERENCES seller_orders(id) ON DELETE CASCADE
	);`,

	`CREATE TABLE IF NOT EXISTS order_transfers (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		seller_id BIGINT NOT NULL,
		transfer_id VARCHAR(255) NOT NULL,
		payment_intent_id VARCHAR(255) NOT NULL,
		amount DOUBLE NOT NULL,
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		metadata JSON NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_transfer_order_seller (order_id, seller_id),
		KEY idx_transfer_intent (payment_intent_id),
		KEY idx_transfer_transfer (transfer_id),
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	);`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		title VARCHAR(255) NOT NULL,
		message TEXT NOT NULL,
		category VARCHAR(50) NOT NULL DEFAULT 'general',
		link VARCHAR(512) NULL,
		metadata JSON NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_notifications_user (user_id, is_read),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrationStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration statement %d failed: %w", i+1, err)
		}
	}
	return nil
}
