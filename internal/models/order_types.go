package models

import "time"

// Order-level fulfillment status. Derived from the seller sub-orders
// (all delivered => completed); independent of PaymentStatus.
const (
	OrderPending    = "pending"
	OrderConfirmed  = "confirmed"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
	OrderCompleted  = "completed"
)

// Order-level payment status. Never set ad hoc: recomputed from the
// transfer ledger by escrow.DerivePaymentStatus after every mutation,
// except the explicit 'paid' stamp on the direct confirm path.
const (
	PaymentPending      = "pending"
	PaymentHeldInEscrow = "held_in_escrow"
	PaymentPaid         = "paid"
	PaymentReleased     = "released"
	PaymentFailed       = "failed"
	PaymentRefunded     = "refunded"
	PaymentDisputed     = "disputed"
)

// Per-seller transfer (ledger entry) status.
// pending -> processing -> completed|failed ; completed -> released|refunded ;
// any non-terminal -> refunded. released and refunded are terminal.
const (
	TransferPending    = "pending"
	TransferProcessing = "processing"
	TransferCompleted  = "completed"
	TransferFailed     = "failed"
	TransferReleased   = "released"
	TransferRefunded   = "refunded"
)

// EscrowDetails holds the release schedule and dispute bookkeeping for an
// order. Flattened into columns on the 'orders' table.
type EscrowDetails struct {
	ReleaseDate     time.Time  `json:"releaseDate" db:"escrow_release_date"`
	ReleasedAt      *time.Time `json:"releasedAt,omitempty" db:"escrow_released_at"`
	ReleasedBy      *int64     `json:"releasedBy,omitempty" db:"escrow_released_by"`
	DisputeRaised   bool       `json:"disputeRaised" db:"dispute_raised"`
	DisputeReason   *string    `json:"disputeReason,omitempty" db:"dispute_reason"`
	RaisedBy        *int64     `json:"raisedBy,omitempty" db:"dispute_raised_by"`
	RaisedAt        *time.Time `json:"raisedAt,omitempty" db:"dispute_raised_at"`
	DisputeResolved bool       `json:"disputeResolved" db:"dispute_resolved"`
	Resolution      *string    `json:"resolution,omitempty" db:"dispute_resolution"`
	ResolvedBy      *int64     `json:"resolvedBy,omitempty" db:"dispute_resolved_by"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty" db:"dispute_resolved_at"`
}

// DisputeOpen reports whether a dispute is raised and still unresolved.
func (e EscrowDetails) DisputeOpen() bool {
	return e.DisputeRaised && !e.DisputeResolved
}

// ShippingAddress is a snapshot copy taken at order time, not a live
// reference to the buyer's address book.
type ShippingAddress struct {
	Street     string   `json:"street" db:"ship_street"`
	City       string   `json:"city" db:"ship_city"`
	State      string   `json:"state" db:"ship_state"`
	PostalCode string   `json:"postalCode" db:"ship_postal_code"`
	Country    string   `json:"country" db:"ship_country"`
	Latitude   *float64 `json:"latitude,omitempty" db:"ship_latitude"`
	Longitude  *float64 `json:"longitude,omitempty" db:"ship_longitude"`
}

// ContactInfo is a snapshot of who to reach about the delivery.
type ContactInfo struct {
	Name  string `json:"name" db:"contact_name"`
	Phone string `json:"phone" db:"contact_phone"`
	Email string `json:"email" db:"contact_email"`
}

// Order is the aggregate root for the escrow core. Never physically
// deleted (financial record).
type Order struct {
	ID            int64           `json:"id" db:"id"`
	BuyerID       int64           `json:"buyerId" db:"buyer_id"`
	TotalAmount   float64         `json:"totalAmount" db:"total_amount"`
	Status        string          `json:"status" db:"status"`
	PaymentStatus string          `json:"paymentStatus" db:"payment_status"`
	PaymentMethod string          `json:"paymentMethod" db:"payment_method"`
	Escrow        EscrowDetails   `json:"escrowDetails"`
	Shipping      ShippingAddress `json:"shippingAddress"`
	Contact       ContactInfo     `json:"contactInfo"`
	DeliveryNotes string          `json:"deliveryNotes,omitempty" db:"delivery_notes"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`

	// Loaded separately.
	Items        []OrderItem      `json:"items,omitempty"`
	SellerOrders []SellerOrder    `json:"sellerOrders,omitempty"`
	Transfers    []TransferRecord `json:"stripeTransferIds,omitempty"`
}

// OrderItem is one line of an order. Quantity and price are captured at
// order time, not live-linked to the product.
type OrderItem struct {
	ID        int64   `json:"id" db:"id"`
	OrderID   int64   `json:"orderId" db:"order_id"`
	ProductID int64   `json:"productId" db:"product_id"`
	SellerID  int64   `json:"sellerId" db:"seller_id"`
	Quantity  int     `json:"quantity" db:"quantity"`
	TierIndex int     `json:"selectedTier" db:"tier_index"`
	LinePrice float64 `json:"price" db:"line_price"`
}

// SellerOrder is the portion of a multi-seller order belonging to one
// seller, with its own small fulfillment state machine.
type SellerOrder struct {
	ID             int64      `json:"id" db:"id"`
	OrderID        int64      `json:"orderId" db:"order_id"`
	SellerID       int64      `json:"sellerId" db:"seller_id"`
	Subtotal       float64    `json:"subtotal" db:"subtotal"`
	DeliveryCharge float64    `json:"deliveryCharge" db:"delivery_charge"`
	Status         string     `json:"status" db:"status"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty" db:"delivered_at"`

	Items   []OrderItem          `json:"items,omitempty"`
	History []SellerStatusUpdate `json:"statusHistory,omitempty"`
}

// SellerStatusUpdate is one row of the append-only sub-order audit log.
type SellerStatusUpdate struct {
	ID            int64     `json:"-" db:"id"`
	SellerOrderID int64     `json:"-" db:"seller_order_id"`
	Status        string    `json:"status" db:"status"`
	ChangedAt     time.Time `json:"changedAt" db:"changed_at"`
	ChangedBy     int64     `json:"changedBy" db:"changed_by"`
	Notes         string    `json:"notes" db:"notes"`
}

// TransferRecord is one ledger entry: the authoritative record of one
// seller's money movement on one order. Exactly one per seller per order.
// TransferID starts as the payment hold id and is replaced with the payout
// transfer id on release.
type TransferRecord struct {
	ID              int64             `json:"id" db:"id"`
	OrderID         int64             `json:"orderId" db:"order_id"`
	SellerID        int64             `json:"sellerId" db:"seller_id"`
	TransferID      string            `json:"transferId" db:"transfer_id"`
	PaymentIntentID string            `json:"paymentIntentId" db:"payment_intent_id"`
	Amount          float64           `json:"amount" db:"amount"`
	Currency        string            `json:"currency" db:"currency"`
	Status          string            `json:"status" db:"status"`
	Metadata        map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time         `json:"updatedAt" db:"updated_at"`
}

// Terminal reports whether the entry can no longer change. Released and
// refunded entries are immutable.
func (t *TransferRecord) Terminal() bool {
	return t.Status == TransferReleased || t.Status == TransferRefunded
}

// SetMeta writes a metadata key, allocating the map on first use.
func (t *TransferRecord) SetMeta(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}
