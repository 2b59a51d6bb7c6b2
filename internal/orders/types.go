package orders

import "time"

// StatusPaid is the status stamped on an order materialized from a completed
// checkout session. Fulfillment transitions happen in other systems.
const StatusPaid = "paid"

// Order represents the item stored in the orders table.
// The external payment intent id is the partition key: the store's
// key uniqueness is what enforces "at most one order per payment intent".
type Order struct {
	PaymentIntentID   string    `dynamodbav:"payment_intent_id"`            // PK, idempotency key
	OrderID           string    `dynamodbav:"order_id"`                     // internal id, assigned on first write
	CheckoutSessionID string    `dynamodbav:"checkout_session_id,omitempty"`
	BuyerID           string    `dynamodbav:"buyer_id"`
	Status            string    `dynamodbav:"status"`
	TotalAmount       float64   `dynamodbav:"total_amount"`
	ShippingAddress   string    `dynamodbav:"shipping_address,omitempty"`   // JSON snapshot of customer details
	CreatedAt         time.Time `dynamodbav:"created_at"`
	UpdatedAt         time.Time `dynamodbav:"updated_at"`
}

// OrderItem is one line of an order. The (order_id, product_id) composite key
// makes a duplicate line for the same product impossible to persist.
type OrderItem struct {
	OrderID          string    `dynamodbav:"order_id"`                    // PK
	ProductID        string    `dynamodbav:"product_id"`                  // SK
	VariantID        string    `dynamodbav:"variant_id,omitempty"`
	SellerID         string    `dynamodbav:"seller_id,omitempty"`         // attribution snapshot at order time
	SellerUnresolved bool      `dynamodbav:"seller_unresolved,omitempty"`
	Quantity         int       `dynamodbav:"quantity"`
	UnitPrice        float64   `dynamodbav:"price_at_purchase"`
	CreatedAt        time.Time `dynamodbav:"created_at"`
}

// OrderDraft carries the session-derived fields for an upsert. Everything in
// a draft is identical across redeliveries of the same payment intent, which
// is what makes the upsert's last-writer-wins tie-break safe.
type OrderDraft struct {
	PaymentIntentID   string
	CheckoutSessionID string
	BuyerID           string
	TotalAmount       float64
	ShippingAddress   string
}
