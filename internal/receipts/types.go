package receipts

import "time"

// Status values for webhook receipt entries
const (
	StatusReceived  = "RECEIVED"
	StatusProcessed = "PROCESSED"
	StatusFailed    = "FAILED"
)

// Receipt is the audit row persisted per webhook event delivery. Receipts
// never gate processing: redeliveries are always re-materialized (that path
// is idempotent by construction), so this table exists for operators, not
// for correctness.
type Receipt struct {
	EventID    string    `dynamodbav:"event_id"`           // PK
	EventType  string    `dynamodbav:"event_type"`
	Status     string    `dynamodbav:"status"`
	OrderID    string    `dynamodbav:"order_id,omitempty"`
	Deliveries int       `dynamodbav:"deliveries"`
	Note       string    `dynamodbav:"note,omitempty"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
	UpdatedAt  time.Time `dynamodbav:"updated_at"`
	ExpiresAt  int64     `dynamodbav:"expires_at"`         // TTL epoch seconds
}
