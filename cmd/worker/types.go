package main

// ConversationTask is the payload sent from the webhook API -> SQS -> worker.
// It mirrors checkout.ConversationTask on the producer side.
type ConversationTask struct {
	OrderID       string   `json:"order_id"`
	BuyerID       string   `json:"buyer_id"`
	SellerIDs     []string `json:"seller_ids"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}
