package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/marketgrid/checkout-orderflow/internal/aws"
	"github.com/marketgrid/checkout-orderflow/internal/conversations"
)

// Processor handles SQS messages and ensures buyer-seller conversations for
// materialized orders. The whole path is idempotent: re-driven messages find
// the conversations already in place and do nothing.
type Processor struct {
	conversations *conversations.Store
	metrics       *aws.Metrics
}

// NewProcessor creates a new worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients, conversationsTable string) *Processor {
	return &Processor{
		conversations: conversations.NewStore(clients.DynamoDB, conversationsTable),
		metrics:       aws.NewMetrics(clients.CloudWatch, "Marketplace/CheckoutWebhook"),
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.Printf("worker error: %v", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var task ConversationTask
	if err := json.Unmarshal([]byte(rec.Body), &task); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if task.BuyerID == "" || len(task.SellerIDs) == 0 {
		return fmt.Errorf("conversation task for order=%s missing participants", task.OrderID)
	}

	log.Printf("[worker] received order=%s buyer=%s sellers=%d corr=%s",
		task.OrderID, task.BuyerID, len(task.SellerIDs), task.CorrelationID)

	for _, sellerID := range task.SellerIDs {
		created, err := p.conversations.Ensure(ctx, task.BuyerID, sellerID, task.OrderID)
		if err != nil {
			return fmt.Errorf("ensure conversation buyer=%s seller=%s: %w", task.BuyerID, sellerID, err)
		}
		if created {
			p.metrics.Count(ctx, "ConversationsEnsured", 1, nil)
			log.Printf("[worker] created conversation buyer=%s seller=%s order=%s", task.BuyerID, sellerID, task.OrderID)
		} else {
			log.Printf("[worker] conversation exists buyer=%s seller=%s", task.BuyerID, sellerID)
		}
	}
	return nil
}
