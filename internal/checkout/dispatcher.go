package checkout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marketgrid/checkout-orderflow/internal/aws"
)

// ConversationTask is the payload sent to the side-effect queue after a
// materialization that inserted new lines. The worker ensures one
// buyer-seller conversation per listed seller.
type ConversationTask struct {
	OrderID       string   `json:"order_id"`
	BuyerID       string   `json:"buyer_id"`
	SellerIDs     []string `json:"seller_ids"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// Dispatcher submits side-effect work decoupled from the request path.
// Implementations must be safe to call for the same order more than once.
type Dispatcher interface {
	Dispatch(ctx context.Context, task ConversationTask) error
}

// QueueDispatcher sends conversation tasks to SQS. The queue is the
// detachment point: once the message is accepted the webhook response no
// longer depends on conversation creation at all.
type QueueDispatcher struct {
	Publisher *aws.Publisher
}

// Dispatch enqueues the task.
func (d *QueueDispatcher) Dispatch(ctx context.Context, task ConversationTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal conversation task: %w", err)
	}
	attrs := map[string]string{
		"order_id": task.OrderID,
	}
	if task.CorrelationID != "" {
		attrs["correlation_id"] = task.CorrelationID
	}
	return d.Publisher.SendConversationTask(ctx, string(body), attrs)
}
