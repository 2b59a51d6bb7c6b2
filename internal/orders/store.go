package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/marketgrid/checkout-orderflow/internal/aws"
)

// transactBatchSize caps the number of conditional Puts per TransactWriteItems call.
const transactBatchSize = 25

// Store encapsulates operations on the orders and order_items tables.
type Store struct {
	client      aws.DynamoDBAPI
	ordersTable string
	itemsTable  string
	nowFunc     func() time.Time
	newID       func() string
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, ordersTable, itemsTable string) *Store {
	return &Store{
		client:      client,
		ordersTable: ordersTable,
		itemsTable:  itemsTable,
		nowFunc:     time.Now,
		newID:       uuid.NewString,
	}
}

// UpsertByPaymentIntent writes the order keyed on its payment intent id.
// The first write for an intent assigns a fresh internal order id; every
// later write for the same intent is absorbed by if_not_exists and returns
// the already-assigned id. All deliveries of one intent carry identical
// session data, so the mutable fields converging on the latest writer is safe.
//
// Returns the persisted order and whether this call created it.
func (s *Store) UpsertByPaymentIntent(ctx context.Context, draft OrderDraft) (*Order, bool, error) {
	if draft.PaymentIntentID == "" {
		return nil, false, errors.New("payment intent id required")
	}

	now := s.nowFunc().UTC()
	candidateID := s.newID()

	values := map[string]interface{}{
		":oid": candidateID,
		":st":  StatusPaid,
		":ts":  now,
		":b":   draft.BuyerID,
		":cs":  draft.CheckoutSessionID,
		":amt": draft.TotalAmount,
		":sa":  draft.ShippingAddress,
	}
	exprValues := map[string]types.AttributeValue{}
	for k, v := range values {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, false, fmt.Errorf("marshal %s: %w", k, err)
		}
		exprValues[k] = av
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.ordersTable,
		Key: map[string]types.AttributeValue{
			"payment_intent_id": &types.AttributeValueMemberS{Value: draft.PaymentIntentID},
		},
		UpdateExpression: awsString("SET order_id = if_not_exists(order_id, :oid), " +
			"#s = if_not_exists(#s, :st), " +
			"created_at = if_not_exists(created_at, :ts), " +
			"buyer_id = :b, checkout_session_id = :cs, total_amount = :amt, " +
			"shipping_address = :sa, updated_at = :ts"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: exprValues,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert order: %w", err)
	}

	var order Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &order); err != nil {
		return nil, false, fmt.Errorf("unmarshal order: %w", err)
	}
	return &order, order.OrderID == candidateID, nil
}

// ListItemProductIDs returns the set of product ids already recorded against
// the order. This is the cheap pre-check a retried delivery hits before
// deciding nothing is left to insert.
func (s *Store) ListItemProductIDs(ctx context.Context, orderID string) (map[string]bool, error) {
	existing := map[string]bool{}
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.itemsTable,
			KeyConditionExpression: awsString("order_id = :oid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":oid": &types.AttributeValueMemberS{Value: orderID},
			},
			ProjectionExpression: awsString("product_id"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query order items: %w", err)
		}
		for _, item := range out.Items {
			if pid, ok := item["product_id"].(*types.AttributeValueMemberS); ok {
				existing[pid.Value] = true
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return existing, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// InsertItems writes the given lines as conditional Puts inside
// TransactWriteItems batches. A batch cancelled purely by conditional check
// failures means a concurrent delivery already recorded those lines: the
// uniqueness invariant held, so it counts as success, not error. Any other
// cancellation reason propagates so the provider's redelivery can converge.
//
// Returns the number of rows this call actually inserted.
func (s *Store) InsertItems(ctx context.Context, items []OrderItem) (int, error) {
	now := s.nowFunc().UTC()
	inserted := 0

	for start := 0; start < len(items); start += transactBatchSize {
		end := start + transactBatchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		transactItems := make([]types.TransactWriteItem, 0, len(chunk))
		for _, item := range chunk {
			if item.CreatedAt.IsZero() {
				item.CreatedAt = now
			}
			m, err := attributevalue.MarshalMap(item)
			if err != nil {
				return inserted, fmt.Errorf("marshal order item %s: %w", item.ProductID, err)
			}
			transactItems = append(transactItems, types.TransactWriteItem{
				Put: &types.Put{
					TableName:           &s.itemsTable,
					Item:                m,
					ConditionExpression: awsString("attribute_not_exists(product_id)"),
				},
			})
		}

		_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: transactItems,
		})
		if err != nil {
			var tce *types.TransactionCanceledException
			if errors.As(err, &tce) && allRowsAlreadyExist(tce.CancellationReasons) {
				// lost the race to an identical delivery; every row is present
				continue
			}
			// A partially-conflicting cancellation wrote nothing: surface it
			// so the provider redelivers and the next pass inserts what is
			// still missing.
			return inserted, fmt.Errorf("insert order items: %w", err)
		}
		inserted += len(chunk)
	}
	return inserted, nil
}

// allRowsAlreadyExist reports whether every Put in the cancelled transaction
// failed its attribute_not_exists condition, i.e. the full chunk was already
// persisted by a competing delivery.
func allRowsAlreadyExist(reasons []types.CancellationReason) bool {
	if len(reasons) == 0 {
		return false
	}
	for _, r := range reasons {
		if r.Code == nil || *r.Code != "ConditionalCheckFailed" {
			return false
		}
	}
	return true
}

func awsString(s string) *string { return &s }
