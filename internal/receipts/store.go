package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/marketgrid/checkout-orderflow/internal/aws"
)

// Store encapsulates webhook receipt operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // TTL window for receipt expiry
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow: how long receipts stay queryable (e.g., 48*time.Hour).
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// Record upserts the receipt for an event delivery and bumps its delivery
// counter. The returned count tells the caller whether this was a repeat
// delivery. First write stamps status RECEIVED and the TTL.
func (s *Store) Record(ctx context.Context, eventID, eventType string) (deliveries int, err error) {
	now := s.nowFunc().UTC()
	nowAttr, err := attributevalue.Marshal(now)
	if err != nil {
		return 0, fmt.Errorf("marshal timestamp: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"event_id": &types.AttributeValueMemberS{Value: eventID},
		},
		UpdateExpression: awsString("SET event_type = :t, #s = if_not_exists(#s, :rcv), " +
			"created_at = if_not_exists(created_at, :ts), updated_at = :ts, " +
			"expires_at = if_not_exists(expires_at, :exp) ADD deliveries :one"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":   &types.AttributeValueMemberS{Value: eventType},
			":rcv": &types.AttributeValueMemberS{Value: StatusReceived},
			":ts":  nowAttr,
			":exp": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(s.ttlWindow).Unix())},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, fmt.Errorf("record receipt: %w", err)
	}

	var rec Receipt
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return 0, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return rec.Deliveries, nil
}

// Get retrieves a receipt by event id. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, eventID string) (*Receipt, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"event_id": &types.AttributeValueMemberS{Value: eventID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Receipt
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return &rec, nil
}

// MarkProcessed sets status to PROCESSED and records the materialized order id.
func (s *Store) MarkProcessed(ctx context.Context, eventID, orderID string) error {
	return s.mark(ctx, eventID, StatusProcessed, orderID, "")
}

// MarkFailed marks the receipt FAILED and stores a short failure note.
func (s *Store) MarkFailed(ctx context.Context, eventID, note string) error {
	return s.mark(ctx, eventID, StatusFailed, "", note)
}

func (s *Store) mark(ctx context.Context, eventID, status, orderID, note string) error {
	now := s.nowFunc().UTC()
	expr := "SET #s = :st, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":st": &types.AttributeValueMemberS{Value: status},
		":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	if orderID != "" {
		expr += ", order_id = :oid"
		values[":oid"] = &types.AttributeValueMemberS{Value: orderID}
	}
	if note != "" {
		expr += ", note = :n"
		values[":n"] = &types.AttributeValueMemberS{Value: note}
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"event_id": &types.AttributeValueMemberS{Value: eventID},
		},
		UpdateExpression:          &expr,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return fmt.Errorf("update receipt (%s): %w", status, err)
	}
	return nil
}

// Helper
func awsString(s string) *string { return &s }
