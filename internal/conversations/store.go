package conversations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/smithy-go"

	"github.com/marketgrid/checkout-orderflow/internal/aws"
)

// Conversation is a buyer-seller message thread. One row per pair; the
// originating order is kept for context only.
type Conversation struct {
	BuyerID   string    `dynamodbav:"buyer_id"`  // PK
	SellerID  string    `dynamodbav:"seller_id"` // SK
	OrderID   string    `dynamodbav:"order_id,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at"`
}

// Store encapsulates conversation operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Ensure creates the buyer-seller conversation if it does not exist yet.
// Returns (created=true, nil) if this call created it.
// Returns (created=false, nil) if the pair already had a conversation.
// Returns (created=false, err) on other errors.
func (s *Store) Ensure(ctx context.Context, buyerID, sellerID, orderID string) (bool, error) {
	if buyerID == "" || sellerID == "" {
		return false, errors.New("buyer and seller ids required")
	}

	conv := Conversation{
		BuyerID:   buyerID,
		SellerID:  sellerID,
		OrderID:   orderID,
		CreatedAt: s.nowFunc().UTC(),
	}
	item, err := attributevalue.MarshalMap(conv)
	if err != nil {
		return false, fmt.Errorf("marshal conversation: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
		// Only create when no conversation exists for the pair
		ConditionExpression: awsString("attribute_not_exists(buyer_id)"),
	})
	if err != nil {
		// detect conditional check failure
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put conversation: %w", err)
	}
	return true, nil
}

func awsString(s string) *string { return &s }
