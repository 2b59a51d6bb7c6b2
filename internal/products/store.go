package products

import (
	"context"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/marketgrid/checkout-orderflow/internal/aws"
)

// batchGetLimit is the DynamoDB BatchGetItem per-request key cap.
const batchGetLimit = 100

// Store reads product rows. This subsystem only ever resolves seller
// attribution; it never writes products.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore creates a products Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// SellersFor resolves each product id to its current seller id in batched
// lookups: one BatchGetItem per 100 distinct ids, never one query per line.
// Product ids that no longer resolve are simply absent from the result map;
// the caller decides what a missing attribution means.
func (s *Store) SellersFor(ctx context.Context, productIDs []string) (map[string]string, error) {
	distinct := make([]string, 0, len(productIDs))
	seen := map[string]bool{}
	for _, id := range productIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		distinct = append(distinct, id)
	}

	sellers := map[string]string{}
	for start := 0; start < len(distinct); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(distinct) {
			end = len(distinct)
		}
		if err := s.batchGet(ctx, distinct[start:end], sellers); err != nil {
			return nil, err
		}
	}
	return sellers, nil
}

func (s *Store) batchGet(ctx context.Context, ids []string, sellers map[string]string) error {
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: id},
		})
	}

	for len(keys) > 0 {
		out, err := s.client.BatchGetItem(ctx, &dyn.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				s.tableName: {
					Keys:                 keys,
					ProjectionExpression: awsString("product_id, seller_id"),
				},
			},
		})
		if err != nil {
			return fmt.Errorf("batch get products: %w", err)
		}

		for _, item := range out.Responses[s.tableName] {
			pid, ok := item["product_id"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if sid, ok := item["seller_id"].(*types.AttributeValueMemberS); ok && sid.Value != "" {
				sellers[pid.Value] = sid.Value
			}
		}

		// drain any keys DynamoDB left unprocessed
		keys = nil
		if unprocessed, ok := out.UnprocessedKeys[s.tableName]; ok {
			keys = unprocessed.Keys
		}
	}
	return nil
}

func awsString(s string) *string { return &s }
