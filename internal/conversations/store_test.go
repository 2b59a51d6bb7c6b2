package conversations

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/marketgrid/checkout-orderflow/internal/testsupport/dynamock"
)

func TestEnsure_GetOrCreate(t *testing.T) {
	db := dynamock.New()
	db.AddTable("conversations", "buyer_id", "seller_id")
	s := NewStore(db, "conversations")
	ctx := context.Background()

	created, err := s.Ensure(ctx, "buyer-1", "seller-1", "order-1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first ensure")
	}

	// second ensure for the same pair is a no-op, even from a different order
	created, err = s.Ensure(ctx, "buyer-1", "seller-1", "order-2")
	if err != nil {
		t.Fatalf("repeat ensure: %v", err)
	}
	if created {
		t.Fatal("expected created=false on repeat ensure")
	}
	if db.Len("conversations") != 1 {
		t.Fatalf("expected 1 conversation, got %d", db.Len("conversations"))
	}

	// the original order reference is preserved
	item := db.Item("conversations", "buyer-1", "seller-1")
	if oid, ok := item["order_id"].(*types.AttributeValueMemberS); !ok || oid.Value != "order-1" {
		t.Fatalf("expected order-1 reference, got %+v", item["order_id"])
	}

	// a different pair gets its own thread
	created, err = s.Ensure(ctx, "buyer-1", "seller-2", "order-1")
	if err != nil || !created {
		t.Fatalf("expected new pair to create, got created=%v err=%v", created, err)
	}
}

func TestEnsure_RequiresParticipants(t *testing.T) {
	db := dynamock.New()
	db.AddTable("conversations", "buyer_id", "seller_id")
	s := NewStore(db, "conversations")

	if _, err := s.Ensure(context.Background(), "", "seller-1", "order-1"); err == nil {
		t.Fatal("expected error for missing buyer")
	}
	if _, err := s.Ensure(context.Background(), "buyer-1", "", "order-1"); err == nil {
		t.Fatal("expected error for missing seller")
	}
}
