package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/marketgrid/checkout-orderflow/internal/orders"
	"github.com/marketgrid/checkout-orderflow/internal/products"
	"github.com/marketgrid/checkout-orderflow/internal/testsupport/dynamock"
	"github.com/marketgrid/checkout-orderflow/internal/validation"
)

type recordingDispatcher struct {
	tasks    []ConversationTask
	failWith error
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, task ConversationTask) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.tasks = append(r.tasks, task)
	return nil
}

type fixture struct {
	db         *dynamock.DB
	dispatcher *recordingDispatcher
	mat        *Materializer
}

func newFixture(t *testing.T, policy UnknownSellerPolicy) *fixture {
	t.Helper()
	db := dynamock.New()
	db.AddTable("orders", "payment_intent_id")
	db.AddTable("order_items", "order_id", "product_id")
	db.AddTable("products", "product_id")

	db.Seed("products", map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: "prod-1"},
		"seller_id":  &types.AttributeValueMemberS{Value: "seller-1"},
	})
	db.Seed("products", map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: "prod-2"},
		"seller_id":  &types.AttributeValueMemberS{Value: "seller-2"},
	})

	ordersStore := orders.NewStore(db, "orders", "order_items")
	productsStore := products.NewStore(db, "products")
	dispatcher := &recordingDispatcher{}
	mat := NewMaterializer(ordersStore,
		NewReconciler(ordersStore, productsStore, policy),
		dispatcher,
		validation.New())
	return &fixture{db: db, dispatcher: dispatcher, mat: mat}
}

func session(itemsJSON string) *stripe.CheckoutSession {
	return &stripe.CheckoutSession{
		ID:                "cs_test_1",
		ClientReferenceID: "buyer-1",
		AmountTotal:       2599,
		PaymentIntent:     &stripe.PaymentIntent{ID: "pi_test_1"},
		Metadata:          map[string]string{"items_json": itemsJSON},
	}
}

func TestMaterialize_DoubleDeliveryConverges(t *testing.T) {
	f := newFixture(t, RecordUnattributed)
	ctx := context.Background()
	sess := session(`[{"id":"prod-1","qty":1,"price":25.99}]`)

	first, err := f.mat.Materialize(ctx, sess)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if !first.Created || first.ItemsInserted != 1 {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if f.db.UpdateCalls != 1 || f.db.TransactCalls != 1 {
		t.Fatalf("expected 1 upsert + 1 item insert call, got %d/%d", f.db.UpdateCalls, f.db.TransactCalls)
	}

	second, err := f.mat.Materialize(ctx, sess)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Created {
		t.Fatal("repeat delivery must not report a fresh order")
	}
	if second.OrderID != first.OrderID {
		t.Fatalf("order id changed across deliveries: %s vs %s", first.OrderID, second.OrderID)
	}
	if second.ItemsInserted != 0 {
		t.Fatalf("repeat delivery inserted %d items", second.ItemsInserted)
	}

	// upsert runs again, item insert does not
	if f.db.UpdateCalls != 2 {
		t.Fatalf("expected 2 cumulative upsert calls, got %d", f.db.UpdateCalls)
	}
	if f.db.TransactCalls != 1 {
		t.Fatalf("expected item insert call count to stay at 1, got %d", f.db.TransactCalls)
	}
	if f.db.Len("orders") != 1 || f.db.Len("order_items") != 1 {
		t.Fatalf("expected 1 order and 1 item, got %d/%d", f.db.Len("orders"), f.db.Len("order_items"))
	}

	// side effects fire once, on the inserting pass
	if len(f.dispatcher.tasks) != 1 {
		t.Fatalf("expected 1 dispatched task, got %d", len(f.dispatcher.tasks))
	}
	task := f.dispatcher.tasks[0]
	if task.BuyerID != "buyer-1" || len(task.SellerIDs) != 1 || task.SellerIDs[0] != "seller-1" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestMaterialize_ResumesAfterPartialFailure(t *testing.T) {
	f := newFixture(t, RecordUnattributed)
	ctx := context.Background()

	// simulate a prior delivery that died after the order upsert but before
	// any line item was written
	ordersStore := orders.NewStore(f.db, "orders", "order_items")
	prior, _, err := ordersStore.UpsertByPaymentIntent(ctx, orders.OrderDraft{
		PaymentIntentID: "pi_test_1",
		BuyerID:         "buyer-1",
		TotalAmount:     35.99,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}

	result, err := f.mat.Materialize(ctx, session(`[{"id":"prod-1","qty":1,"price":25.99},{"id":"prod-2","qty":1,"price":10.00}]`))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if result.Created {
		t.Fatal("redelivery must reuse the existing order")
	}
	if result.OrderID != prior.OrderID {
		t.Fatalf("expected order %s, got %s", prior.OrderID, result.OrderID)
	}
	if result.ItemsInserted != 2 {
		t.Fatalf("expected the missing items to be inserted, got %d", result.ItemsInserted)
	}
	if f.db.Len("orders") != 1 || f.db.Len("order_items") != 2 {
		t.Fatalf("unexpected store state: %d orders, %d items", f.db.Len("orders"), f.db.Len("order_items"))
	}
}

func TestMaterialize_InvalidManifestTouchesNothing(t *testing.T) {
	for _, itemsJSON := range []string{"", "not json", `[]`, `[{"id":"prod-1","qty":0,"price":1}]`} {
		f := newFixture(t, RecordUnattributed)
		_, err := f.mat.Materialize(context.Background(), session(itemsJSON))
		if !errors.Is(err, ErrInvalidManifest) {
			t.Fatalf("items_json=%q: expected ErrInvalidManifest, got %v", itemsJSON, err)
		}
		if !IsClientFault(err) {
			t.Fatalf("items_json=%q: manifest errors are client faults", itemsJSON)
		}
		if f.db.UpdateCalls+f.db.TransactCalls+f.db.PutCalls != 0 {
			t.Fatalf("items_json=%q: invalid manifest must not write", itemsJSON)
		}
	}
}

func TestMaterialize_MissingSessionFields(t *testing.T) {
	f := newFixture(t, RecordUnattributed)

	noBuyer := session(`[{"id":"prod-1","qty":1,"price":1}]`)
	noBuyer.ClientReferenceID = ""
	if _, err := f.mat.Materialize(context.Background(), noBuyer); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession for missing buyer, got %v", err)
	}

	// metadata fallback keeps sessions created by older checkout clients working
	noBuyer.Metadata["user_id"] = "buyer-9"
	if _, err := f.mat.Materialize(context.Background(), noBuyer); err != nil {
		t.Fatalf("metadata buyer fallback failed: %v", err)
	}

	noIntent := session(`[{"id":"prod-1","qty":1,"price":1}]`)
	noIntent.PaymentIntent = nil
	if _, err := f.mat.Materialize(context.Background(), noIntent); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession for missing intent, got %v", err)
	}
}

func TestMaterialize_UnknownSellerRecorded(t *testing.T) {
	f := newFixture(t, RecordUnattributed)

	result, err := f.mat.Materialize(context.Background(),
		session(`[{"id":"prod-gone","qty":1,"price":9.99}]`))
	if err != nil {
		t.Fatalf("record policy must not fail the order: %v", err)
	}
	if result.ItemsInserted != 1 || result.Unresolved != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	item := f.db.Item("order_items", result.OrderID, "prod-gone")
	if item == nil {
		t.Fatal("unattributed line not persisted")
	}
	if _, hasSeller := item["seller_id"]; hasSeller {
		t.Fatal("unattributed line must not carry a seller id")
	}
	if flag, ok := item["seller_unresolved"].(*types.AttributeValueMemberBOOL); !ok || !flag.Value {
		t.Fatal("unattributed line must be flagged for follow-up")
	}
	if len(f.dispatcher.tasks) != 0 {
		t.Fatal("no conversation task without a resolved seller")
	}
}

func TestMaterialize_UnknownSellerRejected(t *testing.T) {
	f := newFixture(t, RejectUnattributed)

	_, err := f.mat.Materialize(context.Background(),
		session(`[{"id":"prod-gone","qty":1,"price":9.99}]`))
	if !errors.Is(err, ErrSellerUnresolved) {
		t.Fatalf("expected ErrSellerUnresolved, got %v", err)
	}
	if f.db.Len("order_items") != 0 {
		t.Fatal("reject policy must not persist items")
	}
	// the order row exists (it is upserted first) and redelivery converges on it
	if f.db.Len("orders") != 1 {
		t.Fatal("expected the order upsert to have happened")
	}
}

func TestMaterialize_DispatchFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(t, RecordUnattributed)
	f.dispatcher.failWith = errors.New("queue down")

	result, err := f.mat.Materialize(context.Background(),
		session(`[{"id":"prod-1","qty":1,"price":25.99}]`))
	if err != nil {
		t.Fatalf("dispatch failure must be swallowed: %v", err)
	}
	if result.ItemsInserted != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
