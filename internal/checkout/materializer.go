package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	validatorv10 "github.com/go-playground/validator/v10"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/marketgrid/checkout-orderflow/internal/orders"
	"github.com/marketgrid/checkout-orderflow/internal/validation"
)

// Materializer turns a completed checkout session into exactly one order and
// its line items, no matter how many times the event is delivered.
type Materializer struct {
	orders     *orders.Store
	reconciler *Reconciler
	dispatcher Dispatcher // may be nil
	validate   *validatorv10.Validate
}

// NewMaterializer wires the materialization pipeline. dispatcher may be nil
// when side effects are disabled (local runs, tests).
func NewMaterializer(ordersStore *orders.Store, reconciler *Reconciler, dispatcher Dispatcher, v *validatorv10.Validate) *Materializer {
	return &Materializer{
		orders:     ordersStore,
		reconciler: reconciler,
		dispatcher: dispatcher,
		validate:   v,
	}
}

// Result reports one materialization pass.
type Result struct {
	OrderID       string
	Created       bool // false on a repeat delivery that found the order
	ItemsInserted int
	Unresolved    int
}

// Materialize runs the full pipeline: extract, upsert order, reconcile line
// items, dispatch side effects. Every step is idempotent or tolerant of the
// previous delivery's partial progress, so redeliveries converge on the same
// persisted state. The session must already be verified and routed.
func (m *Materializer) Materialize(ctx context.Context, session *stripe.CheckoutSession) (*Result, error) {
	buyerID := session.ClientReferenceID
	if buyerID == "" {
		buyerID = session.Metadata["user_id"]
	}
	if buyerID == "" {
		return nil, fmt.Errorf("%w: no buyer reference", ErrInvalidSession)
	}

	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		return nil, fmt.Errorf("%w: no payment intent", ErrInvalidSession)
	}
	paymentIntentID := session.PaymentIntent.ID

	manifest, err := validation.ParseManifest(session.Metadata["items_json"], m.validate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	order, created, err := m.orders.UpsertByPaymentIntent(ctx, orders.OrderDraft{
		PaymentIntentID:   paymentIntentID,
		CheckoutSessionID: session.ID,
		BuyerID:           buyerID,
		TotalAmount:       float64(session.AmountTotal) / 100,
		ShippingAddress:   shippingSnapshot(session),
	})
	if err != nil {
		return nil, err
	}
	if !created {
		log.Printf("[materialize] repeat delivery for intent=%s order=%s", paymentIntentID, order.OrderID)
	}

	rec, err := m.reconciler.Reconcile(ctx, order.OrderID, manifest)
	if err != nil {
		return nil, err
	}

	// Side effects never block or fail the order. Dispatch only when this
	// pass actually inserted lines; redeliveries that found everything in
	// place stay write-free end to end.
	if rec.Inserted > 0 && len(rec.SellerIDs) > 0 && m.dispatcher != nil {
		task := ConversationTask{
			OrderID:   order.OrderID,
			BuyerID:   buyerID,
			SellerIDs: rec.SellerIDs,
		}
		if derr := m.dispatcher.Dispatch(ctx, task); derr != nil {
			log.Printf("[materialize] conversation dispatch failed for order=%s: %v", order.OrderID, derr)
		}
	}

	return &Result{
		OrderID:       order.OrderID,
		Created:       created,
		ItemsInserted: rec.Inserted,
		Unresolved:    rec.Unresolved,
	}, nil
}

// shippingSnapshot captures the session's customer details as a JSON blob on
// the order. Absent details produce an empty snapshot.
func shippingSnapshot(session *stripe.CheckoutSession) string {
	details := session.CustomerDetails
	if details == nil || details.Address == nil {
		return ""
	}
	snapshot := map[string]interface{}{
		"name":  details.Name,
		"email": details.Email,
		"address": map[string]string{
			"city":        details.Address.City,
			"country":     details.Address.Country,
			"line1":       details.Address.Line1,
			"line2":       details.Address.Line2,
			"postal_code": details.Address.PostalCode,
			"state":       details.Address.State,
		},
	}
	b, err := json.Marshal(snapshot)
	if err != nil {
		return ""
	}
	return string(b)
}
