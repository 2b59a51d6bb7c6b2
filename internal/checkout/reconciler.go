package checkout

import (
	"context"
	"fmt"
	"log"

	"github.com/marketgrid/checkout-orderflow/internal/orders"
	"github.com/marketgrid/checkout-orderflow/internal/products"
	"github.com/marketgrid/checkout-orderflow/internal/validation"
)

// UnknownSellerPolicy decides what happens to a manifest line whose product
// no longer resolves to a seller (deleted or transferred product).
type UnknownSellerPolicy string

const (
	// RecordUnattributed persists the line with no seller id and a
	// seller_unresolved flag for manual follow-up. The buyer's order survives.
	RecordUnattributed UnknownSellerPolicy = "record"
	// RejectUnattributed fails the whole materialization instead.
	RejectUnattributed UnknownSellerPolicy = "reject"
)

// ParseUnknownSellerPolicy maps a config string to a policy.
// Empty input selects RecordUnattributed.
func ParseUnknownSellerPolicy(s string) (UnknownSellerPolicy, error) {
	switch UnknownSellerPolicy(s) {
	case "":
		return RecordUnattributed, nil
	case RecordUnattributed, RejectUnattributed:
		return UnknownSellerPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown seller policy %q", s)
	}
}

// Reconciler brings the order_items rows for an order in line with a manifest.
// It only ever adds rows: items are written once at materialization time and
// never updated or deleted here.
type Reconciler struct {
	orders   *orders.Store
	products *products.Store
	policy   UnknownSellerPolicy
}

// NewReconciler creates a Reconciler with the given unknown-seller policy.
func NewReconciler(ordersStore *orders.Store, productsStore *products.Store, policy UnknownSellerPolicy) *Reconciler {
	return &Reconciler{
		orders:   ordersStore,
		products: productsStore,
		policy:   policy,
	}
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Inserted   int      // rows written by this pass
	Unresolved int      // lines persisted without seller attribution
	SellerIDs  []string // distinct sellers of the newly inserted lines
}

// Reconcile inserts the manifest lines not yet recorded against the order.
//
// The steady state on a retried delivery is the empty subtraction: everything
// already persisted, zero work, zero writes. When lines are missing their
// sellers are resolved in one batched lookup and the rows written with
// conditional inserts, so a concurrent duplicate delivery racing past the
// pre-check is absorbed by the store's uniqueness, not treated as a failure.
func (r *Reconciler) Reconcile(ctx context.Context, orderID string, manifest *validation.Manifest) (*ReconcileResult, error) {
	existing, err := r.orders.ListItemProductIDs(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list existing items: %w", err)
	}

	var missing []validation.ManifestLine
	for _, line := range manifest.Lines {
		if !existing[line.ProductID] {
			missing = append(missing, line)
		}
	}
	if len(missing) == 0 {
		return &ReconcileResult{}, nil
	}

	ids := make([]string, 0, len(missing))
	for _, line := range missing {
		ids = append(ids, line.ProductID)
	}
	sellers, err := r.products.SellersFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve sellers: %w", err)
	}

	result := &ReconcileResult{}
	items := make([]orders.OrderItem, 0, len(missing))
	sellerSet := map[string]bool{}
	for _, line := range missing {
		item := orders.OrderItem{
			OrderID:   orderID,
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
		sellerID, ok := sellers[line.ProductID]
		if !ok {
			if r.policy == RejectUnattributed {
				return nil, fmt.Errorf("%w: product %s", ErrSellerUnresolved, line.ProductID)
			}
			log.Printf("[reconcile] order=%s product=%s has no seller, recording unattributed", orderID, line.ProductID)
			item.SellerUnresolved = true
			result.Unresolved++
		} else {
			item.SellerID = sellerID
			if !sellerSet[sellerID] {
				sellerSet[sellerID] = true
				result.SellerIDs = append(result.SellerIDs, sellerID)
			}
		}
		items = append(items, item)
	}

	inserted, err := r.orders.InsertItems(ctx, items)
	if err != nil {
		return nil, err
	}
	result.Inserted = inserted
	return result, nil
}
