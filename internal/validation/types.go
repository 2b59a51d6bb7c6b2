package validation

// ManifestLine is one purchased item carried in the checkout session
// metadata (`items_json`). Field names mirror the JSON the checkout flow
// writes into the session.
type ManifestLine struct {
	ProductID string  `json:"id" validate:"required"`         // product reference
	VariantID string  `json:"variantId,omitempty"`            // optional product variant
	Quantity  int     `json:"qty" validate:"required,min=1"`  // must be >= 1
	UnitPrice float64 `json:"price" validate:"required,gt=0"` // price per unit at checkout time
}

// Manifest is the decoded item list for one checkout session.
type Manifest struct {
	Lines []ManifestLine `validate:"required,min=1,dive"`
}

// ProductIDs returns the product id of every line, in manifest order.
func (m *Manifest) ProductIDs() []string {
	ids := make([]string, 0, len(m.Lines))
	for _, line := range m.Lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}
