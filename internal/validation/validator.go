package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// register struct-level validation for Manifest: two lines for the same
	// product id cannot both be materialized under the per-order product
	// uniqueness constraint, so reject the manifest outright.
	v.RegisterStructValidation(manifestStructValidation, Manifest{})

	return v
}

func manifestStructValidation(sl validatorv10.StructLevel) {
	m := sl.Current().Interface().(Manifest)

	seen := map[string]bool{}
	for _, line := range m.Lines {
		if seen[line.ProductID] {
			sl.ReportError(m.Lines, "lines", "Lines", "unique_product_ids", line.ProductID)
			return
		}
		seen[line.ProductID] = true
	}
}
