package validation

import (
	"encoding/json"
	"errors"
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"
)

// ParseManifest decodes and validates the JSON item manifest embedded in
// checkout session metadata. It fails closed: a missing, malformed or
// partially-shaped manifest is an error, never a partial result.
func ParseManifest(raw string, v *validatorv10.Validate) (*Manifest, error) {
	if raw == "" {
		return nil, errors.New("manifest missing from session metadata")
	}

	var lines []ManifestLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	m := &Manifest{Lines: lines}
	if err := v.Struct(m); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	return m, nil
}
