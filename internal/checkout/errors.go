package checkout

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
)

var (
	// ErrInvalidSession indicates the session lacks fields materialization
	// cannot proceed without (buyer reference, payment intent id).
	ErrInvalidSession = errors.New("checkout session missing required fields")

	// ErrInvalidManifest indicates the embedded item manifest is missing or
	// malformed. Nothing is partially materialized in that case.
	ErrInvalidManifest = errors.New("invalid item manifest")

	// ErrSellerUnresolved is returned under the reject policy when a manifest
	// line's product no longer resolves to any seller.
	ErrSellerUnresolved = errors.New("manifest line resolves to no seller")
)

// IsClientFault reports whether the error is a payload/contract problem the
// provider should not retry. These map to HTTP 400.
func IsClientFault(err error) bool {
	return errors.Is(err, ErrInvalidSession) || errors.Is(err, ErrInvalidManifest)
}

// transientCodes are store/network fault codes that provider redelivery is
// expected to recover from.
var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"LimitExceededException":                 true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"TransactionConflictException":           true,
	"TransactionInProgressException":         true,
}

// IsTransient classifies a materialization failure for logging and metrics.
// Transient or not, the HTTP layer still answers 5xx: the provider's retry is
// the recovery mechanism either way, and silently swallowing an unexpected
// fault would stop retries for a condition that may well be recoverable.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return transientCodes[apiErr.ErrorCode()]
	}
	return false
}
