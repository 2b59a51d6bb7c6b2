package stripewebhook

import (
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrBadSignature indicates the payload could not be authenticated against
// any configured secret (or the signature header was missing). This is a
// client-input failure: callers respond 400 and never touch the store.
var ErrBadSignature = errors.New("webhook signature verification failed")

// Verifier authenticates raw webhook payloads. It holds an ordered list of
// signing secrets so rotation can run without downtime: a signature valid
// under any configured secret is accepted.
type Verifier struct {
	secrets []string
}

// NewVerifier returns a Verifier over the given secrets. At least one secret
// is required.
func NewVerifier(secrets []string) (*Verifier, error) {
	if len(secrets) == 0 {
		return nil, errors.New("stripewebhook: at least one signing secret required")
	}
	for _, s := range secrets {
		if s == "" {
			return nil, errors.New("stripewebhook: empty signing secret configured")
		}
	}
	return &Verifier{secrets: secrets}, nil
}

// Verify checks payload against sigHeader and returns the typed event on
// success. The payload must be the raw request body, byte for byte:
// re-serializing it before verification breaks the HMAC match.
func (v *Verifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if sigHeader == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing signature header", ErrBadSignature)
	}

	var lastErr error
	for _, secret := range v.secrets {
		event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err == nil {
			return event, nil
		}
		lastErr = err
	}
	return stripe.Event{}, fmt.Errorf("%w: %v", ErrBadSignature, lastErr)
}
