package stripewebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

const eventJSON = `{"id":"evt_1","object":"event","api_version":"2025-11-17","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1"}}}`

// signHeader builds a provider-format signature header: HMAC-SHA256 over
// "<timestamp>.<payload>".
func signHeader(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestNewVerifier_RequiresSecrets(t *testing.T) {
	if _, err := NewVerifier(nil); err == nil {
		t.Fatal("expected error for no secrets")
	}
	if _, err := NewVerifier([]string{"whsec_a", ""}); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func TestVerify_ValidSignature(t *testing.T) {
	v, err := NewVerifier([]string{"whsec_current"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	payload := []byte(eventJSON)
	event, err := v.Verify(payload, signHeader(payload, "whsec_current", time.Now()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if string(event.Type) != "checkout.session.completed" {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if event.ID != "evt_1" {
		t.Fatalf("unexpected event id %q", event.ID)
	}
}

func TestVerify_SecretRotation(t *testing.T) {
	// old secret still configured first, signature made with the new one
	v, err := NewVerifier([]string{"whsec_old", "whsec_new"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	payload := []byte(eventJSON)
	if _, err := v.Verify(payload, signHeader(payload, "whsec_new", time.Now())); err != nil {
		t.Fatalf("rotation: signature under second secret rejected: %v", err)
	}
	if _, err := v.Verify(payload, signHeader(payload, "whsec_old", time.Now())); err != nil {
		t.Fatalf("rotation: signature under first secret rejected: %v", err)
	}
}

func TestVerify_RejectsBadSignature(t *testing.T) {
	v, _ := NewVerifier([]string{"whsec_current"})
	payload := []byte(eventJSON)

	if _, err := v.Verify(payload, signHeader(payload, "whsec_wrong", time.Now())); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if _, err := v.Verify(payload, ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for missing header, got %v", err)
	}

	// a tampered body must not verify even with a once-valid header
	header := signHeader(payload, "whsec_current", time.Now())
	tampered := []byte(`{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)
	if _, err := v.Verify(tampered, header); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for tampered body, got %v", err)
	}
}

func TestVerify_RejectsStaleTimestamp(t *testing.T) {
	v, _ := NewVerifier([]string{"whsec_current"})
	payload := []byte(eventJSON)

	stale := signHeader(payload, "whsec_current", time.Now().Add(-time.Hour))
	if _, err := v.Verify(payload, stale); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for stale signature, got %v", err)
	}
}
