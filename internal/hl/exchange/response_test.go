package exchange

import (
	"errors"
	"testing"
)

func TestOrderIDFromResponseStatusFilled(t *testing.T) {
	resp := map[string]any{
		"status": "ok",
		"response": map[string]any{
			"type": "order",
			"data": map[string]any{
				"statuses": []any{
					map[string]any{
						"filled": map[string]any{
							"oid":   float64(292577153770),
							"cloid": "0x188a0f9ee162351d6d6af5b09b97b1c7",
						},
					},
				},
			},
		},
	}
	got := OrderIDFromResponse(resp)
	if got != "292577153770" {
		t.Fatalf("expected order id 292577153770, got %s", got)
	}
	if err := CheckResponse(resp); err != nil {
		t.Fatalf("clean response must pass: %v", err)
	}
}

func TestCheckResponseNestedError(t *testing.T) {
	resp := map[string]any{
		"status": "ok",
		"response": map[string]any{
			"type": "order",
			"data": map[string]any{
				"statuses": []any{
					map[string]any{
						"error": "Order must have minimum value of $10.",
					},
				},
			},
		},
	}
	err := CheckResponse(resp)
	var reject *RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("expected RejectError, got %v", err)
	}
	if reject.Reason != "Order must have minimum value of $10." {
		t.Fatalf("unexpected reason %q", reject.Reason)
	}
}

func TestCheckResponseEnvelopeError(t *testing.T) {
	resp := map[string]any{
		"status":   "err",
		"response": "Invalid nonce",
	}
	err := CheckResponse(resp)
	var reject *RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("expected RejectError, got %v", err)
	}
	if reject.Reason != "Invalid nonce" {
		t.Fatalf("unexpected reason %q", reject.Reason)
	}
}

func TestCheckResponseNil(t *testing.T) {
	if err := CheckResponse(nil); err != nil {
		t.Fatalf("nil response must pass: %v", err)
	}
}
