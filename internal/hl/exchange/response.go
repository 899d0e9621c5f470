package exchange

import (
	"fmt"
	"strconv"
)

// RejectError is an order the API accepted at the HTTP layer but rejected
// in the per-order status list. Not retryable.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

// CheckResponse digs through the nested action response for a rejection.
// A 200 from the API still carries per-order errors at
// response.data.statuses[i].error, and the envelope itself can be
// status:"err" with a plain string body.
func CheckResponse(resp map[string]any) error {
	if resp == nil {
		return nil
	}
	if status, ok := resp["status"].(string); ok && status != "ok" {
		if reason, ok := resp["response"].(string); ok && reason != "" {
			return &RejectError{Reason: reason}
		}
		return &RejectError{Reason: status}
	}
	inner, ok := resp["response"].(map[string]any)
	if !ok {
		return nil
	}
	data, ok := inner["data"].(map[string]any)
	if !ok {
		return nil
	}
	statuses, ok := data["statuses"].([]any)
	if !ok {
		return nil
	}
	for _, status := range statuses {
		m, ok := status.(map[string]any)
		if !ok {
			continue
		}
		if reason, ok := m["error"].(string); ok && reason != "" {
			return &RejectError{Reason: reason}
		}
	}
	return nil
}

func OrderIDFromResponse(resp map[string]any) string {
	if resp == nil {
		return ""
	}
	return orderIDFromAny(resp)
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func orderIDFromAny(v any) string {
	switch val := v.(type) {
	case map[string]any:
		for _, key := range []string{"orderId", "orderID", "oid", "id"} {
			if id := stringFromAny(val[key]); id != "" {
				return id
			}
		}
		for _, nested := range val {
			if id := orderIDFromAny(nested); id != "" {
				return id
			}
		}
	case []any:
		for _, nested := range val {
			if id := orderIDFromAny(nested); id != "" {
				return id
			}
		}
	}
	return ""
}
