package exec

import (
	"context"
	"errors"
	"sync"
	"testing"

	"hl-grid-bot/internal/hl/exchange"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type mockGateway struct {
	mu         sync.Mutex
	placeCalls int
	orderID    float64
	placeErr   error
	lastWire   exchange.OrderWire
}

func (m *mockGateway) PlaceOrder(ctx context.Context, order exchange.OrderWire) (map[string]any, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeCalls++
	m.lastWire = order
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	return map[string]any{
		"status": "ok",
		"response": map[string]any{
			"data": map[string]any{
				"statuses": []any{
					map[string]any{"resting": map[string]any{"oid": m.orderID}},
				},
			},
		},
	}, nil
}

func (m *mockGateway) CancelOrder(ctx context.Context, asset int, orderID int64) (map[string]any, error) {
	_, _, _ = ctx, asset, orderID
	return map[string]any{"status": "ok"}, nil
}

func (m *mockGateway) UpdateLeverage(ctx context.Context, asset, leverage int, isCross bool) (map[string]any, error) {
	_, _, _, _ = ctx, asset, leverage, isCross
	return map[string]any{"status": "ok"}, nil
}

func TestExecutorIdempotentPlacement(t *testing.T) {
	store := newMemoryStore()
	gateway := &mockGateway{orderID: 101}
	logger := zap.NewNop()
	executor := New(gateway, store, logger)

	ctx := context.Background()
	order := Order{Asset: 1, IsBuy: true, Size: 1, LimitPrice: 3.5, ClientOrderID: "abc"}

	id1, err := executor.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := executor.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same order id, got %s and %s", id1, id2)
	}
	if gateway.placeCalls != 1 {
		t.Fatalf("expected 1 gateway call, got %d", gateway.placeCalls)
	}

	gateway2 := &mockGateway{orderID: 202}
	executor2 := New(gateway2, store, logger)
	id3, err := executor2.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id3 != id1 {
		t.Fatalf("expected stored order id %s, got %s", id1, id3)
	}
	if gateway2.placeCalls != 0 {
		t.Fatalf("expected no gateway calls on restart, got %d", gateway2.placeCalls)
	}
}

func TestExecutorRejectionNotRetried(t *testing.T) {
	gateway := &mockGateway{placeErr: &exchange.RejectError{Reason: "Order must have minimum value of $10."}}
	executor := New(gateway, nil, zap.NewNop())

	_, err := executor.PlaceOrder(context.Background(), Order{Asset: 1, IsBuy: true, Size: 1, LimitPrice: 3.5})
	var reject *exchange.RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("expected RejectError, got %v", err)
	}
	if gateway.placeCalls != 1 {
		t.Fatalf("rejection must not be retried, got %d calls", gateway.placeCalls)
	}
}

func TestExecutorBuildsTriggerWire(t *testing.T) {
	gateway := &mockGateway{orderID: 5}
	executor := New(gateway, nil, zap.NewNop())

	order := Order{
		Asset:         2,
		IsBuy:         false,
		Size:          10,
		LimitPrice:    3.40,
		TriggerPrice:  3.45,
		Tpsl:          exchange.TpslTakeProfit,
		MarketTrigger: true,
		ReduceOnly:    true,
	}
	if _, err := executor.PlaceOrder(context.Background(), order); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wire := gateway.lastWire
	if wire.OrderType.Trigger == nil {
		t.Fatalf("expected trigger order type, got %+v", wire.OrderType)
	}
	if wire.OrderType.Trigger.TriggerPx != "3.45" || wire.OrderType.Trigger.Tpsl != exchange.TpslTakeProfit {
		t.Fatalf("unexpected trigger wire: %+v", wire.OrderType.Trigger)
	}
	if !wire.ReduceOnly {
		t.Fatalf("expected reduce-only wire")
	}
}

func TestExecutorDefaultsToGtcLimit(t *testing.T) {
	gateway := &mockGateway{orderID: 6}
	executor := New(gateway, nil, zap.NewNop())

	if _, err := executor.PlaceOrder(context.Background(), Order{Asset: 1, IsBuy: true, Size: 2, LimitPrice: 1.5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wire := gateway.lastWire
	if wire.OrderType.Limit == nil || wire.OrderType.Limit.Tif != exchange.TifGtc {
		t.Fatalf("expected Gtc limit wire, got %+v", wire.OrderType)
	}
}
