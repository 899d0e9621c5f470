package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hl-grid-bot/internal/hl/exchange"
	"hl-grid-bot/internal/state"

	"go.uber.org/zap"
)

// Order is the executor-level order. A positive TriggerPrice makes it a
// trigger order; otherwise it goes out as a plain limit.
type Order struct {
	Asset         int
	IsBuy         bool
	Size          float64
	LimitPrice    float64
	ReduceOnly    bool
	Tif           exchange.Tif
	TriggerPrice  float64
	Tpsl          exchange.Tpsl
	MarketTrigger bool
	ClientOrderID string
}

type Cancel struct {
	Asset   int
	OrderID int64
}

type Gateway interface {
	PlaceOrder(ctx context.Context, order exchange.OrderWire) (map[string]any, error)
	CancelOrder(ctx context.Context, asset int, orderID int64) (map[string]any, error)
	UpdateLeverage(ctx context.Context, asset, leverage int, isCross bool) (map[string]any, error)
}

// Executor wraps the exchange gateway with bounded retry and a
// client-order-id cache so a crashed-and-restarted process never
// double-places the same logical order.
type Executor struct {
	gateway Gateway
	store   state.Store
	log     *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

func New(gateway Gateway, store state.Store, log *zap.Logger) *Executor {
	return &Executor{
		gateway: gateway,
		store:   store,
		log:     log,
		cache:   make(map[string]string),
	}
}

func (e *Executor) PlaceOrder(ctx context.Context, order Order) (string, error) {
	if order.ClientOrderID == "" {
		return e.placeWithRetry(ctx, order)
	}
	cacheKey := "cloid:" + order.ClientOrderID
	e.mu.Lock()
	if oid, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return oid, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if oid, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return "", err
		} else if ok {
			e.mu.Lock()
			e.cache[cacheKey] = oid
			e.mu.Unlock()
			return oid, nil
		}
	}
	orderID, err := e.placeWithRetry(ctx, order)
	if err != nil {
		return "", err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, orderID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.mu.Unlock()
	return orderID, nil
}

func (e *Executor) CancelOrder(ctx context.Context, cancel Cancel) error {
	return e.retry(ctx, func() error {
		_, err := e.gateway.CancelOrder(ctx, cancel.Asset, cancel.OrderID)
		return err
	})
}

func (e *Executor) UpdateLeverage(ctx context.Context, asset, leverage int, isCross bool) error {
	return e.retry(ctx, func() error {
		_, err := e.gateway.UpdateLeverage(ctx, asset, leverage, isCross)
		return err
	})
}

func (e *Executor) placeWithRetry(ctx context.Context, order Order) (string, error) {
	wire, err := orderToWire(order)
	if err != nil {
		return "", err
	}
	var orderID string
	err = e.retry(ctx, func() error {
		resp, err := e.gateway.PlaceOrder(ctx, wire)
		if err != nil {
			return err
		}
		orderID = exchange.OrderIDFromResponse(resp)
		return nil
	})
	if err != nil {
		return "", err
	}
	if orderID == "" {
		return "", errors.New("empty order id")
	}
	return orderID, nil
}

func orderToWire(order Order) (exchange.OrderWire, error) {
	if order.TriggerPrice > 0 {
		return exchange.TriggerOrderWire(
			order.Asset, order.IsBuy, order.Size, order.LimitPrice,
			order.TriggerPrice, order.MarketTrigger, order.Tpsl,
			order.ReduceOnly, order.ClientOrderID,
		)
	}
	tif := order.Tif
	if tif == "" {
		tif = exchange.TifGtc
	}
	return exchange.LimitOrderWire(
		order.Asset, order.IsBuy, order.Size, order.LimitPrice,
		order.ReduceOnly, tif, order.ClientOrderID,
	)
}

// retry runs fn with exponential backoff. A rejection is final: the intent
// gets dropped for this tick and re-derived on the next one, so replaying
// it against the exchange would only burn rate limit.
func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var reject *exchange.RejectError
		if errors.As(err, &reject) {
			return err
		}
		if attempt == 4 {
			return fmt.Errorf("retry failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}
