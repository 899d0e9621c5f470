package account

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"hl-grid-bot/internal/hl/rest"

	"go.uber.org/zap"
)

// Position is one open perp position as the clearinghouse reports it.
// Size keeps the exchange sign convention: positive long, negative short.
type Position struct {
	Symbol        string
	Size          float64
	EntryPrice    float64
	UnrealizedPnl float64
	Leverage      int
	MarginUsed    float64
	IsCross       bool
}

// LiveOrder is one resting order. Trigger orders carry IsTrigger and
// TriggerPx; plain limit orders leave both zero.
type LiveOrder struct {
	OrderID    int64
	Symbol     string
	IsBuy      bool
	Price      float64
	Size       float64
	ReduceOnly bool
	IsTrigger  bool
	TriggerPx  float64
	Cloid      string
}

// Snapshot is one consistent read of account state, fetched fresh per tick.
type Snapshot struct {
	Positions    map[string]Position
	Orders       []LiveOrder
	AccountValue float64
	Withdrawable float64
}

func (s *Snapshot) Position(symbol string) (Position, bool) {
	pos, ok := s.Positions[symbol]
	return pos, ok
}

func (s *Snapshot) OrdersFor(symbol string) []LiveOrder {
	var out []LiveOrder
	for _, order := range s.Orders {
		if order.Symbol == symbol {
			out = append(out, order)
		}
	}
	return out
}

type Account struct {
	rest *rest.Client
	log  *zap.Logger
	user string
}

func New(restClient *rest.Client, log *zap.Logger, user string) *Account {
	return &Account{rest: restClient, log: log, user: strings.TrimSpace(user)}
}

// Fetch pulls the clearinghouse state and open orders. frontendOpenOrders
// exposes reduceOnly and trigger fields that the plain openOrders endpoint
// omits; fall back to it only when the frontend variant fails.
func (a *Account) Fetch(ctx context.Context) (*Snapshot, error) {
	if a.rest == nil {
		return nil, errors.New("rest client is required")
	}
	if a.user == "" {
		return nil, errors.New("account user is required")
	}
	perp, err := a.rest.Info(ctx, rest.InfoRequest{Type: "clearinghouseState", User: a.user})
	if err != nil {
		return nil, err
	}
	orders, err := a.rest.InfoAny(ctx, rest.InfoRequest{Type: "frontendOpenOrders", User: a.user})
	if err != nil {
		if a.log != nil {
			a.log.Debug("frontendOpenOrders failed, falling back", zap.Error(err))
		}
		orders, err = a.rest.InfoAny(ctx, rest.InfoRequest{Type: "openOrders", User: a.user})
		if err != nil {
			return nil, err
		}
	}
	snap := &Snapshot{
		Positions:    parsePositions(perp),
		Orders:       parseOpenOrders(orders),
		AccountValue: accountValue(perp),
		Withdrawable: floatField(perp, "withdrawable"),
	}
	return snap, nil
}

func parsePositions(payload map[string]any) map[string]Position {
	result := make(map[string]Position)
	if payload == nil {
		return result
	}
	raw, ok := payload["assetPositions"].([]any)
	if !ok {
		return result
	}
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		posMap, ok := entry["position"].(map[string]any)
		if !ok {
			posMap = entry
		}
		symbol := stringFromAny(posMap["coin"])
		if symbol == "" {
			continue
		}
		size, ok := floatFromAny(posMap["szi"])
		if !ok || size == 0 {
			continue
		}
		pos := Position{
			Symbol:        symbol,
			Size:          size,
			EntryPrice:    floatField(posMap, "entryPx"),
			UnrealizedPnl: floatField(posMap, "unrealizedPnl"),
			MarginUsed:    floatField(posMap, "marginUsed"),
		}
		if lev, ok := posMap["leverage"].(map[string]any); ok {
			pos.Leverage = int(floatField(lev, "value"))
			pos.IsCross = stringFromAny(lev["type"]) == "cross"
		}
		result[symbol] = pos
	}
	return result
}

func parseOpenOrders(payload any) []LiveOrder {
	items, ok := payload.([]any)
	if !ok {
		return nil
	}
	orders := make([]LiveOrder, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		// frontendOpenOrders nests the order under "order" for TWAP slices;
		// plain entries are flat.
		if nested, ok := entry["order"].(map[string]any); ok {
			entry = nested
		}
		symbol := stringFromAny(entry["coin"])
		oid := int64(floatField(entry, "oid"))
		if symbol == "" || oid == 0 {
			continue
		}
		order := LiveOrder{
			OrderID: oid,
			Symbol:  symbol,
			IsBuy:   stringFromAny(entry["side"]) == "B",
			Price:   floatField(entry, "limitPx"),
			Size:    floatField(entry, "sz"),
			Cloid:   stringFromAny(entry["cloid"]),
		}
		if v, ok := entry["reduceOnly"].(bool); ok {
			order.ReduceOnly = v
		}
		if v, ok := entry["isTrigger"].(bool); ok {
			order.IsTrigger = v
		}
		if order.IsTrigger {
			order.TriggerPx = floatField(entry, "triggerPx")
		}
		orders = append(orders, order)
	}
	return orders
}

func accountValue(payload map[string]any) float64 {
	if payload == nil {
		return 0
	}
	if summary, ok := payload["marginSummary"].(map[string]any); ok {
		return floatField(summary, "accountValue")
	}
	return 0
}

func floatField(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if f, ok := floatFromAny(v); ok {
			return f
		}
	}
	return 0
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
