package exchange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

func LimitOrderWire(asset int, isBuy bool, size, limit float64, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	price, err := floatToWire(limit)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	sizeWire, err := floatToWire(size)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

// TriggerOrderWire builds a stop or take-profit order that rests server-side
// and fires when the mark crosses triggerPx. The limit price doubles as the
// slippage bound when isMarket is set.
func TriggerOrderWire(asset int, isBuy bool, size, limit, triggerPx float64, isMarket bool, tpsl Tpsl, reduceOnly bool, cloid string) (OrderWire, error) {
	if tpsl != TpslTakeProfit && tpsl != TpslStopLoss {
		return OrderWire{}, fmt.Errorf("invalid tpsl %q", tpsl)
	}
	price, err := floatToWire(limit)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	trigger, err := floatToWire(triggerPx)
	if err != nil {
		return OrderWire{}, fmt.Errorf("trigger price: %w", err)
	}
	sizeWire, err := floatToWire(size)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType: OrderTypeWire{Trigger: &TriggerOrderType{
			IsMarket:  isMarket,
			TriggerPx: trigger,
			Tpsl:      tpsl,
		}},
		Cloid: cloid,
	}, nil
}

func floatToWire(x float64) (string, error) {
	rounded := fmt.Sprintf("%.8f", x)
	parsed, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		return "", err
	}
	if math.Abs(parsed-x) >= 1e-12 {
		return "", fmt.Errorf("float_to_wire causes rounding: %f", x)
	}
	trimmed := strings.TrimRight(rounded, "0")
	trimmed = strings.TrimRight(trimmed, ".")
	if trimmed == "" || trimmed == "-0" {
		trimmed = "0"
	}
	return trimmed, nil
}
