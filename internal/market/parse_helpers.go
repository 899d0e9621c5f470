package market

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

func parsePerpContexts(payload any) (map[string]PerpContext, error) {
	universe, ctxs := extractUniverseAndCtxs(payload)
	if len(universe) == 0 {
		return nil, errors.New("metaAndAssetCtxs missing universe")
	}
	result := make(map[string]PerpContext)
	for i, entry := range universe {
		meta, ok := toMap(entry)
		if !ok {
			continue
		}
		name := stringFromMap(meta, "name", "coin", "symbol")
		if name == "" {
			continue
		}
		perp := PerpContext{
			Index:       intFromAny(meta["index"], i),
			SzDecimals:  intFromAny(meta["szDecimals"], 0),
			MaxLeverage: intFromAny(meta["maxLeverage"], 0),
		}
		if ctx, ok := indexedMap(ctxs, i); ok {
			perp.MarkPrice = floatFromMap(ctx, "markPx", "markPrice", "mark")
			perp.OraclePrice = floatFromMap(ctx, "oraclePx", "oraclePrice", "oracle")
		}
		result[name] = perp
	}
	if len(result) == 0 {
		return nil, errors.New("no perp contexts parsed")
	}
	return result, nil
}

// parseCandleMessage decodes a streamed candle update. The ws payload nests
// the candle under data with short field names (t/o/h/l/c/v).
func parseCandleMessage(payload map[string]any) (Candle, bool) {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return Candle{}, false
	}
	candle := data
	if nested, ok := data["candle"].(map[string]any); ok {
		candle = nested
	}
	return candleFromMap(candle)
}

func parseCandleSnapshot(asset, interval string, payload any) ([]Candle, error) {
	items, ok := toSlice(payload)
	if !ok {
		return nil, errors.New("candle snapshot is not a list")
	}
	candles := make([]Candle, 0, len(items))
	for _, item := range items {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		candle, ok := candleFromMap(m)
		if !ok {
			continue
		}
		if candle.Asset == "" {
			candle.Asset = asset
		}
		if candle.Interval == "" {
			candle.Interval = interval
		}
		candles = append(candles, candle)
	}
	if len(candles) == 0 {
		return nil, errors.New("no candles parsed")
	}
	return candles, nil
}

func candleFromMap(m map[string]any) (Candle, bool) {
	high := floatFromMap(m, "h", "high")
	low := floatFromMap(m, "l", "low")
	close := floatFromMap(m, "c", "close")
	if high == 0 || low == 0 || close == 0 {
		return Candle{}, false
	}
	candle := Candle{
		Asset:    stringFromMap(m, "s", "coin", "symbol", "asset"),
		Interval: stringFromMap(m, "i", "interval"),
		Open:     floatFromMap(m, "o", "open"),
		High:     high,
		Low:      low,
		Close:    close,
		Volume:   floatFromMap(m, "v", "volume"),
	}
	if ts := floatFromMap(m, "t", "time", "startTime"); ts > 0 {
		candle.Start = time.UnixMilli(int64(ts)).UTC()
	}
	return candle, true
}

func extractUniverseAndCtxs(payload any) ([]any, []any) {
	if arr, ok := toSlice(payload); ok && len(arr) >= 2 {
		metaMap, _ := toMap(arr[0])
		if metaMap != nil {
			if universe, ok := toSlice(metaMap["universe"]); ok {
				ctxs, _ := toSlice(arr[1])
				return universe, ctxs
			}
		}
		if universe, ok := toSlice(arr[0]); ok {
			ctxs, _ := toSlice(arr[1])
			return universe, ctxs
		}
	}
	if metaMap, ok := toMap(payload); ok {
		universe, _ := toSlice(metaMap["universe"])
		ctxs, _ := toSlice(metaMap["assetCtxs"])
		return universe, ctxs
	}
	return nil, nil
}

func indexedMap(items []any, idx int) (map[string]any, bool) {
	if idx < 0 || idx >= len(items) {
		return nil, false
	}
	return toMap(items[idx])
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func floatFromMap(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if f, ok := floatFromAny(v); ok {
				return f
			}
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
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func intFromAny(v any, fallback int) int {
	if f, ok := floatFromAny(v); ok {
		return int(f)
	}
	return fallback
}
