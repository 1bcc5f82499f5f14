package gateway

import (
	"math"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rxtech-lab/argo-execution/internal/types"
)

// formatQuantity renders a float for the Binance API, truncated to the
// default decimal precision.
func formatQuantity(value float64) string {
	multiplier := math.Pow10(binanceDecimalPrecision)
	truncated := math.Floor(value*multiplier) / multiplier

	return strconv.FormatFloat(truncated, 'f', -1, 64)
}

// mapOrderStatus maps a Binance order status to the engine's order state.
// A zero executed quantity is never reported as a fill.
func mapOrderStatus(status binance.OrderStatusType, executedQty float64) types.OrderState {
	switch status {
	case binance.OrderStatusTypeFilled:
		if executedQty == 0 {
			return types.OrderStateRejected
		}

		return types.OrderStateFilled
	case binance.OrderStatusTypePartiallyFilled:
		return types.OrderStatePartiallyFilled
	case binance.OrderStatusTypeNew:
		return types.OrderStateSubmitted
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return types.OrderStateRejected
	default:
		return types.OrderStateSubmitted
	}
}

// averageFillPrice derives the volume-weighted fill price from the cumulative
// quote quantity when available, falling back to the order's limit price.
func averageFillPrice(order *binance.Order, executedQty float64) float64 {
	if executedQty > 0 && order.CummulativeQuoteQuantity != "" {
		quote, err := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
		if err == nil && quote > 0 {
			return quote / executedQty
		}
	}

	price, err := strconv.ParseFloat(order.Price, 64)
	if err != nil {
		return 0
	}

	return price
}

func millisToTime(millis int64) time.Time {
	if millis == 0 {
		return time.Time{}
	}

	return time.UnixMilli(millis).UTC()
}
