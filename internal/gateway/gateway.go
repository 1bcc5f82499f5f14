// Package gateway defines the brokerage gateway contract and the
// rate-limited, retrying client the engine talks to it through.
package gateway

import (
	"context"

	"github.com/rxtech-lab/argo-execution/internal/types"
)

// Gateway is the brokerage contract the engine requires. Every call is
// treated as fallible, latent, and rate-limited.
type Gateway interface {
	// SubmitOrder submits an order and returns the brokerage order id.
	SubmitOrder(ctx context.Context, intent types.OrderIntent) (string, error)
	// QueryFillStatus returns the current fill state of an order.
	QueryFillStatus(ctx context.Context, orderID string, symbol string) (types.Fill, error)
	// QueryMargins returns the available margin for a single account segment.
	// Implementations must never substitute a different segment's balance.
	QueryMargins(ctx context.Context, segment types.MarginSegment) (types.MarginBalance, error)
	// CreateConditionalStop arms a brokerage-resident protective stop and
	// returns its id.
	CreateConditionalStop(ctx context.Context, stop types.StopInstruction) (string, error)
	// CancelConditionalStop cancels an armed protective stop.
	CancelConditionalStop(ctx context.Context, stopID string, symbol string) error
	// ListPositions returns the brokerage's view of open positions, used for
	// reconciliation.
	ListPositions(ctx context.Context) ([]types.BrokerPosition, error)
}
