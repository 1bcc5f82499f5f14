package gateway

import (
	"context"

	"github.com/rxtech-lab/argo-execution/internal/types"
)

// ThrottledGateway decorates a Gateway so that every outbound call first
// acquires a rate-limit token. Multiple callers contend for tokens on the
// limiter's single lock.
type ThrottledGateway struct {
	inner   Gateway
	limiter *RateLimiter
}

// NewThrottledGateway wraps inner with the given rate limiter.
func NewThrottledGateway(inner Gateway, limiter *RateLimiter) *ThrottledGateway {
	return &ThrottledGateway{
		inner:   inner,
		limiter: limiter,
	}
}

// SubmitOrder implements Gateway.
func (g *ThrottledGateway) SubmitOrder(ctx context.Context, intent types.OrderIntent) (string, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	return g.inner.SubmitOrder(ctx, intent)
}

// QueryFillStatus implements Gateway.
func (g *ThrottledGateway) QueryFillStatus(ctx context.Context, orderID string, symbol string) (types.Fill, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return types.Fill{}, err //nolint:exhaustruct // zero value on error
	}

	return g.inner.QueryFillStatus(ctx, orderID, symbol)
}

// QueryMargins implements Gateway.
func (g *ThrottledGateway) QueryMargins(ctx context.Context, segment types.MarginSegment) (types.MarginBalance, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return types.MarginBalance{}, err //nolint:exhaustruct // zero value on error
	}

	return g.inner.QueryMargins(ctx, segment)
}

// CreateConditionalStop implements Gateway.
func (g *ThrottledGateway) CreateConditionalStop(ctx context.Context, stop types.StopInstruction) (string, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	return g.inner.CreateConditionalStop(ctx, stop)
}

// CancelConditionalStop implements Gateway.
func (g *ThrottledGateway) CancelConditionalStop(ctx context.Context, stopID string, symbol string) error {
	if err := g.limiter.Acquire(ctx); err != nil {
		return err
	}

	return g.inner.CancelConditionalStop(ctx, stopID, symbol)
}

// ListPositions implements Gateway.
func (g *ThrottledGateway) ListPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	return g.inner.ListPositions(ctx)
}

// Verify ThrottledGateway implements the Gateway interface.
var _ Gateway = (*ThrottledGateway)(nil)
