// Package lifecycle drives order state machines from intent to terminal
// state: submit, await fill, confirm or reject, settle.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-execution/internal/gateway"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/metrics"
	"github.com/rxtech-lab/argo-execution/internal/portfolio"
	"github.com/rxtech-lab/argo-execution/internal/risk"
	"github.com/rxtech-lab/argo-execution/internal/stops"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"go.uber.org/zap"
)

// Controller owns every order lifecycle. Lifecycles for the same symbol are
// serialized under a per-symbol lock to prevent double submission; different
// symbols proceed concurrently.
//
// The central correctness property: a position's protective stop stays armed
// until its exit fill is confirmed. A failed, rejected, or timed-out exit
// leaves the stop in place and the portfolio untouched. The store is never
// mutated before a lifecycle reaches a terminal success state.
type Controller struct {
	gateway gateway.Gateway
	store   *portfolio.Store
	stops   *stops.Manager
	ledger  *risk.Ledger
	logger  *logger.Logger
	metrics *metrics.Metrics

	retry            gateway.RetryPolicy
	fillPollInterval time.Duration
	fillTimeout      time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config carries the controller's timing knobs.
type Config struct {
	Retry            gateway.RetryPolicy
	FillPollInterval time.Duration
	FillTimeout      time.Duration
}

// NewController creates an order lifecycle controller.
func NewController(
	gw gateway.Gateway,
	store *portfolio.Store,
	stopManager *stops.Manager,
	ledger *risk.Ledger,
	cfg Config,
	m *metrics.Metrics,
	logger *logger.Logger,
) *Controller {
	return &Controller{
		gateway:          gw,
		store:            store,
		stops:            stopManager,
		ledger:           ledger,
		logger:           logger,
		metrics:          m,
		retry:            cfg.Retry,
		fillPollInterval: cfg.FillPollInterval,
		fillTimeout:      cfg.FillTimeout,
		locks:            make(map[string]*sync.Mutex),
	}
}

// lockSymbol serializes lifecycles per symbol and returns the unlock func.
func (c *Controller) lockSymbol(symbol string) func() {
	c.mu.Lock()

	lock, ok := c.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[symbol] = lock
	}

	c.mu.Unlock()

	lock.Lock()

	return lock.Unlock
}

// TryLockSymbol acquires the symbol's lifecycle lock without blocking. It
// returns the unlock func and true on success, or false when a lifecycle for
// the symbol is in flight. Background reconciliation uses this so it never
// mutates a position mid-lifecycle.
func (c *Controller) TryLockSymbol(symbol string) (func(), bool) {
	c.mu.Lock()

	lock, ok := c.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[symbol] = lock
	}

	c.mu.Unlock()

	if !lock.TryLock() {
		return nil, false
	}

	return lock.Unlock, true
}

// OpenPosition runs an entry lifecycle: submit, await the fill, commit the
// position, then arm the protective stop. The stop distance is computed from
// the confirmed fill price, never the intent's reference price, and the stop
// is created only after the fill is confirmed.
func (c *Controller) OpenPosition(ctx context.Context, intent types.OrderIntent) (types.Position, error) {
	if err := intent.Validate(); err != nil {
		return types.Position{}, err
	}

	unlock := c.lockSymbol(intent.Symbol)
	defer unlock()

	fill, err := c.execute(ctx, intent)
	if err != nil {
		c.metrics.Orders.WithLabelValues(string(intent.Side), outcomeOf(err)).Inc()

		return types.Position{}, err
	}

	pos, err := c.store.CommitOpen(intent, fill)
	if err != nil {
		return types.Position{}, err
	}

	c.ledger.RecordOpen(pos.Symbol, pos.Group)
	c.metrics.Orders.WithLabelValues(string(intent.Side), string(fill.State)).Inc()
	c.publishGauges()

	if fill.State == types.OrderStatePartiallyFilled {
		c.reconcile(ctx, pos.Symbol)

		if refreshed, ok := c.store.GetPosition(pos.Symbol); ok {
			pos = refreshed
		}
	}

	if _, err := c.stops.Arm(ctx, pos); err != nil {
		// The position is reality; an unprotected position is an operational
		// incident, not a rollback.
		c.logger.Error("position committed but stop arming failed",
			zap.String("symbol", pos.Symbol),
			zap.Error(err))

		return pos, err
	}

	c.metrics.StopsActive.Set(float64(c.stops.ActiveCount()))

	return pos, nil
}

// ClosePosition runs an exit lifecycle for a held symbol. The protective stop
// is cancelled only after the exit fill is confirmed nonzero, and only then
// is the portfolio updated, in that order.
func (c *Controller) ClosePosition(ctx context.Context, symbol, strategyName string) (types.TradeRecord, error) {
	unlock := c.lockSymbol(symbol)
	defer unlock()

	pos, held := c.store.GetPosition(symbol)
	if !held {
		return types.TradeRecord{}, errors.Newf(errors.ErrCodePositionNotFound, "no open position for %s", symbol)
	}

	intent := exitIntent(pos, strategyName)
	if err := intent.Validate(); err != nil {
		return types.TradeRecord{}, err
	}

	fill, err := c.execute(ctx, intent)
	if err != nil {
		// Submission failed or timed out before confirmation: the stop stays
		// armed and the position is unchanged.
		c.metrics.Orders.WithLabelValues(string(intent.Side), outcomeOf(err)).Inc()

		return types.TradeRecord{}, err
	}

	if err := c.stops.Disarm(ctx, symbol); err != nil && !errors.HasCode(err, errors.ErrCodeStopNotFound) {
		c.logger.Error("exit filled but stop cancellation failed",
			zap.String("symbol", symbol),
			zap.Error(err))
	}

	record, err := c.store.CommitClose(fill)
	if err != nil {
		return types.TradeRecord{}, err
	}

	c.metrics.Orders.WithLabelValues(string(intent.Side), string(fill.State)).Inc()

	if fill.State == types.OrderStatePartiallyFilled {
		c.reconcile(ctx, symbol)
	}

	if remaining, stillHeld := c.store.GetPosition(symbol); stillHeld {
		// Partial exit left a tail; protect it again
		if _, err := c.stops.Arm(ctx, remaining); err != nil {
			c.logger.Error("remaining position left unprotected after partial exit",
				zap.String("symbol", symbol),
				zap.Error(err))
		}
	} else {
		c.ledger.RecordClose(symbol)
	}

	c.metrics.StopsActive.Set(float64(c.stops.ActiveCount()))
	c.publishGauges()

	return record, nil
}

// execute submits the order and waits for a terminal fill. Only a confirmed
// nonzero fill returns successfully.
func (c *Controller) execute(ctx context.Context, intent types.OrderIntent) (types.Fill, error) {
	var (
		orderID  string
		attempts int
	)

	err := gateway.WithRetry(ctx, c.logger, c.retry, "submit_order", func(ctx context.Context) error {
		attempts++

		var submitErr error
		orderID, submitErr = c.gateway.SubmitOrder(ctx, intent)

		return submitErr
	})

	if attempts > 1 {
		c.metrics.GatewayRetries.Add(float64(attempts - 1))
	}

	if err != nil {
		return types.Fill{}, err
	}

	c.logger.Info("order submitted",
		zap.String("symbol", intent.Symbol),
		zap.String("side", string(intent.Side)),
		zap.Float64("quantity", intent.Quantity),
		zap.String("order_id", orderID))

	fill, err := c.awaitFill(ctx, orderID, intent.Symbol)
	if err != nil {
		return types.Fill{}, err
	}

	switch fill.State {
	case types.OrderStateFilled, types.OrderStatePartiallyFilled:
		if fill.FilledQuantity <= 0 {
			return types.Fill{}, errors.Newf(errors.ErrCodeOrderFailed,
				"order %s reported %s with zero quantity", orderID, fill.State)
		}

		return fill, nil
	case types.OrderStateRejected:
		return types.Fill{}, errors.Newf(errors.ErrCodeOrderFailed, "order %s rejected by brokerage", orderID)
	case types.OrderStatePrepared, types.OrderStateSubmitted, types.OrderStateTimedOut:
		return types.Fill{}, errors.Newf(errors.ErrCodeOrderFailed,
			"order %s ended in unexpected state %s", orderID, fill.State)
	default:
		return types.Fill{}, errors.Newf(errors.ErrCodeOrderFailed,
			"order %s ended in unexpected state %s", orderID, fill.State)
	}
}

// awaitFill polls the gateway until the order reaches a terminal state or the
// fill timeout elapses.
func (c *Controller) awaitFill(ctx context.Context, orderID, symbol string) (types.Fill, error) {
	deadline := time.After(c.fillTimeout)
	ticker := time.NewTicker(c.fillPollInterval)

	defer ticker.Stop()

	for {
		fill, err := c.gateway.QueryFillStatus(ctx, orderID, symbol)
		if err != nil {
			c.logger.Warn("fill query failed, will poll again",
				zap.String("order_id", orderID),
				zap.Error(err))
		} else if fill.State.IsTerminal() {
			return fill, nil
		}

		select {
		case <-ctx.Done():
			return types.Fill{}, errors.Wrapf(errors.ErrCodeOrderTimedOut, ctx.Err(),
				"cancelled while awaiting fill of order %s", orderID)
		case <-deadline:
			return types.Fill{}, errors.Newf(errors.ErrCodeOrderTimedOut,
				"order %s not confirmed within %s", orderID, c.fillTimeout)
		case <-ticker.C:
		}
	}
}

// reconcile re-queries live brokerage positions after a partial fill and
// adjusts the local quantity rather than trusting the intent.
func (c *Controller) reconcile(ctx context.Context, symbol string) {
	positions, err := c.gateway.ListPositions(ctx)
	if err != nil {
		c.logger.Warn("reconciliation query failed",
			zap.String("symbol", symbol),
			zap.Error(err))

		return
	}

	brokerQty := 0.0

	for _, pos := range positions {
		if pos.Symbol == symbol {
			brokerQty = pos.Quantity

			break
		}
	}

	local, held := c.store.GetPosition(symbol)
	if !held {
		return
	}

	if local.Quantity != brokerQty {
		if err := c.store.AdjustQuantity(symbol, brokerQty); err != nil {
			c.logger.Error("failed to reconcile position quantity",
				zap.String("symbol", symbol),
				zap.Error(err))
		}
	}
}

func (c *Controller) publishGauges() {
	c.metrics.Cash.Set(c.store.Cash())
	c.metrics.RealizedPnL.Set(c.store.RealizedPnL())
	c.metrics.OpenPositions.Set(float64(c.store.OpenPositionCount()))
}

// exitIntent builds the order that flattens a position.
func exitIntent(pos types.Position, strategyName string) types.OrderIntent {
	qty := pos.Quantity
	side := types.SideSell

	if qty < 0 {
		qty = -qty
		side = types.SideBuy
	}

	if strategyName == "" {
		strategyName = pos.StrategyName
	}

	return types.OrderIntent{
		ID:             uuid.New().String(),
		Symbol:         pos.Symbol,
		Side:           side,
		Quantity:       qty,
		ReferencePrice: pos.AvgEntryPrice,
		Class:          pos.Class,
		Group:          pos.Group,
		StrategyName:   strategyName,
	}
}

// outcomeOf maps a lifecycle error to a metrics outcome label.
func outcomeOf(err error) string {
	switch errors.GetCode(err) {
	case errors.ErrCodeOrderTimedOut:
		return string(types.OrderStateTimedOut)
	case errors.ErrCodeGatewayUnavailable, errors.ErrCodeRateLimitTimeout:
		return "GATEWAY_ERROR"
	default:
		return string(types.OrderStateRejected)
	}
}
