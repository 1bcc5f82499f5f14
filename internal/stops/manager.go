// Package stops manages brokerage-resident protective stops. A stop lives at
// the brokerage and executes even if this process dies; the manager only
// tracks which stops are armed and decides when they may be cancelled.
package stops

import (
	"context"
	"sync"

	"github.com/rxtech-lab/argo-execution/internal/gateway"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/portfolio"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"go.uber.org/zap"
)

// stopLimitOffset is the fractional gap between the stop trigger and its
// limit price, bounding slippage once the stop fires.
const stopLimitOffset = 0.001

// ActiveStop is one armed protective stop.
type ActiveStop struct {
	StopID      string
	Instruction types.StopInstruction
}

// Manager owns the active-stop set. Stops are armed only from confirmed entry
// fills at a distance from the actual fill price, and disarmed only after a
// confirmed nonzero exit fill. An exit that times out or fails leaves the
// stop in place, so the position is never unprotected.
type Manager struct {
	mu sync.RWMutex

	gateway         gateway.Gateway
	store           *portfolio.Store
	logger          *logger.Logger
	stopLossPercent float64

	active map[string]ActiveStop
}

// NewManager creates a stop manager placing stops stopLossPercent below the
// confirmed fill price.
func NewManager(gw gateway.Gateway, store *portfolio.Store, stopLossPercent float64, logger *logger.Logger) *Manager {
	return &Manager{
		gateway:         gw,
		store:           store,
		logger:          logger,
		stopLossPercent: stopLossPercent,
		active:          make(map[string]ActiveStop),
	}
}

// Arm places a protective stop for a confirmed position. The trigger distance
// is computed from the position's average entry price, which reflects actual
// fills, never the signal's reference price. Arming a symbol that already has
// a stop replaces it, covering scale-ins where the protected quantity grew.
func (m *Manager) Arm(ctx context.Context, pos types.Position) (string, error) {
	if pos.Quantity == 0 {
		return "", errors.Newf(errors.ErrCodeStopCreateFailed, "cannot protect flat position %s", pos.Symbol)
	}

	instruction := buildStopInstruction(pos, m.stopLossPercent)
	if err := instruction.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, armed := m.active[pos.Symbol]; armed {
		if err := m.gateway.CancelConditionalStop(ctx, existing.StopID, pos.Symbol); err != nil {
			m.logger.Warn("failed to cancel superseded stop",
				zap.String("symbol", pos.Symbol),
				zap.String("stop_id", existing.StopID),
				zap.Error(err))
		}

		delete(m.active, pos.Symbol)
	}

	stopID, err := m.gateway.CreateConditionalStop(ctx, instruction)
	if err != nil {
		return "", errors.Wrapf(errors.ErrCodeStopCreateFailed, err, "failed to arm stop for %s", pos.Symbol)
	}

	m.active[pos.Symbol] = ActiveStop{StopID: stopID, Instruction: instruction}

	if err := m.store.SetStop(pos.Symbol, stopID, instruction.TriggerPrice); err != nil {
		m.logger.Warn("stop armed but position missing from store",
			zap.String("symbol", pos.Symbol),
			zap.Error(err))
	}

	m.logger.Info("protective stop armed",
		zap.String("symbol", pos.Symbol),
		zap.String("stop_id", stopID),
		zap.Float64("trigger", instruction.TriggerPrice))

	return stopID, nil
}

// Disarm cancels the stop for a symbol. Callers invoke this only after a
// confirmed nonzero exit fill; failures, rejections, and timeouts must leave
// the stop armed.
func (m *Manager) Disarm(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stop, armed := m.active[symbol]
	if !armed {
		return errors.Newf(errors.ErrCodeStopNotFound, "no armed stop for %s", symbol)
	}

	if err := m.gateway.CancelConditionalStop(ctx, stop.StopID, symbol); err != nil {
		return errors.Wrapf(errors.ErrCodeStopCancelFailed, err, "failed to cancel stop %s", stop.StopID)
	}

	delete(m.active, symbol)
	m.store.ClearStop(symbol)

	m.logger.Info("protective stop disarmed",
		zap.String("symbol", symbol),
		zap.String("stop_id", stop.StopID))

	return nil
}

// MarkTriggered removes a stop from the active set without cancelling it at
// the brokerage, for when the brokerage itself executed the stop.
func (m *Manager) MarkTriggered(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, symbol)
}

// Rearm rebuilds the active set from recovered positions. Stops already live
// at the brokerage across restarts, so recovery re-registers them locally
// instead of creating duplicates.
func (m *Manager) Rearm(positions map[string]types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for symbol, pos := range positions {
		if pos.StopOrderID == "" {
			continue
		}

		m.active[symbol] = ActiveStop{
			StopID:      pos.StopOrderID,
			Instruction: buildStopInstruction(pos, m.stopLossPercent),
		}

		m.logger.Info("protective stop re-registered from snapshot",
			zap.String("symbol", symbol),
			zap.String("stop_id", pos.StopOrderID))
	}
}

// Has reports whether a stop is armed for the symbol.
func (m *Manager) Has(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, armed := m.active[symbol]

	return armed
}

// Get returns the armed stop for a symbol.
func (m *Manager) Get(symbol string) (ActiveStop, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stop, armed := m.active[symbol]

	return stop, armed
}

// ActiveCount returns the number of armed stops.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.active)
}

// buildStopInstruction derives the exit stop from a position. Long positions
// get a sell stop below entry; short positions get a buy stop above.
func buildStopInstruction(pos types.Position, stopLossPercent float64) types.StopInstruction {
	qty := pos.Quantity
	side := types.SideSell
	trigger := pos.AvgEntryPrice * (1 - stopLossPercent/100)
	limit := trigger * (1 - stopLimitOffset)

	if qty < 0 {
		qty = -qty
		side = types.SideBuy
		trigger = pos.AvgEntryPrice * (1 + stopLossPercent/100)
		limit = trigger * (1 + stopLimitOffset)
	}

	return types.StopInstruction{
		Symbol:       pos.Symbol,
		Side:         side,
		Quantity:     qty,
		TriggerPrice: trigger,
		LimitPrice:   limit,
	}
}
