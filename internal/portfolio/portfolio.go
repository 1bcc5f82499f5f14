// Package portfolio owns the engine's source of truth for cash, open
// positions, and realized PnL. Mutations are committed only from confirmed
// fills; intents and in-flight orders never touch the store.
package portfolio

import (
	"sync"
	"time"

	"github.com/rxtech-lab/argo-execution/internal/config"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store holds the committed portfolio state. It maintains the conservation
// identity at every commit point:
//
//	cash + open notional + fees paid == initial capital + realized PnL
//
// Two locks guard the state: posMu for the position map and cashMu for the
// cash ledger. When both are needed they are always acquired posMu first.
type Store struct {
	posMu  sync.RWMutex
	cashMu sync.Mutex

	cash           decimal.Decimal
	initialCapital decimal.Decimal
	realizedPnL    decimal.Decimal
	feesPaid       decimal.Decimal

	positions  map[string]types.Position
	tradeCount int

	maxPositionFraction float64
	maxOpenPositions    int

	commission CommissionModel
	history    *TradeHistory
	logger     *logger.Logger
}

// NewStore creates a portfolio store with the configured capital and limits.
// history may be nil when trade archiving is disabled.
func NewStore(cfg config.PortfolioConfig, commission CommissionModel, history *TradeHistory, logger *logger.Logger) (*Store, error) {
	if cfg.InitialCapital <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "initial capital must be positive, got %f", cfg.InitialCapital)
	}

	return &Store{
		cash:                decimal.NewFromFloat(cfg.InitialCapital),
		initialCapital:      decimal.NewFromFloat(cfg.InitialCapital),
		realizedPnL:         decimal.Zero,
		feesPaid:            decimal.Zero,
		positions:           make(map[string]types.Position),
		maxPositionFraction: cfg.MaxPositionFraction,
		maxOpenPositions:    cfg.MaxOpenPositions,
		commission:          commission,
		history:             history,
		logger:              logger,
	}, nil
}

// Cash returns the available cash.
func (s *Store) Cash() float64 {
	s.cashMu.Lock()
	defer s.cashMu.Unlock()

	return s.cash.InexactFloat64()
}

// RealizedPnL returns the cumulative realized profit and loss.
func (s *Store) RealizedPnL() float64 {
	s.cashMu.Lock()
	defer s.cashMu.Unlock()

	return s.realizedPnL.InexactFloat64()
}

// FeesPaid returns the cumulative commission paid.
func (s *Store) FeesPaid() float64 {
	s.cashMu.Lock()
	defer s.cashMu.Unlock()

	return s.feesPaid.InexactFloat64()
}

// GetPosition returns the position for a symbol, if one is open.
func (s *Store) GetPosition(symbol string) (types.Position, bool) {
	s.posMu.RLock()
	defer s.posMu.RUnlock()

	pos, ok := s.positions[symbol]

	return pos, ok
}

// OpenPositionCount returns the number of open positions.
func (s *Store) OpenPositionCount() int {
	s.posMu.RLock()
	defer s.posMu.RUnlock()

	return len(s.positions)
}

// OpenGroups returns the number of open positions per instrument group.
func (s *Store) OpenGroups() map[string]int {
	s.posMu.RLock()
	defer s.posMu.RUnlock()

	groups := make(map[string]int)
	for _, pos := range s.positions {
		groups[pos.Group]++
	}

	return groups
}

// CheckOpen verifies that the store can fund and hold the intended position.
// It is advisory: the admission decision is made before submission, while the
// commit happens only after a confirmed fill.
func (s *Store) CheckOpen(intent types.OrderIntent) error {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	s.cashMu.Lock()
	defer s.cashMu.Unlock()

	if _, held := s.positions[intent.Symbol]; !held && s.maxOpenPositions > 0 && len(s.positions) >= s.maxOpenPositions {
		return errors.Newf(errors.ErrCodePositionLimitExceeded, "open position limit %d reached", s.maxOpenPositions)
	}

	notional := decimal.NewFromFloat(intent.Quantity).Mul(decimal.NewFromFloat(intent.ReferencePrice))

	if s.maxPositionFraction > 0 {
		limit := s.initialCapital.Mul(decimal.NewFromFloat(s.maxPositionFraction))
		if notional.GreaterThan(limit) {
			return errors.Newf(errors.ErrCodePositionLimitExceeded,
				"notional %s exceeds per-position cap %s", notional.String(), limit.String())
		}
	}

	fee := decimal.NewFromFloat(s.commission.Calculate(intent.Quantity))
	if notional.Add(fee).GreaterThan(s.cash) {
		return errors.Newf(errors.ErrCodeInsufficientFunds,
			"need %s but only %s available", notional.Add(fee).String(), s.cash.String())
	}

	return nil
}

// CommitOpen applies a confirmed entry fill: debits cash, records the
// position, and appends the trade record. The fill is reality at this point,
// so the commit never refuses it; a cash shortfall from slippage is logged.
//
// The store holds long positions only. CommitClose realizes PnL as exit minus
// entry, which is wrong for a short, so a sell-side entry is rejected before
// it can corrupt the ledger.
func (s *Store) CommitOpen(intent types.OrderIntent, fill types.Fill) (types.Position, error) {
	if intent.Side != types.SideBuy {
		return types.Position{}, errors.Newf(errors.ErrCodeInvalidOrderIntent,
			"store holds long positions only, cannot commit %s entry for %s", intent.Side, intent.Symbol)
	}

	if fill.FilledQuantity <= 0 {
		return types.Position{}, errors.Newf(errors.ErrCodeOrderFailed, "cannot commit zero-quantity fill for order %s", fill.OrderID)
	}

	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.cashMu.Lock()
	defer s.cashMu.Unlock()

	qty := decimal.NewFromFloat(fill.FilledQuantity)
	price := decimal.NewFromFloat(fill.AvgFillPrice)
	fee := decimal.NewFromFloat(s.commission.Calculate(fill.FilledQuantity))
	cost := qty.Mul(price).Add(fee)

	s.cash = s.cash.Sub(cost)
	s.feesPaid = s.feesPaid.Add(fee)

	if s.cash.IsNegative() {
		s.logger.Warn("cash went negative on fill commit",
			zap.String("symbol", fill.Symbol),
			zap.String("cash", s.cash.String()))
	}

	pos, held := s.positions[intent.Symbol]
	if held {
		// Scale-in: average the entry price so notional stays the sum of costs
		oldQty := decimal.NewFromFloat(pos.Quantity)
		oldNotional := oldQty.Mul(decimal.NewFromFloat(pos.AvgEntryPrice))
		newQty := oldQty.Add(qty)
		pos.AvgEntryPrice = oldNotional.Add(qty.Mul(price)).Div(newQty).InexactFloat64()
		pos.Quantity = newQty.InexactFloat64()
	} else {
		pos = types.Position{
			Symbol:        intent.Symbol,
			Quantity:      fill.FilledQuantity,
			AvgEntryPrice: fill.AvgFillPrice,
			TargetPrice:   intent.TargetPrice.TakeOr(0),
			OpenedAt:      fill.ExecutedAt,
			StrategyName:  intent.StrategyName,
			Class:         intent.Class,
			Group:         intent.Group,
		}
	}

	s.positions[intent.Symbol] = pos
	s.tradeCount++

	s.appendTrade(types.TradeRecord{
		OrderID:      fill.OrderID,
		Symbol:       fill.Symbol,
		Side:         intent.Side,
		Quantity:     fill.FilledQuantity,
		Price:        fill.AvgFillPrice,
		Fee:          fee.InexactFloat64(),
		PnL:          0,
		ExecutedAt:   fill.ExecutedAt,
		StrategyName: intent.StrategyName,
		CashAfter:    s.cash.InexactFloat64(),
	})

	s.logger.Info("position opened",
		zap.String("symbol", pos.Symbol),
		zap.Float64("quantity", pos.Quantity),
		zap.Float64("avg_entry_price", pos.AvgEntryPrice),
		zap.String("cash", s.cash.String()))

	return pos, nil
}

// CommitClose applies a confirmed exit fill: credits cash, realizes PnL, and
// shrinks or removes the position. A fill for more than the held quantity is
// clamped to the position. PnL is exit minus entry times quantity, which is
// correct because CommitOpen admits long entries only.
func (s *Store) CommitClose(fill types.Fill) (types.TradeRecord, error) {
	if fill.FilledQuantity <= 0 {
		return types.TradeRecord{}, errors.Newf(errors.ErrCodeOrderFailed, "cannot commit zero-quantity fill for order %s", fill.OrderID)
	}

	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.cashMu.Lock()
	defer s.cashMu.Unlock()

	pos, held := s.positions[fill.Symbol]
	if !held {
		return types.TradeRecord{}, errors.Newf(errors.ErrCodePositionNotFound, "no open position for %s", fill.Symbol)
	}

	heldQty := decimal.NewFromFloat(pos.Quantity)
	closeQty := decimal.NewFromFloat(fill.FilledQuantity)

	if closeQty.GreaterThan(heldQty) {
		s.logger.Warn("exit fill exceeds held quantity, clamping",
			zap.String("symbol", fill.Symbol),
			zap.Float64("held", pos.Quantity),
			zap.Float64("filled", fill.FilledQuantity))
		closeQty = heldQty
	}

	price := decimal.NewFromFloat(fill.AvgFillPrice)
	entry := decimal.NewFromFloat(pos.AvgEntryPrice)
	fee := decimal.NewFromFloat(s.commission.Calculate(closeQty.InexactFloat64()))
	pnl := price.Sub(entry).Mul(closeQty)

	s.cash = s.cash.Add(closeQty.Mul(price)).Sub(fee)
	s.realizedPnL = s.realizedPnL.Add(pnl)
	s.feesPaid = s.feesPaid.Add(fee)

	remaining := heldQty.Sub(closeQty)
	if remaining.IsZero() {
		delete(s.positions, fill.Symbol)
	} else {
		pos.Quantity = remaining.InexactFloat64()
		s.positions[fill.Symbol] = pos
	}

	s.tradeCount++

	record := types.TradeRecord{
		OrderID:      fill.OrderID,
		Symbol:       fill.Symbol,
		Side:         types.SideSell,
		Quantity:     closeQty.InexactFloat64(),
		Price:        fill.AvgFillPrice,
		Fee:          fee.InexactFloat64(),
		PnL:          pnl.InexactFloat64(),
		ExecutedAt:   fill.ExecutedAt,
		StrategyName: pos.StrategyName,
		CashAfter:    s.cash.InexactFloat64(),
	}
	s.appendTrade(record)

	s.logger.Info("position closed",
		zap.String("symbol", fill.Symbol),
		zap.Float64("quantity", record.Quantity),
		zap.Float64("pnl", record.PnL),
		zap.String("cash", s.cash.String()))

	return record, nil
}

// SetStop records the brokerage id and trigger price of the protective stop
// armed for a symbol's position.
func (s *Store) SetStop(symbol, stopOrderID string, stopPrice float64) error {
	s.posMu.Lock()
	defer s.posMu.Unlock()

	pos, held := s.positions[symbol]
	if !held {
		return errors.Newf(errors.ErrCodePositionNotFound, "no open position for %s", symbol)
	}

	pos.StopOrderID = stopOrderID
	pos.StopPrice = stopPrice
	s.positions[symbol] = pos

	return nil
}

// ClearStop removes the stop reference from a symbol's position, if open.
func (s *Store) ClearStop(symbol string) {
	s.posMu.Lock()
	defer s.posMu.Unlock()

	pos, held := s.positions[symbol]
	if !held {
		return
	}

	pos.StopOrderID = ""
	pos.StopPrice = 0
	s.positions[symbol] = pos
}

// AdjustQuantity reconciles a position to the brokerage-reported quantity.
// The cash delta is settled at the average entry price so the conservation
// identity survives the adjustment.
func (s *Store) AdjustQuantity(symbol string, brokerQty float64) error {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.cashMu.Lock()
	defer s.cashMu.Unlock()

	pos, held := s.positions[symbol]
	if !held {
		return errors.Newf(errors.ErrCodePositionNotFound, "no open position for %s", symbol)
	}

	if pos.Quantity == brokerQty {
		return nil
	}

	delta := decimal.NewFromFloat(pos.Quantity).Sub(decimal.NewFromFloat(brokerQty))
	refund := delta.Mul(decimal.NewFromFloat(pos.AvgEntryPrice))
	s.cash = s.cash.Add(refund)

	s.logger.Warn("reconciled position quantity to brokerage",
		zap.String("symbol", symbol),
		zap.Float64("local", pos.Quantity),
		zap.Float64("broker", brokerQty),
		zap.String("cash_adjustment", refund.String()))

	if brokerQty == 0 {
		delete(s.positions, symbol)

		return nil
	}

	pos.Quantity = brokerQty
	s.positions[symbol] = pos

	return nil
}

// Snapshot returns the committed state as a serializable snapshot.
func (s *Store) Snapshot() types.Snapshot {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	s.cashMu.Lock()
	defer s.cashMu.Unlock()

	positions := make(map[string]types.Position, len(s.positions))
	for symbol, pos := range s.positions {
		positions[symbol] = pos
	}

	return types.Snapshot{
		TakenAt:        time.Now().UTC(),
		Cash:           s.cash.InexactFloat64(),
		InitialCapital: s.initialCapital.InexactFloat64(),
		RealizedPnL:    s.realizedPnL.InexactFloat64(),
		FeesPaid:       s.feesPaid.InexactFloat64(),
		Positions:      positions,
		TradeCount:     s.tradeCount,
	}
}

// Restore replaces the committed state with a previously persisted snapshot.
func (s *Store) Restore(snapshot types.Snapshot) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.cashMu.Lock()
	defer s.cashMu.Unlock()

	s.cash = decimal.NewFromFloat(snapshot.Cash)
	s.initialCapital = decimal.NewFromFloat(snapshot.InitialCapital)
	s.realizedPnL = decimal.NewFromFloat(snapshot.RealizedPnL)
	s.feesPaid = decimal.NewFromFloat(snapshot.FeesPaid)
	s.tradeCount = snapshot.TradeCount

	s.positions = make(map[string]types.Position, len(snapshot.Positions))
	for symbol, pos := range snapshot.Positions {
		s.positions[symbol] = pos
	}

	s.logger.Info("portfolio restored from snapshot",
		zap.Time("taken_at", snapshot.TakenAt),
		zap.Int("positions", len(snapshot.Positions)),
		zap.Float64("cash", snapshot.Cash))
}

// appendTrade archives the record; callers hold the store locks.
func (s *Store) appendTrade(record types.TradeRecord) {
	if s.history == nil {
		return
	}

	if err := s.history.Append(record); err != nil {
		s.logger.Error("failed to archive trade record",
			zap.String("order_id", record.OrderID),
			zap.Error(err))
	}
}
