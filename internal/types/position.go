package types

import (
	"time"
)

// Position represents a confirmed open holding. Positions are created only on
// a confirmed entry fill, mutated only by the order lifecycle controller, and
// removed only on a confirmed exit fill.
type Position struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	// Quantity is signed: positive for long, negative for short. The portfolio
	// store commits long entries only; negative quantities can appear only from
	// a restored snapshot, and the exit and stop paths handle the sign.
	Quantity      float64 `yaml:"quantity" json:"quantity"`
	AvgEntryPrice float64 `yaml:"avg_entry_price" json:"avg_entry_price"`
	// StopPrice is the protective-stop trigger. A position with nonzero
	// quantity carries at most one active stop, referenced by StopOrderID.
	StopPrice   float64 `yaml:"stop_price" json:"stop_price"`
	TargetPrice float64 `yaml:"target_price" json:"target_price"`
	// StopOrderID is the brokerage id of the active protective stop, empty if
	// no stop is armed.
	StopOrderID  string          `yaml:"stop_order_id" json:"stop_order_id"`
	OpenedAt     time.Time       `yaml:"opened_at" json:"opened_at"`
	StrategyName string          `yaml:"strategy_name" json:"strategy_name"`
	Class        InstrumentClass `yaml:"class" json:"class"`
	Group        string          `yaml:"group" json:"group"`
}

// Notional returns the capital committed to the position at entry.
func (p *Position) Notional() float64 {
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}

	return qty * p.AvgEntryPrice
}

// TradeRecord is one immutable entry of the portfolio trade history, appended
// on every committed mutation.
type TradeRecord struct {
	OrderID      string    `yaml:"order_id" json:"order_id" csv:"order_id"`
	Symbol       string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Side         Side      `yaml:"side" json:"side" csv:"side"`
	Quantity     float64   `yaml:"quantity" json:"quantity" csv:"quantity"`
	Price        float64   `yaml:"price" json:"price" csv:"price"`
	Fee          float64   `yaml:"fee" json:"fee" csv:"fee"`
	PnL          float64   `yaml:"pnl" json:"pnl" csv:"pnl"`
	ExecutedAt   time.Time `yaml:"executed_at" json:"executed_at" csv:"executed_at"`
	StrategyName string    `yaml:"strategy_name" json:"strategy_name" csv:"strategy_name"`
	// CashAfter is the available cash immediately after the mutation committed.
	CashAfter float64 `yaml:"cash_after" json:"cash_after" csv:"cash_after"`
}

// Snapshot is the serializable portfolio state emitted on every committed
// mutation and on a throttled timer. It is sufficient to recover the store to
// its last committed state on restart.
type Snapshot struct {
	TakenAt        time.Time           `yaml:"taken_at" json:"taken_at"`
	Cash           float64             `yaml:"cash" json:"cash"`
	InitialCapital float64             `yaml:"initial_capital" json:"initial_capital"`
	RealizedPnL    float64             `yaml:"realized_pnl" json:"realized_pnl"`
	FeesPaid       float64             `yaml:"fees_paid" json:"fees_paid"`
	Positions      map[string]Position `yaml:"positions" json:"positions"`
	TradeCount     int                 `yaml:"trade_count" json:"trade_count"`
}

// OpenNotional returns the total capital committed to open positions.
func (s *Snapshot) OpenNotional() float64 {
	total := 0.0
	for _, pos := range s.Positions {
		total += pos.Notional()
	}

	return total
}
