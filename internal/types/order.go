package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
)

type Side string

type OrderState string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order lifecycle states. An order starts PREPARED, moves to SUBMITTED once
// accepted by the gateway, and ends in exactly one terminal state.
const (
	OrderStatePrepared        OrderState = "PREPARED"
	OrderStateSubmitted       OrderState = "SUBMITTED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateRejected        OrderState = "REJECTED"
	OrderStateTimedOut        OrderState = "TIMED_OUT"
)

// IsTerminal reports whether the state ends an order lifecycle.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStatePartiallyFilled, OrderStateRejected, OrderStateTimedOut:
		return true
	case OrderStatePrepared, OrderStateSubmitted:
		return false
	default:
		return false
	}
}

// OrderIntent describes an order the engine wants to place. Intents are
// ephemeral: they exist only during the submit-to-confirm window and are
// discarded once the lifecycle reaches a terminal state.
type OrderIntent struct {
	// ID is the correlation id for this intent, generated by the caller.
	ID     string `yaml:"id" json:"id" validate:"required,uuid"`
	Symbol string `yaml:"symbol" json:"symbol" validate:"required"`
	Side   Side   `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	// Quantity is always positive; direction is carried by Side.
	Quantity float64 `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	// ReferencePrice is the price the signal was computed at. Fills may differ;
	// stop distances are always computed from the confirmed fill price.
	ReferencePrice float64         `yaml:"reference_price" json:"reference_price" validate:"required,gt=0"`
	Class          InstrumentClass `yaml:"class" json:"class" validate:"required,oneof=EQUITY DERIVATIVE_INDEX DERIVATIVE_STOCK"`
	// Group is the sector/instrument-group tag used for correlation checks.
	Group        string `yaml:"group" json:"group" validate:"required"`
	StrategyName string `yaml:"strategy_name" json:"strategy_name" validate:"required"`
	// TargetPrice optionally carries a profit target for the resulting position.
	TargetPrice optional.Option[float64] `yaml:"target_price" json:"target_price"`
}

// Validate validates the OrderIntent struct.
func (oi *OrderIntent) Validate() error {
	validate := validator.New()
	if err := validate.Struct(oi); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrderIntent, "invalid order intent", err)
	}

	return nil
}

// Fill is the brokerage's confirmation of how much of an order executed.
type Fill struct {
	OrderID string     `yaml:"order_id" json:"order_id"`
	Symbol  string     `yaml:"symbol" json:"symbol"`
	State   OrderState `yaml:"state" json:"state"`
	// FilledQuantity is the confirmed executed quantity; zero means nothing
	// executed regardless of the reported state.
	FilledQuantity float64   `yaml:"filled_quantity" json:"filled_quantity"`
	AvgFillPrice   float64   `yaml:"avg_fill_price" json:"avg_fill_price"`
	ExecutedAt     time.Time `yaml:"executed_at" json:"executed_at"`
}

// StopInstruction describes a brokerage-resident conditional stop order. The
// brokerage executes it independently of this process being alive.
type StopInstruction struct {
	Symbol       string  `yaml:"symbol" json:"symbol" validate:"required"`
	Side         Side    `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Quantity     float64 `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	TriggerPrice float64 `yaml:"trigger_price" json:"trigger_price" validate:"required,gt=0"`
	// LimitPrice is the worst acceptable execution price once triggered.
	LimitPrice float64 `yaml:"limit_price" json:"limit_price" validate:"required,gt=0"`
}

// Validate validates the StopInstruction struct.
func (si *StopInstruction) Validate() error {
	validate := validator.New()
	if err := validate.Struct(si); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidStopPrice, "invalid stop instruction", err)
	}

	return nil
}

// BrokerPosition is a position as reported by the brokerage, used for
// reconciliation after partial fills and on recovery.
type BrokerPosition struct {
	Symbol   string  `yaml:"symbol" json:"symbol"`
	Quantity float64 `yaml:"quantity" json:"quantity"`
	AvgPrice float64 `yaml:"avg_price" json:"avg_price"`
}
