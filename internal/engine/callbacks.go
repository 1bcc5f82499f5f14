package engine

import (
	"github.com/rxtech-lab/argo-execution/internal/breaker"
	"github.com/rxtech-lab/argo-execution/internal/types"
)

// OnEngineStartCallback is called when the engine starts successfully.
type OnEngineStartCallback func() error

// OnEngineStopCallback is called when the engine stops (always called via defer).
type OnEngineStopCallback func(err error)

// OnPositionOpenedCallback is called after an entry fill is committed and its
// protective stop armed.
type OnPositionOpenedCallback func(pos types.Position) error

// OnPositionClosedCallback is called after an exit fill is committed.
type OnPositionClosedCallback func(record types.TradeRecord) error

// OnOrderFailedCallback is called when an order lifecycle ends in rejection,
// timeout, or gateway failure.
type OnOrderFailedCallback func(symbol string, err error)

// OnStopArmedCallback is called when a protective stop is created.
type OnStopArmedCallback func(symbol, stopID string) error

// OnStopCancelledCallback is called when a protective stop is cancelled after
// a confirmed exit.
type OnStopCancelledCallback func(symbol string) error

// OnRiskRejectionCallback is called when the risk gate rejects an intent.
type OnRiskRejectionCallback func(symbol string, err error)

// OnCircuitTransitionCallback is called on every circuit state transition.
type OnCircuitTransitionCallback func(from, to breaker.State)

// OnStatusUpdateCallback is called when the engine status changes.
type OnStatusUpdateCallback func(status types.EngineStatus) error

// OnErrorCallback is called when a non-fatal error occurs.
type OnErrorCallback func(err error)

// EngineCallbacks holds the engine's lifecycle callback functions. All fields
// are pointers; nil means no callback will be invoked.
type EngineCallbacks struct {
	// OnEngineStart is called when the engine starts successfully.
	OnEngineStart *OnEngineStartCallback

	// OnEngineStop is called when the engine stops (always called via defer).
	OnEngineStop *OnEngineStopCallback

	// OnPositionOpened is called after an entry fill commits and the stop arms.
	OnPositionOpened *OnPositionOpenedCallback

	// OnPositionClosed is called after an exit fill commits.
	OnPositionClosed *OnPositionClosedCallback

	// OnOrderFailed is called when an order lifecycle fails.
	OnOrderFailed *OnOrderFailedCallback

	// OnStopArmed is called when a protective stop is created.
	OnStopArmed *OnStopArmedCallback

	// OnStopCancelled is called when a protective stop is cancelled.
	OnStopCancelled *OnStopCancelledCallback

	// OnRiskRejection is called when the risk gate rejects an intent.
	OnRiskRejection *OnRiskRejectionCallback

	// OnCircuitTransition is called on circuit breaker transitions.
	OnCircuitTransition *OnCircuitTransitionCallback

	// OnStatusUpdate is called when the engine status changes.
	OnStatusUpdate *OnStatusUpdateCallback

	// OnError is called when a non-fatal error occurs.
	OnError *OnErrorCallback
}
