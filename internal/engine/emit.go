package engine

import (
	"github.com/rxtech-lab/argo-execution/internal/breaker"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"go.uber.org/zap"
)

// Callback emitters. Callback errors are logged, never propagated: observers
// must not be able to fail the trading loop.

func (e *Engine) currentCallbacks() EngineCallbacks {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.callbacks
}

func (e *Engine) emitStatus(status types.EngineStatus) {
	callbacks := e.currentCallbacks()
	if callbacks.OnStatusUpdate == nil {
		return
	}

	if err := (*callbacks.OnStatusUpdate)(status); err != nil {
		e.logger.Warn("status callback failed", zap.Error(err))
	}
}

func (e *Engine) emitPositionOpened(pos types.Position) {
	callbacks := e.currentCallbacks()
	if callbacks.OnPositionOpened == nil {
		return
	}

	if err := (*callbacks.OnPositionOpened)(pos); err != nil {
		e.logger.Warn("position-opened callback failed", zap.Error(err))
	}
}

func (e *Engine) emitPositionClosed(record types.TradeRecord) {
	callbacks := e.currentCallbacks()
	if callbacks.OnPositionClosed == nil {
		return
	}

	if err := (*callbacks.OnPositionClosed)(record); err != nil {
		e.logger.Warn("position-closed callback failed", zap.Error(err))
	}
}

func (e *Engine) emitOrderFailed(symbol string, err error) {
	callbacks := e.currentCallbacks()
	if callbacks.OnOrderFailed == nil {
		return
	}

	(*callbacks.OnOrderFailed)(symbol, err)
}

func (e *Engine) emitStopArmed(symbol, stopID string) {
	callbacks := e.currentCallbacks()
	if callbacks.OnStopArmed == nil {
		return
	}

	if err := (*callbacks.OnStopArmed)(symbol, stopID); err != nil {
		e.logger.Warn("stop-armed callback failed", zap.Error(err))
	}
}

func (e *Engine) emitStopCancelled(symbol string) {
	callbacks := e.currentCallbacks()
	if callbacks.OnStopCancelled == nil {
		return
	}

	if err := (*callbacks.OnStopCancelled)(symbol); err != nil {
		e.logger.Warn("stop-cancelled callback failed", zap.Error(err))
	}
}

func (e *Engine) emitRiskRejection(symbol string, err error) {
	callbacks := e.currentCallbacks()
	if callbacks.OnRiskRejection == nil {
		return
	}

	(*callbacks.OnRiskRejection)(symbol, err)
}

func (e *Engine) emitCircuitTransition(from, to breaker.State) {
	callbacks := e.currentCallbacks()
	if callbacks.OnCircuitTransition == nil {
		return
	}

	(*callbacks.OnCircuitTransition)(from, to)
}

func (e *Engine) emitError(err error) {
	callbacks := e.currentCallbacks()
	if callbacks.OnError == nil {
		return
	}

	(*callbacks.OnError)(err)
}
