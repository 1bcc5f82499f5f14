// Package engine runs the control loop: poll signals, admit through policy
// and risk gate, drive order lifecycles, and keep the portfolio persisted and
// reconciled.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rxtech-lab/argo-execution/internal/breaker"
	"github.com/rxtech-lab/argo-execution/internal/config"
	"github.com/rxtech-lab/argo-execution/internal/gateway"
	"github.com/rxtech-lab/argo-execution/internal/lifecycle"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/metrics"
	"github.com/rxtech-lab/argo-execution/internal/policy"
	"github.com/rxtech-lab/argo-execution/internal/portfolio"
	"github.com/rxtech-lab/argo-execution/internal/risk"
	"github.com/rxtech-lab/argo-execution/internal/stops"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"go.uber.org/zap"
)

// defaultIterationInterval paces the loop when no interval is configured.
const defaultIterationInterval = time.Second

// Quoter supplies the current reference price used to size entry orders.
// Market data is external to the engine, like signal generation.
type Quoter interface {
	ReferencePrice(ctx context.Context, symbol string) (float64, error)
}

// Engine wires the portfolio store, risk gate, lifecycle controller, stop
// manager, and circuit breaker into the outer trading loop.
type Engine struct {
	cfg        *config.Config
	logger     *logger.Logger
	gateway    gateway.Gateway
	store      *portfolio.Store
	history    *portfolio.TradeHistory
	snapshots  *portfolio.SnapshotStore
	ledger     *risk.Ledger
	gate       *risk.Gate
	stops      *stops.Manager
	controller *lifecycle.Controller
	policy     *policy.Policy
	aggregator *policy.Aggregator
	breaker    *breaker.Breaker
	quoter     Quoter
	metrics    *metrics.Metrics
	registry   *prometheus.Registry

	mu        sync.Mutex
	status    types.EngineStatus
	callbacks EngineCallbacks
	cancel    context.CancelFunc
}

// NewEngine builds a fully wired engine from configuration. The supplied
// brokerage gateway is wrapped with the rate limiter; every outbound call
// contends for tokens.
func NewEngine(
	cfg *config.Config,
	broker gateway.Gateway,
	evaluators []policy.StrategyEvaluator,
	quoter Quoter,
	log *logger.Logger,
) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "config is required")
	}

	limiter := gateway.NewRateLimiter(
		cfg.Gateway.RatePerSecond,
		cfg.Gateway.BurstLimit,
		cfg.Gateway.BurstWindow(),
		cfg.Gateway.AcquireTimeout(),
	)
	throttled := gateway.NewThrottledGateway(broker, limiter)

	history, err := portfolio.NewTradeHistory(cfg.Engine.HistoryPath, log)
	if err != nil {
		return nil, err
	}

	commission := portfolio.GetCommissionModel(cfg.Portfolio.Commission, cfg.Portfolio.FlatFee)

	store, err := portfolio.NewStore(cfg.Portfolio, commission, history, log)
	if err != nil {
		return nil, err
	}

	var snapshots *portfolio.SnapshotStore
	if cfg.Engine.SnapshotPath != "" {
		snapshots = portfolio.NewSnapshotStore(cfg.Engine.SnapshotPath, log)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	ledger := risk.NewLedger()
	gate := risk.NewGate(cfg.Risk, ledger, throttled, store, log)
	stopManager := stops.NewManager(throttled, store, cfg.Portfolio.StopLossPercent, log)

	controller := lifecycle.NewController(throttled, store, stopManager, ledger, lifecycle.Config{
		Retry: gateway.RetryPolicy{
			Attempts:  cfg.Gateway.RetryAttempts,
			BaseDelay: cfg.Gateway.RetryBaseDelay(),
		},
		FillPollInterval: cfg.Gateway.FillPollInterval(),
		FillTimeout:      cfg.Gateway.FillTimeout(),
	}, m, log)

	e := &Engine{
		cfg:        cfg,
		logger:     log,
		gateway:    throttled,
		store:      store,
		history:    history,
		snapshots:  snapshots,
		ledger:     ledger,
		gate:       gate,
		stops:      stopManager,
		controller: controller,
		policy:     policy.NewPolicy(cfg.Policy.OpenAgreement, log),
		aggregator: policy.NewAggregator(evaluators, log),
		breaker:    breaker.NewBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout(), log),
		quoter:     quoter,
		metrics:    m,
		registry:   registry,
		status:     types.EngineStatusStopped,
	}

	e.breaker.SetTransitionCallback(func(from, to breaker.State) {
		m.SetCircuitState(to)
		e.emitCircuitTransition(from, to)
	})

	return e, nil
}

// Recover restores the portfolio from the last persisted snapshot, rebuilds
// the risk ledger, re-registers protective stops, and reconciles against the
// brokerage. A missing snapshot is a normal first boot.
func (e *Engine) Recover(ctx context.Context) error {
	if e.snapshots == nil {
		return nil
	}

	snapshot, err := e.snapshots.Load()
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeDataNotFound) {
			e.logger.Info("no snapshot found, starting fresh")

			return nil
		}

		return errors.Wrap(errors.ErrCodeRecoveryFailed, "snapshot recovery failed", err)
	}

	e.store.Restore(snapshot)

	for symbol, pos := range snapshot.Positions {
		e.ledger.RecordOpen(symbol, pos.Group)
	}

	e.stops.Rearm(snapshot.Positions)
	e.reconcileOnce(ctx)

	e.logger.Info("engine recovered from snapshot",
		zap.Int("positions", len(snapshot.Positions)),
		zap.Float64("cash", snapshot.Cash))

	return nil
}

// Run drives the control loop until the context is cancelled or Stop is
// called. Background persistence and reconciliation keep running while the
// circuit is open; only trading pauses.
func (e *Engine) Run(ctx context.Context, callbacks EngineCallbacks) error {
	e.mu.Lock()
	if e.status == types.EngineStatusRunning {
		e.mu.Unlock()

		return errors.New(errors.ErrCodeEngineInitFailed, "engine already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.callbacks = callbacks
	e.status = types.EngineStatusRunning
	e.mu.Unlock()

	var runErr error

	defer func() {
		e.setStatus(types.EngineStatusStopped)

		if callbacks.OnEngineStop != nil {
			(*callbacks.OnEngineStop)(runErr)
		}
	}()

	if callbacks.OnEngineStart != nil {
		if err := (*callbacks.OnEngineStart)(); err != nil {
			runErr = err

			return err
		}
	}

	e.emitStatus(types.EngineStatusRunning)

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		e.persistLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.reconcileLoop(ctx)
	}()

	interval := e.cfg.Engine.IterationInterval()
	if interval <= 0 {
		interval = defaultIterationInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()

			return nil
		case <-ticker.C:
			if !e.breaker.CanProceed() {
				e.setStatus(types.EngineStatusHalted)
				e.logger.Warn("circuit open, skipping iteration",
					zap.Int("consecutive_failures", e.breaker.ConsecutiveFailures()))

				continue
			}

			e.setStatus(types.EngineStatusRunning)

			if err := e.iterate(ctx); err != nil {
				e.breaker.RecordFailure()
				e.emitError(err)
			} else {
				e.breaker.RecordSuccess()
			}
		}
	}
}

// Stop cancels the control loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
}

// Status returns the engine run state.
func (e *Engine) Status() types.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status
}

// Breaker exposes the circuit breaker to the control surface.
func (e *Engine) Breaker() *breaker.Breaker {
	return e.breaker
}

// Store exposes the portfolio store to the control surface.
func (e *Engine) Store() *portfolio.Store {
	return e.store
}

// Registry exposes the metrics registry for the /metrics endpoint.
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// Close releases the engine's resources after Run has returned.
func (e *Engine) Close() error {
	return e.history.Close()
}

// iterate runs one control-loop pass over the instrument universe with a
// bounded worker pool. It returns an error only for gateway-class failures,
// which count toward the circuit breaker; risk rejections and order
// rejections are normal outcomes.
func (e *Engine) iterate(ctx context.Context) error {
	start := time.Now()
	defer func() {
		e.metrics.Iterations.Observe(time.Since(start).Seconds())
	}()

	workers := e.cfg.Engine.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan config.InstrumentConfig)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for inst := range jobs {
				err := e.processInstrument(ctx, inst)
				if err == nil {
					continue
				}

				if isGatewayFailure(err) {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	for _, inst := range e.cfg.Engine.Instruments {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()

			return nil
		case jobs <- inst:
		}
	}

	close(jobs)
	wg.Wait()

	return firstErr
}

// processInstrument runs the signal → policy → risk → lifecycle pipeline for
// one symbol.
func (e *Engine) processInstrument(ctx context.Context, inst config.InstrumentConfig) error {
	votes := e.aggregator.Collect(ctx, inst.Symbol)
	pos, held := e.store.GetPosition(inst.Symbol)

	decision := e.policy.Decide(votes, held)
	e.metrics.Decisions.WithLabelValues(string(decision.Action)).Inc()

	switch {
	case held && decision.Action == types.VoteActionSell:
		return e.closePosition(ctx, inst.Symbol, pos.StrategyName)
	case !held && decision.Action == types.VoteActionBuy:
		return e.openPosition(ctx, inst, decision)
	default:
		return nil
	}
}

func (e *Engine) openPosition(ctx context.Context, inst config.InstrumentConfig, decision policy.Decision) error {
	intent, err := e.buildIntent(ctx, inst)
	if err != nil {
		return err
	}

	if err := e.gate.Admit(ctx, intent); err != nil {
		if errors.IsRiskRejection(err) {
			e.metrics.RiskRejections.WithLabelValues(rejectionReason(err)).Inc()
			e.emitRiskRejection(inst.Symbol, err)
			e.logger.Info("risk gate rejected intent",
				zap.String("symbol", inst.Symbol),
				zap.Float64("agreement", decision.Agreement),
				zap.Error(err))

			return nil
		}

		return err
	}

	pos, err := e.controller.OpenPosition(ctx, intent)
	if err != nil {
		e.emitOrderFailed(inst.Symbol, err)

		return err
	}

	e.emitPositionOpened(pos)
	e.emitStopArmed(pos.Symbol, pos.StopOrderID)

	return nil
}

func (e *Engine) closePosition(ctx context.Context, symbol, strategyName string) error {
	record, err := e.controller.ClosePosition(ctx, symbol, strategyName)
	if err != nil {
		e.emitOrderFailed(symbol, err)

		return err
	}

	e.emitStopCancelled(symbol)
	e.emitPositionClosed(record)

	return nil
}

// buildIntent sizes an entry at the configured fraction of capital using the
// quoter's reference price.
func (e *Engine) buildIntent(ctx context.Context, inst config.InstrumentConfig) (types.OrderIntent, error) {
	price, err := e.quoter.ReferencePrice(ctx, inst.Symbol)
	if err != nil {
		return types.OrderIntent{}, errors.Wrapf(errors.ErrCodeSignalSourceError, err,
			"no reference price for %s", inst.Symbol)
	}

	if price <= 0 {
		return types.OrderIntent{}, errors.Newf(errors.ErrCodeSignalSourceError,
			"non-positive reference price %f for %s", price, inst.Symbol)
	}

	notional := e.cfg.Portfolio.InitialCapital * e.cfg.Portfolio.MaxPositionFraction
	if cash := e.store.Cash(); notional > cash {
		notional = cash
	}

	quantity := notional / price
	if quantity <= 0 {
		return types.OrderIntent{}, errors.Newf(errors.ErrCodeInsufficientFunds,
			"no capital available to size %s", inst.Symbol)
	}

	return types.OrderIntent{
		ID:             uuid.New().String(),
		Symbol:         inst.Symbol,
		Side:           types.SideBuy,
		Quantity:       quantity,
		ReferencePrice: price,
		Class:          inst.Class,
		Group:          inst.Group,
		StrategyName:   "aggregate",
	}, nil
}

// persistLoop writes throttled snapshots; it runs regardless of circuit state
// and writes a final snapshot on shutdown.
func (e *Engine) persistLoop(ctx context.Context) {
	if e.snapshots == nil {
		return
	}

	interval := e.cfg.Engine.SnapshotInterval()
	ticker := time.NewTicker(interval)

	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := e.snapshots.Persist(e.store.Snapshot()); err != nil {
				e.logger.Error("final snapshot failed", zap.Error(err))
			}

			return
		case <-ticker.C:
			if err := e.snapshots.Persist(e.store.Snapshot()); err != nil {
				e.logger.Error("snapshot persist failed", zap.Error(err))
				e.emitError(err)
			}
		}
	}
}

// reconcileLoop polls brokerage positions; it also runs while the circuit is
// open so local state converges during an outage.
func (e *Engine) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Engine.ReconcileInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce adjusts local positions to brokerage-reported quantities. A
// position the brokerage no longer reports is treated as stopped out. Symbols
// with an in-flight lifecycle are skipped: the brokerage sample may predate a
// fill the lifecycle is about to commit, and the next tick will see the
// settled state.
func (e *Engine) reconcileOnce(ctx context.Context) {
	brokerPositions, err := e.gateway.ListPositions(ctx)
	if err != nil {
		e.logger.Warn("position reconciliation query failed", zap.Error(err))

		return
	}

	quantities := make(map[string]float64, len(brokerPositions))
	for _, pos := range brokerPositions {
		quantities[pos.Symbol] = pos.Quantity
	}

	for symbol := range e.store.Snapshot().Positions {
		e.reconcileSymbol(symbol, quantities[symbol])
	}

	e.metrics.OpenPositions.Set(float64(e.store.OpenPositionCount()))
	e.metrics.StopsActive.Set(float64(e.stops.ActiveCount()))
}

// reconcileSymbol applies one brokerage-reported quantity under the symbol's
// lifecycle lock, re-reading the position once the lock is held.
func (e *Engine) reconcileSymbol(symbol string, brokerQty float64) {
	unlock, ok := e.controller.TryLockSymbol(symbol)
	if !ok {
		e.logger.Debug("reconciliation skipped symbol with lifecycle in flight",
			zap.String("symbol", symbol))

		return
	}
	defer unlock()

	local, held := e.store.GetPosition(symbol)
	if !held || brokerQty == local.Quantity {
		return
	}

	if err := e.store.AdjustQuantity(symbol, brokerQty); err != nil {
		e.logger.Error("reconciliation adjustment failed",
			zap.String("symbol", symbol),
			zap.Error(err))

		return
	}

	if brokerQty == 0 {
		// The brokerage-resident stop most likely executed
		e.stops.MarkTriggered(symbol)
		e.ledger.RecordClose(symbol)
		e.logger.Warn("position no longer held at brokerage",
			zap.String("symbol", symbol),
			zap.Float64("local_quantity", local.Quantity))
	}
}

func (e *Engine) setStatus(status types.EngineStatus) {
	e.mu.Lock()

	changed := e.status != status
	e.status = status

	e.mu.Unlock()

	if changed {
		e.emitStatus(status)
	}
}

// isGatewayFailure reports whether a lifecycle error should count toward the
// circuit breaker. Retry exhaustion and confirmation timeouts do; business
// rejections do not.
func isGatewayFailure(err error) bool {
	if errors.IsRetryable(err) {
		return true
	}

	return errors.HasCode(err, errors.ErrCodeOrderTimedOut)
}

// rejectionReason maps a risk rejection to a metrics label.
func rejectionReason(err error) string {
	switch errors.GetCode(err) {
	case errors.ErrCodeMarginInsufficient:
		return "margin"
	case errors.ErrCodeCorrelationConflict:
		return "correlation"
	case errors.ErrCodeExposureLimitExceeded:
		return "exposure"
	case errors.ErrCodeInsufficientFunds:
		return "funds"
	case errors.ErrCodePositionLimitExceeded:
		return "position_limit"
	default:
		return "other"
	}
}
