package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rxtech-lab/argo-execution/internal/breaker"
	"github.com/rxtech-lab/argo-execution/internal/config"
	"github.com/rxtech-lab/argo-execution/internal/engine"
	"github.com/rxtech-lab/argo-execution/internal/gateway"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// tickerQuoter serves reference prices from the Binance ticker endpoint.
type tickerQuoter struct {
	client *binance.Client
}

func (q *tickerQuoter) ReferencePrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := q.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeSignalSourceError, err, "ticker query for %s failed", symbol)
	}

	if len(prices) == 0 {
		return 0, errors.Newf(errors.ErrCodeSignalSourceError, "no ticker for %s", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeSignalSourceError, err, "unparsable ticker price for %s", symbol)
	}

	return price, nil
}

// runAction wires the gateway, engine, and control surface, then runs the
// control loop until interrupted.
func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	if listen := cmd.String("control-listen"); listen != "" {
		cfg.Engine.ControlListen = listen
	}

	appLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer appLogger.Sync() //nolint:errcheck

	useTestnet := cmd.Bool("testnet")
	gatewayConfig := gateway.BinanceGatewayConfig{ //nolint:exhaustruct
		ApiKey:    cmd.String("api-key"),
		SecretKey: cmd.String("secret-key"),
	}

	broker := gateway.NewBinanceGateway(gatewayConfig, useTestnet)
	quoter := &tickerQuoter{client: binance.NewClient(gatewayConfig.ApiKey, gatewayConfig.SecretKey)}

	// Strategy evaluators register programmatically; without any the loop
	// holds every symbol and the process acts as a position supervisor:
	// protective stops, reconciliation, and the control surface stay live.
	eng, err := engine.NewEngine(cfg, broker, nil, quoter, appLogger)
	if err != nil {
		return err
	}

	defer eng.Close() //nolint:errcheck

	if err := eng.Recover(ctx); err != nil {
		return err
	}

	if cfg.Engine.ControlListen != "" {
		control := engine.NewControlServer(eng, appLogger)
		if err := control.Start(cfg.Engine.ControlListen); err != nil {
			return err
		}

		defer control.Stop() //nolint:errcheck
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("Received interrupt signal, stopping")
		cancel()
	}()

	appLogger.Info("Starting execution engine",
		zap.Int("instruments", len(cfg.Engine.Instruments)),
		zap.Bool("testnet", useTestnet))

	return eng.Run(ctx, buildCallbacks(appLogger))
}

// buildCallbacks logs every lifecycle event the engine emits.
func buildCallbacks(appLogger *logger.Logger) engine.EngineCallbacks {
	onStart := engine.OnEngineStartCallback(func() error {
		appLogger.Info("Engine started")

		return nil
	})
	onStop := engine.OnEngineStopCallback(func(err error) {
		if err != nil {
			appLogger.Error("Engine stopped with error", zap.Error(err))

			return
		}

		appLogger.Info("Engine stopped")
	})
	onPositionOpened := engine.OnPositionOpenedCallback(func(pos types.Position) error {
		appLogger.Info("Position opened",
			zap.String("symbol", pos.Symbol),
			zap.Float64("quantity", pos.Quantity),
			zap.Float64("entry_price", pos.AvgEntryPrice))

		return nil
	})
	onPositionClosed := engine.OnPositionClosedCallback(func(record types.TradeRecord) error {
		appLogger.Info("Position closed",
			zap.String("symbol", record.Symbol),
			zap.Float64("quantity", record.Quantity),
			zap.Float64("pnl", record.PnL))

		return nil
	})
	onOrderFailed := engine.OnOrderFailedCallback(func(symbol string, err error) {
		appLogger.Warn("Order failed", zap.String("symbol", symbol), zap.Error(err))
	})
	onStopArmed := engine.OnStopArmedCallback(func(symbol, stopID string) error {
		appLogger.Info("Protective stop armed",
			zap.String("symbol", symbol),
			zap.String("stop_id", stopID))

		return nil
	})
	onStopCancelled := engine.OnStopCancelledCallback(func(symbol string) error {
		appLogger.Info("Protective stop cancelled", zap.String("symbol", symbol))

		return nil
	})
	onRiskRejection := engine.OnRiskRejectionCallback(func(symbol string, err error) {
		appLogger.Info("Risk gate rejection", zap.String("symbol", symbol), zap.Error(err))
	})
	onCircuitTransition := engine.OnCircuitTransitionCallback(func(from, to breaker.State) {
		appLogger.Warn("Circuit transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	})
	onStatusUpdate := engine.OnStatusUpdateCallback(func(status types.EngineStatus) error {
		appLogger.Info("Engine status", zap.String("status", string(status)))

		return nil
	})
	onError := engine.OnErrorCallback(func(err error) {
		appLogger.Error("Engine error", zap.Error(err))
	})

	return engine.EngineCallbacks{
		OnEngineStart:       &onStart,
		OnEngineStop:        &onStop,
		OnPositionOpened:    &onPositionOpened,
		OnPositionClosed:    &onPositionClosed,
		OnOrderFailed:       &onOrderFailed,
		OnStopArmed:         &onStopArmed,
		OnStopCancelled:     &onStopCancelled,
		OnRiskRejection:     &onRiskRejection,
		OnCircuitTransition: &onCircuitTransition,
		OnStatusUpdate:      &onStatusUpdate,
		OnError:             &onError,
	}
}

func main() {
	cmd := &cli.Command{ //nolint:exhaustruct
		Name:  "engine",
		Usage: "Run the position and order lifecycle engine",
		Flags: []cli.Flag{
			&cli.StringFlag{ //nolint:exhaustruct
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine YAML config",
				Required: true,
			},
			&cli.StringFlag{ //nolint:exhaustruct
				Name:    "api-key",
				Usage:   "Brokerage API key",
				Sources: cli.EnvVars("BINANCE_API_KEY"),
			},
			&cli.StringFlag{ //nolint:exhaustruct
				Name:    "secret-key",
				Usage:   "Brokerage API secret",
				Sources: cli.EnvVars("BINANCE_SECRET_KEY"),
			},
			&cli.BoolFlag{ //nolint:exhaustruct
				Name:  "testnet",
				Usage: "Use the brokerage testnet endpoints",
			},
			&cli.StringFlag{ //nolint:exhaustruct
				Name:  "control-listen",
				Usage: "Bind address for the HTTP control surface (overrides config)",
			},
		},
		Action: runAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
