package gateway

import (
	"context"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
)

const (
	// binanceDecimalPrecision is a default decimal precision used when
	// formatting quantities and prices. Production systems should use
	// symbol-specific precision from exchange info (LOT_SIZE, PRICE_FILTER).
	binanceDecimalPrecision = 8
)

// Service interfaces for mocking the Binance API

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	StopPrice(price string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// GetOrderService interface for querying order status.
type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrderID(orderID int64) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// CancelOrderService interface for canceling orders.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrderID(orderID int64) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

// BinanceClient interface abstracts the Binance client for testing.
type BinanceClient interface {
	NewCreateOrderService() CreateOrderService
	NewGetOrderService() GetOrderService
	NewGetAccountService() GetAccountService
	NewCancelOrderService() CancelOrderService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewGetOrderService() GetOrderService {
	return &realGetOrderService{service: r.client.NewGetOrderService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

func (r *realBinanceClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{service: r.client.NewCancelOrderService()}
}

// Real service wrappers

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) StopPrice(price string) CreateOrderService {
	s.service = s.service.StopPrice(price)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetOrderService struct {
	service *binance.GetOrderService
}

func (s *realGetOrderService) Symbol(symbol string) GetOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realGetOrderService) OrderID(orderID int64) GetOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realGetOrderService) Do(ctx context.Context) (*binance.Order, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

type realCancelOrderService struct {
	service *binance.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCancelOrderService) OrderID(orderID int64) CancelOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return s.service.Do(ctx)
}

// BinanceGatewayConfig configures the Binance-backed gateway.
type BinanceGatewayConfig struct {
	ApiKey    string `json:"api_key" yaml:"api_key" validate:"required"`
	SecretKey string `json:"secret_key" yaml:"secret_key" validate:"required"`
	// BaseURL overrides the API endpoint (testnet vs live).
	BaseURL string `json:"base_url" yaml:"base_url"`
	// SegmentAssets maps each margin segment to the quote asset whose free
	// balance backs it. Segments absent from the map fail closed.
	SegmentAssets map[types.MarginSegment]string `json:"segment_assets" yaml:"segment_assets"`
	// QuoteAsset is the quote currency appended to base assets when reporting
	// positions, so holdings come back under the same trading-pair symbol
	// orders are submitted with ("BTC" balance → "BTCUSDT" position).
	QuoteAsset string `json:"quote_asset" yaml:"quote_asset"`
}

// BinanceGateway implements Gateway against the Binance REST API.
type BinanceGateway struct {
	client BinanceClient
	config BinanceGatewayConfig
}

// NewBinanceGateway creates a gateway backed by the real Binance client.
func NewBinanceGateway(config BinanceGatewayConfig, useTestnet bool) *BinanceGateway {
	binance.UseTestnet = useTestnet

	client := binance.NewClient(config.ApiKey, config.SecretKey)
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL
	}

	if config.SegmentAssets == nil {
		config.SegmentAssets = map[types.MarginSegment]string{
			types.SegmentEquity: "USDT",
		}
	}

	if config.QuoteAsset == "" {
		config.QuoteAsset = "USDT"
	}

	return &BinanceGateway{
		client: &realBinanceClient{client: client},
		config: config,
	}
}

// NewBinanceGatewayWithClient creates a gateway with an injected client.
// Intended for tests.
func NewBinanceGatewayWithClient(client BinanceClient, config BinanceGatewayConfig) *BinanceGateway {
	if config.SegmentAssets == nil {
		config.SegmentAssets = map[types.MarginSegment]string{
			types.SegmentEquity: "USDT",
		}
	}

	if config.QuoteAsset == "" {
		config.QuoteAsset = "USDT"
	}

	return &BinanceGateway{
		client: client,
		config: config,
	}
}

// SubmitOrder implements Gateway.
func (g *BinanceGateway) SubmitOrder(ctx context.Context, intent types.OrderIntent) (string, error) {
	if err := intent.Validate(); err != nil {
		return "", err
	}

	side := binance.SideTypeBuy
	if intent.Side == types.SideSell {
		side = binance.SideTypeSell
	}

	resp, err := g.client.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(formatQuantity(intent.Quantity)).
		Do(ctx)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeGatewayUnavailable, "order submission failed", err)
	}

	return strconv.FormatInt(resp.OrderID, 10), nil
}

// QueryFillStatus implements Gateway.
func (g *BinanceGateway) QueryFillStatus(ctx context.Context, orderID string, symbol string) (types.Fill, error) {
	var fill types.Fill

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fill, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid order id %q", orderID)
	}

	order, err := g.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return fill, errors.Wrap(errors.ErrCodeGatewayUnavailable, "fill status query failed", err)
	}

	executedQty, err := strconv.ParseFloat(order.ExecutedQuantity, 64)
	if err != nil {
		return fill, errors.Wrap(errors.ErrCodeGatewayUnavailable, "failed to parse executed quantity", err)
	}

	fill = types.Fill{
		OrderID:        orderID,
		Symbol:         symbol,
		State:          mapOrderStatus(order.Status, executedQty),
		FilledQuantity: executedQty,
		AvgFillPrice:   averageFillPrice(order, executedQty),
		ExecutedAt:     millisToTime(order.UpdateTime),
	}

	return fill, nil
}

// QueryMargins implements Gateway. The balance returned belongs to exactly
// the requested segment's configured asset; a segment with no configured
// asset fails closed rather than borrowing another pool's balance.
func (g *BinanceGateway) QueryMargins(ctx context.Context, segment types.MarginSegment) (types.MarginBalance, error) {
	var balance types.MarginBalance

	asset, ok := g.config.SegmentAssets[segment]
	if !ok {
		return balance, errors.Newf(errors.ErrCodeQueryFailed, "no asset configured for margin segment %s", segment)
	}

	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return balance, errors.Wrap(errors.ErrCodeGatewayUnavailable, "margin query failed", err)
	}

	for _, b := range account.Balances {
		if b.Asset != asset {
			continue
		}

		free, parseErr := strconv.ParseFloat(b.Free, 64)
		if parseErr != nil {
			return balance, errors.Wrap(errors.ErrCodeGatewayUnavailable, "failed to parse balance", parseErr)
		}

		return types.MarginBalance{Segment: segment, Available: free}, nil
	}

	return types.MarginBalance{Segment: segment, Available: 0}, nil
}

// CreateConditionalStop implements Gateway using a stop-loss-limit order.
func (g *BinanceGateway) CreateConditionalStop(ctx context.Context, stop types.StopInstruction) (string, error) {
	if err := stop.Validate(); err != nil {
		return "", err
	}

	side := binance.SideTypeSell
	if stop.Side == types.SideBuy {
		side = binance.SideTypeBuy
	}

	resp, err := g.client.NewCreateOrderService().
		Symbol(stop.Symbol).
		Side(side).
		Type(binance.OrderTypeStopLossLimit).
		Quantity(formatQuantity(stop.Quantity)).
		StopPrice(formatQuantity(stop.TriggerPrice)).
		Price(formatQuantity(stop.LimitPrice)).
		TimeInForce(binance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeStopCreateFailed, "conditional stop creation failed", err)
	}

	return strconv.FormatInt(resp.OrderID, 10), nil
}

// CancelConditionalStop implements Gateway.
func (g *BinanceGateway) CancelConditionalStop(ctx context.Context, stopID string, symbol string) error {
	id, err := strconv.ParseInt(stopID, 10, 64)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid stop id %q", stopID)
	}

	_, err = g.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStopCancelFailed, "conditional stop cancel failed", err)
	}

	return nil
}

// ListPositions implements Gateway. Spot balances are reported as positions
// keyed by the trading-pair symbol (base asset + configured quote asset), the
// same key orders are submitted with, so callers can join the two. Entry price
// is not available from the account endpoint and is left zero for the caller
// to reconcile against its own records.
func (g *BinanceGateway) ListPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGatewayUnavailable, "position list query failed", err)
	}

	quoteAssets := make(map[string]bool, len(g.config.SegmentAssets))
	for _, asset := range g.config.SegmentAssets {
		quoteAssets[asset] = true
	}

	positions := make([]types.BrokerPosition, 0, len(account.Balances))

	for _, b := range account.Balances {
		if quoteAssets[b.Asset] {
			continue
		}

		free, parseErr := strconv.ParseFloat(b.Free, 64)
		if parseErr != nil {
			continue
		}

		locked, parseErr := strconv.ParseFloat(b.Locked, 64)
		if parseErr != nil {
			continue
		}

		qty := free + locked
		if qty == 0 {
			continue
		}

		positions = append(positions, types.BrokerPosition{
			Symbol:   b.Asset + g.config.QuoteAsset,
			Quantity: qty,
			AvgPrice: 0,
		})
	}

	return positions, nil
}

// Verify BinanceGateway implements the Gateway interface.
var _ Gateway = (*BinanceGateway)(nil)
