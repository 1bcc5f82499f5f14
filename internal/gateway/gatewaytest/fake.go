// Package gatewaytest provides an in-memory Gateway fake for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
)

// FakeGateway is a configurable in-memory Gateway. The zero behaviour fills
// every order fully at the intent's reference price; tests override the
// exported fields to simulate rejections, partial fills, outages, and margin
// states.
type FakeGateway struct {
	mu sync.Mutex

	// NextFillState is the state reported for subsequently submitted orders.
	// Defaults to FILLED.
	NextFillState types.OrderState
	// PartialRatio is the filled fraction used when NextFillState is
	// PARTIALLY_FILLED. Defaults to 0.5.
	PartialRatio float64
	// SlippagePerUnit is added to the reference price on fills.
	SlippagePerUnit float64

	// Error overrides, returned verbatim when non-nil.
	SubmitErr     error
	FillErr       error
	MarginErr     error
	StopCreateErr error
	StopCancelErr error
	ListErr       error

	// Margins holds per-segment available margin. Segments absent from the
	// map produce a query failure.
	Margins map[types.MarginSegment]float64
	// BrokerPositions is returned by ListPositions.
	BrokerPositions []types.BrokerPosition

	orderSeq int
	stopSeq  int
	fills    map[string]types.Fill
	stops    map[string]types.StopInstruction

	// Call counters for assertions.
	SubmitCalls     int
	FillQueries     int
	StopCreateCalls int
	StopCancelCalls int
	MarginQueries   []types.MarginSegment
}

// NewFakeGateway creates a FakeGateway with full-fill behaviour.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		NextFillState: types.OrderStateFilled,
		PartialRatio:  0.5,
		Margins:       map[types.MarginSegment]float64{},
		fills:         map[string]types.Fill{},
		stops:         map[string]types.StopInstruction{},
	}
}

// SubmitOrder implements gateway.Gateway.
func (f *FakeGateway) SubmitOrder(_ context.Context, intent types.OrderIntent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SubmitCalls++

	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}

	f.orderSeq++
	orderID := fmt.Sprintf("ord-%d", f.orderSeq)

	state := f.NextFillState
	if state == "" {
		state = types.OrderStateFilled
	}

	filledQty := 0.0

	switch state {
	case types.OrderStateFilled:
		filledQty = intent.Quantity
	case types.OrderStatePartiallyFilled:
		filledQty = intent.Quantity * f.PartialRatio
	case types.OrderStateRejected, types.OrderStateSubmitted, types.OrderStatePrepared, types.OrderStateTimedOut:
	}

	f.fills[orderID] = types.Fill{
		OrderID:        orderID,
		Symbol:         intent.Symbol,
		State:          state,
		FilledQuantity: filledQty,
		AvgFillPrice:   intent.ReferencePrice + f.SlippagePerUnit,
		ExecutedAt:     time.Now().UTC(),
	}

	return orderID, nil
}

// QueryFillStatus implements gateway.Gateway.
func (f *FakeGateway) QueryFillStatus(_ context.Context, orderID string, _ string) (types.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.FillQueries++

	if f.FillErr != nil {
		return types.Fill{}, f.FillErr
	}

	fill, ok := f.fills[orderID]
	if !ok {
		return types.Fill{}, errors.Newf(errors.ErrCodeDataNotFound, "unknown order %s", orderID)
	}

	return fill, nil
}

// QueryMargins implements gateway.Gateway.
func (f *FakeGateway) QueryMargins(_ context.Context, segment types.MarginSegment) (types.MarginBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.MarginQueries = append(f.MarginQueries, segment)

	if f.MarginErr != nil {
		return types.MarginBalance{}, f.MarginErr
	}

	available, ok := f.Margins[segment]
	if !ok {
		return types.MarginBalance{}, errors.Newf(errors.ErrCodeQueryFailed, "no margin data for segment %s", segment)
	}

	return types.MarginBalance{Segment: segment, Available: available}, nil
}

// CreateConditionalStop implements gateway.Gateway.
func (f *FakeGateway) CreateConditionalStop(_ context.Context, stop types.StopInstruction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.StopCreateCalls++

	if f.StopCreateErr != nil {
		return "", f.StopCreateErr
	}

	f.stopSeq++
	stopID := fmt.Sprintf("stop-%d", f.stopSeq)
	f.stops[stopID] = stop

	return stopID, nil
}

// CancelConditionalStop implements gateway.Gateway.
func (f *FakeGateway) CancelConditionalStop(_ context.Context, stopID string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.StopCancelCalls++

	if f.StopCancelErr != nil {
		return f.StopCancelErr
	}

	if _, ok := f.stops[stopID]; !ok {
		return errors.Newf(errors.ErrCodeStopNotFound, "unknown stop %s", stopID)
	}

	delete(f.stops, stopID)

	return nil
}

// ListPositions implements gateway.Gateway.
func (f *FakeGateway) ListPositions(_ context.Context) ([]types.BrokerPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListErr != nil {
		return nil, f.ListErr
	}

	positions := make([]types.BrokerPosition, len(f.BrokerPositions))
	copy(positions, f.BrokerPositions)

	return positions, nil
}

// SetFill overrides the recorded fill for an order id.
func (f *FakeGateway) SetFill(orderID string, fill types.Fill) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fills[orderID] = fill
}

// ActiveStopCount returns the number of armed stops.
func (f *FakeGateway) ActiveStopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.stops)
}

// HasStop reports whether the given stop id is armed.
func (f *FakeGateway) HasStop(stopID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.stops[stopID]

	return ok
}
