package portfolio

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-execution/internal/config"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type PortfolioTestSuite struct {
	suite.Suite
	store *Store
}

func TestPortfolioSuite(t *testing.T) {
	suite.Run(t, new(PortfolioTestSuite))
}

func (suite *PortfolioTestSuite) SetupTest() {
	store, err := NewStore(config.PortfolioConfig{
		InitialCapital:      100000,
		MaxPositionFraction: 0.20,
		MaxOpenPositions:    3,
	}, NewFlatCommission(10), nil, logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.store = store
}

func (suite *PortfolioTestSuite) intent(symbol string, qty, price float64) types.OrderIntent {
	return types.OrderIntent{
		ID:             uuid.New().String(),
		Symbol:         symbol,
		Side:           types.SideBuy,
		Quantity:       qty,
		ReferencePrice: price,
		Class:          types.InstrumentEquity,
		Group:          "ENERGY",
		StrategyName:   "test",
		TargetPrice:    optional.None[float64](),
	}
}

func (suite *PortfolioTestSuite) fill(orderID, symbol string, qty, price float64) types.Fill {
	return types.Fill{
		OrderID:        orderID,
		Symbol:         symbol,
		State:          types.OrderStateFilled,
		FilledQuantity: qty,
		AvgFillPrice:   price,
		ExecutedAt:     time.Now().UTC(),
	}
}

// assertConservation checks cash + open notional + fees == initial + realized.
func (suite *PortfolioTestSuite) assertConservation() {
	snap := suite.store.Snapshot()
	lhs := snap.Cash + snap.OpenNotional() + snap.FeesPaid
	rhs := snap.InitialCapital + snap.RealizedPnL
	suite.InDelta(rhs, lhs, 1e-6)
}

func (suite *PortfolioTestSuite) TestNewStoreRejectsZeroCapital() {
	_, err := NewStore(config.PortfolioConfig{InitialCapital: 0}, NewZeroCommission(), nil, logger.NewNopLogger())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (suite *PortfolioTestSuite) TestCommitOpenDebitsCash() {
	pos, err := suite.store.CommitOpen(suite.intent("RELIANCE", 5, 2900), suite.fill("ord-1", "RELIANCE", 5, 2910))
	suite.Require().NoError(err)

	// Debit uses the fill price, not the reference price
	suite.InDelta(100000-5*2910-10, suite.store.Cash(), 1e-9)
	suite.InDelta(2910.0, pos.AvgEntryPrice, 1e-9)
	suite.Equal(1, suite.store.OpenPositionCount())
	suite.assertConservation()
}

func (suite *PortfolioTestSuite) TestCommitOpenRejectsZeroQuantityFill() {
	_, err := suite.store.CommitOpen(suite.intent("RELIANCE", 5, 2900), suite.fill("ord-1", "RELIANCE", 0, 2900))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeOrderFailed))
	suite.Equal(0, suite.store.OpenPositionCount())
	suite.InDelta(100000.0, suite.store.Cash(), 1e-9)
}

func (suite *PortfolioTestSuite) TestCommitOpenRejectsShortEntry() {
	short := suite.intent("RELIANCE", 5, 2900)
	short.Side = types.SideSell

	// Close math realizes exit minus entry, so a short entry would book
	// inverted PnL; the store refuses it outright.
	_, err := suite.store.CommitOpen(short, suite.fill("ord-1", "RELIANCE", 5, 2900))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidOrderIntent))
	suite.Equal(0, suite.store.OpenPositionCount())
	suite.InDelta(100000.0, suite.store.Cash(), 1e-9)
	suite.assertConservation()
}

func (suite *PortfolioTestSuite) TestCommitCloseRealizesPnL() {
	_, err := suite.store.CommitOpen(suite.intent("RELIANCE", 5, 2900), suite.fill("ord-1", "RELIANCE", 5, 2900))
	suite.Require().NoError(err)

	record, err := suite.store.CommitClose(suite.fill("ord-2", "RELIANCE", 5, 2950))
	suite.Require().NoError(err)

	suite.InDelta(5*(2950-2900), record.PnL, 1e-9)
	suite.InDelta(250.0, suite.store.RealizedPnL(), 1e-9)
	suite.InDelta(20.0, suite.store.FeesPaid(), 1e-9)
	suite.Equal(0, suite.store.OpenPositionCount())
	suite.assertConservation()
}

func (suite *PortfolioTestSuite) TestPartialCloseShrinksPosition() {
	_, err := suite.store.CommitOpen(suite.intent("RELIANCE", 10, 2900), suite.fill("ord-1", "RELIANCE", 10, 2900))
	suite.Require().NoError(err)

	_, err = suite.store.CommitClose(suite.fill("ord-2", "RELIANCE", 4, 2950))
	suite.Require().NoError(err)

	pos, ok := suite.store.GetPosition("RELIANCE")
	suite.Require().True(ok)
	suite.InDelta(6.0, pos.Quantity, 1e-9)
	suite.InDelta(2900.0, pos.AvgEntryPrice, 1e-9)
	suite.assertConservation()
}

func (suite *PortfolioTestSuite) TestCloseClampsToHeldQuantity() {
	_, err := suite.store.CommitOpen(suite.intent("RELIANCE", 5, 2900), suite.fill("ord-1", "RELIANCE", 5, 2900))
	suite.Require().NoError(err)

	record, err := suite.store.CommitClose(suite.fill("ord-2", "RELIANCE", 8, 2950))
	suite.Require().NoError(err)
	suite.InDelta(5.0, record.Quantity, 1e-9)
	suite.Equal(0, suite.store.OpenPositionCount())
	suite.assertConservation()
}

func (suite *PortfolioTestSuite) TestCommitCloseWithoutPosition() {
	_, err := suite.store.CommitClose(suite.fill("ord-1", "RELIANCE", 5, 2900))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodePositionNotFound))
}

func (suite *PortfolioTestSuite) TestScaleInAveragesEntryPrice() {
	_, err := suite.store.CommitOpen(suite.intent("RELIANCE", 4, 2900), suite.fill("ord-1", "RELIANCE", 4, 2900))
	suite.Require().NoError(err)

	pos, err := suite.store.CommitOpen(suite.intent("RELIANCE", 4, 3000), suite.fill("ord-2", "RELIANCE", 4, 3000))
	suite.Require().NoError(err)

	suite.InDelta(8.0, pos.Quantity, 1e-9)
	suite.InDelta(2950.0, pos.AvgEntryPrice, 1e-9)
	suite.Equal(1, suite.store.OpenPositionCount())
	suite.assertConservation()
}

func (suite *PortfolioTestSuite) TestCheckOpen() {
	tests := []struct {
		name     string
		intent   types.OrderIntent
		expected errors.ErrorCode
	}{
		{name: "within limits", intent: suite.intent("RELIANCE", 5, 2900), expected: 0},
		{name: "exceeds notional fraction", intent: suite.intent("RELIANCE", 10, 2900), expected: errors.ErrCodePositionLimitExceeded},
		{name: "exceeds cash", intent: suite.intent("RELIANCE", 60, 2900), expected: errors.ErrCodePositionLimitExceeded},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			err := suite.store.CheckOpen(tc.intent)
			if tc.expected == 0 {
				suite.NoError(err)
			} else {
				suite.Require().Error(err)
				suite.True(errors.HasCode(err, tc.expected))
			}
		})
	}
}

func (suite *PortfolioTestSuite) TestCheckOpenInsufficientFunds() {
	// Drain most of the cash with committed positions
	for i, symbol := range []string{"A", "B"} {
		intent := suite.intent(symbol, 6, 2900)
		_, err := suite.store.CommitOpen(intent, suite.fill(uuid.New().String(), symbol, 6, 2900+float64(i)))
		suite.Require().NoError(err)
	}

	// Notional is within the per-position cap but cash cannot cover it
	err := suite.store.CheckOpen(suite.intent("C", 6, 2900))
	suite.NoError(err)

	_, err = suite.store.CommitOpen(suite.intent("C", 6, 2900), suite.fill("ord-c", "C", 6, 2900))
	suite.Require().NoError(err)

	err = suite.store.CheckOpen(suite.intent("D", 6, 2900))
	suite.Require().Error(err)
	// Position count cap fires first with three open positions
	suite.True(errors.HasCode(err, errors.ErrCodePositionLimitExceeded))
}

func (suite *PortfolioTestSuite) TestCheckOpenMaxPositions() {
	for _, symbol := range []string{"A", "B", "C"} {
		_, err := suite.store.CommitOpen(suite.intent(symbol, 1, 100), suite.fill(uuid.New().String(), symbol, 1, 100))
		suite.Require().NoError(err)
	}

	err := suite.store.CheckOpen(suite.intent("D", 1, 100))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodePositionLimitExceeded))

	// Scaling into an already-open symbol is not a new position
	suite.NoError(suite.store.CheckOpen(suite.intent("A", 1, 100)))
}

func (suite *PortfolioTestSuite) TestSetAndClearStop() {
	_, err := suite.store.CommitOpen(suite.intent("RELIANCE", 5, 2900), suite.fill("ord-1", "RELIANCE", 5, 2900))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.store.SetStop("RELIANCE", "stop-1", 2842))

	pos, ok := suite.store.GetPosition("RELIANCE")
	suite.Require().True(ok)
	suite.Equal("stop-1", pos.StopOrderID)
	suite.InDelta(2842.0, pos.StopPrice, 1e-9)

	suite.store.ClearStop("RELIANCE")
	pos, _ = suite.store.GetPosition("RELIANCE")
	suite.Empty(pos.StopOrderID)

	err = suite.store.SetStop("TCS", "stop-2", 100)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodePositionNotFound))
}

func (suite *PortfolioTestSuite) TestAdjustQuantityPreservesConservation() {
	_, err := suite.store.CommitOpen(suite.intent("RELIANCE", 6, 2900), suite.fill("ord-1", "RELIANCE", 6, 2900))
	suite.Require().NoError(err)

	// Brokerage reports only 4 executed; the difference settles at entry price
	suite.Require().NoError(suite.store.AdjustQuantity("RELIANCE", 4))

	pos, ok := suite.store.GetPosition("RELIANCE")
	suite.Require().True(ok)
	suite.InDelta(4.0, pos.Quantity, 1e-9)
	suite.assertConservation()

	// Adjusting to zero removes the position entirely
	suite.Require().NoError(suite.store.AdjustQuantity("RELIANCE", 0))
	suite.Equal(0, suite.store.OpenPositionCount())
	suite.assertConservation()
}

func (suite *PortfolioTestSuite) TestOpenGroups() {
	intent := suite.intent("RELIANCE", 1, 100)
	intent.Group = "ENERGY"
	_, err := suite.store.CommitOpen(intent, suite.fill("ord-1", "RELIANCE", 1, 100))
	suite.Require().NoError(err)

	intent = suite.intent("TCS", 1, 100)
	intent.Group = "IT"
	_, err = suite.store.CommitOpen(intent, suite.fill("ord-2", "TCS", 1, 100))
	suite.Require().NoError(err)

	groups := suite.store.OpenGroups()
	suite.Equal(1, groups["ENERGY"])
	suite.Equal(1, groups["IT"])
}

func (suite *PortfolioTestSuite) TestSnapshotRestoreRoundTrip() {
	_, err := suite.store.CommitOpen(suite.intent("RELIANCE", 5, 2900), suite.fill("ord-1", "RELIANCE", 5, 2900))
	suite.Require().NoError(err)
	suite.Require().NoError(suite.store.SetStop("RELIANCE", "stop-1", 2842))

	snap := suite.store.Snapshot()

	fresh, err := NewStore(config.PortfolioConfig{InitialCapital: 1}, NewZeroCommission(), nil, logger.NewNopLogger())
	suite.Require().NoError(err)
	fresh.Restore(snap)

	suite.InDelta(suite.store.Cash(), fresh.Cash(), 1e-9)
	suite.InDelta(suite.store.FeesPaid(), fresh.FeesPaid(), 1e-9)

	pos, ok := fresh.GetPosition("RELIANCE")
	suite.Require().True(ok)
	suite.Equal("stop-1", pos.StopOrderID)
}

func (suite *PortfolioTestSuite) TestConservationThroughTradeSequence() {
	symbols := []string{"A", "B", "C"}
	for i, symbol := range symbols {
		intent := suite.intent(symbol, 3, 1000+float64(100*i))
		_, err := suite.store.CommitOpen(intent, suite.fill(uuid.New().String(), symbol, 3, 1005+float64(100*i)))
		suite.Require().NoError(err)
		suite.assertConservation()
	}

	_, err := suite.store.CommitClose(suite.fill("ord-x", "A", 3, 1100))
	suite.Require().NoError(err)
	suite.assertConservation()

	_, err = suite.store.CommitClose(suite.fill("ord-y", "B", 1, 950))
	suite.Require().NoError(err)
	suite.assertConservation()
}
