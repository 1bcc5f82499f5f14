package stops

import (
	"context"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-execution/internal/config"
	"github.com/rxtech-lab/argo-execution/internal/gateway/gatewaytest"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/portfolio"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type StopManagerTestSuite struct {
	suite.Suite
	fake    *gatewaytest.FakeGateway
	store   *portfolio.Store
	manager *Manager
}

func TestStopManagerSuite(t *testing.T) {
	suite.Run(t, new(StopManagerTestSuite))
}

func (suite *StopManagerTestSuite) SetupTest() {
	suite.fake = gatewaytest.NewFakeGateway()

	store, err := portfolio.NewStore(config.PortfolioConfig{
		InitialCapital: 100000,
	}, portfolio.NewZeroCommission(), nil, logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.store = store

	suite.manager = NewManager(suite.fake, suite.store, 2.0, logger.NewNopLogger())
}

func (suite *StopManagerTestSuite) position(symbol string, qty, entry float64) types.Position {
	return types.Position{
		Symbol:        symbol,
		Quantity:      qty,
		AvgEntryPrice: entry,
		OpenedAt:      time.Now().UTC(),
		StrategyName:  "test",
		Class:         types.InstrumentEquity,
		Group:         "ENERGY",
	}
}

func (suite *StopManagerTestSuite) TestArmPlacesStopBelowFillPrice() {
	stopID, err := suite.manager.Arm(context.Background(), suite.position("RELIANCE", 5, 2900))
	suite.Require().NoError(err)
	suite.NotEmpty(stopID)

	stop, armed := suite.manager.Get("RELIANCE")
	suite.Require().True(armed)
	suite.Equal(types.SideSell, stop.Instruction.Side)
	// 2% below the fill price, not the reference price
	suite.InDelta(2900*0.98, stop.Instruction.TriggerPrice, 1e-9)
	suite.Less(stop.Instruction.LimitPrice, stop.Instruction.TriggerPrice)
	suite.True(suite.fake.HasStop(stopID))
}

func (suite *StopManagerTestSuite) TestArmRecordsStopOnPosition() {
	pos := suite.position("RELIANCE", 5, 2900)

	intent := types.OrderIntent{
		ID:             "11111111-1111-1111-1111-111111111111",
		Symbol:         "RELIANCE",
		Side:           types.SideBuy,
		Quantity:       5,
		ReferencePrice: 2900,
		Class:          types.InstrumentEquity,
		Group:          "ENERGY",
		StrategyName:   "test",
	}
	_, err := suite.store.CommitOpen(intent, types.Fill{
		OrderID:        "ord-1",
		Symbol:         "RELIANCE",
		State:          types.OrderStateFilled,
		FilledQuantity: 5,
		AvgFillPrice:   2900,
		ExecutedAt:     time.Now().UTC(),
	})
	suite.Require().NoError(err)

	stopID, err := suite.manager.Arm(context.Background(), pos)
	suite.Require().NoError(err)

	stored, ok := suite.store.GetPosition("RELIANCE")
	suite.Require().True(ok)
	suite.Equal(stopID, stored.StopOrderID)
	suite.InDelta(2900*0.98, stored.StopPrice, 1e-9)
}

func (suite *StopManagerTestSuite) TestArmReplacesExistingStop() {
	first, err := suite.manager.Arm(context.Background(), suite.position("RELIANCE", 5, 2900))
	suite.Require().NoError(err)

	// Scale-in grew the position; the replacement stop covers the new quantity
	second, err := suite.manager.Arm(context.Background(), suite.position("RELIANCE", 10, 2950))
	suite.Require().NoError(err)

	suite.NotEqual(first, second)
	suite.Equal(1, suite.manager.ActiveCount())
	suite.False(suite.fake.HasStop(first))
	suite.True(suite.fake.HasStop(second))

	stop, _ := suite.manager.Get("RELIANCE")
	suite.InDelta(10.0, stop.Instruction.Quantity, 1e-9)
}

func (suite *StopManagerTestSuite) TestArmShortPositionUsesBuyStop() {
	stopID, err := suite.manager.Arm(context.Background(), suite.position("NIFTY24FUT", -5, 2000))
	suite.Require().NoError(err)
	suite.NotEmpty(stopID)

	stop, _ := suite.manager.Get("NIFTY24FUT")
	suite.Equal(types.SideBuy, stop.Instruction.Side)
	suite.InDelta(5.0, stop.Instruction.Quantity, 1e-9)
	suite.InDelta(2000*1.02, stop.Instruction.TriggerPrice, 1e-9)
	suite.Greater(stop.Instruction.LimitPrice, stop.Instruction.TriggerPrice)
}

func (suite *StopManagerTestSuite) TestArmFlatPositionRejected() {
	_, err := suite.manager.Arm(context.Background(), suite.position("RELIANCE", 0, 2900))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeStopCreateFailed))
}

func (suite *StopManagerTestSuite) TestArmGatewayFailure() {
	suite.fake.StopCreateErr = errors.New(errors.ErrCodeGatewayUnavailable, "brokerage down")

	_, err := suite.manager.Arm(context.Background(), suite.position("RELIANCE", 5, 2900))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeStopCreateFailed))
	suite.Equal(0, suite.manager.ActiveCount())
}

func (suite *StopManagerTestSuite) TestDisarmRemovesStop() {
	stopID, err := suite.manager.Arm(context.Background(), suite.position("RELIANCE", 5, 2900))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.manager.Disarm(context.Background(), "RELIANCE"))
	suite.False(suite.manager.Has("RELIANCE"))
	suite.False(suite.fake.HasStop(stopID))
}

func (suite *StopManagerTestSuite) TestDisarmUnknownSymbol() {
	err := suite.manager.Disarm(context.Background(), "MISSING")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeStopNotFound))
}

func (suite *StopManagerTestSuite) TestDisarmFailureLeavesStopArmed() {
	_, err := suite.manager.Arm(context.Background(), suite.position("RELIANCE", 5, 2900))
	suite.Require().NoError(err)

	suite.fake.StopCancelErr = errors.New(errors.ErrCodeGatewayUnavailable, "brokerage down")

	err = suite.manager.Disarm(context.Background(), "RELIANCE")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeStopCancelFailed))
	// The stop stays armed until the cancel is confirmed
	suite.True(suite.manager.Has("RELIANCE"))
}

func (suite *StopManagerTestSuite) TestMarkTriggeredSkipsCancel() {
	_, err := suite.manager.Arm(context.Background(), suite.position("RELIANCE", 5, 2900))
	suite.Require().NoError(err)

	before := suite.fake.StopCancelCalls
	suite.manager.MarkTriggered("RELIANCE")

	suite.False(suite.manager.Has("RELIANCE"))
	suite.Equal(before, suite.fake.StopCancelCalls)
}

func (suite *StopManagerTestSuite) TestRearmFromSnapshot() {
	positions := map[string]types.Position{
		"RELIANCE": {
			Symbol:        "RELIANCE",
			Quantity:      5,
			AvgEntryPrice: 2900,
			StopPrice:     2842,
			StopOrderID:   "stop-77",
			Class:         types.InstrumentEquity,
			Group:         "ENERGY",
		},
		"TCS": {
			Symbol:        "TCS",
			Quantity:      3,
			AvgEntryPrice: 4100,
			Class:         types.InstrumentEquity,
			Group:         "IT",
		},
	}

	before := suite.fake.StopCreateCalls
	suite.manager.Rearm(positions)

	// Only the position that had a brokerage stop is re-registered, and no
	// new stop is created at the brokerage
	suite.Equal(1, suite.manager.ActiveCount())
	suite.True(suite.manager.Has("RELIANCE"))
	suite.False(suite.manager.Has("TCS"))
	suite.Equal(before, suite.fake.StopCreateCalls)

	stop, _ := suite.manager.Get("RELIANCE")
	suite.Equal("stop-77", stop.StopID)
}
