package risk

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-execution/internal/config"
	"github.com/rxtech-lab/argo-execution/internal/gateway/gatewaytest"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/portfolio"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type RiskGateTestSuite struct {
	suite.Suite
	ledger *Ledger
	fake   *gatewaytest.FakeGateway
	store  *portfolio.Store
	gate   *Gate
}

func TestRiskGateSuite(t *testing.T) {
	suite.Run(t, new(RiskGateTestSuite))
}

func (suite *RiskGateTestSuite) SetupTest() {
	suite.ledger = NewLedger()
	suite.fake = gatewaytest.NewFakeGateway()
	suite.fake.Margins[types.SegmentEquity] = 100000

	store, err := portfolio.NewStore(config.PortfolioConfig{
		InitialCapital:      100000,
		MaxPositionFraction: 0.20,
		MaxOpenPositions:    10,
	}, portfolio.NewZeroCommission(), nil, logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.store = store

	suite.gate = NewGate(config.RiskConfig{
		HighCorrelationPairs: [][]string{{"NIFTY", "BANKNIFTY"}},
		MediumCorrelationGroups: []config.MediumCorrelationGroup{
			{Groups: []string{"IT", "TECH_MIDCAP"}, MaxSimultaneous: 2},
		},
		SectorLimits:       map[string]int{"ENERGY": 1},
		DefaultSectorLimit: 2,
	}, suite.ledger, suite.fake, suite.store, logger.NewNopLogger())
}

func (suite *RiskGateTestSuite) intent(symbol, group string, class types.InstrumentClass, qty, price float64) types.OrderIntent {
	return types.OrderIntent{
		ID:             uuid.New().String(),
		Symbol:         symbol,
		Side:           types.SideBuy,
		Quantity:       qty,
		ReferencePrice: price,
		Class:          class,
		Group:          group,
		StrategyName:   "test",
	}
}

// Open NIFTY at the 20% notional limit, then attempt a position in the
// correlated BANKNIFTY group.
func (suite *RiskGateTestSuite) TestHighCorrelationRejection() {
	first := suite.intent("NIFTY24FUT", "NIFTY", types.InstrumentDerivativeIndex, 10, 2000)
	suite.fake.Margins[types.SegmentEquity] = 100000

	suite.Require().NoError(suite.gate.Admit(context.Background(), first))

	// Fill confirmed elsewhere; the ledger learns about it only then
	suite.ledger.RecordOpen(first.Symbol, first.Group)

	second := suite.intent("BANKNIFTY24FUT", "BANKNIFTY", types.InstrumentDerivativeIndex, 5, 2000)
	err := suite.gate.Admit(context.Background(), second)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeCorrelationConflict))
}

func (suite *RiskGateTestSuite) TestAdmitsUnrelatedGroup() {
	suite.ledger.RecordOpen("NIFTY24FUT", "NIFTY")

	intent := suite.intent("RELIANCE", "ENERGY", types.InstrumentEquity, 5, 2900)
	suite.NoError(suite.gate.Admit(context.Background(), intent))
}

func (suite *RiskGateTestSuite) TestMarginInsufficient() {
	suite.fake.Margins[types.SegmentEquity] = 1000

	intent := suite.intent("RELIANCE", "ENERGY", types.InstrumentEquity, 5, 2900)
	err := suite.gate.Admit(context.Background(), intent)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeMarginInsufficient))
}

func (suite *RiskGateTestSuite) TestMarginQueryFailureFallsBackToLocalCash() {
	suite.fake.MarginErr = errors.New(errors.ErrCodeQueryFailed, "brokerage unavailable")

	// Local cash (100,000) covers the order, so the conservative fallback admits
	intent := suite.intent("RELIANCE", "ENERGY", types.InstrumentEquity, 5, 2900)
	suite.NoError(suite.gate.Admit(context.Background(), intent))
}

func (suite *RiskGateTestSuite) TestMarginQueryUsesMappedSegment() {
	intent := suite.intent("NIFTY24FUT", "NIFTY", types.InstrumentDerivativeIndex, 2, 5000)
	suite.NoError(suite.gate.Admit(context.Background(), intent))

	// Index derivatives are backed by the equity pool via the class-to-segment
	// table; the gate must query that segment, not a hardcoded one.
	suite.Require().NotEmpty(suite.fake.MarginQueries)
	suite.Equal(types.SegmentEquity, suite.fake.MarginQueries[len(suite.fake.MarginQueries)-1])
}

func (suite *RiskGateTestSuite) TestMediumCorrelationCap() {
	suite.ledger.RecordOpen("TCS", "IT")
	suite.ledger.RecordOpen("MIDTECH", "TECH_MIDCAP")

	intent := suite.intent("INFY", "IT", types.InstrumentEquity, 5, 1500)
	err := suite.gate.Admit(context.Background(), intent)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeCorrelationConflict))
}

func (suite *RiskGateTestSuite) TestSectorExposureLimit() {
	suite.ledger.RecordOpen("RELIANCE", "ENERGY")

	// ENERGY is capped at 1
	intent := suite.intent("ONGC", "ENERGY", types.InstrumentEquity, 5, 200)
	err := suite.gate.Admit(context.Background(), intent)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeExposureLimitExceeded))

	// Unlisted sectors use the default limit of 2
	suite.ledger.RecordOpen("TCS", "IT")
	suite.NoError(suite.gate.Admit(context.Background(), suite.intent("INFY", "IT", types.InstrumentEquity, 5, 1500)))

	suite.ledger.RecordOpen("INFY", "IT")
	err = suite.gate.Admit(context.Background(), suite.intent("WIPRO", "IT", types.InstrumentEquity, 5, 500))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeExposureLimitExceeded))
}

func (suite *RiskGateTestSuite) TestRejectionDoesNotMutateLedger() {
	suite.ledger.RecordOpen("RELIANCE", "ENERGY")

	intent := suite.intent("ONGC", "ENERGY", types.InstrumentEquity, 5, 200)
	err := suite.gate.Admit(context.Background(), intent)
	suite.Require().Error(err)

	// Admit twice more; the rejection itself never consumes exposure
	for i := 0; i < 2; i++ {
		err = suite.gate.Admit(context.Background(), intent)
		suite.Require().Error(err)
	}

	suite.Equal(1, suite.ledger.OpenCount())
}

func (suite *RiskGateTestSuite) TestInvalidIntentRejected() {
	err := suite.gate.Admit(context.Background(), types.OrderIntent{}) //nolint:exhaustruct // deliberately invalid
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidOrderIntent))
}

type LedgerTestSuite struct {
	suite.Suite
	ledger *Ledger
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (suite *LedgerTestSuite) SetupTest() {
	suite.ledger = NewLedger()
}

func (suite *LedgerTestSuite) TestRecordOpenIsIdempotent() {
	suite.ledger.RecordOpen("RELIANCE", "ENERGY")
	suite.ledger.RecordOpen("RELIANCE", "ENERGY")

	suite.Equal(1, suite.ledger.GroupCount("ENERGY"))
	suite.Equal(1, suite.ledger.OpenCount())
}

func (suite *LedgerTestSuite) TestRecordCloseRemoves() {
	suite.ledger.RecordOpen("RELIANCE", "ENERGY")
	suite.ledger.RecordOpen("ONGC", "ENERGY")

	suite.ledger.RecordClose("RELIANCE")
	suite.Equal(1, suite.ledger.GroupCount("ENERGY"))

	// Closing an unknown symbol is a no-op
	suite.ledger.RecordClose("MISSING")
	suite.Equal(1, suite.ledger.OpenCount())
}

func (suite *LedgerTestSuite) TestOpenGroups() {
	suite.ledger.RecordOpen("RELIANCE", "ENERGY")
	suite.ledger.RecordOpen("ONGC", "ENERGY")
	suite.ledger.RecordOpen("TCS", "IT")

	groups := suite.ledger.OpenGroups()
	suite.Equal(2, groups["ENERGY"])
	suite.Equal(1, groups["IT"])
}
