package breaker

import (
	"testing"
	"time"

	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/stretchr/testify/suite"
)

type BreakerTestSuite struct {
	suite.Suite
	log *logger.Logger
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerTestSuite))
}

func (suite *BreakerTestSuite) SetupSuite() {
	suite.log = logger.NewNopLogger()
}

func (suite *BreakerTestSuite) TestStartsClosed() {
	b := NewBreaker(5, time.Minute, suite.log)
	suite.Equal(StateClosed, b.State())
	suite.True(b.CanProceed())
	suite.Equal(0, b.ConsecutiveFailures())
}

func (suite *BreakerTestSuite) TestOpensAtThreshold() {
	b := NewBreaker(5, time.Minute, suite.log)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		suite.Equal(StateClosed, b.State())
		suite.True(b.CanProceed())
	}

	b.RecordFailure()
	suite.Equal(StateOpen, b.State())
	suite.False(b.CanProceed())
	suite.Equal(5, b.ConsecutiveFailures())
}

func (suite *BreakerTestSuite) TestSuccessResetsCounter() {
	b := NewBreaker(5, time.Minute, suite.log)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	suite.Equal(0, b.ConsecutiveFailures())

	// Counter restarts, so four more failures stay closed
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	suite.Equal(StateClosed, b.State())
}

func (suite *BreakerTestSuite) TestHalfOpenSingleTrialThenClose() {
	b := NewBreaker(5, 20*time.Millisecond, suite.log)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	suite.Equal(StateOpen, b.State())
	suite.False(b.CanProceed())

	time.Sleep(30 * time.Millisecond)

	// One trial is admitted; subsequent checks are refused while it is pending
	suite.True(b.CanProceed())
	suite.Equal(StateHalfOpen, b.State())
	suite.False(b.CanProceed())

	b.RecordSuccess()
	suite.Equal(StateClosed, b.State())
	suite.Equal(0, b.ConsecutiveFailures())
	suite.True(b.CanProceed())
}

func (suite *BreakerTestSuite) TestHalfOpenFailureReopens() {
	b := NewBreaker(2, 20*time.Millisecond, suite.log)

	b.RecordFailure()
	b.RecordFailure()
	suite.Equal(StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	suite.True(b.CanProceed())
	suite.Equal(StateHalfOpen, b.State())

	b.RecordFailure()
	suite.Equal(StateOpen, b.State())

	// Timer restarted: still refused immediately after the failed trial
	suite.False(b.CanProceed())
}

func (suite *BreakerTestSuite) TestForceClose() {
	b := NewBreaker(2, time.Hour, suite.log)

	b.RecordFailure()
	b.RecordFailure()
	suite.Equal(StateOpen, b.State())

	b.ForceClose()
	suite.Equal(StateClosed, b.State())
	suite.Equal(0, b.ConsecutiveFailures())
	suite.True(b.CanProceed())
}

func (suite *BreakerTestSuite) TestTransitionCallback() {
	b := NewBreaker(1, time.Hour, suite.log)

	var transitions [][2]State
	b.SetTransitionCallback(func(from, to State) {
		transitions = append(transitions, [2]State{from, to})
	})

	b.RecordFailure()
	b.ForceClose()

	suite.Require().Len(transitions, 2)
	suite.Equal([2]State{StateClosed, StateOpen}, transitions[0])
	suite.Equal([2]State{StateOpen, StateClosed}, transitions[1])
}
