// Package policy converts multi-strategy votes into admit/reject decisions
// with asymmetric agreement thresholds for opening versus closing.
package policy

import (
	"context"

	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"go.uber.org/zap"
)

// StrategyEvaluator produces one vote per symbol per iteration. Evaluators
// are independent; the engine does not compute signals itself.
type StrategyEvaluator interface {
	// Name identifies the evaluator in votes and logs.
	Name() string
	// Evaluate returns the evaluator's vote for a symbol.
	Evaluate(ctx context.Context, symbol string) (types.Vote, error)
}

// Decision is the aggregated outcome for one symbol.
type Decision struct {
	Action types.VoteAction
	// Agreement is the fraction of evaluators backing the action.
	Agreement float64
	// Votes is the number of evaluators that produced a vote.
	Votes int
}

// Policy aggregates votes. Entries are deliberately selective: opening needs
// agreement from at least openAgreement of the evaluators. Exits favor
// defensiveness over consensus: any single sell vote on a held position is
// enough, because an exit signal's job is risk reduction, not timing.
type Policy struct {
	openAgreement float64
	logger        *logger.Logger
}

// NewPolicy creates an admission policy with the given entry threshold.
func NewPolicy(openAgreement float64, logger *logger.Logger) *Policy {
	return &Policy{
		openAgreement: openAgreement,
		logger:        logger,
	}
}

// Decide aggregates votes into an action. The caller passes isExit explicitly
// based on whether a position is already held; the policy never infers it
// from the votes, because the threshold depends on that knowledge.
func (p *Policy) Decide(votes []types.Vote, isExit bool) Decision {
	total := len(votes)
	if total == 0 {
		return Decision{Action: types.VoteActionHold, Agreement: 0, Votes: 0}
	}

	buys := 0
	sells := 0

	for _, vote := range votes {
		switch vote.Action {
		case types.VoteActionBuy:
			buys++
		case types.VoteActionSell:
			sells++
		case types.VoteActionHold:
		}
	}

	if isExit {
		// 1/N: a single exit vote suffices
		if sells >= 1 {
			return Decision{
				Action:    types.VoteActionSell,
				Agreement: float64(sells) / float64(total),
				Votes:     total,
			}
		}

		return Decision{Action: types.VoteActionHold, Agreement: 0, Votes: total}
	}

	agreement := float64(buys) / float64(total)
	if agreement >= p.openAgreement {
		return Decision{Action: types.VoteActionBuy, Agreement: agreement, Votes: total}
	}

	return Decision{Action: types.VoteActionHold, Agreement: agreement, Votes: total}
}

// Aggregator collects votes from a set of evaluators. An evaluator error
// drops that vote rather than failing the iteration.
type Aggregator struct {
	evaluators []StrategyEvaluator
	logger     *logger.Logger
}

// NewAggregator creates an aggregator over the given evaluators.
func NewAggregator(evaluators []StrategyEvaluator, logger *logger.Logger) *Aggregator {
	return &Aggregator{
		evaluators: evaluators,
		logger:     logger,
	}
}

// Collect gathers one vote per evaluator for a symbol.
func (a *Aggregator) Collect(ctx context.Context, symbol string) []types.Vote {
	votes := make([]types.Vote, 0, len(a.evaluators))

	for _, evaluator := range a.evaluators {
		vote, err := evaluator.Evaluate(ctx, symbol)
		if err != nil {
			a.logger.Warn("strategy evaluation failed",
				zap.String("strategy", evaluator.Name()),
				zap.String("symbol", symbol),
				zap.Error(err))

			continue
		}

		vote.StrategyID = evaluator.Name()
		votes = append(votes, vote)
	}

	return votes
}

// EvaluatorCount returns the number of configured evaluators.
func (a *Aggregator) EvaluatorCount() int {
	return len(a.evaluators)
}
