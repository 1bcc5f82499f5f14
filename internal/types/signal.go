package types

// VoteAction is the direction a strategy evaluator recommends.
type VoteAction string

const (
	VoteActionBuy  VoteAction = "BUY"
	VoteActionSell VoteAction = "SELL"
	VoteActionHold VoteAction = "HOLD"
)

// Vote is a single strategy evaluator's recommendation for a symbol during
// one control-loop iteration. Signal generation is external to the engine;
// the admission policy only aggregates votes.
type Vote struct {
	StrategyID string     `yaml:"strategy_id" json:"strategy_id"`
	Action     VoteAction `yaml:"action" json:"action"`
	// Confidence is in [0, 1]; informational, not weighted by the policy.
	Confidence float64 `yaml:"confidence" json:"confidence"`
}

// EngineStatus describes the control loop's run state for the control surface.
type EngineStatus string

const (
	EngineStatusStopped EngineStatus = "STOPPED"
	EngineStatusRunning EngineStatus = "RUNNING"
	// EngineStatusHalted means the circuit is open: new trades are paused but
	// reconciliation and persistence continue.
	EngineStatusHalted EngineStatus = "HALTED"
)
