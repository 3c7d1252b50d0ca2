// Package runtime defines the stage and state vocabulary shared by the
// turn orchestrator and telemetry, keeping instrumentation decoupled from
// execution mechanics.
package runtime

// Stage identifies one step of the turn pipeline.
type Stage string

const (
	// StageRateCheck is the per-session admission check.
	StageRateCheck Stage = "rate_check"
	// StageInputValidate screens the user message.
	StageInputValidate Stage = "input_validate"
	// StageModelCall invokes the upstream model.
	StageModelCall Stage = "model_call"
	// StageOutputValidate screens the model reply.
	StageOutputValidate Stage = "output_validate"
	// StagePolicyCheck evaluates the operator policy hook.
	StagePolicyCheck Stage = "policy_check"
	// StageDeliver commits the turn to history and returns the reply.
	StageDeliver Stage = "deliver"
)

// State classifies how a turn ended.
type State string

const (
	// StateDelivered means the reply passed every check and was returned.
	StateDelivered State = "delivered"
	// StateRejected means a guardrail or policy stopped the turn.
	StateRejected State = "rejected"
	// StateErrored means the upstream model call failed.
	StateErrored State = "errored"
)

// StageOutcome classifies one stage execution for metrics.
type StageOutcome string

const (
	// OutcomeOK indicates the stage passed.
	OutcomeOK StageOutcome = "ok"
	// OutcomeRejected indicates the stage stopped the turn.
	OutcomeRejected StageOutcome = "rejected"
	// OutcomeRateLimited indicates the session was throttled.
	OutcomeRateLimited StageOutcome = "rate_limited"
	// OutcomeError indicates the stage failed to execute.
	OutcomeError StageOutcome = "error"
)
