// Package engine runs the guarded turn pipeline for chat traffic.
//
// Architecture:
//
// orchestrator.go - Turn state machine (RunTurn, stage spans, terminal states)
// runtime/        - Stage, state, and outcome vocabulary shared with telemetry
//
// Every turn passes through a fixed stage sequence: rate_check,
// input_validate, model_call, output_validate, policy_check (when a hook
// is configured), and deliver. A stage either advances the turn or ends
// it in one of three terminal states: Delivered, Rejected, or Errored.
// Rejected and errored turns never mutate the session transcript.
package engine
