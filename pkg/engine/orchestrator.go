package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rampart-ai/rampart/internal/tokens"
	"github.com/rampart-ai/rampart/pkg/domain"
	"github.com/rampart-ai/rampart/pkg/engine/runtime"
	"github.com/rampart-ai/rampart/pkg/guard"
	"github.com/rampart-ai/rampart/pkg/history"
	"github.com/rampart-ai/rampart/pkg/model"
	"github.com/rampart-ai/rampart/pkg/policy"
	"github.com/rampart-ai/rampart/pkg/respond"
	"github.com/rampart-ai/rampart/pkg/telemetry"
)

// Options configures an Orchestrator. Zero-value fields fall back to a
// default guardrails facade, the offline local provider, an in-memory
// store, the default conversation budget, the heuristic token
// estimator, and the process logger. Policy stays nil unless set; a nil
// hook means every turn is allowed.
type Options struct {
	Guard     *guard.Guardrails
	Generator model.Generator
	Store     history.Store
	Budget    history.Budget
	Estimator tokens.Estimator
	Policy    policy.Hook
	Scrub     []telemetry.ScrubRule
	Logger    *slog.Logger
}

// Orchestrator runs the fixed turn pipeline: rate_check, input_validate,
// model_call, output_validate, policy_check, deliver. Each stage either
// advances the turn or ends it in a terminal state; there are no retries
// and no background work.
type Orchestrator struct {
	guard     *guard.Guardrails
	generator model.Generator
	store     history.Store
	budget    history.Budget
	estimator tokens.Estimator
	policy    policy.Hook
	scrub     []telemetry.ScrubRule
	logger    *slog.Logger
}

// TurnResult is the terminal record of one conversational turn. Reply is
// always safe to show: validated text for delivered turns, configured
// copy for rejected and errored ones. Err mirrors the error returned by
// RunTurn so results can travel without losing the failure taxonomy.
type TurnResult struct {
	TurnID     string
	SessionID  string
	State      runtime.State
	Stage      runtime.Stage
	Reply      string
	Metadata   domain.TurnMetadata
	Input      domain.InputVerdict
	Output     domain.OutputVerdict
	RetryAfter time.Duration
	Err        error
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Guard == nil {
		opts.Guard = guard.New(guard.Options{Config: guard.DefaultConfig()})
	}
	if opts.Generator == nil {
		opts.Generator = model.NewLocalProvider()
	}
	if opts.Store == nil {
		opts.Store = history.NewMemoryStore()
	}
	if opts.Budget == (history.Budget{}) {
		opts.Budget = history.DefaultBudget()
	}
	if opts.Estimator == nil {
		opts.Estimator = tokens.HeuristicEstimator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Orchestrator{
		guard:     opts.Guard,
		generator: opts.Generator,
		store:     opts.Store,
		budget:    opts.Budget,
		estimator: opts.Estimator,
		policy:    opts.Policy,
		scrub:     opts.Scrub,
		logger:    opts.Logger,
	}
}

// RunTurn executes one turn of the pipeline for a session.
//
// The returned error is nil exactly when the turn was delivered.
// Rejections carry a *domain.RejectionError (ErrRateLimited,
// ErrInputRejected, or ErrOutputRejected), upstream failures a
// *domain.UpstreamError, and context cancellation surfaces the context's
// own error. The TurnResult is always populated, whatever the state.
func (o *Orchestrator) RunTurn(ctx context.Context, sessionID, userText string) (TurnResult, error) {
	result := TurnResult{
		TurnID:    uuid.NewString(),
		SessionID: sessionID,
		Metadata:  domain.TurnMetadata{RiskLevel: domain.RiskLow},
	}

	tracer := otel.Tracer("rampart.engine")
	ctx, turnSpan := tracer.Start(ctx, "rampart.turn",
		trace.WithAttributes(o.scrubAttrs(
			attribute.String("turn.id", result.TurnID),
			attribute.String("session.id", sessionID),
		)...))
	defer turnSpan.End()
	defer o.conclude(ctx, turnSpan, &result)

	o.logger.InfoContext(ctx, "turn started",
		"turn_id", result.TurnID,
		"session_id", sessionID,
	)

	// Stage: rate_check.
	if err := ctx.Err(); err != nil {
		return o.errored(ctx, &result, runtime.StageRateCheck, err), result.Err
	}
	run := o.beginStage(ctx, tracer, runtime.StageRateCheck)
	allowed, err := o.guard.CheckRateLimit(run.ctx, sessionID)
	if err != nil {
		o.endStage(run, runtime.OutcomeError, err)
		return o.errored(ctx, &result, runtime.StageRateCheck, err), result.Err
	}
	if !allowed {
		retryAfter := o.guard.RetryAfter(sessionID)
		run.span.SetAttributes(o.scrubAttrs(
			attribute.Int64("rate.retry_after_ms", retryAfter.Milliseconds()),
		)...)
		telemetry.RecordRejection(run.span, runtime.StageRateCheck, "rate_limited", domain.RiskLow)
		o.endStage(run, runtime.OutcomeRateLimited, nil)

		result.State = runtime.StateRejected
		result.Stage = runtime.StageRateCheck
		result.Reply = o.guard.Messages().RateLimited
		result.RetryAfter = retryAfter
		result.Err = &domain.RejectionError{Kind: domain.ErrRateLimited, Reason: result.Reply}
		o.logger.WarnContext(ctx, "turn rate limited",
			"turn_id", result.TurnID,
			"session_id", sessionID,
			"retry_after", retryAfter.String(),
		)
		return result, result.Err
	}
	o.endStage(run, runtime.OutcomeOK, nil)

	// Stage: input_validate.
	if err := ctx.Err(); err != nil {
		return o.errored(ctx, &result, runtime.StageInputValidate, err), result.Err
	}
	run = o.beginStage(ctx, tracer, runtime.StageInputValidate)
	input := o.guard.ValidateInput(run.ctx, sessionID, userText)
	result.Input = input
	o.recordInputChecks(run, input)
	if !input.IsValid {
		category := inputCategory(input)
		telemetry.RecordRejection(run.span, runtime.StageInputValidate, string(category), input.RiskLevel)
		o.endStage(run, runtime.OutcomeRejected, nil)

		result.State = runtime.StateRejected
		result.Stage = runtime.StageInputValidate
		result.Reply = input.RejectionReason
		result.Metadata.RiskLevel = input.RiskLevel
		result.Metadata.Categories = turnCategories(input, domain.OutputVerdict{})
		result.Err = &domain.RejectionError{
			Kind:     domain.ErrInputRejected,
			Category: category,
			Reason:   input.RejectionReason,
		}
		o.logger.WarnContext(ctx, "turn input rejected",
			"turn_id", result.TurnID,
			"session_id", sessionID,
			"category", string(category),
			"risk_level", string(input.RiskLevel),
		)
		return result, result.Err
	}
	o.endStage(run, runtime.OutcomeOK, nil)

	// The redacted text is what reaches the model and, on delivery, the
	// transcript. The raw input is gone past this point.
	prompt := input.FilteredText

	// Stage: model_call.
	if err := ctx.Err(); err != nil {
		return o.errored(ctx, &result, runtime.StageModelCall, err), result.Err
	}
	run = o.beginStage(ctx, tracer, runtime.StageModelCall)
	transcript, err := o.store.Messages(run.ctx, sessionID)
	if err != nil {
		o.endStage(run, runtime.OutcomeError, err)
		return o.errored(ctx, &result, runtime.StageModelCall, err), result.Err
	}
	transcript = o.budget.Trim(transcript, o.estimator)
	run.span.SetAttributes(o.scrubAttrs(
		attribute.Int("model.history_messages", len(transcript)),
	)...)

	reply, err := o.generator.Generate(run.ctx, prompt, transcript)
	if err != nil {
		if !errors.Is(err, domain.ErrUpstream) {
			err = &domain.UpstreamError{Cause: err}
		}
		o.endStage(run, runtime.OutcomeError, err)
		return o.errored(ctx, &result, runtime.StageModelCall, err), result.Err
	}
	run.span.SetAttributes(o.scrubAttrs(
		attribute.Int("model.reply_chars", len(reply)),
	)...)
	o.endStage(run, runtime.OutcomeOK, nil)

	// Stage: output_validate.
	if err := ctx.Err(); err != nil {
		return o.errored(ctx, &result, runtime.StageOutputValidate, err), result.Err
	}
	run = o.beginStage(ctx, tracer, runtime.StageOutputValidate)
	output := o.guard.ValidateOutput(run.ctx, reply)
	result.Output = output
	o.recordOutputChecks(run, output)
	if !output.IsValid {
		telemetry.RecordRejection(run.span, runtime.StageOutputValidate, string(domain.CategoryHarmful), output.RiskLevel)
		o.endStage(run, runtime.OutcomeRejected, nil)

		result.State = runtime.StateRejected
		result.Stage = runtime.StageOutputValidate
		result.Reply = output.RejectionReason
		result.Metadata.RiskLevel = domain.MaxRisk(input.RiskLevel, output.RiskLevel)
		result.Metadata.Categories = turnCategories(input, output)
		result.Err = &domain.RejectionError{
			Kind:     domain.ErrOutputRejected,
			Category: domain.CategoryHarmful,
			Reason:   output.RejectionReason,
		}
		o.logger.WarnContext(ctx, "turn output rejected",
			"turn_id", result.TurnID,
			"session_id", sessionID,
			"risk_level", string(output.RiskLevel),
		)
		return result, result.Err
	}
	o.endStage(run, runtime.OutcomeOK, nil)

	categories := turnCategories(input, output)
	redacted := input.HasPII || output.HasPII
	turnRisk := domain.MaxRisk(input.RiskLevel, output.RiskLevel)

	// Stage: policy_check. Skipped entirely when no hook is configured.
	if o.policy != nil {
		if err := ctx.Err(); err != nil {
			return o.errored(ctx, &result, runtime.StagePolicyCheck, err), result.Err
		}
		run = o.beginStage(ctx, tracer, runtime.StagePolicyCheck)
		decision, err := o.policy.Evaluate(run.ctx, policy.PolicyInput{
			SessionID:         sessionID,
			Stage:             string(runtime.StagePolicyCheck),
			RiskLevel:         turnRisk,
			Categories:        categoryStrings(categories),
			Redacted:          redacted,
			HasHallucinations: output.HasHallucinations,
		})
		switch {
		case err != nil && o.policy.FailClosed():
			telemetry.RecordRejection(run.span, runtime.StagePolicyCheck, "policy_error", turnRisk)
			o.endStage(run, runtime.OutcomeRejected, err)

			result.State = runtime.StateRejected
			result.Stage = runtime.StagePolicyCheck
			result.Reply = o.guard.Messages().General
			result.Metadata.RiskLevel = turnRisk
			result.Metadata.Categories = categories
			result.Err = &domain.RejectionError{Kind: domain.ErrOutputRejected, Reason: "policy evaluation failed"}
			o.logger.ErrorContext(ctx, "policy evaluation failed, failing closed",
				"turn_id", result.TurnID,
				"session_id", sessionID,
				"error", err,
			)
			return result, result.Err
		case err != nil:
			// Fail open: the pattern guardrails already passed this turn,
			// so the error is recorded without failing the stage.
			run.span.RecordError(err)
			o.logger.WarnContext(ctx, "policy evaluation failed, failing open",
				"turn_id", result.TurnID,
				"session_id", sessionID,
				"error", err,
			)
			o.endStage(run, runtime.OutcomeOK, nil)
		case decision.Action == policy.ActionDeny:
			telemetry.RecordPolicyDecision(run.span, decision)
			telemetry.RecordRejection(run.span, runtime.StagePolicyCheck, "policy_deny", turnRisk)
			o.endStage(run, runtime.OutcomeRejected, nil)

			reason := decision.Reason
			if reason == "" {
				reason = o.guard.Messages().General
			}
			result.State = runtime.StateRejected
			result.Stage = runtime.StagePolicyCheck
			result.Reply = reason
			result.Metadata.RiskLevel = turnRisk
			result.Metadata.Categories = categories
			result.Err = &domain.RejectionError{Kind: domain.ErrOutputRejected, Reason: reason}
			o.logger.WarnContext(ctx, "turn denied by policy",
				"turn_id", result.TurnID,
				"session_id", sessionID,
				"reason", reason,
			)
			return result, result.Err
		default:
			telemetry.RecordPolicyDecision(run.span, decision)
			o.endStage(run, runtime.OutcomeOK, nil)
		}
	}

	// Stage: deliver.
	if err := ctx.Err(); err != nil {
		return o.errored(ctx, &result, runtime.StageDeliver, err), result.Err
	}
	run = o.beginStage(ctx, tracer, runtime.StageDeliver)

	_, _, hasSources := respond.Split(output.FilteredText)
	result.Metadata = domain.TurnMetadata{
		RiskLevel:         turnRisk,
		HasHallucinations: output.HasHallucinations,
		HasSources:        hasSources,
		Redacted:          redacted,
		Categories:        categories,
	}

	if err := o.store.Append(run.ctx, sessionID,
		domain.Message{Role: domain.RoleUser, Content: prompt},
		domain.Message{Role: domain.RoleAssistant, Content: output.FilteredText, Metadata: result.Metadata},
	); err != nil {
		o.endStage(run, runtime.OutcomeError, err)
		return o.errored(ctx, &result, runtime.StageDeliver, err), result.Err
	}
	run.span.SetAttributes(o.scrubAttrs(
		attribute.Bool("turn.redacted", redacted),
		attribute.Bool("turn.has_sources", hasSources),
	)...)
	o.endStage(run, runtime.OutcomeOK, nil)

	result.State = runtime.StateDelivered
	result.Stage = runtime.StageDeliver
	result.Reply = output.FilteredText
	result.Err = nil

	o.logger.InfoContext(ctx, "turn delivered",
		"turn_id", result.TurnID,
		"session_id", sessionID,
		"risk_level", string(result.Metadata.RiskLevel),
		"redacted", redacted,
		"has_hallucinations", output.HasHallucinations,
	)
	return result, nil
}

// errored finalizes a turn that failed to execute. The reply is the
// configured general message so transport internals never reach users.
func (o *Orchestrator) errored(ctx context.Context, result *TurnResult, stage runtime.Stage, err error) TurnResult {
	result.State = runtime.StateErrored
	result.Stage = stage
	result.Reply = o.guard.Messages().General
	result.Err = err

	o.logger.ErrorContext(ctx, "turn errored",
		"turn_id", result.TurnID,
		"session_id", result.SessionID,
		"stage", string(stage),
		"error", err,
	)
	return *result
}

// conclude records the terminal state on the turn span and the turn
// counter. Runs once per turn via defer, after the final stage ends.
func (o *Orchestrator) conclude(ctx context.Context, span trace.Span, result *TurnResult) {
	telemetry.RecordTurn(ctx, result.State)
	span.SetAttributes(o.scrubAttrs(
		attribute.String("turn.state", string(result.State)),
		attribute.String("turn.stage", string(result.Stage)),
		attribute.String("turn.risk_level", string(result.Metadata.RiskLevel)),
	)...)
	if result.State == runtime.StateErrored && result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
}

// stageRun tracks one in-flight stage span.
type stageRun struct {
	ctx   context.Context
	span  trace.Span
	stage runtime.Stage
	start time.Time
}

func (o *Orchestrator) beginStage(ctx context.Context, tracer trace.Tracer, stage runtime.Stage) stageRun {
	sctx, span := tracer.Start(ctx, "rampart."+string(stage),
		trace.WithAttributes(o.scrubAttrs(
			attribute.String("turn.stage", string(stage)),
		)...))
	return stageRun{ctx: sctx, span: span, stage: stage, start: time.Now()}
}

func (o *Orchestrator) endStage(run stageRun, outcome runtime.StageOutcome, err error) {
	duration := time.Since(run.start)
	run.span.SetAttributes(o.scrubAttrs(
		attribute.String("stage.outcome", string(outcome)),
		attribute.Int64("stage.duration_ms", duration.Milliseconds()),
	)...)
	if err != nil {
		run.span.RecordError(err)
		run.span.SetStatus(codes.Error, err.Error())
	}
	run.span.End()

	telemetry.RecordStage(run.ctx, telemetry.StageMetrics{
		Stage:    run.stage,
		Outcome:  outcome,
		Duration: duration,
	})
}

func (o *Orchestrator) recordInputChecks(run stageRun, v domain.InputVerdict) {
	telemetry.RecordCheck(run.ctx, string(domain.CategoryHarmful), run.stage, v.HasHarmfulContent)
	telemetry.RecordCheck(run.ctx, string(domain.CategoryPromptInjection), run.stage, v.HasPromptInjection)
	telemetry.RecordCheck(run.ctx, string(domain.CategoryPII), run.stage, v.HasPII)
	if v.HasPII {
		telemetry.RecordRedaction(run.ctx, run.stage)
	}
	run.span.SetAttributes(o.scrubAttrs(
		attribute.Bool("input.valid", v.IsValid),
		attribute.Bool("input.pii", v.HasPII),
		attribute.String("input.risk_level", string(v.RiskLevel)),
	)...)
}

func (o *Orchestrator) recordOutputChecks(run stageRun, v domain.OutputVerdict) {
	telemetry.RecordCheck(run.ctx, string(domain.CategoryHarmful), run.stage, v.HasHarmfulContent)
	telemetry.RecordCheck(run.ctx, string(domain.CategoryPII), run.stage, v.HasPII)
	telemetry.RecordCheck(run.ctx, string(domain.CategoryHallucination), run.stage, v.HasHallucinations)
	if v.HasPII {
		telemetry.RecordRedaction(run.ctx, run.stage)
	}
	run.span.SetAttributes(o.scrubAttrs(
		attribute.Bool("output.valid", v.IsValid),
		attribute.Bool("output.hallucinations", v.HasHallucinations),
		attribute.String("output.risk_level", string(v.RiskLevel)),
	)...)
}

func (o *Orchestrator) scrubAttrs(attrs ...attribute.KeyValue) []attribute.KeyValue {
	return telemetry.ScrubAttributes(o.scrub, attrs)
}

// inputCategory names the check that invalidated an input verdict.
// Length-floor rejections carry no category.
func inputCategory(v domain.InputVerdict) domain.Category {
	switch {
	case v.HasHarmfulContent:
		return domain.CategoryHarmful
	case v.HasPromptInjection:
		return domain.CategoryPromptInjection
	default:
		return ""
	}
}

// turnCategories collects the check categories that fired on either side
// of the turn, in the canonical category order.
func turnCategories(in domain.InputVerdict, out domain.OutputVerdict) []domain.Category {
	var categories []domain.Category
	if in.HasHarmfulContent || out.HasHarmfulContent {
		categories = append(categories, domain.CategoryHarmful)
	}
	if in.HasPromptInjection {
		categories = append(categories, domain.CategoryPromptInjection)
	}
	if in.HasPII || out.HasPII {
		categories = append(categories, domain.CategoryPII)
	}
	if out.HasHallucinations {
		categories = append(categories, domain.CategoryHallucination)
	}
	return categories
}

func categoryStrings(categories []domain.Category) []string {
	if len(categories) == 0 {
		return nil
	}
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
