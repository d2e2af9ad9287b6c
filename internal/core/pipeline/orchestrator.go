package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
	"github.com/kirillkom/shopfloor-assistant/internal/core/ports"
)

type OrchestratorConfig struct {
	MaxRetries int

	// Observer is optional; nil disables lifecycle notifications.
	Observer ports.PipelineObserver
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	return c
}

// Orchestrator wires the pipeline stages into the query state machine:
//
//	glossary -> analyzer -> {direct_answer | retriever} -> context
//	        -> generator -> validator -> {generator | terminal}
//
// Every stage absorbs its own recoverable failures, so a run always reaches
// a terminal state; only configuration-class failures surface as an error
// field on the final result. Side effects that outlive the run (memory
// usage accounting, the answered event) happen strictly after the terminal
// state is reached.
type Orchestrator struct {
	glossary     Stage
	analyzer     Stage
	directAnswer Stage
	retriever    Stage
	contextStage Stage
	generator    Stage
	validator    Stage

	memory    ports.MemoryStore
	publisher ports.EventPublisher
	cfg       OrchestratorConfig
	logger    *slog.Logger
}

func NewOrchestrator(
	glossary *GlossaryStage,
	analyzer *AnalyzerStage,
	retriever *RetrieverStage,
	contextStage *ContextStage,
	generator *GeneratorStage,
	validator *ValidatorStage,
	memory ports.MemoryStore,
	publisher ports.EventPublisher,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		glossary:     glossary,
		analyzer:     analyzer,
		directAnswer: NewDirectAnswerStage(),
		retriever:    retriever,
		contextStage: contextStage,
		generator:    generator,
		validator:    validator,
		memory:       memory,
		publisher:    publisher,
		cfg:          cfg.withDefaults(),
		logger:       logger,
	}
}

// AnswerQuery runs one query through the pipeline and always returns a
// terminal result for recoverable conditions.
func (o *Orchestrator) AnswerQuery(ctx context.Context, question, userID string, opts domain.QueryOptions) (*domain.FinalResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer query", fmt.Errorf("question is required"))
	}

	started := time.Now()
	state := domain.NewPipelineState(uuid.NewString(), userID, question, o.cfg.MaxRetries)

	o.logger.Info("pipeline_start", "run_id", state.RunID, "user_id", userID)

	runErr := o.runStateMachine(ctx, state, opts)
	result := o.buildResult(state, started, runErr)

	if runErr == nil && ctx.Err() == nil {
		o.afterTerminal(ctx, state, result)
	}

	o.logger.Info("pipeline_done",
		"run_id", state.RunID,
		"intent", state.Intent,
		"validation_status", state.ValidationStatus,
		"retries", state.RetryCount,
		"latency_ms", result.LatencyMS,
	)
	return result, nil
}

func (o *Orchestrator) runStateMachine(ctx context.Context, state *domain.PipelineState, opts domain.QueryOptions) error {
	current := stageGlossary

	for current != stageTerminal {
		if err := ctx.Err(); err != nil {
			return err
		}

		stage := o.stageByID(current)
		if stage == nil {
			return domain.WrapError(domain.ErrConfiguration, "run pipeline", fmt.Errorf("unknown stage %q", current))
		}

		stageStart := time.Now()
		update, err := stage.Run(ctx, state, opts)
		stageElapsed := time.Since(stageStart)
		state.AppendTrace(stage.Name(), stageElapsed)
		if o.cfg.Observer != nil {
			o.cfg.Observer.StageCompleted(stage.Name(), stageElapsed)
		}
		if err != nil {
			return err
		}
		applyUpdate(state, update)

		current = o.nextStage(current, state)
	}
	return nil
}

func (o *Orchestrator) nextStage(current string, state *domain.PipelineState) string {
	switch current {
	case stageGlossary:
		return stageAnalyzer
	case stageAnalyzer:
		next := routeAfterAnalyzer(state)
		if next == stageDirectAnswer && o.cfg.Observer != nil {
			o.cfg.Observer.DirectAnswer()
		}
		return next
	case stageDirectAnswer:
		return stageTerminal
	case stageRetriever:
		return stageContext
	case stageContext:
		return stageGenerator
	case stageGenerator:
		return stageValidator
	case stageValidator:
		if o.cfg.Observer != nil {
			o.cfg.Observer.ValidationOutcome(string(state.ValidationStatus))
		}
		next := routeAfterValidator(state)
		if next == stageGenerator {
			state.RetryCount++
			if o.cfg.Observer != nil {
				o.cfg.Observer.Regeneration()
			}
		}
		return next
	default:
		return stageTerminal
	}
}

func (o *Orchestrator) stageByID(id string) Stage {
	switch id {
	case stageGlossary:
		return o.glossary
	case stageAnalyzer:
		return o.analyzer
	case stageDirectAnswer:
		return o.directAnswer
	case stageRetriever:
		return o.retriever
	case stageContext:
		return o.contextStage
	case stageGenerator:
		return o.generator
	case stageValidator:
		return o.validator
	default:
		return nil
	}
}

func (o *Orchestrator) buildResult(state *domain.PipelineState, started time.Time, runErr error) *domain.FinalResult {
	result := &domain.FinalResult{
		Answer:           state.Answer,
		CitedSources:     state.CitedSourceIDs,
		Confidence:       state.Confidence,
		LatencyMS:        time.Since(started).Milliseconds(),
		Trace:            state.Trace,
		ValidationStatus: state.ValidationStatus,
	}
	if result.CitedSources == nil {
		result.CitedSources = []string{}
	}

	switch {
	case runErr != nil:
		result.Error = runErr.Error()
		if result.Answer == "" {
			result.Answer = fallbackAnswer
		}
	case state.Answer == "" && len(state.Retrieved) == 0:
		// Every stage in the active branch failed.
		result.Error = "no documents retrieved and no answer produced"
		result.Answer = fallbackAnswer
	}
	return result
}

// afterTerminal performs the post-run side effects. Failures here are logged
// and never affect the returned result.
func (o *Orchestrator) afterTerminal(ctx context.Context, state *domain.PipelineState, result *domain.FinalResult) {
	if o.memory != nil && state.MemoryContext != "" && state.ValidationStatus == domain.ValidationValid {
		if err := o.memory.RecordUsage(ctx, state.UserID); err != nil {
			o.logger.Warn("memory_usage_record_failed", "run_id", state.RunID, "error", err)
		}
	}

	if o.publisher == nil || result.Error != "" {
		return
	}
	event := domain.AnsweredEvent{
		RunID:            state.RunID,
		UserID:           state.UserID,
		Question:         state.OriginalQuery,
		Intent:           string(state.Intent),
		CitedSources:     result.CitedSources,
		ValidationStatus: string(state.ValidationStatus),
		LatencyMS:        result.LatencyMS,
		RetryCount:       state.RetryCount,
	}
	if err := o.publisher.PublishAnswered(ctx, event); err != nil {
		o.logger.Warn("answered_event_publish_failed", "run_id", state.RunID, "error", err)
	}
}
