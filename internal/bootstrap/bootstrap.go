package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/shopfloor-assistant/internal/config"
	"github.com/kirillkom/shopfloor-assistant/internal/core/pipeline"
	"github.com/kirillkom/shopfloor-assistant/internal/core/ports"
	"github.com/kirillkom/shopfloor-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/shopfloor-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/shopfloor-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/shopfloor-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/shopfloor-assistant/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/shopfloor-assistant/internal/observability/logging"
)

type App struct {
	Config config.Config

	Answerer ports.QueryAnswerer
	Glossary ports.GlossaryStore

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, observer ports.PipelineObserver) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	glossaryRepo := postgres.NewGlossaryRepository(db)
	if err := glossaryRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure glossary schema: %w", err)
	}
	memoryRepo := postgres.NewMemoryRepository(db)
	if err := memoryRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure memory schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	publisher, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init event publisher: %w", err)
	}

	ollamaClient := ollama.New(
		cfg.OllamaURL,
		cfg.OllamaGenModel,
		cfg.OllamaEmbedModel,
		cfg.OllamaRerankModel,
		ollama.WithExecutor(executor),
	)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)
	reranker := ollama.NewReranker(ollamaClient)

	docIndex := qdrant.NewDocumentClient(cfg.QdrantURL, cfg.QdrantCollection)
	termIndex := qdrant.NewTermClient(cfg.QdrantURL, cfg.QdrantTermCollection)

	policy := pipeline.DefaultPriorityPolicy()
	if cfg.PriorityPolicyPath != "" {
		policy, err = pipeline.LoadPriorityPolicy(cfg.PriorityPolicyPath)
		if err != nil {
			return nil, fmt.Errorf("load priority policy: %w", err)
		}
	}

	analyzer := pipeline.NewAnalyzerStage()
	hyde := pipeline.NewHydeGenerator(
		generator,
		cfg.HydeCacheSize,
		time.Duration(cfg.HydeCacheTTLSeconds)*time.Second,
		logging.Component(logger, "hyde"),
	)
	cascade := pipeline.NewRerankCascade(reranker, pipeline.CascadeConfig{
		Stage1K:      cfg.RerankStage1K,
		Stage2K:      cfg.RerankStage2K,
		PerSourceCap: cfg.RerankPerSourceCap,
	}, logging.Component(logger, "rerank"))

	glossaryStage := pipeline.NewGlossaryStage(glossaryRepo, logging.Component(logger, "glossary"))
	retriever := pipeline.NewRetrieverStage(
		embedder,
		docIndex,
		termIndex,
		hyde,
		cascade,
		analyzer,
		pipeline.RetrieverConfig{
			PrimaryTopN:        cfg.RetrievalTopN,
			TermTopK:           cfg.TermTopK,
			TermScoreThreshold: cfg.TermScoreThreshold,
			TermBoost:          cfg.TermBoost,
			RRFK:               cfg.FusionRRFK,
		},
		logging.Component(logger, "retriever"),
	)
	contextStage := pipeline.NewContextStage(memoryRepo, policy, pipeline.CompressorConfig{
		TotalBudgetTokens: cfg.ContextBudgetTokens,
		GlossaryTokens:    cfg.ContextGlossaryTokens,
		MemoryTokens:      cfg.ContextMemoryTokens,
		DocCharLimit:      cfg.ContextDocCharLimit,
		DedupePrefixChars: cfg.ContextDedupePrefix,
		MaxDocuments:      cfg.ContextMaxDocuments,
		MemoryMaxItems:    cfg.MemoryMaxItems,
	}, logging.Component(logger, "context"))
	generatorStage := pipeline.NewGeneratorStage(generator, logging.Component(logger, "generator"))
	validator := pipeline.NewValidatorStage(pipeline.ValidatorConfig{
		Enabled:            cfg.ValidationEnabled,
		GroundingEnabled:   cfg.GroundingCheckEnabled,
		GroundingThreshold: cfg.GroundingThreshold,
	})

	orchestrator := pipeline.NewOrchestrator(
		glossaryStage,
		analyzer,
		retriever,
		contextStage,
		generatorStage,
		validator,
		memoryRepo,
		publisher,
		pipeline.OrchestratorConfig{MaxRetries: cfg.MaxRetries, Observer: observer},
		logging.Component(logger, "orchestrator"),
	)

	return &App{
		Config:   cfg,
		Answerer: orchestrator,
		Glossary: glossaryRepo,

		closeFn: func() {
			publisher.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
