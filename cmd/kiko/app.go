package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/kiko-hq/kiko/internal/agent"
	"github.com/kiko-hq/kiko/internal/analytics"
	"github.com/kiko-hq/kiko/internal/config"
	"github.com/kiko-hq/kiko/internal/prompts"
	"github.com/kiko-hq/kiko/internal/service/persistence"
	"github.com/kiko-hq/kiko/internal/service/pipeline"
	"github.com/kiko-hq/kiko/internal/storage"
	"github.com/kiko-hq/kiko/internal/telemetry"
	"github.com/kiko-hq/kiko/internal/tools"
)

// app is the wired service graph shared by serve and replay.
type app struct {
	cfg      config.Config
	db       *storage.DB
	gateway  *persistence.Gateway
	pipeline *pipeline.Controller
	close    func()
}

// newApp loads configuration, starts telemetry, connects to the database
// and builds the pipeline. The caller must call close.
func newApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Environment: cfg.LangfuseEnvironment,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	provider, err := newPromptProvider(cfg, logger)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	client := newChatClient(cfg)
	runner := agent.NewRunner(agent.RunnerConfig{
		Client:      client,
		Logger:      logger,
		Metrics:     telemetry.NewStageMetrics(),
		CallTimeout: cfg.ModelTimeout,
	})
	registry := tools.NewRegistry(tools.Deps{
		Store:     db,
		Prompts:   provider,
		Client:    client,
		ToolModel: cfg.ToolModel,
		Logger:    logger,
	})
	gateway := persistence.New(db, logger, persistence.Options{
		UpsertMode: cfg.DeliverableUpsert,
		RetryPolicy: storage.RetryPolicy{
			MaxRetries: cfg.UpsertMaxRetries,
			BaseDelay:  cfg.UpsertRetryBackoff,
		},
	})

	ctrl, err := pipeline.New(pipeline.Deps{
		Runner:    runner,
		Tools:     registry,
		Prompts:   provider,
		Persister: gateway,
		Analytics: analytics.New(db, logger),
		Config: pipeline.Config{
			Models: pipeline.Models{
				Metadata:  cfg.MetadataModel,
				Planning:  cfg.PlanningModel,
				Execution: cfg.ExecutionModel,
				Action:    cfg.ActionModel,
				Audience:  cfg.AudienceModel,
			},
			MaxSteps:             cfg.MaxSteps,
			DefaultMaxSteps:      cfg.DefaultMaxSteps,
			ExecutionTemperature: cfg.ExecutionTemperature,
		},
		Logger: logger,
	})
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &app{
		cfg:      cfg,
		db:       db,
		gateway:  gateway,
		pipeline: ctrl,
		close: func() {
			db.Close()
			_ = otelShutdown(context.Background())
		},
	}, nil
}

// newChatClient creates the OpenAI client. OPENAI_BASE_URL points it at a
// compatible gateway.
func newChatClient(cfg config.Config) *openai.Client {
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = cfg.OpenAIBaseURL
	}
	return openai.NewClientWithConfig(oc)
}

// newPromptProvider chains the local prompt file (if any) before Langfuse
// (if configured).
func newPromptProvider(cfg config.Config, logger *slog.Logger) (prompts.Provider, error) {
	var chain prompts.Chain
	if cfg.PromptsFile != "" {
		fp, err := prompts.LoadFile(cfg.PromptsFile)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fp)
		logger.Info("prompts: file provider enabled", "path", cfg.PromptsFile)
	}
	if cfg.LangfuseHost != "" {
		chain = append(chain, prompts.NewLangfuseProvider(prompts.LangfuseConfig{
			Host:      cfg.LangfuseHost,
			PublicKey: cfg.LangfusePublicKey,
			SecretKey: cfg.LangfuseSecretKey,
			Label:     cfg.LangfuseLabel,
			CacheTTL:  cfg.PromptCacheTTL,
			CacheSize: cfg.PromptCacheSize,
		}, logger))
		logger.Info("prompts: langfuse provider enabled", "host", cfg.LangfuseHost, "label", cfg.LangfuseLabel)
	}
	return chain, nil
}
