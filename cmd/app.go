package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"tutor-agent/handler"
	"tutor-agent/internal/config"
	"tutor-agent/internal/integrations/openai"
	"tutor-agent/internal/integrations/paramstore"
	"tutor-agent/internal/metrics"
	"tutor-agent/internal/registry"
	"tutor-agent/internal/repository"
	"tutor-agent/internal/usecase"
)

type app struct {
	handler *handler.Handler
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// buildApp wires every component from configuration. Configuration is read
// only here.
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{}
	m := metrics.New()

	var cloud *awsClients
	if cfg.ParamPrefix != "" || cfg.ThreadStore == config.StoreDynamoDB {
		var err error
		cloud, err = loadAWS(ctx)
		if err != nil {
			return nil, err
		}
	}

	var params paramstore.Getter
	if cloud != nil {
		params = cloud.params
	}
	assistantID, err := resolveAssistantID(ctx, cfg, params)
	if err != nil {
		return nil, err
	}

	clientOpts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.OpenAIBaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	if cfg.OpenAIAPIKey != "" {
		clientOpts = append(clientOpts, openai.WithAPIKey(cfg.OpenAIAPIKey))
	} else {
		clientOpts = append(clientOpts, openai.WithParamStore(cloud.params, cfg.ParamPrefix))
	}
	provider, err := openai.NewClient(assistantID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	var store repository.ThreadStore
	switch cfg.ThreadStore {
	case config.StoreDynamoDB:
		store, err = repository.NewDynamoStore(awsdynamodb.NewFromConfig(cloud.cfg), cfg.StateTable, cfg.SessionTTL)
	case config.StoreRedis:
		rdb := repository.NewRedisClient(cfg.RedisURL)
		a.closers = append(a.closers, rdb.Close)
		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			log.Warn("redis not reachable at startup", zap.Error(pingErr))
		}
		store, err = repository.NewRedisStore(rdb, cfg.SessionTTL)
	default:
		store = repository.NewMemoryStore(cfg.SessionTTL)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s thread store: %w", cfg.ThreadStore, err)
	}

	reg, err := registry.New(provider, store,
		registry.WithLogger(log.Named("registry")),
		registry.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}

	coord, err := usecase.NewCoordinator(provider,
		usecase.WithCoordinatorLogger(log.Named("coordinator")),
		usecase.WithCoordinatorMetrics(m),
		usecase.WithMaxRunWait(cfg.RunMaxWait),
	)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	svc, err := usecase.NewTutorService(reg, provider, coord, usecase.NewRunTracker(0),
		usecase.WithServiceLogger(log.Named("service")),
		usecase.WithServiceMetrics(m),
		usecase.WithPollIntervals(cfg.ChatPollInterval, cfg.GenerationPollInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("create tutor service: %w", err)
	}

	a.handler, err = handler.NewHandler(svc,
		handler.WithLogger(log.Named("http")),
		handler.WithMetricsHandler(m.Handler()),
		handler.WithCORSOrigins(cfg.CORSAllowedOrigins...),
		handler.WithRateLimit(cfg.RateLimitRPS),
	)
	if err != nil {
		return nil, fmt.Errorf("create handler: %w", err)
	}

	log.Info("tutor service wired",
		zap.String("thread_store", cfg.ThreadStore),
		zap.String("model", cfg.Model),
		zap.Bool("param_store", cfg.ParamPrefix != ""),
	)
	return a, nil
}

// resolveAssistantID prefers ASSISTANT_ID and falls back to
// <prefix>/config/assistant_id in Parameter Store.
func resolveAssistantID(ctx context.Context, cfg *config.Config, params paramstore.Getter) (string, error) {
	if cfg.AssistantID != "" {
		return cfg.AssistantID, nil
	}
	if params == nil {
		return "", errors.New("resolve assistant id: no parameter store configured")
	}
	id, err := params.GetParameter(ctx, cfg.ParamPrefix+"/config/assistant_id")
	if err != nil {
		return "", fmt.Errorf("resolve assistant id: %w", err)
	}
	return id, nil
}

type awsClients struct {
	cfg    aws.Config
	params *paramstore.Client
}

func loadAWS(ctx context.Context) (*awsClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	params, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create SSM client: %w", err)
	}
	return &awsClients{cfg: cfg, params: params}, nil
}
