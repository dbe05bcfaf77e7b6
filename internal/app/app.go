package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"hn-stories/internal/config"
	"hn-stories/internal/integrations/hackernews"
	"hn-stories/internal/integrations/paramstore"
	"hn-stories/internal/repository"
	"hn-stories/internal/ttlcache"
	"hn-stories/internal/usecase"
)

// App is the assembled service shared by the Lambda and server binaries.
type App struct {
	Config  config.Config
	Stories *usecase.StoriesService
}

type paramSource interface {
	ParametersByPath(ctx context.Context, prefix string) (map[string]string, error)
}

var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// Build reads configuration and wires every dependency. AWS is only
// contacted when PARAM_PREFIX or ITEM_CACHE_TABLE is set.
func Build(ctx context.Context, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := config.FromEnv()

	var awsCfg *aws.Config
	awsOnce := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := loadAWSConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	if cfg.ParamPrefix != "" {
		ac, err := awsOnce()
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(ac))
		if err != nil {
			return nil, err
		}
		if err := applyParams(ctx, &cfg, ps); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var shared usecase.SharedItemCache
	if cfg.ItemCacheTable != "" {
		ac, err := awsOnce()
		if err != nil {
			return nil, err
		}
		repo, err := repository.New(awsdynamodb.NewFromConfig(ac), cfg.ItemCacheTable)
		if err != nil {
			return nil, err
		}
		shared = repo
	}

	stories, err := NewStories(cfg, shared, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("service configured",
		"base_url", cfg.BaseURL,
		"ids_ttl", cfg.IDListTTL,
		"item_ttl", cfg.ItemTTL,
		"search_limit", cfg.SearchLimit,
		"concurrency", cfg.Concurrency,
		"shared_cache", cfg.ItemCacheTable != "",
	)
	return &App{Config: cfg, Stories: stories}, nil
}

func applyParams(ctx context.Context, cfg *config.Config, src paramSource) error {
	params, err := src.ParametersByPath(ctx, cfg.ParamPrefix)
	if err != nil {
		return fmt.Errorf("app: read parameters: %w", err)
	}
	return cfg.Apply(params)
}

// NewStories builds the stories service from a validated config. shared may
// be nil.
func NewStories(cfg config.Config, shared usecase.SharedItemCache, logger *slog.Logger) (*usecase.StoriesService, error) {
	if cfg.UpstreamTimeout <= 0 {
		return nil, errors.New("app: upstream timeout must be positive")
	}
	client, err := hackernews.NewClient(
		hackernews.WithBaseURL(cfg.BaseURL),
		hackernews.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}),
		hackernews.WithRateLimit(cfg.UpstreamRPS, cfg.UpstreamBurst),
	)
	if err != nil {
		return nil, err
	}

	opts := []usecase.Option{
		usecase.WithIDListTTL(cfg.IDListTTL),
		usecase.WithItemTTL(cfg.ItemTTL),
		usecase.WithSearchLimit(cfg.SearchLimit),
		usecase.WithConcurrency(cfg.Concurrency),
		usecase.WithLogger(logger),
	}
	if shared != nil {
		opts = append(opts, usecase.WithSharedCache(shared))
	}
	return usecase.NewStoriesService(client, ttlcache.New[string, any](), opts...)
}
