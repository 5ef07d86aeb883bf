package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/handlers"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/config"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/secrets"
)

// Bootstrap reads the environment, resolves Secret Manager references and returns the loaded
// configuration with build metadata. The returned release func closes the secret client.
func Bootstrap(ctx context.Context, logger *zap.Logger, startedAt time.Time) (config.Config, handlers.BuildInfo, func(), error) {
	env, err := config.EnvironmentValues()
	if err != nil {
		return config.Config{}, handlers.BuildInfo{}, nil, fmt.Errorf("read environment: %w", err)
	}
	lookup := func(key string) string { return strings.TrimSpace(env[key]) }

	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if creds := lookup("API_FIREBASE_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	fetcher, err := secrets.NewFetcher(ctx, opts...)
	if err != nil {
		return config.Config{}, handlers.BuildInfo{}, nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}
	release := func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		release()
		return config.Config{}, handlers.BuildInfo{}, nil, err
	}

	build := handlers.BuildInfo{
		Version:     lookup("API_BUILD_VERSION"),
		CommitSHA:   lookup("API_BUILD_COMMIT_SHA"),
		Environment: cfg.Environment,
		StartedAt:   startedAt.UTC(),
	}
	if build.Version == "" {
		build.Version = "dev"
	}
	return cfg, build, release, nil
}
