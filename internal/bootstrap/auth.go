package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/portfolio-ui/config"
	"github.com/target/portfolio-ui/internal/adapters/devauth"
	"github.com/target/portfolio-ui/internal/adapters/memory"
	"github.com/target/portfolio-ui/internal/adapters/oidc"
	redisadapter "github.com/target/portfolio-ui/internal/adapters/redis"
	"github.com/target/portfolio-ui/internal/adapters/supabase"
	"github.com/target/portfolio-ui/internal/cryptoutil"
	"github.com/target/portfolio-ui/internal/ports"
)

// AuthDeps contains what is needed to build the identity provider factory.
type AuthDeps struct {
	Auth        config.AuthConfig
	Redis       config.RedisConfig
	RedisClient redis.UniversalClient // optional; sessions stay in memory when nil
	Logger      *slog.Logger
}

// BuildTokenStorage picks Redis when a client is configured, otherwise process memory.
//
//nolint:ireturn // storage backend is chosen at runtime.
func BuildTokenStorage(deps AuthDeps) (ports.TokenStorage, error) {
	if deps.RedisClient == nil {
		if deps.Logger != nil {
			deps.Logger.Warn("redis not configured; provider sessions will not survive a restart")
		}
		return memory.NewTokenStorage(), nil
	}
	storage := redisadapter.NewTokenStorageWithPrefix(deps.RedisClient, deps.Redis.KeyPrefix, deps.Redis.Retention)
	if deps.Redis.EncryptionKey == "" {
		if deps.Logger != nil {
			deps.Logger.Warn("REDIS_ENCRYPTION_KEY not set; refresh tokens are stored unencrypted")
		}
		return storage, nil
	}
	key, err := cryptoutil.ParseKey(deps.Redis.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("parse redis encryption key: %w", err)
	}
	sealer, err := cryptoutil.NewAESGCM(key)
	if err != nil {
		return nil, fmt.Errorf("build session sealer: %w", err)
	}
	return storage.WithSealer(sealer), nil
}

// BuildProviderFactory creates the identity provider factory for the configured auth mode.
//
//nolint:ireturn // provider implementation is chosen at runtime.
func BuildProviderFactory(deps AuthDeps) (ports.ProviderFactory, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	storage, err := BuildTokenStorage(deps)
	if err != nil {
		return nil, err
	}

	switch deps.Auth.Mode {
	case config.AuthModeSupabase:
		f, err := supabase.NewFactory(supabase.Config{
			URL:           deps.Auth.Supabase.URL,
			AnonKey:       deps.Auth.Supabase.AnonKey,
			AutoRefresh:   deps.Auth.Supabase.AutoRefresh,
			RefreshMargin: deps.Auth.Supabase.RefreshMargin,
			Logger:        logger,
		}, storage)
		if err != nil {
			return nil, fmt.Errorf("build supabase provider: %w", err)
		}
		return f, nil

	case config.AuthModeOIDC:
		f, err := oidc.NewFactory(oidc.ProviderConfig{
			ClientID:     deps.Auth.OIDC.ClientID,
			ClientSecret: deps.Auth.OIDC.ClientSecret,
			Scope:        deps.Auth.OIDC.Scope,
			DiscoveryURL: deps.Auth.OIDC.DiscoveryURL,
			Logger:       logger,
		}, storage)
		if err != nil {
			return nil, fmt.Errorf("build oidc provider: %w", err)
		}
		return f, nil

	case config.AuthModeMock:
		logger.Warn("using in-memory development identity provider", "email", deps.Auth.DevAuth.Email)
		d, err := devauth.NewDirectory(devauth.Config{
			Email:               deps.Auth.DevAuth.Email,
			Password:            deps.Auth.DevAuth.Password,
			RequireConfirmation: deps.Auth.DevAuth.RequireConfirmation,
		}, storage)
		if err != nil {
			return nil, fmt.Errorf("build dev auth provider: %w", err)
		}
		return d, nil

	default:
		return nil, errors.New("unknown auth mode: " + string(deps.Auth.Mode))
	}
}
