package auth

import (
	"context"
	"fmt"

	"github.com/gatehouseio/gatehouse/internal/auth/apikey"
	"github.com/gatehouseio/gatehouse/internal/auth/jwt"
	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/observability"
	"github.com/gatehouseio/gatehouse/internal/ratelimit"
	"github.com/gatehouseio/gatehouse/internal/secrets"
)

// Build assembles an Authenticator from gateway configuration,
// resolving key material through the secrets provider.
func Build(
	ctx context.Context,
	cfg config.AuthConfig,
	provider secrets.Provider,
	logger observability.Logger,
) (*Authenticator, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	opts := []Option{
		WithLogger(logger),
		WithClaimNames(ClaimNames{
			Subject:     cfg.JWT.Claims.Subject,
			Roles:       cfg.JWT.Claims.Roles,
			Permissions: cfg.JWT.Claims.Permissions,
			Scopes:      cfg.JWT.Claims.Scopes,
		}),
	}

	if cfg.JWT.Enabled {
		validator, err := buildBearerValidator(ctx, cfg.JWT, provider, logger)
		if err != nil {
			return nil, fmt.Errorf("jwt: %w", err)
		}
		opts = append(opts, WithBearerValidator(validator))
	}

	if cfg.APIKey.Enabled {
		validator, err := buildAPIKeyValidator(ctx, cfg.APIKey, provider, logger)
		if err != nil {
			return nil, fmt.Errorf("apikey: %w", err)
		}
		opts = append(opts, WithAPIKeyValidator(validator, cfg.APIKey.Header))
	}

	return NewAuthenticator(opts...), nil
}

func buildBearerValidator(
	ctx context.Context,
	cfg config.JWTConfig,
	provider secrets.Provider,
	logger observability.Logger,
) (*jwt.Validator, error) {
	jwtCfg := jwt.Config{
		AllowedAlgorithms: cfg.AllowedAlgorithms,
		Issuers:           cfg.Issuers,
		Audiences:         cfg.Audiences,
		ClockSkew:         cfg.ClockSkew.Duration(),
	}

	secret := cfg.HMACSecret
	if secret == "" && cfg.SecretRef != "" {
		resolved, err := provider.Get(ctx, cfg.SecretRef)
		if err != nil {
			return nil, fmt.Errorf("resolving HMAC secret: %w", err)
		}
		secret = resolved
	}
	if secret != "" {
		jwtCfg.Keys.Secret = []byte(secret)
	}

	if cfg.PublicKeyPEM != "" {
		if err := jwtCfg.Keys.ParsePublicKeyPEM([]byte(cfg.PublicKeyPEM)); err != nil {
			return nil, err
		}
	}
	if cfg.PublicKeyFile != "" {
		if err := jwtCfg.Keys.LoadPublicKeyFile(cfg.PublicKeyFile); err != nil {
			return nil, err
		}
	}

	if len(jwtCfg.Keys.Secret) == 0 && jwtCfg.Keys.RSA == nil && jwtCfg.Keys.ECDSA == nil {
		return nil, fmt.Errorf("no key material configured")
	}

	return jwt.NewValidator(jwtCfg, logger), nil
}

func buildAPIKeyValidator(
	ctx context.Context,
	cfg config.APIKeyConfig,
	provider secrets.Provider,
	logger observability.Logger,
) (*apikey.Validator, error) {
	keys, err := KeysFromConfig(ctx, cfg.Keys, provider)
	if err != nil {
		return nil, err
	}

	store := apikey.NewStore()
	store.Replace(keys)

	return apikey.NewValidator(store, apikey.NewHasher(cfg.HashAlgorithm), logger), nil
}

// KeysFromConfig converts API key specs to store records, resolving
// hash references through the secrets provider. It is also used on
// configuration reload.
func KeysFromConfig(
	ctx context.Context,
	specs []config.APIKeySpec,
	provider secrets.Provider,
) ([]*apikey.Key, error) {
	keys := make([]*apikey.Key, 0, len(specs))
	for _, spec := range specs {
		hash := spec.Hash
		if hash == "" && spec.HashRef != "" {
			resolved, err := provider.Get(ctx, spec.HashRef)
			if err != nil {
				return nil, fmt.Errorf("key %s: resolving hash: %w", spec.ID, err)
			}
			hash = resolved
		}
		if hash == "" {
			return nil, fmt.Errorf("key %s: no hash", spec.ID)
		}

		key := &apikey.Key{
			ID:          spec.ID,
			Hash:        hash,
			Roles:       spec.Roles,
			Permissions: spec.Permissions,
			ExpiresAt:   spec.ExpiresAt,
			Revoked:     spec.Revoked,
		}
		if spec.RateLimit != nil {
			key.RateLimit = &ratelimit.Rule{
				Limit:  spec.RateLimit.Limit,
				Window: spec.RateLimit.Window.Duration(),
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}
