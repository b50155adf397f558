package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gatehouseio/gatehouse/internal/auth/apikey"
	"github.com/gatehouseio/gatehouse/internal/auth/jwt"
	"github.com/gatehouseio/gatehouse/internal/observability"
	"github.com/gatehouseio/gatehouse/internal/ratelimit"
)

// ErrCredentialNotSupported indicates a credential was presented for a
// disabled authentication method.
var ErrCredentialNotSupported = errors.New("credential type is not enabled")

// DefaultAPIKeyHeader is the header carrying API keys unless
// configured otherwise.
const DefaultAPIKeyHeader = "X-API-Key"

// ClaimNames maps token claims to identity fields.
type ClaimNames struct {
	Subject     string
	Roles       string
	Permissions string
	Scopes      string
}

// DefaultClaimNames returns the conventional claim names.
func DefaultClaimNames() ClaimNames {
	return ClaimNames{
		Subject:     "sub",
		Roles:       "roles",
		Permissions: "permissions",
		Scopes:      "scope",
	}
}

// Authenticator resolves the identity of one request. Exactly one
// credential type is attempted: a bearer token when the Authorization
// header carries one (it wins when both credentials are present),
// otherwise the API key header.
type Authenticator struct {
	tokens       *jwt.Validator
	keys         *apikey.Validator
	apiKeyHeader string
	claims       ClaimNames
	logger       observability.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithBearerValidator enables bearer token authentication.
func WithBearerValidator(v *jwt.Validator) Option {
	return func(a *Authenticator) {
		a.tokens = v
	}
}

// WithAPIKeyValidator enables API key authentication.
func WithAPIKeyValidator(v *apikey.Validator, header string) Option {
	return func(a *Authenticator) {
		a.keys = v
		if header != "" {
			a.apiKeyHeader = header
		}
	}
}

// WithClaimNames sets the claim mapping for bearer identities.
func WithClaimNames(names ClaimNames) Option {
	return func(a *Authenticator) {
		a.claims = names
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// NewAuthenticator creates an authenticator. Without options every
// request resolves to the anonymous identity.
func NewAuthenticator(opts ...Option) *Authenticator {
	a := &Authenticator{
		apiKeyHeader: DefaultAPIKeyHeader,
		claims:       DefaultClaimNames(),
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ReplaceAPIKeys swaps the API key set, used on configuration reload.
// A no-op when API key authentication is disabled.
func (a *Authenticator) ReplaceAPIKeys(keys []*apikey.Key) {
	if a.keys == nil {
		return
	}
	a.keys.Store().Replace(keys)
	a.logger.Info("API key set replaced", observability.Int("keys", len(keys)))
}

// Authenticate resolves the request's identity. A request without
// credentials resolves to the anonymous identity with a nil error; a
// presented credential that fails validation returns the validation
// error.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	if token, ok := bearerToken(r); ok {
		return a.authenticateBearer(ctx, token)
	}

	if key := r.Header.Get(a.apiKeyHeader); key != "" {
		return a.authenticateAPIKey(ctx, key)
	}

	return Anonymous(), nil
}

func (a *Authenticator) authenticateBearer(ctx context.Context, token string) (*Identity, error) {
	if a.tokens == nil {
		return nil, fmt.Errorf("bearer token: %w", ErrCredentialNotSupported)
	}

	claims, err := a.tokens.Validate(token)
	if err != nil {
		a.logger.WithContext(ctx).Debug("bearer token rejected",
			observability.Error(err),
		)
		return nil, err
	}

	return a.identityFromClaims(claims), nil
}

func (a *Authenticator) authenticateAPIKey(ctx context.Context, presented string) (*Identity, error) {
	if a.keys == nil {
		return nil, fmt.Errorf("API key: %w", ErrCredentialNotSupported)
	}

	key, err := a.keys.Validate(ctx, presented)
	if err != nil {
		a.logger.WithContext(ctx).Debug("API key rejected",
			observability.Error(err),
		)
		return nil, err
	}

	return identityFromKey(key), nil
}

// identityFromClaims maps validated token claims to an identity.
func (a *Authenticator) identityFromClaims(claims *jwt.Claims) *Identity {
	subject := claims.StringClaim(a.claims.Subject)
	if subject == "" {
		subject = claims.Subject
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &Identity{
		Subject:     subject,
		Type:        SubjectUser,
		Roles:       claims.StringsClaim(a.claims.Roles),
		Permissions: claims.StringsClaim(a.claims.Permissions),
		Scopes:      claims.StringsClaim(a.claims.Scopes),
		ExpiresAt:   expiresAt,
		Claims:      claims.Raw,
	}
}

// identityFromKey maps a validated API key to an identity.
func identityFromKey(key *apikey.Key) *Identity {
	var override *ratelimit.Rule
	if key.RateLimit != nil {
		rule := *key.RateLimit
		override = &rule
	}

	return &Identity{
		Subject:     key.ID,
		Type:        SubjectAPIKey,
		Roles:       key.Roles,
		Permissions: key.Permissions,
		ExpiresAt:   key.ExpiresAt,
		RateLimit:   override,
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	value := r.Header.Get("Authorization")
	if value == "" {
		return "", false
	}

	const prefix = "Bearer "
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", false
	}

	return strings.TrimSpace(value[len(prefix):]), true
}
