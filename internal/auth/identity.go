// Package auth authenticates inbound requests. Exactly one credential
// type is attempted per request: a bearer token when the Authorization
// header carries one, otherwise an API key when its header is present.
// Requests with neither credential resolve to the anonymous identity.
package auth

import (
	"context"
	"time"

	"github.com/gatehouseio/gatehouse/internal/ratelimit"
)

// SubjectType classifies how an identity was established.
type SubjectType string

const (
	// SubjectUser is an identity established from a bearer token.
	SubjectUser SubjectType = "user"

	// SubjectAPIKey is an identity established from an API key.
	SubjectAPIKey SubjectType = "apikey"

	// SubjectAnonymous is the identity of a request without credentials.
	SubjectAnonymous SubjectType = "anonymous"
)

// Identity is the authenticated caller of one request. It is immutable
// once constructed and carried in the request context.
type Identity struct {
	// Subject uniquely identifies the caller: the token subject claim
	// or the API key ID. Empty for anonymous identities.
	Subject string

	// Type records which credential established the identity.
	Type SubjectType

	// Roles granted to the caller.
	Roles []string

	// Permissions granted to the caller.
	Permissions []string

	// Scopes granted to the caller.
	Scopes []string

	// ExpiresAt is when the credential expires. Zero when the
	// credential does not expire.
	ExpiresAt time.Time

	// RateLimit overrides the authenticated-tier limit when the
	// credential carries its own quota.
	RateLimit *ratelimit.Rule

	// Claims holds the raw token claims for attribute policies. Nil for
	// API key and anonymous identities.
	Claims map[string]interface{}
}

// Anonymous returns the identity of an unauthenticated request.
func Anonymous() *Identity {
	return &Identity{Type: SubjectAnonymous}
}

// IsAnonymous reports whether the identity carries no credential.
func (i *Identity) IsAnonymous() bool {
	return i == nil || i.Type == SubjectAnonymous
}

// HasRole reports whether the identity holds the role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the identity holds the permission.
func (i *Identity) HasPermission(permission string) bool {
	if i == nil {
		return false
	}
	for _, p := range i.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasScope reports whether the identity holds the scope.
func (i *Identity) HasScope(scope string) bool {
	if i == nil {
		return false
	}
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// LogValue is the identity rendered for log fields: the subject, or
// "anonymous".
func (i *Identity) LogValue() string {
	if i.IsAnonymous() {
		return "anonymous"
	}
	return i.Subject
}

type contextKey struct{}

// ContextWithIdentity attaches the identity to the context.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// IdentityFromContext returns the identity attached to the context, or
// the anonymous identity when none is attached.
func IdentityFromContext(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(contextKey{}).(*Identity); ok && identity != nil {
		return identity
	}
	return Anonymous()
}
