package jwt

import "errors"

// Validation errors. Callers distinguish them with errors.Is; the
// gateway maps all of them to an unauthenticated rejection.
var (
	// ErrEmptyToken indicates an empty token string.
	ErrEmptyToken = errors.New("token is empty")

	// ErrMalformedToken indicates the token is not a compact JWS.
	ErrMalformedToken = errors.New("token is malformed")

	// ErrInvalidSignature indicates signature verification failed.
	ErrInvalidSignature = errors.New("token signature is invalid")

	// ErrTokenExpired indicates the exp claim is in the past.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenNotYetValid indicates the nbf claim is in the future.
	ErrTokenNotYetValid = errors.New("token is not yet valid")

	// ErrInvalidIssuer indicates the iss claim is not allowed.
	ErrInvalidIssuer = errors.New("token issuer is not allowed")

	// ErrInvalidAudience indicates the aud claim does not match.
	ErrInvalidAudience = errors.New("token audience does not match")

	// ErrUnexpectedSigningMethod indicates the alg header is not in the
	// allowlist.
	ErrUnexpectedSigningMethod = errors.New("unexpected signing method")

	// ErrNoKeyMaterial indicates no key is configured for the token's
	// algorithm family.
	ErrNoKeyMaterial = errors.New("no key material for algorithm")
)
