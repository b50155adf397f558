// Package jwt validates compact JWS bearer tokens against configured
// key material. Verification runs on the standard library crypto
// primitives; no token is ever minted here.
package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"math/big"
	"strings"
	"time"

	"github.com/gatehouseio/gatehouse/internal/observability"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
	AlgRS256 = "RS256"
	AlgRS384 = "RS384"
	AlgRS512 = "RS512"
	AlgES256 = "ES256"
	AlgES384 = "ES384"
	AlgES512 = "ES512"
)

// Config configures a Validator.
type Config struct {
	// AllowedAlgorithms is the alg header allowlist. Empty allows every
	// supported algorithm.
	AllowedAlgorithms []string

	// Issuers is the iss claim allowlist. Empty skips the check.
	Issuers []string

	// Audiences the token must address one of. Empty skips the check.
	Audiences []string

	// ClockSkew is tolerated on exp and nbf checks.
	ClockSkew time.Duration

	// Keys is the verification key material.
	Keys KeyMaterial
}

// Validator validates bearer tokens.
type Validator struct {
	config Config
	logger observability.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewValidator creates a validator over the given configuration.
func NewValidator(config Config, logger observability.Logger) *Validator {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Validator{
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// header is the decoded JOSE header.
type header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
	KeyID     string `json:"kid"`
}

// Validate verifies the token's signature and registered claims and
// returns its claims.
func (v *Validator) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad header encoding", ErrMalformedToken)
	}

	var hdr header
	if err := json.Unmarshal(headerBytes, &hdr); err != nil {
		return nil, fmt.Errorf("%w: bad header", ErrMalformedToken)
	}

	if err := v.checkAlgorithm(hdr.Algorithm); err != nil {
		return nil, err
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad payload encoding", ErrMalformedToken)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature encoding", ErrMalformedToken)
	}

	if err := v.verifySignature(hdr.Algorithm, parts[0]+"."+parts[1], signature); err != nil {
		return nil, err
	}

	claims, err := decodeClaims(payload)
	if err != nil {
		return nil, err
	}

	if err := v.checkClaims(claims); err != nil {
		return nil, err
	}

	v.logger.Debug("bearer token validated",
		observability.String("subject", claims.Subject),
		observability.String("issuer", claims.Issuer),
	)

	return claims, nil
}

// checkAlgorithm enforces the algorithm allowlist.
func (v *Validator) checkAlgorithm(alg string) error {
	if !supportedAlgorithm(alg) {
		return fmt.Errorf("%w: %s", ErrUnexpectedSigningMethod, alg)
	}
	if len(v.config.AllowedAlgorithms) == 0 {
		return nil
	}
	for _, allowed := range v.config.AllowedAlgorithms {
		if alg == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedSigningMethod, alg)
}

func supportedAlgorithm(alg string) bool {
	switch alg {
	case AlgHS256, AlgHS384, AlgHS512,
		AlgRS256, AlgRS384, AlgRS512,
		AlgES256, AlgES384, AlgES512:
		return true
	}
	return false
}

// verifySignature checks the signature over the signing input.
func (v *Validator) verifySignature(alg, signingInput string, signature []byte) error {
	switch alg {
	case AlgHS256:
		return v.verifyHMAC(signingInput, signature, sha256.New)
	case AlgHS384:
		return v.verifyHMAC(signingInput, signature, sha512.New384)
	case AlgHS512:
		return v.verifyHMAC(signingInput, signature, sha512.New)
	case AlgRS256:
		return v.verifyRSA(signingInput, signature, crypto.SHA256)
	case AlgRS384:
		return v.verifyRSA(signingInput, signature, crypto.SHA384)
	case AlgRS512:
		return v.verifyRSA(signingInput, signature, crypto.SHA512)
	case AlgES256:
		return v.verifyECDSA(signingInput, signature, crypto.SHA256)
	case AlgES384:
		return v.verifyECDSA(signingInput, signature, crypto.SHA384)
	case AlgES512:
		return v.verifyECDSA(signingInput, signature, crypto.SHA512)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedSigningMethod, alg)
	}
}

func (v *Validator) verifyHMAC(signingInput string, signature []byte, hashFunc func() hash.Hash) error {
	if len(v.config.Keys.Secret) == 0 {
		return ErrNoKeyMaterial
	}

	mac := hmac.New(hashFunc, v.config.Keys.Secret)
	mac.Write([]byte(signingInput))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Validator) verifyRSA(signingInput string, signature []byte, hashAlg crypto.Hash) error {
	if v.config.Keys.RSA == nil {
		return ErrNoKeyMaterial
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))

	if err := rsa.VerifyPKCS1v15(v.config.Keys.RSA, hashAlg, h.Sum(nil), signature); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Validator) verifyECDSA(signingInput string, signature []byte, hashAlg crypto.Hash) error {
	key := v.config.Keys.ECDSA
	if key == nil {
		return ErrNoKeyMaterial
	}

	// JWS ECDSA signatures are the raw r || s concatenation.
	keySize := (key.Curve.Params().BitSize + 7) / 8
	if len(signature) != 2*keySize {
		return ErrInvalidSignature
	}

	h := hashAlg.New()
	h.Write([]byte(signingInput))

	r := new(big.Int).SetBytes(signature[:keySize])
	s := new(big.Int).SetBytes(signature[keySize:])
	if !ecdsa.Verify(key, h.Sum(nil), r, s) {
		return ErrInvalidSignature
	}
	return nil
}

// checkClaims validates expiry, validity window, issuer and audience.
func (v *Validator) checkClaims(claims *Claims) error {
	now := v.now()
	skew := v.config.ClockSkew

	if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Add(skew)) {
		return ErrTokenExpired
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Add(-skew)) {
		return ErrTokenNotYetValid
	}

	if len(v.config.Issuers) > 0 {
		allowed := false
		for _, iss := range v.config.Issuers {
			if claims.Issuer == iss {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s", ErrInvalidIssuer, claims.Issuer)
		}
	}

	if len(v.config.Audiences) > 0 && !claims.Audience.ContainsAny(v.config.Audiences...) {
		return ErrInvalidAudience
	}

	return nil
}
