// Package secrets resolves sensitive material (JWT signing keys, API
// key hashes, store passwords) referenced from configuration. A
// reference is resolved by the configured provider; configuration files
// never carry the secret values themselves.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrNotFound is returned when a reference does not resolve to a value.
var ErrNotFound = errors.New("secret not found")

// Provider resolves secret references to their values.
type Provider interface {
	// Get resolves one reference. The reference format is provider
	// specific: a map key for the static provider, an environment
	// variable name for the env provider, and "path#field" for Vault.
	Get(ctx context.Context, ref string) (string, error)

	// Close releases provider resources.
	Close() error
}

// noneProvider rejects every lookup. It is the default when no secrets
// backend is configured, so a dangling secretRef fails loudly instead
// of resolving to an empty string.
type noneProvider struct{}

// NewNoneProvider returns a provider that resolves nothing.
func NewNoneProvider() Provider {
	return noneProvider{}
}

func (noneProvider) Get(_ context.Context, ref string) (string, error) {
	return "", fmt.Errorf("no secrets provider configured, cannot resolve %q: %w", ref, ErrNotFound)
}

func (noneProvider) Close() error { return nil }

// StaticProvider resolves references from an in-memory map. Intended
// for tests and for small deployments where values arrive through the
// environment-substituted configuration file.
type StaticProvider struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStaticProvider creates a provider over a copy of the given values.
func NewStaticProvider(values map[string]string) *StaticProvider {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticProvider{values: copied}
}

// Get implements Provider.
func (p *StaticProvider) Get(_ context.Context, ref string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	value, ok := p.values[ref]
	if !ok {
		return "", fmt.Errorf("static secret %q: %w", ref, ErrNotFound)
	}
	return value, nil
}

// Set adds or replaces a value.
func (p *StaticProvider) Set(ref, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[ref] = value
}

// Close implements Provider.
func (p *StaticProvider) Close() error { return nil }

// EnvProvider resolves references as environment variable names.
type EnvProvider struct{}

// NewEnvProvider creates an environment-backed provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// Get implements Provider.
func (p *EnvProvider) Get(_ context.Context, ref string) (string, error) {
	value, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("environment variable %q: %w", ref, ErrNotFound)
	}
	return value, nil
}

// Close implements Provider.
func (p *EnvProvider) Close() error { return nil }
