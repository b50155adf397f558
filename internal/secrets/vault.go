package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// VaultConfig configures the Vault KV v2 provider.
type VaultConfig struct {
	// Address is the Vault server address.
	Address string

	// Token authenticates the client.
	Token string

	// Namespace is the Vault namespace (Enterprise only).
	Namespace string

	// MountPath is the KV v2 secrets engine mount point.
	MountPath string

	// Timeout bounds each Vault request.
	Timeout time.Duration
}

// VaultProvider resolves references from a Vault KV v2 secrets engine.
// References take the form "path#field", where path is relative to the
// configured mount point.
type VaultProvider struct {
	kv     *vaultapi.KVv2
	logger *zap.Logger
}

// NewVaultProvider creates a Vault-backed provider.
func NewVaultProvider(cfg VaultConfig, logger *zap.Logger) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout
	}

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}

	return &VaultProvider{
		kv:     client.KVv2(mount),
		logger: logger,
	}, nil
}

// Get implements Provider. The reference "path#field" reads the secret
// at path and returns the named field; without "#field" the secret must
// hold exactly one field.
func (p *VaultProvider) Get(ctx context.Context, ref string) (string, error) {
	path, field := splitRef(ref)

	secret, err := p.kv.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("vault read %s: %w", path, err)
	}
	if secret == nil || len(secret.Data) == 0 {
		return "", fmt.Errorf("vault secret %s: %w", path, ErrNotFound)
	}

	if field == "" {
		if len(secret.Data) != 1 {
			return "", fmt.Errorf("vault secret %s has %d fields, reference must name one",
				path, len(secret.Data))
		}
		for _, v := range secret.Data {
			return stringValue(path, "", v)
		}
	}

	value, ok := secret.Data[field]
	if !ok {
		return "", fmt.Errorf("vault secret %s field %q: %w", path, field, ErrNotFound)
	}

	p.logger.Debug("resolved vault secret",
		zap.String("path", path),
		zap.String("field", field),
	)

	return stringValue(path, field, value)
}

// Close implements Provider.
func (p *VaultProvider) Close() error { return nil }

// splitRef splits "path#field" into its parts.
func splitRef(ref string) (path, field string) {
	if idx := strings.LastIndex(ref, "#"); idx != -1 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, ""
}

// stringValue coerces a KV value to string.
func stringValue(path, field string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("vault secret %s field %q is not a string", path, field)
	}
	return s, nil
}
