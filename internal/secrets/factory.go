package secrets

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gatehouseio/gatehouse/internal/config"
)

// NewProvider builds the secrets provider selected by configuration.
func NewProvider(cfg config.SecretsConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return NewNoneProvider(), nil

	case "static":
		return NewStaticProvider(cfg.Static), nil

	case "env":
		return NewEnvProvider(), nil

	case "vault":
		return NewVaultProvider(VaultConfig{
			Address:   cfg.Vault.Address,
			Token:     cfg.Vault.Token,
			Namespace: cfg.Vault.Namespace,
			MountPath: cfg.Vault.MountPath,
			Timeout:   cfg.Vault.Timeout.Duration(),
		}, logger)

	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Provider)
	}
}
