package jwt

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// KeyMaterial holds the verification keys for a validator. HMAC
// algorithms use Secret; RSA and ECDSA algorithms use the matching
// public key.
type KeyMaterial struct {
	Secret []byte
	RSA    *rsa.PublicKey
	ECDSA  *ecdsa.PublicKey
}

// ParsePublicKeyPEM parses a PEM-encoded public key into the material.
// Both PKIX "PUBLIC KEY" and PKCS#1 "RSA PUBLIC KEY" blocks are
// accepted.
func (k *KeyMaterial) ParsePublicKeyPEM(data []byte) error {
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("no PEM block found in public key data")
	}

	if block.Type == "RSA PUBLIC KEY" {
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return fmt.Errorf("failed to parse PKCS#1 public key: %w", err)
		}
		k.RSA = key
		return nil
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	switch pub := key.(type) {
	case *rsa.PublicKey:
		k.RSA = pub
	case *ecdsa.PublicKey:
		k.ECDSA = pub
	default:
		return fmt.Errorf("unsupported public key type %T", key)
	}
	return nil
}

// LoadPublicKeyFile reads and parses a PEM public key file.
func (k *KeyMaterial) LoadPublicKeyFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	return k.ParsePublicKeyPEM(data)
}
