// Package credentials decrypts the opaque connection secrets stored on each
// Integration row. Interpretation of the decrypted blob belongs to the
// adapter (§6 "Outbound to credentials store"); this package only owns the
// AES-256-GCM decryption step, adapted from security.DecryptFile to operate
// on in-memory bytes since credentials are never round-tripped to disk.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"pipelinecore.dev/pipeline"
)

// Store resolves (tenant, integration) to a decrypted secret. The external
// credentials store is the system of record; this type only decrypts what
// it is handed, it never fetches.
type Store interface {
	GetCredentials(ctx context.Context, tenantID, integrationID int64) ([]byte, error)
}

// EnvKeyStore decrypts Integration.EncryptedCredentials with a single
// process-wide key, matching security.EncryptFile/DecryptFile's
// password-derived-key scheme but skipping the file round-trip.
type EnvKeyStore struct {
	key        [32]byte
	integrations IntegrationLookup
}

// IntegrationLookup resolves an integration row so EnvKeyStore can read its
// EncryptedCredentials. Kept narrow on purpose: credentials never interpret
// BaseSearch or Active, only the ciphertext.
type IntegrationLookup interface {
	GetIntegration(ctx context.Context, tenantID, integrationID int64) (*pipeline.Integration, error)
}

// NewEnvKeyStore derives a 32-byte AES-256 key from pass the same way
// security.EncryptFile does (SHA-256 of the password).
func NewEnvKeyStore(pass string, lookup IntegrationLookup) *EnvKeyStore {
	return &EnvKeyStore{key: sha256.Sum256([]byte(pass)), integrations: lookup}
}

// GetCredentials decrypts the integration's stored secret. Returned bytes
// are never logged and are opaque to every caller except the adapter that
// interprets them.
func (s *EnvKeyStore) GetCredentials(ctx context.Context, tenantID, integrationID int64) ([]byte, error) {
	integration, err := s.integrations.GetIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return nil, fmt.Errorf("lookup integration %d: %w", integrationID, err)
	}
	return decrypt(s.key[:], integration.EncryptedCredentials)
}

func decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("credentials: ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return aesGCM.Open(nil, nonce, ct, nil)
}

// Encrypt is the admin-side counterpart used when provisioning an
// Integration: it seals a plaintext secret the same way decrypt() opens it.
// Exported so the out-of-scope Admin API collaborator can produce rows this
// store can read back; this package never calls it itself.
func Encrypt(pass string, plaintext []byte) ([]byte, error) {
	key := sha256.Sum256([]byte(pass))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aesGCM.Seal(nonce, nonce, plaintext, nil), nil
}
