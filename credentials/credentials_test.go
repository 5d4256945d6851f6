package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinecore.dev/pipeline"
)

type fakeIntegrationLookup struct {
	integration *pipeline.Integration
	err         error
}

func (f *fakeIntegrationLookup) GetIntegration(ctx context.Context, tenantID, integrationID int64) (*pipeline.Integration, error) {
	return f.integration, f.err
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte(`{"base_url":"https://git.example.com","token":"s3cr3t"}`)
	sealed, err := Encrypt("pass-phrase", plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := decrypt(sha256Key("pass-phrase"), sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEnvKeyStoreGetCredentials(t *testing.T) {
	plaintext := []byte(`{"token":"abc"}`)
	sealed, err := Encrypt("my-pass", plaintext)
	require.NoError(t, err)

	lookup := &fakeIntegrationLookup{integration: &pipeline.Integration{
		TenantID:             1,
		ID:                   7,
		EncryptedCredentials: sealed,
	}}
	store := NewEnvKeyStore("my-pass", lookup)

	got, err := store.GetCredentials(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEnvKeyStoreWrongPassphraseFails(t *testing.T) {
	sealed, err := Encrypt("right-pass", []byte("secret"))
	require.NoError(t, err)

	lookup := &fakeIntegrationLookup{integration: &pipeline.Integration{EncryptedCredentials: sealed}}
	store := NewEnvKeyStore("wrong-pass", lookup)

	_, err = store.GetCredentials(context.Background(), 1, 1)
	assert.Error(t, err)
}

func TestDecryptShortCiphertextErrors(t *testing.T) {
	_, err := decrypt(sha256Key("x"), []byte("short"))
	assert.Error(t, err)
}

func sha256Key(pass string) []byte {
	k := newStore(pass)
	return k.key[:]
}

func newStore(pass string) *EnvKeyStore {
	return NewEnvKeyStore(pass, &fakeIntegrationLookup{})
}
