package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectionNamePartitionsByTenant(t *testing.T) {
	assert.Equal(t, "tenant_1_work_item", CollectionName(1, "work_item"))
	assert.Equal(t, "tenant_2_work_item", CollectionName(2, "work_item"))
	assert.NotEqual(t, CollectionName(1, "work_item"), CollectionName(2, "work_item"))
}

func TestCollectionNameVariesByEntityKind(t *testing.T) {
	assert.NotEqual(t, CollectionName(1, "work_item"), CollectionName(1, "pull_request"))
}

func TestNewProviderRejectsUnknownType(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Type: "pinecone"})
	assert.Error(t, err)
	var unsupported *UnsupportedProviderError
	assert.ErrorAs(t, err, &unsupported)
}
