// Package vector upserts and searches the embeddings the Vectorize Worker
// computes for indexable canonical-entity text (§4.6). Collections are
// tenant-partitioned: a collection name is always derived from a tenant_id,
// so no query or upsert can reach across tenants (§3 "Vector record").
package vector

import (
	"context"
	"strconv"
)

// Result is one nearest-neighbor hit from Search/SearchWithFilter.
type Result struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Provider is the vector-store capability set the Vectorize Worker needs.
// Modeled on a provider-agnostic factory/dispatch interface; this module
// only ships the Qdrant implementation.
type Provider interface {
	Name() string
	Upsert(ctx context.Context, collection string, id string, vec []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error)
	SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]Result, error)
	Delete(ctx context.Context, collection string, id string) error
}

// ProviderType identifies which Provider implementation NewProvider builds.
type ProviderType string

// ProviderQdrant is the only provider this module wires up end to end.
const ProviderQdrant ProviderType = "qdrant"

// ProviderConfig is the configuration for creating a vector Provider.
// Shaped after kadirpekel-hector's ProviderConfig, trimmed to the one
// backend this module ships.
type ProviderConfig struct {
	Type   ProviderType
	Qdrant *QdrantConfig
}

// NewProvider builds the configured Provider. Only "qdrant" is implemented,
// and an empty Type selects it too; any other Type is a configuration error, not a silent fallback, since a
// missing vector store would otherwise surface as a confusing skip
// everywhere the Vectorize Worker upserts.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case ProviderQdrant, "":
		qcfg := QdrantConfig{}
		if cfg.Qdrant != nil {
			qcfg = *cfg.Qdrant
		}
		return NewQdrantProvider(qcfg)
	default:
		return nil, &UnsupportedProviderError{Type: cfg.Type}
	}
}

// UnsupportedProviderError reports a ProviderType this module does not ship.
type UnsupportedProviderError struct {
	Type ProviderType
}

func (e *UnsupportedProviderError) Error() string {
	return "vector: unsupported provider type " + string(e.Type)
}

// CollectionName derives the tenant-partitioned collection for an entity
// kind, the partitioning boundary that keeps a Search/Upsert call from ever
// reaching another tenant's vectors (§3, §5 "Vector store: tenant-partitioned").
func CollectionName(tenantID int64, entityKind string) string {
	return "tenant_" + strconv.FormatInt(tenantID, 10) + "_" + entityKind
}
