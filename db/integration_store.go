package db

import (
	"context"
	"fmt"

	"pipelinecore.dev/pipeline"
)

// IntegrationStore resolves configured integrations by their tenant-scoped
// primary key, the handoff point between the job catalog and both the
// credentials store and the adapter registry.
type IntegrationStore struct {
	pool *PostgresPool
}

// NewIntegrationStore wraps an existing pool.
func NewIntegrationStore(pool *PostgresPool) *IntegrationStore {
	return &IntegrationStore{pool: pool}
}

// GetIntegration fetches one integration by (tenant_id, id), satisfying
// credentials.IntegrationLookup.
func (s *IntegrationStore) GetIntegration(ctx context.Context, tenantID, integrationID int64) (*pipeline.Integration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, kind, active, base_search, encrypted_credentials
		FROM integrations WHERE tenant_id = $1 AND id = $2`, tenantID, integrationID)

	in := &pipeline.Integration{}
	if err := row.Scan(&in.ID, &in.TenantID, &in.Kind, &in.Active, &in.BaseSearch, &in.EncryptedCredentials); err != nil {
		return nil, fmt.Errorf("get integration %d: %w", integrationID, err)
	}
	return in, nil
}
