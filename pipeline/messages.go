package pipeline

// Queue names for the four logical stages plus their dead-letter queues.
const (
	QueueExtract   = "extract"
	QueueTransform = "transform"
	QueueLoad      = "load"
	QueueVectorize = "vectorize"

	DeadLetterSuffix = ".dlq"
)

// ExtractMessage fires one extraction run. TenantID must be present and is
// the routing-key source; a message missing it is a protocol error (§7):
// the Extract Worker rejects it before any other work and the bus
// dead-letters it.
type ExtractMessage struct {
	TenantID      int64          `json:"tenant_id"`
	JobID         int64          `json:"job_id"`
	JobName       string         `json:"job_name"`
	IntegrationID int64          `json:"integration_id"`
	Checkpoint    map[string]any `json:"checkpoint"`
}

// TransformMessage asks the Transform Worker to normalize one raw batch.
type TransformMessage struct {
	TenantID int64  `json:"tenant_id"`
	JobID    int64  `json:"job_id"`
	BatchID  string `json:"batch_id"`
	Kind     string `json:"kind"`
}

// LoadMessage carries the canonical entity drafts produced by the Transform
// Worker for one batch, ready for tenant-scoped upsert.
type LoadMessage struct {
	TenantID int64            `json:"tenant_id"`
	JobID    int64            `json:"job_id"`
	BatchID  string           `json:"batch_id"`
	Entities []EntityEnvelope `json:"entities"`
}

// EntityEnvelope tags a canonical draft with the kind the Load Worker uses
// to pick the right upsert ordering tier (§4.5: projects, users, workflow
// config, work items, pull requests, links).
type EntityEnvelope struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// Canonical entity kinds, also the Load Worker's upsert ordering tiers.
const (
	EntityKindProject     = "project"
	EntityKindUser        = "user"
	EntityKindWorkflow    = "workflow"
	EntityKindStatus      = "status"
	EntityKindMapping     = "mapping"
	EntityKindHierarchy   = "hierarchy"
	EntityKindWorkItem    = "work_item"
	EntityKindPullRequest = "pull_request"
	EntityKindLink        = "link"
)

// VectorizeMessage asks the Vectorize Worker to (re)compute the embedding
// for one entity whose text fields changed since the last vector.
type VectorizeMessage struct {
	TenantID        int64  `json:"tenant_id"`
	EntityKind      string `json:"entity_kind"`
	EntityID        string `json:"entity_id"`
	TextFingerprint string `json:"text_fingerprint"`
}
