// Package pipeline holds the core domain types shared by every stage of the
// extract/transform/load/vectorize pipeline: the job catalog, the raw staging
// handoff, the canonical entity shapes, and the queue message contracts.
package pipeline

import "time"

// Tenant is the isolation boundary. Every row, message, cache key, and
// subscription elsewhere in this module is scoped by TenantID.
type Tenant struct {
	ID         int64
	Name       string
	AssetPath  string
	CreatedAt  time.Time
}

// IntegrationKind identifies which Adapter normalizes a given Integration's
// raw payloads. Adding a kind means adding a variant here and a matching
// entry in the adapter registry, not touching the Scheduler or Workers.
type IntegrationKind string

const (
	IntegrationKindIssueTracker  IntegrationKind = "issue-tracker"
	IntegrationKindSourceControl IntegrationKind = "source-control"
)

// Integration is a configured connection from a tenant to one external
// system. BaseSearch is an opaque string the adapter alone interprets (an
// "owner/repo" for the issue tracker, a comma-separated list of project
// paths for source control).
type Integration struct {
	ID                   int64
	TenantID             int64
	Kind                 IntegrationKind
	Active               bool
	BaseSearch           string
	EncryptedCredentials []byte
}

// JobStatus is the job catalog's four-state lifecycle. There is no fifth
// state; FINISHED and FAILED are resting states between fires, not terminal.
type JobStatus string

const (
	JobStatusReady    JobStatus = "READY"
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusFinished JobStatus = "FINISHED"
	JobStatusFailed   JobStatus = "FAILED"
)

// Job is the scheduler's unit of work. CheckpointData is opaque JSON owned
// by the adapter identified through Integration.Kind; the scheduler never
// interprets it, only persists and hands it back on the next extract fire.
type Job struct {
	ID                      int64
	TenantID                int64
	JobName                 string
	IntegrationID           int64
	Status                  JobStatus
	ScheduleIntervalMinutes int
	RetryIntervalMinutes    int
	LastRunStartedAt        *time.Time
	LastRunFinishedAt       *time.Time
	RetryCount              int
	ErrorMessage            string
	CheckpointData          []byte
	Active                  bool
}

// RawBatch is one durably-staged page of source data, the handoff unit
// between the Extract Worker and the Transform Worker. Immutable once
// written; garbage-collected after a retention window outside this package.
type RawBatch struct {
	TenantID            int64
	IntegrationID        int64
	BatchID              string
	Kind                 string
	Payload              []byte
	ReceivedAt           time.Time
	ConsumedByTransformAt *time.Time
}

// Project is a tenant-scoped identity for grouping work items.
type Project struct {
	TenantID    int64
	ExternalKey string
	Name        string
	Metadata    map[string]any
}

// WorkItem is the canonical form of an issue/ticket, carrying both the
// source fields and the workflow metrics the Transform Worker derives from
// the changelog (lead time, rework, complexity).
type WorkItem struct {
	TenantID               int64
	ExternalKey            string
	ProjectExternalKey     string
	AssigneeExternalKey    string
	Status                 string
	WorkflowID             string
	Priority               string
	Summary                string
	Description            string
	AcceptanceCriteria     string
	LeadTimeMinutes        *int64
	WorkStartsCount        int
	ReworkIndicator        bool
	WorkflowComplexity     float64
	ParseError             string
	UpdatedAt              time.Time
}

// PullRequest is the canonical form of a source-control merge/pull request.
type PullRequest struct {
	TenantID             int64
	ExternalID           string
	Repository           string
	AuthorExternalKey    string
	OpenedAt             time.Time
	MergedAt             *time.Time
	ClosedAt             *time.Time
	LinkedWorkItemKeys   []string
	UpdatedAt            time.Time
}

// User is the canonical identity row resolved from an external user
// identifier the first time the Transform Worker encounters it.
type User struct {
	TenantID     int64
	ExternalKey  string
	DisplayName  string
	Email        string
}

// Workflow, Status, Mapping and Hierarchy configure how external statuses
// map onto canonical workflow states; Mapping carries the actual
// external->canonical string translation.
type Workflow struct {
	TenantID int64
	ID       string
	Name     string
}

type Status struct {
	TenantID   int64
	ID         string
	WorkflowID string
	Name       string
}

type Mapping struct {
	TenantID       int64
	ExternalStatus string
	CanonicalState string
}

type Hierarchy struct {
	TenantID       int64
	ParentExternal string
	ChildExternal  string
}

// WorkItemPullRequestLink associates a work item with a pull request within
// one tenant, produced by the Transform Worker's identifier-pattern parsing.
type WorkItemPullRequestLink struct {
	TenantID           int64
	WorkItemExternalKey string
	PullRequestExternalID string
}

// VectorRecord is the metadata stored alongside an embedding in the vector
// store. Exactly one current record per (TenantID, EntityKind, EntityID,
// EmbeddingModel); a changed TextFingerprint replaces it, never appends.
type VectorRecord struct {
	TenantID        int64
	EntityKind      string
	EntityID        string
	EmbeddingModel  string
	Dimension       int
	Vector          []float32
	TextFingerprint string
}
