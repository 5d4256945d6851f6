// Package adapter defines the capability set every Integration Adapter
// implements (§4.2) and the registry the Extract Worker uses to resolve one
// from an Integration's Kind. Adding a kind means adding a variant here and
// an entry in the registry, never touching the Scheduler or the workers
// (§9 "Dynamic class-based integration registry... becomes a tagged variant
// IntegrationKind with a lookup table to adapter implementations").
package adapter

import (
	"context"
	"fmt"

	"pipelinecore.dev/pipeline"
)

// Page is one restartable unit of adapter output: a raw payload ready for
// Raw Staging plus an optional completion estimate for progress reporting.
type Page struct {
	Payload      []byte
	ProgressHint *int // percentage estimate, nil when the adapter cannot estimate total pages
}

// Session is an opaque connected-and-authenticated handle returned by
// Connect. Adapters may type-assert their own concrete session type inside
// Plan; callers never inspect it.
type Session any

// Plan is a lazy sequence of pages produced by one adapter's Plan call. A
// restart mid-run calls Plan again with the persisted checkpoint and
// resumes emitting pages from the same logical position (§3 "Checkpoint
// semantics").
type Plan interface {
	// Next fetches the next page. done=true with a nil page means the plan
	// is exhausted; a nil page with done=false means the plan moved its
	// position without producing a payload; checkpoint is the value the Extract Worker must persist
	// before advancing past this page (§3: "may only advance a cursor
	// after the page it advances past has been durably staged").
	Next(ctx context.Context) (page *Page, checkpoint []byte, done bool, err error)
}

// Adapter is the per-kind capability set (§4.2).
type Adapter interface {
	// Connect authenticates against the external system using the
	// decrypted credentials blob from the credentials store.
	Connect(ctx context.Context, credentials []byte) (Session, error)

	// Plan builds a lazy page sequence from baseSearch (the Integration's
	// opaque filter string) and the job's persisted checkpoint (nil on a
	// job's first run).
	Plan(ctx context.Context, session Session, baseSearch string, checkpoint []byte) (Plan, error)

	// BatchKind identifies the normalizer the Transform Worker selects for
	// raw payloads this adapter produces.
	BatchKind() string
}

// Registry looks up an Adapter by IntegrationKind. Safe for concurrent
// reads after construction; adapters are registered once at boot.
type Registry struct {
	adapters map[pipeline.IntegrationKind]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[pipeline.IntegrationKind]Adapter)}
}

// Register associates kind with adapter. Called once per kind at boot.
func (r *Registry) Register(kind pipeline.IntegrationKind, a Adapter) {
	r.adapters[kind] = a
}

// Resolve returns the Adapter registered for kind.
func (r *Registry) Resolve(kind pipeline.IntegrationKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("adapter: no adapter registered for kind %q", kind)
	}
	return a, nil
}
