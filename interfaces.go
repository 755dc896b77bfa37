package recall

import (
	"context"

	"github.com/soundprediction/recall/pkg/compaction"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/ingest"
	"github.com/soundprediction/recall/pkg/persona"
	"github.com/soundprediction/recall/pkg/search"
	"github.com/soundprediction/recall/pkg/types"
)

// This file defines focused interfaces that follow the Interface Segregation Principle.
// The main Recall interface is composed from these smaller interfaces.
// Consumers should depend on the smallest interface that meets their needs.

// IngestManager admits content into the ingestion queue and reports its progress.
type IngestManager interface {
	// Ingest validates in, checks the tenant's credits and queues it. An empty
	// id gets a generated one; a known id is re-queued in place.
	Ingest(ctx context.Context, tenant types.Tenant, in ingest.Input, id string) (*ingest.Item, error)

	// GetIngestItem returns a queue item owned by tenant.
	GetIngestItem(ctx context.Context, tenant types.Tenant, id string) (*ingest.Item, error)

	// RetryIngest moves a FAILED item back to PENDING under the same id.
	RetryIngest(ctx context.Context, tenant types.Tenant, id string) (*ingest.Item, error)

	// SubscribeIngest streams status events of one item. Call the returned
	// function to unsubscribe.
	SubscribeIngest(id string) (<-chan ingest.Event, func())
}

// GraphQuerier provides read-only access to the graph.
type GraphQuerier interface {
	// Search runs a bounded traversal for query. Store and embedder failures
	// yield an empty result, never an error.
	Search(ctx context.Context, tenant types.Tenant, query string, opts search.Options) (*search.Result, error)

	// GetEpisode retrieves one episode.
	GetEpisode(ctx context.Context, tenant types.Tenant, uuid string) (*types.Episode, error)
}

// GraphMutator removes data from the graph.
type GraphMutator interface {
	// DeleteEpisode removes the episode, the statements only it supports and
	// the entities left without triples.
	DeleteEpisode(ctx context.Context, tenant types.Tenant, uuid string) (*driver.DeleteResult, error)
}

// SpaceManager groups statements into spaces and synthesizes their summaries.
type SpaceManager interface {
	CreateSpace(ctx context.Context, tenant types.Tenant, name, description string) (*types.Space, error)
	ListSpaces(ctx context.Context, tenant types.Tenant) ([]*types.Space, error)

	// UpdateAssignments applies an assignment intent and returns the number
	// of statements affected.
	UpdateAssignments(ctx context.Context, tenant types.Tenant, intent persona.Intent, spaceID string, statementIDs []string) (int, error)

	// StartSynthesis summarizes spaceID, or the tenant's persona when spaceID
	// is empty, in a background job and returns its id.
	StartSynthesis(tenant types.Tenant, spaceID string, mode persona.Mode) (string, error)
	JobStatus(tenant types.Tenant, jobID string) (*persona.Job, error)
	CancelJob(tenant types.Tenant, jobID string) error
}

// SessionManager rolls session episodes up into compacted sessions.
type SessionManager interface {
	Compact(ctx context.Context, tenant types.Tenant, sessionID string, window compaction.Window) (*types.CompactedSession, error)
}

// GraphAdmin provides administrative operations.
type GraphAdmin interface {
	// CreateIndices creates database indices and constraints.
	CreateIndices(ctx context.Context) error

	// Start launches the ingestion workers. Stop halts them.
	Start(ctx context.Context) error
	Stop()

	// Close stops the workers and releases every resource the client owns.
	Close(ctx context.Context) error
}

// Recall is the full engine surface.
type Recall interface {
	IngestManager
	GraphQuerier
	GraphMutator
	SpaceManager
	SessionManager
	GraphAdmin
}

var _ Recall = (*Client)(nil)
