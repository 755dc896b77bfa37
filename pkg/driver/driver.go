package driver

import (
	"context"
	"errors"
	"time"

	"github.com/soundprediction/recall/pkg/types"
)

// DefaultEntityMergeThreshold is the cosine similarity at or above which an
// extracted entity is merged into an existing same-type entity of the tenant.
const DefaultEntityMergeThreshold = 0.90

var (
	ErrEpisodeNotFound      = errors.New("episode not found")
	ErrEntityNotFound       = errors.New("entity not found")
	ErrStatementNotFound    = errors.New("statement not found")
	ErrSpaceNotFound        = errors.New("space not found")
	ErrStatementInvalidated = errors.New("statement already invalidated")
	ErrEpisodeExists        = errors.New("episode already exists")
)

// GraphStore is the reified graph. Reads observe a consistent snapshot; every
// mutation goes through ExecuteWrite and commits or rolls back as a unit.
type GraphStore interface {
	GraphReader

	// ExecuteWrite runs fn in a single write transaction. Any error returned by
	// fn, or a cancelled ctx, discards every change fn made.
	ExecuteWrite(ctx context.Context, fn func(tx GraphTx) error) error

	// CreateIndices creates indices and constraints. Safe to call repeatedly.
	CreateIndices(ctx context.Context) error

	// Close releases all resources held by the store.
	Close(ctx context.Context) error
}

// GraphTx is the write surface available inside ExecuteWrite.
type GraphTx interface {
	CreateEpisode(ctx context.Context, ep *types.Episode) error

	// UpsertEntity matches by normalized name, type and tenant, then by
	// embedding similarity, and creates the entity only if neither matches.
	UpsertEntity(ctx context.Context, in EntityInput) (*types.Entity, error)

	// CreateTriple inserts a statement with its triple and provenance. An active
	// statement with the same subject and predicate but another object is
	// invalidated in the same transaction.
	CreateTriple(ctx context.Context, in TripleInput) (*TripleResult, error)

	InvalidateStatement(ctx context.Context, tenant types.Tenant, statementUUID, invalidatingEpisodeUUID string, invalidAt time.Time) (*types.Statement, error)

	// DeleteEpisode removes the episode, statements it alone supports, and
	// entities left without triples.
	DeleteEpisode(ctx context.Context, tenant types.Tenant, episodeUUID string) (*DeleteResult, error)

	CreateSpace(ctx context.Context, space *types.Space) error
	AssignStatements(ctx context.Context, tenant types.Tenant, spaceUUID string, statementUUIDs []string) (int, error)
	RemoveStatements(ctx context.Context, tenant types.Tenant, spaceUUID string, statementUUIDs []string) (int, error)
	UpdateSpaceSummary(ctx context.Context, tenant types.Tenant, spaceUUID string, summary *types.SpaceSummary, at time.Time) error

	SaveCompactedSession(ctx context.Context, cs *types.CompactedSession) error
}

// GraphReader holds the read-only queries. Every method filters by tenant.
type GraphReader interface {
	GetEpisode(ctx context.Context, tenant types.Tenant, uuid string) (*types.Episode, error)
	LatestSessionEpisode(ctx context.Context, tenant types.Tenant, sessionID string) (*types.Episode, error)
	// SessionEpisodes returns one version of a session ordered by chunk index.
	SessionEpisodes(ctx context.Context, tenant types.Tenant, sessionID string, version int) ([]*types.Episode, error)
	ListEpisodes(ctx context.Context, tenant types.Tenant, filter EpisodeFilter) ([]*types.Episode, error)

	ScoreEntities(ctx context.Context, tenant types.Tenant, embedding []float32, entityTypes []types.EntityType) ([]ScoredEntity, error)
	ScoreStatements(ctx context.Context, tenant types.Tenant, embedding []float32, filter StatementFilter) ([]ScoredStatement, error)
	StatementsForEntities(ctx context.Context, tenant types.Tenant, entityUUIDs []string, filter StatementFilter) ([]*types.Triple, error)
	GetStatements(ctx context.Context, tenant types.Tenant, statementUUIDs []string) ([]*types.Triple, error)
	EpisodesForStatements(ctx context.Context, tenant types.Tenant, statementUUIDs []string) ([]*types.Episode, error)

	GetSpace(ctx context.Context, tenant types.Tenant, uuid string) (*types.Space, error)
	ListSpaces(ctx context.Context, tenant types.Tenant, kind types.SpaceKind) ([]*types.Space, error)
	SpaceStatements(ctx context.Context, tenant types.Tenant, spaceUUID string) ([]*types.Triple, error)
	UnassignedStatements(ctx context.Context, tenant types.Tenant, limit int) ([]*types.Triple, error)

	CompactedSessions(ctx context.Context, tenant types.Tenant, sessionID string) ([]*types.CompactedSession, error)
}

// Options configures store behaviour shared by all implementations.
type Options struct {
	EntityMergeThreshold float64
}

func (o Options) mergeThreshold() float64 {
	if o.EntityMergeThreshold <= 0 {
		return DefaultEntityMergeThreshold
	}
	return o.EntityMergeThreshold
}

// EntityInput describes an entity to match or create.
type EntityInput struct {
	Name      string
	Type      types.EntityType
	Tenant    types.Tenant
	Embedding []float32
}

// StatementInput is the fact part of a new triple.
type StatementInput struct {
	Fact          string
	FactEmbedding []float32
	Aspect        types.Aspect
	Attributes    map[string]string
}

// TripleInput links a new statement to its entities and provenance episode.
type TripleInput struct {
	Statement StatementInput
	Subject   *types.Entity
	Predicate *types.Entity
	Object    *types.Entity
	Episode   *types.Episode
}

// TripleResult reports what CreateTriple did.
type TripleResult struct {
	Statement types.Statement
	// Created is false when an identical active statement gained a provenance edge instead.
	Created     bool
	Invalidated []types.Statement
}

// DeleteResult counts what an episode cascade removed.
type DeleteResult struct {
	Deleted           bool `json:"deleted"`
	EpisodesDeleted   int  `json:"episodesDeleted"`
	StatementsDeleted int  `json:"statementsDeleted"`
	EntitiesDeleted   int  `json:"entitiesDeleted"`
}

// EpisodeFilter narrows ListEpisodes. Zero values are ignored.
type EpisodeFilter struct {
	SessionID string
	Since     time.Time
	Until     time.Time
	Types     []types.EpisodeType
	Limit     int
}

// StatementFilter narrows statement reads. Zero values are ignored.
type StatementFilter struct {
	StartTime          time.Time
	EndTime            time.Time
	LabelIDs           []string
	IncludeInvalidated bool
}

// ScoredEntity is an entity with its similarity to a query embedding.
type ScoredEntity struct {
	Entity types.Entity
	Score  float64
}

// ScoredStatement is a triple with its fact similarity to a query embedding.
type ScoredStatement struct {
	Triple *types.Triple
	Score  float64
}
