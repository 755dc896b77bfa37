package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/soundprediction/recall/pkg/types"
	"github.com/soundprediction/recall/pkg/utils"
)

// Neo4jStore implements GraphStore on a Neo4j database.
type Neo4jStore struct {
	client   neo4j.DriverWithContext
	database string
	opts     Options
	logger   *slog.Logger
}

// NewNeo4jStore connects to Neo4j and verifies connectivity.
func NewNeo4jStore(ctx context.Context, uri, username, password, database string, opts Options, logger *slog.Logger) (*Neo4jStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", uri, err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{client: client, database: database, opts: opts, logger: logger}, nil
}

// Close closes the underlying driver.
func (n *Neo4jStore) Close(ctx context.Context) error {
	return n.client.Close(ctx)
}

// CreateIndices creates the lookup indices. Existing indices are left alone.
func (n *Neo4jStore) CreateIndices(ctx context.Context) error {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	for _, q := range indexQueries {
		if _, err := session.Run(ctx, q, nil); err != nil {
			if !strings.Contains(err.Error(), "already exists") && !strings.Contains(err.Error(), "An equivalent") {
				return fmt.Errorf("failed to create index: %w", err)
			}
		}
	}
	return nil
}

// ExecuteWrite runs fn inside one managed write transaction. The driver may
// replay fn on transient failures, so fn must only touch the graph through tx.
func (n *Neo4jStore) ExecuteWrite(ctx context.Context, fn func(tx GraphTx) error) error {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx, opts: n.opts})
	})
	return err
}

func (n *Neo4jStore) read(ctx context.Context, query string, params map[string]any) ([]*db.Record, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database, AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, query, params)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*db.Record), nil
}

func collect(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]*db.Record, error) {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

func tenantParams(t types.Tenant, kv ...any) map[string]any {
	params := map[string]any{"userId": t.UserID, "workspaceId": t.WorkspaceID}
	for i := 0; i+1 < len(kv); i += 2 {
		params[kv[i].(string)] = kv[i+1]
	}
	return params
}

func episodesFrom(records []*db.Record, field string) ([]*types.Episode, error) {
	out := make([]*types.Episode, 0, len(records))
	for _, rec := range records {
		node, err := MustDBNode(rec, field)
		if err != nil {
			return nil, err
		}
		ep := episodeFromNode(node)
		out = append(out, &ep)
	}
	return out, nil
}

// triplesFrom decodes tripleProjection rows, dropping those filter rejects.
func triplesFrom(records []*db.Record, filter *StatementFilter) ([]*types.Triple, error) {
	out := make([]*types.Triple, 0, len(records))
	for _, rec := range records {
		t, labels, err := tripleFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if filter != nil && !filter.matches(&t.Statement, labels) {
			continue
		}
		sort.Strings(t.EpisodeUUIDs)
		out = append(out, t)
	}
	return out, nil
}

func (n *Neo4jStore) GetEpisode(ctx context.Context, tenant types.Tenant, id string) (*types.Episode, error) {
	records, err := n.read(ctx, queryGetEpisode, tenantParams(tenant, "uuid", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEpisodeNotFound
	}
	eps, err := episodesFrom(records, "ep")
	if err != nil {
		return nil, err
	}
	return eps[0], nil
}

func (n *Neo4jStore) LatestSessionEpisode(ctx context.Context, tenant types.Tenant, sessionID string) (*types.Episode, error) {
	records, err := n.read(ctx, queryLatestSessionEpisode, tenantParams(tenant, "sessionId", sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to look up session %s: %w", sessionID, err)
	}
	if len(records) == 0 {
		return nil, ErrEpisodeNotFound
	}
	eps, err := episodesFrom(records, "ep")
	if err != nil {
		return nil, err
	}
	return eps[0], nil
}

func (n *Neo4jStore) SessionEpisodes(ctx context.Context, tenant types.Tenant, sessionID string, version int) ([]*types.Episode, error) {
	records, err := n.read(ctx, querySessionEpisodes, tenantParams(tenant, "sessionId", sessionID, "version", int64(version)))
	if err != nil {
		return nil, fmt.Errorf("failed to list session episodes: %w", err)
	}
	return episodesFrom(records, "ep")
}

func (n *Neo4jStore) ListEpisodes(ctx context.Context, tenant types.Tenant, filter EpisodeFilter) ([]*types.Episode, error) {
	records, err := n.read(ctx, queryTenantEpisodes, tenantParams(tenant))
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	all, err := episodesFrom(records, "ep")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, ep := range all {
		if filter.matches(ep) {
			out = append(out, ep)
		}
	}
	sortEpisodes(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ScoreEntities loads the tenant's embedded entities and ranks them in Go.
func (n *Neo4jStore) ScoreEntities(ctx context.Context, tenant types.Tenant, embedding []float32, entityTypes []types.EntityType) ([]ScoredEntity, error) {
	records, err := n.read(ctx, queryTenantEntities, tenantParams(tenant))
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	var out []ScoredEntity
	for _, rec := range records {
		node, err := MustDBNode(rec, "e")
		if err != nil {
			return nil, err
		}
		e := entityFromNode(node)
		if len(e.NameEmbedding) == 0 || !containsEntityType(entityTypes, e.Type) {
			continue
		}
		out = append(out, ScoredEntity{Entity: e, Score: utils.CosineSimilarity(embedding, e.NameEmbedding)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entity.UUID < out[j].Entity.UUID
	})
	return out, nil
}

func (n *Neo4jStore) ScoreStatements(ctx context.Context, tenant types.Tenant, embedding []float32, filter StatementFilter) ([]ScoredStatement, error) {
	records, err := n.read(ctx, queryTenantStatements, tenantParams(tenant))
	if err != nil {
		return nil, fmt.Errorf("failed to load statements: %w", err)
	}
	triples, err := triplesFrom(records, &filter)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredStatement, 0, len(triples))
	for _, t := range triples {
		out = append(out, ScoredStatement{Triple: t, Score: utils.CosineSimilarity(embedding, t.Statement.FactEmbedding)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Triple.Statement.UUID < out[j].Triple.Statement.UUID
	})
	return out, nil
}

func (n *Neo4jStore) StatementsForEntities(ctx context.Context, tenant types.Tenant, entityUUIDs []string, filter StatementFilter) ([]*types.Triple, error) {
	if len(entityUUIDs) == 0 {
		return nil, nil
	}
	records, err := n.read(ctx, queryStatementsForEntities, tenantParams(tenant, "entityUuids", entityUUIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to expand entities: %w", err)
	}
	out, err := triplesFrom(records, &filter)
	if err != nil {
		return nil, err
	}
	sortTriples(out)
	return out, nil
}

func (n *Neo4jStore) GetStatements(ctx context.Context, tenant types.Tenant, statementUUIDs []string) ([]*types.Triple, error) {
	if len(statementUUIDs) == 0 {
		return nil, nil
	}
	records, err := n.read(ctx, queryStatementsByUUID, tenantParams(tenant, "uuids", statementUUIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get statements: %w", err)
	}
	return triplesFrom(records, nil)
}

func (n *Neo4jStore) EpisodesForStatements(ctx context.Context, tenant types.Tenant, statementUUIDs []string) ([]*types.Episode, error) {
	if len(statementUUIDs) == 0 {
		return nil, nil
	}
	records, err := n.read(ctx, queryEpisodesForStatements, tenantParams(tenant, "uuids", statementUUIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load provenance: %w", err)
	}
	out, err := episodesFrom(records, "ep")
	if err != nil {
		return nil, err
	}
	sortEpisodes(out)
	return out, nil
}

func (n *Neo4jStore) GetSpace(ctx context.Context, tenant types.Tenant, id string) (*types.Space, error) {
	records, err := n.read(ctx, queryGetSpace, tenantParams(tenant, "uuid", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get space: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrSpaceNotFound
	}
	node, err := MustDBNode(records[0], "sp")
	if err != nil {
		return nil, err
	}
	sp := spaceFromNode(node)
	return &sp, nil
}

func (n *Neo4jStore) ListSpaces(ctx context.Context, tenant types.Tenant, kind types.SpaceKind) ([]*types.Space, error) {
	records, err := n.read(ctx, queryListSpaces, tenantParams(tenant, "kind", string(kind)))
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}
	out := make([]*types.Space, 0, len(records))
	for _, rec := range records {
		node, err := MustDBNode(rec, "sp")
		if err != nil {
			return nil, err
		}
		sp := spaceFromNode(node)
		out = append(out, &sp)
	}
	return out, nil
}

func (n *Neo4jStore) SpaceStatements(ctx context.Context, tenant types.Tenant, spaceUUID string) ([]*types.Triple, error) {
	if _, err := n.GetSpace(ctx, tenant, spaceUUID); err != nil {
		return nil, err
	}
	records, err := n.read(ctx, querySpaceStatements, tenantParams(tenant, "space", spaceUUID))
	if err != nil {
		return nil, fmt.Errorf("failed to load space statements: %w", err)
	}
	out, err := triplesFrom(records, nil)
	if err != nil {
		return nil, err
	}
	sortTriples(out)
	return out, nil
}

func (n *Neo4jStore) UnassignedStatements(ctx context.Context, tenant types.Tenant, limit int) ([]*types.Triple, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	records, err := n.read(ctx, queryUnassignedStatements, tenantParams(tenant, "limit", int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to load unassigned statements: %w", err)
	}
	out, err := triplesFrom(records, nil)
	if err != nil {
		return nil, err
	}
	sortTriples(out)
	return out, nil
}

func (n *Neo4jStore) CompactedSessions(ctx context.Context, tenant types.Tenant, sessionID string) ([]*types.CompactedSession, error) {
	records, err := n.read(ctx, queryCompactedSessions, tenantParams(tenant, "sessionId", sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to load compacted sessions: %w", err)
	}
	out := make([]*types.CompactedSession, 0, len(records))
	for _, rec := range records {
		node, err := MustDBNode(rec, "c")
		if err != nil {
			return nil, err
		}
		sources := recordStrings(rec, "sources")
		sort.Strings(sources)
		cs := compactedFromNode(node, sources)
		out = append(out, &cs)
	}
	return out, nil
}

// neo4jTx adapts a managed transaction to GraphTx.
type neo4jTx struct {
	tx     neo4j.ManagedTransaction
	opts   Options
	locked map[types.Tenant]bool
}

// lockTenant takes the workspace's write lock node, held until the
// transaction ends. Concurrent writers to one workspace queue behind it, so
// the entity and active-fact lookups that follow see each other's commits.
func (t *neo4jTx) lockTenant(ctx context.Context, tenant types.Tenant) error {
	if t.locked[tenant] {
		return nil
	}
	if _, err := t.run(ctx, queryLockTenant, tenantParams(tenant)); err != nil {
		return fmt.Errorf("failed to lock workspace %s: %w", tenant.WorkspaceID, err)
	}
	if t.locked == nil {
		t.locked = make(map[types.Tenant]bool)
	}
	t.locked[tenant] = true
	return nil
}

func (t *neo4jTx) run(ctx context.Context, query string, params map[string]any) ([]*db.Record, error) {
	return collect(ctx, t.tx, query, params)
}

func (t *neo4jTx) count(ctx context.Context, query string, params map[string]any) (int, error) {
	records, err := t.run(ctx, query, params)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	v, _ := records[0].Get("n")
	n, _ := AsInt64(v)
	return int(n), nil
}

func (t *neo4jTx) CreateEpisode(ctx context.Context, ep *types.Episode) error {
	if err := ep.Validate(); err != nil {
		return fmt.Errorf("invalid episode: %w", err)
	}
	n, err := t.count(ctx, queryEpisodeExists, map[string]any{"uuid": ep.UUID})
	if err != nil {
		return fmt.Errorf("failed to check episode: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("episode %s: %w", ep.UUID, ErrEpisodeExists)
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	if _, err := t.run(ctx, queryCreateEpisode, map[string]any{"props": episodeProps(ep)}); err != nil {
		return fmt.Errorf("failed to create episode: %w", err)
	}
	return nil
}

func (t *neo4jTx) UpsertEntity(ctx context.Context, in EntityInput) (*types.Entity, error) {
	if err := in.Tenant.Validate(); err != nil {
		return nil, err
	}
	norm := types.NormalizeName(in.Name)
	if norm == "" {
		return nil, types.ErrEmptyName
	}
	if err := t.lockTenant(ctx, in.Tenant); err != nil {
		return nil, err
	}

	records, err := t.run(ctx, queryEntitiesOfType, tenantParams(in.Tenant, "type", string(in.Type)))
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate entities: %w", err)
	}
	candidates := make([]types.Entity, 0, len(records))
	for _, rec := range records {
		node, err := MustDBNode(rec, "e")
		if err != nil {
			return nil, err
		}
		e := entityFromNode(node)
		if e.NormalizedName == norm {
			if len(e.NameEmbedding) == 0 && len(in.Embedding) > 0 {
				if _, err := t.run(ctx, querySetEntityEmbedding, map[string]any{"uuid": e.UUID, "embedding": encodeEmbedding(in.Embedding)}); err != nil {
					return nil, fmt.Errorf("failed to update entity embedding: %w", err)
				}
				e.NameEmbedding = in.Embedding
			}
			return &e, nil
		}
		candidates = append(candidates, e)
	}

	if match, _ := bestMerge(in.Embedding, candidates, t.opts.mergeThreshold()); match != nil {
		m := *match
		return &m, nil
	}

	e := types.Entity{
		UUID:           uuid.NewString(),
		Name:           in.Name,
		NormalizedName: norm,
		Type:           in.Type,
		UserID:         in.Tenant.UserID,
		WorkspaceID:    in.Tenant.WorkspaceID,
		NameEmbedding:  in.Embedding,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := t.run(ctx, queryCreateEntity, map[string]any{"props": entityProps(&e)}); err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}
	return &e, nil
}

func (t *neo4jTx) CreateTriple(ctx context.Context, in TripleInput) (*TripleResult, error) {
	if err := checkTriple(in); err != nil {
		return nil, err
	}
	ep := in.Episode
	tenant := ep.Tenant()
	if err := t.lockTenant(ctx, tenant); err != nil {
		return nil, err
	}

	n, err := t.count(ctx, queryEpisodeExists, map[string]any{"uuid": ep.UUID})
	if err != nil {
		return nil, fmt.Errorf("failed to check provenance: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("provenance %s: %w", ep.UUID, ErrEpisodeNotFound)
	}

	records, err := t.run(ctx, queryActiveFacts, tenantParams(tenant, "subject", in.Subject.UUID, "predicate", in.Predicate.UUID))
	if err != nil {
		return nil, fmt.Errorf("failed to load active facts: %w", err)
	}
	active := make([]activeFact, 0, len(records))
	for _, rec := range records {
		node, err := MustDBNode(rec, "s")
		if err != nil {
			return nil, err
		}
		obj, err := MustString(rec, "objectUuid")
		if err != nil {
			return nil, err
		}
		eps := recordStrings(rec, "episodeUuids")
		sort.Strings(eps)
		active = append(active, activeFact{Statement: statementFromNode(node), ObjectUUID: obj, EpisodeUUIDs: eps})
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Statement.UUID < active[j].Statement.UUID })

	plan := planConflicts(active, in.Object.UUID, ep.ValidAt)
	if plan.Duplicate != nil {
		records, err := t.run(ctx, queryAddProvenance, map[string]any{"statement": plan.Duplicate.Statement.UUID, "episode": ep.UUID})
		if err != nil {
			return nil, fmt.Errorf("failed to add provenance: %w", err)
		}
		if len(records) == 0 {
			return nil, ErrStatementNotFound
		}
		return &TripleResult{Statement: plan.Duplicate.Statement, Created: false}, nil
	}

	res := &TripleResult{Created: true}
	for _, a := range plan.Invalidate {
		st, err := t.InvalidateStatement(ctx, tenant, a.Statement.UUID, ep.UUID, ep.ValidAt)
		if err != nil {
			return nil, err
		}
		res.Invalidated = append(res.Invalidated, *st)
	}

	st := types.Statement{
		UUID:          uuid.NewString(),
		Fact:          in.Statement.Fact,
		FactEmbedding: in.Statement.FactEmbedding,
		ValidAt:       ep.ValidAt,
		Aspect:        in.Statement.Aspect,
		Attributes:    in.Statement.Attributes,
		UserID:        tenant.UserID,
		WorkspaceID:   tenant.WorkspaceID,
		CreatedAt:     time.Now().UTC(),
	}
	if sup := plan.SupersededBy; sup != nil {
		at := sup.Statement.ValidAt
		st.InvalidAt = &at
		st.InvalidatedBy = sup.invalidatingEpisode()
	}
	records, err = t.run(ctx, queryCreateStatement, map[string]any{
		"subject":   in.Subject.UUID,
		"predicate": in.Predicate.UUID,
		"object":    in.Object.UUID,
		"episode":   ep.UUID,
		"props":     statementProps(&st),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create statement: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("failed to create statement: %w", ErrEntityNotFound)
	}
	res.Statement = st
	return res, nil
}

func (t *neo4jTx) InvalidateStatement(ctx context.Context, tenant types.Tenant, statementUUID, invalidatingEpisodeUUID string, invalidAt time.Time) (*types.Statement, error) {
	records, err := t.run(ctx, queryGetStatementNode, tenantParams(tenant, "uuid", statementUUID))
	if err != nil {
		return nil, fmt.Errorf("failed to load statement: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrStatementNotFound
	}
	node, err := MustDBNode(records[0], "s")
	if err != nil {
		return nil, err
	}
	if current := statementFromNode(node); !current.Active() {
		return nil, fmt.Errorf("statement %s: %w", statementUUID, ErrStatementInvalidated)
	}

	records, err = t.run(ctx, queryInvalidateStatement, map[string]any{
		"uuid":          statementUUID,
		"invalidAt":     formatTime(invalidAt),
		"invalidatedBy": invalidatingEpisodeUUID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invalidate statement: %w", err)
	}
	node, err = MustDBNode(records[0], "s")
	if err != nil {
		return nil, err
	}
	st := statementFromNode(node)
	return &st, nil
}

func (t *neo4jTx) DeleteEpisode(ctx context.Context, tenant types.Tenant, episodeUUID string) (*DeleteResult, error) {
	records, err := t.run(ctx, queryGetEpisode, tenantParams(tenant, "uuid", episodeUUID))
	if err != nil {
		return nil, fmt.Errorf("failed to load episode: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEpisodeNotFound
	}
	res := &DeleteResult{Deleted: true, EpisodesDeleted: 1}

	records, err = t.run(ctx, queryOrphanedStatements, map[string]any{"uuid": episodeUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned statements: %w", err)
	}
	var statements, entities []string
	for _, rec := range records {
		id, err := MustString(rec, "uuid")
		if err != nil {
			return nil, err
		}
		statements = append(statements, id)
		entities = append(entities, recordStrings(rec, "entities")...)
	}

	if len(statements) > 0 {
		if _, err := t.run(ctx, queryDeleteStatements, map[string]any{"uuids": statements}); err != nil {
			return nil, fmt.Errorf("failed to delete statements: %w", err)
		}
		res.StatementsDeleted = len(statements)
		n, err := t.count(ctx, queryDeleteUnreferencedEntities, map[string]any{"uuids": entities})
		if err != nil {
			return nil, fmt.Errorf("failed to delete entities: %w", err)
		}
		res.EntitiesDeleted = n
	}

	if _, err := t.run(ctx, queryClearInvalidatedBy, map[string]any{"uuid": episodeUUID}); err != nil {
		return nil, fmt.Errorf("failed to clear invalidation references: %w", err)
	}
	if _, err := t.run(ctx, queryDeleteEpisode, map[string]any{"uuid": episodeUUID}); err != nil {
		return nil, fmt.Errorf("failed to delete episode: %w", err)
	}
	return res, nil
}

func (t *neo4jTx) CreateSpace(ctx context.Context, space *types.Space) error {
	if err := space.Tenant().Validate(); err != nil {
		return err
	}
	if space.Name == "" {
		return types.ErrEmptyName
	}
	if space.UUID == "" {
		space.UUID = uuid.NewString()
	}
	now := time.Now().UTC()
	if space.CreatedAt.IsZero() {
		space.CreatedAt = now
	}
	space.UpdatedAt = now
	if space.Kind == "" {
		space.Kind = types.TopicSpace
	}
	if _, err := t.run(ctx, queryCreateSpace, map[string]any{"props": spaceProps(space)}); err != nil {
		return fmt.Errorf("failed to create space: %w", err)
	}
	return nil
}

func (t *neo4jTx) ownsSpace(ctx context.Context, tenant types.Tenant, spaceUUID string) error {
	records, err := t.run(ctx, queryGetSpace, tenantParams(tenant, "uuid", spaceUUID))
	if err != nil {
		return fmt.Errorf("failed to load space: %w", err)
	}
	if len(records) == 0 {
		return ErrSpaceNotFound
	}
	return nil
}

func (t *neo4jTx) AssignStatements(ctx context.Context, tenant types.Tenant, spaceUUID string, statementUUIDs []string) (int, error) {
	if err := t.ownsSpace(ctx, tenant, spaceUUID); err != nil {
		return 0, err
	}
	records, err := t.run(ctx, queryTenantStatementUUIDs, tenantParams(tenant, "uuids", statementUUIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to check statements: %w", err)
	}
	found := set{}
	if len(records) > 0 {
		for _, id := range recordStrings(records[0], "uuids") {
			found[id] = struct{}{}
		}
	}
	for _, id := range statementUUIDs {
		if _, ok := found[id]; !ok {
			return 0, fmt.Errorf("statement %s: %w", id, ErrStatementNotFound)
		}
	}
	n, err := t.count(ctx, queryAssignStatements, map[string]any{"space": spaceUUID, "uuids": statementUUIDs})
	if err != nil {
		return 0, fmt.Errorf("failed to assign statements: %w", err)
	}
	return n, nil
}

func (t *neo4jTx) RemoveStatements(ctx context.Context, tenant types.Tenant, spaceUUID string, statementUUIDs []string) (int, error) {
	if err := t.ownsSpace(ctx, tenant, spaceUUID); err != nil {
		return 0, err
	}
	n, err := t.count(ctx, queryRemoveStatements, map[string]any{"space": spaceUUID, "uuids": statementUUIDs})
	if err != nil {
		return 0, fmt.Errorf("failed to remove statements: %w", err)
	}
	return n, nil
}

func (t *neo4jTx) UpdateSpaceSummary(ctx context.Context, tenant types.Tenant, spaceUUID string, summary *types.SpaceSummary, at time.Time) error {
	records, err := t.run(ctx, queryUpdateSpaceSummary, tenantParams(tenant,
		"uuid", spaceUUID,
		"summary", encodeJSON(summary),
		"at", formatTime(at),
	))
	if err != nil {
		return fmt.Errorf("failed to update space summary: %w", err)
	}
	if len(records) == 0 {
		return ErrSpaceNotFound
	}
	return nil
}

func (t *neo4jTx) SaveCompactedSession(ctx context.Context, cs *types.CompactedSession) error {
	if err := (types.Tenant{UserID: cs.UserID, WorkspaceID: cs.WorkspaceID}).Validate(); err != nil {
		return err
	}
	if cs.UUID == "" {
		cs.UUID = uuid.NewString()
	}
	n, err := t.count(ctx, queryCompactedExists, map[string]any{"uuid": cs.UUID})
	if err != nil {
		return fmt.Errorf("failed to check compacted session: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("compacted session %s is read-only", cs.UUID)
	}
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = time.Now().UTC()
	}
	sources := cs.SourceEpisodeUUIDs
	if sources == nil {
		sources = []string{}
	}
	if _, err := t.run(ctx, queryCreateCompacted, map[string]any{"props": compactedProps(cs), "sources": sources}); err != nil {
		return fmt.Errorf("failed to save compacted session: %w", err)
	}
	return nil
}

var _ GraphStore = (*Neo4jStore)(nil)
