package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/recall/pkg/types"
	"github.com/soundprediction/recall/pkg/utils"
)

type tripleRef struct {
	subject, predicate, object string
}

type set map[string]struct{}

func (s set) clone() set {
	out := make(set, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// graphState is one immutable snapshot of the in-memory graph. Writers clone it,
// mutate the clone, and publish it on commit.
type graphState struct {
	episodes   map[string]types.Episode
	entities   map[string]types.Entity
	statements map[string]types.Statement
	triples    map[string]tripleRef
	provenance map[string]set // statement -> episodes
	spaces     map[string]types.Space
	membership map[string]set // space -> statements
	compacted  map[string]types.CompactedSession
}

func newGraphState() *graphState {
	return &graphState{
		episodes:   map[string]types.Episode{},
		entities:   map[string]types.Entity{},
		statements: map[string]types.Statement{},
		triples:    map[string]tripleRef{},
		provenance: map[string]set{},
		spaces:     map[string]types.Space{},
		membership: map[string]set{},
		compacted:  map[string]types.CompactedSession{},
	}
}

func (g *graphState) clone() *graphState {
	out := newGraphState()
	for k, v := range g.episodes {
		out.episodes[k] = v
	}
	for k, v := range g.entities {
		out.entities[k] = v
	}
	for k, v := range g.statements {
		out.statements[k] = v
	}
	for k, v := range g.triples {
		out.triples[k] = v
	}
	for k, v := range g.provenance {
		out.provenance[k] = v.clone()
	}
	for k, v := range g.spaces {
		out.spaces[k] = v
	}
	for k, v := range g.membership {
		out.membership[k] = v.clone()
	}
	for k, v := range g.compacted {
		out.compacted[k] = v
	}
	return out
}

// MemoryStore is an embedded GraphStore. Readers see the last committed snapshot
// without locking; writers are serialized and publish a new snapshot on commit.
type MemoryStore struct {
	state   atomic.Pointer[graphState]
	writeMu sync.Mutex
	opts    Options
	logger  *slog.Logger
}

// NewMemoryStore creates an empty in-memory graph.
func NewMemoryStore(opts Options, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MemoryStore{opts: opts, logger: logger}
	s.state.Store(newGraphState())
	return s
}

// ExecuteWrite runs fn against a private copy of the graph and publishes it only if fn succeeds.
// The copy is of the whole graph, so each write costs O(graph size).
func (s *MemoryStore) ExecuteWrite(ctx context.Context, fn func(tx GraphTx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	next := s.state.Load().clone()
	if err := fn(&memoryTx{g: next, opts: s.opts}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state.Store(next)
	return nil
}

// CreateIndices is a no-op for the in-memory store.
func (s *MemoryStore) CreateIndices(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

func (s *MemoryStore) snapshot() *graphState { return s.state.Load() }

// GetEpisode returns the episode with uuid if it belongs to tenant.
func (s *MemoryStore) GetEpisode(ctx context.Context, tenant types.Tenant, id string) (*types.Episode, error) {
	ep, ok := s.snapshot().episodes[id]
	if !ok || !tenant.Owns(ep.UserID, ep.WorkspaceID) {
		return nil, ErrEpisodeNotFound
	}
	return &ep, nil
}

// LatestSessionEpisode returns chunk 0 of the highest stored version of sessionID.
func (s *MemoryStore) LatestSessionEpisode(ctx context.Context, tenant types.Tenant, sessionID string) (*types.Episode, error) {
	var latest *types.Episode
	for _, ep := range s.snapshot().episodes {
		if ep.SessionID != sessionID || ep.ChunkIndex != 0 || !tenant.Owns(ep.UserID, ep.WorkspaceID) {
			continue
		}
		if latest == nil || ep.Version > latest.Version ||
			(ep.Version == latest.Version && ep.CreatedAt.After(latest.CreatedAt)) {
			e := ep
			latest = &e
		}
	}
	if latest == nil {
		return nil, ErrEpisodeNotFound
	}
	return latest, nil
}

// SessionEpisodes returns the chunks of one session version ordered by chunk index.
func (s *MemoryStore) SessionEpisodes(ctx context.Context, tenant types.Tenant, sessionID string, version int) ([]*types.Episode, error) {
	var out []*types.Episode
	for _, ep := range s.snapshot().episodes {
		if ep.SessionID == sessionID && ep.Version == version && tenant.Owns(ep.UserID, ep.WorkspaceID) {
			e := ep
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChunkIndex != out[j].ChunkIndex {
			return out[i].ChunkIndex < out[j].ChunkIndex
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListEpisodes returns tenant episodes matching filter ordered by validAt.
func (s *MemoryStore) ListEpisodes(ctx context.Context, tenant types.Tenant, filter EpisodeFilter) ([]*types.Episode, error) {
	var out []*types.Episode
	for _, ep := range s.snapshot().episodes {
		if tenant.Owns(ep.UserID, ep.WorkspaceID) && filter.matches(&ep) {
			e := ep
			out = append(out, &e)
		}
	}
	sortEpisodes(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ScoreEntities scores every tenant entity carrying an embedding against embedding.
func (s *MemoryStore) ScoreEntities(ctx context.Context, tenant types.Tenant, embedding []float32, entityTypes []types.EntityType) ([]ScoredEntity, error) {
	var out []ScoredEntity
	for _, e := range s.snapshot().entities {
		if !tenant.Owns(e.UserID, e.WorkspaceID) || len(e.NameEmbedding) == 0 || !containsEntityType(entityTypes, e.Type) {
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

// ScoreStatements scores tenant statements passing filter by fact similarity.
func (s *MemoryStore) ScoreStatements(ctx context.Context, tenant types.Tenant, embedding []float32, filter StatementFilter) ([]ScoredStatement, error) {
	g := s.snapshot()
	var out []ScoredStatement
	for id, st := range g.statements {
		if !tenant.Owns(st.UserID, st.WorkspaceID) || len(st.FactEmbedding) == 0 {
			continue
		}
		if !filter.matches(&st, g.provenanceLabels(id)) {
			continue
		}
		out = append(out, ScoredStatement{Triple: g.triple(id), Score: utils.CosineSimilarity(embedding, st.FactEmbedding)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Triple.Statement.UUID < out[j].Triple.Statement.UUID
	})
	return out, nil
}

// StatementsForEntities returns statements touching any of entityUUIDs as subject, predicate or object.
func (s *MemoryStore) StatementsForEntities(ctx context.Context, tenant types.Tenant, entityUUIDs []string, filter StatementFilter) ([]*types.Triple, error) {
	g := s.snapshot()
	want := make(set, len(entityUUIDs))
	for _, id := range entityUUIDs {
		want[id] = struct{}{}
	}
	var out []*types.Triple
	for id, ref := range g.triples {
		_, a := want[ref.subject]
		_, b := want[ref.predicate]
		_, c := want[ref.object]
		if !a && !b && !c {
			continue
		}
		st := g.statements[id]
		if !tenant.Owns(st.UserID, st.WorkspaceID) || !filter.matches(&st, g.provenanceLabels(id)) {
			continue
		}
		out = append(out, g.triple(id))
	}
	sortTriples(out)
	return out, nil
}

// GetStatements returns the triples of the given statements that belong to tenant.
func (s *MemoryStore) GetStatements(ctx context.Context, tenant types.Tenant, statementUUIDs []string) ([]*types.Triple, error) {
	g := s.snapshot()
	var out []*types.Triple
	for _, id := range statementUUIDs {
		st, ok := g.statements[id]
		if !ok || !tenant.Owns(st.UserID, st.WorkspaceID) {
			continue
		}
		out = append(out, g.triple(id))
	}
	return out, nil
}

// EpisodesForStatements returns the distinct provenance episodes of the statements.
func (s *MemoryStore) EpisodesForStatements(ctx context.Context, tenant types.Tenant, statementUUIDs []string) ([]*types.Episode, error) {
	g := s.snapshot()
	seen := set{}
	var out []*types.Episode
	for _, sid := range statementUUIDs {
		for eid := range g.provenance[sid] {
			if _, dup := seen[eid]; dup {
				continue
			}
			seen[eid] = struct{}{}
			ep, ok := g.episodes[eid]
			if !ok || !tenant.Owns(ep.UserID, ep.WorkspaceID) {
				continue
			}
			e := ep
			out = append(out, &e)
		}
	}
	sortEpisodes(out)
	return out, nil
}

// GetSpace returns the space with uuid if it belongs to tenant.
func (s *MemoryStore) GetSpace(ctx context.Context, tenant types.Tenant, id string) (*types.Space, error) {
	sp, ok := s.snapshot().spaces[id]
	if !ok || !tenant.Owns(sp.UserID, sp.WorkspaceID) {
		return nil, ErrSpaceNotFound
	}
	return &sp, nil
}

// ListSpaces returns tenant spaces of kind, or all kinds when kind is empty.
func (s *MemoryStore) ListSpaces(ctx context.Context, tenant types.Tenant, kind types.SpaceKind) ([]*types.Space, error) {
	var out []*types.Space
	for _, sp := range s.snapshot().spaces {
		if !tenant.Owns(sp.UserID, sp.WorkspaceID) || (kind != "" && sp.Kind != kind) {
			continue
		}
		v := sp
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SpaceStatements returns the statements assigned to a space.
func (s *MemoryStore) SpaceStatements(ctx context.Context, tenant types.Tenant, spaceUUID string) ([]*types.Triple, error) {
	g := s.snapshot()
	sp, ok := g.spaces[spaceUUID]
	if !ok || !tenant.Owns(sp.UserID, sp.WorkspaceID) {
		return nil, ErrSpaceNotFound
	}
	var out []*types.Triple
	for id := range g.membership[spaceUUID] {
		if st, ok := g.statements[id]; ok && tenant.Owns(st.UserID, st.WorkspaceID) {
			out = append(out, g.triple(id))
		}
	}
	sortTriples(out)
	return out, nil
}

// UnassignedStatements returns active tenant statements that belong to no space.
func (s *MemoryStore) UnassignedStatements(ctx context.Context, tenant types.Tenant, limit int) ([]*types.Triple, error) {
	g := s.snapshot()
	assigned := set{}
	for _, members := range g.membership {
		for id := range members {
			assigned[id] = struct{}{}
		}
	}
	var out []*types.Triple
	for id, st := range g.statements {
		if _, ok := assigned[id]; ok || !st.Active() || !tenant.Owns(st.UserID, st.WorkspaceID) {
			continue
		}
		out = append(out, g.triple(id))
	}
	sortTriples(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CompactedSessions returns the rollups of a session, oldest window first.
func (s *MemoryStore) CompactedSessions(ctx context.Context, tenant types.Tenant, sessionID string) ([]*types.CompactedSession, error) {
	var out []*types.CompactedSession
	for _, cs := range s.snapshot().compacted {
		if cs.SessionID == sessionID && tenant.Owns(cs.UserID, cs.WorkspaceID) {
			c := cs
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (g *graphState) triple(statementUUID string) *types.Triple {
	ref := g.triples[statementUUID]
	return &types.Triple{
		Statement:    g.statements[statementUUID],
		Subject:      g.entities[ref.subject],
		Predicate:    g.entities[ref.predicate],
		Object:       g.entities[ref.object],
		EpisodeUUIDs: g.provenance[statementUUID].sorted(),
	}
}

func (g *graphState) provenanceLabels(statementUUID string) []string {
	var labels []string
	for eid := range g.provenance[statementUUID] {
		labels = append(labels, g.episodes[eid].LabelIDs...)
	}
	return labels
}

func sortEpisodes(eps []*types.Episode) {
	sort.SliceStable(eps, func(i, j int) bool {
		if !eps[i].ValidAt.Equal(eps[j].ValidAt) {
			return eps[i].ValidAt.Before(eps[j].ValidAt)
		}
		if eps[i].SessionID != eps[j].SessionID {
			return eps[i].SessionID < eps[j].SessionID
		}
		return eps[i].ChunkIndex < eps[j].ChunkIndex
	})
}

func sortTriples(ts []*types.Triple) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Statement.UUID < ts[j].Statement.UUID })
}

// memoryTx mutates a private graphState clone.
type memoryTx struct {
	g    *graphState
	opts Options
}

func (tx *memoryTx) CreateEpisode(ctx context.Context, ep *types.Episode) error {
	if err := ep.Validate(); err != nil {
		return fmt.Errorf("invalid episode: %w", err)
	}
	if _, exists := tx.g.episodes[ep.UUID]; exists {
		return fmt.Errorf("episode %s: %w", ep.UUID, ErrEpisodeExists)
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	tx.g.episodes[ep.UUID] = *ep
	return nil
}

func (tx *memoryTx) UpsertEntity(ctx context.Context, in EntityInput) (*types.Entity, error) {
	if err := in.Tenant.Validate(); err != nil {
		return nil, err
	}
	norm := types.NormalizeName(in.Name)
	if norm == "" {
		return nil, types.ErrEmptyName
	}

	var sameType []types.Entity
	for id, e := range tx.g.entities {
		if e.Type != in.Type || !in.Tenant.Owns(e.UserID, e.WorkspaceID) {
			continue
		}
		if e.NormalizedName == norm {
			if len(e.NameEmbedding) == 0 && len(in.Embedding) > 0 {
				e.NameEmbedding = in.Embedding
				tx.g.entities[id] = e
			}
			return &e, nil
		}
		sameType = append(sameType, e)
	}
	sort.Slice(sameType, func(i, j int) bool { return sameType[i].UUID < sameType[j].UUID })

	if match, _ := bestMerge(in.Embedding, sameType, tx.opts.mergeThreshold()); match != nil {
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
	tx.g.entities[e.UUID] = e
	return &e, nil
}

func (tx *memoryTx) CreateTriple(ctx context.Context, in TripleInput) (*TripleResult, error) {
	if err := checkTriple(in); err != nil {
		return nil, err
	}
	ep := in.Episode
	if _, ok := tx.g.episodes[ep.UUID]; !ok {
		return nil, fmt.Errorf("provenance %s: %w", ep.UUID, ErrEpisodeNotFound)
	}
	tenant := ep.Tenant()

	var active []activeFact
	for id, ref := range tx.g.triples {
		st := tx.g.statements[id]
		if ref.subject != in.Subject.UUID || ref.predicate != in.Predicate.UUID || !st.Active() || !tenant.Owns(st.UserID, st.WorkspaceID) {
			continue
		}
		active = append(active, activeFact{Statement: st, ObjectUUID: ref.object, EpisodeUUIDs: tx.g.provenance[id].sorted()})
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Statement.UUID < active[j].Statement.UUID })

	plan := planConflicts(active, in.Object.UUID, ep.ValidAt)
	if plan.Duplicate != nil {
		id := plan.Duplicate.Statement.UUID
		tx.g.provenance[id][ep.UUID] = struct{}{}
		return &TripleResult{Statement: tx.g.statements[id], Created: false}, nil
	}

	res := &TripleResult{Created: true}
	for _, a := range plan.Invalidate {
		st, err := tx.invalidate(tenant, a.Statement.UUID, ep.UUID, ep.ValidAt)
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
	tx.g.statements[st.UUID] = st
	tx.g.triples[st.UUID] = tripleRef{subject: in.Subject.UUID, predicate: in.Predicate.UUID, object: in.Object.UUID}
	tx.g.provenance[st.UUID] = set{ep.UUID: {}}
	res.Statement = st
	return res, nil
}

func (tx *memoryTx) InvalidateStatement(ctx context.Context, tenant types.Tenant, statementUUID, invalidatingEpisodeUUID string, invalidAt time.Time) (*types.Statement, error) {
	return tx.invalidate(tenant, statementUUID, invalidatingEpisodeUUID, invalidAt)
}

func (tx *memoryTx) invalidate(tenant types.Tenant, statementUUID, episodeUUID string, at time.Time) (*types.Statement, error) {
	st, ok := tx.g.statements[statementUUID]
	if !ok || !tenant.Owns(st.UserID, st.WorkspaceID) {
		return nil, ErrStatementNotFound
	}
	if !st.Active() {
		return nil, fmt.Errorf("statement %s: %w", statementUUID, ErrStatementInvalidated)
	}
	t := at
	st.InvalidAt = &t
	st.InvalidatedBy = episodeUUID
	tx.g.statements[statementUUID] = st
	return &st, nil
}

func (tx *memoryTx) DeleteEpisode(ctx context.Context, tenant types.Tenant, episodeUUID string) (*DeleteResult, error) {
	ep, ok := tx.g.episodes[episodeUUID]
	if !ok || !tenant.Owns(ep.UserID, ep.WorkspaceID) {
		return nil, ErrEpisodeNotFound
	}
	res := &DeleteResult{Deleted: true, EpisodesDeleted: 1}

	touched := set{}
	for sid, eps := range tx.g.provenance {
		if _, ok := eps[episodeUUID]; !ok {
			continue
		}
		delete(eps, episodeUUID)
		if len(eps) > 0 {
			continue
		}
		ref := tx.g.triples[sid]
		touched[ref.subject], touched[ref.predicate], touched[ref.object] = struct{}{}, struct{}{}, struct{}{}
		delete(tx.g.statements, sid)
		delete(tx.g.triples, sid)
		delete(tx.g.provenance, sid)
		for _, members := range tx.g.membership {
			delete(members, sid)
		}
		res.StatementsDeleted++
	}

	if len(touched) > 0 {
		referenced := set{}
		for _, ref := range tx.g.triples {
			referenced[ref.subject], referenced[ref.predicate], referenced[ref.object] = struct{}{}, struct{}{}, struct{}{}
		}
		for id := range touched {
			if _, still := referenced[id]; still {
				continue
			}
			if _, exists := tx.g.entities[id]; exists {
				delete(tx.g.entities, id)
				res.EntitiesDeleted++
			}
		}
	}

	// Invalidations stay, but no longer name an episode that is gone.
	for id, st := range tx.g.statements {
		if st.InvalidatedBy == episodeUUID {
			st.InvalidatedBy = ""
			tx.g.statements[id] = st
		}
	}

	for id, cs := range tx.g.compacted {
		kept := cs.SourceEpisodeUUIDs[:0:0]
		for _, eid := range cs.SourceEpisodeUUIDs {
			if eid != episodeUUID {
				kept = append(kept, eid)
			}
		}
		cs.SourceEpisodeUUIDs = kept
		tx.g.compacted[id] = cs
	}
	delete(tx.g.episodes, episodeUUID)
	return res, nil
}

func (tx *memoryTx) CreateSpace(ctx context.Context, space *types.Space) error {
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
	tx.g.spaces[space.UUID] = *space
	return nil
}

func (tx *memoryTx) AssignStatements(ctx context.Context, tenant types.Tenant, spaceUUID string, statementUUIDs []string) (int, error) {
	sp, ok := tx.g.spaces[spaceUUID]
	if !ok || !tenant.Owns(sp.UserID, sp.WorkspaceID) {
		return 0, ErrSpaceNotFound
	}
	members := tx.g.membership[spaceUUID]
	if members == nil {
		members = set{}
		tx.g.membership[spaceUUID] = members
	}
	n := 0
	for _, id := range statementUUIDs {
		st, ok := tx.g.statements[id]
		if !ok || !tenant.Owns(st.UserID, st.WorkspaceID) {
			return 0, fmt.Errorf("statement %s: %w", id, ErrStatementNotFound)
		}
		if _, already := members[id]; !already {
			members[id] = struct{}{}
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) RemoveStatements(ctx context.Context, tenant types.Tenant, spaceUUID string, statementUUIDs []string) (int, error) {
	sp, ok := tx.g.spaces[spaceUUID]
	if !ok || !tenant.Owns(sp.UserID, sp.WorkspaceID) {
		return 0, ErrSpaceNotFound
	}
	n := 0
	for _, id := range statementUUIDs {
		if _, ok := tx.g.membership[spaceUUID][id]; ok {
			delete(tx.g.membership[spaceUUID], id)
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) UpdateSpaceSummary(ctx context.Context, tenant types.Tenant, spaceUUID string, summary *types.SpaceSummary, at time.Time) error {
	sp, ok := tx.g.spaces[spaceUUID]
	if !ok || !tenant.Owns(sp.UserID, sp.WorkspaceID) {
		return ErrSpaceNotFound
	}
	t := at
	sp.Summary = summary
	sp.LastSynthesizedAt = &t
	sp.UpdatedAt = at
	tx.g.spaces[spaceUUID] = sp
	return nil
}

func (tx *memoryTx) SaveCompactedSession(ctx context.Context, cs *types.CompactedSession) error {
	if err := (types.Tenant{UserID: cs.UserID, WorkspaceID: cs.WorkspaceID}).Validate(); err != nil {
		return err
	}
	if cs.UUID == "" {
		cs.UUID = uuid.NewString()
	}
	if _, exists := tx.g.compacted[cs.UUID]; exists {
		return fmt.Errorf("compacted session %s is read-only", cs.UUID)
	}
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = time.Now().UTC()
	}
	tx.g.compacted[cs.UUID] = *cs
	return nil
}

var _ GraphStore = (*MemoryStore)(nil)
