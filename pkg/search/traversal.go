package search

import (
	"context"

	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/types"
	"github.com/soundprediction/recall/pkg/utils"
)

// candidate is a statement reached by seeding or traversal.
type candidate struct {
	triple     *types.Triple
	similarity float64
	depth      int
}

// traversal expands seeds breadth-first. Adjacency lists are memoized so
// relaxation rounds do not refetch them.
type traversal struct {
	engine   *Engine
	tenant   types.Tenant
	opts     resolved
	query    []float32
	adjacent map[string][]*types.Triple
}

func (t *traversal) collect(ctx context.Context, seedEntities []driver.ScoredEntity, seedStatements []driver.ScoredStatement) (map[string]*candidate, error) {
	out := make(map[string]*candidate)
	for _, s := range seedStatements {
		out[s.Triple.Statement.UUID] = &candidate{triple: s.Triple, similarity: s.Score, depth: 0}
	}

	// Entity seeds and the endpoints of statement seeds start the walk.
	visited := make(map[string]bool)
	var frontier []string
	enqueue := func(e types.Entity) {
		if e.UUID == "" || e.Type == types.PredicateEntity || visited[e.UUID] {
			return
		}
		visited[e.UUID] = true
		frontier = append(frontier, e.UUID)
	}
	for _, s := range seedEntities {
		enqueue(s.Entity)
	}
	for _, s := range seedStatements {
		enqueue(s.Triple.Subject)
		enqueue(s.Triple.Object)
	}

	for depth := 1; depth <= t.opts.depth && len(frontier) > 0; depth++ {
		triples, err := t.neighbours(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, tr := range triples {
			id := tr.Statement.UUID
			if c, ok := out[id]; ok {
				if depth < c.depth {
					c.depth = depth
				}
			} else {
				out[id] = &candidate{
					triple:     tr,
					similarity: utils.CosineSimilarity(t.query, tr.Statement.FactEmbedding),
					depth:      depth,
				}
			}
			for _, ent := range []types.Entity{tr.Subject, tr.Object} {
				if !visited[ent.UUID] {
					visited[ent.UUID] = true
					next = append(next, ent.UUID)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

// neighbours returns the tenant-owned statements adjacent to entityUUIDs.
func (t *traversal) neighbours(ctx context.Context, entityUUIDs []string) ([]*types.Triple, error) {
	var missing []string
	for _, id := range entityUUIDs {
		if _, ok := t.adjacent[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		triples, err := t.engine.store.StatementsForEntities(ctx, t.tenant, missing, t.opts.filter)
		if err != nil {
			return nil, err
		}
		for _, id := range missing {
			t.adjacent[id] = nil
		}
		for _, tr := range triples {
			if !t.engine.owned(t.tenant, tr) {
				continue
			}
			for _, ent := range []string{tr.Subject.UUID, tr.Object.UUID} {
				if contains(missing, ent) {
					t.adjacent[ent] = append(t.adjacent[ent], tr)
				}
			}
		}
	}

	seen := make(map[string]bool)
	var out []*types.Triple
	for _, id := range entityUUIDs {
		for _, tr := range t.adjacent[id] {
			if !seen[tr.Statement.UUID] {
				seen[tr.Statement.UUID] = true
				out = append(out, tr)
			}
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
