package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall/pkg/types"
)

// recordingTx records every query and answers from a fixed table.
type recordingTx struct {
	neo4j.ManagedTransaction
	mu      sync.Mutex
	queries []string
	params  []map[string]any
	answers map[string][]*db.Record
}

func (r *recordingTx) Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, cypher)
	r.params = append(r.params, params)
	return &cannedResult{records: r.answers[cypher]}, nil
}

type cannedResult struct {
	neo4j.ResultWithContext
	records []*db.Record
}

func (c *cannedResult) Collect(ctx context.Context) ([]*db.Record, error) {
	return c.records, nil
}

func newRecordingTx() *recordingTx {
	return &recordingTx{answers: map[string][]*db.Record{
		queryEpisodeExists:   {{Keys: []string{"n"}, Values: []any{int64(1)}}},
		queryCreateStatement: {{Keys: []string{"s"}, Values: []any{dbtype.Node{}}}},
	}}
}

func TestNeo4jWritesLockWorkspaceFirst(t *testing.T) {
	ctx := context.Background()
	acme := types.Tenant{UserID: "u1", WorkspaceID: "acme"}
	rec := newRecordingTx()
	tx := &neo4jTx{tx: rec}

	alice, err := tx.UpsertEntity(ctx, EntityInput{Name: "Alice", Type: types.PersonEntity, Tenant: acme})
	require.NoError(t, err)
	require.NotEmpty(t, rec.queries)
	assert.Equal(t, queryLockTenant, rec.queries[0])
	assert.Equal(t, map[string]any{"userId": "u1", "workspaceId": "acme"}, rec.params[0])
	assert.Equal(t, []string{queryLockTenant, queryEntitiesOfType, queryCreateEntity}, rec.queries)

	works, err := tx.UpsertEntity(ctx, EntityInput{Name: "works_at", Type: types.PredicateEntity, Tenant: acme})
	require.NoError(t, err)
	org, err := tx.UpsertEntity(ctx, EntityInput{Name: "Acme", Type: types.OrganizationEntity, Tenant: acme})
	require.NoError(t, err)

	ep := &types.Episode{UUID: "ep-1", UserID: "u1", WorkspaceID: "acme", ValidAt: time.Now().UTC()}
	_, err = tx.CreateTriple(ctx, TripleInput{
		Statement: StatementInput{Fact: "Alice works at Acme"},
		Subject:   alice, Predicate: works, Object: org, Episode: ep,
	})
	require.NoError(t, err)

	// The lock is taken once per workspace per transaction, before any lookup.
	var locks int
	for _, q := range rec.queries {
		if q == queryLockTenant {
			locks++
		}
	}
	assert.Equal(t, 1, locks)
	assert.Less(t, indexOf(rec.queries, queryLockTenant), indexOf(rec.queries, queryActiveFacts))

	other := types.Tenant{UserID: "u1", WorkspaceID: "globex"}
	_, err = tx.UpsertEntity(ctx, EntityInput{Name: "Bob", Type: types.PersonEntity, Tenant: other})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"userId": "u1", "workspaceId": "globex"}, rec.params[len(rec.params)-3])
}

func TestWriteLockConstraintIsCreated(t *testing.T) {
	assert.Contains(t, indexQueries,
		"CREATE CONSTRAINT write_lock_tenant IF NOT EXISTS FOR (n:WriteLock) REQUIRE (n.userId, n.workspaceId) IS UNIQUE")
}

func indexOf(qs []string, q string) int {
	for i, s := range qs {
		if s == q {
			return i
		}
	}
	return -1
}
