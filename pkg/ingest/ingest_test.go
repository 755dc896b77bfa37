package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/recall/pkg/alert"
	"github.com/soundprediction/recall/pkg/checkpoint"
	"github.com/soundprediction/recall/pkg/driver"
	"github.com/soundprediction/recall/pkg/embedder"
	"github.com/soundprediction/recall/pkg/extract"
	"github.com/soundprediction/recall/pkg/quota"
	"github.com/soundprediction/recall/pkg/types"
)

var tenant = types.Tenant{UserID: "u1", WorkspaceID: "w1"}

// scriptedExtractor emits one triple for every keyword found in the content.
type scriptedExtractor struct {
	mu       sync.Mutex
	requests []extract.Request
	triples  map[string]extract.ExtractedTriple
	err      error
}

func newScriptedExtractor() *scriptedExtractor {
	return &scriptedExtractor{triples: map[string]extract.ExtractedTriple{
		"Acme":   {Subject: "Alice", SubjectType: "Person", Predicate: "works_at", Object: "Acme", ObjectType: "Organization", Fact: "Alice works at Acme", Aspect: "Relationship"},
		"Globex": {Subject: "Alice", SubjectType: "Person", Predicate: "works_at", Object: "Globex", ObjectType: "Organization", Fact: "Alice works at Globex", Aspect: "Relationship"},
		"Berlin": {Subject: "Office", SubjectType: "Place", Predicate: "located_in", Object: "Berlin", ObjectType: "Place", Fact: "The office is in Berlin", Aspect: "Knowledge"},
	}}
}

func (s *scriptedExtractor) Extract(ctx context.Context, req extract.Request) ([]extract.ExtractedTriple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	var out []extract.ExtractedTriple
	for _, kw := range []string{"Acme", "Globex", "Berlin"} {
		if strings.Contains(req.Content, kw) {
			out = append(out, s.triples[kw])
		}
	}
	return out, nil
}

func (s *scriptedExtractor) calls() []extract.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]extract.Request(nil), s.requests...)
}

func (s *scriptedExtractor) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// flakyStore fails the next n write transactions.
type flakyStore struct {
	driver.GraphStore
	mu    sync.Mutex
	fails int
}

func (f *flakyStore) ExecuteWrite(ctx context.Context, fn func(tx driver.GraphTx) error) error {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.GraphStore.ExecuteWrite(ctx, fn)
}

type fixture struct {
	queue     *SQLiteQueue
	store     *driver.MemoryStore
	extractor *scriptedExtractor
	alerts    *alert.Recorder
	orch      *Orchestrator
}

func newFixture(t *testing.T, configure func(*Deps)) *fixture {
	t.Helper()
	q, err := OpenSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	f := &fixture{
		queue:     q,
		store:     driver.NewMemoryStore(driver.Options{}, nil),
		extractor: newScriptedExtractor(),
		alerts:    &alert.Recorder{},
	}
	deps := Deps{
		Queue:     q,
		Store:     f.store,
		Extractor: f.extractor,
		Embedder:  embedder.NewHashingEmbedder(256),
		Alerter:   f.alerts,
	}
	if configure != nil {
		configure(&deps)
	}
	f.orch, err = New(deps, Options{MaxChunkChars: 30, Workers: 2, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	return f
}

func (f *fixture) ingest(t *testing.T, in Input) *Item {
	t.Helper()
	ctx := context.Background()
	it, err := f.orch.Enqueue(ctx, tenant, in, "")
	require.NoError(t, err)
	_, err = f.orch.RunOnce(ctx)
	require.NoError(t, err)
	done, err := f.orch.Get(ctx, tenant, it.ID)
	require.NoError(t, err)
	return done
}

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func document(body string, at time.Time) Input {
	return Input{EpisodeBody: body, Source: "notes", ReferenceTime: at, Type: types.DocumentEpisodeType, SessionID: "doc-1"}
}

func TestSQLiteQueue(t *testing.T) {
	ctx := context.Background()
	q, err := OpenSQLiteQueue(filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	defer q.Close()

	mk := func(id, session string, priority int) *Item {
		return &Item{ID: id, SessionID: session, Priority: priority, UserID: "u", WorkspaceID: "w",
			Data: Input{EpisodeBody: id, Type: types.ConversationEpisodeType}}
	}
	for _, it := range []*Item{mk("a", "s1", 0), mk("b", "s2", 5), mk("c", "s1", 0)} {
		require.NoError(t, q.Enqueue(ctx, it))
		assert.Equal(t, StatusPending, it.Status)
	}

	pending, err := q.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"b", "a", "c"}, ids(pending))

	it, err := q.MarkProcessing(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, it.Status)
	assert.Equal(t, 1, it.Attempts)

	_, err = q.MarkProcessing(ctx, "a")
	assert.ErrorIs(t, err, ErrNotPending)
	assert.ErrorIs(t, q.Enqueue(ctx, mk("a", "s1", 0)), ErrItemActive)
	_, err = q.Requeue(ctx, "a")
	assert.ErrorIs(t, err, ErrItemActive)

	require.NoError(t, q.Fail(ctx, "a", "boom"))
	failed, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)

	requeued, err := q.Requeue(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, requeued.Status)
	assert.Empty(t, requeued.Error)
	assert.Equal(t, 1, requeued.Attempts)

	require.NoError(t, q.Complete(ctx, "b", &Output{Version: 1, EpisodeUUIDs: []string{"e1"}}))
	_, err = q.Requeue(ctx, "b")
	assert.ErrorIs(t, err, ErrNotRetryable)
	done, err := q.Get(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, done.Output)
	assert.Equal(t, []string{"e1"}, done.Output.EpisodeUUIDs)

	_, err = q.MarkProcessing(ctx, "c")
	require.NoError(t, err)
	n, err := q.ResetProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func ids(items []*Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestOrderBatchKeepsSessionArrivalOrder(t *testing.T) {
	items := []*Item{
		{ID: "late-high", SessionID: "s1", WorkspaceID: "w", Priority: 9, seq: 3},
		{ID: "other", SessionID: "s2", WorkspaceID: "w", Priority: 5, seq: 2},
		{ID: "early-low", SessionID: "s1", WorkspaceID: "w", Priority: 0, seq: 1},
	}
	assert.Equal(t, []string{"early-low", "late-high", "other"}, ids(orderBatch(items)))
}

func TestPartitionIsStablePerSession(t *testing.T) {
	a := &Item{WorkspaceID: "w", SessionID: "s"}
	b := &Item{WorkspaceID: "w", SessionID: "s"}
	for n := 1; n <= 8; n++ {
		p := partitionOf(a, n)
		assert.Equal(t, p, partitionOf(b, n))
		assert.True(t, p >= 0 && p < n)
	}
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		tenant types.Tenant
		in     Input
		field  string
	}{
		{"empty body", tenant, Input{EpisodeBody: "  ", Type: types.ConversationEpisodeType}, "episodeBody"},
		{"document without session", tenant, Input{EpisodeBody: "x", Type: types.DocumentEpisodeType}, "sessionId"},
		{"unknown type", tenant, Input{EpisodeBody: "x", Type: "VIDEO"}, "type"},
		{"missing tenant", types.Tenant{UserID: "u"}, Input{EpisodeBody: "x"}, "tenant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Enqueue(ctx, tt.tenant, tt.in, "")
			require.ErrorIs(t, err, types.ErrValidation)
			var ve *types.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestEnqueueRejectsWithoutCredits(t *testing.T) {
	ledger, err := quota.Open("", 0, nil)
	require.NoError(t, err)
	defer ledger.Close()

	f := newFixture(t, func(d *Deps) { d.Quota = ledger })
	_, err = f.orch.Enqueue(context.Background(), tenant, Input{EpisodeBody: "hello"}, "")
	assert.ErrorIs(t, err, types.ErrQuota)

	pending, err := f.queue.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConsumesOneCreditPerExtractedChunk(t *testing.T) {
	ledger, err := quota.Open("", 10, nil)
	require.NoError(t, err)
	defer ledger.Close()

	f := newFixture(t, func(d *Deps) { d.Quota = ledger })
	it := f.ingest(t, document("Alice works at Acme.\n\nThe office is in Berlin.", t0))
	require.Equal(t, StatusCompleted, it.Status, it.Error)

	balance, err := ledger.Balance(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)
}

func TestFailsWhenBalanceIsBelowChunkCount(t *testing.T) {
	ledger, err := quota.Open("", 1, nil)
	require.NoError(t, err)
	defer ledger.Close()

	f := newFixture(t, func(d *Deps) { d.Quota = ledger })
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		in := document("Alice works at Acme.\n\nThe office is in Berlin.", t0.Add(time.Duration(i)*time.Hour))
		in.SessionID = fmt.Sprintf("doc-%d", i)
		it := f.ingest(t, in)
		require.Equal(t, StatusFailed, it.Status)
		assert.Contains(t, it.Error, "required 2, available 1")
	}
	assert.Empty(t, f.extractor.calls())

	balance, err := ledger.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance)

	eps, err := f.store.ListEpisodes(ctx, tenant, driver.EpisodeFilter{})
	require.NoError(t, err)
	assert.Empty(t, eps)
}

func TestRefundsCreditsWhenItemFails(t *testing.T) {
	tests := []struct {
		name       string
		extractErr error
		writeFails int
	}{
		{name: "extraction error", extractErr: types.NewExtractionError("garbage", errors.New("no triples"))},
		{name: "graph write error", writeFails: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, err := quota.Open("", 5, nil)
			require.NoError(t, err)
			defer ledger.Close()

			f := newFixture(t, func(d *Deps) {
				d.Quota = ledger
				if tt.writeFails > 0 {
					d.Store = &flakyStore{GraphStore: d.Store, fails: tt.writeFails}
				}
			})
			f.extractor.setErr(tt.extractErr)
			it := f.ingest(t, document("Alice works at Acme.\n\nThe office is in Berlin.", t0))
			require.Equal(t, StatusFailed, it.Status)

			balance, err := ledger.Balance(context.Background(), tenant)
			require.NoError(t, err)
			assert.Equal(t, int64(5), balance)
		})
	}
}

func TestVersionedDocument(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	v1 := f.ingest(t, document("Alice works at Acme.\n\nThe office is in Berlin.", t0))
	require.Equal(t, StatusCompleted, v1.Status, v1.Error)
	require.NotNil(t, v1.Output)
	assert.Equal(t, 1, v1.Output.Version)
	assert.Len(t, v1.Output.EpisodeUUIDs, 2)
	assert.Equal(t, []int{0, 1}, v1.Output.ChangedChunkIndices)
	assert.Equal(t, 2, v1.Output.StatementsCreated)
	assert.Len(t, f.extractor.calls(), 2)

	same := f.ingest(t, document("Alice works at Acme.\n\nThe office is in Berlin.", t0.Add(time.Hour)))
	require.Equal(t, StatusCompleted, same.Status)
	assert.True(t, same.Output.Noop)
	assert.Equal(t, 1, same.Output.Version)
	assert.Len(t, f.extractor.calls(), 2)

	v2 := f.ingest(t, document("Alice works at Globex.\n\nThe office is in Berlin.", t0.Add(2*time.Hour)))
	require.Equal(t, StatusCompleted, v2.Status, v2.Error)
	assert.False(t, v2.Output.Noop)
	assert.Equal(t, 2, v2.Output.Version)
	assert.Equal(t, []int{0}, v2.Output.ChangedChunkIndices)
	assert.InDelta(t, 50.0, v2.Output.ChangePercentage, 0.001)
	assert.Equal(t, 1, v2.Output.StatementsCreated)
	assert.Equal(t, 1, v2.Output.StatementsInvalidated)

	calls := f.extractor.calls()
	require.Len(t, calls, 3)
	last := calls[2]
	assert.True(t, last.Changed)
	assert.Contains(t, last.Content, "Globex")
	assert.NotContains(t, last.Content, "Acme")
	assert.NotContains(t, last.Content, "Berlin")

	eps, err := f.store.SessionEpisodes(ctx, tenant, "doc-1", 2)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, 0, eps[0].ChunkIndex)
	assert.Equal(t, 1, eps[1].ChunkIndex)
	assert.NotEmpty(t, eps[0].ContentHash)
	assert.Len(t, eps[0].ChunkHashes, 2)
	assert.Equal(t, "doc-1", eps[0].PreviousVersionSessionID)

	formatting := f.ingest(t, document("Alice works at   Globex.\n\nThe office is in Berlin.", t0.Add(3*time.Hour)))
	require.Equal(t, StatusCompleted, formatting.Status)
	assert.True(t, formatting.Output.Noop)
	assert.Equal(t, 2, formatting.Output.Version)
	assert.Len(t, f.extractor.calls(), 3)
}

func TestHTMLDocumentIsNormalized(t *testing.T) {
	f := newFixture(t, nil)
	it := f.ingest(t, document("<html><body><p>Alice works at Acme.</p><script>var x = 1;</script></body></html>", t0))
	require.Equal(t, StatusCompleted, it.Status, it.Error)

	eps, err := f.store.SessionEpisodes(context.Background(), tenant, "doc-1", 1)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "Alice works at Acme.", eps[0].Content)
	assert.Contains(t, eps[0].OriginalContent, "<p>")
}

func TestExtractionFailureThenRequeue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.extractor.setErr(types.NewExtractionError("not json at all", errors.New("no triples")))
	it := f.ingest(t, Input{EpisodeBody: "Alice works at Acme.", Type: types.ConversationEpisodeType, SessionID: "chat"})
	assert.Equal(t, StatusFailed, it.Status)
	assert.Contains(t, it.Error, "not json at all")

	eps, err := f.store.ListEpisodes(ctx, tenant, driver.EpisodeFilter{})
	require.NoError(t, err)
	assert.Empty(t, eps)

	f.extractor.setErr(nil)
	requeued, err := f.orch.Requeue(ctx, tenant, it.ID)
	require.NoError(t, err)
	assert.Equal(t, it.ID, requeued.ID)
	assert.Equal(t, StatusPending, requeued.Status)

	_, err = f.orch.RunOnce(ctx)
	require.NoError(t, err)
	done, err := f.orch.Get(ctx, tenant, it.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 2, done.Attempts)
	assert.Equal(t, 1, done.Output.StatementsCreated)
}

func TestGraphWriteFailureRollsBackAndAlerts(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Store = &flakyStore{GraphStore: d.Store, fails: 3}
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		it := f.ingest(t, Input{EpisodeBody: "Alice works at Acme.", SessionID: "chat"})
		require.Equal(t, StatusFailed, it.Status)
		assert.Contains(t, it.Error, "graph write")
	}
	assert.Len(t, f.alerts.Subjects(), 1)

	eps, err := f.store.ListEpisodes(ctx, tenant, driver.EpisodeFilter{})
	require.NoError(t, err)
	assert.Empty(t, eps)
}

func TestRetryReusesCheckpointedExtraction(t *testing.T) {
	cps, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)
	f := newFixture(t, func(d *Deps) {
		d.Store = &flakyStore{GraphStore: d.Store, fails: 1}
		d.Checkpoints = cps
	})
	ctx := context.Background()

	it := f.ingest(t, document("Alice works at Acme.", t0))
	require.Equal(t, StatusFailed, it.Status)
	require.Len(t, f.extractor.calls(), 1)

	_, err = f.orch.Requeue(ctx, tenant, it.ID)
	require.NoError(t, err)
	_, err = f.orch.RunOnce(ctx)
	require.NoError(t, err)

	done, err := f.orch.Get(ctx, tenant, it.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status, done.Error)
	assert.Len(t, f.extractor.calls(), 1)

	cp, err := cps.Load(ctx, it.ID)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestTenantScopedItems(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	it, err := f.orch.Enqueue(ctx, tenant, Input{EpisodeBody: "hi"}, "item-1")
	require.NoError(t, err)

	other := types.Tenant{UserID: "u2", WorkspaceID: "w2"}
	_, err = f.orch.Get(ctx, other, it.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = f.orch.Enqueue(ctx, other, Input{EpisodeBody: "hi"}, "item-1")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestBackgroundWorkersPublishEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.orch.Start(ctx))
	defer f.orch.Stop()

	// Subscribe before enqueueing so no event is missed.
	id := "bg-1"
	events, unsubscribe := f.orch.Broker().Subscribe(id)
	defer unsubscribe()

	_, err := f.orch.Enqueue(ctx, tenant, Input{EpisodeBody: "Alice works at Acme.", SessionID: "chat"}, id)
	require.NoError(t, err)

	var seen []Status
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			seen = append(seen, ev.Status)
			if ev.Status.Terminal() {
				assert.Equal(t, StatusCompleted, ev.Status)
				assert.Contains(t, seen, StatusProcessing)
				require.NotNil(t, ev.Output)
				assert.Equal(t, 1, ev.Output.StatementsCreated)
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for completion, saw %v", seen)
		}
	}
}

func TestSessionWritesAreSerialized(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.orch.Start(ctx))
	defer f.orch.Stop()

	var last string
	for i, body := range []string{"Alice works at Acme.", "Alice works at Globex."} {
		in := Input{EpisodeBody: body, SessionID: "chat", ReferenceTime: t0.Add(time.Duration(i) * time.Hour)}
		it, err := f.orch.Enqueue(ctx, tenant, in, "")
		require.NoError(t, err)
		last = it.ID
	}

	require.Eventually(t, func() bool {
		it, err := f.orch.Get(ctx, tenant, last)
		return err == nil && it.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	it, err := f.orch.Get(ctx, tenant, last)
	require.NoError(t, err)
	assert.Equal(t, 1, it.Output.StatementsInvalidated)
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker(nil)
	ch, unsubscribe := b.Subscribe("x")
	assert.Equal(t, 1, b.Subscribers("x"))
	b.Publish(Event{QueueItemID: "x", Status: StatusProcessing})
	ev := <-ch
	assert.Equal(t, StatusProcessing, ev.Status)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, b.Subscribers("x"))
	_, open := <-ch
	assert.False(t, open)
	b.Publish(Event{QueueItemID: "x", Status: StatusCompleted})
}

func TestNormalizeDocument(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Just text.\n\nSecond.", "Just text.\n\nSecond."},
		{"paragraphs", "<p>One</p><p>Two</p>", "One\n\nTwo"},
		{"scripts dropped", "<div>Keep<script>drop()</script></div>", "Keep"},
		{"list items", "<ul><li>a</li><li>b</li></ul>", "- a\n- b"},
		{"line breaks", "<p>x<br>y</p>", "x\ny"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDocument(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
